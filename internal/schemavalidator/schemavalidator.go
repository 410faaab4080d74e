// Package schemavalidator validates JSON values against parsed JSON
// Schemas. A schema may attach an "x-linkedSchema" extension to a
// property node to declare that the property's value is the path of a
// local file that must itself validate against a second schema; the
// validator discovers these extensions itself from the schema's own
// raw content, resolved through the schema cache.
package schemavalidator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/xeipuuv/gojsonschema"

	"github.com/elephant-xyz/submit-files/pkg/canonical"
)

// linkedSchemaKeyword is the schema-extension keyword a property node
// carries to declare that its value is the path of a local document
// which must itself satisfy the named schema.
const linkedSchemaKeyword = "x-linkedSchema"

// ErrSchemaUnavailable is surfaced when a schema (the raw bytes of the
// schema being validated against, or a linked schema) cannot be resolved
// through the SchemaSource backing the validator.
var ErrSchemaUnavailable = errors.New("schema unavailable")

// ErrCycle is returned when a chain of linked-document references
// revisits a path already on the current resolution stack.
var ErrCycle = errors.New("cyclic document reference")

// FieldError is one structural or linked-document validation failure.
type FieldError struct {
	Pointer string // JSON pointer into the value being validated
	Message string
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Pointer, e.Message)
}

// Result is the outcome of Validate.
type Result struct {
	Valid  bool
	Errors []FieldError
}

// SchemaSource resolves a schema CID to a compiled schema and to the raw
// bytes the validator parses schema extensions from. Satisfied by
// *schemacache.Cache.
type SchemaSource interface {
	Get(ctx context.Context, schemaCID string) (*gojsonschema.Schema, error)
	Raw(ctx context.Context, schemaCID string) ([]byte, error)
}

// LinkedSchema names a property whose string value is a local file path
// that must validate against the schema at SchemaCID. Discovered from a
// schema's own extension keyword, never supplied by a caller.
type LinkedSchema struct {
	Property  string
	SchemaCID string
}

// Validator validates JSON values against schemas obtained from a
// SchemaSource, following linked-document extensions.
type Validator struct {
	schemas SchemaSource
}

// New returns a Validator backed by schemas.
func New(schemas SchemaSource) *Validator {
	return &Validator{schemas: schemas}
}

// Validate checks value (already decoded, numbers as json.Number via
// canonical.DecodeNumberPreserving) against the schema named by
// schemaCID, discovering any linked-document extensions from the
// schema's own raw content. basePath is the directory linked file paths
// are resolved relative to.
func (v *Validator) Validate(ctx context.Context, value interface{}, schemaCID string, schema *gojsonschema.Schema, basePath string) (Result, error) {
	return v.validate(ctx, value, schemaCID, schema, basePath, map[string]struct{}{})
}

func (v *Validator) validate(ctx context.Context, value interface{}, schemaCID string, schema *gojsonschema.Schema, basePath string, visited map[string]struct{}) (Result, error) {
	res, err := schema.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return Result{}, fmt.Errorf("schemavalidator: %w", err)
	}

	var errs []FieldError
	for _, re := range res.Errors() {
		errs = append(errs, FieldError{
			Pointer: "/" + re.Field(),
			Message: re.Description(),
		})
	}

	links, err := v.discoverLinkedSchemas(ctx, schemaCID)
	if err != nil {
		return Result{}, err
	}

	obj, isObj := value.(map[string]interface{})
	for _, link := range links {
		if !isObj {
			continue
		}
		raw, ok := obj[link.Property]
		if !ok {
			continue
		}
		rel, ok := raw.(string)
		if !ok {
			errs = append(errs, FieldError{
				Pointer: "/" + link.Property,
				Message: "linked document reference must be a string path",
			})
			continue
		}

		path := rel
		if !os.IsPathSeparator(rel[0]) {
			path = basePath + string(os.PathSeparator) + rel
		}
		if _, dup := visited[path]; dup {
			return Result{}, fmt.Errorf("%w: %s", ErrCycle, path)
		}

		childErrs, err := v.resolveLinked(ctx, path, link.SchemaCID, visited)
		if err != nil {
			return Result{}, err
		}
		for _, ce := range childErrs {
			errs = append(errs, FieldError{
				Pointer: "/" + link.Property + ce.Pointer,
				Message: ce.Message,
			})
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}, nil
}

func (v *Validator) resolveLinked(ctx context.Context, path, schemaCID string, visited map[string]struct{}) ([]FieldError, error) {
	next := make(map[string]struct{}, len(visited)+1)
	for k := range visited {
		next[k] = struct{}{}
	}
	next[path] = struct{}{}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schemavalidator: reading linked document %s: %w", path, err)
	}
	decoded, err := canonical.DecodeNumberPreserving(raw)
	if err != nil {
		return nil, fmt.Errorf("schemavalidator: parsing linked document %s: %w", path, err)
	}

	schema, err := v.schemas.Get(ctx, schemaCID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}

	res, err := v.validate(ctx, decoded, schemaCID, schema, dirOf(path), next)
	if err != nil {
		return nil, err
	}
	return res.Errors, nil
}

// linkedSchemaNode is the shape of one entry under a schema's
// "properties" object; only the extension keyword is relevant here.
type linkedSchemaNode struct {
	LinkedSchema string `json:"x-linkedSchema"`
}

// discoverLinkedSchemas parses the raw schema named by schemaCID and
// returns the LinkedSchema extensions attached to its property nodes, in
// a deterministic (name-sorted) order.
func (v *Validator) discoverLinkedSchemas(ctx context.Context, schemaCID string) ([]LinkedSchema, error) {
	raw, err := v.schemas.Raw(ctx, schemaCID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
	}

	var doc struct {
		Properties map[string]linkedSchemaNode `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schemavalidator: parsing %s extension from schema %s: %w", linkedSchemaKeyword, schemaCID, err)
	}

	names := make([]string, 0, len(doc.Properties))
	for name, node := range doc.Properties {
		if node.LinkedSchema != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	links := make([]LinkedSchema, 0, len(names))
	for _, name := range names {
		links = append(links, LinkedSchema{Property: name, SchemaCID: doc.Properties[name].LinkedSchema})
	}
	return links, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if os.IsPathSeparator(path[i]) {
			return path[:i]
		}
	}
	return "."
}
