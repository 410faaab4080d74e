package schemavalidator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xeipuuv/gojsonschema"
)

const rootSchemaCID = "QmRootSchema"

const rootSchemaJSON = `{
	"type": "object",
	"required": ["name", "detail_ref"],
	"properties": {
		"name": {"type": "string"},
		"detail_ref": {"type": "string", "x-linkedSchema": "QmDetailSchema"}
	}
}`

const detailSchemaJSON = `{
	"type": "object",
	"required": ["amount"],
	"properties": {
		"amount": {"type": "number"}
	}
}`

// plainRootSchemaJSON carries no linked-document extension, for tests
// that only exercise structural validation.
const plainRootSchemaJSON = `{
	"type": "object",
	"required": ["name", "detail_ref"],
	"properties": {
		"name": {"type": "string"},
		"detail_ref": {"type": "string"}
	}
}`

type fakeSource struct {
	schemas map[string]string
}

func (f *fakeSource) Get(ctx context.Context, cid string) (*gojsonschema.Schema, error) {
	raw, ok := f.schemas[cid]
	if !ok {
		return nil, errors.New("no such schema: " + cid)
	}
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
}

func (f *fakeSource) Raw(ctx context.Context, cid string) ([]byte, error) {
	raw, ok := f.schemas[cid]
	if !ok {
		return nil, errors.New("no such schema: " + cid)
	}
	return []byte(raw), nil
}

func mustSchema(t *testing.T, raw string) *gojsonschema.Schema {
	t.Helper()
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		t.Fatalf("compiling schema: %v", err)
	}
	return s
}

func TestValidate_StructuralPass(t *testing.T) {
	src := &fakeSource{schemas: map[string]string{rootSchemaCID: plainRootSchemaJSON}}
	v := New(src)
	root := mustSchema(t, plainRootSchemaJSON)

	value := map[string]interface{}{"name": "x", "detail_ref": "detail.json"}
	res, err := v.Validate(context.Background(), value, rootSchemaCID, root, t.TempDir())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid, got errors: %v", res.Errors)
	}
}

func TestValidate_StructuralFailure(t *testing.T) {
	src := &fakeSource{schemas: map[string]string{rootSchemaCID: plainRootSchemaJSON}}
	v := New(src)
	root := mustSchema(t, plainRootSchemaJSON)

	value := map[string]interface{}{"name": "x"}
	res, err := v.Validate(context.Background(), value, rootSchemaCID, root, t.TempDir())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Valid {
		t.Fatal("expected invalid due to missing required field")
	}
	if len(res.Errors) == 0 {
		t.Fatal("expected at least one FieldError")
	}
}

func TestValidate_LinkedDocumentResolved(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "detail.json"), []byte(`{"amount": 5}`), 0o644); err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{schemas: map[string]string{
		rootSchemaCID:   rootSchemaJSON,
		"QmDetailSchema": detailSchemaJSON,
	}}
	v := New(src)
	root := mustSchema(t, rootSchemaJSON)

	value := map[string]interface{}{"name": "x", "detail_ref": "detail.json"}

	res, err := v.Validate(context.Background(), value, rootSchemaCID, root, dir)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid, got errors: %v", res.Errors)
	}
}

func TestValidate_LinkedDocumentViolation(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "detail.json"), []byte(`{"amount": "not-a-number"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{schemas: map[string]string{
		rootSchemaCID:   rootSchemaJSON,
		"QmDetailSchema": detailSchemaJSON,
	}}
	v := New(src)
	root := mustSchema(t, rootSchemaJSON)

	value := map[string]interface{}{"name": "x", "detail_ref": "detail.json"}

	res, err := v.Validate(context.Background(), value, rootSchemaCID, root, dir)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Valid {
		t.Fatal("expected invalid due to linked document type violation")
	}
	found := false
	for _, e := range res.Errors {
		if e.Pointer == "/detail_ref/amount" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error pointer prefixed by /detail_ref, got: %v", res.Errors)
	}
}

func TestValidate_LinkedSchemaUnavailable(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "detail.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	src := &fakeSource{schemas: map[string]string{rootSchemaCID: rootSchemaJSON}}
	v := New(src)
	root := mustSchema(t, rootSchemaJSON)

	value := map[string]interface{}{"name": "x", "detail_ref": "detail.json"}

	_, err := v.Validate(context.Background(), value, rootSchemaCID, root, dir)
	if !errors.Is(err, ErrSchemaUnavailable) {
		t.Fatalf("expected ErrSchemaUnavailable, got %v", err)
	}
}

func TestValidate_RootSchemaUnavailable(t *testing.T) {
	src := &fakeSource{}
	v := New(src)
	root := mustSchema(t, plainRootSchemaJSON)

	value := map[string]interface{}{"name": "x", "detail_ref": "detail.json"}

	_, err := v.Validate(context.Background(), value, "QmMissingRoot", root, t.TempDir())
	if !errors.Is(err, ErrSchemaUnavailable) {
		t.Fatalf("expected ErrSchemaUnavailable, got %v", err)
	}
}

func TestValidate_CycleDetected(t *testing.T) {
	dir := t.TempDir()
	selfPath := filepath.Join(dir, "self.json")
	if err := os.WriteFile(selfPath, []byte(`{"amount": 1, "self_ref": "self.json"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	const cyclicSchemaCID = "QmSelf"
	cyclicSchema := `{
		"type": "object",
		"properties": {
			"amount": {"type": "number"},
			"self_ref": {"type": "string", "x-linkedSchema": "QmSelf"}
		}
	}`
	src := &fakeSource{schemas: map[string]string{cyclicSchemaCID: cyclicSchema}}
	v := New(src)

	// Seed the visited set as if self.json were already on the
	// resolution stack, simulating an actual cycle one level down.
	visited := map[string]struct{}{selfPath: {}}
	schema := mustSchema(t, cyclicSchema)
	_, err := v.validate(context.Background(), map[string]interface{}{
		"amount":   1.0,
		"self_ref": "self.json",
	}, cyclicSchemaCID, schema, dir, visited)

	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestDiscoverLinkedSchemas_SortedAndFiltered(t *testing.T) {
	schemaJSON := `{
		"type": "object",
		"properties": {
			"zeta": {"type": "string", "x-linkedSchema": "QmZeta"},
			"alpha": {"type": "string", "x-linkedSchema": "QmAlpha"},
			"plain": {"type": "string"}
		}
	}`
	src := &fakeSource{schemas: map[string]string{"QmMulti": schemaJSON}}
	v := New(src)

	links, err := v.discoverLinkedSchemas(context.Background(), "QmMulti")
	if err != nil {
		t.Fatalf("discoverLinkedSchemas: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 linked schemas, got %d: %v", len(links), links)
	}
	if links[0].Property != "alpha" || links[1].Property != "zeta" {
		t.Errorf("expected sorted property order alpha, zeta; got %v", links)
	}
}
