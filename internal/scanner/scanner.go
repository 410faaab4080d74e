// Package scanner lazily enumerates (property-id, group-id, file-path)
// triples from an input tree laid out as
// <root>/<property_id>/<group_id>.json, validating the tree's layout
// along the way.
package scanner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/elephant-xyz/submit-files/internal/model"
)

// errInputStructure is returned by ValidateStructure, Count, and Scan
// when the root directory itself cannot be walked, and by
// ValidateStructure when the tree holds no valid entry. The pipeline
// engine wraps any error from these calls in pipeline.ErrInputStructure.
var errInputStructure = errors.New("input structure is invalid")

// ErrInputStructure is the exported form of the sentinel above.
var ErrInputStructure = errInputStructure

var (
	cidQmRe      = regexp.MustCompile(`^Qm[A-Za-z0-9]{44}$`)
	cidBaseRe    = regexp.MustCompile(`^b[a-z2-7]+$`)
	cidGenericRe = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// IsCID reports whether s passes the CID syntax predicate spec.md §4.3
// defines: a 46-character "Qm..." base58 string, a "b..." base32 string
// longer than 20 characters, or any alphanumeric string of length >= 20.
func IsCID(s string) bool {
	if len(s) == 46 && cidQmRe.MatchString(s) {
		return true
	}
	if len(s) > 20 && strings.HasPrefix(s, "b") && cidBaseRe.MatchString(s) {
		return true
	}
	if len(s) >= 20 && cidGenericRe.MatchString(s) {
		return true
	}
	return false
}

// Scanner enumerates FileEntry batches from an input root.
type Scanner struct {
	root string
}

// New returns a Scanner rooted at root.
func New(root string) *Scanner {
	return &Scanner{root: root}
}

// ValidateStructure checks that root contains at least one CID-named
// subdirectory containing at least one CID-named *.json file. Non-CID
// entries are silently ignored; this is not itself an error.
func (s *Scanner) ValidateStructure() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("%w: %v", errInputStructure, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", errInputStructure, s.root)
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("%w: %v", errInputStructure, err)
	}

	for _, e := range entries {
		if !e.IsDir() || !IsCID(e.Name()) {
			continue
		}
		propDir := filepath.Join(s.root, e.Name())
		files, err := os.ReadDir(propDir)
		if err != nil {
			// Unreadable subdirectory: skip it for structure purposes;
			// walk skips it too, and the cause is not reported.
			continue
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			base := strings.TrimSuffix(f.Name(), ".json")
			if IsCID(base) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: no property subdirectory with a valid data file was found under %s", errInputStructure, s.root)
}

// Count returns the exact number of entries Scan would produce.
func (s *Scanner) Count() (int, error) {
	n := 0
	err := s.walk(func(model.FileEntry) error {
		n++
		return nil
	})
	return n, err
}

// Scan streams FileEntry batches of size batchSize, in depth-first
// traversal order, over a channel. The returned error channel carries at
// most one error (a fatal walk failure); both channels are closed when
// the scan completes.
func (s *Scanner) Scan(batchSize int) (<-chan []model.FileEntry, <-chan error) {
	if batchSize < 1 {
		batchSize = 1
	}
	out := make(chan []model.FileEntry)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		var batch []model.FileEntry
		err := s.walk(func(fe model.FileEntry) error {
			batch = append(batch, fe)
			if len(batch) >= batchSize {
				out <- batch
				batch = nil
			}
			return nil
		})
		if len(batch) > 0 {
			out <- batch
		}
		if err != nil {
			errc <- err
		}
	}()

	return out, errc
}

// walk performs the depth-first traversal shared by Count and Scan,
// invoking visit for each discovered entry. Permission/I-O errors inside
// one property subdirectory are swallowed for that subdirectory only;
// the walk continues with the next one.
func (s *Scanner) walk(visit func(model.FileEntry) error) error {
	rootEntries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("%w: %v", errInputStructure, err)
	}

	propNames := make([]string, 0, len(rootEntries))
	for _, e := range rootEntries {
		if e.IsDir() && IsCID(e.Name()) {
			propNames = append(propNames, e.Name())
		}
	}
	sort.Strings(propNames)

	seen := make(map[[2]string]struct{})

	for _, propID := range propNames {
		propDir := filepath.Join(s.root, propID)
		files, err := os.ReadDir(propDir)
		if err != nil {
			// Skipped without a report: the scanner has no logger or
			// CSV sink, and the error is not passed to the caller.
			continue
		}

		names := make([]string, 0, len(files))
		for _, f := range files {
			names = append(names, f.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			if filepath.Ext(name) != ".json" {
				continue
			}
			groupID := strings.TrimSuffix(name, ".json")
			if !IsCID(groupID) {
				continue
			}
			key := [2]string{propID, groupID}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			if err := visit(model.FileEntry{
				PropertyID: propID,
				GroupID:    groupID,
				Path:       filepath.Join(propDir, name),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
