package mapping

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	formerrors "github.com/a3tai/mcp-pdf-forms/internal/pdf/errors"
	"github.com/a3tai/mcp-pdf-forms/internal/storage"
)

// FileName is the current mapping document inside a form/year directory
const FileName = "mapping.json"

// ErrNotFound is returned when no mapping exists for a form type and year
var ErrNotFound = errors.New("mapping not found")

// Repository persists mappings in a BlobStore under
// <formType>/<year>/mapping.json. Superseded versions are archived next to
// it as mapping.v<N>.json.
type Repository struct {
	store     storage.BlobStore
	debugMode bool
	locks     sync.Map // key -> *sync.Mutex
}

// NewRepository creates a repository backed by store
func NewRepository(store storage.BlobStore, debugMode bool) *Repository {
	return &Repository{store: store, debugMode: debugMode}
}

// Key returns the storage key of the current mapping
func Key(formType, year string) (string, error) {
	if !ValidFormType(formType) {
		return "", formerrors.UnsafeInput(fmt.Sprintf("invalid form type %q", formType))
	}
	if !ValidYear(year) {
		return "", formerrors.UnsafeInput(fmt.Sprintf("year must be four digits, got %q", year))
	}
	return storage.JoinKey(formType, year, FileName)
}

func archiveKey(key string, version int) string {
	return path.Join(path.Dir(key), fmt.Sprintf("mapping.v%d.json", version))
}

func (r *Repository) lock(key string) func() {
	mu, _ := r.locks.LoadOrStore(key, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Load reads and validates the current mapping for formType and year
func (r *Repository) Load(ctx context.Context, formType, year string) (*FieldMapping, error) {
	key, err := Key(formType, year)
	if err != nil {
		return nil, err
	}
	return r.LoadPath(ctx, key)
}

// LoadPath reads and validates the mapping stored at key
func (r *Repository) LoadPath(ctx context.Context, key string) (*FieldMapping, error) {
	data, err := r.store.LoadBytes(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}

	m, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(m, nil); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadVersion reads an archived version, or the current one if it carries
// that version number.
func (r *Repository) LoadVersion(ctx context.Context, formType, year string, version int) (*FieldMapping, error) {
	key, err := Key(formType, year)
	if err != nil {
		return nil, err
	}

	m, err := r.LoadPath(ctx, archiveKey(key, version))
	if errors.Is(err, ErrNotFound) {
		current, cerr := r.LoadPath(ctx, key)
		if cerr == nil && current.Version == version {
			return current, nil
		}
	}
	return m, err
}

// ListVersions returns every stored version number, archived and current,
// in ascending order.
func (r *Repository) ListVersions(ctx context.Context, formType, year string) ([]int, error) {
	key, err := Key(formType, year)
	if err != nil {
		return nil, err
	}

	keys, err := r.store.List(ctx, path.Dir(key)+"/")
	if err != nil {
		return nil, err
	}

	var versions []int
	for _, k := range keys {
		base := path.Base(k)
		if !strings.HasPrefix(base, "mapping.v") || !strings.HasSuffix(base, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(base, "mapping.v"), ".json"))
		if err == nil {
			versions = append(versions, n)
		}
	}

	if current, err := r.LoadPath(ctx, key); err == nil {
		versions = append(versions, current.Version)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	sort.Ints(versions)
	return versions, nil
}

// Save stores m as the current mapping. When the stored mapping has the
// same fields, nothing is written and the stored mapping is returned.
// Otherwise the stored document is archived under its version number and m
// is written with a version greater than every earlier one. Writes for the
// same form type and year are serialized.
func (r *Repository) Save(ctx context.Context, m *FieldMapping) (*FieldMapping, error) {
	if err := Validate(m, nil); err != nil {
		return nil, err
	}
	key, err := Key(m.FormType, m.Year)
	if err != nil {
		return nil, err
	}

	unlock := r.lock(key)
	defer unlock()
	return r.saveLocked(ctx, key, m)
}

// saveLocked writes m under key. The caller holds the lock for key.
func (r *Repository) saveLocked(ctx context.Context, key string, m *FieldMapping) (*FieldMapping, error) {
	out := m.Clone()
	if out.Version < 1 {
		out.Version = 1
	}

	current, err := r.LoadPath(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if current.SameFields(out) {
			if r.debugMode {
				log.Printf("mapping: %s unchanged at version %d", key, current.Version)
			}
			return current, nil
		}

		data, err := Marshal(current)
		if err != nil {
			return nil, err
		}
		if err := r.store.SaveBytes(ctx, archiveKey(key, current.Version), data); err != nil {
			return nil, fmt.Errorf("failed to archive version %d: %w", current.Version, err)
		}
		out.Version = max(out.Version, current.Version+1)
	}

	data, err := Marshal(out)
	if err != nil {
		return nil, err
	}
	if err := r.store.SaveBytes(ctx, key, data); err != nil {
		return nil, fmt.Errorf("failed to save mapping: %w", err)
	}

	if r.debugMode {
		log.Printf("mapping: saved %s version %d with %d field(s)", key, out.Version, len(out.Fields))
	}
	return out, nil
}

// MergeAndSave merges detected into the stored mapping (if any) and saves
// the result. Load, merge and write happen under the lock for the key.
func (r *Repository) MergeAndSave(ctx context.Context, detected *FieldMapping) (*FieldMapping, error) {
	key, err := Key(detected.FormType, detected.Year)
	if err != nil {
		return nil, err
	}

	unlock := r.lock(key)
	defer unlock()

	existing, err := r.LoadPath(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	merged := Merge(existing, detected)
	if err := Validate(merged, nil); err != nil {
		return nil, err
	}
	return r.saveLocked(ctx, key, merged)
}

// List returns "formType/year" for every stored current mapping
func (r *Repository) List(ctx context.Context) ([]string, error) {
	keys, err := r.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if path.Base(k) != FileName {
			continue
		}
		dir := path.Dir(k)
		if strings.Count(dir, "/") == 1 {
			out = append(out, dir)
		}
	}
	return out, nil
}
