// Package file provides file-based persistence for local development and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pipeflow/automation/pkg/persistence"
)

// Persistence implements persistence.Persistence on top of JSON files.
//
// One mutex guards every repository so compare-and-swap and insert-if-absent
// are atomic within the process.
type Persistence struct {
	store        *store
	workflowRepo *WorkflowRepository
	runRepo      *RunRepository
	stepLogRepo  *StepLogRepository
}

// NewPersistence creates a file persistence rooted at root ("file://" prefix allowed).
func NewPersistence(root string) *Persistence {
	s := &store{root: strings.Replace(root, "file://", "", 1)}

	return &Persistence{
		store:        s,
		workflowRepo: &WorkflowRepository{store: s},
		runRepo:      &RunRepository{store: s},
		stepLogRepo:  &StepLogRepository{store: s},
	}
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) RunRepository() persistence.RunRepository {
	return fp.runRepo
}

func (fp *Persistence) StepLogRepository() persistence.StepLogRepository {
	return fp.stepLogRepo
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists or can be created.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	err := os.MkdirAll(fp.store.root, 0750)
	if err != nil {
		return fmt.Errorf("persistence root unavailable: %w", err)
	}

	return nil
}

type store struct {
	root string
	mu   sync.Mutex
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return fmt.Errorf("%w: %q contains invalid characters", persistence.ErrInvalidID, id)
	}

	return nil
}

func (s *store) path(collection, id string) string {
	return filepath.Join(s.root, collection, id+".json")
}

// read decodes collection/id into v. It returns os.ErrNotExist when missing.
func (s *store) read(collection, id string, v any) error {
	err := validateID(id)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(s.path(collection, id)) // #nosec G304 -- id is validated
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, v)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", collection, id, err)
	}

	return nil
}

// write replaces collection/id atomically through a temp file and rename.
func (s *store) write(collection, id string, v any) error {
	err := validateID(id)
	if err != nil {
		return err
	}

	dir := filepath.Join(s.root, collection)

	err = os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", collection, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", collection, id, err)
	}

	tmp, err := os.CreateTemp(dir, id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write %s %s: %w", collection, id, err)
	}

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s %s: %w", collection, id, err)
	}

	err = os.Chmod(tmp.Name(), 0600)
	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s %s: %w", collection, id, err)
	}

	return os.Rename(tmp.Name(), s.path(collection, id))
}

func (s *store) remove(collection, id string) error {
	err := validateID(id)
	if err != nil {
		return err
	}

	return os.Remove(s.path(collection, id))
}

// list returns the ids stored in a collection.
func (s *store) list(collection string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, collection))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s directory: %w", collection, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	return ids, nil
}

func page[T any](items []T, limit, offset int) []T {
	limit = persistence.NormalizeLimit(limit)
	offset = max(offset, 0)

	if offset >= len(items) {
		return []T{}
	}

	end := min(offset+limit, len(items))

	return items[offset:end]
}
