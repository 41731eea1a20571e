package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/snarg/voxpipe/internal/atomicfile"
	"github.com/snarg/voxpipe/internal/model"
)

// manifestStore guards the on-disk job manifest with atomic writes and an
// in-memory cache so readers (health endpoint) never block on disk I/O.
type manifestStore struct {
	path string

	mu   sync.RWMutex
	jobs map[string]*model.JobEntry
}

func newManifestStore(path string) (*manifestStore, error) {
	s := &manifestStore{path: path, jobs: make(map[string]*model.JobEntry)}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	return s, nil
}

func (s *manifestStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var m model.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Jobs == nil {
		m.Jobs = make(map[string]*model.JobEntry)
	}
	s.jobs = m.Jobs
	return nil
}

func (s *manifestStore) save() error {
	s.mu.RLock()
	m := model.Manifest{Jobs: s.jobs, UpdatedAt: time.Now().UTC()}
	s.mu.RUnlock()
	return atomicfile.WriteJSON(s.path, m, 0o644)
}

func (s *manifestStore) get(stem string) (*model.JobEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[stem]
	return j, ok
}

func (s *manifestStore) set(j *model.JobEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.Stem] = j
}

// Snapshot returns a shallow copy of every job entry, for the health
// endpoint and tests.
func (s *manifestStore) Snapshot() map[string]*model.JobEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*model.JobEntry, len(s.jobs))
	for k, v := range s.jobs {
		cp := *v
		out[k] = &cp
	}
	return out
}
