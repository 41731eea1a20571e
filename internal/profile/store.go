// Package profile loads, hot-reloads, and mutates enrolled voice profiles
// stored as one JSON file per name under the profiles directory.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/atomicfile"
	"github.com/snarg/voxpipe/internal/model"
)

// dedupeThreshold is the cosine distance below which two embeddings are
// considered duplicates during create_or_update.
const dedupeThreshold = 0.05

// Store loads and mutates profiles from a directory, hot-reloading by
// mtime so a long-lived process always reflects on-disk edits.
type Store struct {
	dir string
	log zerolog.Logger

	mu        sync.RWMutex
	profiles  map[string]*model.Profile
	mtimes    map[string]time.Time
	lastScan  time.Time
}

// NewStore builds a profile store rooted at dir. dir is created if absent.
func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("profile store dir: %w", err)
	}
	return &Store{
		dir:      dir,
		log:      log.With().Str("component", "profile-store").Logger(),
		profiles: make(map[string]*model.Profile),
		mtimes:   make(map[string]time.Time),
	}, nil
}

// Load returns the current name→profile map, rescanning the directory only
// if any file's mtime changed since the last load (or force is true).
func (s *Store) Load(force bool) (map[string]*model.Profile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read profiles dir: %w", err)
	}

	changed := force
	current := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		current[e.Name()] = info.ModTime()
	}

	s.mu.RLock()
	if !changed {
		if len(current) != len(s.mtimes) {
			changed = true
		} else {
			for name, mtime := range current {
				if !s.mtimes[name].Equal(mtime) {
					changed = true
					break
				}
			}
		}
	}
	s.mu.RUnlock()

	if !changed {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return cloneMap(s.profiles), nil
	}

	loaded := make(map[string]*model.Profile, len(current))
	for name := range current {
		p, err := s.loadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("skipping unreadable profile")
			continue
		}
		loaded[p.Name] = p
	}

	s.mu.Lock()
	s.profiles = loaded
	s.mtimes = current
	s.lastScan = time.Now()
	s.mu.Unlock()

	return cloneMap(loaded), nil
}

func (s *Store) loadFile(path string) (*model.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p model.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, e := range p.Embeddings {
		norm := e.Norm()
		if norm < 0.9 || norm > 1.1 {
			p.Embeddings[i] = e.Normalized()
		}
	}
	return &p, nil
}

// CreateOrUpdate merges newEmbeddings into the named profile (creating it
// if absent), deduplicates near-identical vectors, recomputes
// self-consistency and threshold, and atomically rewrites the file.
func (s *Store) CreateOrUpdate(name string, newEmbeddings []model.Embedding, method string) (*model.Profile, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("profile name is required")
	}

	if _, err := s.Load(false); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.profiles[name]
	all := make([]model.Embedding, 0, len(newEmbeddings))
	if existing != nil {
		all = append(all, existing.Embeddings...)
	}
	for _, e := range newEmbeddings {
		all = append(all, e.Normalized())
	}
	deduped := dedupe(all)

	selfConsistency := model.MeanPairwiseDistance(deduped)
	threshold := model.AutoThreshold(selfConsistency, len(deduped))

	now := time.Now().UTC()
	p := &model.Profile{
		Name:            name,
		EnrollmentMethod: method,
		NumSamples:      len(deduped),
		Embeddings:      deduped,
		Threshold:       threshold,
		SelfConsistency: selfConsistency,
		LastUpdated:     now,
	}
	if len(deduped) > 0 {
		p.EmbeddingDims = len(deduped[0])
	}
	if existing != nil {
		p.EnrolledAt = existing.EnrolledAt
	} else {
		p.EnrolledAt = now
	}

	path := filepath.Join(s.dir, name+".json")
	if err := atomicfile.WriteJSON(path, p, 0o644); err != nil {
		return nil, fmt.Errorf("write profile %s: %w", name, err)
	}

	s.profiles[name] = p
	if info, err := os.Stat(path); err == nil {
		s.mtimes[filepath.Base(path)] = info.ModTime()
	}

	return p, nil
}

// dedupe removes any embedding whose cosine distance to an already-kept
// embedding is below dedupeThreshold.
func dedupe(vs []model.Embedding) []model.Embedding {
	kept := make([]model.Embedding, 0, len(vs))
	for _, v := range vs {
		duplicate := false
		for _, k := range kept {
			if model.CosineDistance(v, k) < dedupeThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, v)
		}
	}
	return kept
}

func cloneMap(m map[string]*model.Profile) map[string]*model.Profile {
	out := make(map[string]*model.Profile, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
