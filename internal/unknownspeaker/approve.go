package unknownspeaker

import (
	"fmt"

	"github.com/snarg/voxpipe/internal/atomicfile"
	"github.com/snarg/voxpipe/internal/model"
	"github.com/snarg/voxpipe/internal/profile"
)

// Approve promotes a pending candidate into a named voice profile: it
// derives the threshold from the candidate's self-consistency, renormalizes
// the centroid, and writes it via the profile store.
func (t *Tracker) Approve(clusterID, name string, profiles *profile.Store) (*model.Profile, error) {
	c, err := t.LoadCandidate(clusterID)
	if err != nil {
		return nil, fmt.Errorf("load candidate: %w", err)
	}
	if c.Status != "pending_review" {
		return nil, fmt.Errorf("candidate %s is not pending review (status=%s)", clusterID, c.Status)
	}

	p, err := profiles.CreateOrUpdate(name, []model.Embedding{c.AvgEmbedding.Normalized()}, "auto-enrollment")
	if err != nil {
		return nil, fmt.Errorf("create profile from candidate: %w", err)
	}

	c.Status = "approved"
	c.SuggestedName = name
	if err := atomicfile.WriteJSON(t.candidatePath(clusterID), c, 0o644); err != nil {
		return nil, fmt.Errorf("write approved candidate: %w", err)
	}

	return p, nil
}
