package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/atomicfile"
	"github.com/snarg/voxpipe/internal/embedding"
	"github.com/snarg/voxpipe/internal/model"
	"github.com/snarg/voxpipe/internal/profile"
)

// Retrigger is satisfied by the retry loop; the reidentify endpoint uses it
// to kick off an immediate out-of-band cycle.
type Retrigger interface {
	Trigger(forceAll bool)
}

// SpeakerHandler serves the operator-facing speaker correction endpoints:
// manual labeling (with optional profile enrollment) and forced
// re-identification.
type SpeakerHandler struct {
	doneDir            string
	playbackDir        string
	inboxDir           string
	profiles           *profile.Store
	embed              *embedding.Client
	retry              Retrigger
	minSegmentDuration float64
	log                zerolog.Logger
}

// NewSpeakerHandler builds a SpeakerHandler. minSegmentDuration mirrors the
// identifier's own minimum (default 1.0s) so manually-labeled embeddings use
// the same quality floor as automatic identification.
func NewSpeakerHandler(doneDir, playbackDir, inboxDir string, profiles *profile.Store, embed *embedding.Client, retry Retrigger, minSegmentDuration float64, log zerolog.Logger) *SpeakerHandler {
	if minSegmentDuration == 0 {
		minSegmentDuration = 1.0
	}
	return &SpeakerHandler{
		doneDir:            doneDir,
		playbackDir:        playbackDir,
		inboxDir:           inboxDir,
		profiles:           profiles,
		embed:              embed,
		retry:              retry,
		minSegmentDuration: minSegmentDuration,
		log:                log.With().Str("component", "speaker-handler").Logger(),
	}
}

type labelSpeakerRequest struct {
	TranscriptFile string `json:"transcriptFile"`
	SpeakerID      string `json:"speakerId"`
	Name           string `json:"name"`
	SkipProfile    bool   `json:"skipProfile"`
}

type labelSpeakerResponse struct {
	OK              bool `json:"ok"`
	Labeled         bool `json:"labeled"`
	ProfileUpdated  bool `json:"profileUpdated"`
	EmbeddingsAdded int  `json:"embeddingsAdded,omitempty"`
	TotalEmbeddings int  `json:"totalEmbeddings,omitempty"`
}

// LabelSpeaker implements POST /label-speaker (§12).
func (h *SpeakerHandler) LabelSpeaker(w http.ResponseWriter, r *http.Request) {
	var req labelSpeakerRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TranscriptFile == "" || req.SpeakerID == "" || req.Name == "" {
		WriteError(w, http.StatusBadRequest, "transcriptFile, speakerId, and name are required")
		return
	}

	stem := stemFromTranscriptFile(req.TranscriptFile)
	path := filepath.Join(h.doneDir, stem+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		WriteError(w, http.StatusNotFound, "transcript not found: "+stem)
		return
	}
	var t model.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		WriteError(w, http.StatusInternalServerError, "transcript unreadable: "+err.Error())
		return
	}

	var matched []model.Segment
	for i := range t.Segments {
		if t.Segments[i].Speaker == req.SpeakerID {
			t.Segments[i].SpeakerName = req.Name
			matched = append(matched, t.Segments[i])
		}
	}
	if len(matched) == 0 {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("no segments found for speaker %q", req.SpeakerID))
		return
	}

	if t.SpeakerID == nil {
		t.SpeakerID = &model.SpeakerIdentification{Identified: map[string]model.IdentifiedSpeaker{}}
	}
	if t.SpeakerID.Identified == nil {
		t.SpeakerID.Identified = map[string]model.IdentifiedSpeaker{}
	}
	t.SpeakerID.Identified[req.SpeakerID] = model.IdentifiedSpeaker{Name: req.Name, Method: "manual-label"}
	t.SpeakerID.Unidentified = removeString(t.SpeakerID.Unidentified, req.SpeakerID)

	if err := atomicfile.WriteJSON(path, &t, 0o644); err != nil {
		WriteError(w, http.StatusInternalServerError, "write transcript: "+err.Error())
		return
	}

	marker := path + ".synced"
	if _, err := os.Stat(marker); err == nil {
		os.Remove(marker)
	}

	resp := labelSpeakerResponse{OK: true, Labeled: true}

	if !req.SkipProfile {
		audioPath := h.resolveAudioPath(&t)
		if audioPath == "" {
			h.log.Warn().Str("stem", stem).Msg("audio file not found, skipping profile update")
		} else {
			embeddings := h.extractEmbeddings(r.Context(), audioPath, matched)
			if len(embeddings) > 0 {
				p, err := h.profiles.CreateOrUpdate(req.Name, embeddings, "manual-label")
				if err != nil {
					h.log.Warn().Err(err).Str("name", req.Name).Msg("profile update failed")
				} else {
					resp.ProfileUpdated = true
					resp.EmbeddingsAdded = len(embeddings)
					resp.TotalEmbeddings = p.NumSamples
				}
			}
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

func (h *SpeakerHandler) extractEmbeddings(ctx context.Context, audioPath string, segments []model.Segment) []model.Embedding {
	var out []model.Embedding
	for _, s := range segments {
		if s.End-s.Start < h.minSegmentDuration {
			continue
		}
		vec, err := h.embed.Extract(ctx, audioPath, s.Start, s.End)
		if err != nil {
			h.log.Debug().Err(err).Msg("embedding extraction failed for labeled segment")
			continue
		}
		out = append(out, vec)
	}
	return out
}

func (h *SpeakerHandler) resolveAudioPath(t *model.Transcript) string {
	filename := t.OriginalFilename
	if filename == "" {
		filename = t.Stem + ".wav"
	}
	if p := filepath.Join(h.playbackDir, filename); fileExists(p) {
		return p
	}
	if p := filepath.Join(h.inboxDir, filename); fileExists(p) {
		return p
	}
	return ""
}

type reidentifyRequest struct {
	ForceAll bool `json:"forceAll"`
}

type reidentifyResponse struct {
	OK       bool `json:"ok"`
	Accepted bool `json:"accepted"`
}

// Reidentify implements POST /reidentify (§12): triggers one retry-loop
// cycle on a background goroutine and returns immediately.
func (h *SpeakerHandler) Reidentify(w http.ResponseWriter, r *http.Request) {
	var req reidentifyRequest
	if r.ContentLength != 0 {
		_ = DecodeJSON(r, &req)
	}
	h.retry.Trigger(req.ForceAll)
	WriteJSON(w, http.StatusAccepted, reidentifyResponse{OK: true, Accepted: true})
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func stemFromTranscriptFile(name string) string {
	name = filepath.Base(name)
	return trimJSONSuffix(name)
}

func trimJSONSuffix(name string) string {
	const suffix = ".json"
	if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
		return name[:len(name)-len(suffix)]
	}
	return name
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
