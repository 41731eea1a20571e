package api

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/snarg/voxpipe/internal/model"
)

// PipelineAccounting mirrors worker.Accounting's counters as a local type so
// this package doesn't import worker just for a struct shape; the
// accountingAdapter in cmd/voxpipe copies one into the other.
type PipelineAccounting struct {
	TotalCostUSD    float64
	TotalHours      float64
	Submitted       int64
	Completed       int64
	Failed          int64
	LastCompletedAt time.Time
}

// AccountingSource is satisfied by cmd/voxpipe's accountingAdapter, which
// wraps *worker.Pool's Accounting.
type AccountingSource interface {
	Snapshot() PipelineAccounting
}

// OrchestratorSource exposes the job manifest for pending-count and
// active-job reporting.
type OrchestratorSource interface {
	Snapshot() map[string]*model.JobEntry
}

// IdentificationStats is satisfied by the unknown-speaker tracker.
type IdentificationStats interface {
	PendingCandidates() int
	ClusterCount() int
}

// DispatchStats mirrors the command dispatcher's counters; cmd/voxpipe's
// dispatchStatsAdapter converts dispatch.Accounting into it.
type DispatchStats struct {
	Dispatched int
	Blocked    int
	Failed     int
}

type DispatchStatsSource interface {
	Snapshot() DispatchStats
}

// HealthHandler serves liveness and detailed pipeline-health endpoints.
type HealthHandler struct {
	inboxDir     string
	accounting   AccountingSource
	orchestrator OrchestratorSource
	identify     IdentificationStats
	dispatch     DispatchStatsSource
	version      string
	startTime    time.Time
}

// NewHealthHandler builds a HealthHandler. Any source may be nil before its
// component finishes wiring up; the handler degrades gracefully.
func NewHealthHandler(inboxDir string, accounting AccountingSource, orch OrchestratorSource, identify IdentificationStats, dispatch DispatchStatsSource, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		inboxDir:     inboxDir,
		accounting:   accounting,
		orchestrator: orch,
		identify:     identify,
		dispatch:     dispatch,
		version:      version,
		startTime:    startTime,
	}
}

// LivenessResponse is the minimal GET /health body.
type LivenessResponse struct {
	Status    string `json:"status"`
	Recording bool   `json:"recording"`
}

// ServeHTTP implements GET /health: a cheap liveness probe. "Recording" is
// always true for this process — it's always accepting inbox clips once
// started, unlike the teacher's per-instance recorder flag.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, LivenessResponse{Status: "ok", Recording: true})
}

// ActiveJobSummary is one entry in the detailed health response's capped
// active-jobs list.
type ActiveJobSummary struct {
	Stem   string          `json:"stem"`
	Status model.JobStatus `json:"status"`
	Error  string          `json:"error,omitempty"`
}

// DetailedHealthResponse is the GET /health/detailed body (§6).
type DetailedHealthResponse struct {
	Status             string             `json:"status"`
	Version            string             `json:"version"`
	UptimeSeconds      int64              `json:"uptimeSeconds"`
	Submitted          int64              `json:"submitted"`
	Completed          int64              `json:"completed"`
	Failed             int64              `json:"failed"`
	Pending            int                `json:"pending"`
	TotalCostUSD       float64            `json:"totalCostUsd"`
	TotalHours         float64            `json:"totalHours"`
	LastCompletedAt    *time.Time         `json:"lastCompletedAt,omitempty"`
	InboxDepth         int                `json:"inboxDepth"`
	PendingCandidates  int                `json:"pendingCandidates"`
	TrackedClusters    int                `json:"trackedClusters"`
	CommandsDispatched int                `json:"commandsDispatched"`
	CommandsBlocked    int                `json:"commandsBlocked"`
	Recording          bool               `json:"recording"`
	ActiveJobs         []ActiveJobSummary `json:"activeJobs"`
}

const maxActiveJobs = 50

// ServeDetailed implements GET /health/detailed.
func (h *HealthHandler) ServeDetailed(w http.ResponseWriter, r *http.Request) {
	resp := DetailedHealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Recording:     true,
	}

	if h.accounting != nil {
		acc := h.accounting.Snapshot()
		resp.Submitted = acc.Submitted
		resp.Completed = acc.Completed
		resp.Failed = acc.Failed
		resp.TotalCostUSD = acc.TotalCostUSD
		resp.TotalHours = acc.TotalHours
		if !acc.LastCompletedAt.IsZero() {
			t := acc.LastCompletedAt
			resp.LastCompletedAt = &t
		}
	}

	if h.orchestrator != nil {
		jobs := h.orchestrator.Snapshot()
		var active []ActiveJobSummary
		for stem, j := range jobs {
			switch j.Status {
			case model.JobQueued, model.JobProcessing:
				resp.Pending++
			}
			if j.Status != model.JobCuratorSynced && j.Status != model.JobSkipped {
				if len(active) < maxActiveJobs {
					active = append(active, ActiveJobSummary{Stem: stem, Status: j.Status, Error: j.Error})
				}
			}
		}
		resp.ActiveJobs = active
	}

	resp.InboxDepth = countWAVs(h.inboxDir)

	if h.identify != nil {
		resp.PendingCandidates = h.identify.PendingCandidates()
		resp.TrackedClusters = h.identify.ClusterCount()
	}

	if h.dispatch != nil {
		d := h.dispatch.Snapshot()
		resp.CommandsDispatched = d.Dispatched
		resp.CommandsBlocked = d.Blocked
	}

	WriteJSON(w, http.StatusOK, resp)
}

func countWAVs(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".wav") {
			n++
		}
	}
	return n
}
