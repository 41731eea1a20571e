package model

import "time"

// JobStatus is the orchestrator's derived view of a clip, distinct from the
// transcript's own PipelineStatus.
type JobStatus string

const (
	JobQueued           JobStatus = "queued"
	JobProcessing       JobStatus = "processing"
	JobSkipped          JobStatus = "skipped"
	JobSpeakerIDPending JobStatus = "speaker_id_pending"
	JobSpeakerIDFailed  JobStatus = "speaker_id_failed"
	JobPendingCurator   JobStatus = "pending_curator"
	JobComplete         JobStatus = "complete"
	JobCuratorSynced    JobStatus = "curator_synced"
	JobFailed           JobStatus = "failed"
)

// Source identifies where a clip originated.
type Source string

const (
	SourceMicrophone  Source = "microphone"
	SourceWatchFolder Source = "watch_folder"
)

// Stages records the timestamp at which a clip crossed each lifecycle
// checkpoint. Zero value means "not yet reached."
type Stages struct {
	Ingested      time.Time `json:"ingested,omitempty"`
	Transcribed   time.Time `json:"transcribed,omitempty"`
	SpeakerID     time.Time `json:"speakerId,omitempty"`
	CuratorSynced time.Time `json:"curatorSynced,omitempty"`
}

// JobEntry is the orchestrator's authoritative per-clip record, keyed by
// clip stem in the job manifest.
type JobEntry struct {
	Stem           string                 `json:"stem"`
	Source         Source                 `json:"source"`
	AudioFilename  string                 `json:"audioFilename"`
	CreatedAt      time.Time              `json:"createdAt"`
	Status         JobStatus              `json:"status"`
	PipelineStatus PipelineStatus         `json:"pipelineStatus,omitempty"`
	SpeakerID      *SpeakerIdentification `json:"speakerIdentification,omitempty"`
	Stages         Stages                 `json:"stages"`
	PlaybackFile   string                 `json:"playbackFile,omitempty"`
	CuratorPath    string                 `json:"curatorPath,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// Manifest is the full job manifest persisted to jobs.json.
type Manifest struct {
	Jobs      map[string]*JobEntry `json:"jobs"`
	UpdatedAt time.Time            `json:"updatedAt"`
}
