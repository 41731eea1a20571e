package model

import "time"

// Embedding is a fixed-dimension speaker embedding vector.
type Embedding []float32

// Profile is an enrolled speaker's voice record, one file per name under
// the profiles directory.
type Profile struct {
	Name              string      `json:"name"`
	EnrolledAt        time.Time   `json:"enrolledAt"`
	EnrollmentMethod  string      `json:"enrollmentMethod,omitempty"`
	NumSamples        int         `json:"numSamples"`
	EmbeddingDims     int         `json:"embeddingDimensions"`
	Embeddings        []Embedding `json:"embeddings"`
	Threshold         float64     `json:"threshold"`
	SelfConsistency   float64     `json:"selfConsistency"`
	LastUpdated       time.Time   `json:"lastUpdated,omitempty"`
}

// Candidate is a promoted unknown-speaker cluster awaiting human review.
type Candidate struct {
	ClusterID       string          `json:"speakerId"`
	CreatedAt       time.Time       `json:"createdAt"`
	NumSamples      int             `json:"numSamples"`
	AvgEmbedding    Embedding       `json:"avgEmbedding"`
	Variance        float64         `json:"variance"`
	SelfConsistency float64         `json:"selfConsistency"`
	AutoThreshold   float64         `json:"autoThreshold"`
	SampleMetadata  []SampleExcerpt `json:"sampleMetadata"`
	Status          string          `json:"status"` // pending_review | approved | rejected
	SuggestedName   string          `json:"suggestedName,omitempty"`
}

// SampleExcerpt is a short provenance record for one embedding sample
// contributing to a cluster or candidate.
type SampleExcerpt struct {
	TranscriptExcerpt string    `json:"transcriptExcerpt"`
	SourceClip        string    `json:"sourceClip"`
	Timestamp         time.Time `json:"timestamp"`
}
