package asr

import "time"

// Segment is a single transcribed span with timing, present when the
// backend returns a verbose response.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Transcript is a complete transcription result for one audio file.
type Transcript struct {
	Text     string // full transcript text, written verbatim to .txt output
	Segments []Segment
	Language string
	Duration time.Duration
	Model    string
	Backend  string
}

// TranscribeOptions configures a transcription request.
type TranscribeOptions struct {
	Language string // "" = auto-detect
	Model    string // backend-specific model name override
}

// HealthStatus reports backend health.
type HealthStatus struct {
	OK      bool
	Backend string
	Message string
	Latency time.Duration
}

// Backend is the interface that transcription backends must implement.
// TranscribeFile performs exactly one remote call per invocation; the
// retry policy around it belongs to the caller.
type Backend interface {
	Name() string
	TranscribeFile(filePath string, opts TranscribeOptions) (*Transcript, error)
	HealthCheck() (*HealthStatus, error)
}
