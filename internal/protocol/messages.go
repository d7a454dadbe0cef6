package protocol

import "time"

// JobEvent is broadcast on the bus at every pipeline milestone.
type JobEvent struct {
	JobID           string    `json:"job_id"`
	Type            string    `json:"type"`
	Source          string    `json:"source,omitempty"`
	Filename        string    `json:"filename,omitempty"`
	WhisperModel    string    `json:"whisper_model,omitempty"`
	LLMModel        string    `json:"llm_model,omitempty"`
	Stage           string    `json:"stage,omitempty"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	Error           string    `json:"error,omitempty"`
	DurationMS      int64     `json:"duration_ms,omitempty"`
	TranscriptChars int       `json:"transcript_chars,omitempty"`
	SummaryChars    int       `json:"summary_chars,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Event types double as NATS subjects under SubjectPrefix.
const (
	EventJobStarted      = "job.started"
	EventAudioNormalized = "audio.normalized"
	EventTranscriptReady = "transcript.ready"
	EventSummaryReady    = "summary.ready"
	EventJobFailed       = "job.failed"
	SubjectPrefix        = "recap"
	SubjectAll           = SubjectPrefix + ".>"
	StreamJobs           = "RECAP_JOBS"
)

// Subject maps an event type onto its NATS subject.
func Subject(eventType string) string {
	return SubjectPrefix + "." + eventType
}
