package models

import "time"

// Session holds the two cookies that authorize catalog calls.
type Session struct {
	SessionToken string    `json:"-"`
	JWTToken     string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (s Session) Valid() bool {
	return s.SessionToken != "" && s.JWTToken != ""
}

type SessionStatus string

const (
	SessionUninitialized SessionStatus = "uninitialized"
	SessionInitializing  SessionStatus = "initializing"
	SessionReady         SessionStatus = "ready"
	SessionFailed        SessionStatus = "failed"
)

type ChallengeIssue struct {
	ClientID string
	Data     []int
	IssueID  string
}

// Track is one search hit. Sign and TimeToken are short-lived capabilities
// bound to ID and must reach the URL resolver unmodified.
type Track struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Artist          string `json:"artist"`
	Album           string `json:"album"`
	Duration        string `json:"duration"`
	DurationSeconds int    `json:"durationSeconds"`
	Format          string `json:"format"`
	Sign            string `json:"-"`
	TimeToken       string `json:"-"`
}

type SearchPage struct {
	Keywords   string  `json:"keywords"`
	Page       int     `json:"page"`
	PageSize   int     `json:"pageSize"`
	Total      int     `json:"total"`
	TotalPages int     `json:"totalPages"`
	Tracks     []Track `json:"tracks"`
}

type BatchResult struct {
	ID         string    `json:"id"`
	Succeeded  int       `json:"succeeded"`
	Total      int       `json:"total"`
	Paths      []string  `json:"paths"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// ProgressState is a snapshot of a single transfer.
type ProgressState struct {
	Name             string  `json:"name"`
	TotalBytes       int64   `json:"totalBytes"`
	DownloadedBytes  int64   `json:"downloadedBytes"`
	SpeedBytesPerSec float64 `json:"speed"`
	ETALabel         string  `json:"eta"`
	Percent          float64 `json:"percent"`
}

type EventType string

const (
	EventSession       EventType = "session"
	EventSearch        EventType = "search"
	EventBatchStarted  EventType = "batch_started"
	EventTaskStarted   EventType = "task_started"
	EventProgress      EventType = "progress"
	EventTaskFinished  EventType = "task_finished"
	EventBatchFinished EventType = "batch_finished"
)

// Event is what workers post to the UI side. Only the fields relevant to
// Type are set.
type Event struct {
	Type     EventType      `json:"type"`
	Status   SessionStatus  `json:"status,omitempty"`
	BatchID  string         `json:"batchId,omitempty"`
	TaskID   string         `json:"taskId,omitempty"`
	Index    int            `json:"index,omitempty"`
	Total    int            `json:"total,omitempty"`
	Name     string         `json:"name,omitempty"`
	Text     string         `json:"text,omitempty"`
	Progress *ProgressState `json:"progress,omitempty"`
	Path     string         `json:"path,omitempty"`
	Error    string         `json:"error,omitempty"`
	Result   *BatchResult   `json:"result,omitempty"`
}
