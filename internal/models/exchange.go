package models

import "time"

// Outcome classifies how an exchange ended.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeConfiguration Outcome = "configuration"
	OutcomeTransport     Outcome = "transport"
	OutcomeContract      Outcome = "contract"
)

// Exchange is the diagnostic record of one user/assistant pair. It is written
// to the exchange log after the assistant turn is committed to a transcript.
type Exchange struct {
	ID            int64         `json:"id"`
	SessionID     string        `json:"session_id"`
	UserContent   string        `json:"user_content"`
	ReplyContent  string        `json:"reply_content"`
	Outcome       Outcome       `json:"outcome"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Latency       time.Duration `json:"latency_ns"`
	CreatedAt     time.Time     `json:"created_at"`
}
