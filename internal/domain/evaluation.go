package domain

import (
	"time"
)

// Assessment is the stored record of one online AML check.
type Assessment struct {
	ID        string      `json:"id"`
	Candidate Transaction `json:"candidate"`
	Status    string      `json:"status"` // "ALRT" or "NALT"
	Timestamp time.Time   `json:"timestamp"`

	// Sender and Receiver are nil when the wallet had no data to evaluate.
	Sender   *WalletMetrics `json:"sender,omitempty"`
	Receiver *WalletMetrics `json:"receiver,omitempty"`

	// Report holds the forensic explanation for flagged checks.
	Report string `json:"report,omitempty"`

	Metadata AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID        string `json:"traceId"`
	RulesMs        int64  `json:"rulesMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	WindowSize     int    `json:"windowSize"`
	EngineVersion  string `json:"engineVersion"`
}

// Flagged reports whether either side of the check tripped a rule.
func (a *Assessment) Flagged() bool {
	return a.Status == StatusAlert
}

// Decision status constants
const (
	StatusAlert   = "ALRT" // Alert - suspicious transaction
	StatusNoAlert = "NALT" // No alert - transaction passed
)

// BatchJob tracks an asynchronous whole-dataset analysis.
type BatchJob struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	WindowSize  int             `json:"windowSize"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Wallets     int             `json:"wallets"`
	Flagged     int             `json:"flagged"`
	Error       string          `json:"error,omitempty"`
	Results     []WalletMetrics `json:"results,omitempty"`
}

// Batch job states
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)
