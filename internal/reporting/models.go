package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Workspace isolation: WorkspaceID is required. Identity narrows the summary
// to one agent.
type CallsSummaryRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	Identity    string    `json:"identity,omitempty"`
	Range       TimeRange `json:"range"`
}

type CallsSummary struct {
	WorkspaceID string    `json:"workspace_id"`
	Identity    string    `json:"identity,omitempty"`
	Range       TimeRange `json:"range"`

	IncomingCalls int `json:"incoming_calls"`
	AnsweredCalls int `json:"answered_calls"`
	RejectedCalls int `json:"rejected_calls"`
	MissedCalls   int `json:"missed_calls"`
	PlacedCalls   int `json:"placed_calls"`

	ConnectedCalls int `json:"connected_calls"`
	CompletedCalls int `json:"completed_calls"`
	DeviceErrors   int `json:"device_errors"`

	TotalTalkSeconds   int `json:"total_talk_seconds"`
	AverageTalkSeconds int `json:"average_talk_seconds"`

	// Truncated is set when the range held more journal entries than one read
	// returns; the counts then cover the newest entries only.
	Truncated bool `json:"truncated,omitempty"`
}
