// Package audit emits structured audit records for webhook triggers,
// delivery outcomes and preference changes. Recording is fire-and-forget:
// a failing recorder must never abort the operation that called it.
package audit

import (
	"context"
	"time"
)

// Event is one structured audit record.
type Event struct {
	Type      string                 `json:"type"`
	Actor     string                 `json:"actor"`
	Resource  string                 `json:"resource"`
	Outcome   string                 `json:"outcome"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Outcome constants
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder accepts audit events. Implementations swallow their own errors.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}
