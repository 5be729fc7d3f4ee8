// Package session owns the optimization session lifecycle: creation,
// monotonic status transitions, progress tracking, and the worker that
// drives a session through the refinement loop.
package session

import (
	"context"
	"time"

	"github.com/dhollinger/promptmend/optimizer"
)

// Status is the session lifecycle state. Transitions are monotonic:
// pending -> processing -> completed|failed, never backward.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is legal from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepStatus mirrors Status for individual progress steps.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// ProgressStep is one entry in a session's fixed-size ordered progress
// sequence. Steps are mutated in place as the pipeline advances and never
// reordered.
type ProgressStep struct {
	Label     string     `json:"label"`
	Status    StepStatus `json:"status"`
	Detail    string     `json:"detail,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Prompt holds the text under optimization. OriginalPrompt is immutable once
// set; a Prompt is referenced by exactly one session at creation time, by id.
type Prompt struct {
	ID              string    `json:"id"`
	OriginalPrompt  string    `json:"originalPrompt"`
	OptimizedPrompt string    `json:"optimizedPrompt,omitempty"`
	ContextDomain   string    `json:"contextDomain,omitempty"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Session is the unit of work. Records is an append-only audit log; Final is
// created exactly once at completion.
type Session struct {
	ID               string                       `json:"id"`
	PromptID         string                       `json:"promptId"`
	UserID           string                       `json:"userId,omitempty"`
	Config           optimizer.OptimizationConfig `json:"config"`
	Status           Status                       `json:"status"`
	CurrentIteration int                          `json:"currentIteration"`
	Steps            []ProgressStep               `json:"steps"`
	Records          []optimizer.MutationRecord   `json:"records"`
	Final            *optimizer.FinalResult       `json:"final,omitempty"`
	ErrorMessage     string                       `json:"errorMessage,omitempty"`
	CreatedAt        time.Time                    `json:"createdAt"`
	UpdatedAt        time.Time                    `json:"updatedAt"`
}

// Patch is the partial update shape the manager applies through the store.
// Nil fields are left untouched.
type Patch struct {
	Status           *Status
	CurrentIteration *int
	Steps            *[]ProgressStep
	Records          *[]optimizer.MutationRecord
	Final            *optimizer.FinalResult
	ErrorMessage     *string
}

// PromptPatch is the partial update shape for prompts.
type PromptPatch struct {
	OptimizedPrompt *string
	Status          *Status
}

// Store is the persistence contract the session layer consumes. The reactive
// document store behind it is an external collaborator; the engine only ever
// issues keyed create/read/patch operations and index-driven listings.
type Store interface {
	InsertSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	PatchSession(ctx context.Context, id string, patch Patch) error
	// ListRecent returns sessions newest first, filtered by user and/or
	// status when non-empty. Backed by indexes, never a full scan.
	ListRecent(ctx context.Context, userID string, status Status, limit int) ([]*Session, error)

	InsertPrompt(ctx context.Context, p *Prompt) error
	GetPrompt(ctx context.Context, id string) (*Prompt, error)
	PatchPrompt(ctx context.Context, id string, patch PromptPatch) error
}
