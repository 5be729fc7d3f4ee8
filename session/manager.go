package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dhollinger/promptmend/metrics"
	"github.com/dhollinger/promptmend/optimizer"
	"github.com/dhollinger/promptmend/utils"
)

// Manager is the session state machine. It is the only legal writer of
// session status and progress; external observers learn state exclusively
// through the records it persists.
type Manager struct {
	store          Store
	logger         utils.Logger
	maxPromptChars int
}

func NewManager(store Store, logger utils.Logger, maxPromptChars int) *Manager {
	return &Manager{
		store:          store,
		logger:         logger,
		maxPromptChars: maxPromptChars,
	}
}

// stepLabels is the fixed progress sequence for a configuration. Identity
// conditioning adds a fourth leading step.
func stepLabels(cfg optimizer.OptimizationConfig) []string {
	labels := []string{
		"Generating candidate prompts",
		"Scoring and selecting",
		"Summarizing improvements",
	}
	if cfg.GenerateIdentity {
		labels = append([]string{"Generating expert identity"}, labels...)
	}
	return labels
}

// Create validates the prompt and persists a pending session. Validation
// failures reject the submission before any backend call and leave zero
// records behind.
func (m *Manager) Create(ctx context.Context, originalPrompt, contextDomain, userID string, cfg optimizer.OptimizationConfig) (*Session, error) {
	if err := ValidatePrompt(originalPrompt, m.maxPromptChars); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	prompt := &Prompt{
		ID:             uuid.NewString(),
		OriginalPrompt: originalPrompt,
		ContextDomain:  contextDomain,
		Status:         StatusPending,
		CreatedAt:      now,
	}
	if err := m.store.InsertPrompt(ctx, prompt); err != nil {
		return nil, fmt.Errorf("failed to persist prompt: %w", err)
	}

	cfg.ContextDomain = contextDomain
	steps := make([]ProgressStep, 0, 4)
	for _, label := range stepLabels(cfg) {
		steps = append(steps, ProgressStep{Label: label, Status: StepPending, UpdatedAt: now})
	}

	sess := &Session{
		ID:        uuid.NewString(),
		PromptID:  prompt.ID,
		UserID:    userID,
		Config:    cfg,
		Status:    StatusPending,
		Steps:     steps,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.InsertSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	m.logger.Info("Session created", "session_id", sess.ID, "mode", cfg.Mode, "user_id", userID)
	return sess, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.GetSession(ctx, id)
}

func (m *Manager) GetPrompt(ctx context.Context, id string) (*Prompt, error) {
	return m.store.GetPrompt(ctx, id)
}

func (m *Manager) ListRecent(ctx context.Context, userID string, status Status, limit int) ([]*Session, error) {
	return m.store.ListRecent(ctx, userID, status, limit)
}

// legal forward transitions. Anything else is either a no-op (same status,
// or already terminal) or a programming error.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

func transitionAllowed(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// UpdateStatus applies a monotonic status transition. Re-applying the current
// status, or writing to a terminal session, is an observable no-op.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status Status) error {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status == status || sess.Status.Terminal() {
		return nil
	}
	if !transitionAllowed(sess.Status, status) {
		return fmt.Errorf("illegal status transition %s -> %s for session %s", sess.Status, status, id)
	}
	if err := m.store.PatchSession(ctx, id, Patch{Status: &status}); err != nil {
		return err
	}
	if prompt, err := m.store.GetPrompt(ctx, sess.PromptID); err == nil && !prompt.Status.Terminal() {
		_ = m.store.PatchPrompt(ctx, sess.PromptID, PromptPatch{Status: &status})
	}
	return nil
}

// UpdateProgressStep mutates one step of the fixed progress sequence in
// place.
func (m *Manager) UpdateProgressStep(ctx context.Context, id string, index int, status StepStatus, detail string) error {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(sess.Steps) {
		return fmt.Errorf("progress step index %d out of range for session %s", index, id)
	}
	steps := sess.Steps
	steps[index].Status = status
	if detail != "" {
		steps[index].Detail = detail
	}
	steps[index].UpdatedAt = time.Now().UTC()
	return m.store.PatchSession(ctx, id, Patch{Steps: &steps})
}

// AppendRecords persists newly produced mutation records so partial work
// survives a later failure.
func (m *Manager) AppendRecords(ctx context.Context, id string, records []optimizer.MutationRecord) error {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	merged := append(sess.Records, records...)
	return m.store.PatchSession(ctx, id, Patch{Records: &merged})
}

// SetIteration records loop progress for observers.
func (m *Manager) SetIteration(ctx context.Context, id string, iteration int) error {
	return m.store.PatchSession(ctx, id, Patch{CurrentIteration: &iteration})
}

// Complete finalizes a session exactly once. A terminal session is left
// untouched.
func (m *Manager) Complete(ctx context.Context, id string, outcome *optimizer.Outcome) error {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return nil
	}

	completed := StatusCompleted
	patch := Patch{
		Status:           &completed,
		CurrentIteration: &outcome.Iterations,
		Records:          &outcome.Records,
		Final:            &outcome.Final,
	}
	if err := m.store.PatchSession(ctx, id, patch); err != nil {
		return err
	}

	promptPatch := PromptPatch{OptimizedPrompt: &outcome.Final.BestPrompt, Status: &completed}
	if err := m.store.PatchPrompt(ctx, sess.PromptID, promptPatch); err != nil {
		m.logger.Error("Failed to patch prompt after completion", "prompt_id", sess.PromptID, "error", err)
	}

	// Mark every remaining step completed.
	steps := sess.Steps
	now := time.Now().UTC()
	for i := range steps {
		if steps[i].Status != StepFailed {
			steps[i].Status = StepCompleted
			steps[i].UpdatedAt = now
		}
	}
	if err := m.store.PatchSession(ctx, id, Patch{Steps: &steps}); err != nil {
		m.logger.Error("Failed to finalize progress steps", "session_id", id, "error", err)
	}

	metrics.SessionsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	m.logger.Info("Session completed", "session_id", id, "overall", outcome.Final.Scores.Overall)
	return nil
}

// MarkFailed transitions a session to failed with a human-readable message.
// Idempotent: a terminal session is left untouched.
func (m *Manager) MarkFailed(ctx context.Context, id string, message string) error {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return nil
	}

	failed := StatusFailed
	patch := Patch{Status: &failed, ErrorMessage: &message}
	if err := m.store.PatchSession(ctx, id, patch); err != nil {
		return err
	}
	_ = m.store.PatchPrompt(ctx, sess.PromptID, PromptPatch{Status: &failed})

	// The in-flight step carries the failure; earlier completed steps stand.
	steps := sess.Steps
	now := time.Now().UTC()
	for i := range steps {
		if steps[i].Status == StepProcessing {
			steps[i].Status = StepFailed
			steps[i].Detail = message
			steps[i].UpdatedAt = now
		}
	}
	if err := m.store.PatchSession(ctx, id, Patch{Steps: &steps}); err != nil {
		m.logger.Error("Failed to update progress steps on failure", "session_id", id, "error", err)
	}

	metrics.SessionsTotal.WithLabelValues(string(StatusFailed)).Inc()
	m.logger.Warn("Session failed", "session_id", id, "error", message)
	return nil
}
