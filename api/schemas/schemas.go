package schemas

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Goal is the natural-language description of the state the agent should reach.
type Goal string

func (g Goal) String() string { return string(g) }

// SessionStatus is the lifecycle state of an AgentSession.
type SessionStatus string

const (
	StatusRunning SessionStatus = "RUNNING"
	StatusSuccess SessionStatus = "SUCCESS"
	StatusFailed  SessionStatus = "FAILED"
	StatusTimeout SessionStatus = "TIMEOUT" // Step budget or wall-clock bound exhausted.
	StatusError   SessionStatus = "ERROR"   // Fatal failure or caller cancellation.
)

func (s SessionStatus) String() string { return string(s) }

// IsTerminal reports whether no further steps may follow.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout, StatusError:
		return true
	default:
		return false
	}
}

// StepOutcome records what happened when a step's action was applied.
type StepOutcome string

const (
	OutcomePending StepOutcome = "pending" // Recorded, action not yet applied.
	OutcomeApplied StepOutcome = "applied"
	OutcomeErrored StepOutcome = "errored"
	OutcomeSkipped StepOutcome = "skipped" // Terminal decision; no action was applied.
)

func (o StepOutcome) String() string { return string(o) }

// StepRecord is one entry of the session audit log.
type StepRecord struct {
	StepIndex   int            `json:"step_index"`
	Thought     string         `json:"thought"`
	ActionKind  ActionKind     `json:"action"`
	Selector    string         `json:"selector,omitempty"`
	Value       string         `json:"value,omitempty"`
	Status      DecisionStatus `json:"status"`
	Outcome     StepOutcome    `json:"outcome"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	RecordedAt  time.Time      `json:"recorded_at"`
}

// HistoryLine renders the record as a single line for the reasoning collaborator.
func (r StepRecord) HistoryLine() string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %d: %s", r.StepIndex, r.ActionKind)
	if r.Selector != "" {
		fmt.Fprintf(&b, " %s", r.Selector)
	}
	if r.Value != "" {
		fmt.Fprintf(&b, " %q", r.Value)
	}
	fmt.Fprintf(&b, " -> %s", r.Outcome)
	switch {
	case r.ErrorCode != "" && r.ErrorDetail != "":
		fmt.Fprintf(&b, " (%s: %s)", r.ErrorCode, r.ErrorDetail)
	case r.ErrorCode != "":
		fmt.Fprintf(&b, " (%s)", r.ErrorCode)
	case r.ErrorDetail != "":
		fmt.Fprintf(&b, " (%s)", r.ErrorDetail)
	}
	if r.Thought != "" {
		fmt.Fprintf(&b, " | thought: %s", r.Thought)
	}
	return b.String()
}

var (
	// ErrSessionTerminal is returned when a finished session is mutated.
	ErrSessionTerminal = errors.New("agent session already reached a terminal status")
	// ErrStepOrder is returned when a step index does not follow the previous one.
	ErrStepOrder = errors.New("step index must increase strictly from 1")
)

// AgentSession is the in-memory state of one run. It is owned by a single
// loop controller and is not safe for concurrent mutation.
type AgentSession struct {
	ID        string        `json:"session_id"`
	Goal      Goal          `json:"goal"`
	StartURL  string        `json:"start_url"`
	Status    SessionStatus `json:"status"`
	StepLog   []StepRecord  `json:"step_log"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at,omitempty"`
}

// NewAgentSession creates a RUNNING session.
func NewAgentSession(id string, goal Goal, startURL string, now time.Time) *AgentSession {
	return &AgentSession{
		ID:        id,
		Goal:      goal,
		StartURL:  startURL,
		Status:    StatusRunning,
		StepLog:   make([]StepRecord, 0),
		StartedAt: now,
	}
}

// AppendStep adds a record to the log. It refuses once the session is terminal
// and requires StepIndex to be exactly one past the previous record.
func (s *AgentSession) AppendStep(rec StepRecord) error {
	if s.Status.IsTerminal() {
		return ErrSessionTerminal
	}
	if rec.StepIndex != len(s.StepLog)+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrStepOrder, rec.StepIndex, len(s.StepLog)+1)
	}
	s.StepLog = append(s.StepLog, rec)
	return nil
}

// LastStep returns a pointer to the most recent record, or nil if the log is empty.
func (s *AgentSession) LastStep() *StepRecord {
	if len(s.StepLog) == 0 {
		return nil
	}
	return &s.StepLog[len(s.StepLog)-1]
}

// Finish moves the session to a terminal status. A session finishes once.
func (s *AgentSession) Finish(status SessionStatus, now time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot finish session with non-terminal status %q", status)
	}
	if s.Status.IsTerminal() {
		return ErrSessionTerminal
	}
	s.Status = status
	s.EndedAt = now
	return nil
}

// History renders the step log for the reasoning collaborator, keeping at most
// the last window entries. A window of zero or less keeps everything.
func (s *AgentSession) History(window int) []string {
	steps := s.StepLog
	if window > 0 && len(steps) > window {
		steps = steps[len(steps)-window:]
	}
	lines := make([]string, 0, len(steps))
	for _, st := range steps {
		lines = append(lines, st.HistoryLine())
	}
	return lines
}

// Result snapshots the session into an AgentResult.
func (s *AgentSession) Result(err error) *AgentResult {
	log := make([]StepRecord, len(s.StepLog))
	copy(log, s.StepLog)
	res := &AgentResult{
		SessionID: s.ID,
		Goal:      s.Goal,
		Status:    s.Status,
		StepLog:   log,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
		Err:       err,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// AgentResult is what a run returns to its caller.
type AgentResult struct {
	SessionID string        `json:"session_id"`
	Goal      Goal          `json:"goal"`
	Status    SessionStatus `json:"status"`
	StepLog   []StepRecord  `json:"step_log"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Error     string        `json:"error,omitempty"`

	// Err is the fatal error behind an ERROR status, or the session
	// wall-clock timeout behind a TIMEOUT. It is nil otherwise.
	Err error `json:"-"`
}
