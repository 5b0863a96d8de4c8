// Package rolehub provides named, buffered message channels between the
// roles participating in a pipeline stage: unicast, multicast and broadcast
// delivery, FIFO per recipient.
package rolehub

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by SendTo when the target role was never registered.
var ErrNotFound = errors.New("rolehub: role not found")

// ErrClosed is returned by SendTo when the target role's receiver has been
// unregistered (its channel closed).
var ErrClosed = errors.New("rolehub: channel closed")

// Kind discriminates the payload carried by a Message.
type Kind string

const (
	KindTaskAssignment       Kind = "task_assignment"
	KindDesignReady          Kind = "design_ready"
	KindImplementationReady  Kind = "implementation_ready"
	KindTestResult           Kind = "test_result"
	KindFixApplied           Kind = "fix_applied"
	KindWorkComplete         Kind = "work_complete"
	KindErrorOccurred        Kind = "error_occurred"
	KindGuidance             Kind = "guidance"
	KindClarification        Kind = "clarification"
	KindStageAdvance         Kind = "stage_advance"
)

// TaskAssignment: coordinator assigns a task to a role.
type TaskAssignment struct {
	TargetRole  string
	TaskID      string
	Description string
}

// DesignReady: architect hands a design to executors.
type DesignReady struct {
	TaskID string
	Design string
}

// ImplementationReady: an executor signals its change is ready for test.
type ImplementationReady struct {
	ExecutorID   string
	TaskID       string
	FilesChanged []string
	Summary      string
}

// TestResult: tester reports pass/fail and optional coverage ratio.
type TestResult struct {
	TaskID   string
	Passed   bool
	Failures []string
	Coverage *float64
}

// FixApplied: debugger reports a fix for a reported issue.
type FixApplied struct {
	TaskID     string
	Issue      string
	FixSummary string
}

// WorkComplete: a role signals it finished its assignment.
type WorkComplete struct {
	Role   string
	TaskID string
	Success bool
	Result  string
}

// ErrorOccurred: a role reports a failure it could not recover from.
type ErrorOccurred struct {
	Role   string
	TaskID string
	Error  string
}

// Guidance: coordinator guidance directed at a specific role.
type Guidance struct {
	To      string
	Content string
}

// Clarification: one role asks another a question.
type Clarification struct {
	FromRole string
	ToRole   string
	Question string
}

// StageAdvance: pipeline stage transition notice.
type StageAdvance struct {
	TaskID    string
	FromStage string
	Stage     string
}

// Message is a tagged union of every role-channel payload. Exactly one of
// the pointer fields matching Kind is populated.
type Message struct {
	Kind Kind

	TaskAssignment      *TaskAssignment
	DesignReady         *DesignReady
	ImplementationReady *ImplementationReady
	TestResult          *TestResult
	FixApplied          *FixApplied
	WorkComplete        *WorkComplete
	ErrorOccurred       *ErrorOccurred
	Guidance            *Guidance
	Clarification       *Clarification
	StageAdvance        *StageAdvance
}

// Hub is a channel hub for role communication. Every registered role owns a
// buffered channel of size BufferSize; broadcast and multicast sends are
// best-effort, per-role sends suspend when that role's channel is full.
type Hub struct {
	mu         sync.RWMutex
	channels   map[string]chan Message
	closed     map[string]bool
	bufferSize int
}

// New creates a channel hub with the given per-role buffer size.
func New(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Hub{
		channels:   make(map[string]chan Message),
		closed:     make(map[string]bool),
		bufferSize: bufferSize,
	}
}

// Register creates (or replaces) the named role's channel and returns its
// receive end. Re-registering an existing role replaces the sender; the old
// channel is closed so any reader blocked on it observes closure.
func (h *Hub) Register(role string) <-chan Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.channels[role]; ok && !h.closed[role] {
		close(old)
	}
	ch := make(chan Message, h.bufferSize)
	h.channels[role] = ch
	h.closed[role] = false
	return ch
}

// Unregister closes the named role's channel. Subsequent sends to it return
// ErrClosed.
func (h *Hub) Unregister(role string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[role]; ok && !h.closed[role] {
		close(ch)
		h.closed[role] = true
	}
}

// SendTo delivers msg to the named role, suspending if that role's channel
// is full until ctx is done. Returns ErrNotFound for an unknown role and
// ErrClosed if the role's channel has been unregistered.
func (h *Hub) SendTo(ctx context.Context, role string, msg Message) error {
	h.mu.RLock()
	ch, ok := h.channels[role]
	isClosed := h.closed[role]
	h.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}
	if isClosed {
		return ErrClosed
	}

	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendToMany unicasts msg to each named role, best-effort: delivery failures
// to individual roles (unknown, closed, or a full channel past ctx's
// deadline) are silently ignored.
func (h *Hub) SendToMany(ctx context.Context, roles []string, msg Message) {
	for _, role := range roles {
		_ = h.SendTo(ctx, role, msg)
	}
}

// Broadcast best-effort sends msg to every registered role. It never blocks
// the caller on a slow receiver beyond ctx's deadline; use SendTo directly
// when delivery must be guaranteed.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	h.mu.RLock()
	roles := make([]string, 0, len(h.channels))
	for role, ok := range h.closed {
		if !ok {
			roles = append(roles, role)
		}
	}
	h.mu.RUnlock()

	for _, role := range roles {
		_ = h.SendTo(ctx, role, msg)
	}
}

// HasRole reports whether role is currently registered and open.
func (h *Hub) HasRole(role string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[role]
	return ok && !h.closed[role]
}

// Roles returns every currently open role name, in no particular order.
func (h *Hub) Roles() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	roles := make([]string, 0, len(h.channels))
	for role, closed := range h.closed {
		if !closed {
			roles = append(roles, role)
		}
	}
	return roles
}

// AssignTask builds a TaskAssignment message.
func AssignTask(target, taskID, desc string) Message {
	return Message{Kind: KindTaskAssignment, TaskAssignment: &TaskAssignment{TargetRole: target, TaskID: taskID, Description: desc}}
}

// DesignReadyMsg builds a DesignReady message.
func DesignReadyMsg(taskID, design string) Message {
	return Message{Kind: KindDesignReady, DesignReady: &DesignReady{TaskID: taskID, Design: design}}
}

// ImplementationReadyMsg builds an ImplementationReady message.
func ImplementationReadyMsg(executorID, taskID string, files []string, summary string) Message {
	return Message{Kind: KindImplementationReady, ImplementationReady: &ImplementationReady{
		ExecutorID: executorID, TaskID: taskID, FilesChanged: files, Summary: summary,
	}}
}

// TestResultMsg builds a TestResult message with no coverage figure.
func TestResultMsg(taskID string, passed bool, failures []string) Message {
	return Message{Kind: KindTestResult, TestResult: &TestResult{TaskID: taskID, Passed: passed, Failures: failures}}
}

// ErrorMsg builds an ErrorOccurred message. taskID may be empty.
func ErrorMsg(role, taskID, errText string) Message {
	return Message{Kind: KindErrorOccurred, ErrorOccurred: &ErrorOccurred{Role: role, TaskID: taskID, Error: errText}}
}

// GuidanceMsg builds a Guidance message.
func GuidanceMsg(to, content string) Message {
	return Message{Kind: KindGuidance, Guidance: &Guidance{To: to, Content: content}}
}

// WorkDoneMsg builds a WorkComplete message.
func WorkDoneMsg(role, taskID string, success bool, output string) Message {
	return Message{Kind: KindWorkComplete, WorkComplete: &WorkComplete{Role: role, TaskID: taskID, Success: success, Result: output}}
}

// AdvanceStageMsg builds a StageAdvance message.
func AdvanceStageMsg(taskID, from, to string) Message {
	return Message{Kind: KindStageAdvance, StageAdvance: &StageAdvance{TaskID: taskID, FromStage: from, Stage: to}}
}
