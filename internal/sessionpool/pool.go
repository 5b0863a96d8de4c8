// Package sessionpool implements a bounded pool of concurrent agent
// sessions multiplexed over a priority-ordered task queue, with
// autoscaling, health surveillance, backpressure admission control, and
// retry-with-migration of stuck work.
package sessionpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autodrive/core/internal/metrics"
)

// SessionState is the lifecycle state of a pooled session.
type SessionState int

const (
	Idle SessionState = iota
	Running
	Slow
	Stuck
	SessionError
	ShuttingDown
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Slow:
		return "Slow"
	case Stuck:
		return "Stuck"
	case SessionError:
		return "Error"
	case ShuttingDown:
		return "ShuttingDown"
	default:
		return "Unknown"
	}
}

// Config tunes pool behavior. Zero-value fields are replaced with defaults
// by New.
type Config struct {
	MaxSessions           int
	MinSessions           int
	ScaleUpThreshold      float64
	ScaleDownThreshold    float64
	SlowThreshold         time.Duration
	StuckThreshold        time.Duration
	MaxRetries            int
	BackpressureThreshold int
}

// DefaultConfig returns the pool's default tuning.
func DefaultConfig() Config {
	return Config{
		MaxSessions:           20,
		MinSessions:           5,
		ScaleUpThreshold:      0.8,
		ScaleDownThreshold:    0.3,
		SlowThreshold:         120 * time.Second,
		StuckThreshold:        300 * time.Second,
		MaxRetries:            3,
		BackpressureThreshold: 200,
	}
}

// Task is a unit of work submitted to the pool.
type Task struct {
	ID        string
	Prompt    string
	Priority  int
	Retries   int
	CreatedAt time.Time
}

// NewTask creates a priority-1 task stamped with the current time.
func NewTask(id, prompt string) Task {
	return Task{ID: id, Prompt: prompt, Priority: 1, CreatedAt: time.Now()}
}

// WithPriority returns a copy of t with Priority set.
func (t Task) WithPriority(priority int) Task {
	t.Priority = priority
	return t
}

// Result is the outcome of a completed pool task.
type Result struct {
	TaskID     string
	SessionID  string
	Success    bool
	Content    string
	TokensUsed int64
	Duration   time.Duration
}

// session is the pool's private bookkeeping record for one session.
type session struct {
	id             string
	state          SessionState
	currentTask    *Task
	startedAt      *time.Time
	tasksCompleted int
	tokensUsed     int64
	release        func()
}

func newSession(id string) *session {
	return &session{id: id, state: Idle}
}

// taskQueue is a three-class FIFO priority queue: High (priority>=3),
// Normal (priority==2), Low (everything else).
type taskQueue struct {
	classes [3][]Task
	total   int
}

func classIndex(priority int) int {
	switch {
	case priority >= 3:
		return 0
	case priority == 2:
		return 1
	default:
		return 2
	}
}

func (q *taskQueue) push(t Task) {
	idx := classIndex(t.Priority)
	q.classes[idx] = append(q.classes[idx], t)
	q.total++
}

func (q *taskQueue) pushFront(t Task) {
	idx := classIndex(t.Priority)
	q.classes[idx] = append([]Task{t}, q.classes[idx]...)
	q.total++
}

func (q *taskQueue) pop() (Task, bool) {
	for i := range q.classes {
		if len(q.classes[i]) > 0 {
			t := q.classes[i][0]
			q.classes[i] = q.classes[i][1:]
			q.total--
			return t, true
		}
	}
	return Task{}, false
}

func (q *taskQueue) len() int {
	return q.total
}

// Metrics is a point-in-time snapshot of pool counters and gauges.
type Metrics struct {
	TasksSubmitted        int64
	TasksCompleted        int64
	TasksFailed           int64
	TotalTokens           int64
	QueueSize             int
	ActiveSessions        int
	IdleSessions          int
	AvgTaskDurationMs     int64
	AvgQueueLatencyMs     int64
	RetryCount            int
	FailureCount          int
	StuckCount            int
	MigrationCount        int
	BackpressureWarnings  int
	BackpressureRejections int
}

// BackpressureFullError is returned when the queue is at or past its
// effective threshold.
type BackpressureFullError struct{ Current, Max int }

func (e *BackpressureFullError) Error() string {
	return fmt.Sprintf("backpressure: queue full (%d/%d)", e.Current, e.Max)
}

// NoAvailableSessionsError is returned when dispatch cannot find or create a session.
type NoAvailableSessionsError struct{}

func (e *NoAvailableSessionsError) Error() string { return "no available sessions" }

// SessionStuckError is returned both as a stuck signal and (confusingly,
// carried over from the original implementation) as "session not found" at
// completion time.
type SessionStuckError struct{ SessionID string }

func (e *SessionStuckError) Error() string { return fmt.Sprintf("session %s stuck", e.SessionID) }

// MaxRetriesExceededError marks a task that was not resubmitted after migration.
type MaxRetriesExceededError struct {
	TaskID  string
	Retries int
	Max     int
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("task %s exceeded max retries (%d/%d)", e.TaskID, e.Retries, e.Max)
}

// ErrShuttingDown is returned by submit/dispatch once shutdown has begun.
type ErrShuttingDown struct{}

func (e *ErrShuttingDown) Error() string { return "pool shutting down" }

// AlertKind discriminates a BackpressureAlert's shape.
type AlertKind int

const (
	AlertBackpressureWarning AlertKind = iota
	AlertBackpressureExceeded
)

// BackpressureAlert is raised when queue pressure crosses a threshold.
type BackpressureAlert struct {
	Kind      AlertKind
	QueueSize int
	Limit     int
}

// MigrationEvent records a stuck session's task being requeued.
type MigrationEvent struct {
	FromSession string
	ToSession   string
	TaskID      string
	RetryCount  int
}

// HealthReport is the result of a health check pass.
type HealthReport struct {
	SlowSessions  []SessionElapsed
	StuckSessions []SessionElapsed
	Migrations    []MigrationEvent
}

// SessionElapsed names one session and how long its current task has run.
type SessionElapsed struct {
	SessionID string
	ElapsedMs int64
	TaskID    string
}

// AlertPublisher receives pool alerts for best-effort fan-out (e.g. desktop
// notifications). Nil is a valid, no-op publisher.
type AlertPublisher interface {
	PublishBackpressure(BackpressureAlert)
	PublishMigration(MigrationEvent)
}

// Pool multiplexes a bounded number of concurrent sessions over a
// priority-ordered task queue.
type Pool struct {
	config Config

	sessionsMu sync.RWMutex
	sessions   map[string]*session

	queueMu sync.Mutex
	queue   taskQueue

	sem chan struct{}

	resultCh chan Result

	metricsMu sync.RWMutex
	metrics   Metrics

	alertMu sync.Mutex
	alert   *BackpressureAlert

	shutdownMu sync.RWMutex
	shutdown   bool

	recorder  metrics.Recorder
	publisher AlertPublisher
}

// Option configures optional pool collaborators.
type Option func(*Pool)

// WithRecorder attaches a metrics.Recorder; omitted pools use a NoopRecorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Pool) { p.recorder = r }
}

// WithAlertPublisher attaches a best-effort alert fan-out target.
func WithAlertPublisher(pub AlertPublisher) Option {
	return func(p *Pool) { p.publisher = pub }
}

// New creates a session pool with the given configuration.
func New(config Config, opts ...Option) *Pool {
	defaultCfg := DefaultConfig()
	if config.BackpressureThreshold <= 0 ||
		(config.BackpressureThreshold == defaultCfg.BackpressureThreshold && config.MaxSessions != defaultCfg.MaxSessions) {
		config.BackpressureThreshold = config.MaxSessions * 10
	}

	maxSessions := config.MaxSessions
	if maxSessions < 1 {
		maxSessions = 1
	}

	sem := make(chan struct{}, maxSessions)
	for i := 0; i < maxSessions; i++ {
		sem <- struct{}{}
	}

	p := &Pool{
		config:   config,
		sessions: make(map[string]*session),
		sem:      sem,
		resultCh: make(chan Result, maxSessions*2),
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) acquirePermit(ctx context.Context) (func(), error) {
	select {
	case <-p.sem:
		released := false
		var once sync.Once
		release := func() {
			once.Do(func() {
				released = true
				p.sem <- struct{}{}
			})
		}
		_ = released
		return release, nil
	case <-ctx.Done():
		return nil, &ErrShuttingDown{}
	}
}

func (p *Pool) isShuttingDown() bool {
	p.shutdownMu.RLock()
	defer p.shutdownMu.RUnlock()
	return p.shutdown
}

func (p *Pool) refreshMetrics() {
	p.queueMu.Lock()
	queueSize := p.queue.len()
	p.queueMu.Unlock()

	p.sessionsMu.RLock()
	var active, idleCount int
	for _, s := range p.sessions {
		switch s.state {
		case Running:
			active++
		case Idle:
			idleCount++
		}
	}
	p.sessionsMu.RUnlock()

	p.metricsMu.Lock()
	p.metrics.QueueSize = queueSize
	p.metrics.ActiveSessions = active
	p.metrics.IdleSessions = idleCount
	p.metricsMu.Unlock()

	p.recorder.SetGauge("pool_queue_size", float64(queueSize), nil)
	p.recorder.SetGauge("pool_active_sessions", float64(active), nil)
	p.recorder.SetGauge("pool_idle_sessions", float64(idleCount), nil)
}

// Submit admits a task into the pool, subject to backpressure.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if p.isShuttingDown() {
		return &ErrShuttingDown{}
	}

	threshold := p.config.BackpressureThreshold
	if threshold < 1 {
		threshold = 1
	}
	warningThreshold := ceilPercent(threshold, 0.8)

	p.queueMu.Lock()
	current := p.queue.len()
	projected := current + 1

	if current >= threshold {
		p.queueMu.Unlock()
		p.metricsMu.Lock()
		p.metrics.BackpressureRejections++
		p.metricsMu.Unlock()
		p.setAlert(BackpressureAlert{Kind: AlertBackpressureExceeded, QueueSize: current, Limit: threshold})
		p.recorder.IncrCounter("pool_backpressure_rejections", nil)
		return &BackpressureFullError{Current: current, Max: threshold}
	}

	if projected >= warningThreshold {
		p.metricsMu.Lock()
		p.metrics.BackpressureWarnings++
		p.metricsMu.Unlock()
		p.setAlert(BackpressureAlert{Kind: AlertBackpressureWarning, QueueSize: projected, Limit: threshold})
		p.recorder.IncrCounter("pool_backpressure_warnings", nil)
	}

	p.queue.push(task)
	queueSize := p.queue.len()
	p.queueMu.Unlock()

	p.metricsMu.Lock()
	p.metrics.TasksSubmitted++
	p.metrics.QueueSize = queueSize
	p.metricsMu.Unlock()
	p.recorder.IncrCounter("pool_tasks_submitted", nil)

	p.refreshMetrics()
	_, _ = p.DispatchFromQueue(ctx)
	return nil
}

func (p *Pool) setAlert(a BackpressureAlert) {
	p.alertMu.Lock()
	p.alert = &a
	p.alertMu.Unlock()
	if p.publisher != nil {
		p.publisher.PublishBackpressure(a)
	}
}

func ceilPercent(n int, frac float64) int {
	v := float64(n) * frac
	c := int(v)
	if float64(c) < v {
		c++
	}
	return c
}

// createSession creates a new idle session and returns its id.
func (p *Pool) createSession() string {
	id := uuid.NewString()
	p.sessionsMu.Lock()
	p.sessions[id] = newSession(id)
	p.sessionsMu.Unlock()
	p.refreshMetrics()
	return id
}

// Warmup creates idle sessions until at least MinSessions exist.
func (p *Pool) Warmup() {
	target := p.config.MinSessions
	if target < 0 {
		target = 0
	}
	for {
		p.sessionsMu.RLock()
		current := len(p.sessions)
		p.sessionsMu.RUnlock()
		if current >= target {
			break
		}
		p.createSession()
	}
}

// DispatchFromQueue pops one task and dispatches it, pushing it back to the
// front of its class on failure to preserve order.
func (p *Pool) DispatchFromQueue(ctx context.Context) (string, error) {
	p.queueMu.Lock()
	task, ok := p.queue.pop()
	p.queueMu.Unlock()

	if !ok {
		p.refreshMetrics()
		return "", nil
	}

	sessionID, err := p.DispatchTask(ctx, task)
	if err != nil {
		p.queueMu.Lock()
		p.queue.pushFront(task)
		p.queueMu.Unlock()
		p.refreshMetrics()
		if _, ok := err.(*NoAvailableSessionsError); ok {
			return "", nil
		}
		return "", err
	}
	return sessionID, nil
}

// DispatchTask assigns task to an idle session, creating one if capacity allows.
func (p *Pool) DispatchTask(ctx context.Context, task Task) (string, error) {
	if p.isShuttingDown() {
		return "", &ErrShuttingDown{}
	}

	release, err := p.acquirePermit(ctx)
	if err != nil {
		return "", err
	}

	queueLatencyMs := time.Since(task.CreatedAt).Milliseconds()

	var sessionID string
	p.sessionsMu.Lock()
	for id, s := range p.sessions {
		if s.state == Idle {
			s.state = Running
			t := task
			s.currentTask = &t
			now := time.Now()
			s.startedAt = &now
			s.release = release
			sessionID = id
			break
		}
	}
	if sessionID == "" && len(p.sessions) < maxInt(p.config.MaxSessions, 1) {
		id := uuid.NewString()
		info := newSession(id)
		info.state = Running
		t := task
		info.currentTask = &t
		now := time.Now()
		info.startedAt = &now
		info.release = release
		p.sessions[id] = info
		sessionID = id
	}
	p.sessionsMu.Unlock()

	if sessionID != "" {
		p.metricsMu.Lock()
		denom := p.metrics.TasksSubmitted
		if denom < 1 {
			denom = 1
		}
		p.metrics.AvgQueueLatencyMs = ((p.metrics.AvgQueueLatencyMs * (denom - 1)) + queueLatencyMs) / denom
		p.metricsMu.Unlock()
		p.recorder.ObserveHistogram("pool_queue_latency_ms", float64(queueLatencyMs), nil)
		p.refreshMetrics()
		return sessionID, nil
	}

	release()
	return "", &NoAvailableSessionsError{}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// SessionForTask returns the id of the session currently running taskID, if any.
func (p *Pool) SessionForTask(taskID string) string {
	p.sessionsMu.RLock()
	defer p.sessionsMu.RUnlock()
	for id, s := range p.sessions {
		if s.currentTask != nil && s.currentTask.ID == taskID {
			return id
		}
	}
	return ""
}

// CompleteSession resets sessionID to Idle and records result. Returns
// SessionStuckError if sessionID is unknown.
func (p *Pool) CompleteSession(ctx context.Context, sessionID string, result Result) error {
	p.sessionsMu.Lock()
	s, ok := p.sessions[sessionID]
	if !ok {
		p.sessionsMu.Unlock()
		return &SessionStuckError{SessionID: sessionID}
	}
	s.state = Idle
	s.currentTask = nil
	s.startedAt = nil
	s.tasksCompleted++
	s.tokensUsed += result.TokensUsed
	if s.release != nil {
		s.release()
		s.release = nil
	}
	p.sessionsMu.Unlock()

	p.metricsMu.Lock()
	if result.Success {
		p.metrics.TasksCompleted++
	} else {
		p.metrics.TasksFailed++
		p.metrics.FailureCount++
	}
	p.metrics.TotalTokens += result.TokensUsed

	completed := p.metrics.TasksCompleted + p.metrics.TasksFailed
	if completed < 1 {
		completed = 1
	}
	durationMs := result.Duration.Milliseconds()
	p.metrics.AvgTaskDurationMs = ((p.metrics.AvgTaskDurationMs * (completed - 1)) + durationMs) / completed
	p.metricsMu.Unlock()

	if result.Success {
		p.recorder.IncrCounter("pool_tasks_completed", nil)
	} else {
		p.recorder.IncrCounter("pool_tasks_failed", nil)
	}
	p.recorder.ObserveHistogram("pool_task_duration_ms", float64(durationMs), nil)

	select {
	case p.resultCh <- result:
	default:
	}

	p.refreshMetrics()
	_, _ = p.DispatchFromQueue(ctx)
	return nil
}

// AutoScale adjusts the session count based on current utilization.
func (p *Pool) AutoScale() {
	utilization := p.Utilization()
	if utilization > p.config.ScaleUpThreshold {
		p.scaleUp()
	} else if utilization < p.config.ScaleDownThreshold {
		p.scaleDown()
	}
}

func (p *Pool) scaleUp() {
	target := p.config.MaxSessions
	if target < 0 {
		target = 0
	}
	for {
		p.sessionsMu.RLock()
		current := len(p.sessions)
		p.sessionsMu.RUnlock()
		if current >= target {
			break
		}
		p.createSession()
	}
}

func (p *Pool) scaleDown() {
	minSessions := p.config.MinSessions
	if minSessions < 0 {
		minSessions = 0
	}

	p.sessionsMu.Lock()
	defer p.sessionsMu.Unlock()

	current := len(p.sessions)
	if current <= minSessions {
		return
	}
	removable := current - minSessions

	var idleIDs []string
	for id, s := range p.sessions {
		if s.state == Idle {
			idleIDs = append(idleIDs, id)
		}
	}

	removed := 0
	for _, id := range idleIDs {
		if removed >= removable {
			break
		}
		delete(p.sessions, id)
		removed++
	}

	if removed > 0 {
		go p.refreshMetrics()
	}
}

// MigrateStuck requeues every Stuck session's task, failing it outright if
// it has already exceeded MaxRetries. Retry count is bumped before that
// check: the first migration of a task whose retries starts at 0 succeeds
// whenever MaxRetries >= 1, and only the (max_retries+1)th migration gives up.
func (p *Pool) MigrateStuck(ctx context.Context) []MigrationEvent {
	type retryable struct {
		fromSession string
		task        Task
	}
	var toRetry []retryable

	p.sessionsMu.Lock()
	for id, s := range p.sessions {
		if s.state == Stuck && s.currentTask != nil {
			task := *s.currentTask
			task.Retries++
			s.currentTask = nil
			s.state = Idle
			s.startedAt = nil
			if s.release != nil {
				s.release()
				s.release = nil
			}
			toRetry = append(toRetry, retryable{fromSession: id, task: task})
		}
	}
	p.sessionsMu.Unlock()

	var migrations []MigrationEvent

	for _, r := range toRetry {
		if r.task.Retries > p.config.MaxRetries {
			p.metricsMu.Lock()
			p.metrics.TasksFailed++
			p.metrics.FailureCount++
			p.metricsMu.Unlock()

			result := Result{
				TaskID:    r.task.ID,
				SessionID: r.fromSession,
				Success:   false,
				Content:   fmt.Sprintf("max retries exceeded after %d attempts", r.task.Retries),
			}
			select {
			case p.resultCh <- result:
			default:
			}
			continue
		}

		p.metricsMu.Lock()
		p.metrics.RetryCount++
		p.metricsMu.Unlock()

		_ = p.Submit(ctx, r.task)
		toSession, _ := p.DispatchFromQueue(ctx)

		migrations = append(migrations, MigrationEvent{
			FromSession: r.fromSession,
			ToSession:   toSession,
			TaskID:      r.task.ID,
			RetryCount:  r.task.Retries,
		})
		if p.publisher != nil {
			p.publisher.PublishMigration(migrations[len(migrations)-1])
		}
	}

	p.refreshMetrics()
	return migrations
}

// TryNextResult returns the next completed result without blocking.
func (p *Pool) TryNextResult() (Result, bool) {
	select {
	case r := <-p.resultCh:
		return r, true
	default:
		return Result{}, false
	}
}

// NextResult blocks until a result is available or ctx is done.
func (p *Pool) NextResult(ctx context.Context) (Result, bool) {
	select {
	case r := <-p.resultCh:
		return r, true
	case <-ctx.Done():
		return Result{}, false
	}
}

// Metrics returns a refreshed snapshot of pool counters and gauges.
func (p *Pool) Metrics() Metrics {
	p.refreshMetrics()
	p.metricsMu.RLock()
	defer p.metricsMu.RUnlock()
	return p.metrics
}

// TakeBackpressureAlert consumes and returns the latest alert, if any.
func (p *Pool) TakeBackpressureAlert() (BackpressureAlert, bool) {
	p.alertMu.Lock()
	defer p.alertMu.Unlock()
	if p.alert == nil {
		return BackpressureAlert{}, false
	}
	a := *p.alert
	p.alert = nil
	return a, true
}

// HealthCheck inspects every Running session's elapsed time, marking Slow
// or Stuck sessions, then migrates any newly-stuck work.
func (p *Pool) HealthCheck(ctx context.Context) HealthReport {
	now := time.Now()
	var foundStuck bool
	var slow, stuck []SessionElapsed

	p.sessionsMu.Lock()
	for _, s := range p.sessions {
		if s.state != Running || s.startedAt == nil {
			continue
		}
		elapsed := now.Sub(*s.startedAt)
		elapsedMs := elapsed.Milliseconds()
		taskID := ""
		if s.currentTask != nil {
			taskID = s.currentTask.ID
		}

		if elapsed > p.config.StuckThreshold {
			s.state = Stuck
			foundStuck = true
			stuck = append(stuck, SessionElapsed{SessionID: s.id, ElapsedMs: elapsedMs, TaskID: taskID})
		} else if elapsed > p.config.SlowThreshold {
			s.state = Slow
			slow = append(slow, SessionElapsed{SessionID: s.id, ElapsedMs: elapsedMs, TaskID: taskID})
		}
	}
	p.sessionsMu.Unlock()

	if len(stuck) > 0 {
		p.metricsMu.Lock()
		p.metrics.StuckCount += len(stuck)
		p.metricsMu.Unlock()
	}

	var migrations []MigrationEvent
	if foundStuck {
		migrations = p.MigrateStuck(ctx)
	}

	if len(migrations) > 0 {
		p.metricsMu.Lock()
		p.metrics.MigrationCount += len(migrations)
		p.metricsMu.Unlock()
	}

	return HealthReport{SlowSessions: slow, StuckSessions: stuck, Migrations: migrations}
}

// Shutdown flips the shutdown flag and marks every session ShuttingDown.
// Subsequent Submit/DispatchTask calls fail with ErrShuttingDown.
func (p *Pool) Shutdown() {
	p.shutdownMu.Lock()
	p.shutdown = true
	p.shutdownMu.Unlock()

	p.sessionsMu.Lock()
	for _, s := range p.sessions {
		s.state = ShuttingDown
	}
	p.sessionsMu.Unlock()
}

// Utilization returns the fraction of sessions currently Running (0 if empty).
func (p *Pool) Utilization() float64 {
	p.sessionsMu.RLock()
	defer p.sessionsMu.RUnlock()
	if len(p.sessions) == 0 {
		return 0
	}
	active := 0
	for _, s := range p.sessions {
		if s.state == Running {
			active++
		}
	}
	return float64(active) / float64(len(p.sessions))
}
