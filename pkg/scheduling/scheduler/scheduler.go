package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vnykmshr/stageflow/pkg/logging"
)

// Task is a unit of scheduled work.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

// Execute calls f.
func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// Entry describes a scheduled task.
type Entry struct {
	ID       string
	Spec     string
	Next     time.Time
	Prev     time.Time
	RunCount int64
	Created  time.Time
}

// Scheduler runs maintenance tasks on cron schedules.
type Scheduler interface {
	// ScheduleCron schedules task with a cron expression. A leading
	// seconds field is optional, and descriptors such as "@every 30s" or
	// "@hourly" are accepted.
	ScheduleCron(id string, cronExpr string, task Task) error

	// ScheduleRepeating runs task every interval.
	ScheduleRepeating(id string, task Task, interval time.Duration) error

	// RunNow executes a scheduled task synchronously.
	RunNow(ctx context.Context, id string) error

	Cancel(id string) bool
	CancelAll()
	List() []Entry

	Start() error
	// Stop stops scheduling and returns a channel closed once running
	// tasks have finished.
	Stop() <-chan struct{}
}

// Config holds scheduler configuration.
type Config struct {
	// Location evaluates cron expressions. Defaults to time.Local.
	Location *time.Location

	// TaskTimeout bounds each run. Zero means no limit.
	TaskTimeout time.Duration

	// OnError is called when a run fails.
	OnError func(id string, err error)

	// OnTaskComplete is called after every run.
	OnTaskComplete func(id string, duration time.Duration, err error)

	Logger logging.Logger
}

type scheduledTask struct {
	id       string
	spec     string
	task     Task
	entryID  cron.EntryID
	created  time.Time
	runCount int64
}

type scheduler struct {
	config Config
	parser cron.Parser
	cron   *cron.Cron
	log    logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	tasks   map[string]*scheduledTask
	running bool
}

// Parser accepts five-field expressions with an optional leading seconds
// field, plus descriptors.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New creates a scheduler with default configuration.
func New() Scheduler {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a scheduler with custom configuration.
func NewWithConfig(cfg Config) Scheduler {
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	log := logging.OrNop(cfg.Logger)
	cl := cronLogger{log}

	ctx, cancel := context.WithCancel(context.Background())
	return &scheduler{
		config: cfg,
		parser: Parser,
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithParser(Parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*scheduledTask),
	}
}

// ValidateCronExpression reports whether expr parses.
func ValidateCronExpression(expr string) error {
	if _, err := Parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression '%s': %w", expr, err)
	}
	return nil
}

func (s *scheduler) ScheduleCron(id string, cronExpr string, task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if id == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression '%s': %w", cronExpr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[id]; exists {
		return fmt.Errorf("task with ID '%s' already exists", id)
	}

	st := &scheduledTask{id: id, spec: cronExpr, task: task, created: time.Now()}
	st.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() { _ = s.execute(s.ctx, st) }))
	s.tasks[id] = st
	return nil
}

func (s *scheduler) ScheduleRepeating(id string, task Task, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	return s.ScheduleCron(id, "@every "+interval.String(), task)
}

func (s *scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.RLock()
	st, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task '%s' not found", id)
	}
	return s.execute(ctx, st)
}

func (s *scheduler) execute(ctx context.Context, st *scheduledTask) (err error) {
	if s.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.TaskTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", st.id, r)
		}
		s.mu.Lock()
		st.runCount++
		s.mu.Unlock()

		if err != nil {
			s.log.Warn("scheduled task failed", logging.Fields{"task": st.id, "error": err.Error()})
			if s.config.OnError != nil {
				s.config.OnError(st.id, err)
			}
		}
		if s.config.OnTaskComplete != nil {
			s.config.OnTaskComplete(st.id, time.Since(start), err)
		}
	}()

	return st.task.Execute(ctx)
}

func (s *scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[id]
	if !ok {
		return false
	}
	s.cron.Remove(st.entryID)
	delete(s.tasks, id)
	return true
}

func (s *scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, st := range s.tasks {
		s.cron.Remove(st.entryID)
		delete(s.tasks, id)
	}
}

func (s *scheduler) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.tasks))
	for _, st := range s.tasks {
		ce := s.cron.Entry(st.entryID)
		entries = append(entries, Entry{
			ID:       st.id,
			Spec:     st.spec,
			Next:     ce.Next,
			Prev:     ce.Prev,
			RunCount: st.runCount,
			Created:  st.created,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

func (s *scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.cron.Start()
	return nil
}

func (s *scheduler) Stop() <-chan struct{} {
	done := make(chan struct{})

	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if !wasRunning {
		close(done)
		return done
	}

	stopped := s.cron.Stop()
	go func() {
		<-stopped.Done()
		s.cancel()
		close(done)
	}()
	return done
}

// cronLogger routes robfig/cron's logging into a logging.Logger.
type cronLogger struct {
	log logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, fields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	f := fields(keysAndValues)
	f["error"] = err.Error()
	l.log.Error("cron: "+msg, f)
}

func fields(keysAndValues []interface{}) logging.Fields {
	f := make(logging.Fields, len(keysAndValues)/2+1)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
