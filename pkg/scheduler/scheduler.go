package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"agrisafe_consensus/pkg/config"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskExists    = errors.New("task already scheduled")
	ErrEmptyTaskName = errors.New("task name cannot be empty")
	ErrNilTaskFunc   = errors.New("task function cannot be nil")
)

// cron specs include a seconds field
var specParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// TaskStatus represents the current state of a maintenance task
type TaskStatus string

const (
	TaskStatusPending  TaskStatus = "pending"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusComplete TaskStatus = "complete"
	TaskStatusFailed   TaskStatus = "failed"
)

// Task is a named maintenance job with a cron schedule
type Task struct {
	Name       string
	Schedule   string
	LastRun    time.Time
	NextRun    time.Time
	Status     TaskStatus
	Error      error
	RetryCount int
	MaxRetries int
	Run        func(context.Context) error

	cronID cron.EntryID
}

// Metrics tracks scheduler activity
type Metrics struct {
	TasksScheduled int64
	TasksCompleted int64
	TasksFailed    int64
	AverageLatency time.Duration
	LastUpdate     time.Time
}

// Scheduler runs periodic maintenance jobs such as audit and
// monitoring retention sweeps. Concurrency is bounded by a worker
// pool; failed runs retry with a fixed delay.
type Scheduler struct {
	cron       *cron.Cron
	tasks      map[string]*Task
	cfg        config.SchedConfig
	metrics    Metrics
	workerPool chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewScheduler creates a scheduler from configuration
func NewScheduler(cfg config.SchedConfig, logger *zap.Logger) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:       cron.New(cron.WithParser(specParser)),
		tasks:      make(map[string]*Task),
		cfg:        cfg,
		workerPool: make(chan struct{}, cfg.MaxConcurrent),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}
}

// Start begins running scheduled tasks
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler",
		zap.Int("maxConcurrent", s.cfg.MaxConcurrent))
	s.cron.Start()
}

// Stop cancels pending work and waits for running tasks to finish
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.cancel()
	<-s.cron.Stop().Done()
}

// ScheduleTask registers a named task. Returns ErrTaskExists if a task
// with the same name is already scheduled.
func (s *Scheduler) ScheduleTask(task *Task) error {
	if err := validateTask(task); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.Name)
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = s.cfg.RetryAttempts
	}

	cronID, err := s.cron.AddFunc(task.Schedule, func() {
		s.executeTask(s.ctx, task)
	})
	if err != nil {
		return fmt.Errorf("scheduling task: %w", err)
	}

	task.cronID = cronID
	task.Status = TaskStatusPending
	task.NextRun = s.cron.Entry(cronID).Next
	s.tasks[task.Name] = task
	s.metrics.TasksScheduled++
	s.metrics.LastUpdate = time.Now()

	s.logger.Info("Task scheduled",
		zap.String("task", task.Name),
		zap.String("schedule", task.Schedule),
		zap.Time("nextRun", task.NextRun))
	return nil
}

// UnscheduleTask removes a task by name
func (s *Scheduler) UnscheduleTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}

	s.cron.Remove(task.cronID)
	delete(s.tasks, name)

	s.logger.Info("Task unscheduled", zap.String("task", name))
	return nil
}

// UpdateTaskSchedule moves an existing task to a new cron spec
func (s *Scheduler) UpdateTaskSchedule(name, schedule string) error {
	if _, err := specParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}

	s.cron.Remove(task.cronID)
	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeTask(s.ctx, task)
	})
	if err != nil {
		return fmt.Errorf("updating task schedule: %w", err)
	}

	task.Schedule = schedule
	task.cronID = cronID
	task.NextRun = s.cron.Entry(cronID).Next

	s.logger.Info("Task schedule updated",
		zap.String("task", name),
		zap.String("schedule", schedule))
	return nil
}

// GetTask returns a copy of a task's current state
func (s *Scheduler) GetTask(name string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[name]
	if !exists {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return *task, nil
}

// ListTasks returns copies of all scheduled tasks
func (s *Scheduler) ListTasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, *task)
	}
	return tasks
}

// RunNow executes a task immediately, outside its schedule
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	task, exists := s.tasks[name]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}

	s.executeTask(s.ctx, task)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return task.Error
}

// Stats returns current scheduler metrics
func (s *Scheduler) Stats() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// Internal methods

func (s *Scheduler) executeTask(ctx context.Context, task *Task) {
	select {
	case s.workerPool <- struct{}{}:
		defer func() { <-s.workerPool }()
	case <-ctx.Done():
		return
	}

	start := time.Now()

	s.mu.Lock()
	task.Status = TaskStatusRunning
	task.LastRun = start
	s.mu.Unlock()

	err := s.runWithRetries(ctx, task)

	s.mu.Lock()
	if err != nil {
		task.Status = TaskStatusFailed
		task.Error = err
		s.metrics.TasksFailed++
	} else {
		task.Status = TaskStatusComplete
		task.Error = nil
		s.metrics.TasksCompleted++
	}
	task.NextRun = s.cron.Entry(task.cronID).Next
	s.metrics.AverageLatency = (s.metrics.AverageLatency*9 + time.Since(start)) / 10
	s.metrics.LastUpdate = time.Now()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Task failed",
			zap.String("task", task.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Info("Task completed",
		zap.String("task", task.Name),
		zap.Duration("duration", time.Since(start)))
}

func (s *Scheduler) runWithRetries(ctx context.Context, task *Task) error {
	var lastErr error

	for attempt := 0; attempt <= task.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := task.Run(ctx); err != nil {
			lastErr = err
			s.mu.Lock()
			task.RetryCount = attempt
			s.mu.Unlock()
			s.logger.Warn("Task attempt failed",
				zap.String("task", task.Name),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		return nil
	}

	return fmt.Errorf("task failed after %d retries: %w", task.MaxRetries, lastErr)
}

func validateTask(task *Task) error {
	if task.Name == "" {
		return ErrEmptyTaskName
	}
	if task.Run == nil {
		return ErrNilTaskFunc
	}
	if _, err := specParser.Parse(task.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule: %w", err)
	}
	return nil
}
