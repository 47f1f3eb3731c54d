package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hpn/hpn-c-relay/internal/domain"
	"github.com/hpn/hpn-c-relay/internal/metrics"
	"github.com/hpn/hpn-c-relay/internal/security"
)

// Cleanup defaults.
const (
	DefaultCleanupAttempts = 3
	DefaultCleanupDelay    = 2 * time.Second
	DefaultCleanupWorkers  = 4
	DefaultCleanupQueue    = 256
)

// Deleter removes an upstream conversation.
type Deleter interface {
	DeleteConversation(ctx context.Context, conv domain.Conversation) error
}

// CleanupTask is one conversation waiting for deletion.
type CleanupTask struct {
	Deleter      Deleter
	Conversation domain.Conversation
	SessionKey   string
}

// CleanupConfig tunes the scheduler. Zero values fall back to the defaults.
type CleanupConfig struct {
	Attempts      int
	Delay         time.Duration
	Workers       int
	QueueSize     int
	RatePerSecond float64
}

// CleanupScheduler deletes conversations in the background. Its context is
// process-scoped so a cancelled request never cancels a scheduled deletion.
type CleanupScheduler struct {
	cfg     CleanupConfig
	queue   chan CleanupTask
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	logger    *slog.Logger
	metrics   *metrics.Metrics
	onFailure func(task CleanupTask, err error)
}

// CleanupOption configures the CleanupScheduler.
type CleanupOption func(*CleanupScheduler)

// WithCleanupLogger sets the logger.
func WithCleanupLogger(logger *slog.Logger) CleanupOption {
	return func(s *CleanupScheduler) {
		s.logger = logger
	}
}

// WithCleanupMetrics sets the metrics recorder.
func WithCleanupMetrics(m *metrics.Metrics) CleanupOption {
	return func(s *CleanupScheduler) {
		s.metrics = m
	}
}

// WithFailureHook is called once per task whose every attempt failed.
func WithFailureHook(fn func(task CleanupTask, err error)) CleanupOption {
	return func(s *CleanupScheduler) {
		s.onFailure = fn
	}
}

// NewCleanupScheduler creates a scheduler and starts its workers. parent
// should be a process-lifetime context, never a request context.
func NewCleanupScheduler(parent context.Context, cfg CleanupConfig, opts ...CleanupOption) *CleanupScheduler {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultCleanupAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultCleanupDelay
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultCleanupWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultCleanupQueue
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	ctx, cancel := context.WithCancel(parent)
	s := &CleanupScheduler{
		cfg:     cfg,
		queue:   make(chan CleanupTask, cfg.QueueSize),
		limiter: rate.NewLimiter(limit, cfg.Workers),
		ctx:     ctx,
		cancel:  cancel,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	return s
}

// Schedule queues task and returns immediately. When the queue is full the
// task runs on its own goroutine instead of being dropped.
func (s *CleanupScheduler) Schedule(task CleanupTask) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.logger.Warn("cleanup scheduler stopped, conversation left behind",
			slog.String("conversation_id", task.Conversation.ID),
		)
		s.metrics.IncCleanup("dropped")
		return
	}

	select {
	case s.queue <- task:
		s.metrics.SetCleanupQueue(len(s.queue))
	default:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(task)
		}()
	}
}

// Stop refuses new tasks and waits for queued ones until ctx is done, after
// which in-flight retries are abandoned.
func (s *CleanupScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *CleanupScheduler) worker() {
	defer s.wg.Done()
	for task := range s.queue {
		s.metrics.SetCleanupQueue(len(s.queue))
		s.run(task)
	}
}

// run tries the deletion up to cfg.Attempts times with cfg.Delay between
// failures. Errors are logged and never returned.
func (s *CleanupScheduler) run(task CleanupTask) {
	logger := s.logger.With(
		slog.String("conversation_id", task.Conversation.ID),
		slog.String("session", security.MaskKey(task.SessionKey)),
	)

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		if err := s.limiter.Wait(s.ctx); err != nil {
			lastErr = err
			break
		}

		lastErr = task.Deleter.DeleteConversation(s.ctx, task.Conversation)
		if lastErr == nil {
			logger.Debug("conversation deleted", slog.Int("attempt", attempt))
			s.metrics.IncCleanup("deleted")
			return
		}

		logger.Warn("conversation delete failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", s.cfg.Attempts),
			slog.String("error", lastErr.Error()),
		)

		if attempt == s.cfg.Attempts {
			break
		}
		if !sleepCtx(s.ctx, s.cfg.Delay) {
			lastErr = s.ctx.Err()
			break
		}
	}

	err := fmt.Errorf("%w: %w", domain.ErrCleanupFailed, lastErr)
	if errors.Is(lastErr, context.Canceled) {
		logger.Warn("conversation delete abandoned at shutdown")
	} else {
		logger.Error("conversation delete gave up", slog.String("error", err.Error()))
	}
	s.metrics.IncCleanup("failed")
	if s.onFailure != nil {
		s.onFailure(task, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
