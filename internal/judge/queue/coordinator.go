// Package queue coordinates judge jobs: enqueue, consume, retry with backoff
// and dead lettering, per-submission locking and shared counters.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ojudge/internal/common/cache"
	"ojudge/internal/common/mq"
	"ojudge/internal/judge/model"
	appErr "ojudge/pkg/errors"
	"ojudge/pkg/utils/contextkey"
	"ojudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const lockKeyPrefix = "judge:lock:"

// JobHandler judges one job.
type JobHandler interface {
	HandleJob(ctx context.Context, job model.JudgeJob) (model.JudgeOutcome, error)
	// MarkFailed records a terminal failure on the submission.
	MarkFailed(ctx context.Context, job model.JudgeJob, cause error) error
}

// Recorder receives job outcome metrics.
type Recorder interface {
	ObserveJob(outcome string, attempt int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveJob(string, int) {}

// Job outcomes reported to the Recorder.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeDeferred  = "deferred"
)

// Config configures topics and the retry policy.
type Config struct {
	Topic           string        `yaml:"topic"`
	RetryTopic      string        `yaml:"retry_topic"`
	DeadLetterTopic string        `yaml:"dead_letter_topic"`
	ConsumerGroup   string        `yaml:"consumer_group"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	Workers         int           `yaml:"workers"`
	MainWeight      int           `yaml:"main_weight"`
	RetryWeight     int           `yaml:"retry_weight"`
	// LockTTL bounds how long a crashed worker can hold a submission. A live
	// holder renews the lease every LockTTL/3.
	LockTTL time.Duration `yaml:"lock_ttl"`
	// LockRetryDelay is the wait before a delivery that found its submission
	// locked is offered again.
	LockRetryDelay time.Duration `yaml:"lock_retry_delay"`
	// PublishRetries is the in-place redelivery budget when a requeue publish fails.
	PublishRetries int `yaml:"publish_retries"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Topic == "" {
		c.Topic = "judge.jobs"
	}
	if c.RetryTopic == "" {
		c.RetryTopic = c.Topic + ".retry"
	}
	if c.DeadLetterTopic == "" {
		c.DeadLetterTopic = c.Topic + ".dead"
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "judge-workers"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MainWeight <= 0 {
		c.MainWeight = 3
	}
	if c.RetryWeight <= 0 {
		c.RetryWeight = 1
	}
	if c.LockTTL <= 0 {
		c.LockTTL = time.Minute
	}
	if c.LockRetryDelay <= 0 {
		c.LockRetryDelay = c.BackoffBase
	}
	if c.PublishRetries <= 0 {
		c.PublishRetries = 2
	}
}

// Coordinator owns the judge job lifecycle on top of a message queue.
type Coordinator struct {
	cfg      Config
	queue    mq.MessageQueue
	handler  JobHandler
	stats    *StatsStore
	lock     *cache.TokenLock
	recorder Recorder
	limiter  *mq.TokenLimiter
}

// Options carries optional collaborators.
type Options struct {
	Stats    *StatsStore
	Lock     *cache.TokenLock
	Recorder Recorder
}

// NewCoordinator creates a coordinator. handler may be nil for producer-only use.
func NewCoordinator(cfg Config, queue mq.MessageQueue, handler JobHandler, opts Options) (*Coordinator, error) {
	if queue == nil {
		return nil, fmt.Errorf("message queue is required")
	}
	cfg.ApplyDefaults()
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Coordinator{
		cfg:      cfg,
		queue:    queue,
		handler:  handler,
		stats:    opts.Stats,
		lock:     opts.Lock,
		recorder: recorder,
		limiter:  mq.NewTokenLimiter(cfg.Workers),
	}, nil
}

// Enqueue publishes a judge job. It returns once the broker accepted it.
func (c *Coordinator) Enqueue(ctx context.Context, job model.JudgeJob) error {
	if err := job.Validate(); err != nil {
		return appErr.Wrapf(err, appErr.InvalidJobPayload, "invalid judge job")
	}
	body, err := job.Encode()
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidJobPayload, "encode judge job failed")
	}
	msg := mq.NewMessage(body)
	msg.ID = job.SubmissionID
	msg.SetHeader(attemptHeader, "1")
	if err := c.queue.Publish(ctx, c.cfg.Topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.JudgeQueueFull, "enqueue judge job failed")
	}
	c.moveStats(ctx, "", StateWaiting)
	return nil
}

// Start subscribes the workers. Main and retry topics share one in-flight budget.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("job handler is required to consume")
	}
	topics := []mq.WeightedTopic{
		{Topic: c.cfg.Topic, Weight: c.cfg.MainWeight},
		{Topic: c.cfg.RetryTopic, Weight: c.cfg.RetryWeight},
	}
	opts := &mq.SubscribeOptions{
		ConsumerGroup:   c.cfg.ConsumerGroup,
		Concurrency:     c.cfg.Workers,
		MaxRetries:      c.cfg.PublishRetries,
		RetryDelay:      c.cfg.BackoffBase,
		DeadLetterTopic: c.cfg.DeadLetterTopic,
	}
	if err := c.queue.SubscribeWeighted(ctx, topics, c.HandleMessage, opts, c.limiter); err != nil {
		return fmt.Errorf("subscribe judge topics: %w", err)
	}
	if err := c.queue.Start(); err != nil {
		return fmt.Errorf("start judge consumers: %w", err)
	}
	logger.Info(ctx, "judge workers started",
		zap.Int("workers", c.cfg.Workers),
		zap.String("topic", c.cfg.Topic),
		zap.String("retry_topic", c.cfg.RetryTopic))
	return nil
}

// Stop stops consuming and waits for in-flight jobs.
func (c *Coordinator) Stop() error {
	return c.queue.Stop()
}

// Stats returns the shared job counters.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	return c.stats.Snapshot(ctx)
}

// InFlight reports jobs currently held by this process.
func (c *Coordinator) InFlight() int {
	return c.cfg.Workers - c.limiter.Available()
}

// HandleMessage processes one delivery. It returns an error only when the
// outcome could not be handed back to the broker, which triggers redelivery.
func (c *Coordinator) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return nil
	}
	attempt := ParseAttempt(msg.Headers)
	ctx = context.WithValue(ctx, contextkey.JobAttempt, attempt)
	c.moveStats(ctx, StateWaiting, StateActive)

	job, err := model.DecodeJudgeJob(msg.Body)
	if err != nil {
		logger.Warn(ctx, "discarding invalid judge job", zap.String("message_id", msg.ID), zap.Error(err))
		return c.fail(ctx, nil, attempt, err, msg)
	}
	ctx = context.WithValue(ctx, contextkey.SubmissionID, job.SubmissionID)

	release, held := c.acquire(ctx, job.SubmissionID)
	if !held {
		return c.deferLocked(ctx, attempt, msg)
	}
	_, err = c.handler.HandleJob(ctx, job)
	// Released before any requeue so the next delivery can take the lease.
	release()
	switch {
	case err == nil || appErr.Is(err, appErr.SubmissionNotPending):
		c.moveStats(ctx, StateActive, StateCompleted)
		c.recorder.ObserveJob(OutcomeCompleted, attempt)
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Shutdown: leave the message for redelivery.
		c.moveStats(ctx, StateActive, StateWaiting)
		return err
	case appErr.IsPermanent(err):
		logger.Warn(ctx, "judge job failed permanently", zap.Int("attempt", attempt), zap.Error(err))
		return c.fail(ctx, &job, attempt, err, msg)
	case attempt >= c.cfg.MaxAttempts:
		logger.Error(ctx, "judge job exhausted retries", zap.Int("attempt", attempt), zap.Error(err))
		return c.fail(ctx, &job, attempt, err, msg)
	}

	logger.Warn(ctx, "judge job failed, scheduling retry", zap.Int("attempt", attempt), zap.Error(err))
	if rqErr := Requeue(ctx, c.queue, c.cfg.RetryTopic, attempt, c.cfg.BackoffBase, c.cfg.BackoffMax, msg); rqErr != nil {
		if ctx.Err() == nil {
			logger.Error(ctx, "requeue judge job failed", zap.Error(rqErr))
		}
		c.moveStats(ctx, StateActive, StateWaiting)
		return rqErr
	}
	c.moveStats(ctx, StateActive, StateWaiting)
	c.recorder.ObserveJob(OutcomeRetried, attempt)
	return nil
}

// acquire takes the submission lease and keeps it alive until release is
// called. held is false only when another owner has it; a lock store outage
// degrades to unlocked judging.
func (c *Coordinator) acquire(ctx context.Context, submissionID string) (release func(), held bool) {
	if c.lock == nil {
		return func() {}, true
	}
	key := lockKeyPrefix + submissionID
	token, err := c.lock.TryLock(ctx, key, c.cfg.LockTTL)
	switch {
	case err != nil:
		logger.Warn(ctx, "judge lock unavailable, continuing unlocked", zap.Error(err))
		return func() {}, true
	case token == "":
		return nil, false
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go c.renew(ctx, key, token, done, stopped)
	return func() {
		close(done)
		<-stopped
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if _, err := c.lock.Unlock(unlockCtx, key, token); err != nil {
			logger.Warn(ctx, "release judge lock failed", zap.Error(err))
		}
	}, true
}

func (c *Coordinator) renew(ctx context.Context, key, token string, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(c.cfg.LockTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.LockTTL/3)
			ok, err := c.lock.Refresh(rctx, key, token, c.cfg.LockTTL)
			cancel()
			switch {
			case err != nil:
				logger.Warn(ctx, "renew judge lock failed", zap.Error(err))
			case !ok:
				logger.Warn(ctx, "judge lock lost to another worker")
				return
			}
		}
	}
}

// deferLocked hands a delivery whose submission is held elsewhere back to the
// retry topic with its attempt unchanged. When the holder finishes, the next
// delivery sees a finalized row; when it crashed, the lease runs out.
func (c *Coordinator) deferLocked(ctx context.Context, attempt int, msg *mq.Message) error {
	logger.Info(ctx, "submission is held by another worker, deferring delivery",
		zap.Duration("delay", c.cfg.LockRetryDelay))
	if err := Defer(ctx, c.queue, c.cfg.RetryTopic, attempt, c.cfg.LockRetryDelay, msg); err != nil {
		if ctx.Err() == nil {
			logger.Error(ctx, "defer judge job failed", zap.Error(err))
		}
		c.moveStats(ctx, StateActive, StateWaiting)
		return err
	}
	c.moveStats(ctx, StateActive, StateWaiting)
	c.recorder.ObserveJob(OutcomeDeferred, attempt)
	return nil
}

func (c *Coordinator) fail(ctx context.Context, job *model.JudgeJob, attempt int, cause error, msg *mq.Message) error {
	if job != nil {
		if err := c.handler.MarkFailed(ctx, *job, cause); err != nil {
			logger.Error(ctx, "mark submission failed", zap.Error(err))
		}
	}
	c.moveStats(ctx, StateActive, StateFailed)
	c.recorder.ObserveJob(OutcomeFailed, attempt)
	if err := DeadLetter(ctx, c.queue, c.cfg.DeadLetterTopic, attempt, cause, msg); err != nil {
		logger.Error(ctx, "publish judge dead letter failed", zap.Error(err))
	}
	return nil
}

func (c *Coordinator) moveStats(ctx context.Context, from, to string) {
	if err := c.stats.Move(ctx, from, to); err != nil {
		logger.Warn(ctx, "update queue stats failed", zap.String("from", from), zap.String("to", to), zap.Error(err))
	}
}
