package queue

import (
	"context"
	"strconv"
	"time"

	"ojudge/internal/common/mq"
	appErr "ojudge/pkg/errors"
	"ojudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	attemptHeader = "x-judge-attempt"
	causeHeader   = "x-judge-failure"
)

// ParseAttempt returns the 1-based delivery attempt recorded on a message.
func ParseAttempt(headers map[string]string) int {
	if headers == nil {
		return 1
	}
	raw, ok := headers[attemptHeader]
	if !ok {
		return 1
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 {
		return 1
	}
	return val
}

// CloneMessageForAttempt copies msg with a fresh timestamp and the given attempt.
func CloneMessageForAttempt(msg *mq.Message, attempt int) *mq.Message {
	out := msg.Clone()
	out.Timestamp = time.Now()
	out.RetryCount = 0
	out.Headers[attemptHeader] = strconv.Itoa(attempt)
	return out
}

// ComputeBackoff returns the wait before the given attempt: base for the
// second attempt, doubling after that, capped at max when max > 0.
func ComputeBackoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 2; i < attempt; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// Requeue waits out the backoff for the next attempt and republishes msg on the retry topic.
func Requeue(ctx context.Context, producer mq.Producer, retryTopic string, attempt int, base, max time.Duration, msg *mq.Message) error {
	next := attempt + 1
	return republish(ctx, producer, retryTopic, next, ComputeBackoff(next, base, max), msg, "judge job requeued")
}

// Defer republishes msg on the retry topic after delay without consuming an
// attempt. It is used when another worker holds the submission.
func Defer(ctx context.Context, producer mq.Producer, retryTopic string, attempt int, delay time.Duration, msg *mq.Message) error {
	return republish(ctx, producer, retryTopic, attempt, delay, msg, "judge job deferred")
}

func republish(ctx context.Context, producer mq.Producer, topic string, attempt int, delay time.Duration, msg *mq.Message, logMsg string) error {
	if producer == nil || topic == "" {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("retry queue is not configured")
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			logger.Warn(ctx, "judge republish canceled during backoff",
				zap.Int("attempt", attempt), zap.String("message_id", msg.ID), zap.Duration("delay", delay))
			return ctx.Err()
		case <-timer.C:
		}
	}
	logger.Info(ctx, logMsg,
		zap.Int("attempt", attempt), zap.String("message_id", msg.ID),
		zap.Duration("delay", delay), zap.String("topic", topic))
	return producer.Publish(ctx, topic, CloneMessageForAttempt(msg, attempt))
}

// DeadLetter publishes msg to the dead-letter topic annotated with its failure.
func DeadLetter(ctx context.Context, producer mq.Producer, topic string, attempt int, cause error, msg *mq.Message) error {
	if producer == nil || topic == "" {
		logger.Warn(ctx, "judge job failed without dead letter topic",
			zap.Int("attempt", attempt), zap.String("message_id", msg.ID))
		return nil
	}
	dead := CloneMessageForAttempt(msg, attempt)
	if cause != nil {
		dead.Headers[causeHeader] = cause.Error()
	}
	return producer.Publish(ctx, topic, dead)
}
