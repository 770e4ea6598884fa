package mq

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryQueue is an in-process MessageQueue for single-node deployments and tests.
// Messages are lost on restart.
type MemoryQueue struct {
	mu     sync.Mutex
	topics map[string][]*Message
	notify chan struct{}

	subs    []*memorySubscription
	started bool
	closed  bool
}

type memorySubscription struct {
	topics  []WeightedTopic
	handler HandlerFunc
	opts    SubscribeOptions
	limiter FetchLimiter
	baseCtx context.Context

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		topics: make(map[string][]*Message),
		notify: make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Publish(_ context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("message queue is closed")
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	q.topics[topic] = append(q.topics[topic], message.Clone())
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len reports the number of undelivered messages on topic.
func (q *MemoryQueue) Len(topic string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.topics[topic])
}

// Drain removes and returns every undelivered message on topic.
func (q *MemoryQueue) Drain(topic string) []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.topics[topic]
	delete(q.topics, topic)
	return out
}

func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	return q.SubscribeWeighted(ctx, []WeightedTopic{{Topic: topic, Weight: 1}}, handler, opts, nil)
}

func (q *MemoryQueue) SubscribeWeighted(ctx context.Context, topics []WeightedTopic, handler HandlerFunc, opts *SubscribeOptions, limiter FetchLimiter) error {
	if len(topics) == 0 {
		return errors.New("topics are required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	for _, t := range topics {
		if t.Topic == "" || t.Weight <= 0 {
			return errors.New("topic and positive weight are required")
		}
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()
	if limiter == nil {
		limiter = NewTokenLimiter(options.Concurrency)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sub := &memorySubscription{topics: topics, handler: handler, opts: options, limiter: limiter, baseCtx: ctx}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	q.subs = append(q.subs, sub)
	if q.started {
		q.startSubscription(sub)
	}
	return nil
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	if q.started {
		return nil
	}
	for _, sub := range q.subs {
		q.startSubscription(sub)
	}
	q.started = true
	return nil
}

// pop takes the next message following the weighted schedule, starting at idx.
func (q *MemoryQueue) pop(topics []WeightedTopic, schedule []int, idx int) (*Message, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := 0; i < len(schedule); i++ {
		pos := (idx + i) % len(schedule)
		topic := topics[schedule[pos]].Topic
		items := q.topics[topic]
		if len(items) == 0 {
			continue
		}
		q.topics[topic] = items[1:]
		return items[0], pos + 1
	}
	return nil, idx
}

func (q *MemoryQueue) startSubscription(sub *memorySubscription) {
	ctx, cancel := context.WithCancel(sub.baseCtx)
	sub.cancel = cancel
	schedule := buildWeightedSchedule(sub.topics)

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		idx := 0
		for {
			if err := sub.limiter.Acquire(ctx); err != nil {
				return
			}
			var msg *Message
			for msg == nil {
				msg, idx = q.pop(sub.topics, schedule, idx)
				if msg != nil {
					break
				}
				select {
				case <-ctx.Done():
					sub.limiter.Release()
					return
				case <-q.notify:
				case <-time.After(50 * time.Millisecond):
				}
			}
			// Another subscriber may be waiting on the same notification.
			q.wake()
			sub.wg.Add(1)
			go func(m *Message) {
				defer sub.wg.Done()
				defer sub.limiter.Release()
				q.handleMessage(sub.baseCtx, sub, m)
			}(msg)
		}
	}()
}

func (q *MemoryQueue) handleMessage(ctx context.Context, sub *memorySubscription, m *Message) {
	if m.MaxRetries == 0 {
		m.MaxRetries = sub.opts.MaxRetries
	}
	for {
		if err := sub.handler(ctx, m); err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		m.RetryCount++
		if m.RetryCount > m.MaxRetries {
			if sub.opts.DeadLetterTopic != "" {
				_ = q.Publish(ctx, sub.opts.DeadLetterTopic, m)
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sub.opts.RetryDelay):
		}
	}
}

func (q *MemoryQueue) Stop() error {
	q.mu.Lock()
	subs := append([]*memorySubscription(nil), q.subs...)
	q.started = false
	q.mu.Unlock()
	for _, sub := range subs {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range subs {
		sub.wg.Wait()
	}
	return nil
}

func (q *MemoryQueue) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	return q.Stop()
}
