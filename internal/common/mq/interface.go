package mq

import (
	"context"
	"time"
)

// MessageQueue is the broker abstraction used by the judge.
type MessageQueue interface {
	Producer
	Consumer

	// Ping verifies the broker is reachable
	Ping(ctx context.Context) error

	// Close stops consumers and releases the producer
	Close() error
}

// Producer publishes messages.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer delivers messages to handlers.
// A handler returning nil acknowledges the message.
type Consumer interface {
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	// SubscribeWeighted reads several topics with one handler, visiting each topic
	// in proportion to its weight. limiter bounds the number of messages in flight.
	SubscribeWeighted(ctx context.Context, topics []WeightedTopic, handler HandlerFunc, opts *SubscribeOptions, limiter FetchLimiter) error

	Start() error
	Stop() error
}

// FetchLimiter bounds in-flight messages for a subscription.
type FetchLimiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// WeightedTopic defines a topic with fetch weight.
type WeightedTopic struct {
	Topic  string
	Weight int
}

// Message represents a message in the queue
type Message struct {
	ID        string            `json:"id"`
	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`

	// In-place redelivery bookkeeping for handler errors.
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// HandlerFunc processes one message.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions defines options for subscribing to a topic
type SubscribeOptions struct {
	// ConsumerGroup is the consumer group name (for Kafka)
	ConsumerGroup string

	// Concurrency sets the number of concurrent handlers for Subscribe.
	// Default: 1
	Concurrency int

	// MaxRetries bounds in-place redelivery when a handler returns an error.
	// Default: 0, the message is acknowledged after the first failure.
	MaxRetries int

	// RetryDelay sets the delay between in-place redeliveries
	// Default: 1 second
	RetryDelay time.Duration

	// DeadLetterTopic receives messages whose in-place redelivery is exhausted
	DeadLetterTopic string
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a new message with the given body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}

// Clone copies the message so headers can be changed without touching the original.
func (m *Message) Clone() *Message {
	out := &Message{
		ID:         m.ID,
		Body:       m.Body,
		Headers:    make(map[string]string, len(m.Headers)),
		Timestamp:  m.Timestamp,
		RetryCount: m.RetryCount,
		MaxRetries: m.MaxRetries,
	}
	for k, v := range m.Headers {
		out.Headers[k] = v
	}
	return out
}

// buildWeightedSchedule expands weights into a visiting order, e.g. {a:2,b:1} -> [0,0,1].
func buildWeightedSchedule(topics []WeightedTopic) []int {
	schedule := make([]int, 0, len(topics))
	for idx, t := range topics {
		for i := 0; i < t.Weight; i++ {
			schedule = append(schedule, idx)
		}
	}
	return schedule
}
