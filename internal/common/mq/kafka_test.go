package mq

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestKafkaHeadersCarryDeliveryMetadata(t *testing.T) {
	t.Parallel()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := &Message{
		ID:         "sub-1",
		Body:       []byte(`{"submissionId":"sub-1"}`),
		Headers:    map[string]string{"x-judge-attempt": "2"},
		Timestamp:  ts,
		RetryCount: 1,
		MaxRetries: 3,
	}
	km := toKafkaMessage("judge.jobs", in)
	if string(km.Key) != "sub-1" {
		t.Fatalf("expected key sub-1, got %q", km.Key)
	}

	out := fromKafkaMessage(kafka.Message{Key: km.Key, Value: km.Value, Headers: km.Headers})
	if out.ID != "sub-1" || out.RetryCount != 1 || out.MaxRetries != 3 {
		t.Fatalf("unexpected metadata: %+v", out)
	}
	if !out.Timestamp.Equal(ts) {
		t.Fatalf("expected timestamp %v, got %v", ts, out.Timestamp)
	}
	if out.Headers["x-judge-attempt"] != "2" {
		t.Fatalf("expected custom header, got %v", out.Headers)
	}
	if _, ok := out.Headers[headerID]; ok {
		t.Fatal("reserved headers must not leak into Headers")
	}
}

func TestNewKafkaQueueRequiresBrokers(t *testing.T) {
	t.Parallel()
	if _, err := NewKafkaQueue(KafkaConfig{}); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestOffsetTrackerCommitsContiguousPrefixOnly(t *testing.T) {
	t.Parallel()
	tr := newOffsetTracker()
	msgs := make([]kafka.Message, 4)
	for i := range msgs {
		msgs[i] = kafka.Message{Topic: "judge.jobs", Partition: 0, Offset: int64(10 + i)}
		tr.begin(msgs[i])
	}
	other := kafka.Message{Topic: "judge.jobs", Partition: 1, Offset: 3}
	tr.begin(other)

	if _, ok := tr.done(msgs[2]); ok {
		t.Fatal("offset 12 finished before 10 and 11 must not commit")
	}
	if _, ok := tr.done(msgs[1]); ok {
		t.Fatal("offset 11 finished before 10 must not commit")
	}
	if got, ok := tr.done(other); !ok || got.Offset != 3 {
		t.Fatalf("independent partition should commit, got %d %v", got.Offset, ok)
	}

	got, ok := tr.done(msgs[0])
	if !ok || got.Offset != 12 {
		t.Fatalf("expected commit up to 12, got %d %v", got.Offset, ok)
	}
	got, ok = tr.done(msgs[3])
	if !ok || got.Offset != 13 {
		t.Fatalf("expected commit up to 13, got %d %v", got.Offset, ok)
	}
	if len(tr.partitions) != 0 {
		t.Fatalf("drained partitions should be forgotten, got %d", len(tr.partitions))
	}
}

func TestOffsetTrackerHoldsBackBehindUnfinishedMessage(t *testing.T) {
	t.Parallel()
	tr := newOffsetTracker()
	first := kafka.Message{Topic: "judge.jobs.retry", Offset: 0}
	second := kafka.Message{Topic: "judge.jobs.retry", Offset: 1}
	tr.begin(first)
	tr.begin(second)

	// first is abandoned at shutdown and never reported done
	if _, ok := tr.done(second); ok {
		t.Fatal("commit must not skip an unfinished message")
	}
}
