package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ojudge/internal/common/mq"
	"ojudge/internal/judge/model"
	appErr "ojudge/pkg/errors"
)

func TestStatusRepositoryRoundTrip(t *testing.T) {
	rc, mr := newTestCache(t)
	repo := NewStatusRepository(rc, time.Hour)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "s1"); !appErr.Is(err, appErr.NotFound) {
		t.Fatalf("expected NotFound before save, got %v", err)
	}
	view := model.StatusView{SubmissionID: "s1", Status: model.StatusPending, TotalTestCases: 4, PassedTestCases: 1, Progress: 50}
	if err := repo.Save(ctx, view); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Progress != 50 || got.UpdatedAt == 0 {
		t.Fatalf("unexpected view %+v", got)
	}
	if ttl := mr.TTL(statusKeyPrefix + "s1"); ttl != time.Hour {
		t.Fatalf("unexpected ttl %s", ttl)
	}
}

func TestStatusEventPublisher(t *testing.T) {
	queue := mq.NewMemoryQueue()
	pub := NewMQStatusEventPublisher(queue, "judge.status")

	event := model.StatusEvent{SubmissionID: "s1", Status: model.StatusAccepted, Passed: 2, Total: 2, FinishedAt: 1}
	if err := pub.PublishFinalStatus(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msgs := queue.Drain("judge.status")
	if len(msgs) != 1 || msgs[0].ID != "s1" {
		t.Fatalf("expected one event keyed by submission, got %+v", msgs)
	}
	var decoded model.StatusEvent
	if err := json.Unmarshal(msgs[0].Body, &decoded); err != nil || decoded != event {
		t.Fatalf("unexpected payload %s (%v)", msgs[0].Body, err)
	}

	if err := NewMQStatusEventPublisher(queue, "").PublishFinalStatus(context.Background(), event); err == nil {
		t.Fatalf("expected error without topic")
	}
}
