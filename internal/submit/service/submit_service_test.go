package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"ojudge/internal/common/cache"
	"ojudge/internal/judge/model"
	"ojudge/internal/judge/sandbox/profile"
	appErr "ojudge/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeSubmissions struct {
	mu      sync.Mutex
	created []model.Submission
	err     error
}

func (f *fakeSubmissions) Create(_ context.Context, s *model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, *s)
	return nil
}

type fakeProblems map[string]model.Problem

func (f fakeProblems) GetByCode(_ context.Context, code string) (model.Problem, error) {
	if p, ok := f[code]; ok {
		return p, nil
	}
	return model.Problem{}, appErr.New(appErr.ProblemNotFound)
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs []model.JudgeJob
	err  error
}

func (f *fakeJobs) Enqueue(_ context.Context, job model.JudgeJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeStatus struct {
	views []model.StatusView
}

func (f *fakeStatus) Save(_ context.Context, v model.StatusView) error {
	f.views = append(f.views, v)
	return nil
}

type fixture struct {
	svc    *SubmitService
	subs   *fakeSubmissions
	jobs   *fakeJobs
	status *fakeStatus
	mr     *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	f := &fixture{subs: &fakeSubmissions{}, jobs: &fakeJobs{}, status: &fakeStatus{}, mr: mr}
	problems := fakeProblems{
		"two-sum":  {Code: "two-sum", IsPractice: true},
		"contest1": {Code: "contest1"},
	}
	svc, err := NewSubmitService(Config{
		Submissions: f.subs,
		Problems:    problems,
		Languages:   profile.NewDefaultRegistry(),
		Jobs:        f.jobs,
		Status:      f.status,
		Cache:       rc,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ids := 0
	svc.newID = func() string {
		ids++
		return "sub-" + string(rune('0'+ids))
	}
	f.svc = svc
	return f
}

func validInput() SubmitInput {
	return SubmitInput{UserID: "u1", ProblemCode: "contest1", Language: "py", Code: "print(1)"}
}

func TestSubmitCreatesPendingRowAndEnqueues(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.ContestID = "c-7"

	receipt, err := f.svc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.SubmissionID != "sub-1" || receipt.Status != model.StatusPending {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if len(f.subs.created) != 1 {
		t.Fatalf("created %d rows", len(f.subs.created))
	}
	row := f.subs.created[0]
	if row.Language != "python" || row.Status != model.StatusPending || row.ContestID == nil || *row.ContestID != "c-7" {
		t.Fatalf("unexpected row %+v", row)
	}
	want := model.JudgeJob{SubmissionID: "sub-1", ProblemCode: "contest1"}
	if len(f.jobs.jobs) != 1 || f.jobs.jobs[0] != want {
		t.Fatalf("jobs = %+v", f.jobs.jobs)
	}
	if len(f.status.views) != 1 || f.status.views[0].Status != model.StatusPending {
		t.Fatalf("status not seeded: %+v", f.status.views)
	}
}

func TestSubmitValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SubmitInput)
		code   appErr.ErrorCode
	}{
		{name: "missing user", mutate: func(in *SubmitInput) { in.UserID = " " }, code: appErr.ValidationFailed},
		{name: "missing problem", mutate: func(in *SubmitInput) { in.ProblemCode = "" }, code: appErr.ValidationFailed},
		{name: "blank code", mutate: func(in *SubmitInput) { in.Code = "\n\t " }, code: appErr.ValidationFailed},
		{name: "code too long", mutate: func(in *SubmitInput) { in.Code = strings.Repeat("x", 64*1024+1) }, code: appErr.CodeTooLong},
		{name: "unknown language", mutate: func(in *SubmitInput) { in.Language = "cobol" }, code: appErr.LanguageNotSupported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in := validInput()
			tc.mutate(&in)
			_, err := f.svc.Submit(context.Background(), in)
			if got := appErr.GetCode(err); got != tc.code {
				t.Fatalf("code = %d, want %d (err %v)", got, tc.code, err)
			}
			if len(f.subs.created) != 0 || len(f.jobs.jobs) != 0 {
				t.Fatal("rejected submission must not be stored or queued")
			}
		})
	}
}

func TestSubmitCodeAtLimitIsAccepted(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.Code = strings.Repeat("x", 64*1024)
	if _, err := f.svc.Submit(context.Background(), in); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestPracticeSubmission(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.ProblemCode = "two-sum"
	in.IsPractice = true
	if _, err := f.svc.Submit(context.Background(), in); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !f.jobs.jobs[0].IsPractice {
		t.Fatal("practice flag not carried on the job")
	}

	in.ProblemCode = "contest1"
	if _, err := f.svc.Submit(context.Background(), in); !appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("non-practice problem should be rejected, got %v", err)
	}
	in.ProblemCode = "nope"
	if _, err := f.svc.Submit(context.Background(), in); !appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("unknown problem should be rejected, got %v", err)
	}
}

func TestSubmitUnknownProblemIsRejected(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.ProblemCode = "missing"
	in.IdempotencyKey = "k-missing"

	if _, err := f.svc.Submit(context.Background(), in); !appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("want ProblemNotFound, got %v", err)
	}
	if len(f.subs.created) != 0 || len(f.jobs.jobs) != 0 || len(f.status.views) != 0 {
		t.Fatal("unknown problem must not be stored, queued or seeded")
	}
	if f.mr.Exists(idempotencyKeyPrefix + "k-missing") {
		t.Fatal("idempotency key must not be taken")
	}
}

func TestNewSubmitServiceRequiresProblemLookup(t *testing.T) {
	_, err := NewSubmitService(Config{
		Submissions: &fakeSubmissions{},
		Languages:   profile.NewDefaultRegistry(),
		Jobs:        &fakeJobs{},
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestSubmitEnqueueFailureLeavesPendingRow(t *testing.T) {
	f := newFixture(t)
	f.jobs.err = appErr.New(appErr.MessageQueueError)
	in := validInput()
	in.IdempotencyKey = "k1"

	_, err := f.svc.Submit(context.Background(), in)
	if !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("want JudgeQueueFull, got %v", err)
	}
	if len(f.subs.created) != 1 {
		t.Fatal("row should stay pending")
	}
	if f.mr.Exists(idempotencyKeyPrefix + "k1") {
		t.Fatal("idempotency key should be released")
	}
}

func TestSubmitIdempotencyKeyReplaysFirstSubmission(t *testing.T) {
	f := newFixture(t)
	in := validInput()
	in.IdempotencyKey = "abc"

	first, err := f.svc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := f.svc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.SubmissionID != first.SubmissionID {
		t.Fatalf("replay returned %s, want %s", second.SubmissionID, first.SubmissionID)
	}
	if len(f.subs.created) != 1 || len(f.jobs.jobs) != 1 {
		t.Fatal("replay must not create another submission")
	}
	if ttl := f.mr.TTL(idempotencyKeyPrefix + "abc"); ttl <= 0 {
		t.Fatalf("idempotency key has no ttl: %v", ttl)
	}

	in.IdempotencyKey = "other"
	third, err := f.svc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if third.SubmissionID == first.SubmissionID {
		t.Fatal("distinct keys must create distinct submissions")
	}
}

func TestSubmitIdempotencyKeyInFlight(t *testing.T) {
	f := newFixture(t)
	if err := f.mr.Set(idempotencyKeyPrefix+"busy", processingMarker); err != nil {
		t.Fatal(err)
	}
	in := validInput()
	in.IdempotencyKey = "busy"
	if _, err := f.svc.Submit(context.Background(), in); !appErr.Is(err, appErr.TooManyRequests) {
		t.Fatalf("want TooManyRequests, got %v", err)
	}
}
