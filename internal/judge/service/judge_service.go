package service

import (
	"context"
	"fmt"
	"time"

	"ojudge/internal/judge/checker"
	"ojudge/internal/judge/model"
	"ojudge/internal/judge/repository"
	"ojudge/internal/judge/sandbox"
	appErr "ojudge/pkg/errors"
	"ojudge/pkg/utils/contextkey"
	"ojudge/pkg/utils/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const tracerName = "ojudge/judge"

// Recorder receives judging metrics.
type Recorder interface {
	ObserveVerdict(status model.Status, passed, total int, elapsed time.Duration)
	ObserveLeaderboardCredit(credited bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveVerdict(model.Status, int, int, time.Duration) {}
func (nopRecorder) ObserveLeaderboardCredit(bool)                      {}

// Service judges submissions.
type Service struct {
	executor      sandbox.Executor
	submissions   repository.SubmissionRepository
	problems      repository.ProblemRepository
	leaderboard   repository.LeaderboardRepository
	statusRepo    *repository.StatusRepository
	events        repository.StatusEventPublisher
	recorder      Recorder
	statusTimeout time.Duration
	now           func() time.Time
}

// Config holds service dependencies and settings.
type Config struct {
	Executor    sandbox.Executor
	Submissions repository.SubmissionRepository
	Problems    repository.ProblemRepository
	Leaderboard repository.LeaderboardRepository
	// StatusRepo and Events are optional; progress and events are advisory.
	StatusRepo    *repository.StatusRepository
	Events        repository.StatusEventPublisher
	Recorder      Recorder
	StatusTimeout time.Duration
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Leaderboard == nil {
		return nil, fmt.Errorf("leaderboard repository is required")
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	statusTimeout := cfg.StatusTimeout
	if statusTimeout <= 0 {
		statusTimeout = 2 * time.Second
	}
	return &Service{
		executor:      cfg.Executor,
		submissions:   cfg.Submissions,
		problems:      cfg.Problems,
		leaderboard:   cfg.Leaderboard,
		statusRepo:    cfg.StatusRepo,
		events:        cfg.Events,
		recorder:      recorder,
		statusTimeout: statusTimeout,
		now:           time.Now,
	}, nil
}

// HandleJob loads the job's submission and problem and judges it.
// A submission that is already terminal is not judged again; an accepted one
// only has its leaderboard credit retried, which is a no-op once recorded.
func (s *Service) HandleJob(ctx context.Context, job model.JudgeJob) (model.JudgeOutcome, error) {
	ctx = context.WithValue(ctx, contextkey.SubmissionID, job.SubmissionID)

	submission, err := s.submissions.Get(ctx, job.SubmissionID)
	if err != nil {
		return model.JudgeOutcome{}, err
	}
	problem, err := s.problems.GetByCode(ctx, job.ProblemCode)
	if err != nil {
		return model.JudgeOutcome{}, err
	}
	practice := problem.IsPractice || job.IsPractice

	if submission.Status.IsTerminal() {
		outcome := model.JudgeOutcome{Status: submission.Status, Passed: submission.PassedTestCases, Total: submission.TotalTestCases}
		logger.Info(ctx, "submission already judged, skipping",
			zap.String("status", string(submission.Status)))
		if submission.Status == model.StatusAccepted && !practice {
			if err := s.credit(ctx, submission, problem); err != nil {
				return outcome, err
			}
		}
		return outcome, nil
	}
	return s.Judge(ctx, submission, problem, practice)
}

// Judge runs every test case through the executor, persists the aggregate
// verdict and credits the leaderboard for accepted non-practice submissions.
//
// Infrastructure failures abort without persisting so the job can be retried.
func (s *Service) Judge(ctx context.Context, submission model.Submission, problem model.Problem, practice bool) (outcome model.JudgeOutcome, err error) {
	start := s.now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "judge.submission")
	span.SetAttributes(
		attribute.String("submission_id", submission.ID),
		attribute.String("problem_code", problem.Code),
		attribute.String("language", submission.Language),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "judging failed")
		} else {
			span.SetAttributes(attribute.String("status", string(outcome.Status)))
		}
		span.End()
	}()

	outcome, err = s.evaluate(ctx, submission, problem)
	if err != nil {
		return model.JudgeOutcome{}, err
	}

	if err := s.submissions.Finalize(ctx, submission.ID, outcome); err != nil {
		return outcome, err
	}
	s.recorder.ObserveVerdict(outcome.Status, outcome.Passed, outcome.Total, s.now().Sub(start))
	logger.Info(ctx, "submission judged",
		zap.String("status", string(outcome.Status)),
		zap.Int("passed", outcome.Passed),
		zap.Int("total", outcome.Total),
		zap.Duration("elapsed", s.now().Sub(start)))

	s.saveStatus(ctx, model.StatusView{
		SubmissionID:    submission.ID,
		Status:          outcome.Status,
		PassedTestCases: outcome.Passed,
		TotalTestCases:  outcome.Total,
		Progress:        100,
	})
	s.publish(ctx, submission, outcome)

	if outcome.Status == model.StatusAccepted && !practice {
		if err := s.credit(ctx, submission, problem); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// evaluate runs the per-case loop. Wrong answers continue; time limit,
// compilation and runtime failures stop further cases.
func (s *Service) evaluate(ctx context.Context, submission model.Submission, problem model.Problem) (model.JudgeOutcome, error) {
	total := len(problem.TestCases)
	passed := 0
	status := model.StatusAccepted

	s.saveStatus(ctx, model.StatusView{SubmissionID: submission.ID, Status: model.StatusPending, TotalTestCases: total})

cases:
	for i, tc := range problem.TestCases {
		res, err := s.executor.Run(ctx, sandbox.ExecRequest{
			SubmissionID: submission.ID,
			Language:     submission.Language,
			Source:       submission.Code,
			Stdin:        tc.Input,
		})
		if err != nil {
			switch appErr.GetCode(err) {
			case appErr.TimeLimitExceeded:
				status = model.StatusTimeLimitExceeded
			case appErr.CompilationError:
				status = model.StatusCompilationError
			case appErr.RuntimeError, appErr.LanguageNotSupported:
				status = model.StatusRuntimeError
			default:
				logger.Error(ctx, "execution failed", zap.Int("case", i+1), zap.Error(err))
				return model.JudgeOutcome{}, err
			}
			logger.Info(ctx, "test case stopped judging",
				zap.Int("case", i+1),
				zap.String("status", string(status)),
				zap.String("diagnostic", appErr.GetError(err).Detail("diagnostic")))
			break cases
		}

		if checker.Compare(res.Stdout, tc.ExpectedOutput) {
			passed++
		} else {
			status = model.StatusWrongAnswer
			logger.Debug(ctx, "wrong answer", zap.Int("case", i+1))
		}
		s.saveStatus(ctx, model.StatusView{
			SubmissionID:    submission.ID,
			Status:          model.StatusPending,
			PassedTestCases: passed,
			TotalTestCases:  total,
			Progress:        (i + 1) * 100 / total,
		})
	}

	return model.JudgeOutcome{Status: settle(status, passed, total), Passed: passed, Total: total}, nil
}

// settle only downgrades an Accepted status that did not pass every case.
// Stopping verdicts are kept whatever passed before them.
func settle(status model.Status, passed, total int) model.Status {
	if status != model.StatusAccepted || passed >= total {
		return status
	}
	if passed > 0 {
		return model.StatusPartiallyAccepted
	}
	return model.StatusWrongAnswer
}

// MarkFailed freezes a submission whose job failed terminally without a verdict.
func (s *Service) MarkFailed(ctx context.Context, job model.JudgeJob, cause error) error {
	outcome := model.JudgeOutcome{Status: model.StatusSystemError}
	err := s.submissions.Finalize(ctx, job.SubmissionID, outcome)
	if err != nil {
		if appErr.Is(err, appErr.SubmissionNotPending) || appErr.Is(err, appErr.SubmissionNotFound) {
			return nil
		}
		return err
	}
	logger.Warn(ctx, "submission marked as system error",
		zap.String("submission_id", job.SubmissionID), zap.Error(cause))
	s.saveStatus(ctx, model.StatusView{SubmissionID: job.SubmissionID, Status: model.StatusSystemError, Progress: 100})
	s.publish(ctx, model.Submission{ID: job.SubmissionID, ProblemCode: job.ProblemCode}, outcome)
	return nil
}

// saveStatus stores an advisory status view.
func (s *Service) saveStatus(ctx context.Context, view model.StatusView) {
	if s.statusRepo == nil {
		return
	}
	ctxStatus, cancel := context.WithTimeout(ctx, s.statusTimeout)
	defer cancel()
	if err := s.statusRepo.Save(ctxStatus, view); err != nil {
		logger.Warn(ctx, "update status cache failed", zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, submission model.Submission, outcome model.JudgeOutcome) {
	if s.events == nil {
		return
	}
	event := model.StatusEvent{
		SubmissionID: submission.ID,
		UserID:       submission.UserID,
		ProblemCode:  submission.ProblemCode,
		Status:       outcome.Status,
		Passed:       outcome.Passed,
		Total:        outcome.Total,
		FinishedAt:   s.now().Unix(),
	}
	if err := s.events.PublishFinalStatus(ctx, event); err != nil {
		logger.Warn(ctx, "publish status event failed", zap.Error(err))
	}
}

func (s *Service) credit(ctx context.Context, submission model.Submission, problem model.Problem) error {
	credited, err := s.leaderboard.Credit(ctx, repository.Credit{
		SubmissionID: submission.ID,
		UserID:       submission.UserID,
		ProblemCode:  problem.Code,
		Points:       problem.AwardPoints(),
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.JudgeSystemError, "leaderboard credit failed")
	}
	s.recorder.ObserveLeaderboardCredit(credited)
	if credited {
		logger.Info(ctx, "leaderboard credited",
			zap.String("user_id", submission.UserID), zap.Int("points", problem.AwardPoints()))
	}
	return nil
}
