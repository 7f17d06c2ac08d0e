package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"codemate/internal/common/cache"
	"codemate/internal/common/mq"
	"codemate/internal/judge/model"
	"codemate/internal/judge/repository"
	"codemate/internal/judge/sandbox"
	"codemate/internal/judge/sandbox/profile"
	"codemate/internal/judge/sandbox/result"
	"codemate/internal/judge/sandbox/runner"
	appErr "codemate/pkg/errors"
	"codemate/pkg/utils/logger"
)

const submitRateKeyPrefix = "judge:submit:rate:"

// Config holds orchestrator settings.
type Config struct {
	Topic           string `yaml:"topic"`
	RetryTopic      string `yaml:"retryTopic"`
	DeadLetterTopic string `yaml:"deadLetterTopic"`
	ConsumerGroup   string `yaml:"consumerGroup"`

	PoolSize    int           `yaml:"poolSize"`
	AcquireWait time.Duration `yaml:"acquireWait"`

	// JudgeRetryMax bounds retries of an evaluation after a sandbox
	// failure. Verdict outcomes are never retried.
	JudgeRetryMax    int           `yaml:"judgeRetryMax"`
	RetryBackoffBase time.Duration `yaml:"retryBackoffBase"`
	RetryBackoffMax  time.Duration `yaml:"retryBackoffMax"`

	// PoolRetryMax bounds requeues of a queue message when every worker
	// slot is busy; after that the message goes to the dead letter topic.
	PoolRetryMax int `yaml:"poolRetryMax"`

	MaxSourceBytes      int `yaml:"maxSourceBytes"`
	MaxCustomInputBytes int `yaml:"maxCustomInputBytes"`
	SubmitPerMinute     int `yaml:"submitPerMinute"`

	CustomRunTimeoutSeconds float64 `yaml:"customRunTimeoutSeconds"`
}

func (c *Config) setDefaults() {
	if c.Topic == "" {
		c.Topic = "judge.submissions"
	}
	if c.RetryTopic == "" {
		c.RetryTopic = c.Topic
	}
	if c.DeadLetterTopic == "" {
		c.DeadLetterTopic = c.Topic + ".dlq"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.AcquireWait <= 0 {
		c.AcquireWait = 2 * time.Second
	}
	if c.JudgeRetryMax <= 0 {
		c.JudgeRetryMax = 3
	}
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = 500 * time.Millisecond
	}
	if c.RetryBackoffMax <= 0 {
		c.RetryBackoffMax = 10 * time.Second
	}
	if c.PoolRetryMax <= 0 {
		c.PoolRetryMax = 5
	}
	if c.MaxSourceBytes <= 0 {
		c.MaxSourceBytes = 128 * 1024
	}
	if c.MaxCustomInputBytes <= 0 {
		c.MaxCustomInputBytes = 64 * 1024
	}
	if c.SubmitPerMinute <= 0 {
		c.SubmitPerMinute = 10
	}
	if c.CustomRunTimeoutSeconds <= 0 {
		c.CustomRunTimeoutSeconds = 10
	}
}

// SourceStore persists and retrieves archived submission source.
type SourceStore interface {
	Save(ctx context.Context, submissionID, source string) (string, error)
	Load(ctx context.Context, key string) (string, error)
}

// VerdictStore caches finished verdicts for status polling.
type VerdictStore interface {
	Put(ctx context.Context, submissionID string, verdict model.Verdict) error
	Get(ctx context.Context, submissionID string) (model.Verdict, bool, error)
}

// Dependencies collects everything the judge service needs.
type Dependencies struct {
	Runner      runner.Runner
	Registry    *profile.Registry
	Submissions repository.SubmissionRepository
	Problems    repository.ProblemRepository
	Rewards     repository.RewardRepository
	Verdicts    VerdictStore
	Sources     SourceStore
	Queue       mq.MessageQueue
	Cache       cache.Cache
}

// Service orchestrates judging: the async queue path and the synchronous
// sample/custom runs all share one bounded sandbox pool.
type Service struct {
	cfg       Config
	runner    runner.Runner
	evaluator *Evaluator
	pool      *sandbox.Pool
	registry  *profile.Registry

	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
	rewards     repository.RewardRepository
	verdicts    VerdictStore
	sources     SourceStore
	queue       mq.MessageQueue
	cache       cache.Cache
}

func NewService(deps Dependencies, cfg Config) (*Service, error) {
	if deps.Runner == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("runner is required")
	}
	if deps.Registry == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("language registry is required")
	}
	if deps.Submissions == nil || deps.Problems == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("repositories are required")
	}
	cfg.setDefaults()
	return &Service{
		cfg:         cfg,
		runner:      deps.Runner,
		evaluator:   NewEvaluator(deps.Runner),
		pool:        sandbox.NewPool(cfg.PoolSize),
		registry:    deps.Registry,
		submissions: deps.Submissions,
		problems:    deps.Problems,
		rewards:     deps.Rewards,
		verdicts:    deps.Verdicts,
		sources:     deps.Sources,
		queue:       deps.Queue,
		cache:       deps.Cache,
	}, nil
}

// Start subscribes the worker to the judging topic and starts consumption.
func (s *Service) Start(ctx context.Context) error {
	if s.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("message queue is not configured")
	}
	opts := &mq.SubscribeOptions{
		ConsumerGroup:   s.cfg.ConsumerGroup,
		DeadLetterTopic: s.cfg.DeadLetterTopic,
	}
	if err := s.queue.SubscribeWithOptions(ctx, s.cfg.Topic, s.HandleMessage, opts); err != nil {
		return err
	}
	if s.cfg.RetryTopic != s.cfg.Topic {
		if err := s.queue.SubscribeWithOptions(ctx, s.cfg.RetryTopic, s.HandleMessage, opts); err != nil {
			return err
		}
	}
	return s.queue.Start()
}

// SubmitRequest is a full judging request against a problem's test data.
type SubmitRequest struct {
	UserID     int64
	ProblemID  int64
	LanguageID string
	SourceCode string
}

// Submit validates, persists and enqueues a submission.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*model.Submission, error) {
	prof, err := s.registry.Resolve(req.LanguageID)
	if err != nil {
		return nil, err
	}
	if err := s.validateSource(req.SourceCode); err != nil {
		return nil, err
	}
	if err := s.checkSubmitRate(ctx, req.UserID); err != nil {
		return nil, err
	}
	if _, err := s.problems.GetProblem(ctx, req.ProblemID); err != nil {
		return nil, err
	}

	sub := &model.Submission{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		ProblemID:  req.ProblemID,
		LanguageID: prof.ID,
		Status:     model.StatusQueued,
		CreatedAt:  time.Now(),
	}

	if s.sources != nil {
		key, err := s.sources.Save(ctx, sub.ID, req.SourceCode)
		if err != nil {
			return nil, err
		}
		sub.SourceKey = key
	}

	if err := s.submissions.Create(ctx, sub); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, sub.ID); err != nil {
		logger.Error(ctx, "enqueue submission failed",
			zap.String("submission_id", sub.ID), zap.Error(err))
		s.finalize(ctx, *sub, model.Problem{}, systemErrorVerdict("failed to enqueue submission"))
		return nil, appErr.Wrap(err, appErr.JudgeSystemError).WithMessage("failed to enqueue submission")
	}
	return sub, nil
}

func (s *Service) enqueue(ctx context.Context, submissionID string) error {
	if s.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("message queue is not configured")
	}
	body, err := model.JudgeMessage{SubmissionID: submissionID, EnqueuedAt: time.Now().Unix()}.Encode()
	if err != nil {
		return err
	}
	return s.queue.Publish(ctx, s.cfg.Topic, mq.NewMessage(body))
}

// HandleMessage is the queue consumer entrypoint.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	jm, err := model.DecodeJudgeMessage(msg.Body)
	if err != nil || jm.SubmissionID == "" {
		logger.Warn(ctx, "dropping malformed judge message",
			zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}

	if !s.pool.TryAcquire() {
		return s.requeueForPoolFull(ctx, msg)
	}
	defer s.pool.Release()

	return s.Judge(ctx, jm.SubmissionID)
}

// Judge runs the full async judging flow for one submission. Duplicate
// deliveries are dropped; a returned error means the message should be
// redelivered.
func (s *Service) Judge(ctx context.Context, submissionID string) error {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if appErr.Is(err, appErr.SubmissionNotFound) {
			logger.Warn(ctx, "judge message for unknown submission",
				zap.String("submission_id", submissionID))
			return nil
		}
		return err
	}
	if model.IsTerminalStatus(sub.Status) {
		return nil
	}

	if err := s.submissions.MarkRunning(ctx, sub.ID); err != nil {
		if appErr.Is(err, appErr.SubmissionNotFound) {
			// Another worker got here first.
			return nil
		}
		return err
	}

	problem, err := s.problems.GetProblem(ctx, sub.ProblemID)
	if err != nil {
		if appErr.Is(err, appErr.ProblemNotFound) {
			s.finalize(ctx, sub, model.Problem{}, systemErrorVerdict("problem no longer exists"))
			return nil
		}
		return err
	}

	cases, err := s.problems.GetTestCases(ctx, sub.ProblemID)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		// Nothing to judge against; retrying cannot help.
		s.finalize(ctx, sub, problem, systemErrorVerdict("problem has no test cases"))
		return nil
	}

	limits := Limits{
		TimeLimitSeconds: problem.TimeLimitSeconds,
		MemoryLimitMB:    problem.MemoryLimitMB,
	}
	verdict, err := s.judgeWithRetry(ctx, sub.ID, func(ctx context.Context) (model.Verdict, error) {
		source, err := s.loadSource(ctx, sub)
		if err != nil {
			return model.Verdict{}, err
		}
		return s.evaluator.Evaluate(ctx, sub.ID, sub.LanguageID, source, cases, limits, ModeSubmit)
	})
	if err != nil {
		logger.Error(ctx, "judging failed after retries",
			zap.String("submission_id", sub.ID), zap.Error(err))
		v := systemErrorVerdict(appErr.GetError(err).Message)
		v.TotalTests = len(cases)
		s.finalize(ctx, sub, problem, v)
		return nil
	}

	s.finalize(ctx, sub, problem, verdict)
	return nil
}

func (s *Service) loadSource(ctx context.Context, sub model.Submission) (string, error) {
	if s.sources == nil || sub.SourceKey == "" {
		return "", appErr.Newf(appErr.JudgeSystemError, "submission %s has no archived source", sub.ID)
	}
	source, err := s.sources.Load(ctx, sub.SourceKey)
	if err != nil {
		return "", appErr.Wrap(err, appErr.JudgeSystemError).WithMessage("load archived source failed")
	}
	return source, nil
}

// judgeWithRetry retries fn only on sandbox failures, with exponential
// backoff between attempts.
func (s *Service) judgeWithRetry(ctx context.Context, submissionID string, fn func(ctx context.Context) (model.Verdict, error)) (model.Verdict, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.JudgeRetryMax; attempt++ {
		if attempt > 0 {
			delay := ComputePoolBackoff(attempt-1, s.cfg.RetryBackoffBase, s.cfg.RetryBackoffMax)
			logger.Warn(ctx, "retrying evaluation after sandbox failure",
				zap.String("submission_id", submissionID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return model.Verdict{}, ctx.Err()
			case <-timer.C:
			}
		}

		verdict, err := fn(ctx)
		if err == nil {
			return verdict, nil
		}
		if !appErr.Is(err, appErr.JudgeSystemError) {
			return model.Verdict{}, err
		}
		lastErr = err
	}
	return model.Verdict{}, lastErr
}

// finalize writes the terminal verdict, caches it, and grants the
// first-acceptance reward when due. Reward and cache failures are logged
// but never change the verdict.
func (s *Service) finalize(ctx context.Context, sub model.Submission, problem model.Problem, verdict model.Verdict) {
	if err := s.submissions.WriteVerdict(ctx, sub.ID, verdict); err != nil {
		if appErr.Is(err, appErr.SubmissionNotFound) {
			// Already finalized elsewhere; do not double-reward.
			return
		}
		logger.Error(ctx, "write verdict failed",
			zap.String("submission_id", sub.ID), zap.Error(err))
		return
	}

	if s.verdicts != nil {
		if err := s.verdicts.Put(ctx, sub.ID, verdict); err != nil {
			logger.Warn(ctx, "cache verdict failed",
				zap.String("submission_id", sub.ID), zap.Error(err))
		}
	}

	if verdict.Accepted() && s.rewards != nil && problem.ID != 0 {
		s.grantReward(ctx, sub, problem)
	}
}

func (s *Service) grantReward(ctx context.Context, sub model.Submission, problem model.Problem) {
	accepted, err := s.submissions.HasAcceptedBefore(ctx, sub.UserID, sub.ProblemID, sub.ID)
	if err != nil {
		logger.Warn(ctx, "first acceptance lookup failed",
			zap.String("submission_id", sub.ID), zap.Error(err))
		return
	}
	if accepted {
		return
	}

	coins := problem.CoinReward
	xp := problem.XPReward
	if coins == 0 {
		coins = model.DefaultCoinReward
	}
	if xp == 0 {
		xp = model.DefaultXPReward
	}

	granted, err := s.rewards.GrantFirstAcceptance(ctx, sub.UserID, sub.ProblemID, sub.ID, coins, xp)
	if err != nil {
		logger.Error(ctx, "reward grant failed",
			zap.String("submission_id", sub.ID),
			zap.Int64("user_id", sub.UserID), zap.Error(err))
		return
	}
	if granted {
		logger.Info(ctx, "first acceptance reward granted",
			zap.String("submission_id", sub.ID),
			zap.Int64("user_id", sub.UserID),
			zap.Int64("problem_id", sub.ProblemID),
			zap.Int64("coins", coins), zap.Int64("xp", xp))
	}
}

// RunRequest runs a program against a problem's visible sample cases.
type RunRequest struct {
	ProblemID  int64
	LanguageID string
	SourceCode string
}

// RunSamples evaluates the source against the sample cases, running all of
// them regardless of failures. Nothing is persisted.
func (s *Service) RunSamples(ctx context.Context, req RunRequest) (model.Verdict, error) {
	prof, err := s.registry.Resolve(req.LanguageID)
	if err != nil {
		return model.Verdict{}, err
	}
	if err := s.validateSource(req.SourceCode); err != nil {
		return model.Verdict{}, err
	}

	problem, err := s.problems.GetProblem(ctx, req.ProblemID)
	if err != nil {
		return model.Verdict{}, err
	}
	cases, err := s.problems.GetSampleTestCases(ctx, req.ProblemID)
	if err != nil {
		return model.Verdict{}, err
	}
	if len(cases) == 0 {
		return model.Verdict{}, appErr.Newf(appErr.TestCaseNotFound, "problem %d has no sample test cases", req.ProblemID)
	}

	if err := s.pool.Acquire(ctx, s.cfg.AcquireWait); err != nil {
		return model.Verdict{}, err
	}
	defer s.pool.Release()

	limits := Limits{
		TimeLimitSeconds: problem.TimeLimitSeconds,
		MemoryLimitMB:    problem.MemoryLimitMB,
	}
	return s.evaluator.Evaluate(ctx, "run-"+uuid.NewString(), prof.ID, req.SourceCode, cases, limits, ModeSample)
}

// ExecuteRequest runs a program once against caller-provided stdin.
type ExecuteRequest struct {
	LanguageID     string
	SourceCode     string
	Stdin          string
	TimeoutSeconds float64
}

// Execute performs a custom run with no expected output to compare against.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (result.ExecutionResult, error) {
	prof, err := s.registry.Resolve(req.LanguageID)
	if err != nil {
		return result.ExecutionResult{}, err
	}
	if err := s.validateSource(req.SourceCode); err != nil {
		return result.ExecutionResult{}, err
	}
	if len(req.Stdin) > s.cfg.MaxCustomInputBytes {
		return result.ExecutionResult{}, appErr.Newf(appErr.CustomInputTooLarge, "stdin exceeds %d bytes", s.cfg.MaxCustomInputBytes)
	}

	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = s.cfg.CustomRunTimeoutSeconds
	}

	if err := s.pool.Acquire(ctx, s.cfg.AcquireWait); err != nil {
		return result.ExecutionResult{}, err
	}
	defer s.pool.Release()

	return s.runner.Execute(ctx, runner.ExecutionRequest{
		RunID:          "exec-" + uuid.NewString(),
		LanguageID:     prof.ID,
		SourceCode:     req.SourceCode,
		Stdin:          req.Stdin,
		TimeoutSeconds: timeout,
	})
}

// GetSubmission returns the stored submission and, for finished ones, the
// cached verdict when available.
func (s *Service) GetSubmission(ctx context.Context, id string) (model.Submission, *model.Verdict, error) {
	sub, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return model.Submission{}, nil, err
	}
	if s.verdicts == nil || !model.IsTerminalStatus(sub.Status) {
		return sub, nil, nil
	}
	verdict, ok, err := s.verdicts.Get(ctx, id)
	if err != nil || !ok {
		return sub, nil, nil
	}
	return sub, &verdict, nil
}

// Languages lists the configured language profiles.
func (s *Service) Languages() []profile.LanguageProfile {
	return s.registry.List()
}

func (s *Service) validateSource(source string) error {
	if strings.TrimSpace(source) == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if len(source) > s.cfg.MaxSourceBytes {
		return appErr.Newf(appErr.CodeTooLarge, "source exceeds %d bytes", s.cfg.MaxSourceBytes)
	}
	return nil
}

func (s *Service) checkSubmitRate(ctx context.Context, userID int64) error {
	if s.cache == nil || s.cfg.SubmitPerMinute <= 0 {
		return nil
	}
	key := fmt.Sprintf("%s%d", submitRateKeyPrefix, userID)
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		// Rate limiting is advisory; never block submissions on cache
		// trouble.
		logger.Warn(ctx, "submit rate counter unavailable", zap.Error(err))
		return nil
	}
	if count == 1 {
		_ = s.cache.Expire(ctx, key, time.Minute)
	}
	if count > int64(s.cfg.SubmitPerMinute) {
		return appErr.New(appErr.SubmitTooFrequently)
	}
	return nil
}

func systemErrorVerdict(message string) model.Verdict {
	return model.Verdict{
		Status:       model.StatusSystemError,
		ErrorMessage: message,
	}
}
