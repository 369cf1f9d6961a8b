package receiptrequestresponse

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"receipt-workers/internal/audit"
	"receipt-workers/internal/common/camunda"
	commonerrors "receipt-workers/internal/common/errors"
	"receipt-workers/internal/common/lock"
	"receipt-workers/internal/common/logger"
	"receipt-workers/internal/common/metrics"
	"receipt-workers/internal/common/observability"
	"receipt-workers/internal/common/validation"
	"receipt-workers/internal/notification"
	"receipt-workers/internal/zkreceipt"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	TaskType = "receipt-request-response"

	// lockName serializes every receipt request in the deployment.
	lockName = TaskType
)

type Handler struct {
	config   *Config
	engine   *Engine
	ops      zkreceipt.Operations
	store    StateStore
	locker   lock.Locker
	notifier notification.Notifier
	recorder audit.Recorder
	schema   *validation.Schema
	obs      *observability.Observability
	now      func() time.Time
	logger   logger.Logger
}

type Dependencies struct {
	Engine   *Engine
	Ops      zkreceipt.Operations
	Store    StateStore
	Locker   lock.Locker
	Notifier notification.Notifier
	Recorder audit.Recorder
	// Schema validates the job variables; nil accepts anything.
	Schema *validation.Schema
	Obs    *observability.Observability
	Now    func() time.Time
}

func NewHandler(config *Config, deps Dependencies, log logger.Logger) *Handler {
	if config.ReportTimeout <= 0 {
		withDefault := *config
		withDefault.ReportTimeout = defaultReportTimeout
		config = &withDefault
	}
	h := &Handler{
		config:   config,
		engine:   deps.Engine,
		ops:      deps.Ops,
		store:    deps.Store,
		locker:   deps.Locker,
		notifier: deps.Notifier,
		recorder: deps.Recorder,
		schema:   deps.Schema,
		obs:      deps.Obs,
		now:      deps.Now,
		logger:   log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
	if h.recorder == nil {
		h.recorder = audit.Nop()
	}
	if h.notifier == nil {
		h.notifier = notification.NewLogNotifier(h.logger)
	}
	if h.obs == nil {
		h.obs = observability.NewNoop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	_, err := h.Process(ctx, camunda.NewJobReporter(client), job)
	return err
}

// Process runs one attempt under the workflow lock and reports its outcome.
// The returned error is only about reporting.
func (h *Handler) Process(ctx context.Context, reporter camunda.JobReporter, job entities.Job) (Result, error) {
	started := h.now()
	log := h.logger.WithFields(map[string]interface{}{
		"jobKey":             job.Key,
		"processInstanceKey": job.ProcessInstanceKey,
		"retries":            job.Retries,
	})
	log.Info("processing job", nil)

	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, span := h.obs.StartSpan(ctx, "receipt.attempt", attribute.Int64("jobKey", job.Key))
	defer span.End()

	state, result, release := h.attempt(ctx, job, log)
	defer release()

	span.SetAttributes(
		attribute.String("disposition", result.Disposition.String()),
		attribute.String("step", string(result.Step)),
	)
	if result.Disposition == Fatal {
		span.SetStatus(codes.Error, string(result.Err.Code))
	}

	// The attempt may have used up ctx. The outcome still has to reach the broker.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.config.ReportTimeout)
	defer cancel()

	if resumable(result) && state != nil {
		h.checkpoint(reportCtx, job, state, log)
	}

	err := h.report(reportCtx, reporter, job, state, &result, log)

	// The checkpoint outlives a lost report so a redelivered job resumes from it.
	if err == nil && !resumable(result) {
		if err := h.store.Delete(reportCtx, job.ElementInstanceKey); err != nil {
			log.Warn("failed to drop job state checkpoint", map[string]interface{}{"error": err})
		}
	}

	h.record(reportCtx, job, state, result, started, log)
	return result, err
}

// resumable reports whether a later attempt picks up where this one stopped.
func resumable(result Result) bool {
	return result.Disposition == Retry && result.Step != StepLifespan
}

// attempt runs the workflow under the lock. The caller releases it after the
// outcome has been reported. state is nil when it could not be restored.
func (h *Handler) attempt(ctx context.Context, job entities.Job, log logger.Logger) (*JobState, Result, lock.Release) {
	noop := func() {}

	if h.schema != nil {
		if v := h.schema.Validate(job.Variables); !v.Valid {
			return nil, fatal(StepInput, 0, commonerrors.NewInvalidJobInputError(v.String())), noop
		}
	}

	waitStart := time.Now()
	lockCtx, cancel := context.WithTimeout(ctx, h.config.LockWait)
	release, err := h.locker.Acquire(lockCtx, lockName)
	cancel()
	metrics.LockWait.WithLabelValues(lockName).Observe(time.Since(waitStart).Seconds())
	if err != nil {
		log.Warn("workflow lock unavailable", map[string]interface{}{"error": err})
		return nil, retry(StepLock, 0, commonerrors.NewLockUnavailableError(lockName, err)), noop
	}

	state, res, ok := h.restore(ctx, job, log)
	if !ok {
		return nil, res, release
	}

	if h.config.Lifespan > 0 && h.now().After(state.CreatedAt.Add(h.config.Lifespan)) {
		return state, Result{
			Disposition: Retry,
			Step:        StepLifespan,
			Err:         commonerrors.NewReceiptLifespanExceededError(state.CreatedAt, h.config.Lifespan),
		}, release
	}

	result := h.engine.Run(ctx, state, func(ctx context.Context, st *JobState) error {
		st.Revision++
		return h.store.Save(ctx, job.ElementInstanceKey, st.Serialize())
	})
	return state, result, release
}

func (h *Handler) restore(ctx context.Context, job entities.Job, log logger.Logger) (*JobState, Result, bool) {
	var vars map[string]interface{}
	if err := json.Unmarshal([]byte(job.Variables), &vars); err != nil {
		return nil, fatal(StepInput, 0, commonerrors.NewInvalidJobInputError(err.Error())), false
	}

	stored, found, err := h.store.Load(ctx, job.ElementInstanceKey)
	if err != nil {
		return nil, retry(StepRestore, 0, commonerrors.NewReceiptStateUnavailableError(err)), false
	}
	if found {
		vars = mergeStored(vars, stored)
	}

	state, err := Deserialize(ctx, h.ops, vars)
	if err != nil {
		stdErr := commonerrors.Normalize(err)
		if stdErr.Retryable {
			return nil, retry(StepRestore, 0, stdErr), false
		}
		if stdErr.Code == commonerrors.ErrCodeInvalidJobInput {
			return nil, fatal(StepInput, 0, stdErr), false
		}
		return nil, fatal(StepRestore, 0, stdErr), false
	}

	if state.CreatedAt.IsZero() {
		state.CreatedAt = h.now().UTC()
	}

	log.Debug("restored job state", map[string]interface{}{
		"checkpointFound": found,
		"requestPresent":  state.Request.IsPresent(),
		"createdAt":       state.CreatedAt,
	})
	return state, Result{}, true
}

// checkpoint saves the state the next attempt resumes from. The same revision
// goes out with the fail command, so the broker still holds it when the save
// does not go through.
func (h *Handler) checkpoint(ctx context.Context, job entities.Job, state *JobState, log logger.Logger) {
	state.Revision++
	err := h.store.Save(ctx, job.ElementInstanceKey, state.Serialize())
	if err == nil {
		return
	}
	log.Warn("failed to save job state checkpoint", map[string]interface{}{
		"revision": state.Revision,
		"error":    err,
	})
	if state.Request.IsPresent() {
		return
	}
	// An older checkpoint can still hold the discarded request context.
	if err := h.store.Delete(ctx, job.ElementInstanceKey); err != nil {
		log.Warn("failed to drop stale job state checkpoint", map[string]interface{}{"error": err})
	}
}

func (h *Handler) report(ctx context.Context, reporter camunda.JobReporter, job entities.Job, state *JobState, result *Result, log logger.Logger) error {
	switch result.Disposition {
	case Success:
		out := Output{
			ReceiptCredentialPresentation: base64.StdEncoding.EncodeToString(result.Presentation),
			Redeemable:                    true,
		}
		log.Info("receipt credential presentation ready", nil)
		return h.complete(ctx, reporter, job, out.Variables(), log)

	case Abandoned:
		log.Info("nothing to redeem, completing without presentation", nil)
		return h.complete(ctx, reporter, job, Output{}.Variables(), log)

	case Fatal:
		h.notify(ctx, job, state, result.Err, log)
		bpmnErr := commonerrors.ConvertToBPMNError(result.Err)
		log.Error("job failed", map[string]interface{}{
			"errorCode": bpmnErr.Code,
			"step":      string(result.Step),
			"details":   result.Err.Details,
		})
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, bpmnErr.Code).Inc()
		if err := reporter.ThrowError(ctx, job, bpmnErr.Code, bpmnErr.Message, bpmnErr.ToErrorVariables()); err != nil {
			log.Error("failed to throw error", map[string]interface{}{"error": err})
			return err
		}
		return nil
	}

	// Retry. The lifespan bound turns into exhaustion right away.
	remaining := job.Retries - 1
	if result.Step == StepLock {
		// Contention is not the job's fault and does not use up its budget.
		remaining = job.Retries
	}
	if result.Step == StepLifespan || remaining <= 0 {
		cause := result.Err
		if result.Step != StepLifespan {
			cause = commonerrors.NewReceiptRetriesExhaustedError(result.Err)
		}
		result.Err = cause
		h.notify(ctx, job, state, cause, log)
		remaining = 0
	}

	var vars map[string]interface{}
	if state != nil {
		vars = state.Serialize()
	}

	log.Warn("attempt will be retried", map[string]interface{}{
		"errorCode":   string(result.Err.Code),
		"step":        string(result.Step),
		"status":      result.Status,
		"retriesLeft": remaining,
	})
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(result.Err.Code)).Inc()

	err := reporter.Fail(ctx, job, camunda.Failure{
		Retries:   remaining,
		Backoff:   h.config.RetryBackoff,
		Message:   result.Err.Error(),
		Variables: vars,
	})
	if err != nil {
		log.Error("failed to send fail job command", map[string]interface{}{"error": err})
	}
	return err
}

func (h *Handler) complete(ctx context.Context, reporter camunda.JobReporter, job entities.Job, vars map[string]interface{}, log logger.Logger) error {
	if err := reporter.Complete(ctx, job, vars); err != nil {
		log.Error("failed to send complete job command", map[string]interface{}{"error": err})
		return err
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	log.Info("job completed successfully", nil)
	return nil
}

func (h *Handler) notify(ctx context.Context, job entities.Job, state *JobState, cause *commonerrors.StandardError, log logger.Logger) {
	notice := notification.Notice{
		JobKey:             job.Key,
		ProcessInstanceKey: job.ProcessInstanceKey,
		Code:               string(cause.Code),
		Message:            cause.Message,
		OccurredAt:         h.now().UTC(),
	}
	if state != nil {
		notice.SubscriberRef = state.SubscriberID.Fingerprint()
	}
	if err := h.notifier.NotifyVerificationFailed(ctx, notice); err != nil {
		log.Warn("failed to send verification failed notification", map[string]interface{}{"error": err})
	}
}

func (h *Handler) record(ctx context.Context, job entities.Job, state *JobState, result Result, started time.Time, log logger.Logger) {
	elapsed := h.now().Sub(started)
	disposition := result.Disposition.String()

	metrics.ReceiptAttempts.WithLabelValues(disposition, string(result.Step)).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(elapsed.Seconds())
	h.obs.RecordJobProcessed(ctx, TaskType, disposition)
	h.obs.RecordJobDuration(ctx, TaskType, elapsed, disposition)

	rec := audit.AttemptRecord{
		JobKey:             job.Key,
		ElementInstanceKey: job.ElementInstanceKey,
		RetriesLeft:        job.Retries,
		Disposition:        disposition,
		Step:               string(result.Step),
		Status:             result.Status,
		RequestGenerated:   result.RequestGenerated,
		DurationMs:         elapsed.Milliseconds(),
		StartedAt:          started.UTC(),
	}
	if result.Err != nil {
		rec.ErrorCode = string(result.Err.Code)
	}
	if state != nil {
		rec.SubscriberRef = state.SubscriberID.Fingerprint()
	}
	if err := h.recorder.RecordAttempt(ctx, rec); err != nil {
		log.Warn("failed to record attempt", map[string]interface{}{"error": err})
	}
}
