package receiptrequestresponse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"receipt-workers/internal/account"
	commonerrors "receipt-workers/internal/common/errors"
	"receipt-workers/internal/common/logger"
	"receipt-workers/internal/common/metrics"
	"receipt-workers/internal/donations"
	"receipt-workers/internal/models"
	"receipt-workers/internal/zkreceipt"
)

type SubscriptionSource interface {
	GetSubscription(ctx context.Context, id models.SubscriberID) donations.ServiceResponse[donations.ActiveSubscription]
}

type ReceiptExchange interface {
	SubmitReceiptCredentialRequest(ctx context.Context, id models.SubscriberID, request []byte) donations.ServiceResponse[donations.ReceiptCredentialResponse]
}

// DonationsService is both endpoints, as served by donations.Service.
type DonationsService interface {
	SubscriptionSource
	ReceiptExchange
}

type Disposition int

const (
	Retry Disposition = iota
	Fatal
	Abandoned
	Success
)

func (d Disposition) String() string {
	switch d {
	case Retry:
		return "retry"
	case Fatal:
		return "fatal"
	case Abandoned:
		return "abandoned"
	case Success:
		return "success"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

type Step string

const (
	StepInput         Step = "input"
	StepLock          Step = "lock"
	StepRestore       Step = "restore"
	StepLifespan      Step = "lifespan"
	StepFetchStatus   Step = "fetch_status"
	StepEnsureRequest Step = "ensure_request"
	StepSubmit        Step = "submit"
	StepDerive        Step = "derive"
	StepValidate      Step = "validate"
	StepPresent       Step = "present"
)

// Result is the outcome of one attempt. Err is set for Retry and Fatal.
type Result struct {
	Disposition      Disposition
	Step             Step
	Presentation     zkreceipt.Presentation
	Err              *commonerrors.StandardError
	Status           int
	RequestGenerated bool
}

// Checkpoint persists state. It is called after a request context is
// generated and before that request leaves the process.
type Checkpoint func(ctx context.Context, state *JobState) error

type Engine struct {
	donations DonationsService
	ops       zkreceipt.Operations
	accounts  account.Store
	random    io.Reader
	now       func() time.Time
	logger    logger.Logger
}

type EngineOption func(*Engine)

// WithRandom sets the source of receipt serials. It must be a CSPRNG outside tests.
func WithRandom(r io.Reader) EngineOption {
	return func(e *Engine) { e.random = r }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(svc DonationsService, ops zkreceipt.Operations, accounts account.Store, log logger.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		donations: svc,
		ops:       ops,
		accounts:  accounts,
		now:       time.Now,
		logger:    log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run performs one attempt and updates state.Request in place.
func (e *Engine) Run(ctx context.Context, state *JobState, checkpoint Checkpoint) Result {
	log := e.logger.WithFields(map[string]interface{}{"subscriberRef": state.SubscriberID.Fingerprint()})

	sub, res, ok := e.fetchStatus(ctx, state, log)
	if !ok {
		return res
	}

	rc, generated, res, ok := e.ensureRequest(ctx, state, checkpoint, log)
	if !ok {
		return res
	}

	result := e.exchange(ctx, state, sub, rc, log)
	result.RequestGenerated = generated
	return result
}

func (e *Engine) fetchStatus(ctx context.Context, state *JobState, log logger.Logger) (*donations.Subscription, Result, bool) {
	resp := e.donations.GetSubscription(ctx, state.SubscriberID)

	switch {
	case resp.Result != nil:
		if !resp.Result.IsActive() {
			log.Warn("subscriber does not have an active subscription yet", nil)
			return nil, retry(StepFetchStatus, resp.Status, commonerrors.NewSubscriptionNotActiveError()), false
		}
	case resp.ApplicationError != nil:
		log.Warn("unrecoverable error getting the current subscription", map[string]interface{}{
			"status": resp.Status,
			"error":  resp.ApplicationError,
		})
		return nil, fatal(StepFetchStatus, resp.Status, commonerrors.NewSubscriptionStatusFailedError(resp.Status, resp.ApplicationError)), false
	default:
		log.Warn("subscription status unavailable", map[string]interface{}{
			"status": resp.Status,
			"error":  resp.ExecutionError,
		})
		return nil, retry(StepFetchStatus, resp.Status, commonerrors.NewSubscriptionStatusUnavailableError(resp.ExecutionError)), false
	}

	sub := resp.Result.Subscription
	log.Info("recording end of period from active subscription", map[string]interface{}{
		"endOfCurrentPeriod": sub.EndOfCurrentPeriod,
	})
	if err := account.SetLastEndOfPeriod(ctx, e.accounts, state.SubscriberID, sub.EndOfCurrentPeriod); err != nil {
		log.Warn("failed to record end of period", map[string]interface{}{"error": err})
	}
	return sub, Result{}, true
}

func (e *Engine) ensureRequest(ctx context.Context, state *JobState, checkpoint Checkpoint, log logger.Logger) (zkreceipt.RequestContext, bool, Result, bool) {
	if rc, ok := state.Request.Context(); ok {
		log.Debug("reusing persisted request context", nil)
		return rc, false, Result{}, true
	}

	serial, err := zkreceipt.NewReceiptSerial(e.random)
	if err != nil {
		return nil, false, retry(StepEnsureRequest, 0, commonerrors.NewZKUnavailableError(string(StepEnsureRequest), err)), false
	}

	rc, err := e.ops.CreateRequestContext(ctx, serial)
	if err != nil {
		return nil, false, retry(StepEnsureRequest, 0, commonerrors.NewZKUnavailableError(string(StepEnsureRequest), err)), false
	}
	state.Request = Present(rc)

	if err := checkpoint(ctx, state); err != nil {
		log.Warn("could not checkpoint new request context, not submitting", map[string]interface{}{"error": err})
		res := retry(StepEnsureRequest, 0, commonerrors.NewReceiptStateUnavailableError(err))
		res.RequestGenerated = true
		return nil, true, res, false
	}

	log.Info("generated new receipt credential request", nil)
	return rc, true, Result{}, true
}

func (e *Engine) exchange(ctx context.Context, state *JobState, sub *donations.Subscription, rc zkreceipt.RequestContext, log logger.Logger) Result {
	resp := e.donations.SubmitReceiptCredentialRequest(ctx, state.SubscriberID, rc.Request())

	switch {
	case resp.ApplicationError != nil:
		return e.handleApplicationError(resp.Status, resp.ApplicationError, log)
	case resp.Result == nil:
		log.Warn("encountered a retryable exchange failure", map[string]interface{}{
			"status": resp.Status,
			"error":  resp.ExecutionError,
		})
		return retry(StepSubmit, resp.Status, commonerrors.NewReceiptExchangeUnavailableError(resp.Status, resp.ExecutionError))
	}

	credential, err := e.ops.ReceiveCredential(ctx, rc, resp.Result.Response)
	if err != nil {
		return e.zkFailure(StepDerive, state, err, log)
	}

	check := CheckCredential(sub, credential, e.now())
	log.Debug("credential validation", check.Fields())
	if !check.Valid() {
		for _, name := range check.Failed() {
			metrics.ReceiptValidationFailures.WithLabelValues(name).Inc()
		}
		log.Warn("could not validate receipt credential", check.Fields())
		return fatal(StepValidate, resp.Status, commonerrors.NewReceiptCredentialInvalidError(check.String()))
	}

	presentation, err := e.ops.CreatePresentation(ctx, credential)
	if err != nil {
		return e.zkFailure(StepPresent, state, err, log)
	}

	return Result{Disposition: Success, Step: StepPresent, Presentation: presentation, Status: resp.Status}
}

// handleApplicationError applies the exchange status policy.
func (e *Engine) handleApplicationError(status int, appErr error, log logger.Logger) Result {
	fields := map[string]interface{}{"status": status, "error": appErr}

	switch status {
	case http.StatusNoContent:
		log.Warn("no receipts available to exchange, exiting", fields)
		return Result{
			Disposition: Abandoned,
			Step:        StepSubmit,
			Status:      status,
			Err:         commonerrors.NewNothingToRedeemError(status, appErr),
		}
	case http.StatusBadRequest:
		log.Warn("receipt credential request failed to validate", fields)
		return fatal(StepSubmit, status, commonerrors.NewReceiptRequestInvalidError(status, appErr))
	case http.StatusForbidden:
		log.Warn("subscriber id password mismatch or account auth was present", fields)
		return fatal(StepSubmit, status, commonerrors.NewReceiptAuthMismatchError(status, appErr))
	case http.StatusNotFound:
		log.Warn("subscriber id not found or malformed", fields)
		return fatal(StepSubmit, status, commonerrors.NewReceiptSubscriberNotFoundError(status, appErr))
	case http.StatusConflict:
		// TODO: decide with the donations service owners whether a conflict should
		// re-derive against the already redeemed request instead of failing.
		log.Warn("latest paid receipt already redeemed with a different request credential", fields)
		return fatal(StepSubmit, status, commonerrors.NewReceiptAlreadyRedeemedError(status, appErr))
	default:
		log.Warn("encountered a server failure response", fields)
		return retry(StepSubmit, status, commonerrors.NewReceiptServerError(status, appErr))
	}
}

// zkFailure discards the request context on a verification failure; it can
// never be redeemed. Any other failure keeps it for the next attempt.
func (e *Engine) zkFailure(step Step, state *JobState, err error, log logger.Logger) Result {
	if errors.Is(err, zkreceipt.ErrVerificationFailed) {
		metrics.ReceiptVerificationFailures.WithLabelValues(string(step)).Inc()
		log.Warn("encountered a verification failure in zk", map[string]interface{}{
			"anomaly": "zk_verification",
			"step":    string(step),
			"error":   err,
		})
		state.Request = Absent()
		return retry(step, 0, commonerrors.NewZKVerificationFailedError(string(step), err))
	}

	log.Warn("zk operations unavailable", map[string]interface{}{
		"step":  string(step),
		"error": err,
	})
	return retry(step, 0, commonerrors.NewZKUnavailableError(string(step), err))
}

func retry(step Step, status int, err *commonerrors.StandardError) Result {
	return Result{Disposition: Retry, Step: step, Status: status, Err: err}
}

func fatal(step Step, status int, err *commonerrors.StandardError) Result {
	return Result{Disposition: Fatal, Step: step, Status: status, Err: err}
}
