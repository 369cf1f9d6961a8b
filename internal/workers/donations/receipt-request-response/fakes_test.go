package receiptrequestresponse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"receipt-workers/internal/account"
	"receipt-workers/internal/audit"
	"receipt-workers/internal/common/camunda"
	"receipt-workers/internal/common/logger"
	"receipt-workers/internal/donations"
	"receipt-workers/internal/models"
	"receipt-workers/internal/notification"
	"receipt-workers/internal/zkreceipt/zkreceipttest"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
)

const day = int64(86400)

// testNow is a fixed clock, and testEndOfPeriod a day-aligned period end after it.
var (
	testNow         = time.Unix(1_700_000_000, 0).UTC()
	testEndOfPeriod = (testNow.Unix()/day + 2) * day
)

func testSubscriberID() models.SubscriberID {
	return models.SubscriberID(bytes.Repeat([]byte{0x5a}, models.SubscriberIDSize))
}

func activeSubscription(level int64) donations.ServiceResponse[donations.ActiveSubscription] {
	return donations.ServiceResponse[donations.ActiveSubscription]{
		Status: http.StatusOK,
		Result: &donations.ActiveSubscription{Subscription: &donations.Subscription{
			Level:              level,
			EndOfCurrentPeriod: testEndOfPeriod,
			Active:             true,
			Status:             "active",
		}},
	}
}

// fakeDonations answers like the donations service. By default it issues a
// credential valid for the active level-2 subscription.
type fakeDonations struct {
	mu sync.Mutex

	subscription donations.ServiceResponse[donations.ActiveSubscription]
	submit       func(request []byte) donations.ServiceResponse[donations.ReceiptCredentialResponse]

	statusCalls int
	submitted   [][]byte
}

func newFakeDonations() *fakeDonations {
	return &fakeDonations{
		subscription: activeSubscription(2),
		submit:       issueCredential(2, testEndOfPeriod+10*day),
	}
}

func issueCredential(level, expiration int64) func([]byte) donations.ServiceResponse[donations.ReceiptCredentialResponse] {
	return func(request []byte) donations.ServiceResponse[donations.ReceiptCredentialResponse] {
		return donations.ServiceResponse[donations.ReceiptCredentialResponse]{
			Status: http.StatusOK,
			Result: &donations.ReceiptCredentialResponse{Response: zkreceipttest.Issue(request, level, expiration)},
		}
	}
}

func respondStatus(status int) func([]byte) donations.ServiceResponse[donations.ReceiptCredentialResponse] {
	return func([]byte) donations.ServiceResponse[donations.ReceiptCredentialResponse] {
		err := &donations.StatusError{Status: status}
		if status >= 500 {
			return donations.ServiceResponse[donations.ReceiptCredentialResponse]{Status: status, ExecutionError: err}
		}
		return donations.ServiceResponse[donations.ReceiptCredentialResponse]{Status: status, ApplicationError: err}
	}
}

func (f *fakeDonations) GetSubscription(ctx context.Context, id models.SubscriberID) donations.ServiceResponse[donations.ActiveSubscription] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.subscription
}

func (f *fakeDonations) SubmitReceiptCredentialRequest(ctx context.Context, id models.SubscriberID, request []byte) donations.ServiceResponse[donations.ReceiptCredentialResponse] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, append([]byte(nil), request...))
	return f.submit(request)
}

func (f *fakeDonations) Submitted() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.submitted...)
}

type thrownError struct {
	Code      string
	Message   string
	Variables map[string]interface{}
}

// fakeReporter records what would have been sent to the broker.
type fakeReporter struct {
	completed []map[string]interface{}
	failed    []camunda.Failure
	thrown    []thrownError
	// ctxErrs holds ctx.Err() as seen by each command.
	ctxErrs []error
	err     error
}

func (r *fakeReporter) Complete(ctx context.Context, job entities.Job, variables map[string]interface{}) error {
	r.completed = append(r.completed, variables)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return r.err
}

func (r *fakeReporter) Fail(ctx context.Context, job entities.Job, failure camunda.Failure) error {
	r.failed = append(r.failed, failure)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return r.err
}

func (r *fakeReporter) ThrowError(ctx context.Context, job entities.Job, code, message string, variables map[string]interface{}) error {
	r.thrown = append(r.thrown, thrownError{Code: code, Message: message, Variables: variables})
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return r.err
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notification.Notice
}

func (n *fakeNotifier) NotifyVerificationFailed(ctx context.Context, notice notification.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []audit.AttemptRecord
}

func (r *fakeRecorder) RecordAttempt(ctx context.Context, rec audit.AttemptRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

// memoryStateStore is a StateStore that can be told to fail.
type memoryStateStore struct {
	mu      sync.Mutex
	states  map[int64]map[string]interface{}
	saveErr error
	// failSave makes only the save with this 1-based number fail.
	failSave  int
	deleteErr error
	saves     int
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: make(map[int64]map[string]interface{})}
}

func (s *memoryStateStore) Load(ctx context.Context, key int64) (map[string]interface{}, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vars, ok := s.states[key]
	return vars, ok, nil
}

func (s *memoryStateStore) Save(ctx context.Context, key int64, vars map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.saves == s.failSave {
		return errStoreDown
	}
	s.states[key] = vars
	return nil
}

func (s *memoryStateStore) Delete(ctx context.Context, key int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.states, key)
	return nil
}

var errStoreDown = errors.New("store down")

func newTestEngine(t *testing.T, svc DonationsService, ops *zkreceipttest.Operations, accounts account.Store) *Engine {
	t.Helper()
	return NewEngine(svc, ops, accounts, logger.NewTestLogger(t), WithClock(func() time.Time { return testNow }))
}

func createMockJob(key int64, retries int32, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)

	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "subscription-receipt-continuation",
		ElementId:          "Activity_ReceiptRequest",
		ElementInstanceKey: key * 100,
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            retries,
		Variables:          string(variablesJSON),
	}}
}
