package receiptrequestresponse

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"receipt-workers/internal/common/database"
	commonerrors "receipt-workers/internal/common/errors"
	"receipt-workers/internal/models"
	"receipt-workers/internal/zkreceipt"

	"github.com/redis/go-redis/v9"
)

// RequestState is either Absent or Present with a request context.
// Absent covers both "never generated" and "discarded after a verification failure".
type RequestState struct {
	context zkreceipt.RequestContext
}

func Absent() RequestState { return RequestState{} }

func Present(rc zkreceipt.RequestContext) RequestState {
	if rc == nil {
		panic("receiptrequestresponse: Present requires a request context")
	}
	return RequestState{context: rc}
}

func (s RequestState) IsPresent() bool { return s.context != nil }

// Context returns the request context; ok is false when Absent.
func (s RequestState) Context() (rc zkreceipt.RequestContext, ok bool) {
	return s.context, s.context != nil
}

// JobState is everything that survives between attempts.
type JobState struct {
	SubscriberID models.SubscriberID
	Request      RequestState
	CreatedAt    time.Time
	// Revision grows with every checkpoint. Between a checkpoint and the job
	// variables, the higher revision is the newer state.
	Revision int64
}

// Serialize renders the state as job variables. An Absent request is an
// explicit null so that it overwrites a context sent by an earlier attempt.
func (s *JobState) Serialize() map[string]interface{} {
	vars := map[string]interface{}{
		VarSubscriberID:   s.SubscriberID.String(),
		VarCreatedAt:      s.CreatedAt.UTC().Format(time.RFC3339Nano),
		VarStateRevision:  s.Revision,
		VarRequestContext: nil,
	}
	if rc, ok := s.Request.Context(); ok {
		vars[VarRequestContext] = base64.StdEncoding.EncodeToString(rc.Bytes())
	}
	return vars
}

// Deserialize rebuilds the state from job variables. A missing createdAt is
// left zero for the caller to stamp.
//
// Bytes the crypto operations reject are a corrupt state, which no retry can fix.
func Deserialize(ctx context.Context, ops zkreceipt.Operations, vars map[string]interface{}) (*JobState, error) {
	rawID, _ := vars[VarSubscriberID].(string)
	id, err := models.ParseSubscriberID(rawID)
	if err != nil {
		return nil, commonerrors.NewInvalidJobInputError(err.Error())
	}

	revision, err := revisionOf(vars)
	if err != nil {
		return nil, commonerrors.NewInvalidJobInputError(err.Error())
	}

	state := &JobState{SubscriberID: id, Request: Absent(), Revision: revision}

	if raw, ok := vars[VarCreatedAt].(string); ok && raw != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, commonerrors.NewInvalidJobInputError(fmt.Sprintf("createdAt: %v", err))
		}
		state.CreatedAt = createdAt
	}

	encoded := vars[VarRequestContext]
	if encoded == nil {
		return state, nil
	}

	s, ok := encoded.(string)
	if !ok {
		return nil, commonerrors.NewReceiptStateCorruptError(fmt.Errorf("requestContext is %T, not a string", encoded))
	}
	blob, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(blob) == 0 {
		return nil, commonerrors.NewReceiptStateCorruptError(fmt.Errorf("requestContext: invalid encoding: %v", err))
	}

	rc, err := ops.DeserializeRequestContext(ctx, blob)
	switch {
	case errors.Is(err, zkreceipt.ErrInvalidInput), errors.Is(err, zkreceipt.ErrVerificationFailed):
		return nil, commonerrors.NewReceiptStateCorruptError(err)
	case err != nil:
		return nil, commonerrors.NewZKUnavailableError(string(StepRestore), err)
	}

	state.Request = Present(rc)
	return state, nil
}

// StateStore checkpoints serialized job state between attempts. It is the
// authority over the request context because job variables, once set, cannot
// be removed by a failed attempt.
type StateStore interface {
	Load(ctx context.Context, elementInstanceKey int64) (vars map[string]interface{}, found bool, err error)
	Save(ctx context.Context, elementInstanceKey int64, vars map[string]interface{}) error
	Delete(ctx context.Context, elementInstanceKey int64) error
}

type RedisStateStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisStateStore(rdb redis.Cmdable, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{rdb: rdb, ttl: ttl}
}

func stateKey(elementInstanceKey int64) string {
	return "receipt:job:" + strconv.FormatInt(elementInstanceKey, 10)
}

func (s *RedisStateStore) Load(ctx context.Context, elementInstanceKey int64) (map[string]interface{}, bool, error) {
	var vars map[string]interface{}
	found, err := database.GetJSON(ctx, s.rdb, stateKey(elementInstanceKey), &vars)
	if err != nil {
		return nil, false, err
	}
	return vars, found, nil
}

func (s *RedisStateStore) Save(ctx context.Context, elementInstanceKey int64, vars map[string]interface{}) error {
	return database.SetJSON(ctx, s.rdb, stateKey(elementInstanceKey), vars, s.ttl)
}

func (s *RedisStateStore) Delete(ctx context.Context, elementInstanceKey int64) error {
	return s.rdb.Del(ctx, stateKey(elementInstanceKey)).Err()
}

// mergeStored lays a checkpoint over the job variables. The checkpoint decides
// whether a request context exists unless the job variables carry a newer
// revision, which happens when the last checkpoint write failed.
func mergeStored(vars, stored map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		merged[k] = v
	}

	varsRev, varsErr := revisionOf(vars)
	storedRev, storedErr := revisionOf(stored)
	if varsErr == nil && storedErr == nil && varsRev > storedRev {
		return merged
	}

	delete(merged, VarRequestContext)
	for k, v := range stored {
		merged[k] = v
	}
	return merged
}

// revisionOf reads the state revision. Job variables arrive as JSON numbers;
// state built in process carries an int64.
func revisionOf(vars map[string]interface{}) (int64, error) {
	var rev int64
	switch v := vars[VarStateRevision].(type) {
	case nil:
		return 0, nil
	case int64:
		rev = v
	case int:
		rev = int64(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("stateRevision: %v is not an integer", v)
		}
		rev = int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("stateRevision: %w", err)
		}
		rev = n
	default:
		return 0, fmt.Errorf("stateRevision is %T, not a number", v)
	}
	if rev < 0 {
		return 0, fmt.Errorf("stateRevision: %d is negative", rev)
	}
	return rev, nil
}
