package camunda

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// Failure describes a failed attempt. Retries is what the broker should have
// left after this attempt; zero raises an incident.
type Failure struct {
	Retries   int32
	Backoff   time.Duration
	Message   string
	Variables map[string]interface{}
}

// JobReporter delivers a job outcome to the broker.
type JobReporter interface {
	Complete(ctx context.Context, job entities.Job, variables map[string]interface{}) error
	Fail(ctx context.Context, job entities.Job, failure Failure) error
	ThrowError(ctx context.Context, job entities.Job, code, message string, variables map[string]interface{}) error
}

type zeebeReporter struct {
	client worker.JobClient
}

// NewJobReporter reports through the client handed to a job handler.
func NewJobReporter(client worker.JobClient) JobReporter {
	return &zeebeReporter{client: client}
}

func (r *zeebeReporter) Complete(ctx context.Context, job entities.Job, variables map[string]interface{}) error {
	cmd, err := r.client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(nonNil(variables))
	if err != nil {
		return err
	}
	_, err = cmd.Send(ctx)
	return err
}

func (r *zeebeReporter) Fail(ctx context.Context, job entities.Job, failure Failure) error {
	cmd, err := r.client.NewFailJobCommand().
		JobKey(job.Key).
		Retries(failure.Retries).
		RetryBackoff(failure.Backoff).
		ErrorMessage(failure.Message).
		VariablesFromObject(nonNil(failure.Variables))
	if err != nil {
		return err
	}
	_, err = cmd.Send(ctx)
	return err
}

func (r *zeebeReporter) ThrowError(ctx context.Context, job entities.Job, code, message string, variables map[string]interface{}) error {
	cmd, err := r.client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(code).
		ErrorMessage(message).
		VariablesFromObject(nonNil(variables))
	if err != nil {
		return err
	}
	_, err = cmd.Send(ctx)
	return err
}

func nonNil(vars map[string]interface{}) map[string]interface{} {
	if vars == nil {
		return map[string]interface{}{}
	}
	return vars
}
