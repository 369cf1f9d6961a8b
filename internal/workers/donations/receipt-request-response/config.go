package receiptrequestresponse

import (
	"time"

	"receipt-workers/internal/common/config"
)

const defaultReportTimeout = 10 * time.Second

type Config struct {
	// Timeout bounds one attempt, lock wait included.
	Timeout time.Duration
	// ReportTimeout bounds the broker command and checkpoint update that
	// follow an attempt. It is not taken out of Timeout.
	ReportTimeout time.Duration
	Lifespan      time.Duration
	RetryBackoff  time.Duration
	StateTTL      time.Duration
	LockWait      time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	worker := config.GetWorkerConfig(cfg, TaskType)
	c := &Config{
		Timeout:       config.GetDuration(worker.Timeout),
		ReportTimeout: config.GetDuration(cfg.Camunda.RequestTimeout),
		Lifespan:      config.GetDuration(cfg.Receipts.Lifespan),
		RetryBackoff:  config.GetDuration(cfg.Receipts.RetryBackoff),
		StateTTL:      config.GetDuration(cfg.Receipts.StateTTL),
		LockWait:      config.GetDuration(cfg.Receipts.LockWait),
	}
	c.FitActivation(config.GetDuration(worker.Timeout))
	return c
}

// FitActivation shortens Timeout so that an attempt and its report finish
// before the broker hands the job to another worker.
func (c *Config) FitActivation(activation time.Duration) {
	if activation <= 0 {
		return
	}
	if c.ReportTimeout <= 0 || c.ReportTimeout >= activation/2 {
		c.ReportTimeout = min(defaultReportTimeout, activation/4)
	}
	budget := activation - c.ReportTimeout
	if c.Timeout <= 0 || c.Timeout > budget {
		c.Timeout = budget
	}
}
