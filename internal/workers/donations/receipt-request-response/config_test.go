package receiptrequestresponse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_FitActivation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		activation  time.Duration
		wantTimeout time.Duration
		wantReport  time.Duration
	}{
		{
			name:        "attempt equal to activation is shortened",
			config:      Config{Timeout: 90 * time.Second, ReportTimeout: 30 * time.Second},
			activation:  90 * time.Second,
			wantTimeout: 60 * time.Second,
			wantReport:  30 * time.Second,
		},
		{
			name:        "short attempt is kept",
			config:      Config{Timeout: 20 * time.Second, ReportTimeout: 5 * time.Second},
			activation:  90 * time.Second,
			wantTimeout: 20 * time.Second,
			wantReport:  5 * time.Second,
		},
		{
			name:        "report timeout too large for activation",
			config:      Config{Timeout: 30 * time.Second, ReportTimeout: 30 * time.Second},
			activation:  30 * time.Second,
			wantTimeout: 22500 * time.Millisecond,
			wantReport:  7500 * time.Millisecond,
		},
		{
			name:        "unset timeouts",
			activation:  time.Minute,
			wantTimeout: 50 * time.Second,
			wantReport:  10 * time.Second,
		},
		{
			name:        "no activation timeout",
			config:      Config{Timeout: time.Minute, ReportTimeout: time.Second},
			wantTimeout: time.Minute,
			wantReport:  time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.config
			c.FitActivation(tt.activation)
			assert.Equal(t, tt.wantTimeout, c.Timeout)
			assert.Equal(t, tt.wantReport, c.ReportTimeout)
			if tt.activation > 0 {
				assert.Less(t, c.Timeout, tt.activation)
			}
		})
	}
}
