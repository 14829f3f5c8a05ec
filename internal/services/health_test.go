package services

import (
	"testing"
	"time"

	"github.com/neurobridge/assessment-session/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestEvaluateHealth(t *testing.T) {
	fresh := &models.AssessmentSession{StartTime: testStart.UnixMilli()}
	plenty := models.StorageInfo{AvailableStorage: 4 * 1024 * 1024}
	scarce := models.StorageInfo{AvailableStorage: 1024}

	tests := []struct {
		name    string
		session *models.AssessmentSession
		backup  bool
		info    models.StorageInfo
		now     time.Time
		status  models.HealthStatus
		issues  []string
	}{
		{
			name:    "healthy",
			session: fresh,
			backup:  true,
			info:    plenty,
			now:     testStart.Add(time.Minute),
			status:  models.HealthHealthy,
			issues:  []string{},
		},
		{
			name:   "no session",
			info:   plenty,
			now:    testStart,
			status: models.HealthWarning,
			issues: []string{"No active assessment session found"},
		},
		{
			name:   "no session and low storage",
			info:   scarce,
			now:    testStart,
			status: models.HealthWarning,
			issues: []string{"No active assessment session found", "Low storage space available"},
		},
		{
			name:    "exactly one hour is not stale",
			session: fresh,
			backup:  true,
			info:    plenty,
			now:     testStart.Add(time.Hour),
			status:  models.HealthHealthy,
			issues:  []string{},
		},
		{
			name:    "old session with broken backup on low storage",
			session: fresh,
			backup:  false,
			info:    scarce,
			now:     testStart.Add(2 * time.Hour),
			status:  models.HealthCritical,
			issues: []string{
				"Low storage space available",
				"Assessment session is quite old",
				"Backup snapshot is missing or unreadable",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := evaluateHealth(tt.session, tt.backup, tt.info, tt.now)
			assert.Equal(t, tt.status, report.Status)
			assert.Equal(t, tt.issues, report.Issues)
			assert.Len(t, report.Recommendations, len(tt.issues))
		})
	}
}
