package services

import (
	"time"

	"github.com/neurobridge/assessment-session/internal/models"
)

const (
	lowStorageThreshold = 1024000
	staleSessionAge     = time.Hour
)

func evaluateHealth(session *models.AssessmentSession, backupReadable bool, info models.StorageInfo, now time.Time) *models.HealthReport {
	report := &models.HealthReport{
		Issues:          make([]string, 0),
		Recommendations: make([]string, 0),
	}

	if session == nil {
		report.Issues = append(report.Issues, "No active assessment session found")
		report.Recommendations = append(report.Recommendations, "Initialize a new assessment session")
	}

	if info.AvailableStorage < lowStorageThreshold {
		report.Issues = append(report.Issues, "Low storage space available")
		report.Recommendations = append(report.Recommendations, "Clear old assessment data")
	}

	if session != nil && session.ElapsedMillis(now.UnixMilli()) > staleSessionAge.Milliseconds() {
		report.Issues = append(report.Issues, "Assessment session is quite old")
		report.Recommendations = append(report.Recommendations, "Consider completing or restarting the assessment")
	}

	if session != nil && !backupReadable {
		report.Issues = append(report.Issues, "Backup snapshot is missing or unreadable")
		report.Recommendations = append(report.Recommendations, "Record another response to refresh the backup")
	}

	switch n := len(report.Issues); {
	case n == 0:
		report.Status = models.HealthHealthy
	case n <= 2:
		report.Status = models.HealthWarning
	default:
		report.Status = models.HealthCritical
	}
	return report
}
