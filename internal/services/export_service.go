package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/neurobridge/assessment-session/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	ExportJSON  = "json"
	ExportCSV   = "csv"
	ExportExcel = "xlsx"
)

// ExportService renders the current session, or the last completed one when
// no session is active, for download.
type ExportService interface {
	Export(ctx context.Context, format string) (*ExportFile, error)
}

type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

type exportService struct {
	sessions SessionService
	logger   *slog.Logger
}

func NewExportService(sessions SessionService, logger *slog.Logger) ExportService {
	return &exportService{
		sessions: sessions,
		logger:   logger,
	}
}

// exportSource is whichever record the export is built from.
type exportSource struct {
	sessionID string
	responses []models.StoredResponse
	summary   [][2]interface{}
	document  interface{}
}

func (s *exportService) Export(ctx context.Context, format string) (*ExportFile, error) {
	source, err := s.source(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Exporting assessment responses",
		"session_id", source.sessionID,
		"format", format,
		"responses", len(source.responses))

	switch format {
	case "", ExportJSON:
		data, err := json.MarshalIndent(source.document, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode JSON export: %w", err)
		}
		return &ExportFile{Filename: source.sessionID + ".json", ContentType: "application/json", Data: data}, nil
	case ExportCSV:
		data, err := responsesToCSV(source.responses)
		if err != nil {
			return nil, err
		}
		return &ExportFile{Filename: source.sessionID + ".csv", ContentType: "text/csv", Data: data}, nil
	case ExportExcel:
		data, err := responsesToExcel(source)
		if err != nil {
			return nil, err
		}
		return &ExportFile{
			Filename:    source.sessionID + ".xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        data,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func (s *exportService) source(ctx context.Context) (*exportSource, error) {
	if session := s.sessions.GetCurrentSession(ctx); session != nil {
		progress := s.sessions.Progress(ctx)
		return &exportSource{
			sessionID: session.SessionID,
			responses: session.Responses,
			summary: [][2]interface{}{
				{"Session ID", session.SessionID},
				{"Assessment Type", session.Metadata.AssessmentType},
				{"Status", string(models.SessionActive)},
				{"Completed Categories", progress.CompletedCategories},
				{"Total Categories", progress.TotalCategories},
				{"Completion Percentage", progress.CompletionPercentage},
				{"Total Responses", progress.TotalResponses},
				{"Elapsed Time (s)", progress.ElapsedTime / 1000},
			},
			document: session,
		}, nil
	}

	record, err := s.sessions.LastCompletion(ctx)
	if err != nil {
		return nil, ErrNoActiveSession
	}
	return &exportSource{
		sessionID: record.SessionID,
		responses: record.Responses,
		summary: [][2]interface{}{
			{"Session ID", record.SessionID},
			{"Assessment Type", record.Metadata.AssessmentType},
			{"Status", string(models.SessionCompleted)},
			{"Completed Categories", record.Summary.CompletedCategories},
			{"Total Categories", record.Summary.TotalCategories},
			{"Completion Percentage", record.Summary.CompletionPercentage},
			{"Total Responses", record.Summary.TotalResponses},
			{"Total Time (s)", record.TotalTime / 1000},
			{"Average Time per Category (s)", record.Summary.AverageTimePerCategory},
		},
		document: record,
	}, nil
}

var responseHeaders = []string{
	"Sequence", "Question ID", "Category", "Category Index", "Question Index",
	"Response Type", "Response", "Time Taken (s)", "Recorded At",
}

func responseRow(r models.StoredResponse) []string {
	return []string{
		strconv.Itoa(r.Sequence),
		r.QuestionID,
		r.CategoryName,
		strconv.Itoa(r.CategoryIndex),
		strconv.Itoa(r.QuestionIndex),
		string(r.Response.Type),
		r.Response.SelectedAnswer(),
		strconv.FormatFloat(r.TimeTaken, 'f', 2, 64),
		time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339),
	}
}

func responsesToCSV(responses []models.StoredResponse) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(responseHeaders); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range responses {
		if err := writer.Write(responseRow(r)); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func responsesToExcel(source *exportSource) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const responsesSheet = "Responses"
	const summarySheet = "Summary"

	if err := f.SetSheetName("Sheet1", responsesSheet); err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}

	for i, header := range responseHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(responsesSheet, cell, header)
	}
	for rowIndex, r := range source.responses {
		values := []interface{}{
			r.Sequence, r.QuestionID, r.CategoryName, r.CategoryIndex, r.QuestionIndex,
			string(r.Response.Type), r.Response.SelectedAnswer(), r.TimeTaken,
			time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339),
		}
		for colIndex, value := range values {
			cell, _ := excelize.CoordinatesToCellName(colIndex+1, rowIndex+2)
			f.SetCellValue(responsesSheet, cell, value)
		}
	}

	for rowIndex, pair := range source.summary {
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", rowIndex+1), pair[0])
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", rowIndex+1), pair[1])
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}
	return buf.Bytes(), nil
}
