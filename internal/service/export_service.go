package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	"github.com/noah-isme/kindergarten-admission-api/pkg/export"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

// RosterFormat selects the roster rendering.
type RosterFormat string

const (
	RosterFormatCSV RosterFormat = "csv"
	RosterFormatPDF RosterFormat = "pdf"
)

// ExportResult is a rendered roster ready to be streamed.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
	Rows        int
}

type renderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
}

var rosterStatuses = []models.ApplicationStatus{
	models.StatusEnrolled,
	models.StatusApproved,
	models.StatusUnderReview,
	models.StatusSubmitted,
	models.StatusWaitlisted,
}

var rosterHeaders = []string{"No", "Application", "Student", "Status", "Priority", "Class", "Waitlist", "Score", "Submitted"}

// ExportService renders plan rosters.
type ExportService struct {
	plans        planRepository
	applications applicationRepository
	renderers    map[RosterFormat]renderer
	logger       *zap.Logger
}

// NewExportService constructs an ExportService. Nil renderers fall back to
// the package defaults.
func NewExportService(plans planRepository, applications applicationRepository, logger *zap.Logger, csv, pdf renderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter(true)
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		plans:        plans,
		applications: applications,
		renderers:    map[RosterFormat]renderer{RosterFormatCSV: csv, RosterFormatPDF: pdf},
		logger:       logger,
	}
}

// Roster renders every application of a plan that is still in the pipeline
// or enrolled, grouped by status.
func (s *ExportService) Roster(ctx context.Context, planID string, format RosterFormat) (*ExportResult, error) {
	if format == "" {
		format = RosterFormatCSV
	}
	r, ok := s.renderers[RosterFormat(strings.ToLower(string(format)))]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported roster format %q", format))
	}
	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return nil, storeError(err, "plan", "load plan")
	}
	apps, err := s.collect(ctx, planID)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Title:   fmt.Sprintf("%s roster %s", plan.Name, plan.AcademicYear),
		Headers: rosterHeaders,
		Rows:    make([]map[string]string, 0, len(apps)),
		Widths:  []float64{0.5, 1.6, 1.4, 1.1, 0.9, 0.9, 0.7, 0.7, 1.2},
	}
	for i, app := range apps {
		dataset.Rows = append(dataset.Rows, rosterRow(i+1, &app))
	}
	data, err := r.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	s.logger.Debug("roster rendered", zap.String("plan_id", planID), zap.String("format", string(format)), zap.Int("rows", len(apps)))
	return &ExportResult{
		Filename:    fmt.Sprintf("roster_%s_%s.%s", sanitizeFilename(plan.Name), sanitizeFilename(plan.AcademicYear), format),
		ContentType: r.ContentType(),
		Data:        data,
		Rows:        len(apps),
	}, nil
}

func (s *ExportService) collect(ctx context.Context, planID string) ([]models.EnrollmentApplication, error) {
	var out []models.EnrollmentApplication
	filter := models.ApplicationFilter{PlanID: planID, Statuses: rosterStatuses, PageSize: 100, SortBy: "application_number", SortOrder: "asc"}
	for filter.Page = 1; ; filter.Page++ {
		apps, total, err := s.applications.List(ctx, filter)
		if err != nil {
			return nil, storeError(err, "application", "list roster")
		}
		out = append(out, apps...)
		if filter.Page*filter.PageSize >= total || len(apps) == 0 {
			break
		}
	}
	rank := make(map[models.ApplicationStatus]int, len(rosterStatuses))
	for i, status := range rosterStatuses {
		rank[status] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		if rank[out[i].Status] != rank[out[j].Status] {
			return rank[out[i].Status] < rank[out[j].Status]
		}
		if out[i].Status == models.StatusWaitlisted {
			return deref(out[i].WaitlistPosition) < deref(out[j].WaitlistPosition)
		}
		return out[i].ApplicationNumber < out[j].ApplicationNumber
	})
	return out, nil
}

func rosterRow(n int, app *models.EnrollmentApplication) map[string]string {
	row := map[string]string{
		"No":          strconv.Itoa(n),
		"Application": app.ApplicationNumber,
		"Student":     app.StudentID,
		"Status":      string(app.Status),
		"Priority":    string(app.Priority),
		"Class":       derefString(app.PreferredClass),
	}
	if app.WaitlistPosition != nil {
		row["Waitlist"] = strconv.Itoa(*app.WaitlistPosition)
	}
	if app.Score != nil {
		row["Score"] = app.Score.StringFixed(2)
	}
	if app.SubmittedAt != nil {
		row["Submitted"] = app.SubmittedAt.UTC().Format(time.DateOnly)
	}
	return row
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := strings.ToLower(replacer.Replace(raw))
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
