package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultDemoCityCode  = "RNC"
	reportNumberPrefix   = "CL"
	minManualTitleLength = 5
	maxManualTitleLength = 200
	maxManualDescription = 2000
)

// demoReportAPI is an in-memory report service used when no remote API is configured.
// It applies every change item by item, the way the real service reports them.
type demoReportAPI struct {
	mu          sync.Mutex
	reports     map[int]Report
	officers    map[int]Officer
	departments []Department
	nextID      int
	cityCode    string
	now         func() time.Time
	geocoder    addressLookup
}

func newDemoReportAPI(cityCode string, now func() time.Time) *demoReportAPI {
	if strings.TrimSpace(cityCode) == "" {
		cityCode = defaultDemoCityCode
	}
	api := &demoReportAPI{
		reports:  make(map[int]Report),
		officers: make(map[int]Officer),
		nextID:   1,
		cityCode: strings.ToUpper(cityCode),
		now:      now,
	}
	api.seed()
	return api
}

func intPtr(v int) *int          { return &v }
func stringPtr(v string) *string { return &v }

func (d *demoReportAPI) reportNumber(id int, at time.Time) string {
	return fmt.Sprintf("%s-%d-%s-%05d", reportNumberPrefix, at.Year(), d.cityCode, id)
}

type demoSeed struct {
	title       string
	category    ReportCategory
	severity    ReportSeverity
	status      ReportStatus
	lat, lng    float64
	address     string
	department  int
	officer     int
	needsReview bool
	ageHours    int
}

func (d *demoReportAPI) seed() {
	d.departments = []Department{
		{ID: 1, Name: "Roads & Infrastructure"},
		{ID: 2, Name: "Water Supply"},
		{ID: 3, Name: "Sanitation"},
		{ID: 4, Name: "Electricity"},
		{ID: 5, Name: "Drainage"},
	}
	for _, officer := range []Officer{
		{UserID: 101, FullName: "Anita Kumari", DepartmentID: 1},
		{UserID: 102, FullName: "Rakesh Oraon", DepartmentID: 1},
		{UserID: 103, FullName: "Sunita Munda", DepartmentID: 2},
		{UserID: 104, FullName: "Vikash Mahto", DepartmentID: 3},
		{UserID: 105, FullName: "Pooja Tirkey", DepartmentID: 4},
		{UserID: 106, FullName: "Manoj Lakra", DepartmentID: 5},
	} {
		d.officers[officer.UserID] = officer
	}

	seeds := []demoSeed{
		{"Large pothole near Albert Ekka Chowk", CategoryRoads, SeverityHigh, StatusReceived, 23.3644, 85.3350, "Main Road, Albert Ekka Chowk", 0, 0, false, 2},
		{"Broken streetlight on Circular Road", CategoryStreetlight, SeverityMedium, StatusPendingClassification, 23.3700, 85.3260, "Circular Road, Lalpur", 0, 0, true, 5},
		{"Overflowing garbage bin at Lalpur market", CategorySanitation, SeverityMedium, StatusClassified, 23.3802, 85.3305, "Lalpur Market", 0, 0, false, 9},
		{"Water pipeline leak in Harmu Housing Colony", CategoryWater, SeverityHigh, StatusAssignedToDepartment, 23.3560, 85.3010, "Harmu Housing Colony", 2, 0, false, 20},
		{"Blocked drain near Kokar Chowk", CategoryDrainage, SeverityMedium, StatusAssignedToDepartment, 23.3885, 85.3560, "Kokar Chowk", 5, 0, false, 26},
		{"Road cave-in near Kanke Dam road", CategoryRoads, SeverityCritical, StatusAssignedToOfficer, 23.4150, 85.3200, "Kanke Dam Road", 1, 101, false, 30},
		{"Transformer sparking in Bariatu", CategoryElectricity, SeverityCritical, StatusAcknowledged, 23.3890, 85.3450, "Bariatu Road", 4, 105, false, 36},
		{"Low water pressure in Doranda", CategoryWater, SeverityLow, StatusInProgress, 23.3420, 85.3220, "Doranda Main Road", 2, 103, false, 48},
		{"Garbage dumping near Ranchi Lake", CategorySanitation, SeverityMedium, StatusPendingVerification, 23.3680, 85.3180, "Ranchi Lake Road", 3, 104, false, 60},
		{"Street flooding at Morabadi ground", CategoryDrainage, SeverityHigh, StatusResolved, 23.3980, 85.3300, "Morabadi Ground", 5, 106, false, 80},
		{"Damaged footpath on Station Road", CategoryRoads, SeverityLow, StatusClosed, 23.3500, 85.3380, "Station Road", 1, 102, false, 120},
		{"Broken bench in Nakshatra Van", CategoryPublicProperty, SeverityLow, StatusRejected, 23.3710, 85.3275, "Nakshatra Van", 0, 0, false, 140},
		{"Duplicate pothole report, Main Road", CategoryRoads, SeverityMedium, StatusDuplicate, 23.3646, 85.3352, "Main Road", 0, 0, false, 3},
		{"Illegal hoarding blocking signal, Kadru", CategoryOther, SeverityMedium, StatusOnHold, 23.3460, 85.3130, "Kadru Bypass", 1, 0, true, 72},
		{"Streetlights off across Hinoo", CategoryStreetlight, SeverityHigh, StatusReopened, 23.3390, 85.3050, "Hinoo Chowk", 4, 105, false, 96},
	}

	base := d.now().UTC()
	for _, s := range seeds {
		id := d.nextID
		d.nextID++
		created := base.Add(-time.Duration(s.ageHours) * time.Hour)
		report := Report{
			ID:           id,
			ReportNumber: d.reportNumber(id, created),
			Title:        s.title,
			Description:  s.title + ". Reported by a resident through the citizen app.",
			Category:     s.category,
			Severity:     s.severity,
			Status:       s.status,
			Latitude:     s.lat,
			Longitude:    s.lng,
			Address:      stringPtr(s.address),
			NeedsReview:  s.needsReview,
			CreatedAt:    created,
		}
		if s.department > 0 {
			report.DepartmentID = intPtr(s.department)
			report.Task = &Task{ID: id, Priority: defaultBulkPriority}
		}
		if s.officer > 0 {
			assigned := created.Add(time.Hour)
			report.Task.AssignedToID = intPtr(s.officer)
			report.Task.AssignedAt = &assigned
		}
		if s.status == StatusResolved || s.status == StatusClosed {
			resolved := created.Add(24 * time.Hour)
			report.Task.ResolvedAt = &resolved
			report.Task.ResolutionNotes = stringPtr("Work completed and verified on site.")
		}
		d.reports[id] = report
	}
}

func demoNotFound(kind string, id int) error {
	return &remoteAPIError{StatusCode: http.StatusNotFound, Detail: errorDetail{Text: fmt.Sprintf("%s %d not found", kind, id)}}
}

func (d *demoReportAPI) ListReports(_ context.Context, filter FilterState) (*reportPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	matched := make([]Report, 0, len(d.reports))
	for _, report := range d.reports {
		if filter.matches(report) {
			matched = append(matched, cloneReport(report))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := filter.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * filterPageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filterPageSize
	if end > len(matched) {
		end = len(matched)
	}
	return &reportPage{Data: matched[start:end], Total: len(matched)}, nil
}

func (d *demoReportAPI) GetReport(_ context.Context, reportID int) (*Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	report, ok := d.reports[reportID]
	if !ok {
		return nil, demoNotFound("report", reportID)
	}
	out := cloneReport(report)
	return &out, nil
}

func (d *demoReportAPI) GetOfficer(_ context.Context, userID int) (*Officer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	officer, ok := d.officers[userID]
	if !ok {
		return nil, demoNotFound("officer", userID)
	}
	return &officer, nil
}

func (d *demoReportAPI) Departments() []Department {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Department(nil), d.departments...)
}

func (d *demoReportAPI) Officers() []Officer {
	d.mu.Lock()
	defer d.mu.Unlock()
	officers := make([]Officer, 0, len(d.officers))
	for _, officer := range d.officers {
		officers = append(officers, officer)
	}
	sort.Slice(officers, func(i, j int) bool { return officers[i].UserID < officers[j].UserID })
	return officers
}

func (d *demoReportAPI) UpdateReportStatus(_ context.Context, reportID int, status ReportStatus, notes string) (*Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	updated, err := d.applyStatusLocked(reportID, status, notes)
	if err != nil {
		return nil, err
	}
	out := cloneReport(updated)
	return &out, nil
}

func (d *demoReportAPI) applyStatusLocked(reportID int, status ReportStatus, notes string) (Report, error) {
	report, ok := d.reports[reportID]
	if !ok {
		return Report{}, demoNotFound("report", reportID)
	}
	if !canTransition(report.Status, status) {
		return Report{}, &remoteAPIError{
			StatusCode: http.StatusBadRequest,
			Detail:     errorDetail{Text: fmt.Sprintf("Invalid status transition from %s to %s", report.Status, status)},
		}
	}

	report = cloneReport(report)
	now := d.now().UTC()
	if report.Task == nil {
		report.Task = &Task{ID: report.ID, Priority: defaultBulkPriority}
	}
	switch status {
	case StatusAcknowledged:
		report.Task.AcknowledgedAt = &now
	case StatusInProgress:
		report.Task.StartedAt = &now
	case StatusResolved, StatusRejected:
		report.Task.ResolvedAt = &now
		if strings.TrimSpace(notes) != "" {
			report.Task.ResolutionNotes = stringPtr(notes)
		}
	}
	report.Status = status
	if strings.TrimSpace(notes) != "" {
		appendTaskNote(&report, notes)
	}
	d.reports[reportID] = report
	return report, nil
}

// eachBulkItem applies fn to every id and collects per-item failures.
func (d *demoReportAPI) eachBulkItem(reportIDs []int, fn func(report *Report) error) *bulkRemoteResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := &bulkRemoteResult{Errors: []bulkItemError{}}
	for _, id := range reportIDs {
		report, ok := d.reports[id]
		if !ok {
			result.Failed++
			result.Errors = append(result.Errors, bulkItemError{ReportID: id, Error: "Report not found"})
			continue
		}
		report = cloneReport(report)
		if err := fn(&report); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, bulkItemError{ReportID: id, Error: normalizeErrorMessage(err)})
			continue
		}
		d.reports[id] = report
		result.Successful++
	}
	return result
}

func (d *demoReportAPI) BulkAssignDepartment(_ context.Context, reportIDs []int, departmentID int, notes string) (*bulkRemoteResult, error) {
	if !d.hasDepartment(departmentID) {
		return nil, &remoteAPIError{StatusCode: http.StatusBadRequest, Detail: errorDetail{Text: fmt.Sprintf("Department %d does not exist", departmentID)}}
	}
	return d.eachBulkItem(reportIDs, func(report *Report) error {
		if isAssignmentLocked(report.Status) {
			return fmt.Errorf("cannot reassign a %s report", report.Status)
		}
		if departmentChangeStrandsOfficer(report.Status) {
			return errors.New(departmentChangeBlockedReason(report.Status))
		}
		report.DepartmentID = intPtr(departmentID)
		if report.Task == nil {
			report.Task = &Task{ID: report.ID, Priority: defaultBulkPriority}
		}
		// A new department invalidates the previous officer.
		report.Task.AssignedToID = nil
		report.Task.AssignedAt = nil
		if canTransition(report.Status, StatusAssignedToDepartment) && report.Status != StatusAssignedToDepartment {
			report.Status = StatusAssignedToDepartment
		}
		if strings.TrimSpace(notes) != "" {
			appendTaskNote(report, notes)
		}
		return nil
	}), nil
}

func (d *demoReportAPI) BulkAssignOfficer(_ context.Context, reportIDs []int, officerUserID, priority int, notes string) (*bulkRemoteResult, error) {
	d.mu.Lock()
	officer, ok := d.officers[officerUserID]
	d.mu.Unlock()
	if !ok {
		return nil, &remoteAPIError{StatusCode: http.StatusBadRequest, Detail: errorDetail{Items: []errorDetailItem{{Msg: fmt.Sprintf("Officer %d does not exist", officerUserID)}}}}
	}
	now := d.now().UTC()
	return d.eachBulkItem(reportIDs, func(report *Report) error {
		if report.DepartmentID == nil || *report.DepartmentID != officer.DepartmentID {
			return fmt.Errorf("officer %s does not belong to the report's department", officer.FullName)
		}
		if report.Task == nil {
			report.Task = &Task{ID: report.ID}
		}
		report.Task.AssignedToID = intPtr(officer.UserID)
		report.Task.AssignedAt = &now
		report.Task.Priority = priority
		if canTransition(report.Status, StatusAssignedToOfficer) && report.Status != StatusAssignedToOfficer {
			report.Status = StatusAssignedToOfficer
		}
		if strings.TrimSpace(notes) != "" {
			appendTaskNote(report, notes)
		}
		return nil
	}), nil
}

func (d *demoReportAPI) BulkUpdateStatus(_ context.Context, reportIDs []int, status ReportStatus, notes string) (*bulkRemoteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := &bulkRemoteResult{Errors: []bulkItemError{}}
	for _, id := range reportIDs {
		if _, err := d.applyStatusLocked(id, status, notes); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, bulkItemError{ReportID: id, Error: normalizeErrorMessage(err)})
			continue
		}
		result.Successful++
	}
	return result, nil
}

func (d *demoReportAPI) BulkUpdateSeverity(_ context.Context, reportIDs []int, severity ReportSeverity) (*bulkRemoteResult, error) {
	return d.eachBulkItem(reportIDs, func(report *Report) error {
		report.Severity = severity
		return nil
	}), nil
}

func (d *demoReportAPI) hasDepartment(id int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, department := range d.departments {
		if department.ID == id {
			return true
		}
	}
	return false
}

type manualReportInput struct {
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Category     ReportCategory `json:"category"`
	Severity     ReportSeverity `json:"severity"`
	Latitude     float64        `json:"latitude"`
	Longitude    float64        `json:"longitude"`
	Address      *string        `json:"address"`
	DepartmentID *int           `json:"department_id"`
}

func validateManualReport(input *manualReportInput) error {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	if len(input.Title) < minManualTitleLength || len(input.Title) > maxManualTitleLength {
		return &apiError{Status: http.StatusBadRequest, Code: "invalid_title", Message: fmt.Sprintf("title must be %d-%d characters", minManualTitleLength, maxManualTitleLength)}
	}
	if len(input.Description) > maxManualDescription {
		return &apiError{Status: http.StatusBadRequest, Code: "invalid_description", Message: "description is too long"}
	}
	if !input.Category.IsValid() {
		return &apiError{Status: http.StatusBadRequest, Code: "invalid_category", Message: fmt.Sprintf("unknown category %q", input.Category)}
	}
	if input.Severity == "" {
		input.Severity = SeverityMedium
	}
	if !input.Severity.IsValid() {
		return &apiError{Status: http.StatusBadRequest, Code: "invalid_severity", Message: fmt.Sprintf("unknown severity %q", input.Severity)}
	}
	if input.Address != nil {
		trimmed := strings.TrimSpace(*input.Address)
		if trimmed == "" {
			input.Address = nil
		} else {
			input.Address = &trimmed
		}
	}
	return validateReportLocation(input.Latitude, input.Longitude)
}

// CreateReport records an administrator-entered report. A department in the input routes it immediately.
func (d *demoReportAPI) CreateReport(ctx context.Context, input manualReportInput) (*Report, error) {
	if err := validateManualReport(&input); err != nil {
		return nil, err
	}
	if input.DepartmentID != nil && !d.hasDepartment(*input.DepartmentID) {
		return nil, &apiError{Status: http.StatusBadRequest, Code: "invalid_department", Message: fmt.Sprintf("department %d does not exist", *input.DepartmentID)}
	}

	address := input.Address
	if address == nil && d.geocoder != nil {
		if resolved, err := d.geocoder.ReverseGeocode(ctx, input.Latitude, input.Longitude); err == nil && resolved != "" {
			address = &resolved
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC()
	id := d.nextID
	d.nextID++
	report := Report{
		ID:           id,
		ReportNumber: d.reportNumber(id, now),
		Title:        input.Title,
		Description:  input.Description,
		Category:     input.Category,
		Severity:     input.Severity,
		Status:       StatusReceived,
		Latitude:     input.Latitude,
		Longitude:    input.Longitude,
		Address:      address,
		CreatedAt:    now,
	}
	if input.DepartmentID != nil {
		report.DepartmentID = intPtr(*input.DepartmentID)
		report.Task = &Task{ID: id, Priority: defaultBulkPriority}
		report.Status = StatusAssignedToDepartment
	}
	d.reports[id] = report
	out := cloneReport(report)
	return &out, nil
}
