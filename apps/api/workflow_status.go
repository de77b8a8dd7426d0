package main

import (
	"fmt"
	"strconv"
	"time"
)

type ReportStatus string

const (
	StatusReceived              ReportStatus = "received"
	StatusPendingClassification ReportStatus = "pending_classification"
	StatusClassified            ReportStatus = "classified"
	StatusAssignedToDepartment  ReportStatus = "assigned_to_department"
	StatusAssignedToOfficer     ReportStatus = "assigned_to_officer"
	StatusAssignmentRejected    ReportStatus = "assignment_rejected"
	StatusAcknowledged          ReportStatus = "acknowledged"
	StatusInProgress            ReportStatus = "in_progress"
	StatusPendingVerification   ReportStatus = "pending_verification"
	StatusResolved              ReportStatus = "resolved"
	StatusReopened              ReportStatus = "reopened"
	StatusClosed                ReportStatus = "closed"
	StatusRejected              ReportStatus = "rejected"
	StatusDuplicate             ReportStatus = "duplicate"
	StatusOnHold                ReportStatus = "on_hold"
)

type ReportCategory string

const (
	CategoryRoads          ReportCategory = "roads"
	CategoryWater          ReportCategory = "water"
	CategorySanitation     ReportCategory = "sanitation"
	CategoryElectricity    ReportCategory = "electricity"
	CategoryStreetlight    ReportCategory = "streetlight"
	CategoryDrainage       ReportCategory = "drainage"
	CategoryPublicProperty ReportCategory = "public_property"
	CategoryOther          ReportCategory = "other"
)

type ReportSeverity string

const (
	SeverityLow      ReportSeverity = "low"
	SeverityMedium   ReportSeverity = "medium"
	SeverityHigh     ReportSeverity = "high"
	SeverityCritical ReportSeverity = "critical"
)

var (
	reportStatuses = []ReportStatus{
		StatusReceived, StatusPendingClassification, StatusClassified,
		StatusAssignedToDepartment, StatusAssignedToOfficer, StatusAssignmentRejected,
		StatusAcknowledged, StatusInProgress, StatusPendingVerification,
		StatusResolved, StatusReopened, StatusClosed, StatusRejected, StatusDuplicate, StatusOnHold,
	}
	reportCategories = []ReportCategory{
		CategoryRoads, CategoryWater, CategorySanitation, CategoryElectricity,
		CategoryStreetlight, CategoryDrainage, CategoryPublicProperty, CategoryOther,
	}
	severityRank = map[ReportSeverity]int{
		SeverityLow:      1,
		SeverityMedium:   2,
		SeverityHigh:     3,
		SeverityCritical: 4,
	}

	// Every status has an entry; an empty slice marks a terminal status.
	statusTransitions = map[ReportStatus][]ReportStatus{
		StatusReceived:              {StatusPendingClassification, StatusAssignedToDepartment},
		StatusPendingClassification: {StatusClassified, StatusAssignedToDepartment},
		StatusClassified:            {StatusAssignedToDepartment},
		StatusAssignedToDepartment:  {StatusAssignedToOfficer, StatusOnHold},
		StatusAssignedToOfficer:     {StatusAcknowledged, StatusAssignmentRejected, StatusOnHold},
		StatusAssignmentRejected:    {StatusAssignedToOfficer, StatusAssignedToDepartment},
		StatusAcknowledged:          {StatusInProgress, StatusOnHold},
		StatusInProgress:            {StatusPendingVerification, StatusOnHold},
		StatusPendingVerification:   {StatusResolved, StatusRejected, StatusOnHold},
		StatusResolved:              {StatusReopened, StatusClosed},
		StatusReopened:              {StatusAssignedToOfficer, StatusInProgress},
		StatusClosed:                {},
		StatusRejected:              {},
		StatusDuplicate:             {},
		StatusOnHold:                {StatusAssignedToDepartment, StatusAssignedToOfficer, StatusInProgress},
	}

	// Statuses that need an officer on the task before a report may enter them.
	officerRequiredStatuses = []ReportStatus{StatusAssignedToOfficer, StatusAcknowledged, StatusInProgress}
	// Statuses that close out a task and therefore need resolution or rejection notes.
	notesRequiredStatuses = []ReportStatus{StatusResolved, StatusRejected}
)

func (s ReportStatus) IsValid() bool {
	_, ok := statusTransitions[s]
	return ok
}

func (c ReportCategory) IsValid() bool {
	for _, candidate := range reportCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

func (s ReportSeverity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// escalates reports whether moving from s to target raises the severity.
func (s ReportSeverity) escalates(target ReportSeverity) bool {
	return severityRank[target] > severityRank[s]
}

// canTransition reports whether a report in from may move to to in one step.
// Staying in the same status is a legal no-op.
func canTransition(from, to ReportStatus) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if from == to {
		return true
	}
	return containsStatus(statusTransitions[from], to)
}

func allowedNextStatuses(from ReportStatus) []ReportStatus {
	allowed := statusTransitions[from]
	out := make([]ReportStatus, len(allowed))
	copy(out, allowed)
	return out
}

func isTerminalStatus(s ReportStatus) bool {
	allowed, ok := statusTransitions[s]
	return ok && len(allowed) == 0
}

// isAssignmentLocked reports whether department, officer and severity changes are refused.
// Resolved reports must be reopened first.
func isAssignmentLocked(s ReportStatus) bool {
	return s == StatusResolved || isTerminalStatus(s)
}

// departmentChangeStrandsOfficer reports whether moving a report in s to another department would
// clear its officer while it stays in a status that needs one.
func departmentChangeStrandsOfficer(s ReportStatus) bool {
	return containsStatus(officerRequiredStatuses, s) && !canTransition(s, StatusAssignedToDepartment)
}

func departmentChangeBlockedReason(s ReportStatus) string {
	return fmt.Sprintf("department cannot change while %s; put the report on hold first", s)
}

func containsStatus(list []ReportStatus, value ReportStatus) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

type Task struct {
	ID              int        `json:"id"`
	AssignedToID    *int       `json:"assigned_to_id,omitempty"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	ResolutionNotes *string    `json:"resolution_notes,omitempty"`
	Priority        int        `json:"priority"`
}

type Report struct {
	ID           int            `json:"id"`
	ReportNumber string         `json:"report_number"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Category     ReportCategory `json:"category"`
	Severity     ReportSeverity `json:"severity"`
	Status       ReportStatus   `json:"status"`
	Latitude     float64        `json:"latitude"`
	Longitude    float64        `json:"longitude"`
	Address      *string        `json:"address,omitempty"`
	DepartmentID *int           `json:"department_id,omitempty"`
	Task         *Task          `json:"task,omitempty"`
	NeedsReview  bool           `json:"needs_review"`
	CreatedAt    time.Time      `json:"created_at"`
}

type Officer struct {
	UserID       int    `json:"user_id"`
	FullName     string `json:"full_name"`
	DepartmentID int    `json:"department_id"`
}

type Department struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (r Report) officerID() *int {
	if r.Task == nil {
		return nil
	}
	return r.Task.AssignedToID
}

// label is the human-readable handle used in messages shown to administrators.
func (r Report) label() string {
	if r.ReportNumber != "" {
		return r.ReportNumber
	}
	return "report #" + strconv.Itoa(r.ID)
}

// cloneReport copies r including its task so callers can modify the result freely.
func cloneReport(r Report) Report {
	if r.Task != nil {
		task := *r.Task
		r.Task = &task
	}
	if r.DepartmentID != nil {
		departmentID := *r.DepartmentID
		r.DepartmentID = &departmentID
	}
	return r
}

// reportSnapshot is the caller-supplied view of reports keyed by id.
type reportSnapshot map[int]Report

func snapshotOf(reports []Report) reportSnapshot {
	snapshot := make(reportSnapshot, len(reports))
	for _, report := range reports {
		snapshot[report.ID] = report
	}
	return snapshot
}
