package main

import (
	"errors"
	"fmt"
	"strings"
)

type workflowErrorKind string

const (
	kindInvalidTransition      workflowErrorKind = "invalid_transition"
	kindMissingDepartment      workflowErrorKind = "missing_department"
	kindMissingOfficer         workflowErrorKind = "missing_officer"
	kindMissingResolutionNotes workflowErrorKind = "missing_resolution_notes"
	kindAuthenticationFailed   workflowErrorKind = "authentication_failed"
	kindRemoteUpdateFailed     workflowErrorKind = "remote_update_failed"
	kindSelectionTooLarge      workflowErrorKind = "selection_too_large"
	kindBulkInFlight           workflowErrorKind = "bulk_in_flight"
	kindReportNotFound         workflowErrorKind = "report_not_found"
	kindBulkNotPending         workflowErrorKind = "bulk_not_pending"
	kindInvalidBulkParameter   workflowErrorKind = "invalid_bulk_parameter"
)

// workflowError is a domain failure of the report lifecycle. Local kinds never reach the network.
type workflowError struct {
	Kind    workflowErrorKind
	Message string
	Err     error
}

func (e *workflowError) Error() string {
	return e.Message
}

func (e *workflowError) Unwrap() error {
	return e.Err
}

func newWorkflowError(kind workflowErrorKind, format string, args ...any) *workflowError {
	return &workflowError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func workflowErrorKindOf(err error) (workflowErrorKind, bool) {
	var wfErr *workflowError
	if errors.As(err, &wfErr) {
		return wfErr.Kind, true
	}
	return "", false
}

func isWorkflowErrorKind(err error, kind workflowErrorKind) bool {
	got, ok := workflowErrorKindOf(err)
	return ok && got == kind
}

// validateTransition checks whether report may move to target. It has no side effects.
func validateTransition(report Report, target ReportStatus) error {
	if !canTransition(report.Status, target) {
		return newWorkflowError(kindInvalidTransition, "%s → %s not allowed", report.Status, target)
	}

	if target == StatusAssignedToDepartment && report.DepartmentID == nil {
		return newWorkflowError(kindMissingDepartment, "a department must be assigned before moving to %s", target)
	}

	if containsStatus(officerRequiredStatuses, target) && report.officerID() == nil {
		return newWorkflowError(kindMissingOfficer, "an officer must be assigned before moving to %s", target)
	}

	if containsStatus(notesRequiredStatuses, target) {
		if report.Task == nil || report.Task.ResolutionNotes == nil || strings.TrimSpace(*report.Task.ResolutionNotes) == "" {
			return newWorkflowError(kindMissingResolutionNotes, "notes are required to mark a report %s", target)
		}
	}

	return nil
}

// withResolutionNotes returns a copy of report carrying notes as the pending resolution notes
// when target closes out the task. The original report is left untouched.
func withResolutionNotes(report Report, target ReportStatus, notes string) Report {
	notes = strings.TrimSpace(notes)
	if notes == "" || !containsStatus(notesRequiredStatuses, target) {
		return report
	}
	task := Task{}
	if report.Task != nil {
		task = *report.Task
	}
	task.ResolutionNotes = &notes
	report.Task = &task
	return report
}

// transitionCheck is the validation outcome of one candidate target, as shown to the dashboard.
type transitionCheck struct {
	Status  ReportStatus      `json:"status"`
	Allowed bool              `json:"allowed"`
	Kind    workflowErrorKind `json:"error_kind,omitempty"`
	Reason  string            `json:"reason,omitempty"`
}

func checkTransition(report Report, target ReportStatus) transitionCheck {
	check := transitionCheck{Status: target, Allowed: true}
	if err := validateTransition(report, target); err != nil {
		check.Allowed = false
		check.Reason = err.Error()
		if kind, ok := workflowErrorKindOf(err); ok {
			check.Kind = kind
		}
	}
	return check
}

// reachableTransitionChecks evaluates every status in the transition table entry of the report.
func reachableTransitionChecks(report Report) []transitionCheck {
	next := allowedNextStatuses(report.Status)
	checks := make([]transitionCheck, 0, len(next))
	for _, target := range next {
		checks = append(checks, checkTransition(report, target))
	}
	return checks
}
