package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reportFixture(status ReportStatus, departmentID, officerID int) Report {
	report := Report{ID: 1, ReportNumber: "CL-2026-RNC-00001", Status: status, Severity: SeverityMedium}
	if departmentID > 0 {
		report.DepartmentID = intPtr(departmentID)
		report.Task = &Task{ID: 1, Priority: defaultBulkPriority}
	}
	if officerID > 0 {
		if report.Task == nil {
			report.Task = &Task{ID: 1}
		}
		report.Task.AssignedToID = intPtr(officerID)
	}
	return report
}

func TestValidateTransition(t *testing.T) {
	withNotes := reportFixture(StatusPendingVerification, 3, 104)
	withNotes.Task.ResolutionNotes = stringPtr("Removed the dump")
	blankNotes := reportFixture(StatusPendingVerification, 3, 104)
	blankNotes.Task.ResolutionNotes = stringPtr("   ")

	tests := []struct {
		name     string
		report   Report
		target   ReportStatus
		wantKind workflowErrorKind
	}{
		{name: "triage", report: reportFixture(StatusReceived, 0, 0), target: StatusPendingClassification},
		{name: "not in table", report: reportFixture(StatusReceived, 0, 0), target: StatusInProgress, wantKind: kindInvalidTransition},
		{name: "terminal", report: reportFixture(StatusClosed, 1, 102), target: StatusReopened, wantKind: kindInvalidTransition},
		{name: "department required", report: reportFixture(StatusClassified, 0, 0), target: StatusAssignedToDepartment, wantKind: kindMissingDepartment},
		{name: "department present", report: reportFixture(StatusClassified, 2, 0), target: StatusAssignedToDepartment},
		{name: "officer required", report: reportFixture(StatusAssignedToDepartment, 2, 0), target: StatusAssignedToOfficer, wantKind: kindMissingOfficer},
		{name: "officer required to resume", report: reportFixture(StatusOnHold, 1, 0), target: StatusInProgress, wantKind: kindMissingOfficer},
		{name: "officer present", report: reportFixture(StatusAssignedToDepartment, 2, 103), target: StatusAssignedToOfficer},
		{name: "resolve without notes", report: reportFixture(StatusPendingVerification, 3, 104), target: StatusResolved, wantKind: kindMissingResolutionNotes},
		{name: "reject with blank notes", report: blankNotes, target: StatusRejected, wantKind: kindMissingResolutionNotes},
		{name: "resolve with notes", report: withNotes, target: StatusResolved},
		{name: "same status", report: reportFixture(StatusInProgress, 2, 103), target: StatusInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTransition(tt.report, tt.target)
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			kind, ok := workflowErrorKindOf(err)
			require.True(t, ok, "expected a workflow error, got %T", err)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestValidateTransitionMessageNamesBothStatuses(t *testing.T) {
	err := validateTransition(reportFixture(StatusReceived, 0, 0), StatusResolved)
	require.Error(t, err)
	assert.Equal(t, "received → resolved not allowed", err.Error())
}

func TestWithResolutionNotesLeavesOriginalUntouched(t *testing.T) {
	report := reportFixture(StatusPendingVerification, 3, 104)

	staged := withResolutionNotes(report, StatusResolved, "  Cleared and photographed  ")
	require.NotNil(t, staged.Task.ResolutionNotes)
	assert.Equal(t, "Cleared and photographed", *staged.Task.ResolutionNotes)
	assert.Nil(t, report.Task.ResolutionNotes)
	assert.NoError(t, validateTransition(staged, StatusResolved))

	// Notes only matter for statuses that close the task.
	unchanged := withResolutionNotes(report, StatusOnHold, "waiting for parts")
	assert.Nil(t, unchanged.Task.ResolutionNotes)

	blank := withResolutionNotes(report, StatusResolved, "   ")
	assert.Nil(t, blank.Task.ResolutionNotes)
}

func TestWithResolutionNotesCreatesTask(t *testing.T) {
	report := reportFixture(StatusPendingVerification, 0, 0)
	staged := withResolutionNotes(report, StatusRejected, "Private property")
	require.NotNil(t, staged.Task)
	assert.Nil(t, report.Task)
	assert.Equal(t, "Private property", *staged.Task.ResolutionNotes)
}

func TestReachableTransitionChecks(t *testing.T) {
	checks := reachableTransitionChecks(reportFixture(StatusPendingVerification, 3, 104))
	require.Len(t, checks, 3)

	assert.Equal(t, StatusResolved, checks[0].Status)
	assert.False(t, checks[0].Allowed)
	assert.Equal(t, kindMissingResolutionNotes, checks[0].Kind)
	assert.NotEmpty(t, checks[0].Reason)

	assert.Equal(t, StatusRejected, checks[1].Status)
	assert.False(t, checks[1].Allowed)

	assert.Equal(t, StatusOnHold, checks[2].Status)
	assert.True(t, checks[2].Allowed)
	assert.Empty(t, checks[2].Reason)

	assert.Empty(t, reachableTransitionChecks(reportFixture(StatusDuplicate, 0, 0)))
}
