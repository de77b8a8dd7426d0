package main

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ReportStatus
		want     bool
	}{
		{StatusReceived, StatusPendingClassification, true},
		{StatusReceived, StatusAssignedToDepartment, true},
		{StatusReceived, StatusResolved, false},
		{StatusAssignedToDepartment, StatusAssignedToOfficer, true},
		{StatusAssignedToOfficer, StatusAssignmentRejected, true},
		{StatusPendingVerification, StatusRejected, true},
		{StatusResolved, StatusReopened, true},
		{StatusReopened, StatusInProgress, true},
		{StatusOnHold, StatusInProgress, true},
		{StatusOnHold, StatusResolved, false},
		{StatusClosed, StatusReopened, false},
		{StatusDuplicate, StatusReceived, false},
		{StatusInProgress, StatusInProgress, true},
		{StatusClosed, StatusClosed, true},
		{ReportStatus("archived"), StatusClosed, false},
		{StatusReceived, ReportStatus("archived"), false},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransitionTableIsClosed(t *testing.T) {
	if len(statusTransitions) != len(reportStatuses) {
		t.Fatalf("expected %d table entries, got %d", len(reportStatuses), len(statusTransitions))
	}
	for _, status := range reportStatuses {
		next, ok := statusTransitions[status]
		if !ok {
			t.Fatalf("status %s has no transition entry", status)
		}
		for _, target := range next {
			if !target.IsValid() {
				t.Fatalf("status %s lists unknown target %s", status, target)
			}
			if target == status {
				t.Fatalf("status %s lists itself as a transition", status)
			}
		}
	}

	terminal := []ReportStatus{}
	for _, status := range reportStatuses {
		if isTerminalStatus(status) {
			terminal = append(terminal, status)
		}
	}
	want := []ReportStatus{StatusClosed, StatusRejected, StatusDuplicate}
	if len(terminal) != len(want) {
		t.Fatalf("expected terminal statuses %v, got %v", want, terminal)
	}
	for i := range want {
		if terminal[i] != want[i] {
			t.Fatalf("expected terminal statuses %v, got %v", want, terminal)
		}
	}
}

func TestAllowedNextStatusesReturnsCopy(t *testing.T) {
	next := allowedNextStatuses(StatusReceived)
	next[0] = StatusClosed
	if statusTransitions[StatusReceived][0] != StatusPendingClassification {
		t.Fatal("modifying the returned slice changed the transition table")
	}
}

func TestIsAssignmentLocked(t *testing.T) {
	locked := map[ReportStatus]bool{
		StatusResolved:  true,
		StatusClosed:    true,
		StatusRejected:  true,
		StatusDuplicate: true,
		StatusReopened:  false,
		StatusOnHold:    false,
		StatusReceived:  false,
	}
	for status, want := range locked {
		if got := isAssignmentLocked(status); got != want {
			t.Fatalf("isAssignmentLocked(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestSeverityEscalates(t *testing.T) {
	if !SeverityHigh.escalates(SeverityCritical) {
		t.Fatal("expected high -> critical to escalate")
	}
	if SeverityCritical.escalates(SeverityCritical) {
		t.Fatal("expected critical -> critical not to escalate")
	}
	if SeverityMedium.escalates(SeverityLow) {
		t.Fatal("expected medium -> low not to escalate")
	}
}

func TestCloneReportCopiesTaskAndDepartment(t *testing.T) {
	original := Report{
		ID:           7,
		Status:       StatusAcknowledged,
		DepartmentID: intPtr(4),
		Task:         &Task{ID: 7, AssignedToID: intPtr(105), Priority: 5},
	}

	clone := cloneReport(original)
	clone.Task.Priority = 9
	*clone.DepartmentID = 2

	if original.Task.Priority != 5 {
		t.Fatalf("expected original task untouched, got priority %d", original.Task.Priority)
	}
	if *original.DepartmentID != 4 {
		t.Fatalf("expected original department untouched, got %d", *original.DepartmentID)
	}
}

func TestReportLabelFallsBackToID(t *testing.T) {
	if got := (Report{ID: 12}).label(); got != "report #12" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := (Report{ID: 12, ReportNumber: "CL-2026-RNC-00012"}).label(); got != "CL-2026-RNC-00012" {
		t.Fatalf("unexpected label %q", got)
	}
}
