package main

import (
	"testing"
	"time"
)

func previewedState(t *testing.T, at time.Time) (bulkViewState, *bulkPlan) {
	t.Helper()
	plan, err := planBulkOperation(bulkRequest{
		Action:    bulkActionSeverity,
		ReportIDs: []int{4, 5},
		Parameter: bulkParameter{Severity: SeverityLow},
	}, bulkSnapshot())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	return reduceBulkState(newIdleBulkState(), bulkStateEvent{Kind: bulkStatePreviewed, At: at, Plan: plan}), plan
}

func TestReduceBulkStatePreviewOpensConfirmation(t *testing.T) {
	state, plan := previewedState(t, bulkTestNow)

	if state.Phase != bulkPhaseConfirming {
		t.Fatalf("expected confirming, got %s", state.Phase)
	}
	if state.Pending != plan || state.Action != bulkActionSeverity {
		t.Fatalf("expected pending plan and action to be set, got %+v", state)
	}
	if state.Parameter == nil || state.Parameter.Severity != SeverityLow {
		t.Fatalf("expected severity parameter, got %+v", state.Parameter)
	}
	if len(state.Selection) != 2 {
		t.Fatalf("expected selection of two, got %v", state.Selection)
	}

	// The selection is copied; later edits to the plan do not leak into the view.
	plan.Selection[0] = 99
	if state.Selection[0] != 4 {
		t.Fatalf("expected selection to be a copy, got %v", state.Selection)
	}
}

func TestReduceBulkStateDoesNotModifyInput(t *testing.T) {
	state, _ := previewedState(t, bulkTestNow)

	_ = reduceBulkState(state, bulkStateEvent{Kind: bulkStateFailed, At: bulkTestNow, Message: "boom"})
	if state.Phase != bulkPhaseConfirming || state.Pending == nil {
		t.Fatalf("expected input state untouched, got %+v", state)
	}
}

func TestReduceBulkStateProgressThenComplete(t *testing.T) {
	state, plan := previewedState(t, bulkTestNow)

	progress := bulkProgress{OperationID: plan.ID, Stage: bulkStageSubmitted, Total: 2, Processed: 2, Percent: 90}
	state = reduceBulkState(state, bulkStateEvent{Kind: bulkStateProgressed, At: bulkTestNow, Progress: &progress})
	if state.Phase != bulkPhaseRunning || state.Progress == nil || state.Progress.Percent != 90 {
		t.Fatalf("expected running at 90%%, got %+v", state)
	}
	progress.Percent = 1
	if state.Progress.Percent != 90 {
		t.Fatal("expected progress to be copied into the state")
	}

	result := &BulkOperationResult{OperationID: plan.ID, Successful: 2, Total: 2, Message: "Updated 2 of 2 reports"}
	state = reduceBulkState(state, bulkStateEvent{Kind: bulkStateCompleted, At: bulkTestNow, Result: result})
	if state.Phase != bulkPhaseCompleted {
		t.Fatalf("expected completed, got %s", state.Phase)
	}
	if state.Pending != nil || state.Progress != nil || state.Parameter != nil || len(state.Selection) != 0 {
		t.Fatalf("expected selection, plan and progress cleared, got %+v", state)
	}
	if state.LastResult != result {
		t.Fatal("expected result to be kept for the receipt")
	}
	if state.Banner == nil || state.Banner.Kind != bannerInfo || state.Banner.Message != result.Message {
		t.Fatalf("unexpected banner %+v", state.Banner)
	}
}

func TestReduceBulkStateAuthFailureKeepsPlan(t *testing.T) {
	state, plan := previewedState(t, bulkTestNow)
	progress := bulkProgress{OperationID: plan.ID, Stage: bulkStageValidated, Percent: 10}
	state = reduceBulkState(state, bulkStateEvent{Kind: bulkStateProgressed, At: bulkTestNow, Progress: &progress})

	state = reduceBulkState(state, bulkStateEvent{Kind: bulkStateAuthFailed, At: bulkTestNow, Message: passwordFailedText})
	if state.Phase != bulkPhaseConfirming || state.Pending != plan || state.Progress != nil {
		t.Fatalf("expected confirmation to reopen with the same plan, got %+v", state)
	}
	if state.Banner == nil || state.Banner.Kind != bannerError {
		t.Fatalf("expected error banner, got %+v", state.Banner)
	}
}

func TestReduceBulkStateFailureKeepsPreviousReceipt(t *testing.T) {
	earlier := &BulkOperationResult{OperationID: "earlier"}
	state, _ := previewedState(t, bulkTestNow)
	state.LastResult = earlier

	state = reduceBulkState(state, bulkStateEvent{Kind: bulkStateFailed, At: bulkTestNow, Message: "Service unavailable"})
	if state.Phase != bulkPhaseIdle || state.Pending != nil || len(state.Selection) != 0 {
		t.Fatalf("expected full reset, got %+v", state)
	}
	if state.LastResult != earlier {
		t.Fatal("expected previous result to survive the reset")
	}
	if state.Banner == nil || state.Banner.Message != "Service unavailable" {
		t.Fatalf("unexpected banner %+v", state.Banner)
	}
}

func TestBulkStateBannerExpires(t *testing.T) {
	state := reduceBulkState(newIdleBulkState(), bulkStateEvent{
		Kind:   bulkStateNoChanges,
		At:     bulkTestNow,
		Result: &BulkOperationResult{Message: noChangesMessage, NoChanges: true},
	})

	if visible := state.visibleAt(bulkTestNow.Add(bannerLifetime - time.Millisecond)); visible.Banner == nil {
		t.Fatal("expected banner to be visible inside its lifetime")
	}
	if visible := state.visibleAt(bulkTestNow.Add(bannerLifetime)); visible.Banner != nil {
		t.Fatal("expected banner to be hidden once its lifetime has passed")
	}
	if state.Banner == nil {
		t.Fatal("visibleAt must not modify the stored state")
	}
}

func TestReduceBulkStateDismissOnlyLeavesCompleted(t *testing.T) {
	state, _ := previewedState(t, bulkTestNow)
	state.LastResult = &BulkOperationResult{OperationID: "earlier"}

	state = reduceBulkState(state, bulkStateEvent{Kind: bulkStateDismissed, At: bulkTestNow})
	if state.Phase != bulkPhaseConfirming {
		t.Fatalf("expected dismiss to leave confirmation open, got %s", state.Phase)
	}
	if state.LastResult != nil {
		t.Fatal("expected result to be dismissed")
	}
}
