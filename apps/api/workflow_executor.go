package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const narrationTimeLayout = "2006-01-02 15:04 MST"

type reportUpdater interface {
	UpdateReportStatus(ctx context.Context, reportID int, status ReportStatus, notes string) (*Report, error)
}

type transitionExecutor struct {
	api    reportUpdater
	events eventPublisher
	log    *slog.Logger
	now    func() time.Time
}

func newTransitionExecutor(api reportUpdater, events eventPublisher, logger *slog.Logger) *transitionExecutor {
	return &transitionExecutor{api: api, events: events, log: logger, now: time.Now}
}

// execute moves one report to target. The snapshot is only read; local state changes come
// from the report the remote API returns.
func (e *transitionExecutor) execute(ctx context.Context, snapshot reportSnapshot, reportID int, target ReportStatus, notes, actor string) (*Report, error) {
	current, ok := snapshot[reportID]
	if !ok {
		return nil, newWorkflowError(kindReportNotFound, "report %d is not loaded", reportID)
	}

	// Prerequisites apply to a repeated status too.
	if err := validateTransition(withResolutionNotes(current, target, notes), target); err != nil {
		return nil, err
	}

	if current.Status == target {
		unchanged := cloneReport(current)
		return &unchanged, nil
	}

	narration := formatNarration(e.now(), current.Status, target, actor, notes)
	updated, err := e.api.UpdateReportStatus(ctx, reportID, target, narration)
	if err != nil {
		e.log.Error("status update failed", "report_id", reportID, "from", current.Status, "to", target, "error", err)
		return nil, &workflowError{Kind: kindRemoteUpdateFailed, Message: normalizeErrorMessage(err), Err: err}
	}
	if updated == nil {
		fallback := cloneReport(current)
		fallback.Status = target
		updated = &fallback
	}
	appendTaskNote(updated, narration)

	if e.events != nil {
		event := newDomainEvent(eventStatusChanged, actor, map[string]any{
			"from":          string(current.Status),
			"to":            string(target),
			"report_number": current.ReportNumber,
		})
		event.ReportID = &reportID
		if pubErr := e.events.Publish(ctx, event); pubErr != nil {
			e.log.Warn("publish status change failed", "report_id", reportID, "error", pubErr)
		}
	}

	e.log.Info("report status changed", "report_id", reportID, "from", current.Status, "to", target, "actor", actor)
	return updated, nil
}

func formatNarration(at time.Time, from, to ReportStatus, actor, notes string) string {
	line := fmt.Sprintf("[%s] Status changed from %s to %s", at.UTC().Format(narrationTimeLayout), from, to)
	if actor != "" {
		line += " by " + actor
	}
	if trimmed := strings.TrimSpace(notes); trimmed != "" {
		line += ": " + trimmed
	}
	return line
}

// appendTaskNote adds line to the task notes unless the remote side already recorded it.
func appendTaskNote(report *Report, line string) {
	if report.Task == nil {
		report.Task = &Task{}
	}
	if report.Task.Notes == nil || strings.TrimSpace(*report.Task.Notes) == "" {
		report.Task.Notes = &line
		return
	}
	if strings.Contains(*report.Task.Notes, line) {
		return
	}
	combined := *report.Task.Notes + "\n" + line
	report.Task.Notes = &combined
}

// workflowHTTPStatus maps domain error kinds onto response codes.
func workflowHTTPStatus(kind workflowErrorKind) int {
	switch kind {
	case kindAuthenticationFailed:
		return http.StatusUnauthorized
	case kindRemoteUpdateFailed:
		return http.StatusBadGateway
	case kindSelectionTooLarge, kindInvalidBulkParameter:
		return http.StatusBadRequest
	case kindBulkInFlight, kindBulkNotPending:
		return http.StatusConflict
	case kindReportNotFound:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}
