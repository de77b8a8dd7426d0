package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxBulkSelection    = 100
	defaultBulkPriority = 5
	minBulkPriority     = 1
	maxBulkPriority     = 10
	noChangesMessage    = "No changes needed: every selected report already has this value"
	passwordFailedText  = "Password verification failed. Please try again."
)

type bulkAction string

const (
	bulkActionStatus     bulkAction = "status"
	bulkActionDepartment bulkAction = "department"
	bulkActionOfficer    bulkAction = "officer"
	bulkActionSeverity   bulkAction = "severity"
)

func (a bulkAction) IsValid() bool {
	switch a {
	case bulkActionStatus, bulkActionDepartment, bulkActionOfficer, bulkActionSeverity:
		return true
	}
	return false
}

type bulkParameter struct {
	Status       ReportStatus   `json:"status,omitempty"`
	DepartmentID *int           `json:"department_id,omitempty"`
	Officer      *Officer       `json:"officer,omitempty"`
	Severity     ReportSeverity `json:"severity,omitempty"`
	Priority     int            `json:"priority,omitempty"`
	Notes        string         `json:"notes,omitempty"`
}

type bulkRequest struct {
	Action    bulkAction    `json:"action"`
	ReportIDs []int         `json:"report_ids"`
	Parameter bulkParameter `json:"parameter"`
}

// bulkPlan is the locally validated partition of a selection, awaiting confirmation.
type bulkPlan struct {
	ID           string          `json:"id"`
	Request      bulkRequest     `json:"request"`
	Selection    []int           `json:"selection"`
	ValidIDs     []int           `json:"valid_ids"`
	Invalid      []bulkItemError `json:"invalid"`
	SkippedIDs   []int           `json:"skipped_ids"`
	EscalatedIDs []int           `json:"escalated_ids,omitempty"`
	NoChanges    bool            `json:"no_changes"`
	Summary      string          `json:"summary"`
	Warning      string          `json:"warning,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`

	reports reportSnapshot
}

// prompt is the text shown next to the password field.
func (p *bulkPlan) prompt() string {
	if p.Warning == "" {
		return p.Summary
	}
	return p.Summary + " " + p.Warning
}

type BulkOperationResult struct {
	OperationID string          `json:"operation_id"`
	Action      bulkAction      `json:"action"`
	Total       int             `json:"total"`
	Successful  int             `json:"successful"`
	Failed      int             `json:"failed"`
	Skipped     int             `json:"skipped"`
	Errors      []bulkItemError `json:"errors"`
	Message     string          `json:"message"`
	NoChanges   bool            `json:"no_changes"`
	Actor       string          `json:"actor"`
	CompletedAt time.Time       `json:"completed_at"`
}

type bulkStage string

const (
	bulkStageValidated     bulkStage = "validated"
	bulkStageAuthenticated bulkStage = "authenticated"
	bulkStageSubmitted     bulkStage = "submitted"
	bulkStageCompleted     bulkStage = "completed"
)

type bulkProgress struct {
	OperationID string    `json:"operation_id"`
	Stage       bulkStage `json:"stage"`
	Total       int       `json:"total"`
	Processed   int       `json:"processed"`
	Percent     int       `json:"percent"`
}

type bulkProgressFunc func(bulkProgress)

// checkBulkSelection dedupes ids, keeping the first occurrence order, and enforces the size cap.
func checkBulkSelection(ids []int) ([]int, error) {
	if len(ids) == 0 {
		return nil, newWorkflowError(kindInvalidBulkParameter, "select at least one report")
	}
	seen := make(map[int]struct{}, len(ids))
	unique := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) > maxBulkSelection {
		return nil, newWorkflowError(kindSelectionTooLarge, "%d reports selected; bulk actions are limited to %d", len(unique), maxBulkSelection)
	}
	return unique, nil
}

func normalizeBulkParameter(action bulkAction, param bulkParameter) (bulkParameter, error) {
	param.Notes = strings.TrimSpace(param.Notes)
	switch action {
	case bulkActionStatus:
		if !param.Status.IsValid() {
			return param, newWorkflowError(kindInvalidBulkParameter, "unknown status %q", param.Status)
		}
	case bulkActionDepartment:
		if param.DepartmentID == nil || *param.DepartmentID <= 0 {
			return param, newWorkflowError(kindInvalidBulkParameter, "choose a department")
		}
	case bulkActionOfficer:
		if param.Officer == nil || param.Officer.UserID <= 0 {
			return param, newWorkflowError(kindInvalidBulkParameter, "choose an officer")
		}
		if param.Priority == 0 {
			param.Priority = defaultBulkPriority
		}
		if param.Priority < minBulkPriority || param.Priority > maxBulkPriority {
			return param, newWorkflowError(kindInvalidBulkParameter, "priority must be between %d and %d", minBulkPriority, maxBulkPriority)
		}
	case bulkActionSeverity:
		if !param.Severity.IsValid() {
			return param, newWorkflowError(kindInvalidBulkParameter, "unknown severity %q", param.Severity)
		}
	default:
		return param, newWorkflowError(kindInvalidBulkParameter, "unknown bulk action %q", action)
	}
	return param, nil
}

type itemVerdict int

const (
	verdictValid itemVerdict = iota
	verdictSkipped
	verdictInvalid
)

// classifyBulkItem decides what the action would do to one report.
func classifyBulkItem(action bulkAction, param bulkParameter, report Report) (itemVerdict, string) {
	switch action {
	case bulkActionStatus:
		if report.Status == param.Status {
			return verdictSkipped, ""
		}
		if err := validateTransition(withResolutionNotes(report, param.Status, param.Notes), param.Status); err != nil {
			return verdictInvalid, err.Error()
		}
		return verdictValid, ""

	case bulkActionDepartment:
		if isAssignmentLocked(report.Status) {
			return verdictInvalid, fmt.Sprintf("department cannot change while %s", report.Status)
		}
		if report.DepartmentID != nil && *report.DepartmentID == *param.DepartmentID {
			return verdictSkipped, ""
		}
		if departmentChangeStrandsOfficer(report.Status) {
			return verdictInvalid, departmentChangeBlockedReason(report.Status)
		}
		return verdictValid, ""

	case bulkActionOfficer:
		if isAssignmentLocked(report.Status) {
			return verdictInvalid, fmt.Sprintf("officer cannot change while %s", report.Status)
		}
		if report.DepartmentID == nil {
			return verdictInvalid, "assign a department before assigning an officer"
		}
		if *report.DepartmentID != param.Officer.DepartmentID {
			return verdictInvalid, fmt.Sprintf("officer belongs to department %d, report is in department %d", param.Officer.DepartmentID, *report.DepartmentID)
		}
		if current := report.officerID(); current != nil && *current == param.Officer.UserID {
			return verdictSkipped, ""
		}
		return verdictValid, ""

	case bulkActionSeverity:
		if isAssignmentLocked(report.Status) {
			return verdictInvalid, fmt.Sprintf("severity cannot change while %s", report.Status)
		}
		if report.Severity == param.Severity {
			return verdictSkipped, ""
		}
		return verdictValid, ""
	}
	return verdictInvalid, "unsupported action"
}

// planBulkOperation validates every selected report locally. It performs no I/O.
func planBulkOperation(req bulkRequest, snapshot reportSnapshot) (*bulkPlan, error) {
	selection, err := checkBulkSelection(req.ReportIDs)
	if err != nil {
		return nil, err
	}
	if !req.Action.IsValid() {
		return nil, newWorkflowError(kindInvalidBulkParameter, "unknown bulk action %q", req.Action)
	}
	param, err := normalizeBulkParameter(req.Action, req.Parameter)
	if err != nil {
		return nil, err
	}
	req.Parameter = param
	req.ReportIDs = selection

	plan := &bulkPlan{
		ID:         uuid.NewString(),
		Request:    req,
		Selection:  selection,
		ValidIDs:   []int{},
		Invalid:    []bulkItemError{},
		SkippedIDs: []int{},
		reports:    make(reportSnapshot, len(selection)),
	}

	for _, id := range selection {
		report, ok := snapshot[id]
		if !ok {
			plan.Invalid = append(plan.Invalid, bulkItemError{ReportID: id, Error: fmt.Sprintf("report #%d: not found", id)})
			continue
		}
		plan.reports[id] = report

		verdict, reason := classifyBulkItem(req.Action, param, report)
		switch verdict {
		case verdictValid:
			plan.ValidIDs = append(plan.ValidIDs, id)
			if req.Action == bulkActionSeverity && param.Severity == SeverityCritical && report.Severity.escalates(SeverityCritical) {
				plan.EscalatedIDs = append(plan.EscalatedIDs, id)
			}
		case verdictSkipped:
			plan.SkippedIDs = append(plan.SkippedIDs, id)
		default:
			plan.Invalid = append(plan.Invalid, bulkItemError{ReportID: id, Error: report.label() + ": " + reason})
		}
	}

	plan.NoChanges = len(plan.ValidIDs) == 0 && len(plan.Invalid) == 0
	plan.Summary = fmt.Sprintf("%s %d of %d selected reports (%d cannot be updated, %d already up to date).",
		actionVerb(req.Action, param), len(plan.ValidIDs), len(selection), len(plan.Invalid), len(plan.SkippedIDs))
	if len(plan.EscalatedIDs) > 0 {
		plan.Warning = fmt.Sprintf("Warning: this escalates %d %s to critical severity and notifies the operations team.",
			len(plan.EscalatedIDs), pluralize(len(plan.EscalatedIDs), "report", "reports"))
	}
	return plan, nil
}

func actionVerb(action bulkAction, param bulkParameter) string {
	switch action {
	case bulkActionStatus:
		return "Move to " + string(param.Status) + ":"
	case bulkActionDepartment:
		return "Assign department " + strconv.Itoa(*param.DepartmentID) + " to"
	case bulkActionOfficer:
		name := param.Officer.FullName
		if name == "" {
			name = "officer " + strconv.Itoa(param.Officer.UserID)
		}
		return "Assign " + name + " to"
	case bulkActionSeverity:
		return "Set severity " + string(param.Severity) + " on"
	}
	return string(action)
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

func noChangesResult(plan *bulkPlan, actor string, at time.Time) *BulkOperationResult {
	return &BulkOperationResult{
		OperationID: plan.ID,
		Action:      plan.Request.Action,
		Total:       len(plan.Selection),
		Skipped:     len(plan.SkippedIDs),
		Errors:      []bulkItemError{},
		Message:     noChangesMessage,
		NoChanges:   true,
		Actor:       actor,
		CompletedAt: at,
	}
}

// aggregateBulkResult merges local rejections with the remote per-item outcome.
func aggregateBulkResult(plan *bulkPlan, remote *bulkRemoteResult, actor string, at time.Time) *BulkOperationResult {
	remoteFailed := remote.Failed
	if len(remote.Errors) > remoteFailed {
		remoteFailed = len(remote.Errors)
	}

	errs := make([]bulkItemError, 0, len(plan.Invalid)+len(remote.Errors))
	errs = append(errs, plan.Invalid...)
	for _, item := range remote.Errors {
		label := "report #" + strconv.Itoa(item.ReportID)
		if report, ok := plan.reports[item.ReportID]; ok {
			label = report.label()
		}
		errs = append(errs, bulkItemError{ReportID: item.ReportID, Error: label + ": " + item.Error})
	}

	result := &BulkOperationResult{
		OperationID: plan.ID,
		Action:      plan.Request.Action,
		Total:       len(plan.Selection),
		Successful:  remote.Successful,
		Failed:      len(plan.Invalid) + remoteFailed,
		Skipped:     len(plan.SkippedIDs),
		Errors:      errs,
		Actor:       actor,
		CompletedAt: at,
	}

	parts := []string{fmt.Sprintf("Updated %d of %d reports", result.Successful, result.Total)}
	if result.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", result.Failed))
	}
	if result.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d already up to date", result.Skipped))
	}
	result.Message = strings.Join(parts, ", ")
	return result
}

type criticalEscalationFunc func(ctx context.Context, actor string, reports []Report, result *BulkOperationResult)

// bulkEngine runs bulk actions and holds each administrator's bulk view state.
// Only one bulk operation may be submitted at a time across all administrators.
type bulkEngine struct {
	api    bulkReportAPI
	auth   passwordVerifier
	events eventPublisher
	log    *slog.Logger
	now    func() time.Time

	onCriticalEscalation criticalEscalationFunc
	onCompleted          func(ctx context.Context, result *BulkOperationResult)

	mu       sync.Mutex
	inFlight string
	states   map[string]bulkViewState
}

func newBulkEngine(api bulkReportAPI, auth passwordVerifier, events eventPublisher, logger *slog.Logger) *bulkEngine {
	return &bulkEngine{
		api:    api,
		auth:   auth,
		events: events,
		log:    logger,
		now:    time.Now,
		states: make(map[string]bulkViewState),
	}
}

func (e *bulkEngine) apply(actor string, event bulkStateEvent) bulkViewState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(actor, event)
}

func (e *bulkEngine) applyLocked(actor string, event bulkStateEvent) bulkViewState {
	if event.At.IsZero() {
		event.At = e.now()
	}
	state, ok := e.states[actor]
	if !ok {
		state = newIdleBulkState()
	}
	next := reduceBulkState(state, event)
	e.states[actor] = next
	return next
}

func (e *bulkEngine) state(actor string) bulkViewState {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.states[actor]
	if !ok {
		state = newIdleBulkState()
	}
	return state.visibleAt(e.now())
}

// preview validates the request and, unless nothing would change, parks the plan for confirmation.
// The returned result is non-nil only for the no-changes short-circuit.
func (e *bulkEngine) preview(actor string, req bulkRequest, snapshot reportSnapshot) (*bulkPlan, *BulkOperationResult, error) {
	plan, err := planBulkOperation(req, snapshot)
	if err != nil {
		return nil, nil, err
	}
	plan.CreatedAt = e.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if current, ok := e.states[actor]; ok && current.Phase == bulkPhaseRunning {
		return nil, nil, newWorkflowError(kindBulkInFlight, "a bulk operation is already running")
	}

	if plan.NoChanges {
		result := noChangesResult(plan, actor, plan.CreatedAt)
		e.applyLocked(actor, bulkStateEvent{Kind: bulkStateNoChanges, Result: result})
		e.log.Info("bulk operation skipped", "actor", actor, "action", plan.Request.Action, "selected", len(plan.Selection))
		return plan, result, nil
	}

	if len(plan.ValidIDs) == 0 {
		// Every change was refused locally; there is nothing to submit or re-authenticate for.
		result := aggregateBulkResult(plan, &bulkRemoteResult{Errors: []bulkItemError{}}, actor, plan.CreatedAt)
		e.applyLocked(actor, bulkStateEvent{Kind: bulkStateCompleted, Result: result})
		e.log.Info("bulk operation refused locally", "actor", actor, "action", plan.Request.Action, "selected", len(plan.Selection), "failed", result.Failed)
		return plan, result, nil
	}

	e.applyLocked(actor, bulkStateEvent{Kind: bulkStatePreviewed, Plan: plan})
	return plan, nil, nil
}

// confirm verifies the password and submits the pending plan as one batched remote call.
func (e *bulkEngine) confirm(ctx context.Context, actor, planID, password string, progress bulkProgressFunc) (*BulkOperationResult, error) {
	e.mu.Lock()
	state, ok := e.states[actor]
	if !ok || state.Pending == nil || state.Phase != bulkPhaseConfirming {
		e.mu.Unlock()
		return nil, newWorkflowError(kindBulkNotPending, "no bulk operation is awaiting confirmation")
	}
	plan := state.Pending
	if planID != "" && planID != plan.ID {
		e.mu.Unlock()
		return nil, newWorkflowError(kindBulkNotPending, "the bulk operation being confirmed is no longer pending")
	}
	if e.inFlight != "" {
		e.mu.Unlock()
		return nil, newWorkflowError(kindBulkInFlight, "another bulk operation is still running")
	}
	e.inFlight = plan.ID
	e.mu.Unlock()

	release := sync.OnceFunc(func() {
		e.mu.Lock()
		e.inFlight = ""
		e.mu.Unlock()
	})
	defer release()

	step := func(stage bulkStage, processed int) {
		p := bulkProgress{
			OperationID: plan.ID,
			Stage:       stage,
			Total:       len(plan.ValidIDs),
			Processed:   processed,
			Percent:     stagePercent(stage),
		}
		e.apply(actor, bulkStateEvent{Kind: bulkStateProgressed, Progress: &p})
		if progress != nil {
			progress(p)
		}
		e.publish(ctx, eventBulkProgress, actor, map[string]any{"operation_id": p.OperationID, "stage": string(p.Stage), "percent": p.Percent})
	}

	step(bulkStageValidated, 0)

	if err := e.auth.VerifyPassword(ctx, actor, password); err != nil {
		if isWorkflowErrorKind(err, kindAuthenticationFailed) {
			e.apply(actor, bulkStateEvent{Kind: bulkStateAuthFailed, Message: passwordFailedText})
			e.log.Warn("bulk password verification rejected", "actor", actor, "operation_id", plan.ID)
			return nil, err
		}
		return nil, e.fail(actor, plan, &workflowError{Kind: kindRemoteUpdateFailed, Message: normalizeErrorMessage(err), Err: err})
	}
	step(bulkStageAuthenticated, 0)

	remote, err := e.submit(ctx, plan)
	if err != nil {
		return nil, e.fail(actor, plan, err)
	}
	step(bulkStageSubmitted, len(plan.ValidIDs))

	result := aggregateBulkResult(plan, remote, actor, e.now())
	step(bulkStageCompleted, len(plan.ValidIDs))
	e.apply(actor, bulkStateEvent{Kind: bulkStateCompleted, Result: result})

	e.log.Info("bulk operation completed",
		"actor", actor,
		"operation_id", plan.ID,
		"action", plan.Request.Action,
		"total", result.Total,
		"successful", result.Successful,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	e.publish(ctx, eventBulkCompleted, actor, map[string]any{
		"operation_id": result.OperationID,
		"action":       string(result.Action),
		"successful":   result.Successful,
		"failed":       result.Failed,
		"skipped":      result.Skipped,
	})
	e.publish(ctx, eventReportsReload, actor, map[string]any{"reason": "bulk_operation"})

	// Hooks run with the slot already released.
	release()

	if e.onCompleted != nil {
		e.onCompleted(ctx, result)
	}
	if escalated := escalatedReports(plan, remote); len(escalated) > 0 && e.onCriticalEscalation != nil {
		e.onCriticalEscalation(ctx, actor, escalated, result)
	}
	return result, nil
}

// escalatedReports returns the reports a severity change actually raised to critical.
// Items the report service rejected are left out.
func escalatedReports(plan *bulkPlan, remote *bulkRemoteResult) []Report {
	if len(plan.EscalatedIDs) == 0 || remote.Successful == 0 {
		return nil
	}
	failed := make(map[int]bool, len(remote.Errors))
	for _, item := range remote.Errors {
		failed[item.ReportID] = true
	}
	escalated := make([]Report, 0, len(plan.EscalatedIDs))
	for _, id := range plan.EscalatedIDs {
		if !failed[id] {
			escalated = append(escalated, plan.reports[id])
		}
	}
	return escalated
}

// run is preview followed directly by confirm.
func (e *bulkEngine) run(ctx context.Context, actor string, req bulkRequest, snapshot reportSnapshot, password string, progress bulkProgressFunc) (*BulkOperationResult, error) {
	plan, result, err := e.preview(actor, req, snapshot)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}
	return e.confirm(ctx, actor, plan.ID, password, progress)
}

func (e *bulkEngine) cancel(actor string) bulkViewState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state, ok := e.states[actor]; ok && state.Phase == bulkPhaseRunning {
		// The request is already on the wire; its result still lands in the state.
		return state.visibleAt(e.now())
	}
	return e.applyLocked(actor, bulkStateEvent{Kind: bulkStateCancelled}).visibleAt(e.now())
}

func (e *bulkEngine) dismiss(actor string) bulkViewState {
	return e.apply(actor, bulkStateEvent{Kind: bulkStateDismissed}).visibleAt(e.now())
}

func (e *bulkEngine) submit(ctx context.Context, plan *bulkPlan) (*bulkRemoteResult, error) {
	if len(plan.ValidIDs) == 0 {
		return &bulkRemoteResult{}, nil
	}
	param := plan.Request.Parameter
	ids := append([]int(nil), plan.ValidIDs...)

	var (
		remote *bulkRemoteResult
		err    error
	)
	switch plan.Request.Action {
	case bulkActionStatus:
		remote, err = e.api.BulkUpdateStatus(ctx, ids, param.Status, param.Notes)
	case bulkActionDepartment:
		remote, err = e.api.BulkAssignDepartment(ctx, ids, *param.DepartmentID, param.Notes)
	case bulkActionOfficer:
		remote, err = e.api.BulkAssignOfficer(ctx, ids, param.Officer.UserID, param.Priority, param.Notes)
	case bulkActionSeverity:
		remote, err = e.api.BulkUpdateSeverity(ctx, ids, param.Severity)
	default:
		return nil, newWorkflowError(kindInvalidBulkParameter, "unknown bulk action %q", plan.Request.Action)
	}
	if err != nil {
		return nil, &workflowError{Kind: kindRemoteUpdateFailed, Message: normalizeErrorMessage(err), Err: err}
	}
	if remote == nil {
		return nil, newWorkflowError(kindRemoteUpdateFailed, "bulk endpoint returned no result")
	}
	return remote, nil
}

// fail resets the administrator's bulk state so the action can be retried from scratch.
func (e *bulkEngine) fail(actor string, plan *bulkPlan, err error) error {
	message := normalizeErrorMessage(err)
	e.apply(actor, bulkStateEvent{Kind: bulkStateFailed, Message: message})
	e.log.Error("bulk operation failed", "actor", actor, "operation_id", plan.ID, "action", plan.Request.Action, "error", err)
	return err
}

func (e *bulkEngine) publish(ctx context.Context, eventType, actor string, payload map[string]any) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, newDomainEvent(eventType, actor, payload)); err != nil {
		e.log.Warn("publish bulk event failed", "type", eventType, "error", err)
	}
}

func stagePercent(stage bulkStage) int {
	switch stage {
	case bulkStageValidated:
		return 10
	case bulkStageAuthenticated:
		return 30
	case bulkStageSubmitted:
		return 90
	case bulkStageCompleted:
		return 100
	}
	return 0
}
