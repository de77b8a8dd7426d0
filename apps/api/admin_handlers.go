package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const (
	snapshotFetchConcurrency = 8
	sseHeartbeatInterval     = 25 * time.Second
)

func (a *App) registerAdminRoutes(api *gin.RouterGroup) {
	auth := api.Group("/auth")
	{
		auth.POST("/login", a.adminLoginHandler)
		auth.POST("/logout", a.adminLogoutHandler)
		auth.GET("/session", a.adminSessionHandler)
	}

	dash := api.Group("")
	dash.Use(a.requireAdminSession(), a.requireRole(adminRoles...))
	{
		dash.GET("/statuses", a.statusesHandler)
		dash.GET("/reports", a.reportsListHandler)
		dash.GET("/reports/:id", a.reportDetailsHandler)
		dash.GET("/reports/:id/transitions", a.reportTransitionsHandler)
		dash.POST("/reports/:id/transitions/validate", a.reportValidateTransitionHandler)
		dash.POST("/reports/:id/status", a.reportStatusHandler)

		dash.GET("/filters", a.filtersGetHandler)
		dash.PATCH("/filters", a.filtersPatchHandler)
		dash.GET("/filters/presets", a.presetsListHandler)
		dash.POST("/filters/presets", a.presetSaveHandler)
		dash.POST("/filters/presets/:name/apply", a.presetApplyHandler)
		dash.DELETE("/filters/presets/:name", a.presetDeleteHandler)

		dash.GET("/events", a.eventsStreamHandler)
	}

	bulk := api.Group("/bulk")
	bulk.Use(a.requireAdminSession(), a.requireRole(roleAdmin))
	{
		bulk.GET("/state", a.bulkStateHandler)
		bulk.POST("/preview", a.bulkPreviewHandler)
		bulk.POST("/confirm", a.bulkConfirmHandler)
		bulk.POST("/cancel", a.bulkCancelHandler)
		bulk.POST("/dismiss", a.bulkDismissHandler)
		bulk.GET("/receipt", a.bulkReceiptHandler)
	}

	demo := api.Group("/demo")
	demo.Use(a.requireAdminSession(), a.requireRole(roleAdmin))
	{
		demo.POST("/reports", a.demoCreateReportHandler)
	}
}

func (a *App) statusesHandler(c *gin.Context) {
	type statusView struct {
		Status   ReportStatus   `json:"status"`
		Next     []ReportStatus `json:"next"`
		Terminal bool           `json:"terminal"`
	}
	views := make([]statusView, 0, len(reportStatuses))
	for _, status := range reportStatuses {
		views = append(views, statusView{
			Status:   status,
			Next:     allowedNextStatuses(status),
			Terminal: isTerminalStatus(status),
		})
	}
	c.JSON(http.StatusOK, gin.H{"statuses": views})
}

func (a *App) reportsListHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	var filter FilterState
	if hasFilterParams(c.Request.URL.Query()) {
		filter, err = parseFilterValues(c.Request.URL.Query())
		if err != nil {
			writeAPIError(c, err)
			return
		}
	} else {
		filter = a.filters.forActor(session.Email).current()
		if rawPage := c.Query("page"); rawPage != "" {
			filter.Page = parseAdminPage(rawPage)
		}
	}

	page, err := a.reports.ListReports(c.Request.Context(), filter)
	if err != nil {
		a.log.Error("list reports failed", "actor", session.Email, "err", err)
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":       page.Data,
		"pagination": buildPaginationMeta(page.Total, filter.Page, filterPageSize),
		"filters":    filter,
	})
}

func (a *App) reportDetailsHandler(c *gin.Context) {
	report, ok := a.loadReportFromPath(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"report":      report,
		"transitions": reachableTransitionChecks(*report),
	})
}

func (a *App) reportTransitionsHandler(c *gin.Context) {
	report, ok := a.loadReportFromPath(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      report.Status,
		"terminal":    isTerminalStatus(report.Status),
		"transitions": reachableTransitionChecks(*report),
	})
}

type transitionPayload struct {
	Status ReportStatus `json:"status"`
	Notes  string       `json:"notes"`
}

func bindTransitionPayload(c *gin.Context) (transitionPayload, bool) {
	var payload transitionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid transition payload"})
		return payload, false
	}
	payload.Status = ReportStatus(strings.TrimSpace(string(payload.Status)))
	if !payload.Status.IsValid() {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_status", Message: fmt.Sprintf("unknown status %q", payload.Status)})
		return payload, false
	}
	return payload, true
}

func (a *App) reportValidateTransitionHandler(c *gin.Context) {
	payload, ok := bindTransitionPayload(c)
	if !ok {
		return
	}
	report, ok := a.loadReportFromPath(c)
	if !ok {
		return
	}
	check := checkTransition(withResolutionNotes(*report, payload.Status, payload.Notes), payload.Status)
	c.JSON(http.StatusOK, check)
}

func (a *App) reportStatusHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	payload, ok := bindTransitionPayload(c)
	if !ok {
		return
	}
	report, ok := a.loadReportFromPath(c)
	if !ok {
		return
	}

	updated, err := a.executor.execute(c.Request.Context(), snapshotOf([]Report{*report}), report.ID, payload.Status, payload.Notes, session.Email)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"report":      updated,
		"transitions": reachableTransitionChecks(*updated),
	})
}

func (a *App) filtersGetHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	state := a.filters.forActor(session.Email).current()
	c.JSON(http.StatusOK, gin.H{"filters": state, "query": state.query().Encode()})
}

// filtersPatchHandler merges a partial filter object. A null value clears that filter.
func (a *App) filtersPatchHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid filter payload"})
		return
	}
	values, err := filterPayloadValues(payload)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	state, err := a.filters.forActor(session.Email).merge(values)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	_, searchPending := values["search"]
	c.JSON(http.StatusOK, gin.H{"filters": state, "query": state.query().Encode(), "search_pending": searchPending})
}

func filterPayloadValues(payload map[string]any) (url.Values, error) {
	values := url.Values{}
	for key, raw := range payload {
		if !containsString(filterKeys, key) {
			return nil, &apiError{Status: http.StatusBadRequest, Code: "invalid_filter", Message: fmt.Sprintf("unknown filter %q", key)}
		}
		switch v := raw.(type) {
		case nil:
			values.Set(key, "")
		case string:
			values.Set(key, v)
		case bool:
			values.Set(key, strconv.FormatBool(v))
		case float64:
			values.Set(key, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			return nil, &apiError{Status: http.StatusBadRequest, Code: "invalid_filter", Message: fmt.Sprintf("filter %q has an unsupported value", key)}
		}
	}
	return values, nil
}

func hasFilterParams(values url.Values) bool {
	for _, key := range filterKeys {
		if key == "page" {
			continue
		}
		if _, ok := values[key]; ok {
			return true
		}
	}
	return false
}

func (a *App) presetsListHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	presets, err := a.presets.ListPresets(c.Request.Context(), session.Email)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presets": presets})
}

func (a *App) presetSaveHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	var payload struct {
		Name    string       `json:"name"`
		Filters *FilterState `json:"filters"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid preset payload"})
		return
	}
	name, err := normalizePresetName(payload.Name)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	filters := a.filters.forActor(session.Email).current()
	if payload.Filters != nil {
		filters, err = validateFilterState(*payload.Filters)
		if err != nil {
			writeAPIError(c, err)
			return
		}
	}
	filters.Page = adminDefaultPage

	preset, err := a.presets.SavePreset(c.Request.Context(), session.Email, name, filters)
	if err != nil {
		a.log.Error("save preset failed", "actor", session.Email, "name", name, "err", err)
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, preset)
}

func (a *App) presetApplyHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	preset, err := a.presets.GetPreset(c.Request.Context(), session.Email, c.Param("name"))
	if err != nil {
		writeAPIError(c, err)
		return
	}
	filters, err := validateFilterState(preset.Filters)
	if err != nil {
		a.log.Warn("stored preset has invalid filters", "actor", session.Email, "name", preset.Name, "err", err)
		writeAPIError(c, err)
		return
	}
	state := a.filters.forActor(session.Email).replace(filters)
	c.JSON(http.StatusOK, gin.H{"preset": preset.Name, "filters": state, "query": state.query().Encode()})
}

func (a *App) presetDeleteHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	if err := a.presets.DeletePreset(c.Request.Context(), session.Email, c.Param("name")); err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type bulkPreviewPayload struct {
	Action        bulkAction     `json:"action"`
	ReportIDs     []int          `json:"report_ids"`
	Status        ReportStatus   `json:"status"`
	DepartmentID  *int           `json:"department_id"`
	OfficerUserID *int           `json:"officer_user_id"`
	Severity      ReportSeverity `json:"severity"`
	Priority      int            `json:"priority"`
	Notes         string         `json:"notes"`
}

func (a *App) bulkStateHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.bulk.state(session.Email))
}

func (a *App) bulkPreviewHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	var payload bulkPreviewPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid bulk payload"})
		return
	}

	ids, err := checkBulkSelection(payload.ReportIDs)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	req := bulkRequest{
		Action:    payload.Action,
		ReportIDs: ids,
		Parameter: bulkParameter{
			Status:       payload.Status,
			DepartmentID: payload.DepartmentID,
			Severity:     payload.Severity,
			Priority:     payload.Priority,
			Notes:        payload.Notes,
		},
	}
	if payload.Action == bulkActionOfficer && payload.OfficerUserID != nil {
		officer, err := a.reports.GetOfficer(c.Request.Context(), *payload.OfficerUserID)
		if err != nil {
			if isRemoteNotFound(err) {
				writeAPIError(c, newWorkflowError(kindInvalidBulkParameter, "officer %d does not exist", *payload.OfficerUserID))
				return
			}
			writeAPIError(c, err)
			return
		}
		req.Parameter.Officer = officer
	}

	snapshot, err := a.loadReportSnapshot(c.Request.Context(), ids)
	if err != nil {
		a.log.Error("load bulk selection failed", "actor", session.Email, "selected", len(ids), "err", err)
		writeAPIError(c, err)
		return
	}

	plan, result, err := a.bulk.preview(session.Email, req, snapshot)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	response := gin.H{"plan": plan, "state": a.bulk.state(session.Email)}
	if result != nil {
		response["result"] = result
	} else {
		response["prompt"] = plan.prompt()
	}
	c.JSON(http.StatusOK, response)
}

func (a *App) bulkConfirmHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	var payload struct {
		PlanID   string `json:"plan_id"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid confirmation payload"})
		return
	}
	if payload.Password == "" {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "password_required", Message: "Enter your password to confirm"})
		return
	}

	result, err := a.bulk.confirm(c.Request.Context(), session.Email, payload.PlanID, payload.Password, nil)
	if err != nil {
		status, code, message := describeAPIError(err)
		c.JSON(status, gin.H{"error": code, "message": message, "state": a.bulk.state(session.Email)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result, "state": a.bulk.state(session.Email)})
}

func (a *App) bulkCancelHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.bulk.cancel(session.Email))
}

func (a *App) bulkDismissHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.bulk.dismiss(session.Email))
}

func (a *App) bulkReceiptHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	result := a.bulk.state(session.Email).LastResult
	if result == nil {
		writeAPIError(c, &apiError{Status: http.StatusNotFound, Code: "no_receipt", Message: "No bulk operation result to download"})
		return
	}

	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", "pdf")))
	var (
		body        []byte
		contentType string
	)
	switch format {
	case "pdf":
		body, err = buildBulkReceiptPDF(result)
		contentType = "application/pdf"
	case "csv":
		body, err = buildBulkReceiptCSV(result)
		contentType = "text/csv; charset=utf-8"
	default:
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_format", Message: "format must be pdf or csv"})
		return
	}
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, receiptFilename(result, format)))
	c.Data(http.StatusOK, contentType, body)
}

// eventsStreamHandler streams domain events as Server-Sent Events until the client goes away.
// Filter changes of other administrators are not forwarded.
func (a *App) eventsStreamHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	id, events := a.hub.subscribe()
	defer a.hub.unsubscribe(id)

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		case event, ok := <-events:
			if !ok {
				return false
			}
			if isPrivateEvent(event) && event.Actor != session.Email {
				return true
			}
			c.SSEvent(event.Type, event)
			return true
		}
	})
}

func isPrivateEvent(event domainEvent) bool {
	return event.Type == eventReportsReload && event.Payload["reason"] == reloadReasonFilters
}

func (a *App) demoCreateReportHandler(c *gin.Context) {
	if a.demo == nil {
		writeAPIError(c, &apiError{Status: http.StatusNotFound, Code: "demo_disabled", Message: "Manual entry is only available in demo mode"})
		return
	}
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	var input manualReportInput
	if err := c.ShouldBindJSON(&input); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid report payload"})
		return
	}
	report, err := a.demo.CreateReport(c.Request.Context(), input)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	a.log.Info("manual report created", "report_id", report.ID, "report_number", report.ReportNumber, "actor", session.Email, "cell", locationCell(report.Latitude, report.Longitude))
	event := newDomainEvent(eventReportsReload, session.Email, map[string]any{"reason": "report_created"})
	event.ReportID = &report.ID
	if err := a.events.Publish(c.Request.Context(), event); err != nil {
		a.log.Warn("publish report created failed", "report_id", report.ID, "err", err)
	}
	c.JSON(http.StatusCreated, report)
}

func (a *App) loadReportFromPath(c *gin.Context) (*Report, bool) {
	reportID, err := strconv.Atoi(c.Param("id"))
	if err != nil || reportID <= 0 {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_report_id", Message: "Invalid report id"})
		return nil, false
	}
	report, err := a.reports.GetReport(c.Request.Context(), reportID)
	if err != nil {
		writeAPIError(c, err)
		return nil, false
	}
	return report, true
}

// loadReportSnapshot fetches the selected reports concurrently. Reports the service does not
// know are left out so the plan can list them as not found.
func (a *App) loadReportSnapshot(ctx context.Context, ids []int) (reportSnapshot, error) {
	var mu sync.Mutex
	snapshot := make(reportSnapshot, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotFetchConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			report, err := a.reports.GetReport(gctx, id)
			if err != nil {
				if isRemoteNotFound(err) {
					return nil
				}
				return err
			}
			mu.Lock()
			snapshot[id] = *report
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func isRemoteNotFound(err error) bool {
	var remoteErr *remoteAPIError
	return errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusNotFound
}
