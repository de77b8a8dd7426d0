package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const remoteErrorBodyLimit = 64 * 1024

type reportPage struct {
	Data  []Report `json:"data"`
	Total int      `json:"total"`
}

type bulkItemError struct {
	ReportID int    `json:"report_id"`
	Error    string `json:"error"`
}

// bulkRemoteResult is the body every bulk endpoint answers with.
type bulkRemoteResult struct {
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Errors     []bulkItemError `json:"errors"`
}

type reportReader interface {
	ListReports(ctx context.Context, filter FilterState) (*reportPage, error)
	GetReport(ctx context.Context, reportID int) (*Report, error)
	GetOfficer(ctx context.Context, userID int) (*Officer, error)
}

type bulkReportAPI interface {
	BulkAssignDepartment(ctx context.Context, reportIDs []int, departmentID int, notes string) (*bulkRemoteResult, error)
	BulkAssignOfficer(ctx context.Context, reportIDs []int, officerUserID, priority int, notes string) (*bulkRemoteResult, error)
	BulkUpdateStatus(ctx context.Context, reportIDs []int, status ReportStatus, notes string) (*bulkRemoteResult, error)
	BulkUpdateSeverity(ctx context.Context, reportIDs []int, severity ReportSeverity) (*bulkRemoteResult, error)
}

// reportAPI is everything the dashboard needs from the report-management service.
type reportAPI interface {
	reportReader
	reportUpdater
	bulkReportAPI
}

type passwordVerifier interface {
	VerifyPassword(ctx context.Context, email, password string) error
}

type adminAuthenticator interface {
	Authenticate(ctx context.Context, email, password string) (string, error)
	passwordVerifier
}

// errorDetailItem is one entry of a validation-style detail array.
type errorDetailItem struct {
	Msg string `json:"msg"`
}

// errorDetail holds the API's "detail" field, which is either a plain string or a list of {msg}.
type errorDetail struct {
	Text  string
	Items []errorDetailItem
}

func (d *errorDetail) UnmarshalJSON(raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*d = errorDetail{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*d = errorDetail{Text: text}
		return nil
	case '[':
		var items []errorDetailItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*d = errorDetail{Items: items}
		return nil
	case '{':
		var item errorDetailItem
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return err
		}
		*d = errorDetail{Items: []errorDetailItem{item}}
		return nil
	default:
		return fmt.Errorf("unsupported detail shape: %s", string(trimmed))
	}
}

// Message normalizes both detail shapes into one display string.
func (d errorDetail) Message() string {
	if text := strings.TrimSpace(d.Text); text != "" {
		return text
	}
	messages := make([]string, 0, len(d.Items))
	for _, item := range d.Items {
		if msg := strings.TrimSpace(item.Msg); msg != "" {
			messages = append(messages, msg)
		}
	}
	return strings.Join(messages, "; ")
}

type remoteAPIError struct {
	StatusCode int
	Detail     errorDetail
}

func (e *remoteAPIError) Error() string {
	if message := e.Detail.Message(); message != "" {
		return message
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// normalizeErrorMessage produces the single string shown in the dashboard banner.
func normalizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var remoteErr *remoteAPIError
	if errors.As(err, &remoteErr) {
		return remoteErr.Error()
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	var wfErr *workflowError
	if errors.As(err, &wfErr) && strings.TrimSpace(wfErr.Message) != "" {
		return wfErr.Message
	}
	return err.Error()
}

func decodeRemoteError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, remoteErrorBodyLimit))
	remoteErr := &remoteAPIError{StatusCode: resp.StatusCode}
	var payload struct {
		Detail errorDetail `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		remoteErr.Detail = payload.Detail
	} else if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		remoteErr.Detail = errorDetail{Text: text}
	}
	return remoteErr
}

// reportAPIClient talks JSON over HTTP to the report-management service.
type reportAPIClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (c *reportAPIClient) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := strings.TrimRight(c.BaseURL, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeRemoteError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *reportAPIClient) ListReports(ctx context.Context, filter FilterState) (*reportPage, error) {
	var page reportPage
	if err := c.do(ctx, http.MethodGet, "/reports", filter.query(), nil, &page); err != nil {
		return nil, err
	}
	if page.Data == nil {
		page.Data = []Report{}
	}
	return &page, nil
}

func (c *reportAPIClient) GetReport(ctx context.Context, reportID int) (*Report, error) {
	var report Report
	if err := c.do(ctx, http.MethodGet, "/reports/"+strconv.Itoa(reportID), nil, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *reportAPIClient) GetOfficer(ctx context.Context, userID int) (*Officer, error) {
	var officer Officer
	if err := c.do(ctx, http.MethodGet, "/users/"+strconv.Itoa(userID), nil, nil, &officer); err != nil {
		return nil, err
	}
	return &officer, nil
}

func (c *reportAPIClient) UpdateReportStatus(ctx context.Context, reportID int, status ReportStatus, notes string) (*Report, error) {
	body := map[string]any{"new_status": status, "notes": notes}
	var report Report
	if err := c.do(ctx, http.MethodPost, "/reports/"+strconv.Itoa(reportID)+"/status", nil, body, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *reportAPIClient) bulk(ctx context.Context, path string, body map[string]any) (*bulkRemoteResult, error) {
	var result bulkRemoteResult
	if err := c.do(ctx, http.MethodPost, path, nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *reportAPIClient) BulkAssignDepartment(ctx context.Context, reportIDs []int, departmentID int, notes string) (*bulkRemoteResult, error) {
	return c.bulk(ctx, "/reports/bulk/assign-department", map[string]any{
		"report_ids":    reportIDs,
		"department_id": departmentID,
		"notes":         notes,
	})
}

func (c *reportAPIClient) BulkAssignOfficer(ctx context.Context, reportIDs []int, officerUserID, priority int, notes string) (*bulkRemoteResult, error) {
	return c.bulk(ctx, "/reports/bulk/assign-officer", map[string]any{
		"report_ids":      reportIDs,
		"officer_user_id": officerUserID,
		"priority":        priority,
		"notes":           notes,
	})
}

func (c *reportAPIClient) BulkUpdateStatus(ctx context.Context, reportIDs []int, status ReportStatus, notes string) (*bulkRemoteResult, error) {
	return c.bulk(ctx, "/reports/bulk/update-status", map[string]any{
		"report_ids": reportIDs,
		"new_status": status,
		"notes":      notes,
	})
}

func (c *reportAPIClient) BulkUpdateSeverity(ctx context.Context, reportIDs []int, severity ReportSeverity) (*bulkRemoteResult, error) {
	return c.bulk(ctx, "/reports/bulk/update-severity", map[string]any{
		"report_ids": reportIDs,
		"severity":   severity,
	})
}

// remoteAuthClient delegates credential checks to the auth service.
type remoteAuthClient struct {
	BaseURL string
	Client  *http.Client
}

func (c *remoteAuthClient) post(ctx context.Context, path string, body any, out any) error {
	api := &reportAPIClient{BaseURL: c.BaseURL, Client: c.Client}
	return api.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *remoteAuthClient) Authenticate(ctx context.Context, email, password string) (string, error) {
	var resp struct {
		Role string `json:"role"`
	}
	err := c.post(ctx, "/auth/login", map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		var remoteErr *remoteAPIError
		if errors.As(err, &remoteErr) && (remoteErr.StatusCode == http.StatusUnauthorized || remoteErr.StatusCode == http.StatusForbidden) {
			return "", &apiError{Status: http.StatusUnauthorized, Code: "invalid_credentials", Message: "Invalid credentials"}
		}
		return "", err
	}
	return resp.Role, nil
}

func (c *remoteAuthClient) VerifyPassword(ctx context.Context, email, password string) error {
	var resp struct {
		Valid bool `json:"valid"`
	}
	err := c.post(ctx, "/auth/verify-password", map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		var remoteErr *remoteAPIError
		if errors.As(err, &remoteErr) && (remoteErr.StatusCode == http.StatusUnauthorized || remoteErr.StatusCode == http.StatusForbidden) {
			return newWorkflowError(kindAuthenticationFailed, "password verification failed")
		}
		return err
	}
	if !resp.Valid {
		return newWorkflowError(kindAuthenticationFailed, "password verification failed")
	}
	return nil
}
