package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorDetailShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "string", body: `{"detail":"Report not found"}`, want: "Report not found"},
		{name: "list", body: `{"detail":[{"msg":"field required"},{"msg":"  "},{"msg":"value is not a valid integer"}]}`, want: "field required; value is not a valid integer"},
		{name: "object", body: `{"detail":{"msg":"Officer is inactive"}}`, want: "Officer is inactive"},
		{name: "null", body: `{"detail":null}`, want: ""},
		{name: "missing", body: `{}`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload struct {
				Detail errorDetail `json:"detail"`
			}
			require.NoError(t, json.Unmarshal([]byte(tt.body), &payload))
			assert.Equal(t, tt.want, payload.Detail.Message())
		})
	}

	var payload struct {
		Detail errorDetail `json:"detail"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"detail":42}`), &payload))
}

func TestRemoteAPIErrorFallsBackToStatus(t *testing.T) {
	err := &remoteAPIError{StatusCode: http.StatusBadGateway}
	assert.Equal(t, "request failed with status 502", err.Error())
}

func TestNormalizeErrorMessage(t *testing.T) {
	assert.Equal(t, "", normalizeErrorMessage(nil))
	assert.Equal(t, "Invalid credentials", normalizeErrorMessage(errInvalidCredentials))
	assert.Equal(t, "a → b not allowed", normalizeErrorMessage(newWorkflowError(kindInvalidTransition, "a → b not allowed")))
	assert.Equal(t, "boom", normalizeErrorMessage(errors.New("boom")))

	wrapped := &workflowError{Kind: kindRemoteUpdateFailed, Message: "outer", Err: &remoteAPIError{StatusCode: 400, Detail: errorDetail{Text: "inner"}}}
	assert.Equal(t, "inner", normalizeErrorMessage(wrapped))
}

type capturedRequest struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

func newCapturingServer(t *testing.T, status int, response string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := capturedRequest{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req.body)
		}
		captured = append(captured, req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server, &captured
}

func TestReportAPIClientListSendsFilterQuery(t *testing.T) {
	server, captured := newCapturingServer(t, http.StatusOK, `{"data":[{"id":4,"status":"assigned_to_department"}],"total":41}`)
	client := &reportAPIClient{BaseURL: server.URL + "/", Token: "service-token", Client: server.Client()}

	filter, err := parseFilterValues(map[string][]string{"status": {"assigned_to_department"}, "page": {"2"}})
	require.NoError(t, err)

	page, err := client.ListReports(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 41, page.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, StatusAssignedToDepartment, page.Data[0].Status)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, "/reports", req.path)
	assert.Equal(t, "page=2&page_size=20&status=assigned_to_department", req.query)
	assert.Equal(t, "Bearer service-token", req.auth)
}

func TestReportAPIClientListNormalizesNullData(t *testing.T) {
	server, _ := newCapturingServer(t, http.StatusOK, `{"data":null,"total":0}`)
	client := &reportAPIClient{BaseURL: server.URL, Client: server.Client()}

	page, err := client.ListReports(context.Background(), defaultFilterState())
	require.NoError(t, err)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
}

func TestReportAPIClientUpdateStatus(t *testing.T) {
	server, captured := newCapturingServer(t, http.StatusOK, `{"id":9,"status":"resolved"}`)
	client := &reportAPIClient{BaseURL: server.URL, Client: server.Client()}

	report, err := client.UpdateReportStatus(context.Background(), 9, StatusResolved, "Dump removed")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, report.Status)

	req := (*captured)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/reports/9/status", req.path)
	assert.Equal(t, map[string]any{"new_status": "resolved", "notes": "Dump removed"}, req.body)
	assert.Empty(t, req.auth)
}

func TestReportAPIClientBulkEndpoints(t *testing.T) {
	server, captured := newCapturingServer(t, http.StatusOK, `{"successful":2,"failed":1,"errors":[{"report_id":3,"error":"Report is closed"}]}`)
	client := &reportAPIClient{BaseURL: server.URL, Client: server.Client()}
	ctx := context.Background()

	result, err := client.BulkAssignDepartment(ctx, []int{1, 2, 3}, 4, "ward change")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, []bulkItemError{{ReportID: 3, Error: "Report is closed"}}, result.Errors)

	_, err = client.BulkAssignOfficer(ctx, []int{1}, 105, 7, "")
	require.NoError(t, err)
	_, err = client.BulkUpdateStatus(ctx, []int{1}, StatusOnHold, "waiting")
	require.NoError(t, err)
	_, err = client.BulkUpdateSeverity(ctx, []int{1}, SeverityCritical)
	require.NoError(t, err)

	require.Len(t, *captured, 4)
	assert.Equal(t, "/reports/bulk/assign-department", (*captured)[0].path)
	assert.Equal(t, map[string]any{"report_ids": []any{1.0, 2.0, 3.0}, "department_id": 4.0, "notes": "ward change"}, (*captured)[0].body)
	assert.Equal(t, "/reports/bulk/assign-officer", (*captured)[1].path)
	assert.Equal(t, map[string]any{"report_ids": []any{1.0}, "officer_user_id": 105.0, "priority": 7.0, "notes": ""}, (*captured)[1].body)
	assert.Equal(t, "/reports/bulk/update-status", (*captured)[2].path)
	assert.Equal(t, "on_hold", (*captured)[2].body["new_status"])
	assert.Equal(t, "/reports/bulk/update-severity", (*captured)[3].path)
	assert.Equal(t, "critical", (*captured)[3].body["severity"])
}

func TestReportAPIClientDecodesErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantText   string
	}{
		{name: "detail list", status: http.StatusUnprocessableEntity, body: `{"detail":[{"msg":"report_ids too long"}]}`, wantStatus: 422, wantText: "report_ids too long"},
		{name: "detail string", status: http.StatusNotFound, body: `{"detail":"Report not found"}`, wantStatus: 404, wantText: "Report not found"},
		{name: "plain text", status: http.StatusBadGateway, body: `upstream timed out`, wantStatus: 502, wantText: "upstream timed out"},
		{name: "empty body", status: http.StatusInternalServerError, body: ``, wantStatus: 500, wantText: "request failed with status 500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newCapturingServer(t, tt.status, tt.body)
			client := &reportAPIClient{BaseURL: server.URL, Client: server.Client()}

			_, err := client.GetReport(context.Background(), 12)
			var remoteErr *remoteAPIError
			require.ErrorAs(t, err, &remoteErr)
			assert.Equal(t, tt.wantStatus, remoteErr.StatusCode)
			assert.Equal(t, tt.wantText, err.Error())
		})
	}
}

func TestRemoteAuthClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/auth/login" && body["password"] == "secret-pass":
			_, _ = w.Write([]byte(`{"role":"admin"}`))
		case r.URL.Path == "/auth/login":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Incorrect email or password"}`))
		case r.URL.Path == "/auth/verify-password" && body["password"] == "secret-pass":
			_, _ = w.Write([]byte(`{"valid":true}`))
		case r.URL.Path == "/auth/verify-password" && body["password"] == "outage":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(`{"valid":false}`))
		}
	}))
	defer server.Close()

	client := &remoteAuthClient{BaseURL: server.URL, Client: server.Client()}
	ctx := context.Background()

	role, err := client.Authenticate(ctx, "admin@civicdesk.local", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, roleAdmin, role)

	_, err = client.Authenticate(ctx, "admin@civicdesk.local", "wrong")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_credentials", apiErr.Code)

	assert.NoError(t, client.VerifyPassword(ctx, "admin@civicdesk.local", "secret-pass"))
	assert.True(t, isWorkflowErrorKind(client.VerifyPassword(ctx, "admin@civicdesk.local", "wrong"), kindAuthenticationFailed))

	err = client.VerifyPassword(ctx, "admin@civicdesk.local", "outage")
	require.Error(t, err)
	assert.False(t, isWorkflowErrorKind(err, kindAuthenticationFailed))
}
