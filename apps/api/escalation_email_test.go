package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"civicdesk/libs/mailer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMailProvider struct {
	sent []mailer.Message
	err  error
}

func (p *recordingMailProvider) Name() string { return "recording" }

func (p *recordingMailProvider) Send(msg mailer.Message) (mailer.SendResult, error) {
	p.sent = append(p.sent, msg)
	if p.err != nil {
		return mailer.SendResult{}, p.err
	}
	return mailer.SendResult{ProviderMessageID: "msg-1"}, nil
}

func escalationFixture() ([]Report, *BulkOperationResult) {
	first := reportFixture(StatusReceived, 0, 0)
	first.Title = "Pothole <near> school"
	first.Severity = SeverityHigh
	first.Address = stringPtr("Main Road")

	second := reportFixture(StatusInProgress, 2, 103)
	second.ID, second.ReportNumber, second.Title, second.Severity = 8, "CL-2026-RNC-00008", "Low water pressure", SeverityLow

	result := &BulkOperationResult{OperationID: "op-critical", Successful: 2, Total: 2, Message: "Updated 2 of 2 reports"}
	return []Report{first, second}, result
}

func newEscalationTestApp(provider mailer.Provider, to string) *App {
	return &App{
		cfg:    &Config{PublicBaseURL: "https://dashboard.civicdesk.in/", EscalationEmailTo: to},
		log:    discardLogger(),
		mailer: mailer.New(provider, "alerts@civicdesk.in", mailer.WithRetry(1, 0)),
	}
}

func TestBuildEscalationEmail(t *testing.T) {
	app := newEscalationTestApp(&recordingMailProvider{}, "ops@ranchi.gov.in")
	reports, result := escalationFixture()

	msg := app.buildEscalationEmail("admin@civicdesk.local", reports, result)
	assert.Equal(t, []string{"ops@ranchi.gov.in"}, msg.To)
	assert.Equal(t, "2 reports escalated to critical severity", msg.Subject)
	assert.Equal(t, map[string]string{"kind": "critical_escalation", "operation": "op-critical"}, msg.Tags)

	assert.Contains(t, msg.HTML, "Pothole &lt;near&gt; school")
	assert.NotContains(t, msg.HTML, "<near>")
	assert.Contains(t, msg.HTML, "https://dashboard.civicdesk.in/reports?severity=critical")

	assert.Contains(t, msg.Text, "- CL-2026-RNC-00001 Pothole <near> school (Main Road), previously high")
	assert.Contains(t, msg.Text, "- CL-2026-RNC-00008 Low water pressure, previously low")
	assert.True(t, strings.HasSuffix(msg.Text, "Dashboard: https://dashboard.civicdesk.in/reports?severity=critical"))
}

func TestNotifyCriticalEscalationSends(t *testing.T) {
	provider := &recordingMailProvider{}
	app := newEscalationTestApp(provider, "ops@ranchi.gov.in")
	reports, result := escalationFixture()

	app.notifyCriticalEscalation(context.Background(), "admin@civicdesk.local", reports, result)
	require.Len(t, provider.sent, 1)
	assert.Equal(t, "alerts@civicdesk.in", provider.sent[0].From)
}

func TestNotifyCriticalEscalationSkipsWithoutRecipientOrReports(t *testing.T) {
	provider := &recordingMailProvider{}
	reports, result := escalationFixture()

	newEscalationTestApp(provider, "").notifyCriticalEscalation(context.Background(), "admin@civicdesk.local", reports, result)
	newEscalationTestApp(provider, "ops@ranchi.gov.in").notifyCriticalEscalation(context.Background(), "admin@civicdesk.local", nil, result)
	assert.Empty(t, provider.sent)
}

func TestNotifyCriticalEscalationSwallowsProviderErrors(t *testing.T) {
	provider := &recordingMailProvider{err: errors.New("provider down")}
	app := newEscalationTestApp(provider, "ops@ranchi.gov.in")
	reports, result := escalationFixture()

	assert.NotPanics(t, func() {
		app.notifyCriticalEscalation(context.Background(), "admin@civicdesk.local", reports, result)
	})
	assert.Len(t, provider.sent, 1)
}

func TestBuildPublicURL(t *testing.T) {
	assert.Equal(t, "https://dashboard.civicdesk.in/reports", buildPublicURL("https://dashboard.civicdesk.in/", "/reports"))
	assert.Equal(t, "https://dashboard.civicdesk.in/reports", buildPublicURL("https://dashboard.civicdesk.in", "reports"))
}
