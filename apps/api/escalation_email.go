package main

import (
	"context"
	"fmt"
	"html"
	"strings"

	"civicdesk/libs/mailer"
)

func (a *App) buildEscalationEmail(actor string, reports []Report, result *BulkOperationResult) mailer.Message {
	subject := fmt.Sprintf("%d %s escalated to critical severity", len(reports), pluralize(len(reports), "report", "reports"))
	dashboardURL := buildPublicURL(a.cfg.PublicBaseURL, "/reports?severity=critical")

	var items strings.Builder
	var lines strings.Builder
	for _, report := range reports {
		location := ""
		if report.Address != nil {
			location = " (" + *report.Address + ")"
		}
		fmt.Fprintf(&items, "<li><strong>%s</strong> %s%s, previously %s</li>",
			html.EscapeString(report.label()), html.EscapeString(report.Title), html.EscapeString(location), html.EscapeString(string(report.Severity)))
		fmt.Fprintf(&lines, "- %s %s%s, previously %s\n", report.label(), report.Title, location, report.Severity)
	}

	body := fmt.Sprintf(`
		<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto; line-height: 1.6; color: #333;">
			<h2>Critical escalation</h2>
			<p>%s raised the following reports to <strong>critical</strong> severity:</p>
			<ul>%s</ul>
			<p>%s</p>
			<p style="margin: 30px 0;">
				<a href="%s" style="background-color: #d32f2f; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; font-weight: bold; display: inline-block;">
					Open dashboard
				</a>
			</p>
		</div>
	`, html.EscapeString(actor), items.String(), html.EscapeString(result.Message), dashboardURL)

	text := fmt.Sprintf(
		"%s raised the following reports to critical severity:\n\n%s\n%s\n\nDashboard: %s",
		actor, lines.String(), result.Message, dashboardURL,
	)

	return mailer.Message{
		To:      []string{a.cfg.EscalationEmailTo},
		Subject: subject,
		HTML:    body,
		Text:    text,
		Tags:    map[string]string{"kind": "critical_escalation", "operation": result.OperationID},
	}
}

// notifyCriticalEscalation tells the operations mailbox about reports a bulk action made critical.
// Failures are logged; the bulk operation has already succeeded.
func (a *App) notifyCriticalEscalation(_ context.Context, actor string, reports []Report, result *BulkOperationResult) {
	if a.mailer == nil || a.cfg.EscalationEmailTo == "" || len(reports) == 0 {
		return
	}
	msg := a.buildEscalationEmail(actor, reports, result)
	sent, err := a.mailer.Send(msg)
	if err != nil {
		a.log.Error("escalation email failed", "operation_id", result.OperationID, "to", a.cfg.EscalationEmailTo, "err", err)
		return
	}
	a.log.Info("escalation email sent",
		"operation_id", result.OperationID,
		"reports", len(reports),
		"provider", a.mailer.ProviderName(),
		"message_id", sent.ProviderMessageID,
	)
}

func buildPublicURL(baseURL, path string) string {
	if strings.HasPrefix(path, "/") {
		return strings.TrimRight(baseURL, "/") + path
	}
	return strings.TrimRight(baseURL, "/") + "/" + path
}
