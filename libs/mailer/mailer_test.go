package mailer

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	failures int
	calls    int
	sent     []Message
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Send(msg Message) (SendResult, error) {
	p.calls++
	if p.calls <= p.failures {
		return SendResult{}, errors.New("temporary outage")
	}
	p.sent = append(p.sent, msg)
	return SendResult{ProviderMessageID: "msg-1"}, nil
}

func TestLogProviderSend(t *testing.T) {
	provider := NewLogProvider(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	result, err := provider.Send(Message{
		From:    "test@example.com",
		To:      []string{"ops@example.com"},
		Subject: "Escalation",
		Text:    "Three reports escalated",
		Tags:    map[string]string{"kind": "escalation"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.ProviderMessageID, "log-"))
	assert.Equal(t, "log", provider.Name())
}

func TestMailerUsesDefaultFromAddress(t *testing.T) {
	provider := &scriptedProvider{}
	m := New(provider, "noreply@civicdesk.local", WithRetry(1, 0))

	_, err := m.Send(Message{To: []string{"ops@example.com"}, Subject: "Test"})
	require.NoError(t, err)
	require.Len(t, provider.sent, 1)
	assert.Equal(t, "noreply@civicdesk.local", provider.sent[0].From)
}

func TestMailerRetriesTransientFailures(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		attempts     uint
		wantErr      bool
		wantAttempts uint
	}{
		{name: "first try", failures: 0, attempts: 3, wantAttempts: 1},
		{name: "recovers after two failures", failures: 2, attempts: 3, wantAttempts: 3},
		{name: "gives up", failures: 5, attempts: 3, wantErr: true, wantAttempts: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &scriptedProvider{failures: tt.failures}
			m := New(provider, "noreply@civicdesk.local", WithRetry(tt.attempts, time.Millisecond))

			result, err := m.Send(Message{To: []string{"ops@example.com"}, Subject: "Test"})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "msg-1", result.ProviderMessageID)
			}
			assert.Equal(t, tt.wantAttempts, result.Attempts)
			assert.Equal(t, int(tt.wantAttempts), provider.calls)
		})
	}
}

func TestMailerRejectsMessageWithoutRecipients(t *testing.T) {
	provider := &scriptedProvider{}
	m := New(provider, "noreply@civicdesk.local")

	_, err := m.Send(Message{To: []string{"  "}, Subject: "Test"})
	assert.ErrorIs(t, err, ErrNoRecipients)
	assert.Zero(t, provider.calls)
}

func TestResendTagsAreSorted(t *testing.T) {
	tags := resendTags(map[string]string{"kind": "escalation", "action": "severity"})
	require.Len(t, tags, 2)
	assert.Equal(t, "action", tags[0].Name)
	assert.Equal(t, "kind", tags[1].Name)
	assert.Nil(t, resendTags(nil))
	assert.Equal(t, "resend", NewResendProvider("fake-api-key").Name())
}
