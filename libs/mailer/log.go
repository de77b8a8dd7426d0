package mailer

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// LogProvider writes emails to the structured log. It is used when no API key is configured.
type LogProvider struct {
	Logger *slog.Logger
}

func NewLogProvider(logger *slog.Logger) *LogProvider {
	return &LogProvider{Logger: logger}
}

func (l *LogProvider) Name() string {
	return "log"
}

func (l *LogProvider) Send(msg Message) (SendResult, error) {
	fakeID := uuid.NewString()
	tags := make([]string, 0, len(msg.Tags))
	for name, value := range msg.Tags {
		tags = append(tags, name+"="+value)
	}
	sort.Strings(tags)

	l.Logger.Info("mailer: email logged",
		"provider", "log",
		"from", msg.From,
		"to", strings.Join(msg.To, ", "),
		"subject", msg.Subject,
		"tags", strings.Join(tags, ","),
		"message_id", fakeID,
	)
	if msg.Text != "" {
		l.Logger.Debug("mailer: email text body", "text", msg.Text)
	}
	return SendResult{ProviderMessageID: fmt.Sprintf("log-%s", fakeID)}, nil
}
