package mailer

import (
	"errors"
	"strings"
	"time"

	"github.com/avast/retry-go"
)

const (
	defaultAttempts = 3
	defaultDelay    = 500 * time.Millisecond
	defaultMaxDelay = 5 * time.Second
)

// ErrNoRecipients is returned before any provider call when a message has no recipient.
var ErrNoRecipients = errors.New("mailer: message has no recipients")

// Message is one outgoing email. Tags are forwarded to providers that support them.
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
	Tags    map[string]string
}

type SendResult struct {
	ProviderMessageID string
	Attempts          uint
}

type Provider interface {
	Name() string
	Send(msg Message) (SendResult, error)
}

// Mailer fills in the sender address and retries transient provider failures with backoff.
type Mailer struct {
	provider    Provider
	fromAddress string
	attempts    uint
	delay       time.Duration
	maxDelay    time.Duration
}

type Option func(*Mailer)

// WithRetry overrides the attempt count and initial backoff delay.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(m *Mailer) {
		if attempts > 0 {
			m.attempts = attempts
		}
		if delay >= 0 {
			m.delay = delay
		}
	}
}

func New(provider Provider, fromAddress string, opts ...Option) *Mailer {
	m := &Mailer{
		provider:    provider,
		fromAddress: fromAddress,
		attempts:    defaultAttempts,
		delay:       defaultDelay,
		maxDelay:    defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mailer) Send(msg Message) (SendResult, error) {
	if msg.From == "" {
		msg.From = m.fromAddress
	}
	recipients := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		if trimmed := strings.TrimSpace(to); trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}
	if len(recipients) == 0 {
		return SendResult{}, ErrNoRecipients
	}
	msg.To = recipients

	var (
		result   SendResult
		attempts uint
	)
	err := retry.Do(
		func() error {
			attempts++
			sent, err := m.provider.Send(msg)
			if err != nil {
				return err
			}
			result = sent
			return nil
		},
		retry.Attempts(m.attempts),
		retry.Delay(m.delay),
		retry.MaxDelay(m.maxDelay),
		retry.DelayType(retry.BackOffDelay),
	)
	result.Attempts = attempts
	if err != nil {
		return result, err
	}
	return result, nil
}

func (m *Mailer) ProviderName() string {
	return m.provider.Name()
}
