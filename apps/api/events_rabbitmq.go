package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dashboardExchange    = "civicdesk.dashboard"
	amqpPublishTimeout   = 5 * time.Second
	amqpReconnectDelay   = 5 * time.Second
	amqpConnectAttempts  = 5
	amqpConnectBaseDelay = 500 * time.Millisecond
)

// rabbitPublisher forwards domain events to a topic exchange, routed by event type.
type rabbitPublisher struct {
	url string
	log *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	done    chan struct{}
}

func newRabbitPublisher(url string, logger *slog.Logger) (*rabbitPublisher, error) {
	p := &rabbitPublisher{url: url, log: logger, done: make(chan struct{})}

	err := retry.Do(
		p.connect,
		retry.Attempts(amqpConnectAttempts),
		retry.Delay(amqpConnectBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(amqpReconnectDelay),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("rabbitmq connect failed", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	go p.handleReconnect()
	return p, nil
}

func (p *rabbitPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(
		dashboardExchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.channel = channel
	p.mu.Unlock()

	p.log.Info("rabbitmq connected", "exchange", dashboardExchange)
	return nil
}

func (p *rabbitPublisher) handleReconnect() {
	for {
		p.mu.RLock()
		conn := p.conn
		p.mu.RUnlock()

		select {
		case <-p.done:
			return
		case err := <-conn.NotifyClose(make(chan *amqp.Error, 1)):
			if err != nil {
				p.log.Warn("rabbitmq connection lost", "error", err)
			}
		}

		for {
			if err := p.connect(); err == nil {
				break
			} else {
				p.log.Warn("rabbitmq reconnect failed", "error", err, "retry_in", amqpReconnectDelay.String())
			}
			select {
			case <-p.done:
				return
			case <-time.After(amqpReconnectDelay):
			}
		}
	}
}

func (p *rabbitPublisher) Publish(ctx context.Context, event domainEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.channel == nil {
		return fmt.Errorf("channel not available")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, amqpPublishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		dashboardExchange,
		event.Type,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID,
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *rabbitPublisher) Close() {
	close(p.done)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.log.Info("rabbitmq connection closed")
}
