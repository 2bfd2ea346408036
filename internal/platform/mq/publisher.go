// Package mq publishes domain events to RabbitMQ.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/logctx"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

func Connect(url string, retries int, delay time.Duration) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	if retries < 1 {
		retries = 1
	}
	for i := range retries {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		if i < retries-1 {
			time.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("mq.Connect: %w", err)
}

type AMQPPublisher struct {
	mu       sync.Mutex
	ch       channel
	exchange string
}

// NewAMQPPublisher declares a durable direct exchange on ch.
func NewAMQPPublisher(ch channel, exchange string) (*AMQPPublisher, error) {
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("mq.NewAMQPPublisher: declare %s: %w", exchange, err)
	}
	return &AMQPPublisher{ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("mq.Publish: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now(),
		CorrelationId: logctx.TraceID(ctx),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Publish(p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("mq.Publish: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}

// LogPublisher writes messages to the log. Used when no broker is configured.
type LogPublisher struct {
	log *zap.SugaredLogger
}

func NewLogPublisher(log *zap.SugaredLogger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(ctx context.Context, routingKey string, message any) error {
	logctx.FromCtx(ctx, p.log).Infow("event", "routing_key", routingKey, "message", message)
	return nil
}

func New(lc fx.Lifecycle, cfg *config.Config, log *zap.SugaredLogger) (Publisher, error) {
	if cfg.RabbitMQ.URL == "" {
		log.Infow("rabbitmq not configured, events go to the log")
		return NewLogPublisher(log), nil
	}
	conn, err := Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Retries, 2*time.Second)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mq.New: open channel: %w", err)
	}
	p, err := NewAMQPPublisher(ch, cfg.RabbitMQ.Exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if err := p.Close(); err != nil {
				log.Warnw("close rabbitmq channel", "err", err)
			}
			return conn.Close()
		},
	})
	log.Infow("connected to rabbitmq", "exchange", cfg.RabbitMQ.Exchange)
	return p, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
