package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"edaagent/pkg/domain"
)

const (
	TypeDesignCreated   = "design.created"
	defaultExchangeName = "edaagent.events"
)

// DesignCreated is the message published after a design is saved.
type DesignCreated struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	AppID     string    `json:"appId"`
	CreatedAt time.Time `json:"createdAt"`
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends design events to a RabbitMQ topic exchange.
type Publisher struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	ch       channel
	exchange string
	appID    string
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	URL      string
	Exchange string
	AppID    string
}

// NewPublisher dials the broker and declares a durable topic exchange.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	p, err := newPublisher(ch, cfg.Exchange, cfg.AppID)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange, appID string) (*Publisher, error) {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = defaultExchangeName
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{ch: ch, exchange: exchange, appID: appID}, nil
}

// PublishDesignCreated announces rec. It matches store.AfterSaveHook.
func (p *Publisher) PublishDesignCreated(ctx context.Context, rec domain.DesignRecord) error {
	body, err := json.Marshal(DesignCreated{
		Type:      TypeDesignCreated,
		ID:        rec.ID,
		UserID:    rec.UserID,
		AppID:     p.appID,
		CreatedAt: rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, TypeDesignCreated, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.ID,
		Timestamp:    rec.CreatedAt,
		Type:         TypeDesignCreated,
		AppId:        p.appID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", TypeDesignCreated, err)
	}
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
