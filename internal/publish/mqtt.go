package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"facefeed/internal/aggregate"
	"facefeed/internal/platform/metrics"
	"facefeed/internal/session"
)

const (
	DefaultPublishTimeout = 2 * time.Second
	connectTimeout        = 10 * time.Second
	disconnectQuiesceMs   = 250
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt publish timeout")

// Client is the part of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// BrokerConfig describes the broker connection.
type BrokerConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Connect opens a broker connection with automatic reconnects.
func Connect(ctx context.Context, cfg BrokerConfig, log *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("mqtt connected", slog.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", slog.String("error", err.Error()))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	wait := connectTimeout
	if dl, ok := ctx.Deadline(); ok {
		wait = min(wait, time.Until(dl))
	}
	if !token.WaitTimeout(wait) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// Disconnect closes a connection returned by Connect.
func Disconnect(c mqtt.Client) {
	if c != nil && c.IsConnected() {
		c.Disconnect(disconnectQuiesceMs)
	}
}

// Message is the retained summary payload.
type Message struct {
	Session  uint64            `json:"session"`
	SourceID int               `json:"source_id"`
	At       time.Time         `json:"at"`
	Summary  aggregate.Summary `json:"summary"`
}

// SummaryPublisher is a session observer that publishes each new summary,
// retained, to one topic.
type SummaryPublisher struct {
	client  Client
	topic   string
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewSummaryPublisher returns a publisher writing to topic through client.
// m may be nil.
func NewSummaryPublisher(client Client, topic string, log *slog.Logger, m *metrics.Metrics) *SummaryPublisher {
	return &SummaryPublisher{
		client:  client,
		topic:   topic,
		timeout: DefaultPublishTimeout,
		log:     log.With(slog.String("component", "publish")),
		metrics: m,
	}
}

// OnUpdate implements session.Observer. Failures are logged only.
func (p *SummaryPublisher) OnUpdate(ctx context.Context, u session.Update) {
	if err := p.Publish(ctx, u); err != nil {
		p.log.Warn("summary publish failed",
			slog.String("topic", p.topic),
			slog.String("error", err.Error()))
	}
}

// Publish sends the summary of u and waits for the broker acknowledgement.
func (p *SummaryPublisher) Publish(ctx context.Context, u session.Update) error {
	payload, err := json.Marshal(Message{
		Session:  u.Session,
		SourceID: u.SourceID,
		At:       u.At.UTC(),
		Summary:  u.Summary,
	})
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	token := p.client.Publish(p.topic, 0, true, payload)
	select {
	case <-token.Done():
	case <-time.After(p.timeout):
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return err
	}

	p.metrics.IncSummaryPublished()
	p.log.Debug("summary published",
		slog.String("topic", p.topic),
		slog.Int("total", u.Summary.Total))
	return nil
}
