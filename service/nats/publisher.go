package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/dispenser/service/metrics"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix is the subject namespace of funding events.
const SubjectPrefix = "dispenser.funding"

// Publisher defines the interface for publishing funding events to NATS.
type Publisher interface {
	// PublishFunding publishes a single funding decision.
	PublishFunding(ctx context.Context, event *FundingEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// CorePublisher publishes funding events with core NATS. Events are
// fire-and-forget notifications; nothing is retained for subscribers that
// are not listening.
type CorePublisher struct {
	nc      *nats.Conn
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher connects to NATS. If m is nil, no metrics are recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*CorePublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("dispenser-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("NATS publisher initialized", "url", natsURL, "subjects", SubjectPrefix+".>")

	return &CorePublisher{
		nc:      nc,
		metrics: m,
		logger:  logger,
	}, nil
}

// PublishFunding publishes a single funding event.
func (p *CorePublisher) PublishFunding(ctx context.Context, event *FundingEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.PublishedAt.IsZero() {
		event.PublishedAt = time.Now().UTC()
	}
	subject := event.Subject()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal funding event: %w", err)
	}

	start := time.Now()
	err = p.nc.Publish(subject, data)
	p.record(subject, start, err)
	if err != nil {
		return fmt.Errorf("failed to publish funding event: %w", err)
	}

	p.logger.DebugContext(ctx, "published funding event",
		"subject", subject,
		"request_id", event.RequestID.String(),
	)
	return nil
}

func (p *CorePublisher) record(subject string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
}

// Close drains pending messages and closes the connection.
func (p *CorePublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	p.logger.Info("NATS publisher closed")
	return nil
}

// NopPublisher discards events. It is used when no NATS URL is configured.
type NopPublisher struct{}

func (NopPublisher) PublishFunding(context.Context, *FundingEvent) error { return nil }
func (NopPublisher) Close() error { return nil }
