package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/lumacorp/industry-exporter/internal/metrics"
	"github.com/lumacorp/industry-exporter/pkg/model"
)

// Publisher wraps a NATS JetStream connection for emitting exporter events.
type Publisher struct {
	logger  *zap.Logger
	nc      *nats.Conn
	js      nats.JetStreamContext
	service string
}

// New creates a Publisher with JetStream enabled.
func New(logger *zap.Logger, nc *nats.Conn, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		logger:  logger,
		nc:      nc,
		js:      js,
		service: service,
	}, nil
}

// Publish wraps payload in an event envelope and publishes it to subject.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	event := model.Event{
		ID:        uuid.New(),
		Type:      subject,
		Source:    p.service,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}
	body, err := json.Marshal(event)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    body,
		Header: nats.Header{
			"event_id":     []string{event.ID.String()},
			"source":       []string{p.service},
			"content_type": []string{"application/json"},
		},
	}

	if _, err := p.js.PublishMsg(msg); err != nil {
		metrics.IncError("publisher", "publish_failed")
		p.logger.Warn("publisher.publish_failed",
			zap.String("subject", subject),
			zap.Error(err))
		return err
	}

	p.logger.Debug("publisher.publish_success", zap.String("subject", subject))
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
