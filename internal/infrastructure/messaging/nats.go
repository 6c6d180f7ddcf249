package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
)

// NatsPublisher publishes each update as JSON on <prefix>.<transaction id>
type NatsPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

func NewNatsPublisher(url, subjectPrefix string, logger *zap.Logger, opts ...nats.Option) (*NatsPublisher, error) {
	opts = append([]nats.Option{
		nats.Name("yield-bridge"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}, opts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NatsPublisher{nc: nc, prefix: subjectPrefix, logger: logger}, nil
}

// Subject is the NATS subject updates for txID are published on
func Subject(prefix string, update entities.BridgeUpdate) string {
	return prefix + "." + update.TransactionID.String()
}

func (p *NatsPublisher) Publish(ctx context.Context, update entities.BridgeUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	if err := p.nc.Publish(Subject(p.prefix, update), data); err != nil {
		return fmt.Errorf("publish update: %w", err)
	}
	return nil
}

func (p *NatsPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}

// Ping reports whether the connection is currently usable
func (p *NatsPublisher) Ping(ctx context.Context) error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats connection %s", p.nc.Status())
	}
	return nil
}
