package messaging

import (
	"context"
	"errors"

	"github.com/rail-service/yield_bridge/internal/domain/entities"
)

// Publisher is the sink side of the bridge update stream
type Publisher interface {
	Publish(ctx context.Context, update entities.BridgeUpdate) error
}

var (
	_ Publisher = (*Hub)(nil)
	_ Publisher = (*NatsPublisher)(nil)
	_ Publisher = MultiPublisher(nil)
)

// MultiPublisher publishes to every target and joins their errors
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, update entities.BridgeUpdate) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
