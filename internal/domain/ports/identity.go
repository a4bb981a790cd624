package ports

import (
	"context"

	"audiobridge/internal/domain"
)

type IdentityProvider interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

type EventPublisher interface {
	Publish(event domain.IngestEvent)
}
