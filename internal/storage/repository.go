package storage

import (
	"context"

	"github.com/Togather-Foundation/attend/internal/domain/analytics"
	"github.com/Togather-Foundation/attend/internal/domain/events"
	"github.com/Togather-Foundation/attend/internal/domain/registrations"
	"github.com/Togather-Foundation/attend/internal/domain/users"
)

// Repository groups data access by domain. Both the Postgres and the
// in-memory backends implement it.
type Repository interface {
	Events() events.Repository
	Registrations() registrations.Store
	Users() users.Repository
	Analytics() analytics.Source

	Ping(ctx context.Context) error
	Close()
}
