// Package store defines the persistence and notification-sink contracts.
package store

import (
	"context"

	"github.com/mcpwatch/mcpwatch/pkg/types"
)

// EventStore persists raw events and their derived rows.
type EventStore interface {
	AppendEvent(ctx context.Context, ev types.Event, msg types.CanonicalMessage) error
	QueryMessages(ctx context.Context, q types.EventQuery) ([]types.CanonicalMessage, error)
	DeleteEvent(ctx context.Context, eventID string) error
	Close() error
}

// FindingStore persists detection findings.
type FindingStore interface {
	AppendFinding(ctx context.Context, f types.Finding) error
	QueryFindings(ctx context.Context, q types.EventQuery) ([]types.Finding, error)
}
