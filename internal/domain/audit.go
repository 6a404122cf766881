package domain

import (
	"context"
	"time"
)

// AuditRecord is one line of the command audit trail.
type AuditRecord struct {
	Timestamp time.Time
	Text      string
}

// AuditLogger appends records to a durable, append-only trail.
type AuditLogger interface {
	Append(ctx context.Context, rec AuditRecord) error
}
