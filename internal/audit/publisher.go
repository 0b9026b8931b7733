// Package audit mirrors committed audit records to an external stream. The
// document store stays the system of record; the mirror is best effort.
package audit

import (
	"context"

	"github.com/gyaneshwarpardhi/karmachain/internal/karma"
)

// Publisher receives every audit record after it has been appended to the
// store. Publish must not block the pipeline for long and its failures never
// fail an event.
type Publisher interface {
	Publish(ctx context.Context, rec karma.AuditRecord)
	Close(ctx context.Context) error
}

// Nop discards records.
type Nop struct{}

func (Nop) Publish(context.Context, karma.AuditRecord) {}
func (Nop) Close(context.Context) error                { return nil }
