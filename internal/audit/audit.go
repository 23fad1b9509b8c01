// Package audit records who did what to which application. The sink is
// observability, not a control-flow dependency: callers record through Try,
// which logs failures and never escalates them.
package audit

import (
	"context"
	"database/sql"
	"log"
	"time"

	"permitflow/internal/domain"
	"permitflow/internal/repo"
)

// Auditor is the side-effect log sink invoked on every mutating action.
type Auditor interface {
	Record(ctx context.Context, tx *sql.Tx, entry domain.ActivityLog) error
}

// Writer appends activity-log rows, inside the caller's transaction when one
// is given so the entry commits or rolls back with the mutation it describes.
type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (w Writer) Record(ctx context.Context, tx *sql.Tx, entry domain.ActivityLog) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if entry.TS == "" {
		entry.TS = now().UTC().Format(time.RFC3339)
	}
	return w.Repo.InsertActivityLog(ctx, tx, entry)
}

// Try records an entry and logs instead of failing when the sink is
// unavailable.
func Try(ctx context.Context, a Auditor, tx *sql.Tx, logger *log.Logger, entry domain.ActivityLog) {
	if a == nil {
		return
	}
	if err := a.Record(ctx, tx, entry); err != nil {
		if logger == nil {
			logger = log.Default()
		}
		logger.Printf("audit: record %s for %s failed: %v", entry.Action, entry.ApplicationID, err)
	}
}
