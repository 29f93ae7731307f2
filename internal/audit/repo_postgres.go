package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo stores the journal in softphone_call_events:
//
//	CREATE TABLE softphone_call_events (
//	  id          uuid PRIMARY KEY,
//	  workspace_id text NOT NULL,
//	  type        text NOT NULL,
//	  identity    text NOT NULL,
//	  status      text NOT NULL,
//	  call_sid    text NOT NULL DEFAULT '',
//	  from_number text NOT NULL DEFAULT '',
//	  to_number   text NOT NULL DEFAULT '',
//	  message     text NOT NULL DEFAULT '',
//	  created_at  timestamptz NOT NULL
//	);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) (*PostgresRepo, error) {
	if db == nil {
		return nil, errors.New("audit: db is nil")
	}
	return &PostgresRepo{db: db}, nil
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO softphone_call_events (
  id, workspace_id, type, identity, status, call_sid, from_number, to_number, message, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.WorkspaceID,
		e.Type,
		e.Identity,
		e.Status,
		e.CallSID,
		e.FromNumber,
		e.ToNumber,
		e.Message,
		e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, q Query) ([]Event, error) {
	const stmt = `
SELECT id, workspace_id, type, identity, status, call_sid, from_number, to_number, message, created_at
FROM softphone_call_events
WHERE workspace_id = $1 AND ($2 = '' OR identity = $2)
  AND ($4::timestamptz IS NULL OR created_at >= $4)
  AND ($5::timestamptz IS NULL OR created_at < $5)
ORDER BY created_at DESC
LIMIT $3
`
	rows, err := r.db.QueryContext(ctx, stmt, q.WorkspaceID, q.Identity, q.limit(), nullTime(q.Since), nullTime(q.Until))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.WorkspaceID,
			&e.Type,
			&e.Identity,
			&e.Status,
			&e.CallSID,
			&e.FromNumber,
			&e.ToNumber,
			&e.Message,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
