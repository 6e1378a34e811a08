package store

import (
	"context"
	"database/sql"
	"time"

	"callbridge/pkg/utils"
)

// PGRepo persists call records in Postgres.
//
// Schema (migrations run out of band):
//
//	CREATE TABLE call_records (
//	    call_id           TEXT PRIMARY KEY,
//	    linked_call_id    TEXT NOT NULL DEFAULT '',
//	    caller_id         TEXT NOT NULL DEFAULT '',
//	    queue_id          TEXT NOT NULL DEFAULT '',
//	    agent_id          TEXT NOT NULL DEFAULT '',
//	    outcome           TEXT NOT NULL,
//	    duration_seconds  INT NOT NULL DEFAULT 0,
//	    wait_seconds      INT NOT NULL DEFAULT 0,
//	    talk_seconds      INT NOT NULL DEFAULT 0,
//	    hangup_cause      INT NOT NULL DEFAULT 0,
//	    hangup_cause_text TEXT NOT NULL DEFAULT '',
//	    recording_ref     TEXT NOT NULL DEFAULT '',
//	    started_at        TIMESTAMPTZ NOT NULL,
//	    ended_at          TIMESTAMPTZ NOT NULL,
//	    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE INDEX call_records_started_at_idx ON call_records (started_at);
type PGRepo struct {
	db *sql.DB
}

func NewPGRepo(db *sql.DB) *PGRepo {
	return &PGRepo{db: db}
}

func (r *PGRepo) Insert(ctx context.Context, rec CallRecord) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO call_records (
				call_id, linked_call_id, caller_id, queue_id, agent_id,
				outcome, duration_seconds, wait_seconds, talk_seconds,
				hangup_cause, hangup_cause_text, recording_ref,
				started_at, ended_at, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now())
			ON CONFLICT (call_id) DO NOTHING`,
			rec.CallID, rec.LinkedCallID, rec.CallerID, rec.QueueID, rec.AgentID,
			string(rec.Outcome), rec.DurationSeconds, rec.WaitSeconds, rec.TalkSeconds,
			rec.HangupCause, rec.HangupCauseText, rec.RecordingRef,
			rec.StartedAt, rec.EndedAt,
		)
		return err
	})
}

func (r *PGRepo) List(ctx context.Context, from, to time.Time, queueID string) ([]CallRecord, error) {
	query := `
		SELECT call_id, linked_call_id, caller_id, queue_id, agent_id,
		       outcome, duration_seconds, wait_seconds, talk_seconds,
		       hangup_cause, hangup_cause_text, recording_ref,
		       started_at, ended_at, created_at
		FROM call_records
		WHERE started_at >= $1 AND started_at < $2`
	args := []any{from, to}
	if queueID != "" {
		query += ` AND queue_id = $3`
		args = append(args, queueID)
	}
	query += ` ORDER BY started_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var rec CallRecord
		var outcome string
		if err := rows.Scan(
			&rec.CallID, &rec.LinkedCallID, &rec.CallerID, &rec.QueueID, &rec.AgentID,
			&outcome, &rec.DurationSeconds, &rec.WaitSeconds, &rec.TalkSeconds,
			&rec.HangupCause, &rec.HangupCauseText, &rec.RecordingRef,
			&rec.StartedAt, &rec.EndedAt, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Outcome = Outcome(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}
