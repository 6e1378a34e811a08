package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"callbridge/internal/routing"
	"callbridge/pkg/utils"
)

// DeadLetter is a routing decision that exhausted delivery retries and is
// parked for manual or automated reprocessing. A lost CRM activity is a
// business-visible defect, so decisions are never silently dropped.
type DeadLetter struct {
	ID         string    `json:"id"`
	CallID     string    `json:"call_id"`
	EntityType string    `json:"entity_type"`
	Payload    string    `json:"payload"` // JSON-encoded routing.Decision
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	CreatedAt  time.Time `json:"created_at"`
}

// Decision decodes the parked routing decision.
func (d DeadLetter) Decision() (routing.Decision, error) {
	var out routing.Decision
	if err := json.Unmarshal([]byte(d.Payload), &out); err != nil {
		return routing.Decision{}, fmt.Errorf("dispatch: decoding dead letter %s: %w", d.ID, err)
	}
	return out, nil
}

var ErrNotFound = errors.New("dispatch: dead letter not found")

// DeadLetterRepository is the persistence contract for parked decisions.
type DeadLetterRepository interface {
	Save(ctx context.Context, dl DeadLetter) error
	List(ctx context.Context, limit int) ([]DeadLetter, error)
	Get(ctx context.Context, id string) (DeadLetter, error)
	Delete(ctx context.Context, id string) error
}

// PGDeadLetterRepo stores dead letters in Postgres.
//
// Expected schema:
//
//	CREATE TABLE dead_letters (
//	    id          TEXT PRIMARY KEY,
//	    call_id     TEXT NOT NULL,
//	    entity_type TEXT NOT NULL,
//	    payload     JSONB NOT NULL,
//	    attempts    INT NOT NULL,
//	    last_error  TEXT NOT NULL DEFAULT '',
//	    created_at  TIMESTAMPTZ NOT NULL
//	);
type PGDeadLetterRepo struct {
	db *sql.DB
}

func NewPGDeadLetterRepo(db *sql.DB) *PGDeadLetterRepo { return &PGDeadLetterRepo{db: db} }

func (r *PGDeadLetterRepo) Save(ctx context.Context, dl DeadLetter) error {
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dead_letters (id, call_id, entity_type, payload, attempts, last_error, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			dl.ID, dl.CallID, dl.EntityType, dl.Payload, dl.Attempts, dl.LastError, dl.CreatedAt,
		)
		return err
	})
}

func (r *PGDeadLetterRepo) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, call_id, entity_type, payload, attempts, last_error, created_at
		FROM dead_letters
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		if err := rows.Scan(&dl.ID, &dl.CallID, &dl.EntityType, &dl.Payload, &dl.Attempts, &dl.LastError, &dl.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (r *PGDeadLetterRepo) Get(ctx context.Context, id string) (DeadLetter, error) {
	var dl DeadLetter
	err := r.db.QueryRowContext(ctx, `
		SELECT id, call_id, entity_type, payload, attempts, last_error, created_at
		FROM dead_letters WHERE id = $1`, id).
		Scan(&dl.ID, &dl.CallID, &dl.EntityType, &dl.Payload, &dl.Attempts, &dl.LastError, &dl.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DeadLetter{}, ErrNotFound
	}
	if err != nil {
		return DeadLetter{}, err
	}
	return dl, nil
}

func (r *PGDeadLetterRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MemoryDeadLetterRepo is an in-memory repository for tests.
type MemoryDeadLetterRepo struct {
	mu      sync.Mutex
	letters map[string]DeadLetter
	order   []string
}

func NewMemoryDeadLetterRepo() *MemoryDeadLetterRepo {
	return &MemoryDeadLetterRepo{letters: make(map[string]DeadLetter)}
}

func (r *MemoryDeadLetterRepo) Save(ctx context.Context, dl DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.letters[dl.ID]; !ok {
		r.order = append(r.order, dl.ID)
	}
	r.letters[dl.ID] = dl
	return nil
}

func (r *MemoryDeadLetterRepo) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DeadLetter, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, r.letters[r.order[i]])
	}
	return out, nil
}

func (r *MemoryDeadLetterRepo) Get(ctx context.Context, id string) (DeadLetter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dl, ok := r.letters[id]
	if !ok {
		return DeadLetter{}, ErrNotFound
	}
	return dl, nil
}

func (r *MemoryDeadLetterRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.letters[id]; !ok {
		return ErrNotFound
	}
	delete(r.letters, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}
