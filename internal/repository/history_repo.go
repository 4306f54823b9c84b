package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/evetabi/marketmaker/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// HistoryRepository is the append-only audit log. Entries are never
// updated or deleted; the only removal path is the FK cascade that runs
// when an entire market maker is torn down. Database triggers enforce the
// same rule below this layer, so even raw SQL cannot rewrite history.
type HistoryRepository struct {
	db *sqlx.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

const historyInsert = `
	INSERT INTO market_maker_history
		(id, market_maker_id, action, details, price_at_action, pool_value_at_action, created_at)
	VALUES
		(:id, :market_maker_id, :action, :details, :price_at_action, :pool_value_at_action, :created_at)`

// Append writes one entry.
func (r *HistoryRepository) Append(ctx context.Context, e *domain.HistoryEntry) error {
	if _, err := r.db.NamedExecContext(ctx, historyInsert, e); err != nil {
		return fmt.Errorf("history_repo.Append: %w", err)
	}
	return nil
}

// AppendTx writes entries within an existing transaction.
func (r *HistoryRepository) AppendTx(ctx context.Context, tx *sqlx.Tx, entries ...*domain.HistoryEntry) error {
	for _, e := range entries {
		if _, err := tx.NamedExecContext(ctx, historyInsert, e); err != nil {
			return fmt.Errorf("history_repo.AppendTx: %w", err)
		}
	}
	return nil
}

// GetByID fetches a single entry.
func (r *HistoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.HistoryEntry, error) {
	var e domain.HistoryEntry
	err := r.db.GetContext(ctx, &e, `SELECT * FROM market_maker_history WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrHistoryNotFound
		}
		return nil, fmt.Errorf("history_repo.GetByID: %w", err)
	}
	return &e, nil
}

// List returns one instance's entries newest first, narrowed by the filter.
func (r *HistoryRepository) List(ctx context.Context, mmID uuid.UUID, f domain.HistoryFilter) ([]*domain.HistoryEntry, error) {
	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString(`SELECT * FROM market_maker_history WHERE market_maker_id = $1`)
	args = append(args, mmID)

	if f.Action != nil {
		args = append(args, *f.Action)
		sb.WriteString(` AND action = $` + strconv.Itoa(len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		sb.WriteString(` AND created_at >= $` + strconv.Itoa(len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		sb.WriteString(` AND created_at < $` + strconv.Itoa(len(args)))
	}

	sb.WriteString(` ORDER BY created_at DESC, id DESC`)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sb.WriteString(` LIMIT $` + strconv.Itoa(len(args)))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sb.WriteString(` OFFSET $` + strconv.Itoa(len(args)))
	}

	var out []*domain.HistoryEntry
	if err := r.db.SelectContext(ctx, &out, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("history_repo.List: %w", err)
	}
	return out, nil
}

// CountByAction aggregates entry counts per action for one instance.
func (r *HistoryRepository) CountByAction(ctx context.Context, mmID uuid.UUID) (map[domain.Action]int64, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT action, COUNT(*) FROM market_maker_history
		 WHERE market_maker_id = $1 GROUP BY action`, mmID)
	if err != nil {
		return nil, fmt.Errorf("history_repo.CountByAction: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Action]int64)
	for rows.Next() {
		var (
			action domain.Action
			n      int64
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("history_repo.CountByAction scan: %w", err)
		}
		out[action] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history_repo.CountByAction rows: %w", err)
	}
	return out, nil
}

// Delete always fails: the audit log is append-only. The sole removal path
// is the FK cascade that fires when the owning market maker is deleted.
func (r *HistoryRepository) Delete(context.Context, uuid.UUID) error {
	return domain.ErrHistoryImmutable
}
