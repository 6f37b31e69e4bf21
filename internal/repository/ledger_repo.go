package repository

import (
	"context"
	"encoding/json"
	"errors"

	"idle_mining/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepository stores the append-only history of committed mutations
type LedgerRepository struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// GetByAddress returns recent entries for a player, newest first
func (r *LedgerRepository) GetByAddress(ctx context.Context, address string, limit int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, address, operation, gold_delta, pickaxes, COALESCE(event_key, ''), meta, version, created_at
		 FROM player_ledger
		 WHERE address = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		address, limit,
	)
	if err != nil {
		return nil, classify("ledger", err)
	}
	defer rows.Close()

	return scanLedgerRows(rows)
}

// CreateWithTx inserts an entry using an existing database transaction.
// A reused event key is reported as domain.ErrDuplicateReferral.
func (r *LedgerRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	pickaxesJSON, err := json.Marshal(e.Pickaxes)
	if err != nil || e.Pickaxes == nil {
		pickaxesJSON = []byte("{}")
	}
	metaJSON, err := json.Marshal(e.Meta)
	if err != nil || e.Meta == nil {
		metaJSON = []byte("{}")
	}

	var eventKey *string
	if e.EventKey != "" {
		eventKey = &e.EventKey
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO player_ledger (address, operation, gold_delta, pickaxes, event_key, meta, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		e.Address, string(e.Operation), e.GoldDelta, pickaxesJSON, eventKey, metaJSON, e.Version,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == ledgerEventKeyIndex {
			return domain.ErrDuplicateReferral.WithDetail("event %s", e.EventKey)
		}
		return err
	}
	return nil
}

func scanLedgerRows(rows pgx.Rows) ([]*domain.LedgerEntry, error) {
	var result []*domain.LedgerEntry

	for rows.Next() {
		var (
			e            domain.LedgerEntry
			op           string
			pickaxesJSON []byte
			metaJSON     []byte
		)

		if err := rows.Scan(&e.ID, &e.Address, &op, &e.GoldDelta, &pickaxesJSON, &e.EventKey, &metaJSON, &e.Version, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Operation = domain.Operation(op)
		if len(pickaxesJSON) > 0 {
			_ = json.Unmarshal(pickaxesJSON, &e.Pickaxes)
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &e.Meta)
		}

		result = append(result, &e)
	}

	return result, classify("ledger", rows.Err())
}
