package repository

import (
	"context"
	"errors"
	"time"

	"idle_mining/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const playerColumns = `address, pickaxe_silver, pickaxe_gold, pickaxe_diamond, pickaxe_netherite,
	gold, mining_power, has_land, land_purchase_date, last_activity, last_accrual_time,
	total_referrals, created_at, updated_at, version`

// PlayerRepository is the Postgres Store
type PlayerRepository struct {
	db      *pgxpool.Pool
	ledger  *LedgerRepository
	catalog domain.Catalog
	now     func() time.Time
}

func NewPlayerRepository(db *pgxpool.Pool, catalog domain.Catalog) *PlayerRepository {
	return &PlayerRepository{
		db:      db,
		ledger:  NewLedgerRepository(db),
		catalog: catalog,
		now:     time.Now,
	}
}

var _ Store = (*PlayerRepository)(nil)

func (r *PlayerRepository) Get(ctx context.Context, address string) (*domain.PlayerRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+playerColumns+`
		 FROM players
		 WHERE address = $1`,
		address,
	)

	rec, err := scanPlayer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NewPlayerRecord(address, r.now()), nil
	}
	if err != nil {
		return nil, classify("get player", err)
	}
	return rec, nil
}

func (r *PlayerRepository) CompareAndSwap(ctx context.Context, w Write) (*domain.PlayerRecord, error) {
	next, err := PrepareWrite(w, r.catalog)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inv := next.Inventory
	var affected int64
	if w.ExpectedVersion == 0 {
		tag, err := tx.Exec(ctx,
			`INSERT INTO players (`+playerColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			 ON CONFLICT (address) DO NOTHING`,
			next.Address, inv.Count(domain.TierSilver), inv.Count(domain.TierGold),
			inv.Count(domain.TierDiamond), inv.Count(domain.TierNetherite),
			next.Gold, next.MiningPower, next.HasLand, next.LandPurchaseDate,
			next.LastActivity, next.LastAccrualTime, next.TotalReferrals,
			next.CreatedAt, next.UpdatedAt, next.Version,
		)
		if err != nil {
			return nil, classify("insert player", err)
		}
		affected = tag.RowsAffected()
	} else {
		tag, err := tx.Exec(ctx,
			`UPDATE players
			 SET pickaxe_silver = $2, pickaxe_gold = $3, pickaxe_diamond = $4, pickaxe_netherite = $5,
			     gold = $6, mining_power = $7, has_land = $8, land_purchase_date = $9,
			     last_activity = $10, last_accrual_time = $11, total_referrals = $12,
			     updated_at = $13, version = $14
			 WHERE address = $1 AND version = $15`,
			next.Address, inv.Count(domain.TierSilver), inv.Count(domain.TierGold),
			inv.Count(domain.TierDiamond), inv.Count(domain.TierNetherite),
			next.Gold, next.MiningPower, next.HasLand, next.LandPurchaseDate,
			next.LastActivity, next.LastAccrualTime, next.TotalReferrals,
			next.UpdatedAt, next.Version, w.ExpectedVersion,
		)
		if err != nil {
			return nil, classify("update player", err)
		}
		affected = tag.RowsAffected()
	}
	if affected == 0 {
		return nil, domain.ErrConflict.WithDetail("%s at version %d", next.Address, w.ExpectedVersion)
	}

	for _, e := range w.Entries {
		e.Address = next.Address
		e.Version = next.Version
		if err := r.ledger.CreateWithTx(ctx, tx, e); err != nil {
			return nil, classify("ledger", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify("commit", err)
	}
	return next, nil
}

func (r *PlayerRepository) Delete(ctx context.Context, address string, expectedVersion int64, entry *domain.LedgerEntry) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM players WHERE address = $1 AND version = $2`, address, expectedVersion)
	if err != nil {
		return classify("delete player", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict.WithDetail("%s at version %d", address, expectedVersion)
	}

	if entry != nil {
		entry.Address = address
		entry.Version = expectedVersion
		if err := r.ledger.CreateWithTx(ctx, tx, entry); err != nil {
			return classify("ledger", err)
		}
	}

	return classify("commit", tx.Commit(ctx))
}

func (r *PlayerRepository) List(ctx context.Context, p ListParams) ([]*domain.PlayerRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+playerColumns+`
		 FROM players
		 WHERE address > $1
		 ORDER BY address
		 LIMIT $2`,
		p.After, p.PageSize(),
	)
	if err != nil {
		return nil, classify("list players", err)
	}
	defer rows.Close()

	var res []*domain.PlayerRecord
	for rows.Next() {
		rec, err := scanPlayer(rows)
		if err != nil {
			return nil, classify("list players", err)
		}
		res = append(res, rec)
	}
	return res, classify("list players", rows.Err())
}

func (r *PlayerRepository) Ledger(ctx context.Context, address string, limit int) ([]*domain.LedgerEntry, error) {
	return r.ledger.GetByAddress(ctx, address, limit)
}

func (r *PlayerRepository) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE has_land),
		       COALESCE(SUM(gold), 0),
		       COALESCE(SUM(mining_power), 0),
		       COALESCE(SUM(total_referrals), 0),
		       COALESCE(SUM(pickaxe_silver + pickaxe_gold + pickaxe_diamond + pickaxe_netherite), 0)
		FROM players
	`).Scan(&s.TotalPlayers, &s.LandOwners, &s.TotalGold, &s.TotalMiningPower, &s.TotalReferrals, &s.TotalPickaxes)
	if err != nil {
		return nil, classify("stats", err)
	}
	return &s, nil
}

func (r *PlayerRepository) Ping(ctx context.Context) error {
	return classify("ping", r.db.Ping(ctx))
}

func scanPlayer(row pgx.Row) (*domain.PlayerRecord, error) {
	var rec domain.PlayerRecord
	var silver, gold, diamond, nether int64
	if err := row.Scan(
		&rec.Address,
		&silver, &gold, &diamond, &nether,
		&rec.Gold,
		&rec.MiningPower,
		&rec.HasLand,
		&rec.LandPurchaseDate,
		&rec.LastActivity,
		&rec.LastAccrualTime,
		&rec.TotalReferrals,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.Version,
	); err != nil {
		return nil, err
	}
	rec.Inventory = domain.Inventory{
		domain.TierSilver:    silver,
		domain.TierGold:      gold,
		domain.TierDiamond:   diamond,
		domain.TierNetherite: nether,
	}
	return &rec, nil
}
