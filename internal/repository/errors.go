package repository

import (
	"context"
	"errors"
	"net"
	"strings"

	"idle_mining/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"
	redis "github.com/redis/go-redis/v9"
)

const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"

	ledgerEventKeyIndex = "player_ledger_event_key_idx"
)

// SQLSTATE prefixes that mean the server cannot serve right now:
// connection exception, insufficient resources, operator intervention.
var unavailableClasses = []string{"08", "53", "57P"}

func unavailableClass(code string) bool {
	for _, prefix := range unavailableClasses {
		if strings.HasPrefix(code, prefix) {
			return true
		}
	}
	return false
}

// classify maps a backend error onto the domain taxonomy. Typed domain
// errors and caller cancellation pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Unavailable(op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeCheckViolation:
			return domain.ErrInvariantViolation.WithDetail("%s: constraint %s", op, pgErr.ConstraintName)
		case unavailableClass(pgErr.Code):
			return domain.Unavailable(op, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return domain.Unavailable(op, err)
	}
	if errors.Is(err, puddle.ErrClosedPool) || errors.Is(err, redis.ErrClosed) {
		return domain.Unavailable(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.Unavailable(op, err)
	}
	return err
}
