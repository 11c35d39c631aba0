package loyalty

import (
	"context"
	"fmt"
	"os"

	interf "github.com/kh827y/loyalty/internal/interfaces"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type LoyaltyDB struct {
	logger *zap.Logger
	pool   *pgxpool.Pool
	q      querier
}

// пул вне транзакции, pgx.Tx внутри
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func NewLoyaltyDB(logger *zap.Logger) (*LoyaltyDB, error) {
	// config
	purl := os.Getenv("LOYALTY_DB")
	if purl == "" {
		return nil, fmt.Errorf("env LOYALTY_DB is not set")
	}
	port := os.Getenv("LOYALTY_DB_PORT")
	if port == "" {
		return nil, fmt.Errorf("env LOYALTY_DB_PORT is not set")
	}
	user := os.Getenv("LOYALTY_DB_USER")
	if user == "" {
		return nil, fmt.Errorf("env LOYALTY_DB_USER is not set")
	}
	password := os.Getenv("LOYALTY_DB_PASSWORD")
	if password == "" {
		return nil, fmt.Errorf("env LOYALTY_DB_PASSWORD is not set")
	}
	database := os.Getenv("LOYALTY_DB_BASE")
	if database == "" {
		return nil, fmt.Errorf("env LOYALTY_DB_BASE is not set")
	}
	dsn := "postgres://" + user + ":" + password + "@" + purl + ":" + port + "/" + database

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &LoyaltyDB{logger: logger, pool: pool, q: pool}, nil
}

// Выполнение fn в одной транзакции. Вложенный вызов переиспользует
// открытую транзакцию.
func (d *LoyaltyDB) WithTx(ctx context.Context, fn func(ctx context.Context, tx interf.Storage) error) error {
	if _, ok := d.q.(pgx.Tx); ok {
		return fn(ctx, d)
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	txdb := &LoyaltyDB{logger: d.logger, pool: d.pool, q: tx}
	if err = fn(ctx, txdb); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (d *LoyaltyDB) Close() {
	d.pool.Close()
}

func (d *LoyaltyDB) sqlErr(err error, sql string, args []any) error {
	d.logger.Error("SQL error",
		zap.Error(err),
		zap.String("query", sql),
		zap.Any("args", args),
	)
	return err
}

func asUUID(pg pgtype.UUID) uuid.UUID {
	u, _ := uuid.FromBytes(pg.Bytes[:])
	return u
}

func asUUIDPtr(pg pgtype.UUID) *uuid.UUID {
	if pg.Status != pgtype.Present {
		return nil
	}
	u := asUUID(pg)
	return &u
}
