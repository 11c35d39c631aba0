package loyalty

import (
	"context"
	"fmt"
	"time"

	model "github.com/kh827y/loyalty/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
)

var lotColumns = []string{"id", "merchant_id", "customer_id", "points", "consumed_points",
	"earned_at", "matures_at", "expires_at", "status", "order_id", "receipt_id", "source"}

func (d *LoyaltyDB) LotCreate(ctx context.Context, lot model.EarnLot) (uuid.UUID, error) {
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}
	sql, args, err := sq.Insert("earn_lots").
		Columns(lotColumns...).
		Values(lot.ID, lot.MerchantID, lot.CustomerID, lot.Points, lot.ConsumedPoints,
			lot.EarnedAt, lot.MaturesAt, lot.ExpiresAt, lot.Status, nullStr(lot.OrderID), lot.ReceiptID, lot.Source).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return uuid.Nil, d.sqlErr(err, sql, args)
	}
	if _, err = d.q.Exec(ctx, sql, args...); err != nil {
		return uuid.Nil, d.sqlErr(err, sql, args)
	}
	return lot.ID, nil
}

func (d *LoyaltyDB) queryLots(ctx context.Context, sql string, args []any) ([]model.EarnLot, error) {
	rows, err := d.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	defer rows.Close()

	var lots []model.EarnLot
	for rows.Next() {
		var lot model.EarnLot
		var id, merchant, customer, receipt pgtype.UUID
		var orderID pgtype.Text
		var matures, expires pgtype.Timestamptz
		err = rows.Scan(&id, &merchant, &customer, &lot.Points, &lot.ConsumedPoints,
			&lot.EarnedAt, &matures, &expires, &lot.Status, &orderID, &receipt, &lot.Source)
		if err != nil {
			return nil, d.sqlErr(err, sql, args)
		}
		lot.ID = asUUID(id)
		lot.MerchantID = asUUID(merchant)
		lot.CustomerID = asUUID(customer)
		lot.ReceiptID = asUUIDPtr(receipt)
		lot.OrderID = orderID.String
		if matures.Status == pgtype.Present {
			t := matures.Time
			lot.MaturesAt = &t
		}
		if expires.Status == pgtype.Present {
			t := expires.Time
			lot.ExpiresAt = &t
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// Лоты под списание: активные, несгоревшие, старые первыми
func (d *LoyaltyDB) LotsForConsume(ctx context.Context, merchantID, customerID uuid.UUID, now time.Time) ([]model.EarnLot, error) {
	sql, args, err := sq.Select(lotColumns...).
		From("earn_lots").
		Where(sq.Eq{"merchant_id": merchantID, "customer_id": customerID, "status": model.LotActive}).
		Where(sq.Expr("consumed_points < points")).
		Where(sq.Or{sq.Eq{"expires_at": nil}, sq.Gt{"expires_at": now}}).
		OrderBy("earned_at ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	return d.queryLots(ctx, sql, args)
}

// Лоты под возврат потребления: последние потраченные первыми
func (d *LoyaltyDB) LotsForUnconsume(ctx context.Context, merchantID, customerID uuid.UUID) ([]model.EarnLot, error) {
	sql, args, err := sq.Select(lotColumns...).
		From("earn_lots").
		Where(sq.Eq{"merchant_id": merchantID, "customer_id": customerID, "status": model.LotActive}).
		Where(sq.Gt{"consumed_points": 0}).
		OrderBy("earned_at DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	return d.queryLots(ctx, sql, args)
}

// Лоты под отзыв, в первую очередь привязанные к чеку/заказу
func (d *LoyaltyDB) LotsForRevoke(ctx context.Context, merchantID, customerID uuid.UUID, orderID string, receiptID *uuid.UUID) ([]model.EarnLot, error) {
	scope := sq.Or{}
	if receiptID != nil {
		scope = append(scope, sq.Eq{"receipt_id": *receiptID})
	}
	if orderID != "" {
		scope = append(scope, sq.Eq{"order_id": orderID})
	}
	q := sq.Select(lotColumns...).
		From("earn_lots").
		Where(sq.Eq{"merchant_id": merchantID, "customer_id": customerID, "status": model.LotActive}).
		Where(sq.Expr("consumed_points < points")).
		OrderBy("earned_at DESC")
	if len(scope) > 0 {
		q = q.Where(scope)
	}
	sql, args, err := q.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	return d.queryLots(ctx, sql, args)
}

func (d *LoyaltyDB) LotsPendingByOrder(ctx context.Context, merchantID, customerID uuid.UUID, orderID string) ([]model.EarnLot, error) {
	sql, args, err := sq.Select(lotColumns...).
		From("earn_lots").
		Where(sq.Eq{"merchant_id": merchantID, "customer_id": customerID, "order_id": orderID, "status": model.LotPending}).
		OrderBy("earned_at ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	return d.queryLots(ctx, sql, args)
}

// Смещение потребленного с защитой инварианта 0 <= consumed <= points
func (d *LoyaltyDB) LotAddConsumed(ctx context.Context, id uuid.UUID, delta int64) error {
	sql, args, err := sq.Update("earn_lots").
		Set("consumed_points", sq.Expr("consumed_points + ?", delta)).
		Where(sq.Eq{"id": id}).
		Where(sq.Expr("consumed_points + ? >= 0", delta)).
		Where(sq.Expr("consumed_points + ? <= points", delta)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return d.sqlErr(err, sql, args)
	}
	tag, err := d.q.Exec(ctx, sql, args...)
	if err != nil {
		return d.sqlErr(err, sql, args)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lot %s consumed out of range: %w", id, model.ErrConflict)
	}
	return nil
}

func (d *LoyaltyDB) LotActivate(ctx context.Context, id uuid.UUID, earnedAt time.Time) error {
	sql, args, err := sq.Update("earn_lots").
		Set("status", model.LotActive).
		Set("earned_at", earnedAt).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return d.sqlErr(err, sql, args)
	}
	if _, err = d.q.Exec(ctx, sql, args...); err != nil {
		return d.sqlErr(err, sql, args)
	}
	return nil
}

func (d *LoyaltyDB) LotsSetReceipt(ctx context.Context, ids []uuid.UUID, receiptID uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	sql, args, err := sq.Update("earn_lots").
		Set("receipt_id", receiptID).
		Where(sq.Eq{"id": ids}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return d.sqlErr(err, sql, args)
	}
	if _, err = d.q.Exec(ctx, sql, args...); err != nil {
		return d.sqlErr(err, sql, args)
	}
	return nil
}

// Отложенные лоты, дозревшие к моменту now
func (d *LoyaltyDB) LotsPendingDue(ctx context.Context, now time.Time, limit int) ([]model.EarnLot, error) {
	sql, args, err := sq.Select(lotColumns...).
		From("earn_lots").
		Where(sq.Eq{"status": model.LotPending}).
		Where(sq.LtOrEq{"matures_at": now}).
		OrderBy("matures_at ASC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	return d.queryLots(ctx, sql, args)
}

// Активные лоты с истекшим сроком и непотраченным остатком
func (d *LoyaltyDB) LotsExpiredDue(ctx context.Context, now time.Time, limit int) ([]model.EarnLot, error) {
	sql, args, err := sq.Select(lotColumns...).
		From("earn_lots").
		Where(sq.Eq{"status": model.LotActive}).
		Where(sq.LtOrEq{"expires_at": now}).
		Where(sq.Expr("consumed_points < points")).
		OrderBy("expires_at ASC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	return d.queryLots(ctx, sql, args)
}
