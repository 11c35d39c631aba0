package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	model "github.com/kh827y/loyalty/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v5"
)

var receiptColumns = []string{"id", "merchant_id", "customer_id", "hold_id", "order_id",
	"total", "eligible_total", "redeem_applied", "earn_applied", "outlet_id", "staff_id",
	"canceled_at", "created_at"}

func (d *LoyaltyDB) scanReceipt(row pgx.Row) (model.Receipt, error) {
	var r model.Receipt
	var id, merchant, customer, hold, outlet, staff pgtype.UUID
	var canceled pgtype.Timestamptz
	err := row.Scan(&id, &merchant, &customer, &hold, &r.OrderID,
		&r.Total, &r.EligibleTotal, &r.RedeemApplied, &r.EarnApplied, &outlet, &staff,
		&canceled, &r.CreatedAt)
	if err != nil {
		return model.Receipt{}, err
	}
	r.ID = asUUID(id)
	r.MerchantID = asUUID(merchant)
	r.CustomerID = asUUID(customer)
	r.HoldID = asUUIDPtr(hold)
	r.OutletID = asUUIDPtr(outlet)
	r.StaffID = asUUIDPtr(staff)
	if canceled.Status == pgtype.Present {
		t := canceled.Time
		r.CanceledAt = &t
	}
	return r, nil
}

func (d *LoyaltyDB) ReceiptGet(ctx context.Context, id uuid.UUID) (model.Receipt, error) {
	sql, args, err := sq.Select(receiptColumns...).
		From("receipts").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return model.Receipt{}, d.sqlErr(err, sql, args)
	}
	r, err := d.scanReceipt(d.q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Receipt{}, fmt.Errorf("receipt %w", model.ErrNotFound)
		}
		return model.Receipt{}, d.sqlErr(err, sql, args)
	}
	return r, nil
}

func (d *LoyaltyDB) ReceiptGetByOrder(ctx context.Context, merchantID uuid.UUID, orderID string) (*model.Receipt, error) {
	sql, args, err := sq.Select(receiptColumns...).
		From("receipts").
		Where(sq.Eq{"merchant_id": merchantID, "order_id": orderID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	r, err := d.scanReceipt(d.q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, d.sqlErr(err, sql, args)
	}
	return &r, nil
}

func (d *LoyaltyDB) ReceiptCreate(ctx context.Context, receipt model.Receipt, items []model.ReceiptItem) error {
	sql, args, err := sq.Insert("receipts").
		Columns(receiptColumns...).
		Values(receipt.ID, receipt.MerchantID, receipt.CustomerID, receipt.HoldID, receipt.OrderID,
			receipt.Total, receipt.EligibleTotal, receipt.RedeemApplied, receipt.EarnApplied,
			receipt.OutletID, receipt.StaffID, receipt.CanceledAt, receipt.CreatedAt).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return d.sqlErr(err, sql, args)
	}
	if _, err = d.q.Exec(ctx, sql, args...); err != nil {
		return d.sqlErr(err, sql, args)
	}

	for _, it := range items {
		promos, err := json.Marshal(it.PromotionIDs)
		if err != nil {
			return err
		}
		sql, args, err = sq.Insert("receipt_items").
			Columns("id", "receipt_id", "product_id", "name", "qty", "price", "amount",
				"redeem_share", "earn_points", "promotion_ids").
			Values(it.ID, it.ReceiptID, it.ProductID, it.Name, it.Qty, it.Price, it.Amount,
				it.RedeemShare, it.EarnPoints, promos).
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return d.sqlErr(err, sql, args)
		}
		if _, err = d.q.Exec(ctx, sql, args...); err != nil {
			return d.sqlErr(err, sql, args)
		}
	}
	return nil
}

// Мягкая отмена чека: ноль строк значит, что возврат уже был
func (d *LoyaltyDB) ReceiptMarkCanceled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	sql, args, err := sq.Update("receipts").
		Set("canceled_at", at).
		Where(sq.Eq{"id": id, "canceled_at": nil}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, d.sqlErr(err, sql, args)
	}
	tag, err := d.q.Exec(ctx, sql, args...)
	if err != nil {
		return false, d.sqlErr(err, sql, args)
	}
	return tag.RowsAffected() > 0, nil
}

// Есть ли у клиента другая неотмененная покупка
func (d *LoyaltyDB) ReceiptOtherValidExists(ctx context.Context, merchantID, customerID, excludeID uuid.UUID) (bool, error) {
	sql, args, err := sq.Select("COUNT(1)").
		From("receipts").
		Where(sq.Eq{"merchant_id": merchantID, "customer_id": customerID, "canceled_at": nil}).
		Where(sq.NotEq{"id": excludeID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, d.sqlErr(err, sql, args)
	}
	var count int64
	if err = d.q.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return false, d.sqlErr(err, sql, args)
	}
	return count > 0, nil
}

// Сумма покупок за период, для прогресса уровня
func (d *LoyaltyDB) PurchaseSum(ctx context.Context, merchantID, customerID uuid.UUID, since time.Time) (int64, error) {
	sql, args, err := sq.Select("COALESCE(SUM(total), 0)").
		From("receipts").
		Where(sq.Eq{"merchant_id": merchantID, "customer_id": customerID, "canceled_at": nil}).
		Where(sq.GtOrEq{"created_at": since}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, d.sqlErr(err, sql, args)
	}
	var sum int64
	if err = d.q.QueryRow(ctx, sql, args...).Scan(&sum); err != nil {
		return 0, d.sqlErr(err, sql, args)
	}
	return sum, nil
}

func (d *LoyaltyDB) SegmentIsAll(ctx context.Context, segmentID uuid.UUID) (bool, error) {
	sql, args, err := sq.Select("is_all_customers").
		From("segments").
		Where(sq.Eq{"id": segmentID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, d.sqlErr(err, sql, args)
	}
	var isAll bool
	if err = d.q.QueryRow(ctx, sql, args...).Scan(&isAll); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, d.sqlErr(err, sql, args)
	}
	return isAll, nil
}

func (d *LoyaltyDB) SegmentHasCustomer(ctx context.Context, segmentID, customerID uuid.UUID) (bool, error) {
	sql, args, err := sq.Select("COUNT(1)").
		From("segment_customers").
		Where(sq.Eq{"segment_id": segmentID, "customer_id": customerID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, d.sqlErr(err, sql, args)
	}
	var count int64
	if err = d.q.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return false, d.sqlErr(err, sql, args)
	}
	return count > 0, nil
}

func (d *LoyaltyDB) PromoUsage(ctx context.Context, customerID uuid.UUID, promotionIDs []uuid.UUID) ([]model.PromotionParticipant, error) {
	sql, args, err := sq.Select("promotion_id", "customer_id", "purchases_count", "last_purchase_at").
		From("promotion_participants").
		Where(sq.Eq{"customer_id": customerID, "promotion_id": promotionIDs}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	rows, err := d.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	defer rows.Close()

	var participants []model.PromotionParticipant
	for rows.Next() {
		var p model.PromotionParticipant
		var promo, customer pgtype.UUID
		var last pgtype.Timestamptz
		if err = rows.Scan(&promo, &customer, &p.PurchasesCount, &last); err != nil {
			return nil, d.sqlErr(err, sql, args)
		}
		p.PromotionID = asUUID(promo)
		p.CustomerID = asUUID(customer)
		if last.Status == pgtype.Present {
			t := last.Time
			p.LastPurchaseAt = &t
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (d *LoyaltyDB) PromoUsageRecord(ctx context.Context, customerID uuid.UUID, promotionIDs []uuid.UUID, at time.Time) error {
	for _, promoID := range promotionIDs {
		sql, args, err := sq.Insert("promotion_participants").
			Columns("promotion_id", "customer_id", "purchases_count", "last_purchase_at").
			Values(promoID, customerID, 1, at).
			Suffix("ON CONFLICT (promotion_id, customer_id) DO UPDATE SET purchases_count = promotion_participants.purchases_count + 1, last_purchase_at = EXCLUDED.last_purchase_at").
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return d.sqlErr(err, sql, args)
		}
		if _, err = d.q.Exec(ctx, sql, args...); err != nil {
			return d.sqlErr(err, sql, args)
		}
	}
	return nil
}
