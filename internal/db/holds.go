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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

var holdColumns = []string{"id", "merchant_id", "customer_id", "mode", "status", "order_id",
	"total", "eligible_total", "redeem_amount", "earn_points", "qr_jti", "expires_at",
	"outlet_id", "staff_id", "device_id", "receipt_id", "created_at"}

func (d *LoyaltyDB) HoldCreate(ctx context.Context, hold model.Hold, items []model.HoldItem) error {
	sql, args, err := sq.Insert("holds").
		Columns(holdColumns...).
		Values(hold.ID, hold.MerchantID, hold.CustomerID, hold.Mode, hold.Status, nullStr(hold.OrderID),
			hold.Total, hold.EligibleTotal, hold.RedeemAmount, hold.EarnPoints, nullStr(hold.QrJti), hold.ExpiresAt,
			hold.OutletID, hold.StaffID, hold.DeviceID, hold.ReceiptID, hold.CreatedAt).
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
		sql, args, err = sq.Insert("hold_items").
			Columns("id", "hold_id", "product_id", "external_id", "name", "qty", "price", "base_price",
				"amount", "redeem_share", "earn_points", "base_points", "promo_bonus", "promotion_ids",
				"accrue_points", "allow_redeem").
			Values(it.ID, it.HoldID, it.ProductID, it.ExternalID, it.Name, it.Qty, it.Price, it.BasePrice,
				it.Amount, it.RedeemShare, it.EarnPoints, it.BasePoints, it.PromoBonus, promos,
				it.AccruePoints, it.AllowRedeem).
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

func (d *LoyaltyDB) scanHold(row pgx.Row) (model.Hold, error) {
	var h model.Hold
	var id, merchant, customer, outlet, staff, receipt pgtype.UUID
	var orderID, qrJti, deviceID pgtype.Text
	var expires pgtype.Timestamptz
	err := row.Scan(&id, &merchant, &customer, &h.Mode, &h.Status, &orderID,
		&h.Total, &h.EligibleTotal, &h.RedeemAmount, &h.EarnPoints, &qrJti, &expires,
		&outlet, &staff, &deviceID, &receipt, &h.CreatedAt)
	if err != nil {
		return model.Hold{}, err
	}
	h.ID = asUUID(id)
	h.MerchantID = asUUID(merchant)
	h.CustomerID = asUUID(customer)
	h.OutletID = asUUIDPtr(outlet)
	h.StaffID = asUUIDPtr(staff)
	h.ReceiptID = asUUIDPtr(receipt)
	h.OrderID = orderID.String
	h.QrJti = qrJti.String
	h.DeviceID = deviceID.String
	if expires.Status == pgtype.Present {
		t := expires.Time
		h.ExpiresAt = &t
	}
	return h, nil
}

func (d *LoyaltyDB) HoldGet(ctx context.Context, id uuid.UUID) (model.Hold, error) {
	sql, args, err := sq.Select(holdColumns...).
		From("holds").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return model.Hold{}, d.sqlErr(err, sql, args)
	}
	h, err := d.scanHold(d.q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Hold{}, fmt.Errorf("hold %w", model.ErrNotFound)
		}
		return model.Hold{}, d.sqlErr(err, sql, args)
	}
	return h, nil
}

func (d *LoyaltyDB) HoldGetByJti(ctx context.Context, jti uuid.UUID) (*model.Hold, error) {
	sql, args, err := sq.Select(holdColumns...).
		From("holds").
		Where(sq.Eq{"qr_jti": jti.String()}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	h, err := d.scanHold(d.q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, d.sqlErr(err, sql, args)
	}
	return &h, nil
}

func (d *LoyaltyDB) HoldFindEarnByOrder(ctx context.Context, merchantID, customerID uuid.UUID, orderID string) (*model.Hold, error) {
	sql, args, err := sq.Select(holdColumns...).
		From("holds").
		Where(sq.Eq{
			"merchant_id": merchantID,
			"customer_id": customerID,
			"order_id":    orderID,
			"mode":        model.ModeEarn,
			"status":      model.HoldPending,
		}).
		Limit(1).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	h, err := d.scanHold(d.q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, d.sqlErr(err, sql, args)
	}
	return &h, nil
}

func (d *LoyaltyDB) HoldItems(ctx context.Context, holdID uuid.UUID) ([]model.HoldItem, error) {
	sql, args, err := sq.Select("id", "hold_id", "product_id", "external_id", "name", "qty", "price",
		"base_price", "amount", "redeem_share", "earn_points", "base_points", "promo_bonus",
		"promotion_ids", "accrue_points", "allow_redeem").
		From("hold_items").
		Where(sq.Eq{"hold_id": holdID}).
		OrderBy("id").
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

	var items []model.HoldItem
	for rows.Next() {
		var it model.HoldItem
		var id, hold, product pgtype.UUID
		var external, name pgtype.Text
		var qty, price float64
		var basePrice pgtype.Float8
		var promos []byte
		err = rows.Scan(&id, &hold, &product, &external, &name, &qty, &price,
			&basePrice, &it.Amount, &it.RedeemShare, &it.EarnPoints, &it.BasePoints, &it.PromoBonus,
			&promos, &it.AccruePoints, &it.AllowRedeem)
		if err != nil {
			return nil, d.sqlErr(err, sql, args)
		}
		it.ID = asUUID(id)
		it.HoldID = asUUID(hold)
		it.ProductID = asUUIDPtr(product)
		it.ExternalID = external.String
		it.Name = name.String
		it.Qty = decimal.NewFromFloat(qty)
		it.Price = decimal.NewFromFloat(price)
		if basePrice.Status == pgtype.Present {
			bp := decimal.NewFromFloat(basePrice.Float)
			it.BasePrice = &bp
		}
		if len(promos) > 0 {
			if err = json.Unmarshal(promos, &it.PromotionIDs); err != nil {
				return nil, err
			}
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Захват холда: единственный арбитр гонки коммитов
func (d *LoyaltyDB) HoldClaim(ctx context.Context, id uuid.UUID, orderID string) (bool, error) {
	sql, args, err := sq.Update("holds").
		Set("status", model.HoldCommitted).
		Set("order_id", orderID).
		Where(sq.Eq{"id": id, "status": model.HoldPending}).
		Where(sq.Or{sq.Eq{"order_id": nil}, sq.Eq{"order_id": orderID}}).
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

func (d *LoyaltyDB) HoldCancel(ctx context.Context, id uuid.UUID) (bool, error) {
	sql, args, err := sq.Update("holds").
		Set("status", model.HoldCanceled).
		Set("qr_jti", nil).
		Where(sq.Eq{"id": id, "status": model.HoldPending}).
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

func (d *LoyaltyDB) HoldSetReceipt(ctx context.Context, id, receiptID uuid.UUID) error {
	sql, args, err := sq.Update("holds").
		Set("receipt_id", receiptID).
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

func (d *LoyaltyDB) NonceGet(ctx context.Context, jti uuid.UUID) (*model.QrNonce, error) {
	sql, args, err := sq.Select("jti", "merchant_id", "customer_id", "short_code", "issued_at", "expires_at", "used_at").
		From("qr_nonces").
		Where(sq.Eq{"jti": jti}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}

	var n model.QrNonce
	var id, merchant, customer pgtype.UUID
	var expires, used pgtype.Timestamptz
	row := d.q.QueryRow(ctx, sql, args...)
	err = row.Scan(&id, &merchant, &customer, &n.ShortCode, &n.IssuedAt, &expires, &used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, d.sqlErr(err, sql, args)
	}
	n.Jti = asUUID(id)
	n.MerchantID = asUUID(merchant)
	n.CustomerID = asUUID(customer)
	if expires.Status == pgtype.Present {
		t := expires.Time
		n.ExpiresAt = &t
	}
	if used.Status == pgtype.Present {
		t := used.Time
		n.UsedAt = &t
	}
	return &n, nil
}

// Вставка погашенного кода. Конфликт уникальности значит, что код
// уже погасил параллельный запрос.
func (d *LoyaltyDB) NonceInsertUsed(ctx context.Context, nonce model.QrNonce) (bool, error) {
	sql, args, err := sq.Insert("qr_nonces").
		Columns("jti", "merchant_id", "customer_id", "short_code", "issued_at", "expires_at", "used_at").
		Values(nonce.Jti, nonce.MerchantID, nonce.CustomerID, nonce.ShortCode, nonce.IssuedAt, nonce.ExpiresAt, nonce.UsedAt).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return false, d.sqlErr(err, sql, args)
	}
	if _, err = d.q.Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, d.sqlErr(err, sql, args)
	}
	return true, nil
}

func (d *LoyaltyDB) NonceMarkUsed(ctx context.Context, jti uuid.UUID, at time.Time) (bool, error) {
	sql, args, err := sq.Update("qr_nonces").
		Set("used_at", at).
		Where(sq.Eq{"jti": jti, "used_at": nil}).
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

// Освобождение кода: короткий переиспользуется, длинный удаляется
func (d *LoyaltyDB) NonceRelease(ctx context.Context, jti uuid.UUID, shortCode bool) error {
	var sql string
	var args []any
	var err error
	if shortCode {
		sql, args, err = sq.Update("qr_nonces").
			Set("used_at", nil).
			Where(sq.Eq{"jti": jti}).
			PlaceholderFormat(sq.Dollar).
			ToSql()
	} else {
		sql, args, err = sq.Delete("qr_nonces").
			Where(sq.Eq{"jti": jti}).
			PlaceholderFormat(sq.Dollar).
			ToSql()
	}
	if err != nil {
		return d.sqlErr(err, sql, args)
	}
	if _, err = d.q.Exec(ctx, sql, args...); err != nil {
		return d.sqlErr(err, sql, args)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
