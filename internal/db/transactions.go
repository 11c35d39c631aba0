package loyalty

import (
	"context"
	"errors"
	"time"

	model "github.com/kh827y/loyalty/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v5"
)

var tnxColumns = []string{"id", "merchant_id", "customer_id", "wallet_id", "type", "amount",
	"order_id", "receipt_id", "outlet_id", "staff_id", "device_id", "note", "created_at"}

func (d *LoyaltyDB) TnxCreate(ctx context.Context, tnx model.Transaction) (uuid.UUID, error) {
	if tnx.ID == uuid.Nil {
		tnx.ID = uuid.New()
	}
	if tnx.CreatedAt.IsZero() {
		tnx.CreatedAt = time.Now()
	}
	sql, args, err := sq.Insert("transactions").
		Columns(tnxColumns...).
		Values(tnx.ID, tnx.MerchantID, tnx.CustomerID, tnx.WalletID, tnx.Type, tnx.Amount,
			tnx.OrderID, tnx.ReceiptID, tnx.OutletID, tnx.StaffID, tnx.DeviceID, tnx.Note, tnx.CreatedAt).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return uuid.Nil, d.sqlErr(err, sql, args)
	}
	if _, err = d.q.Exec(ctx, sql, args...); err != nil {
		return uuid.Nil, d.sqlErr(err, sql, args)
	}
	return tnx.ID, nil
}

func (d *LoyaltyDB) scanTnx(row pgx.Row) (model.Transaction, error) {
	var t model.Transaction
	var id, merchant, customer, wallet, receipt, outlet, staff pgtype.UUID
	var orderID, deviceID, note pgtype.Text
	err := row.Scan(&id, &merchant, &customer, &wallet, &t.Type, &t.Amount,
		&orderID, &receipt, &outlet, &staff, &deviceID, &note, &t.CreatedAt)
	if err != nil {
		return model.Transaction{}, err
	}
	t.ID = asUUID(id)
	t.MerchantID = asUUID(merchant)
	t.CustomerID = asUUID(customer)
	t.WalletID = asUUID(wallet)
	t.ReceiptID = asUUIDPtr(receipt)
	t.OutletID = asUUIDPtr(outlet)
	t.StaffID = asUUIDPtr(staff)
	t.OrderID = orderID.String
	t.DeviceID = deviceID.String
	t.Note = note.String
	return t, nil
}

// Последняя транзакция типа по заказу, для кулдаунов
func (d *LoyaltyDB) TnxLast(ctx context.Context, merchantID, customerID uuid.UUID, tnxType string) (*model.Transaction, error) {
	sql, args, err := sq.Select(tnxColumns...).
		From("transactions").
		Where(sq.Eq{"merchant_id": merchantID, "customer_id": customerID, "type": tnxType}).
		Where(sq.NotEq{"order_id": ""}).
		OrderBy("created_at DESC").
		Limit(1).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	t, err := d.scanTnx(d.q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, d.sqlErr(err, sql, args)
	}
	return &t, nil
}

// Сумма за окно, для суточных лимитов. Технические записи без
// заказа (сгорание) в лимиты не попадают.
func (d *LoyaltyDB) TnxSumSince(ctx context.Context, merchantID, customerID uuid.UUID, tnxType string, since time.Time) (int64, error) {
	sql, args, err := sq.Select("COALESCE(SUM(amount), 0)").
		From("transactions").
		Where(sq.Eq{"merchant_id": merchantID, "customer_id": customerID, "type": tnxType}).
		Where(sq.NotEq{"order_id": ""}).
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

func (d *LoyaltyDB) queryTnxs(ctx context.Context, sql string, args []any) ([]model.Transaction, error) {
	rows, err := d.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	defer rows.Close()

	var tnxs []model.Transaction
	for rows.Next() {
		t, err := d.scanTnx(rows)
		if err != nil {
			return nil, d.sqlErr(err, sql, args)
		}
		tnxs = append(tnxs, t)
	}
	return tnxs, rows.Err()
}

func (d *LoyaltyDB) TnxByOrder(ctx context.Context, merchantID uuid.UUID, orderID string, tnxType string) ([]model.Transaction, error) {
	sql, args, err := sq.Select(tnxColumns...).
		From("transactions").
		Where(sq.Eq{"merchant_id": merchantID, "order_id": orderID, "type": tnxType}).
		OrderBy("created_at ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	return d.queryTnxs(ctx, sql, args)
}

func (d *LoyaltyDB) TnxByReceipt(ctx context.Context, merchantID, receiptID uuid.UUID, tnxType string) ([]model.Transaction, error) {
	sql, args, err := sq.Select(tnxColumns...).
		From("transactions").
		Where(sq.Eq{"merchant_id": merchantID, "receipt_id": receiptID, "type": tnxType}).
		OrderBy("created_at ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	return d.queryTnxs(ctx, sql, args)
}

// История операций клиента, курсор по createdAt вниз
func (d *LoyaltyDB) TnxList(ctx context.Context, merchantID, customerID uuid.UUID, before time.Time, limit int) ([]model.Transaction, error) {
	sql, args, err := sq.Select(tnxColumns...).
		From("transactions").
		Where(sq.Eq{"merchant_id": merchantID, "customer_id": customerID}).
		Where(sq.Lt{"created_at": before}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	return d.queryTnxs(ctx, sql, args)
}
