package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	model "github.com/kh827y/loyalty/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v5"
)

func (d *LoyaltyDB) CustomerGet(ctx context.Context, merchantID, customerID uuid.UUID) (model.Customer, error) {
	sql, args, err := sq.Select("id", "merchant_id", "name", "accruals_blocked", "redemptions_blocked", "created_at").
		From("customers").
		Where(sq.Eq{"id": customerID, "merchant_id": merchantID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return model.Customer{}, d.sqlErr(err, sql, args)
	}

	var c model.Customer
	var id, merchant pgtype.UUID
	row := d.q.QueryRow(ctx, sql, args...)
	err = row.Scan(&id, &merchant, &c.Name, &c.AccrualsBlocked, &c.RedemptionsBlocked, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Customer{}, fmt.Errorf("customer %w", model.ErrNotFound)
		}
		return model.Customer{}, d.sqlErr(err, sql, args)
	}
	c.ID = asUUID(id)
	c.MerchantID = asUUID(merchant)
	return c, nil
}

func (d *LoyaltyDB) SettingsGet(ctx context.Context, merchantID uuid.UUID) (model.MerchantSettings, error) {
	sql, args, err := sq.Select("merchant_id", "earn_bps", "redeem_limit_bps",
		"redeem_cooldown_sec", "earn_cooldown_sec", "redeem_daily_cap", "earn_daily_cap",
		"earn_delay_days", "points_ttl_days", "promo_points_ttl_days", "allow_same_receipt").
		From("merchant_settings").
		Where(sq.Eq{"merchant_id": merchantID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return model.MerchantSettings{}, d.sqlErr(err, sql, args)
	}

	var s model.MerchantSettings
	var merchant pgtype.UUID
	var redeemCooldown, earnCooldown int64
	row := d.q.QueryRow(ctx, sql, args...)
	err = row.Scan(&merchant, &s.EarnBps, &s.RedeemLimitBps,
		&redeemCooldown, &earnCooldown, &s.RedeemDailyCap, &s.EarnDailyCap,
		&s.EarnDelayDays, &s.PointsTTLDays, &s.PromoPointsTTLDays, &s.AllowEarnRedeemSameReceipt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// мерчант без настроек живет на нулевых ставках
			return model.MerchantSettings{MerchantID: merchantID}, nil
		}
		return model.MerchantSettings{}, d.sqlErr(err, sql, args)
	}
	s.MerchantID = asUUID(merchant)
	s.RedeemCooldown = time.Duration(redeemCooldown) * time.Second
	s.EarnCooldown = time.Duration(earnCooldown) * time.Second
	return s, nil
}

func (d *LoyaltyDB) ProductsFind(ctx context.Context, merchantID uuid.UUID, ids []uuid.UUID, externalIDs []string) ([]model.Product, error) {
	if len(ids) == 0 && len(externalIDs) == 0 {
		return nil, nil
	}
	match := sq.Or{}
	if len(ids) > 0 {
		match = append(match, sq.Eq{"id": ids})
	}
	if len(externalIDs) > 0 {
		match = append(match, sq.Eq{"external_id": externalIDs})
	}
	sql, args, err := sq.Select("id", "merchant_id", "external_id", "name", "category_id",
		"accrue_points", "allow_redeem", "redeem_percent").
		From("products").
		Where(sq.Eq{"merchant_id": merchantID}).
		Where(match).
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

	var products []model.Product
	for rows.Next() {
		var p model.Product
		var id, merchant, category pgtype.UUID
		var external pgtype.Text
		if err = rows.Scan(&id, &merchant, &external, &p.Name, &category, &p.AccruePoints, &p.AllowRedeem, &p.RedeemPercent); err != nil {
			return nil, d.sqlErr(err, sql, args)
		}
		p.ID = asUUID(id)
		p.MerchantID = asUUID(merchant)
		p.ExternalID = external.String
		p.CategoryID = asUUIDPtr(category)
		products = append(products, p)
	}
	return products, rows.Err()
}

func (d *LoyaltyDB) WalletGet(ctx context.Context, merchantID, customerID uuid.UUID) (model.Wallet, error) {
	sql, args, err := sq.Select("id", "merchant_id", "customer_id", "balance", "updated_at").
		From("wallets").
		Where(sq.Eq{"merchant_id": merchantID, "customer_id": customerID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return model.Wallet{}, d.sqlErr(err, sql, args)
	}

	var w model.Wallet
	var id, merchant, customer pgtype.UUID
	row := d.q.QueryRow(ctx, sql, args...)
	err = row.Scan(&id, &merchant, &customer, &w.Balance, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Wallet{}, fmt.Errorf("wallet %w", model.ErrNotFound)
		}
		return model.Wallet{}, d.sqlErr(err, sql, args)
	}
	w.ID = asUUID(id)
	w.MerchantID = asUUID(merchant)
	w.CustomerID = asUUID(customer)
	return w, nil
}

// Счет создается лениво при первом обращении
func (d *LoyaltyDB) WalletEnsure(ctx context.Context, merchantID, customerID uuid.UUID) (model.Wallet, error) {
	wallet, err := d.WalletGet(ctx, merchantID, customerID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Wallet{}, err
	}

	sql, args, err := sq.Insert("wallets").
		Columns("id", "merchant_id", "customer_id", "balance", "updated_at").
		Values(uuid.New(), merchantID, customerID, 0, time.Now()).
		Suffix("ON CONFLICT (merchant_id, customer_id) DO NOTHING").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return model.Wallet{}, d.sqlErr(err, sql, args)
	}
	if _, err = d.q.Exec(ctx, sql, args...); err != nil {
		return model.Wallet{}, d.sqlErr(err, sql, args)
	}
	return d.WalletGet(ctx, merchantID, customerID)
}

func (d *LoyaltyDB) WalletCredit(ctx context.Context, walletID uuid.UUID, amount int64) error {
	sql, args, err := sq.Update("wallets").
		Set("balance", sq.Expr("balance + ?", amount)).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": walletID}).
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
		return fmt.Errorf("wallet %w", model.ErrNotFound)
	}
	return nil
}

// Условное списание: ноль строк значит, что баланса не хватило
func (d *LoyaltyDB) WalletDebitIf(ctx context.Context, walletID uuid.UUID, amount int64) (bool, error) {
	sql, args, err := sq.Update("wallets").
		Set("balance", sq.Expr("balance - ?", amount)).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": walletID}).
		Where(sq.GtOrEq{"balance": amount}).
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
