package loyalty

import (
	"context"
	"errors"
	"fmt"

	model "github.com/kh827y/loyalty/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v5"
)

var tierColumns = []string{"id", "merchant_id", "name", "threshold_amount", "earn_rate_bps",
	"redeem_rate_bps", "min_payment_amount", "is_initial", "is_hidden"}

func (d *LoyaltyDB) scanTier(row pgx.Row) (model.Tier, error) {
	var t model.Tier
	var id, merchant pgtype.UUID
	var minPayment pgtype.Int8
	err := row.Scan(&id, &merchant, &t.Name, &t.ThresholdAmount, &t.EarnRateBps,
		&t.RedeemRateBps, &minPayment, &t.IsInitial, &t.IsHidden)
	if err != nil {
		return model.Tier{}, err
	}
	t.ID = asUUID(id)
	t.MerchantID = asUUID(merchant)
	if minPayment.Status == pgtype.Present {
		v := minPayment.Int
		t.MinPaymentAmount = &v
	}
	return t, nil
}

// Уровни мерчанта по возрастанию порога
func (d *LoyaltyDB) TierList(ctx context.Context, merchantID uuid.UUID) ([]model.Tier, error) {
	sql, args, err := sq.Select(tierColumns...).
		From("tiers").
		Where(sq.Eq{"merchant_id": merchantID}).
		OrderBy("threshold_amount ASC").
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

	var tiers []model.Tier
	for rows.Next() {
		t, err := d.scanTier(rows)
		if err != nil {
			return nil, d.sqlErr(err, sql, args)
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

func (d *LoyaltyDB) TierGet(ctx context.Context, id uuid.UUID) (model.Tier, error) {
	sql, args, err := sq.Select(tierColumns...).
		From("tiers").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return model.Tier{}, d.sqlErr(err, sql, args)
	}
	t, err := d.scanTier(d.q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Tier{}, fmt.Errorf("tier %w", model.ErrNotFound)
		}
		return model.Tier{}, d.sqlErr(err, sql, args)
	}
	return t, nil
}

func (d *LoyaltyDB) TierInitial(ctx context.Context, merchantID uuid.UUID) (*model.Tier, error) {
	sql, args, err := sq.Select(tierColumns...).
		From("tiers").
		Where(sq.Eq{"merchant_id": merchantID, "is_initial": true}).
		Limit(1).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}
	t, err := d.scanTier(d.q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, d.sqlErr(err, sql, args)
	}
	return &t, nil
}

// Последнее назначение уровня клиенту
func (d *LoyaltyDB) AssignmentCurrent(ctx context.Context, merchantID, customerID uuid.UUID) (*model.TierAssignment, error) {
	sql, args, err := sq.Select("id", "merchant_id", "customer_id", "tier_id", "source", "assigned_at", "expires_at").
		From("tier_assignments").
		Where(sq.Eq{"merchant_id": merchantID, "customer_id": customerID}).
		OrderBy("assigned_at DESC").
		Limit(1).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, d.sqlErr(err, sql, args)
	}

	var a model.TierAssignment
	var id, merchant, customer, tier pgtype.UUID
	var expires pgtype.Timestamptz
	row := d.q.QueryRow(ctx, sql, args...)
	err = row.Scan(&id, &merchant, &customer, &tier, &a.Source, &a.AssignedAt, &expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, d.sqlErr(err, sql, args)
	}
	a.ID = asUUID(id)
	a.MerchantID = asUUID(merchant)
	a.CustomerID = asUUID(customer)
	a.TierID = asUUID(tier)
	if expires.Status == pgtype.Present {
		t := expires.Time
		a.ExpiresAt = &t
	}
	return &a, nil
}

func (d *LoyaltyDB) AssignmentUpsert(ctx context.Context, a model.TierAssignment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	sql, args, err := sq.Insert("tier_assignments").
		Columns("id", "merchant_id", "customer_id", "tier_id", "source", "assigned_at", "expires_at").
		Values(a.ID, a.MerchantID, a.CustomerID, a.TierID, a.Source, a.AssignedAt, a.ExpiresAt).
		Suffix("ON CONFLICT (merchant_id, customer_id) DO UPDATE SET tier_id = EXCLUDED.tier_id, source = EXCLUDED.source, assigned_at = EXCLUDED.assigned_at, expires_at = EXCLUDED.expires_at").
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
