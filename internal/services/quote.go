package loyalty

import (
	"context"
	"fmt"
	"time"

	interf "github.com/kh827y/loyalty/internal/interfaces"
	model "github.com/kh827y/loyalty/internal/models"

	"github.com/google/uuid"
)

const holdTTL = 15 * time.Minute

type QuoteRequest struct {
	MerchantID uuid.UUID
	CustomerID uuid.UUID
	Mode       string
	OrderID    string
	Items      []RawItem
	RedeemCap  int64 // ручной потолок списания, 0 - без ограничения
	OutletID   *uuid.UUID
	StaffID    *uuid.UUID
	DeviceID   string
	DryRun     bool // только расчет, холд не создается
}

// Одноразовый код, предъявленный кассой
type QrMeta struct {
	Jti       uuid.UUID
	ShortCode bool
	ExpiresAt *time.Time
}

type QuoteResult struct {
	HoldID          *uuid.UUID
	Declined        bool
	Reason          string
	CanRedeem       bool
	CanEarn         bool
	Total           int64
	EligibleTotal   int64
	DiscountToApply int64
	PointsToBurn    int64
	PointsToEarn    int64
	FinalPayable    int64
}

// Расчет предложения по продаже. Для одноразовых кодов повторный
// запрос детерминированно возвращает тот же холд.
func (s *LoyaltyService) Quote(ctx context.Context, req QuoteRequest, qr *QrMeta) (QuoteResult, error) {
	if req.Mode != model.ModeEarn && req.Mode != model.ModeRedeem {
		return QuoteResult{}, fmt.Errorf("%w: unknown mode %q", model.ErrValidation, req.Mode)
	}
	if len(req.Items) == 0 {
		return QuoteResult{}, fmt.Errorf("%w: empty items", model.ErrValidation)
	}

	customer, err := s.db.CustomerGet(ctx, req.MerchantID, req.CustomerID)
	if err != nil {
		return QuoteResult{}, err
	}
	if req.Mode == model.ModeEarn && customer.AccrualsBlocked {
		return QuoteResult{Declined: true, Reason: model.DeclineAccrualsBlocked}, nil
	}
	if req.Mode == model.ModeRedeem && customer.RedemptionsBlocked {
		return QuoteResult{Declined: true, Reason: model.DeclineRedemptionsBlocked}, nil
	}

	// одноразовый код гасится до открытия транзакции: проигравший
	// гонку дубль увидит чужой холд и вернет тот же расчет
	if qr != nil {
		replay, err := s.claimQr(ctx, req, *qr)
		if err != nil {
			return QuoteResult{}, err
		}
		if replay != nil {
			return *replay, nil
		}
	}

	settings, err := s.db.SettingsGet(ctx, req.MerchantID)
	if err != nil {
		return QuoteResult{}, err
	}
	rates := s.ResolveRates(ctx, req.MerchantID, req.CustomerID)

	now := time.Now()
	rules, err := s.LoadActiveRules(ctx, req.MerchantID, now)
	if err != nil {
		return QuoteResult{}, err
	}
	customerID := req.CustomerID
	rules, err = s.FilterForCustomer(ctx, rules, &customerID, now)
	if err != nil {
		return QuoteResult{}, err
	}

	positions, err := s.ResolvePositions(ctx, req.MerchantID, req.Items, rules)
	if err != nil {
		return QuoteResult{}, err
	}
	var total, eligible int64
	for _, p := range positions {
		total += p.Amount
		if p.AllowRedeem {
			eligible += p.Amount
		}
	}

	var result QuoteResult
	var plans []ItemPlan
	if req.Mode == model.ModeRedeem {
		result, plans, err = s.quoteRedeem(ctx, req, customer, settings, rates, positions, total, eligible)
	} else {
		result, plans, err = s.quoteEarn(ctx, req, settings, rates, positions, total, eligible)
	}
	if err != nil {
		return result, err
	}
	if result.Declined || req.DryRun {
		// расчет без холда не должен сжигать код
		if qr != nil {
			_ = s.db.NonceRelease(ctx, qr.Jti, qr.ShortCode)
		}
		return result, nil
	}

	hold := model.Hold{
		ID:            uuid.New(),
		MerchantID:    req.MerchantID,
		CustomerID:    req.CustomerID,
		Mode:          req.Mode,
		Status:        model.HoldPending,
		OrderID:       req.OrderID,
		Total:         total,
		EligibleTotal: eligible,
		RedeemAmount:  result.DiscountToApply,
		OutletID:      req.OutletID,
		StaffID:       req.StaffID,
		DeviceID:      req.DeviceID,
		CreatedAt:     time.Now(),
	}
	expires := time.Now().Add(holdTTL)
	if qr != nil {
		hold.QrJti = qr.Jti.String()
		if qr.ExpiresAt != nil {
			expires = *qr.ExpiresAt
		}
	}
	hold.ExpiresAt = &expires

	items := make([]model.HoldItem, 0, len(positions))
	for i, p := range positions {
		plan := plans[i]
		hold.EarnPoints += plan.BasePoints
		item := model.HoldItem{
			ID:           uuid.New(),
			HoldID:       hold.ID,
			ProductID:    p.ProductID,
			ExternalID:   p.ExternalID,
			Name:         p.Name,
			Qty:          p.Qty,
			Price:        p.Price,
			BasePrice:    p.BasePrice,
			Amount:       p.Amount,
			RedeemShare:  plan.RedeemShare,
			EarnPoints:   plan.EarnPoints,
			BasePoints:   plan.BasePoints,
			PromoBonus:   plan.PromoBonus,
			PromotionIDs: p.PromotionIDs,
			AccruePoints: p.AccruePoints,
			AllowRedeem:  p.AllowRedeem,
		}
		if plan.PromoID != nil {
			item.PromotionIDs = append(item.PromotionIDs, *plan.PromoID)
		}
		items = append(items, item)
	}

	err = s.db.WithTx(ctx, func(ctx context.Context, tx interf.Storage) error {
		return tx.HoldCreate(ctx, hold, items)
	})
	if err != nil {
		return QuoteResult{}, err
	}
	id := hold.ID
	result.HoldID = &id
	return result, nil
}

// Гашение одноразового кода. Возвращает готовый расчет, если код
// уже привязан к живому холду.
func (s *LoyaltyService) claimQr(ctx context.Context, req QuoteRequest, qr QrMeta) (*QuoteResult, error) {
	replay, err := s.replayByJti(ctx, req, qr.Jti)
	if err != nil || replay != nil {
		return replay, err
	}

	now := time.Now()
	if qr.ShortCode {
		nonce, err := s.db.NonceGet(ctx, qr.Jti)
		if err != nil {
			return nil, err
		}
		if nonce == nil {
			return nil, fmt.Errorf("short code: %w", model.ErrNotFound)
		}
		if nonce.ExpiresAt != nil && nonce.ExpiresAt.Before(now) {
			_ = s.db.NonceRelease(ctx, qr.Jti, false)
			return nil, model.ErrQrExpired
		}
		ok, err := s.db.NonceMarkUsed(ctx, qr.Jti, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return s.lostQrRace(ctx, req, qr.Jti)
		}
		return nil, nil
	}

	ok, err := s.db.NonceInsertUsed(ctx, model.QrNonce{
		Jti:        qr.Jti,
		MerchantID: req.MerchantID,
		CustomerID: req.CustomerID,
		IssuedAt:   now,
		ExpiresAt:  qr.ExpiresAt,
		UsedAt:     &now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.lostQrRace(ctx, req, qr.Jti)
	}
	return nil, nil
}

func (s *LoyaltyService) lostQrRace(ctx context.Context, req QuoteRequest, jti uuid.UUID) (*QuoteResult, error) {
	replay, err := s.replayByJti(ctx, req, jti)
	if err != nil {
		return nil, err
	}
	if replay == nil {
		return nil, model.ErrQrUsed
	}
	return replay, nil
}

func (s *LoyaltyService) replayByJti(ctx context.Context, req QuoteRequest, jti uuid.UUID) (*QuoteResult, error) {
	hold, err := s.db.HoldGetByJti(ctx, jti)
	if err != nil {
		return nil, err
	}
	if hold == nil {
		return nil, nil
	}
	if hold.MerchantID != req.MerchantID || hold.CustomerID != req.CustomerID {
		return nil, fmt.Errorf("qr bound to another sale: %w", model.ErrForbidden)
	}
	if hold.Status != model.HoldPending {
		return nil, model.ErrQrUsed
	}
	items, err := s.db.HoldItems(ctx, hold.ID)
	if err != nil {
		return nil, err
	}
	result := quoteFromHold(*hold, items)
	return &result, nil
}

// Расчет из сохраненного холда, промо не пересчитываются
func quoteFromHold(hold model.Hold, items []model.HoldItem) QuoteResult {
	var earn int64
	for _, it := range items {
		earn += it.EarnPoints
	}
	id := hold.ID
	result := QuoteResult{
		HoldID:        &id,
		Total:         hold.Total,
		EligibleTotal: hold.EligibleTotal,
	}
	if hold.Mode == model.ModeRedeem {
		result.CanRedeem = true
		result.DiscountToApply = hold.RedeemAmount
		result.PointsToBurn = hold.RedeemAmount
		result.FinalPayable = hold.Total - hold.RedeemAmount
		result.PointsToEarn = earn
	} else {
		result.CanEarn = true
		result.PointsToEarn = earn
		result.FinalPayable = hold.Total
	}
	return result
}

func (s *LoyaltyService) quoteRedeem(ctx context.Context, req QuoteRequest, customer model.Customer, settings model.MerchantSettings, rates model.Rates, positions []Position, total, eligible int64) (QuoteResult, []ItemPlan, error) {
	now := time.Now()

	// начисление и списание в одном заказе взаимоисключающие,
	// если мерчант явно не разрешил обратное
	if !settings.AllowEarnRedeemSameReceipt && req.OrderID != "" {
		earnHold, err := s.db.HoldFindEarnByOrder(ctx, req.MerchantID, req.CustomerID, req.OrderID)
		if err != nil {
			return QuoteResult{}, nil, err
		}
		if earnHold != nil {
			return QuoteResult{Declined: true, Reason: model.DeclineEarnWithRedeem, Total: total, EligibleTotal: eligible}, nil, nil
		}
		// закрытый чек исключает новое списание так же, как живой холд:
		// заказ коммитится ровно один раз и скидка уже не применится
		receipt, err := s.db.ReceiptGetByOrder(ctx, req.MerchantID, req.OrderID)
		if err != nil {
			return QuoteResult{}, nil, err
		}
		if receipt != nil && receipt.CanceledAt == nil {
			return QuoteResult{Declined: true, Reason: model.DeclineEarnWithRedeem, Total: total, EligibleTotal: eligible}, nil, nil
		}
	}

	if settings.RedeemCooldown > 0 {
		last, err := s.db.TnxLast(ctx, req.MerchantID, req.CustomerID, model.TnxRedeem)
		if err != nil {
			return QuoteResult{}, nil, err
		}
		if last != nil && now.Sub(last.CreatedAt) < settings.RedeemCooldown {
			return QuoteResult{Declined: true, Reason: model.DeclineCooldown, Total: total, EligibleTotal: eligible}, nil, nil
		}
	}

	capLeft := int64(-1)
	if settings.RedeemDailyCap > 0 {
		spent, err := s.db.TnxSumSince(ctx, req.MerchantID, req.CustomerID, model.TnxRedeem, now.Add(-24*time.Hour))
		if err != nil {
			return QuoteResult{}, nil, err
		}
		capLeft = settings.RedeemDailyCap + spent // spent отрицательный
		if capLeft <= 0 {
			return QuoteResult{Declined: true, Reason: model.DeclineDailyCap, Total: total, EligibleTotal: eligible}, nil, nil
		}
	}

	limitBps := rates.RedeemLimitBps
	if limitBps <= 0 {
		limitBps = settings.RedeemLimitBps
	}
	limitByOrder := total * int64(limitBps) / 10000

	var prior int64
	if req.OrderID != "" {
		receipt, err := s.db.ReceiptGetByOrder(ctx, req.MerchantID, req.OrderID)
		if err != nil {
			return QuoteResult{}, nil, err
		}
		if receipt != nil {
			prior = receipt.RedeemApplied
		}
	}

	wallet, err := s.db.WalletEnsure(ctx, req.MerchantID, req.CustomerID)
	if err != nil {
		return QuoteResult{}, nil, err
	}

	discount := wallet.Balance
	if byOrder := limitByOrder - prior; byOrder < discount {
		discount = byOrder
	}
	if capLeft >= 0 && capLeft < discount {
		discount = capLeft
	}
	if rates.TierMinPayment != nil {
		allowed := total - *rates.TierMinPayment - prior
		if allowed < discount {
			discount = allowed
		}
	}
	if req.RedeemCap > 0 && req.RedeemCap < discount {
		discount = req.RedeemCap
	}
	if discount <= 0 {
		return QuoteResult{Declined: true, Reason: model.DeclineNoBalance, Total: total, EligibleTotal: eligible}, nil, nil
	}

	allowEarn := settings.AllowEarnRedeemSameReceipt && !customer.AccrualsBlocked
	plans := ApplyEarnAndRedeem(positions, rates.EarnBps, discount, allowEarn)

	var applied, earn int64
	for _, p := range plans {
		applied += p.RedeemShare
		earn += p.EarnPoints
	}
	if applied <= 0 {
		return QuoteResult{Declined: true, Reason: model.DeclineNoBalance, Total: total, EligibleTotal: eligible}, nil, nil
	}
	return QuoteResult{
		CanRedeem:       true,
		CanEarn:         allowEarn && earn > 0,
		Total:           total,
		EligibleTotal:   eligible,
		DiscountToApply: applied,
		PointsToBurn:    applied,
		PointsToEarn:    earn,
		FinalPayable:    total - applied,
	}, plans, nil
}

func (s *LoyaltyService) quoteEarn(ctx context.Context, req QuoteRequest, settings model.MerchantSettings, rates model.Rates, positions []Position, total, eligible int64) (QuoteResult, []ItemPlan, error) {
	now := time.Now()

	if settings.EarnCooldown > 0 {
		last, err := s.db.TnxLast(ctx, req.MerchantID, req.CustomerID, model.TnxEarn)
		if err != nil {
			return QuoteResult{}, nil, err
		}
		if last != nil && now.Sub(last.CreatedAt) < settings.EarnCooldown {
			return QuoteResult{Declined: true, Reason: model.DeclineCooldown, Total: total, EligibleTotal: eligible}, nil, nil
		}
	}

	earnBps := rates.EarnBps
	if earnBps <= 0 {
		earnBps = settings.EarnBps
	}
	if rates.TierMinPayment != nil && total < *rates.TierMinPayment {
		// чек ниже минимального платежа уровня, баллы не начисляются
		return QuoteResult{CanEarn: false, Total: total, EligibleTotal: eligible, FinalPayable: total}, make([]ItemPlan, len(positions)), nil
	}

	plans := ApplyEarnAndRedeem(positions, earnBps, 0, true)
	var earn int64
	for _, p := range plans {
		earn += p.EarnPoints
	}
	if earn <= 0 {
		return QuoteResult{CanEarn: false, Total: total, EligibleTotal: eligible, FinalPayable: total}, plans, nil
	}

	if settings.EarnDailyCap > 0 {
		earned, err := s.db.TnxSumSince(ctx, req.MerchantID, req.CustomerID, model.TnxEarn, now.Add(-24*time.Hour))
		if err != nil {
			return QuoteResult{}, nil, err
		}
		remaining := settings.EarnDailyCap - earned
		if remaining <= 0 {
			return QuoteResult{Declined: true, Reason: model.DeclineDailyCap, Total: total, EligibleTotal: eligible}, nil, nil
		}
		if earn > remaining {
			// лимит режет итог: пересобираем доли по весам,
			// а не обрезаем последнюю позицию
			weights := make([]int64, len(plans))
			for i, p := range plans {
				weights[i] = p.EarnPoints
			}
			shares := AllocateByWeight(weights, remaining)
			earn = 0
			for i := range plans {
				plans[i].EarnPoints = shares[i]
				if plans[i].EarnPoints < plans[i].BasePoints {
					plans[i].BasePoints = plans[i].EarnPoints
				}
				plans[i].PromoBonus = plans[i].EarnPoints - plans[i].BasePoints
				earn += shares[i]
			}
		}
	}

	return QuoteResult{
		CanEarn:       true,
		Total:         total,
		EligibleTotal: eligible,
		PointsToEarn:  earn,
		FinalPayable:  total,
	}, plans, nil
}
