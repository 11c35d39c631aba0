package loyalty

import (
	"context"
	"fmt"
	"time"

	interf "github.com/kh827y/loyalty/internal/interfaces"
	model "github.com/kh827y/loyalty/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventCommit        = "loyalty.commit"
	EventEarnScheduled = "loyalty.earn.scheduled"
	EventRefund        = "loyalty.refund"
)

type CommitRequest struct {
	HoldID     uuid.UUID
	MerchantID uuid.UUID
	OrderID    string
	OutletID   *uuid.UUID
	StaffID    *uuid.UUID
}

type CommitResult struct {
	ReceiptID        uuid.UUID
	RedeemApplied    int64
	EarnApplied      int64
	AlreadyCommitted bool
}

// Коммит холда: ровно один раз на (мерчант, заказ).
// Повторный вызов возвращает записанный результат без пересчета.
func (s *LoyaltyService) Commit(ctx context.Context, req CommitRequest) (CommitResult, error) {
	hold, err := s.db.HoldGet(ctx, req.HoldID)
	if err != nil {
		return CommitResult{}, err
	}
	if hold.MerchantID != req.MerchantID {
		return CommitResult{}, fmt.Errorf("hold %s: %w", req.HoldID, model.ErrForbidden)
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = hold.OrderID
	}
	if orderID == "" {
		return CommitResult{}, fmt.Errorf("%w: order id is required", model.ErrValidation)
	}
	if hold.OrderID != "" && hold.OrderID != orderID {
		return CommitResult{}, fmt.Errorf("hold bound to another order: %w", model.ErrConflict)
	}

	if hold.Status != model.HoldPending {
		if prior, err := s.priorResult(ctx, s.db, req.MerchantID, orderID); err != nil || prior != nil {
			if prior != nil {
				return *prior, err
			}
			return CommitResult{}, err
		}
		return CommitResult{}, model.ErrHoldFinished
	}
	if hold.ExpiresAt != nil && hold.ExpiresAt.Before(time.Now()) {
		return CommitResult{}, model.ErrHoldExpired
	}

	customer, err := s.db.CustomerGet(ctx, hold.MerchantID, hold.CustomerID)
	if err != nil {
		return CommitResult{}, err
	}
	if hold.Mode == model.ModeRedeem && customer.RedemptionsBlocked {
		return CommitResult{}, fmt.Errorf("redemptions blocked: %w", model.ErrForbidden)
	}

	items, err := s.db.HoldItems(ctx, hold.ID)
	if err != nil {
		return CommitResult{}, err
	}
	settings, err := s.db.SettingsGet(ctx, hold.MerchantID)
	if err != nil {
		return CommitResult{}, err
	}

	var result CommitResult
	err = s.db.WithTx(ctx, func(ctx context.Context, tx interf.Storage) error {
		result = CommitResult{}

		// идемпотентность перепроверяется внутри транзакции
		prior, err := s.priorResult(ctx, tx, req.MerchantID, orderID)
		if err != nil {
			return err
		}
		if prior != nil {
			result = *prior
			return nil
		}

		claimed, err := tx.HoldClaim(ctx, hold.ID, orderID)
		if err != nil {
			return err
		}
		if !claimed {
			// гонку выиграл другой коммит
			fresh, err := tx.HoldGet(ctx, hold.ID)
			if err != nil {
				return err
			}
			if fresh.Status == model.HoldCommitted && fresh.OrderID == orderID {
				prior, err = s.priorResult(ctx, tx, req.MerchantID, orderID)
				if err != nil {
					return err
				}
				if prior != nil {
					result = *prior
					return nil
				}
			}
			return model.ErrHoldFinished
		}

		wallet, err := tx.WalletEnsure(ctx, hold.MerchantID, hold.CustomerID)
		if err != nil {
			return err
		}

		redeemApplied, err := s.applyRedeem(ctx, tx, hold, wallet, orderID)
		if err != nil {
			return err
		}

		earnApplied, promoBonus, lotIDs, err := s.applyEarn(ctx, tx, hold, items, customer, settings, wallet, orderID, redeemApplied)
		if err != nil {
			return err
		}

		receipt, receiptItems := buildReceipt(hold, items, orderID, req.OutletID, req.StaffID, redeemApplied, earnApplied)
		if err = tx.ReceiptCreate(ctx, receipt, receiptItems); err != nil {
			return err
		}
		if err = tx.HoldSetReceipt(ctx, hold.ID, receipt.ID); err != nil {
			return err
		}
		if len(lotIDs) > 0 {
			if err = tx.LotsSetReceipt(ctx, lotIDs, receipt.ID); err != nil {
				return err
			}
		}

		if promoIDs := collectPromotionIDs(items); len(promoIDs) > 0 {
			if err = tx.PromoUsageRecord(ctx, hold.CustomerID, promoIDs, time.Now()); err != nil {
				return err
			}
		}

		payload := map[string]any{
			"receiptId":     receipt.ID,
			"orderId":       orderID,
			"redeemApplied": redeemApplied,
			"earnApplied":   earnApplied,
			"promoBonus":    promoBonus,
		}
		if err = tx.OutboxAppend(ctx, hold.MerchantID, EventCommit, payload); err != nil {
			return err
		}

		result = CommitResult{ReceiptID: receipt.ID, RedeemApplied: redeemApplied, EarnApplied: earnApplied}
		return nil
	})
	if err != nil {
		// уникальный конфликт мог оборвать транзакцию уже после того,
		// как решающая запись легла в параллельной: перепроверяем чек
		prior, perr := s.priorResult(ctx, s.db, req.MerchantID, orderID)
		if perr == nil && prior != nil {
			return *prior, nil
		}
		return CommitResult{}, err
	}

	if !result.AlreadyCommitted {
		s.invalidateBalance(ctx, hold.MerchantID, hold.CustomerID)
		s.afterCommit(ctx, hold, result, orderID, req.StaffID)
		holdsCommitted.WithLabelValues(hold.Mode).Inc()
		pointsRedeemed.Add(float64(result.RedeemApplied))
		pointsEarned.Add(float64(result.EarnApplied))
	}
	return result, nil
}

// Уже записанный исход коммита по заказу
func (s *LoyaltyService) priorResult(ctx context.Context, db interf.Storage, merchantID uuid.UUID, orderID string) (*CommitResult, error) {
	receipt, err := db.ReceiptGetByOrder(ctx, merchantID, orderID)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, nil
	}
	return &CommitResult{
		ReceiptID:        receipt.ID,
		RedeemApplied:    receipt.RedeemApplied,
		EarnApplied:      receipt.EarnApplied,
		AlreadyCommitted: true,
	}, nil
}

// Списание с одним повтором против свежего баланса
func (s *LoyaltyService) applyRedeem(ctx context.Context, tx interf.Storage, hold model.Hold, wallet model.Wallet, orderID string) (int64, error) {
	if hold.Mode != model.ModeRedeem || hold.RedeemAmount <= 0 {
		return 0, nil
	}
	amount := hold.RedeemAmount
	if amount > wallet.Balance {
		amount = wallet.Balance
	}
	if amount <= 0 {
		return 0, nil
	}
	ok, err := tx.WalletDebitIf(ctx, wallet.ID, amount)
	if err != nil {
		return 0, err
	}
	if !ok {
		fresh, err := tx.WalletGet(ctx, hold.MerchantID, hold.CustomerID)
		if err != nil {
			return 0, err
		}
		amount = hold.RedeemAmount
		if amount > fresh.Balance {
			amount = fresh.Balance
		}
		if amount <= 0 {
			return 0, nil
		}
		ok, err = tx.WalletDebitIf(ctx, wallet.ID, amount)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: %s", model.ErrConflict, model.DeclineNoBalance)
		}
	}

	if s.flags.Ledger {
		_, err = tx.TnxCreate(ctx, model.Transaction{
			ID:         uuid.New(),
			MerchantID: hold.MerchantID,
			CustomerID: hold.CustomerID,
			WalletID:   wallet.ID,
			Type:       model.TnxRedeem,
			Amount:     -amount,
			OrderID:    orderID,
			OutletID:   hold.OutletID,
			StaffID:    hold.StaffID,
			DeviceID:   hold.DeviceID,
			CreatedAt:  time.Now(),
		})
		if err != nil {
			return 0, err
		}
	}
	if err = s.consumeLots(ctx, tx, hold.MerchantID, hold.CustomerID, amount, orderID); err != nil {
		return 0, err
	}
	return amount, nil
}

// Начисление: немедленное или отложенное по настройке мерчанта.
// На чеке со списанием доначисление пересчитывается по свежим ставкам
// и режется скользящим суточным окном.
func (s *LoyaltyService) applyEarn(ctx context.Context, tx interf.Storage, hold model.Hold, items []model.HoldItem, customer model.Customer, settings model.MerchantSettings, wallet model.Wallet, orderID string, redeemApplied int64) (int64, int64, []uuid.UUID, error) {
	if customer.AccrualsBlocked {
		return 0, 0, nil, nil
	}

	var earnTotal, promoBonus int64
	for _, it := range items {
		earnTotal += it.EarnPoints
		promoBonus += it.PromoBonus
	}
	if hold.Mode == model.ModeRedeem {
		if !settings.AllowEarnRedeemSameReceipt {
			return 0, 0, nil, nil
		}
		extra, bonus, err := s.extraEarnOnRedeem(ctx, tx, hold, items, settings, redeemApplied)
		if err != nil {
			return 0, 0, nil, err
		}
		earnTotal, promoBonus = extra, bonus
	}
	if earnTotal <= 0 {
		return 0, 0, nil, nil
	}

	now := time.Now()
	baseEarn := earnTotal - promoBonus

	if settings.EarnDelayDays > 0 {
		// отложенное начисление: счет не трогаем до созревания
		maturesAt := now.AddDate(0, 0, int(settings.EarnDelayDays))
		lotIDs, err := s.createLots(ctx, tx, hold, orderID, baseEarn, promoBonus, model.LotPending, maturesAt, settings)
		if err != nil {
			return 0, 0, nil, err
		}
		payload := map[string]any{"orderId": orderID, "points": earnTotal, "maturesAt": maturesAt}
		if err = tx.OutboxAppend(ctx, hold.MerchantID, EventEarnScheduled, payload); err != nil {
			return 0, 0, nil, err
		}
		return earnTotal, promoBonus, lotIDs, nil
	}

	if err := tx.WalletCredit(ctx, wallet.ID, earnTotal); err != nil {
		return 0, 0, nil, err
	}
	if s.flags.Ledger {
		_, err := tx.TnxCreate(ctx, model.Transaction{
			ID:         uuid.New(),
			MerchantID: hold.MerchantID,
			CustomerID: hold.CustomerID,
			WalletID:   wallet.ID,
			Type:       model.TnxEarn,
			Amount:     earnTotal,
			OrderID:    orderID,
			OutletID:   hold.OutletID,
			StaffID:    hold.StaffID,
			DeviceID:   hold.DeviceID,
			CreatedAt:  now,
		})
		if err != nil {
			return 0, 0, nil, err
		}
	}
	lotIDs, err := s.createLots(ctx, tx, hold, orderID, baseEarn, promoBonus, model.LotActive, now, settings)
	if err != nil {
		return 0, 0, nil, err
	}
	return earnTotal, promoBonus, lotIDs, nil
}

// Доначисление на чеке со списанием: свежий срез ставок вместо
// котировочного и потолок скользящего суточного окна
func (s *LoyaltyService) extraEarnOnRedeem(ctx context.Context, tx interf.Storage, hold model.Hold, items []model.HoldItem, settings model.MerchantSettings, redeemApplied int64) (int64, int64, error) {
	rates := s.ResolveRates(ctx, hold.MerchantID, hold.CustomerID)
	earnBps := rates.EarnBps
	if earnBps <= 0 {
		earnBps = settings.EarnBps
	}
	if earnBps <= 0 {
		return 0, 0, nil
	}

	// фактические доли списания против плановых
	weights := make([]int64, len(items))
	allZero := true
	for i, it := range items {
		weights[i] = it.RedeemShare
		if it.RedeemShare > 0 {
			allZero = false
		}
	}
	if allZero {
		for i, it := range items {
			weights[i] = it.Amount
		}
	}
	shares := AllocateProRata(weights, redeemApplied)

	var earn, bonus int64
	for i, it := range items {
		if !it.AccruePoints {
			continue
		}
		base := it.Amount - shares[i]
		if base < 0 {
			base = 0
		}
		pts := base * int64(earnBps) / 10000
		earn += pts + it.PromoBonus
		bonus += it.PromoBonus
	}
	if earn <= 0 {
		return 0, 0, nil
	}

	if settings.EarnDailyCap > 0 {
		earned, err := tx.TnxSumSince(ctx, hold.MerchantID, hold.CustomerID, model.TnxEarn, time.Now().Add(-24*time.Hour))
		if err != nil {
			return 0, 0, err
		}
		remaining := settings.EarnDailyCap - earned
		if remaining <= 0 {
			return 0, 0, nil
		}
		if earn > remaining {
			earn = remaining
			if bonus > earn {
				bonus = earn
			}
		}
	}
	return earn, bonus, nil
}

func (s *LoyaltyService) createLots(ctx context.Context, tx interf.Storage, hold model.Hold, orderID string, baseEarn, promoBonus int64, status string, earnedAt time.Time, settings model.MerchantSettings) ([]uuid.UUID, error) {
	if !s.flags.EarnLots {
		return nil, nil
	}
	var ids []uuid.UUID
	create := func(points int64, source string, ttlDays int32) error {
		if points <= 0 {
			return nil
		}
		lot := model.EarnLot{
			ID:         uuid.New(),
			MerchantID: hold.MerchantID,
			CustomerID: hold.CustomerID,
			Points:     points,
			EarnedAt:   earnedAt,
			Status:     status,
			OrderID:    orderID,
			Source:     source,
		}
		if status == model.LotPending {
			m := earnedAt
			lot.MaturesAt = &m
		}
		if ttlDays > 0 {
			exp := earnedAt.AddDate(0, 0, int(ttlDays))
			lot.ExpiresAt = &exp
		}
		id, err := tx.LotCreate(ctx, lot)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	}
	if err := create(baseEarn, "base", settings.PointsTTLDays); err != nil {
		return nil, err
	}
	promoTTL := settings.PromoPointsTTLDays
	if promoTTL <= 0 {
		promoTTL = settings.PointsTTLDays
	}
	if err := create(promoBonus, "promo", promoTTL); err != nil {
		return nil, err
	}
	return ids, nil
}

// Чек и позиции с финальными долями, производными от плана холда
func buildReceipt(hold model.Hold, items []model.HoldItem, orderID string, outletID, staffID *uuid.UUID, redeemApplied, earnApplied int64) (model.Receipt, []model.ReceiptItem) {
	receipt := model.Receipt{
		ID:            uuid.New(),
		MerchantID:    hold.MerchantID,
		CustomerID:    hold.CustomerID,
		OrderID:       orderID,
		Total:         hold.Total,
		EligibleTotal: hold.EligibleTotal,
		RedeemApplied: redeemApplied,
		EarnApplied:   earnApplied,
		OutletID:      hold.OutletID,
		StaffID:       hold.StaffID,
		CreatedAt:     time.Now(),
	}
	holdID := hold.ID
	receipt.HoldID = &holdID
	if outletID != nil {
		receipt.OutletID = outletID
	}
	if staffID != nil {
		receipt.StaffID = staffID
	}

	redeemWeights := make([]int64, len(items))
	earnWeights := make([]int64, len(items))
	allRedeemZero, allEarnZero := true, true
	for i, it := range items {
		redeemWeights[i] = it.RedeemShare
		earnWeights[i] = it.EarnPoints
		if it.RedeemShare > 0 {
			allRedeemZero = false
		}
		if it.EarnPoints > 0 {
			allEarnZero = false
		}
	}
	if allRedeemZero {
		for i, it := range items {
			redeemWeights[i] = it.Amount
		}
	}
	if allEarnZero {
		for i, it := range items {
			earnWeights[i] = it.Amount
		}
	}
	redeemShares := AllocateProRata(redeemWeights, redeemApplied)
	earnShares := AllocateByWeight(earnWeights, earnApplied)

	// доначисление по свежим ставкам может превысить плановые веса холда,
	// остаток раздается по кругу, чтобы позиции сходились с шапкой чека
	var earnAssigned int64
	for _, sh := range earnShares {
		earnAssigned += sh
	}
	for earnAssigned < earnApplied {
		moved := false
		for i := range earnShares {
			if earnAssigned >= earnApplied {
				break
			}
			if earnWeights[i] <= 0 {
				continue
			}
			earnShares[i]++
			earnAssigned++
			moved = true
		}
		if !moved {
			break
		}
	}

	receiptItems := make([]model.ReceiptItem, len(items))
	for i, it := range items {
		receiptItems[i] = model.ReceiptItem{
			ID:           uuid.New(),
			ReceiptID:    receipt.ID,
			ProductID:    it.ProductID,
			Name:         it.Name,
			Qty:          it.Qty,
			Price:        it.Price,
			Amount:       it.Amount,
			RedeemShare:  redeemShares[i],
			EarnPoints:   earnShares[i],
			PromotionIDs: it.PromotionIDs,
		}
	}
	return receipt, receiptItems
}

func collectPromotionIDs(items []model.HoldItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, it := range items {
		for _, id := range it.PromotionIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// Побочные эффекты после коммита, их сбой не откатывает финансы
func (s *LoyaltyService) afterCommit(ctx context.Context, hold model.Hold, result CommitResult, orderID string, staffID *uuid.UUID) {
	event := interf.PurchaseEvent{
		MerchantID: hold.MerchantID,
		CustomerID: hold.CustomerID,
		ReceiptID:  result.ReceiptID,
		OrderID:    orderID,
		Total:      hold.Total,
		StaffID:    staffID,
		EventAt:    time.Now(),
	}
	if s.referral != nil {
		if err := s.referral.PurchaseCompleted(ctx, event); err != nil {
			s.logger.Warn("referral rewards", zap.String("order", orderID), zap.Error(err))
		}
	}
	if s.staff != nil {
		if err := s.staff.RecordPurchase(ctx, event); err != nil {
			s.logger.Warn("staff motivation", zap.String("order", orderID), zap.Error(err))
		}
	}
	s.refreshTier(ctx, hold.MerchantID, hold.CustomerID)
}
