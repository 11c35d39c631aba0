package loyalty

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	interf "github.com/kh827y/loyalty/internal/interfaces"
	model "github.com/kh827y/loyalty/internal/models"

	"github.com/google/uuid"
)

// Хранилище в памяти для тестов сценариев.
// Повторяет контракт условных апдейтов: успех отражается в bool.
type memStore struct {
	mu sync.Mutex

	customers    map[uuid.UUID]model.Customer
	settings     map[uuid.UUID]model.MerchantSettings
	products     []model.Product
	wallets      map[uuid.UUID]*model.Wallet
	tnxs         []model.Transaction
	holds        map[uuid.UUID]*model.Hold
	holdItems    map[uuid.UUID][]model.HoldItem
	receipts     map[uuid.UUID]*model.Receipt
	receiptItems map[uuid.UUID][]model.ReceiptItem
	nonces       map[uuid.UUID]*model.QrNonce
	lots         map[uuid.UUID]*model.EarnLot
	tiers        []model.Tier
	assignments  map[string]model.TierAssignment
	segmentAll   map[uuid.UUID]bool
	segments     map[uuid.UUID]map[uuid.UUID]bool
	promoUsage   map[string]*model.PromotionParticipant
	outbox       []string
}

func newMemStore() *memStore {
	return &memStore{
		customers:    make(map[uuid.UUID]model.Customer),
		settings:     make(map[uuid.UUID]model.MerchantSettings),
		wallets:      make(map[uuid.UUID]*model.Wallet),
		holds:        make(map[uuid.UUID]*model.Hold),
		holdItems:    make(map[uuid.UUID][]model.HoldItem),
		receipts:     make(map[uuid.UUID]*model.Receipt),
		receiptItems: make(map[uuid.UUID][]model.ReceiptItem),
		nonces:       make(map[uuid.UUID]*model.QrNonce),
		lots:         make(map[uuid.UUID]*model.EarnLot),
		assignments:  make(map[string]model.TierAssignment),
		segmentAll:   make(map[uuid.UUID]bool),
		segments:     make(map[uuid.UUID]map[uuid.UUID]bool),
		promoUsage:   make(map[string]*model.PromotionParticipant),
	}
}

func key(a, b uuid.UUID) string { return a.String() + "/" + b.String() }

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx interf.Storage) error) error {
	return fn(ctx, m)
}

func (m *memStore) CustomerGet(ctx context.Context, merchantID, customerID uuid.UUID) (model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[customerID]
	if !ok || c.MerchantID != merchantID {
		return model.Customer{}, fmt.Errorf("customer %s: %w", customerID, model.ErrNotFound)
	}
	return c, nil
}

func (m *memStore) SettingsGet(ctx context.Context, merchantID uuid.UUID) (model.MerchantSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings[merchantID], nil
}

func (m *memStore) ProductsFind(ctx context.Context, merchantID uuid.UUID, ids []uuid.UUID, externalIDs []string) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Product
	for _, p := range m.products {
		if p.MerchantID != merchantID {
			continue
		}
		for _, id := range ids {
			if p.ID == id {
				out = append(out, p)
			}
		}
		for _, ext := range externalIDs {
			if p.ExternalID == ext {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (m *memStore) walletFind(merchantID, customerID uuid.UUID) *model.Wallet {
	for _, w := range m.wallets {
		if w.MerchantID == merchantID && w.CustomerID == customerID {
			return w
		}
	}
	return nil
}

func (m *memStore) WalletEnsure(ctx context.Context, merchantID, customerID uuid.UUID) (model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w := m.walletFind(merchantID, customerID); w != nil {
		return *w, nil
	}
	w := &model.Wallet{ID: uuid.New(), MerchantID: merchantID, CustomerID: customerID, UpdatedAt: time.Now()}
	m.wallets[w.ID] = w
	return *w, nil
}

func (m *memStore) WalletGet(ctx context.Context, merchantID, customerID uuid.UUID) (model.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w := m.walletFind(merchantID, customerID); w != nil {
		return *w, nil
	}
	return model.Wallet{}, fmt.Errorf("wallet: %w", model.ErrNotFound)
}

func (m *memStore) WalletCredit(ctx context.Context, walletID uuid.UUID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return fmt.Errorf("wallet %s: %w", walletID, model.ErrNotFound)
	}
	w.Balance += amount
	return nil
}

func (m *memStore) WalletDebitIf(ctx context.Context, walletID uuid.UUID, amount int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok || w.Balance < amount {
		return false, nil
	}
	w.Balance -= amount
	return true, nil
}

func (m *memStore) TnxCreate(ctx context.Context, tnx model.Transaction) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tnx.ID == uuid.Nil {
		tnx.ID = uuid.New()
	}
	if tnx.CreatedAt.IsZero() {
		tnx.CreatedAt = time.Now()
	}
	m.tnxs = append(m.tnxs, tnx)
	return tnx.ID, nil
}

func (m *memStore) TnxLast(ctx context.Context, merchantID, customerID uuid.UUID, tnxType string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *model.Transaction
	for i := range m.tnxs {
		t := m.tnxs[i]
		if t.MerchantID != merchantID || t.CustomerID != customerID || t.Type != tnxType || t.OrderID == "" {
			continue
		}
		if last == nil || t.CreatedAt.After(last.CreatedAt) {
			last = &m.tnxs[i]
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (m *memStore) TnxSumSince(ctx context.Context, merchantID, customerID uuid.UUID, tnxType string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, t := range m.tnxs {
		if t.MerchantID == merchantID && t.CustomerID == customerID && t.Type == tnxType && t.OrderID != "" && !t.CreatedAt.Before(since) {
			sum += t.Amount
		}
	}
	return sum, nil
}

func (m *memStore) TnxByOrder(ctx context.Context, merchantID uuid.UUID, orderID string, tnxType string) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Transaction
	for _, t := range m.tnxs {
		if t.MerchantID == merchantID && t.OrderID == orderID && t.Type == tnxType {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) TnxByReceipt(ctx context.Context, merchantID, receiptID uuid.UUID, tnxType string) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Transaction
	for _, t := range m.tnxs {
		if t.MerchantID == merchantID && t.ReceiptID != nil && *t.ReceiptID == receiptID && t.Type == tnxType {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) TnxList(ctx context.Context, merchantID, customerID uuid.UUID, before time.Time, limit int) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Transaction
	for _, t := range m.tnxs {
		if t.MerchantID == merchantID && t.CustomerID == customerID && t.CreatedAt.Before(before) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) HoldCreate(ctx context.Context, hold model.Hold, items []model.HoldItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := hold
	m.holds[hold.ID] = &h
	m.holdItems[hold.ID] = append([]model.HoldItem{}, items...)
	return nil
}

func (m *memStore) HoldGet(ctx context.Context, id uuid.UUID) (model.Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[id]
	if !ok {
		return model.Hold{}, fmt.Errorf("hold %s: %w", id, model.ErrNotFound)
	}
	return *h, nil
}

func (m *memStore) HoldItems(ctx context.Context, holdID uuid.UUID) ([]model.HoldItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.HoldItem{}, m.holdItems[holdID]...), nil
}

func (m *memStore) HoldGetByJti(ctx context.Context, jti uuid.UUID) (*model.Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.holds {
		if h.QrJti == jti.String() {
			cp := *h
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) HoldFindEarnByOrder(ctx context.Context, merchantID, customerID uuid.UUID, orderID string) (*model.Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.holds {
		if h.MerchantID == merchantID && h.CustomerID == customerID && h.OrderID == orderID &&
			h.Mode == model.ModeEarn && h.Status == model.HoldPending {
			cp := *h
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) HoldClaim(ctx context.Context, id uuid.UUID, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[id]
	if !ok || h.Status != model.HoldPending {
		return false, nil
	}
	if h.OrderID != "" && h.OrderID != orderID {
		return false, nil
	}
	h.Status = model.HoldCommitted
	h.OrderID = orderID
	return true, nil
}

func (m *memStore) HoldCancel(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[id]
	if !ok || h.Status != model.HoldPending {
		return false, nil
	}
	h.Status = model.HoldCanceled
	h.QrJti = ""
	return true, nil
}

func (m *memStore) HoldSetReceipt(ctx context.Context, id, receiptID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.holds[id]; ok {
		rid := receiptID
		h.ReceiptID = &rid
	}
	return nil
}

func (m *memStore) ReceiptGet(ctx context.Context, id uuid.UUID) (model.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[id]
	if !ok {
		return model.Receipt{}, fmt.Errorf("receipt %s: %w", id, model.ErrNotFound)
	}
	return *r, nil
}

func (m *memStore) ReceiptGetByOrder(ctx context.Context, merchantID uuid.UUID, orderID string) (*model.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.receipts {
		if r.MerchantID == merchantID && r.OrderID == orderID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ReceiptCreate(ctx context.Context, receipt model.Receipt, items []model.ReceiptItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.receipts {
		if r.MerchantID == receipt.MerchantID && r.OrderID == receipt.OrderID {
			return fmt.Errorf("receipt for order %s: %w", receipt.OrderID, model.ErrConflict)
		}
	}
	r := receipt
	m.receipts[receipt.ID] = &r
	m.receiptItems[receipt.ID] = append([]model.ReceiptItem{}, items...)
	return nil
}

func (m *memStore) ReceiptMarkCanceled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[id]
	if !ok || r.CanceledAt != nil {
		return false, nil
	}
	r.CanceledAt = &at
	return true, nil
}

func (m *memStore) ReceiptOtherValidExists(ctx context.Context, merchantID, customerID, excludeID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.receipts {
		if r.MerchantID == merchantID && r.CustomerID == customerID && r.ID != excludeID && r.CanceledAt == nil {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) PurchaseSum(ctx context.Context, merchantID, customerID uuid.UUID, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, r := range m.receipts {
		if r.MerchantID == merchantID && r.CustomerID == customerID && r.CanceledAt == nil && !r.CreatedAt.Before(since) {
			sum += r.Total
		}
	}
	return sum, nil
}

func (m *memStore) NonceGet(ctx context.Context, jti uuid.UUID) (*model.QrNonce, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nonces[jti]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (m *memStore) NonceInsertUsed(ctx context.Context, nonce model.QrNonce) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nonces[nonce.Jti]; ok {
		return false, nil
	}
	n := nonce
	m.nonces[nonce.Jti] = &n
	return true, nil
}

func (m *memStore) NonceMarkUsed(ctx context.Context, jti uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nonces[jti]
	if !ok || n.UsedAt != nil {
		return false, nil
	}
	n.UsedAt = &at
	return true, nil
}

func (m *memStore) NonceRelease(ctx context.Context, jti uuid.UUID, shortCode bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if shortCode {
		if n, ok := m.nonces[jti]; ok {
			n.UsedAt = nil
		}
		return nil
	}
	delete(m.nonces, jti)
	return nil
}

func (m *memStore) LotCreate(ctx context.Context, lot model.EarnLot) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}
	l := lot
	m.lots[lot.ID] = &l
	return lot.ID, nil
}

func (m *memStore) lotsWhere(pred func(*model.EarnLot) bool, newestFirst bool) []model.EarnLot {
	var out []model.EarnLot
	for _, l := range m.lots {
		if pred(l) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].EarnedAt.After(out[j].EarnedAt)
		}
		return out[i].EarnedAt.Before(out[j].EarnedAt)
	})
	return out
}

func (m *memStore) LotsForConsume(ctx context.Context, merchantID, customerID uuid.UUID, now time.Time) ([]model.EarnLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lotsWhere(func(l *model.EarnLot) bool {
		return l.MerchantID == merchantID && l.CustomerID == customerID && l.Status == model.LotActive &&
			l.ConsumedPoints < l.Points && (l.ExpiresAt == nil || l.ExpiresAt.After(now))
	}, false), nil
}

func (m *memStore) LotsForUnconsume(ctx context.Context, merchantID, customerID uuid.UUID) ([]model.EarnLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lotsWhere(func(l *model.EarnLot) bool {
		return l.MerchantID == merchantID && l.CustomerID == customerID && l.Status == model.LotActive && l.ConsumedPoints > 0
	}, true), nil
}

func (m *memStore) LotsForRevoke(ctx context.Context, merchantID, customerID uuid.UUID, orderID string, receiptID *uuid.UUID) ([]model.EarnLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lotsWhere(func(l *model.EarnLot) bool {
		if l.MerchantID != merchantID || l.CustomerID != customerID || l.Status != model.LotActive || l.ConsumedPoints >= l.Points {
			return false
		}
		if receiptID != nil && l.ReceiptID != nil && *l.ReceiptID == *receiptID {
			return true
		}
		return orderID != "" && l.OrderID == orderID
	}, true), nil
}

func (m *memStore) LotsPendingByOrder(ctx context.Context, merchantID, customerID uuid.UUID, orderID string) ([]model.EarnLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lotsWhere(func(l *model.EarnLot) bool {
		return l.MerchantID == merchantID && l.CustomerID == customerID && l.Status == model.LotPending && l.OrderID == orderID
	}, false), nil
}

func (m *memStore) LotAddConsumed(ctx context.Context, id uuid.UUID, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lots[id]
	if !ok {
		return fmt.Errorf("lot %s: %w", id, model.ErrNotFound)
	}
	next := l.ConsumedPoints + delta
	if next < 0 || next > l.Points {
		return fmt.Errorf("lot %s consumed out of range: %w", id, model.ErrConflict)
	}
	l.ConsumedPoints = next
	return nil
}

func (m *memStore) LotActivate(ctx context.Context, id uuid.UUID, earnedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lots[id]
	if !ok {
		return fmt.Errorf("lot %s: %w", id, model.ErrNotFound)
	}
	l.Status = model.LotActive
	l.EarnedAt = earnedAt
	return nil
}

func (m *memStore) LotsSetReceipt(ctx context.Context, ids []uuid.UUID, receiptID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if l, ok := m.lots[id]; ok {
			rid := receiptID
			l.ReceiptID = &rid
		}
	}
	return nil
}

func (m *memStore) LotsPendingDue(ctx context.Context, now time.Time, limit int) ([]model.EarnLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.lotsWhere(func(l *model.EarnLot) bool {
		return l.Status == model.LotPending && l.MaturesAt != nil && !l.MaturesAt.After(now)
	}, false)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) LotsExpiredDue(ctx context.Context, now time.Time, limit int) ([]model.EarnLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.lotsWhere(func(l *model.EarnLot) bool {
		return l.Status == model.LotActive && l.ExpiresAt != nil && !l.ExpiresAt.After(now) && l.ConsumedPoints < l.Points
	}, false)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) TierList(ctx context.Context, merchantID uuid.UUID) ([]model.Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Tier
	for _, t := range m.tiers {
		if t.MerchantID == merchantID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThresholdAmount < out[j].ThresholdAmount })
	return out, nil
}

func (m *memStore) TierGet(ctx context.Context, id uuid.UUID) (model.Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tiers {
		if t.ID == id {
			return t, nil
		}
	}
	return model.Tier{}, fmt.Errorf("tier %s: %w", id, model.ErrNotFound)
}

func (m *memStore) TierInitial(ctx context.Context, merchantID uuid.UUID) (*model.Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tiers {
		if t.MerchantID == merchantID && t.IsInitial {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) AssignmentCurrent(ctx context.Context, merchantID, customerID uuid.UUID) (*model.TierAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[key(merchantID, customerID)]
	if !ok {
		return nil, nil
	}
	cp := a
	return &cp, nil
}

func (m *memStore) AssignmentUpsert(ctx context.Context, a model.TierAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[key(a.MerchantID, a.CustomerID)] = a
	return nil
}

func (m *memStore) SegmentIsAll(ctx context.Context, segmentID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.segmentAll[segmentID], nil
}

func (m *memStore) SegmentHasCustomer(ctx context.Context, segmentID, customerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.segments[segmentID][customerID], nil
}

func (m *memStore) PromoUsage(ctx context.Context, customerID uuid.UUID, promotionIDs []uuid.UUID) ([]model.PromotionParticipant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PromotionParticipant
	for _, id := range promotionIDs {
		if p, ok := m.promoUsage[key(id, customerID)]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) PromoUsageRecord(ctx context.Context, customerID uuid.UUID, promotionIDs []uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range promotionIDs {
		k := key(id, customerID)
		p, ok := m.promoUsage[k]
		if !ok {
			p = &model.PromotionParticipant{PromotionID: id, CustomerID: customerID}
			m.promoUsage[k] = p
		}
		p.PurchasesCount++
		t := at
		p.LastPurchaseAt = &t
	}
	return nil
}

func (m *memStore) OutboxAppend(ctx context.Context, merchantID uuid.UUID, eventType string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox = append(m.outbox, eventType)
	return nil
}
