package loyalty

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	model "github.com/kh827y/loyalty/internal/models"
	service "github.com/kh827y/loyalty/internal/services"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type LoyaltyHandler struct {
	router  *mux.Router
	service *service.LoyaltyService
	logger  *zap.Logger
}

func NewHandler(serv *service.LoyaltyService, logger *zap.Logger) *LoyaltyHandler {
	router := mux.NewRouter()
	handler := &LoyaltyHandler{router, serv, logger}
	router.Use(MiddlewareLog())
	router.HandleFunc("/loyalty/quote", handler.QuoteHandler).Methods(http.MethodPost)
	router.HandleFunc("/loyalty/commit", handler.CommitHandler).Methods(http.MethodPost)
	router.HandleFunc("/loyalty/cancel", handler.CancelHandler).Methods(http.MethodPost)
	router.HandleFunc("/loyalty/refund", handler.RefundHandler).Methods(http.MethodPost)
	router.HandleFunc("/loyalty/balance/{merchant}/{customer}", handler.BalanceHandler).Methods(http.MethodGet)
	router.HandleFunc("/loyalty/transactions/{merchant}/{customer}", handler.TransactionsHandler).Methods(http.MethodGet)

	return handler
}

func (h *LoyaltyHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.router.ServeHTTP(w, req)
}

func (h *LoyaltyHandler) Log(msg string, handler string, err error) {
	h.logger.Error(msg,
		zap.String("handler", handler),
		zap.Error(err),
	)
}

type QrRequest struct {
	Jti       uuid.UUID  `json:"jti"`
	ShortCode bool       `json:"shortCode"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

type QuoteRequest struct {
	MerchantID uuid.UUID         `json:"merchantId"`
	CustomerID uuid.UUID         `json:"customerId"`
	Mode       string            `json:"mode"`
	OrderID    string            `json:"orderId"`
	Items      []service.RawItem `json:"items"`
	RedeemCap  int64             `json:"redeemCap"`
	OutletID   *uuid.UUID        `json:"outletId"`
	StaffID    *uuid.UUID        `json:"staffId"`
	DeviceID   string            `json:"deviceId"`
	DryRun     bool              `json:"dryRun"`
	Qr         *QrRequest        `json:"qr"`
}

type QuoteResponse struct {
	HoldID          *uuid.UUID `json:"holdId,omitempty"`
	Declined        bool       `json:"declined"`
	Reason          string     `json:"reason,omitempty"`
	CanRedeem       bool       `json:"canRedeem"`
	CanEarn         bool       `json:"canEarn"`
	Total           int64      `json:"total"`
	EligibleTotal   int64      `json:"eligibleTotal"`
	DiscountToApply int64      `json:"discountToApply"`
	PointsToBurn    int64      `json:"pointsToBurn"`
	PointsToEarn    int64      `json:"pointsToEarn"`
	FinalPayable    int64      `json:"finalPayable"`
}

// Расчет предложения: создает холд либо возвращает отказ с причиной
func (h LoyaltyHandler) QuoteHandler(w http.ResponseWriter, req *http.Request) {
	var r QuoteRequest
	if !h.readBody(w, req, "QuoteHandler", &r) {
		return
	}

	var qr *service.QrMeta
	if r.Qr != nil {
		qr = &service.QrMeta{Jti: r.Qr.Jti, ShortCode: r.Qr.ShortCode, ExpiresAt: r.Qr.ExpiresAt}
	}

	result, err := h.service.Quote(req.Context(), service.QuoteRequest{
		MerchantID: r.MerchantID,
		CustomerID: r.CustomerID,
		Mode:       r.Mode,
		OrderID:    r.OrderID,
		Items:      r.Items,
		RedeemCap:  r.RedeemCap,
		OutletID:   r.OutletID,
		StaffID:    r.StaffID,
		DeviceID:   r.DeviceID,
		DryRun:     r.DryRun,
	}, qr)
	if err != nil {
		h.Log("Quote", "QuoteHandler", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, "QuoteHandler", QuoteResponse{
		HoldID:          result.HoldID,
		Declined:        result.Declined,
		Reason:          result.Reason,
		CanRedeem:       result.CanRedeem,
		CanEarn:         result.CanEarn,
		Total:           result.Total,
		EligibleTotal:   result.EligibleTotal,
		DiscountToApply: result.DiscountToApply,
		PointsToBurn:    result.PointsToBurn,
		PointsToEarn:    result.PointsToEarn,
		FinalPayable:    result.FinalPayable,
	})
}

type CommitRequest struct {
	HoldID     uuid.UUID  `json:"holdId"`
	MerchantID uuid.UUID  `json:"merchantId"`
	OrderID    string     `json:"orderId"`
	OutletID   *uuid.UUID `json:"outletId"`
	StaffID    *uuid.UUID `json:"staffId"`
}

type CommitResponse struct {
	ReceiptID        uuid.UUID `json:"receiptId"`
	RedeemApplied    int64     `json:"redeemApplied"`
	EarnApplied      int64     `json:"earnApplied"`
	AlreadyCommitted bool      `json:"alreadyCommitted"`
}

// Коммит холда
func (h LoyaltyHandler) CommitHandler(w http.ResponseWriter, req *http.Request) {
	var r CommitRequest
	if !h.readBody(w, req, "CommitHandler", &r) {
		return
	}

	result, err := h.service.Commit(req.Context(), service.CommitRequest{
		HoldID:     r.HoldID,
		MerchantID: r.MerchantID,
		OrderID:    r.OrderID,
		OutletID:   r.OutletID,
		StaffID:    r.StaffID,
	})
	if err != nil {
		h.Log("Commit", "CommitHandler", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, "CommitHandler", CommitResponse{
		ReceiptID:        result.ReceiptID,
		RedeemApplied:    result.RedeemApplied,
		EarnApplied:      result.EarnApplied,
		AlreadyCommitted: result.AlreadyCommitted,
	})
}

type CancelRequest struct {
	HoldID     uuid.UUID `json:"holdId"`
	MerchantID uuid.UUID `json:"merchantId"`
}

// Отмена холда
func (h LoyaltyHandler) CancelHandler(w http.ResponseWriter, req *http.Request) {
	var r CancelRequest
	if !h.readBody(w, req, "CancelHandler", &r) {
		return
	}

	if err := h.service.Cancel(req.Context(), r.MerchantID, r.HoldID); err != nil {
		h.Log("Cancel", "CancelHandler", err)
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type RefundRequest struct {
	MerchantID uuid.UUID  `json:"merchantId"`
	ReceiptID  *uuid.UUID `json:"receiptId"`
	OrderID    string     `json:"orderId"`
}

type RefundResponse struct {
	ReceiptID       uuid.UUID `json:"receiptId"`
	Restored        int64     `json:"restored"`
	Revoked         int64     `json:"revoked"`
	AlreadyRefunded bool      `json:"alreadyRefunded"`
}

// Возврат по чеку
func (h LoyaltyHandler) RefundHandler(w http.ResponseWriter, req *http.Request) {
	var r RefundRequest
	if !h.readBody(w, req, "RefundHandler", &r) {
		return
	}

	result, err := h.service.Refund(req.Context(), service.RefundRequest{
		MerchantID: r.MerchantID,
		ReceiptID:  r.ReceiptID,
		OrderID:    r.OrderID,
	})
	if err != nil {
		h.Log("Refund", "RefundHandler", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, "RefundHandler", RefundResponse{
		ReceiptID:       result.ReceiptID,
		Restored:        result.Restored,
		Revoked:         result.Revoked,
		AlreadyRefunded: result.AlreadyRefunded,
	})
}

type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// Баланс кошелька
func (h LoyaltyHandler) BalanceHandler(w http.ResponseWriter, req *http.Request) {
	merchantID, customerID, ok := h.pathIDs(w, req, "BalanceHandler")
	if !ok {
		return
	}

	balance, err := h.service.Balance(req.Context(), merchantID, customerID)
	if err != nil {
		h.Log("Balance", "BalanceHandler", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, "BalanceHandler", BalanceResponse{balance})
}

// История операций, страницы по created_at
func (h LoyaltyHandler) TransactionsHandler(w http.ResponseWriter, req *http.Request) {
	merchantID, customerID, ok := h.pathIDs(w, req, "TransactionsHandler")
	if !ok {
		return
	}

	before := time.Now()
	if v := req.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "before is not RFC3339", http.StatusBadRequest)
			return
		}
		before = t
	}
	limit := 0
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "limit is not a number", http.StatusBadRequest)
			return
		}
		limit = n
	}

	tnxs, err := h.service.Transactions(req.Context(), merchantID, customerID, before, limit)
	if err != nil {
		h.Log("Transactions", "TransactionsHandler", err)
		h.writeError(w, err)
		return
	}
	if tnxs == nil {
		tnxs = []model.Transaction{}
	}

	h.writeJSON(w, "TransactionsHandler", tnxs)
}

func (h LoyaltyHandler) pathIDs(w http.ResponseWriter, req *http.Request, handler string) (uuid.UUID, uuid.UUID, bool) {
	vars := mux.Vars(req)
	merchantID, err := uuid.Parse(vars["merchant"])
	if err != nil {
		http.Error(w, "merchant id is not correct", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	customerID, err := uuid.Parse(vars["customer"])
	if err != nil {
		http.Error(w, "customer id is not correct", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return merchantID, customerID, true
}

func (h LoyaltyHandler) readBody(w http.ResponseWriter, req *http.Request, handler string, dst any) bool {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		h.Log("Get request body", handler, err)
		http.Error(w, "Body is empty", http.StatusBadRequest)
		return false
	}
	defer req.Body.Close()
	if err = json.Unmarshal(body, dst); err != nil {
		h.Log("Unmarshal", handler, err)
		http.Error(w, "Body is not correct", http.StatusBadRequest)
		return false
	}
	return true
}

func (h LoyaltyHandler) writeJSON(w http.ResponseWriter, handler string, v any) {
	j, err := json.Marshal(v)
	if err != nil {
		h.Log("Marshal", handler, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(j)
}

// Коды ответов по видам ошибок домена
func (h LoyaltyHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, model.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrConflict),
		errors.Is(err, model.ErrHoldFinished),
		errors.Is(err, model.ErrQrUsed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrHoldExpired),
		errors.Is(err, model.ErrQrExpired):
		http.Error(w, err.Error(), http.StatusGone)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
