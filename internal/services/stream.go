package loyalty

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	model "github.com/kh827y/loyalty/internal/models"
	"go.uber.org/zap"
)

// Заказ из потока: оплачен без участия кассы, только начисление
type OrderMessage struct {
	MerchantID uuid.UUID  `json:"merchantId"`
	CustomerID uuid.UUID  `json:"customerId"`
	OrderID    string     `json:"orderId"`
	Items      []RawItem  `json:"items"`
	OutletID   *uuid.UUID `json:"outletId"`
	StaffID    *uuid.UUID `json:"staffId"`
}

// Начисление по заказу из Kafka: расчет и коммит одним шагом.
// Отказ по правилам программы не ошибка, заказ считается обработанным.
func (s *LoyaltyService) ProcessOrder(ctx context.Context, orderJson string) error {
	var msg OrderMessage
	if err := json.Unmarshal([]byte(orderJson), &msg); err != nil {
		return fmt.Errorf("%w: order message: %s", model.ErrValidation, err)
	}
	if msg.OrderID == "" {
		return fmt.Errorf("%w: order id is required", model.ErrValidation)
	}

	quote, err := s.Quote(ctx, QuoteRequest{
		MerchantID: msg.MerchantID,
		CustomerID: msg.CustomerID,
		Mode:       model.ModeEarn,
		OrderID:    msg.OrderID,
		Items:      msg.Items,
		OutletID:   msg.OutletID,
		StaffID:    msg.StaffID,
	}, nil)
	if err != nil {
		return err
	}
	if quote.Declined {
		s.logger.Info("order earn declined",
			zap.String("order", msg.OrderID),
			zap.String("reason", quote.Reason),
		)
		return nil
	}

	_, err = s.Commit(ctx, CommitRequest{
		HoldID:     *quote.HoldID,
		MerchantID: msg.MerchantID,
		OrderID:    msg.OrderID,
		OutletID:   msg.OutletID,
		StaffID:    msg.StaffID,
	})
	return err
}

// Заявка на списание от кассы
type RedeemMessage struct {
	RedeemID   string     `json:"redeemId"`
	MerchantID uuid.UUID  `json:"merchantId"`
	CustomerID uuid.UUID  `json:"customerId"`
	OrderID    string     `json:"orderId"`
	Items      []RawItem  `json:"items"`
	RedeemCap  int64      `json:"redeemCap"`
	OutletID   *uuid.UUID `json:"outletId"`
	StaffID    *uuid.UUID `json:"staffId"`
	Qr         *QrMeta    `json:"qr"`
}

// Списание по заявке из RabbitMQ: расчет и коммит одним шагом.
// Возвращает id заявки для подтверждения и причину отказа, если отказано.
func (s *LoyaltyService) ProcessRedeem(ctx context.Context, redeemJson string) (redeemId string, reason string, err error) {
	var msg RedeemMessage
	if err = json.Unmarshal([]byte(redeemJson), &msg); err != nil {
		return "", "", fmt.Errorf("%w: redeem message: %s", model.ErrValidation, err)
	}
	if msg.RedeemID == "" {
		return "", "", fmt.Errorf("%w: redeem id is required", model.ErrValidation)
	}

	quote, err := s.Quote(ctx, QuoteRequest{
		MerchantID: msg.MerchantID,
		CustomerID: msg.CustomerID,
		Mode:       model.ModeRedeem,
		OrderID:    msg.OrderID,
		Items:      msg.Items,
		RedeemCap:  msg.RedeemCap,
		OutletID:   msg.OutletID,
		StaffID:    msg.StaffID,
	}, msg.Qr)
	if err != nil {
		return msg.RedeemID, "", err
	}
	if quote.Declined {
		return msg.RedeemID, quote.Reason, nil
	}

	_, err = s.Commit(ctx, CommitRequest{
		HoldID:     *quote.HoldID,
		MerchantID: msg.MerchantID,
		OrderID:    msg.OrderID,
		OutletID:   msg.OutletID,
		StaffID:    msg.StaffID,
	})
	if err != nil {
		return msg.RedeemID, "", err
	}
	return msg.RedeemID, "", nil
}

// Возврат из потока
type ReturnMessage struct {
	MerchantID uuid.UUID  `json:"merchantId"`
	OrderID    string     `json:"orderId"`
	ReceiptID  *uuid.UUID `json:"receiptId"`
}

// Возврат по сообщению из Kafka
func (s *LoyaltyService) ProcessReturn(ctx context.Context, returnJson string) error {
	var msg ReturnMessage
	if err := json.Unmarshal([]byte(returnJson), &msg); err != nil {
		return fmt.Errorf("%w: return message: %s", model.ErrValidation, err)
	}

	_, err := s.Refund(ctx, RefundRequest{
		MerchantID: msg.MerchantID,
		ReceiptID:  msg.ReceiptID,
		OrderID:    msg.OrderID,
	})
	return err
}
