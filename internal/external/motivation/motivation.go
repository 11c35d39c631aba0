package loyalty

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	interf "github.com/kh827y/loyalty/internal/interfaces"
)

// Клиент сервиса мотивации персонала
type MotivationClient struct {
	url    string
	client *http.Client
}

func NewMotivationClient() (*MotivationClient, error) {
	// config
	host := os.Getenv("MOTIVATION_HOST")
	if host == "" {
		return nil, fmt.Errorf("env MOTIVATION_HOST is not set")
	}
	port := os.Getenv("MOTIVATION_PORT")
	if port == "" {
		return nil, fmt.Errorf("env MOTIVATION_PORT is not set")
	}

	return &MotivationClient{
		url:    host + ":" + port,
		client: &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func (m *MotivationClient) RecordPurchase(ctx context.Context, event interf.PurchaseEvent) error {
	return m.post(ctx, m.url+"/motivation/purchase", event)
}

func (m *MotivationClient) RecordRefund(ctx context.Context, event interf.PurchaseEvent) error {
	return m.post(ctx, m.url+"/motivation/refund", event)
}

func (m *MotivationClient) post(ctx context.Context, url string, event interf.PurchaseEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Motivation service HTTP error: %s", resp.Status)
	}
	return nil
}
