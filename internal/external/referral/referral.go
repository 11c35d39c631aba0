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

// Клиент реферального сервиса
type ReferralClient struct {
	url    string
	client *http.Client
}

func NewReferralClient() (*ReferralClient, error) {
	// config
	host := os.Getenv("REFERRAL_HOST")
	if host == "" {
		return nil, fmt.Errorf("env REFERRAL_HOST is not set")
	}
	port := os.Getenv("REFERRAL_PORT")
	if port == "" {
		return nil, fmt.Errorf("env REFERRAL_PORT is not set")
	}

	return &ReferralClient{
		url:    host + ":" + port,
		client: &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func (r *ReferralClient) PurchaseCompleted(ctx context.Context, event interf.PurchaseEvent) error {
	return r.post(ctx, r.url+"/referral/purchase", event)
}

func (r *ReferralClient) PurchaseRefunded(ctx context.Context, event interf.PurchaseEvent) error {
	return r.post(ctx, r.url+"/referral/refund", event)
}

func (r *ReferralClient) post(ctx context.Context, url string, event interf.PurchaseEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Referral service HTTP error: %s", resp.Status)
	}
	return nil
}
