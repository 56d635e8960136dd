package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/boostgram/backend/internal/models"
)

type HTTPAdapter struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type submitBody struct {
	OrderID  string  `json:"order_id"`
	Service  string  `json:"service"`
	Link     string  `json:"link"`
	Quantity int     `json:"quantity"`
	Charge   float64 `json:"charge"`
}

type statusBody struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

func (h HTTPAdapter) Submit(ctx context.Context, o models.Order) error {
	if h.Client == nil {
		h.Client = &http.Client{Timeout: 15 * time.Second}
	}

	payload := submitBody{
		OrderID:  o.ID,
		Service:  o.ServiceID,
		Link:     o.Link,
		Quantity: o.Quantity,
		Charge:   o.TotalCost,
	}
	b, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/orders", bytes.NewBuffer(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", h.APIKey)

	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return errors.New("provider submit failed: " + resp.Status)
	}
	return nil
}

func (h HTTPAdapter) Status(ctx context.Context, orderID string) (models.OrderStatus, error) {
	if h.Client == nil {
		h.Client = &http.Client{Timeout: 15 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/orders/"+orderID+"/status", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Api-Key", h.APIKey)

	resp, err := h.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.New("provider status failed: " + resp.Status)
	}

	var body statusBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	status := models.OrderStatus(body.Status)
	if !status.Valid() {
		return "", errors.New("provider returned unknown status " + body.Status)
	}
	return status, nil
}
