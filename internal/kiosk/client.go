package kiosk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/openfridge/fridge/internal/fridge"
	"github.com/openfridge/fridge/internal/payment"
)

// APIError is a non-2xx answer from the fridge API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: %d", e.Status)
	}
	return fmt.Sprintf("api error: %d: %s", e.Status, e.Message)
}

// APIClient is the kiosk side of cmd/api. Callers bound each call with
// their own context deadline.
type APIClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{}}
}

func (c *APIClient) CreateHandle(ctx context.Context, req fridge.HandleRequest) (fridge.PaymentHandle, error) {
	var h fridge.PaymentHandle
	err := c.do(ctx, http.MethodPost, "/checkout/handle", req, &h)
	return h, err
}

func (c *APIClient) Settle(ctx context.Context, req fridge.SettleRequest) (fridge.SettleResult, error) {
	var res fridge.SettleResult
	err := c.do(ctx, http.MethodPost, "/checkout/settle", req, &res)
	return res, err
}

func (c *APIClient) PaymentStatus(ctx context.Context, m fridge.PaymentMethod, reference string) (payment.PaymentStatus, error) {
	var st payment.PaymentStatus
	path := "/checkout/payments/" + url.PathEscape(reference) + "?method=" + url.QueryEscape(string(m))
	err := c.do(ctx, http.MethodGet, path, nil, &st)
	return st, err
}

func (c *APIClient) Catalog(ctx context.Context, machineID string) (fridge.Catalog, error) {
	var cat fridge.Catalog
	err := c.do(ctx, http.MethodGet, "/machines/"+url.PathEscape(machineID)+"/catalog", nil, &cat)
	return cat, err
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
