package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfridge/fridge/internal/fridge"
)

const (
	CoinbaseAPI     = "https://api.commerce.coinbase.com"
	coinbaseVersion = "2018-03-22"
	demoHostedURL   = "https://commerce.coinbase.com/checkout/demo"
	demoPrefix      = "demo_"
)

// CoinbaseGateway creates hosted charges. Without an API key it hands out
// demo charges that always read as paid, so a kiosk can run end to end
// without a merchant account.
type CoinbaseGateway struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Now     func() time.Time
}

func NewCoinbaseGateway(apiKey string) *CoinbaseGateway {
	return &CoinbaseGateway{
		BaseURL: CoinbaseAPI,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Now:     time.Now,
	}
}

func (g *CoinbaseGateway) Demo() bool { return g.APIKey == "" }

type coinbaseMoney struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type coinbaseChargeReq struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PricingType string            `json:"pricing_type"`
	LocalPrice  coinbaseMoney     `json:"local_price"`
	Metadata    map[string]string `json:"metadata"`
}

type coinbaseCharge struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	HostedURL string `json:"hosted_url"`
	Pricing   struct {
		Local coinbaseMoney `json:"local"`
	} `json:"pricing"`
	Timeline []struct {
		Status string    `json:"status"`
		Time   time.Time `json:"time"`
	} `json:"timeline"`
}

func (g *CoinbaseGateway) CreateHandle(ctx context.Context, req fridge.HandleRequest) (fridge.PaymentHandle, error) {
	if err := Validate(req); err != nil {
		return fridge.PaymentHandle{}, err
	}
	if g.Demo() {
		return fridge.PaymentHandle{
			Method:    req.Method,
			Reference: fmt.Sprintf("%s%d", demoPrefix, g.Now().UnixMilli()),
			HostedURL: demoHostedURL,
		}, nil
	}

	body := coinbaseChargeReq{
		Name:        "OpenFridge Purchase",
		Description: describeJoined(req.Items),
		PricingType: "fixed_price",
		LocalPrice:  coinbaseMoney{Amount: req.Amount.StringFixed(2), Currency: "USD"},
		Metadata:    map[string]string{"machineId": req.MachineID},
	}
	var out struct {
		Data coinbaseCharge `json:"data"`
	}
	if err := g.do(ctx, http.MethodPost, "/charges", body, &out); err != nil {
		return fridge.PaymentHandle{}, err
	}
	return fridge.PaymentHandle{
		Method:    req.Method,
		Reference: out.Data.ID,
		HostedURL: out.Data.HostedURL,
	}, nil
}

func (g *CoinbaseGateway) Status(ctx context.Context, reference string) (PaymentStatus, error) {
	if g.Demo() {
		if !strings.HasPrefix(reference, demoPrefix) {
			return PaymentStatus{}, fmt.Errorf("%w: %s is not a demo charge", ErrNotSettled, reference)
		}
		return PaymentStatus{Reference: reference, Status: StatusSucceeded, Provider: "DEMO", Demo: true}, nil
	}
	var out struct {
		Data coinbaseCharge `json:"data"`
	}
	if err := g.do(ctx, http.MethodGet, "/charges/"+reference, nil, &out); err != nil {
		return PaymentStatus{}, err
	}
	raw := ""
	if n := len(out.Data.Timeline); n > 0 {
		raw = out.Data.Timeline[n-1].Status
	}
	st := PaymentStatus{Reference: out.Data.ID, Status: NormaliseCoinbase(raw), Provider: raw}
	if amt := out.Data.Pricing.Local.Amount; amt != "" {
		if d, err := decimal.NewFromString(amt); err == nil {
			st.AmountCents = fridge.Cents(d)
		}
	}
	return st, nil
}

// NormaliseCoinbase maps the latest charge timeline status.
func NormaliseCoinbase(s string) Status {
	switch strings.ToUpper(s) {
	case "COMPLETED", "RESOLVED":
		return StatusSucceeded
	case "EXPIRED", "UNRESOLVED":
		return StatusFailed
	case "CANCELED":
		return StatusCanceled
	default:
		return StatusPending
	}
}

func (g *CoinbaseGateway) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(g.BaseURL, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CC-Api-Key", g.APIKey)
	req.Header.Set("X-CC-Version", coinbaseVersion)

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("coinbase %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("coinbase api error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
