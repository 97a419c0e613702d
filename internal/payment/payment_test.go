package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"

	"github.com/openfridge/fridge/internal/fridge"
)

func handleReq(method fridge.PaymentMethod, amount string) fridge.HandleRequest {
	return fridge.HandleRequest{
		Method:    method,
		Amount:    decimal.RequireFromString(amount),
		MachineID: "m-1",
		Items:     []fridge.HandleItem{{Name: "Cold Brew", Qty: 2}},
	}
}

type fakeIntents struct {
	created *stripe.PaymentIntentParams
	intent  *stripe.PaymentIntent
	err     error
}

func (f *fakeIntents) New(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.created = p
	return f.intent, f.err
}

func (f *fakeIntents) Get(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return f.intent, f.err
}

func TestStripeCreateHandle(t *testing.T) {
	fi := &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret"}}
	g := &StripeGateway{intents: fi, currency: "usd"}

	h, err := g.CreateHandle(context.Background(), handleReq(fridge.PaymentCard, "9.98"))
	if err != nil {
		t.Fatalf("CreateHandle() error = %v", err)
	}
	if h.Reference != "pi_123" || h.ClientSecret != "pi_123_secret" {
		t.Errorf("handle = %+v", h)
	}
	if got := *fi.created.Amount; got != 998 {
		t.Errorf("amount = %d, want 998", got)
	}
	if fi.created.Metadata["machineId"] != "m-1" || fi.created.Metadata["items"] != `["2x Cold Brew"]` {
		t.Errorf("metadata = %v", fi.created.Metadata)
	}
	if !*fi.created.AutomaticPaymentMethods.Enabled {
		t.Error("automatic payment methods disabled")
	}
}

func TestStripeRejectsNonPositiveAmount(t *testing.T) {
	g := &StripeGateway{intents: &fakeIntents{}, currency: "usd"}
	if _, err := g.CreateHandle(context.Background(), handleReq(fridge.PaymentCard, "0")); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestStripeStatus(t *testing.T) {
	tests := []struct {
		in   stripe.PaymentIntentStatus
		want Status
	}{
		{stripe.PaymentIntentStatusSucceeded, StatusSucceeded},
		{stripe.PaymentIntentStatusCanceled, StatusCanceled},
		{stripe.PaymentIntentStatusProcessing, StatusPending},
		{stripe.PaymentIntentStatusRequiresPaymentMethod, StatusPending},
	}
	for _, tt := range tests {
		fi := &fakeIntents{intent: &stripe.PaymentIntent{ID: "pi_1", Status: tt.in, Amount: 499}}
		st, err := (&StripeGateway{intents: fi}).Status(context.Background(), "pi_1")
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if st.Status != tt.want || st.AmountCents != 499 {
			t.Errorf("%s: status = %+v", tt.in, st)
		}
	}
}

func TestCoinbaseDemoMode(t *testing.T) {
	g := NewCoinbaseGateway("")
	g.Now = func() time.Time { return time.UnixMilli(1700000000000) }

	h, err := g.CreateHandle(context.Background(), handleReq(fridge.PaymentCrypto, "3.50"))
	if err != nil {
		t.Fatalf("CreateHandle() error = %v", err)
	}
	if h.Reference != "demo_1700000000000" || h.HostedURL != demoHostedURL {
		t.Errorf("handle = %+v", h)
	}
	st, err := g.Status(context.Background(), h.Reference)
	if err != nil || st.Status != StatusSucceeded || !st.Demo {
		t.Errorf("Status() = %+v, %v", st, err)
	}
	if _, err := g.Status(context.Background(), "ch_real"); !errors.Is(err, ErrNotSettled) {
		t.Errorf("Status() of a non-demo reference in demo mode = %v", err)
	}
}

func TestCoinbaseLiveKeyIgnoresDemoPrefix(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	g := NewCoinbaseGateway("live-key")
	g.BaseURL = srv.URL
	reg := NewRegistry()
	reg.Register(g, fridge.PaymentCrypto)

	if err := reg.Verify(context.Background(), fridge.PaymentCrypto, "demo_forged", 999999); err == nil {
		t.Error("Verify() accepted a demo reference with a live key")
	}
	if hits != 1 {
		t.Errorf("provider hits = %d, want 1", hits)
	}
}

func TestCoinbaseCreateAndStatus(t *testing.T) {
	var got coinbaseChargeReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-CC-Api-Key") != "cb-key" || r.Header.Get("X-CC-Version") != coinbaseVersion {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/charges":
			_ = json.NewDecoder(r.Body).Decode(&got)
			_, _ = w.Write([]byte(`{"data":{"id":"ch_1","hosted_url":"https://commerce.coinbase.com/charges/ABC"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/charges/ch_1":
			_, _ = w.Write([]byte(`{"data":{"id":"ch_1","pricing":{"local":{"amount":"9.98","currency":"USD"}},
				"timeline":[{"status":"NEW"},{"status":"PENDING"},{"status":"COMPLETED"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := NewCoinbaseGateway("cb-key")
	g.BaseURL = srv.URL

	h, err := g.CreateHandle(context.Background(), handleReq(fridge.PaymentCrypto, "9.98"))
	if err != nil {
		t.Fatalf("CreateHandle() error = %v", err)
	}
	if h.Reference != "ch_1" || !strings.HasSuffix(h.HostedURL, "/ABC") {
		t.Errorf("handle = %+v", h)
	}
	if got.LocalPrice.Amount != "9.98" || got.PricingType != "fixed_price" || got.Description != "2x Cold Brew" {
		t.Errorf("charge request = %+v", got)
	}

	st, err := g.Status(context.Background(), "ch_1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Status != StatusSucceeded || st.AmountCents != 998 || st.Provider != "COMPLETED" {
		t.Errorf("status = %+v", st)
	}
}

func TestCoinbaseNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewCoinbaseGateway("nope")
	g.BaseURL = srv.URL
	if _, err := g.CreateHandle(context.Background(), handleReq(fridge.PaymentCrypto, "1.00")); err == nil {
		t.Error("expected error on 401")
	}
}

func TestNormaliseCoinbase(t *testing.T) {
	tests := map[string]Status{
		"NEW": StatusPending, "PENDING": StatusPending, "COMPLETED": StatusSucceeded,
		"RESOLVED": StatusSucceeded, "EXPIRED": StatusFailed, "UNRESOLVED": StatusFailed, "CANCELED": StatusCanceled,
	}
	for in, want := range tests {
		if got := NormaliseCoinbase(in); got != want {
			t.Errorf("NormaliseCoinbase(%s) = %s, want %s", in, got, want)
		}
	}
}

type staticGateway struct {
	status PaymentStatus
}

func (staticGateway) CreateHandle(_ context.Context, req fridge.HandleRequest) (fridge.PaymentHandle, error) {
	return fridge.PaymentHandle{Reference: "ref"}, nil
}

func (g staticGateway) Status(context.Context, string) (PaymentStatus, error) { return g.status, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(staticGateway{status: PaymentStatus{Status: StatusSucceeded, AmountCents: 998}}, fridge.PaymentCard, fridge.PaymentWallet)

	h, err := r.CreateHandle(context.Background(), handleReq(fridge.PaymentWallet, "9.98"))
	if err != nil || h.Method != fridge.PaymentWallet {
		t.Fatalf("CreateHandle() = %+v, %v", h, err)
	}
	if _, err := r.CreateHandle(context.Background(), handleReq(fridge.PaymentCrypto, "9.98")); !errors.Is(err, ErrUnsupportedMethod) {
		t.Errorf("crypto err = %v", err)
	}

	if err := r.Verify(context.Background(), fridge.PaymentCard, "ref", 998); err != nil {
		t.Errorf("Verify() = %v", err)
	}
	if err := r.Verify(context.Background(), fridge.PaymentCard, "ref", 1000); !errors.Is(err, ErrAmountMismatch) {
		t.Errorf("Verify() mismatch err = %v", err)
	}

	r.Register(staticGateway{status: PaymentStatus{Status: StatusSucceeded}}, fridge.PaymentCard)
	if err := r.Verify(context.Background(), fridge.PaymentCard, "ref", 998); !errors.Is(err, ErrAmountMismatch) {
		t.Errorf("Verify() without a provider amount err = %v", err)
	}

	r.Register(staticGateway{status: PaymentStatus{Status: StatusPending}}, fridge.PaymentCard)
	if err := r.Verify(context.Background(), fridge.PaymentCard, "ref", 998); !errors.Is(err, ErrNotSettled) {
		t.Errorf("Verify() pending err = %v", err)
	}
}
