package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPAddr != ":8081" {
		t.Errorf("HTTPAddr = %q, want :8081", cfg.HTTPAddr)
	}
	if cfg.Kiosk.InactivityTimeout != 90*time.Second {
		t.Errorf("InactivityTimeout = %v, want 90s", cfg.Kiosk.InactivityTimeout)
	}
	if cfg.Kiosk.ReceiptCountdown != 15*time.Second {
		t.Errorf("ReceiptCountdown = %v, want 15s", cfg.Kiosk.ReceiptCountdown)
	}
	if !cfg.VerifyPayments {
		t.Error("VerifyPayments should default to true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")
	t.Setenv("KIOSK_SETTLE_TIMEOUT", "7")
	t.Setenv("KIOSK_HANDLE_TIMEOUT", "1500ms")
	t.Setenv("VERIFY_PAYMENTS", "false")

	cfg := Load()
	if want := []string{"a:9092", "b:9092"}; !reflect.DeepEqual(cfg.KafkaBrokers, want) {
		t.Errorf("KafkaBrokers = %v, want %v", cfg.KafkaBrokers, want)
	}
	if cfg.Kiosk.SettleTimeout != 7*time.Second {
		t.Errorf("SettleTimeout = %v, want 7s", cfg.Kiosk.SettleTimeout)
	}
	if cfg.Kiosk.HandleTimeout != 1500*time.Millisecond {
		t.Errorf("HandleTimeout = %v, want 1.5s", cfg.Kiosk.HandleTimeout)
	}
	if cfg.VerifyPayments {
		t.Error("VerifyPayments should be false")
	}
}
