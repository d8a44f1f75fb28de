package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ringdesk/ringdesk-backend/pkg/config"
)

func testConfig(url string) config.TelephonyConfig {
	return config.TelephonyConfig{
		BaseURL:                 url,
		APIKey:                  "tk_test",
		WebhookSecret:           "whsec",
		MaxConcurrentProvisions: 2,
		RequestTimeout:          2 * time.Second,
		RetryMax:                0,
	}
}

func TestProvisionNumbersReturnsRequestedCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/numbers/provision" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tk_test" {
			t.Fatalf("missing auth header, got %q", got)
		}
		var req struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"numbers": []string{"+15550000001", "+15550000002"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	numbers, err := client.ProvisionNumbers(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(numbers) != 2 {
		t.Fatalf("expected 2 numbers, got %d", len(numbers))
	}
}

func TestProvisionNumbersShortResponseIsExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"numbers": []string{"+15550000001"}})
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := client.ProvisionNumbers(context.Background(), 3); !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("expected inventory error, got %v", err)
	}
}

func TestProvisionNumbersConflictIsExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := client.ProvisionNumbers(context.Background(), 1); !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("expected inventory error, got %v", err)
	}
}

func TestReleaseNumberTreatsNotFoundAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := client.ReleaseNumber(context.Background(), "+15550000001"); err != nil {
		t.Fatalf("expected idempotent release, got %v", err)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	cfg := testConfig("")
	if _, err := NewClient(cfg); err == nil {
		t.Fatal("expected error for missing base url")
	}
}
