package webhooks

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/ringdesk/ringdesk-backend/internal/events"
)

const testTelephonySecret = "tel_secret"

func buildSignedCallEnded(t *testing.T) ([]byte, string, string) {
	t.Helper()

	data, err := json.Marshal(events.CallEndedPayload{
		CallID:          "call_" + uuid.NewString(),
		AccountID:       uuid.New(),
		DurationSeconds: 90,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	eventID := "tel_" + uuid.NewString()
	payload, err := json.Marshal(telephonyEventRequest{
		ID:   eventID,
		Type: events.EventCallEnded,
		Data: data,
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(testTelephonySecret))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))
	return payload, signature, eventID
}

func TestTelephonyWebhookProcessesSignedEvent(t *testing.T) {
	payload, signature, eventID := buildSignedCallEnded(t)
	gateway := &fakeGateway{}
	handler := TelephonyWebhook(gateway, newFakeGuard(), testTelephonySecret, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/telephony", bytes.NewReader(payload))
	req.Header.Set(telephonySignatureHeader, signature)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if gateway.calls != 1 {
		t.Fatalf("expected one ingest call, got %d", gateway.calls)
	}
	if gateway.lastID != eventID {
		t.Fatalf("expected event id %s, got %s", eventID, gateway.lastID)
	}
}

func TestTelephonyWebhookRejectsBadSignature(t *testing.T) {
	payload, _, _ := buildSignedCallEnded(t)
	gateway := &fakeGateway{}
	handler := TelephonyWebhook(gateway, newFakeGuard(), testTelephonySecret, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/telephony", bytes.NewReader(payload))
	req.Header.Set(telephonySignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if gateway.calls != 0 {
		t.Fatal("gateway must not run on invalid signature")
	}
}

func TestTelephonyWebhookRequiresEventID(t *testing.T) {
	payload, err := json.Marshal(telephonyEventRequest{Type: events.EventCallEnded})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	mac := hmac.New(sha256.New, []byte(testTelephonySecret))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	gateway := &fakeGateway{}
	handler := TelephonyWebhook(gateway, newFakeGuard(), testTelephonySecret, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/telephony", bytes.NewReader(payload))
	req.Header.Set(telephonySignatureHeader, signature)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
