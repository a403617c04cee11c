package payment

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHasUnlimitedAccess(t *testing.T) {
	cases := []struct {
		name    string
		cookies []*http.Cookie
		want    bool
	}{
		{"no cookies", nil, false},
		{"unrelated cookie", []*http.Cookie{{Name: "session", Value: "x"}}, false},
		{"prefixed cookie", []*http.Cookie{{Name: CookiePrefix + "a1b2", Value: "true"}}, true},
		{"prefix requires match at start", []*http.Cookie{{Name: "not-" + CookiePrefix, Value: "true"}}, false},
		{"mixed cookies", []*http.Cookie{{Name: "session", Value: "x"}, {Name: CookiePrefix + "zz", Value: "true"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for _, ck := range tc.cookies {
				req.AddCookie(ck)
			}
			if got := HasUnlimitedAccess(req); got != tc.want {
				t.Errorf("HasUnlimitedAccess() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewAccessCookieNameFormat(t *testing.T) {
	name, err := NewAccessCookieName()
	if err != nil {
		t.Fatalf("NewAccessCookieName() error: %v", err)
	}
	if !strings.HasPrefix(name, CookiePrefix) {
		t.Errorf("name %q missing prefix %q", name, CookiePrefix)
	}
	suffix := strings.TrimPrefix(name, CookiePrefix)
	if len(suffix) != 64 {
		t.Errorf("suffix length = %d, want 64 hex chars", len(suffix))
	}
	for _, r := range suffix {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Errorf("suffix contains non-hex rune %q", r)
		}
	}
}

func TestNewAccessCookieNamesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		name, err := NewAccessCookieName()
		if err != nil {
			t.Fatalf("NewAccessCookieName() error: %v", err)
		}
		if seen[name] {
			t.Fatalf("duplicate cookie name generated: %s", name)
		}
		seen[name] = true
	}
}

func TestParseWebhookWithoutSecret(t *testing.T) {
	payload := []byte(`{"event_type":"payment.completed","data":{"payment_id":"pay_123"}}`)

	event, err := ParseWebhook("", payload, http.Header{})
	if err != nil {
		t.Fatalf("ParseWebhook() error: %v", err)
	}
	if event.EventType != "payment.completed" {
		t.Errorf("EventType = %q, want %q", event.EventType, "payment.completed")
	}
	if event.Data["payment_id"] != "pay_123" {
		t.Errorf("Data[payment_id] = %v, want pay_123", event.Data["payment_id"])
	}
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	payload := []byte(`{"event_type":"payment.completed","data":{}}`)
	header := http.Header{}
	header.Set("webhook-id", "msg_test")
	header.Set("webhook-timestamp", "1700000000")
	header.Set("webhook-signature", "v1,invalidsignature")

	_, err := ParseWebhook("whsec_dGVzdHNlY3JldA==", payload, header)
	if err == nil {
		t.Fatal("ParseWebhook() accepted an invalid signature")
	}
}

func TestParseWebhookRejectsMalformedBody(t *testing.T) {
	if _, err := ParseWebhook("", []byte("not json"), http.Header{}); err == nil {
		t.Fatal("ParseWebhook() accepted a malformed body")
	}
}
