package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendSuccess(t *testing.T) {
	var gotAuth string
	var gotMsg Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotMsg)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{ID: "abc123", Message: "250 2.0.0 OK queued as abc123"})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, APIKey: "k1", HTTP: srv.Client()}
	resp, status, _, err := c.Send(context.Background(), &Message{
		From:    Address{Email: "a@b"},
		To:      Address{Email: "c@d"},
		Subject: "hi",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if status != 200 || resp.ID != "abc123" {
		t.Fatalf("status=%d resp=%+v", status, resp)
	}
	if gotAuth != "Bearer k1" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotMsg.To.Email != "c@d" {
		t.Fatalf("relayed message = %+v", gotMsg)
	}
}

func TestSendRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(Response{Message: "550 5.1.1 mailbox unavailable xyz"})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTP: srv.Client()}
	resp, status, _, err := c.Send(context.Background(), &Message{To: Address{Email: "c@d"}})
	if err == nil {
		t.Fatal("expected error on 502")
	}
	if status != http.StatusBadGateway {
		t.Fatalf("status = %d", status)
	}
	// the provider's error line must survive for the delivery record
	if resp.Message != "550 5.1.1 mailbox unavailable xyz" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestResponseID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"250 2.0.0 OK queued as abc123", "abc123"},
		{"550 5.1.1 mailbox unavailable xyz", "xyz"},
		{"single", "single"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := ResponseID(tc.in); got != tc.want {
			t.Fatalf("ResponseID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
