// mock-relay is a local stand-in for the outbound mail relay API. It accepts
// composed messages, optionally fails a configurable fraction of them, and
// answers with an SMTP-style acceptance line whose last token is the message
// id, the same shape real providers echo back.
package main

import (
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"

	"mailcast/internal/logging"
	"mailcast/internal/relay"
)

type server struct {
	failPercent int
	latency     time.Duration
}

func main() {
	logging.Init("mock-relay", os.Getenv("LOG_FORMAT"))

	port := os.Getenv("PORT")
	if port == "" {
		port = "9025"
	}
	s := &server{
		failPercent: envInt("FAIL_PERCENT", 0),
		latency:     time.Duration(envInt("LATENCY_MS", 0)) * time.Millisecond,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.HandleFunc("/api/v1/messages", s.handleSend).Methods(http.MethodPost)

	slog.Info("mock relay listening", "port", port, "fail_percent", s.failPercent)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		slog.Error("mock relay failed", "err", err)
		os.Exit(1)
	}
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	var msg relay.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, relay.Response{Message: "400 invalid payload"})
		return
	}
	if msg.To.Email == "" || msg.From.Email == "" {
		writeJSON(w, http.StatusBadRequest, relay.Response{Message: "400 missing addresses"})
		return
	}

	if s.latency > 0 {
		time.Sleep(s.latency)
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()

	if s.failPercent > 0 && roll(100) < s.failPercent {
		slog.Warn("mock relay rejecting message", "to", msg.To.Email, "id", id)
		writeJSON(w, http.StatusBadGateway, relay.Response{
			ID:      id,
			Message: "550 5.1.1 mailbox unavailable " + id,
		})
		return
	}

	slog.Info("mock relay accepted message",
		"to", msg.To.Email,
		"subject", msg.Subject,
		"envelope_from", msg.EnvelopeFrom,
		"attachments", len(msg.Attachments),
		"id", id,
	)
	writeJSON(w, http.StatusOK, relay.Response{
		ID:      id,
		Message: "250 2.0.0 OK queued as " + id,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func roll(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
