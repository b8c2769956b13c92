// seed prepares a local database for a sender run: schema, installation
// settings, one list with fields and a segment, a batch of subscribers and a
// campaign already in sending state.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"mailcast/internal/config"
	"mailcast/internal/logging"
)

const campaignHTML = `<h1>Hello [FIRST_NAME/friend]!</h1>
<p>Fresh picks for the [CITY/your city] area.</p>
<p><a href="https://example.com/catalog">Browse the catalog</a></p>
<img src="data:image/gif;base64,R0lGODlhAQABAAAAACw=" alt="pixel">
<p><a href="[LINK_UNSUBSCRIBE]">Unsubscribe</a> &middot; <a href="[LINK_BROWSER]">View in browser</a></p>`

const campaignText = `Hello [FIRST_NAME/friend]!

Unsubscribe: [LINK_UNSUBSCRIBE]`

func main() {
	cfg := config.LoadSeed()
	logging.Init("seed", cfg.LogFormat)

	ctx := context.Background()
	db, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		slog.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if schema, err := os.ReadFile("migrations/001_init.sql"); err == nil {
		if _, err := db.Exec(ctx, string(schema)); err != nil {
			slog.Error("apply schema failed", "err", err)
			os.Exit(1)
		}
		slog.Info("schema applied")
	}

	for k, v := range map[string]string{
		"service_url":   cfg.ServiceURL,
		"verp_use":      "true",
		"verp_hostname": "bounces.localhost",
	} {
		if _, err := db.Exec(ctx, `
			INSERT INTO settings (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
		`, k, v); err != nil {
			fatal("seed settings", err)
		}
	}

	var listID int
	err = db.QueryRow(ctx, `SELECT id FROM lists WHERE name='Weekly Digest'`).Scan(&listID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = db.QueryRow(ctx, `
			INSERT INTO lists (cid, name) VALUES ($1, 'Weekly Digest') RETURNING id
		`, newCID()).Scan(&listID)
	}
	if err != nil {
		fatal("seed list", err)
	}

	if _, err := db.Exec(ctx, `
		INSERT INTO fields (list_id, key, label, merge_tag, type, options, visible) VALUES
		($1, 'city', 'City', 'CITY', 'text', '[]', true),
		($1, 'plan', 'Plan', 'PLAN', 'option-set',
		 '[{"key":"free","label":"Free","mergeTag":"PLAN_FREE"},{"key":"pro","label":"Pro","mergeTag":"PLAN_PRO"}]',
		 true)
		ON CONFLICT (list_id, key) DO NOTHING
	`, listID); err != nil {
		fatal("seed fields", err)
	}

	if _, err := db.Exec(ctx, `
		INSERT INTO segments (list_id, name, match_type, rules)
		VALUES ($1, 'Pro plan', 'all', '[{"field":"plan","op":"like","value":"%pro%"}]')
		ON CONFLICT (list_id, name) DO NOTHING
	`, listID); err != nil {
		fatal("seed segment", err)
	}

	for i := 0; i < cfg.Subscribers; i++ {
		city := "Värmdö"
		if i%2 == 0 {
			city = "Lund"
		}
		plan := "free"
		if i%3 == 0 {
			plan = "pro"
		}
		fields := fmt.Sprintf(`{"city": %q, "plan": %q}`, city, plan)
		if _, err := db.Exec(ctx, `
			INSERT INTO subscribers (list_id, cid, email, first_name, last_name, status, fields)
			VALUES ($1, $2, $3, $4, $5, 'subscribed', $6)
			ON CONFLICT (list_id, email) DO NOTHING
		`, listID, newCID(), fmt.Sprintf("subscriber%03d@example.net", i),
			fmt.Sprintf("Sub%03d", i), "Tester", fields); err != nil {
			fatal("seed subscribers", err)
		}
	}

	var exists bool
	if err := db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM campaigns WHERE name='Weekly digest #1')
	`).Scan(&exists); err != nil {
		fatal("seed campaign", err)
	}
	if !exists {
		if _, err := db.Exec(ctx, `
			INSERT INTO campaigns (cid, list_id, segment_id, name, from_name, from_email,
			                       subject, html, text, status, status_change)
			VALUES ($1, $2, NULL, 'Weekly digest #1', 'Mailcast', 'digest@example.org',
			        'Hi [FIRST_NAME/there], your weekly digest', $3, $4, 'sending', now())
		`, newCID(), listID, campaignHTML, campaignText); err != nil {
			fatal("seed campaign", err)
		}
	}

	slog.Info("seeding done", "list_id", listID, "subscribers", cfg.Subscribers)
}

func newCID() string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String())
}

func fatal(what string, err error) {
	slog.Error(what+" failed", "err", err)
	os.Exit(1)
}
