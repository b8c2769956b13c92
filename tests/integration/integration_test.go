//go:build integration
// +build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailcast/internal/domain"
	"mailcast/internal/segment"
	"mailcast/internal/sender"
	"mailcast/internal/store"
	"mailcast/internal/store/pg"
)

func TestClaimLedgerExactlyOnce(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	listID := seedList(t, db, "l-claim", "Claims")
	subID := seedSubscriber(t, db, listID, "s-1", "one@example.net", "subscribed", nil)
	campaignID := seedCampaign(t, db, listID, "c-claim", "sending")

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, won, err := st.ClaimSubscriber(ctx, campaignID, listID, 0, subID)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if won {
				wins <- id
			}
		}()
	}
	wg.Wait()
	close(wins)

	if len(wins) != 1 {
		t.Fatalf("claim won %d times, want exactly once", len(wins))
	}

	var count int
	err := db.QueryRow(ctx, `SELECT count(*) FROM delivery_records WHERE campaign_id=$1`, campaignID).Scan(&count)
	if err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != 1 {
		t.Fatalf("ledger rows = %d, want 1", count)
	}
}

func TestClaimerDrivesCampaignToFinished(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	listID := seedList(t, db, "l-drive", "Drive")
	seedSubscriber(t, db, listID, "s-a", "a@example.net", "subscribed", nil)
	seedSubscriber(t, db, listID, "s-b", "b@example.net", "subscribed", nil)
	seedSubscriber(t, db, listID, "s-c", "c@example.net", "unsubscribed", nil)
	campaignID := seedCampaign(t, db, listID, "c-drive", "sending")

	claimer := &sender.Claimer{Store: st, Segments: &segment.Resolver{Store: st}}

	var units []*domain.ClaimedUnit
	for {
		unit, err := claimer.ClaimNext(ctx)
		if errors.Is(err, domain.ErrNoWork) {
			break
		}
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		units = append(units, unit)
	}

	if len(units) != 2 {
		t.Fatalf("claimed %d units, want the 2 subscribed members", len(units))
	}
	assertCampaignStatus(t, db, campaignID, "finished")

	// the transition already happened; a second attempt is a no-op
	again, err := st.FinishCampaign(ctx, campaignID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if again {
		t.Fatal("finish transition fired twice")
	}
}

func TestSegmentedClaimRespectsRules(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	listID := seedList(t, db, "l-seg", "Segmented")
	seedSubscriber(t, db, listID, "s-free", "free@example.net", "subscribed", map[string]string{"plan": "free"})
	proID := seedSubscriber(t, db, listID, "s-pro", "pro@example.net", "subscribed", map[string]string{"plan": "pro"})

	var segmentID int
	err := db.QueryRow(ctx, `
		INSERT INTO segments (list_id, name, match_type, rules)
		VALUES ($1, 'pro plan', 'all', '[{"field":"plan","op":"eq","value":"pro"}]')
		RETURNING id
	`, listID).Scan(&segmentID)
	if err != nil {
		t.Fatalf("insert segment: %v", err)
	}
	campaignID := seedSegmentedCampaign(t, db, listID, segmentID, "c-seg", "sending")

	claimer := &sender.Claimer{Store: st, Segments: &segment.Resolver{Store: st}}

	unit, err := claimer.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if unit.Subscriber.ID != proID {
		t.Fatalf("claimed subscriber %d, want the segment match %d", unit.Subscriber.ID, proID)
	}

	if _, err := claimer.ClaimNext(ctx); !errors.Is(err, domain.ErrNoWork) {
		t.Fatalf("expected no work after the only match, got %v", err)
	}
	assertCampaignStatus(t, db, campaignID, "finished")
}

func TestFinalizeDeliveryMovesAggregatesAndLedger(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	listID := seedList(t, db, "l-fin", "Finalize")
	okID := seedSubscriber(t, db, listID, "s-ok", "ok@example.net", "subscribed", nil)
	badID := seedSubscriber(t, db, listID, "s-bad", "bad@example.net", "subscribed", nil)
	campaignID := seedCampaign(t, db, listID, "c-fin", "sending")

	now := time.Now().UTC()

	recOK, won, err := st.ClaimSubscriber(ctx, campaignID, listID, 0, okID)
	if err != nil || !won {
		t.Fatalf("claim ok: %v won=%v", err, won)
	}
	if err := st.FinalizeDelivery(ctx, store.DeliveryOutcome{
		RecordID: recOK, CampaignID: campaignID,
		Status: domain.DeliveryDelivered, Response: "250 2.0.0 OK queued as q9", ResponseID: "q9", Now: now,
	}); err != nil {
		t.Fatalf("finalize ok: %v", err)
	}

	recBad, won, err := st.ClaimSubscriber(ctx, campaignID, listID, 0, badID)
	if err != nil || !won {
		t.Fatalf("claim bad: %v won=%v", err, won)
	}
	if err := st.FinalizeDelivery(ctx, store.DeliveryOutcome{
		RecordID: recBad, CampaignID: campaignID,
		Status: domain.DeliveryBounced, Response: "550 5.1.1 mailbox unavailable x7", ResponseID: "x7", Now: now,
	}); err != nil {
		t.Fatalf("finalize bad: %v", err)
	}

	var delivered, bounced int
	err = db.QueryRow(ctx, `SELECT delivered, bounced FROM campaigns WHERE id=$1`, campaignID).Scan(&delivered, &bounced)
	if err != nil {
		t.Fatalf("select campaign: %v", err)
	}
	if delivered != 2 || bounced != 1 {
		t.Fatalf("delivered=%d bounced=%d, want 2 and 1", delivered, bounced)
	}

	var status, responseID string
	err = db.QueryRow(ctx, `SELECT status, response_id FROM delivery_records WHERE id=$1`, recBad).Scan(&status, &responseID)
	if err != nil {
		t.Fatalf("select record: %v", err)
	}
	if status != "bounced" || responseID != "x7" {
		t.Fatalf("record status=%q response_id=%q", status, responseID)
	}
}

func TestEnsureLinkStableCID(t *testing.T) {
	ctx := context.Background()
	db, cleanup := setupTestDB(t)
	defer cleanup()

	st := pg.New(db)
	listID := seedList(t, db, "l-lnk", "Links")
	campaignID := seedCampaign(t, db, listID, "c-lnk", "sending")

	first, err := st.EnsureLink(ctx, campaignID, "https://example.com/a")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := st.EnsureLink(ctx, campaignID, "https://example.com/a")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first != second {
		t.Fatalf("cid changed for the same url: %q vs %q", first, second)
	}

	other, err := st.EnsureLink(ctx, campaignID, "https://example.com/b")
	if err != nil {
		t.Fatalf("ensure other: %v", err)
	}
	if other == first {
		t.Fatal("distinct urls share a cid")
	}
}

func seedList(t *testing.T, db *pgxpool.Pool, cid, name string) int {
	t.Helper()
	var id int
	err := db.QueryRow(context.Background(), `
		INSERT INTO lists (cid, name) VALUES ($1, $2) RETURNING id
	`, cid, name).Scan(&id)
	if err != nil {
		t.Fatalf("insert list: %v", err)
	}
	return id
}

func seedSubscriber(t *testing.T, db *pgxpool.Pool, listID int, cid, email, status string, fields map[string]string) int {
	t.Helper()
	if fields == nil {
		fields = map[string]string{}
	}
	var id int
	err := db.QueryRow(context.Background(), `
		INSERT INTO subscribers (list_id, cid, email, first_name, last_name, status, fields)
		VALUES ($1, $2, $3, 'Test', 'Person', $4, $5) RETURNING id
	`, listID, cid, email, status, fields).Scan(&id)
	if err != nil {
		t.Fatalf("insert subscriber: %v", err)
	}
	return id
}

func seedCampaign(t *testing.T, db *pgxpool.Pool, listID int, cid, status string) int {
	t.Helper()
	return seedSegmentedCampaign(t, db, listID, 0, cid, status)
}

func seedSegmentedCampaign(t *testing.T, db *pgxpool.Pool, listID, segmentID int, cid, status string) int {
	t.Helper()
	var seg any
	if segmentID != 0 {
		seg = segmentID
	}
	var id int
	err := db.QueryRow(context.Background(), `
		INSERT INTO campaigns (cid, list_id, segment_id, name, from_name, from_email, subject, html, text, status)
		VALUES ($1, $2, $3, 'Test campaign', 'Acme', 'news@acme.example', 'Hi', '<p>Hi</p>', 'Hi', $4)
		RETURNING id
	`, cid, listID, seg, status).Scan(&id)
	if err != nil {
		t.Fatalf("insert campaign: %v", err)
	}
	return id
}

func assertCampaignStatus(t *testing.T, db *pgxpool.Pool, campaignID int, want string) {
	t.Helper()
	var got string
	err := db.QueryRow(context.Background(), `SELECT status FROM campaigns WHERE id=$1`, campaignID).Scan(&got)
	if err != nil {
		t.Fatalf("select status: %v", err)
	}
	if got != want {
		t.Fatalf("campaign status = %q, want %q", got, want)
	}
}

func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN not set")
	}

	schema := fmt.Sprintf("test_%d", time.Now().UnixNano())
	admin, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect admin db: %v", err)
	}

	_, err = admin.Exec(context.Background(), "CREATE SCHEMA "+schema)
	if err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}

	dbDSN, err := withSearchPath(dsn, schema)
	if err != nil {
		admin.Close()
		t.Fatalf("build dsn: %v", err)
	}

	db, err := pgxpool.New(context.Background(), dbDSN)
	if err != nil {
		admin.Close()
		t.Fatalf("connect test db: %v", err)
	}

	sqlPath := filepath.Join("..", "..", "migrations", "001_init.sql")
	sqlBytes, err := os.ReadFile(sqlPath)
	if err != nil {
		db.Close()
		admin.Close()
		t.Fatalf("read migrations: %v", err)
	}

	if _, err := db.Exec(context.Background(), string(sqlBytes)); err != nil {
		db.Close()
		admin.Close()
		t.Fatalf("run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	}

	return db, cleanup
}

func withSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	q := u.Query()
	opts := q.Get("options")
	if opts != "" {
		opts = opts + " -c search_path=" + schema
	} else {
		opts = "-c search_path=" + schema
	}
	q.Set("options", opts)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
