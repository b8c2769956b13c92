package pg

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// EnsureLink registers a URL under a campaign and returns its stable link cid.
// Re-registering the same URL returns the existing cid.
func (s *Store) EnsureLink(ctx context.Context, campaignID int, url string) (string, error) {
	cid := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
	row := s.DB.QueryRow(ctx, `
		INSERT INTO links (cid, campaign_id, url)
		VALUES ($1, $2, $3)
		ON CONFLICT (campaign_id, url) DO UPDATE SET url = EXCLUDED.url
		RETURNING cid
	`, cid, campaignID, url)

	var got string
	if err := row.Scan(&got); err != nil {
		return "", err
	}
	return got, nil
}
