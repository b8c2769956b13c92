package pg

import (
	"context"

	"mailcast/internal/domain"
	"mailcast/internal/store"
)

// ClaimSubscriber reserves a subscriber for a campaign by inserting the
// ledger row. The UNIQUE (campaign_id, subscriber_id) constraint is the only
// arbiter: won=false means a concurrent claimer inserted first and the caller
// should pick another candidate.
func (s *Store) ClaimSubscriber(ctx context.Context, campaignID, listID, segmentID, subscriberID int) (int, bool, error) {
	rows, err := s.DB.Query(ctx, `
		INSERT INTO delivery_records (campaign_id, list_id, segment_id, subscriber_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'claimed', now(), now())
		ON CONFLICT (campaign_id, subscriber_id) DO NOTHING
		RETURNING id
	`, campaignID, listID, nullIfZero(segmentID), subscriberID)
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, rows.Err()
	}
	var id int
	if err := rows.Scan(&id); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// FinalizeDelivery records the terminal outcome: the campaign aggregate and
// the ledger row move together. delivered is always incremented; bounced only
// when the send failed.
func (s *Store) FinalizeDelivery(ctx context.Context, in store.DeliveryOutcome) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	bounce := 0
	if in.Status == domain.DeliveryBounced {
		bounce = 1
	}
	if _, err := tx.Exec(ctx, `
		UPDATE campaigns SET delivered = delivered + 1, bounced = bounced + $2
		WHERE id=$1
	`, in.CampaignID, bounce); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE delivery_records
		SET status=$2, response=$3, response_id=$4, updated_at=$5
		WHERE id=$1
	`, in.RecordID, in.Status, in.Response, in.ResponseID, in.Now); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func nullIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
