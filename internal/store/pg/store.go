package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailcast/internal/domain"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// NextSendingCampaign returns an arbitrary campaign in sending state, or
// found=false when none exists.
func (s *Store) NextSendingCampaign(ctx context.Context) (domain.Campaign, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, cid, list_id, COALESCE(segment_id, 0), status
		FROM campaigns WHERE status='sending'
		ORDER BY id LIMIT 1
	`)
	var c domain.Campaign
	err := row.Scan(&c.ID, &c.CID, &c.ListID, &c.SegmentID, &c.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Campaign{}, false, nil
		}
		return domain.Campaign{}, false, err
	}
	return c, true, nil
}

func (s *Store) GetCampaign(ctx context.Context, id int) (domain.Campaign, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, cid, list_id, COALESCE(segment_id, 0), name, from_name, from_email,
		       subject, html, text, status, delivered, bounced
		FROM campaigns WHERE id=$1
	`, id)
	var c domain.Campaign
	err := row.Scan(&c.ID, &c.CID, &c.ListID, &c.SegmentID, &c.Name, &c.FromName,
		&c.FromEmail, &c.Subject, &c.HTML, &c.Text, &c.Status, &c.Delivered, &c.Bounced)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Campaign{}, false, nil
		}
		return domain.Campaign{}, false, err
	}
	return c, true, nil
}

// FinishCampaign moves a campaign from sending to finished. The status guard
// makes the transition fire exactly once under repeated polls.
func (s *Store) FinishCampaign(ctx context.Context, id int) (bool, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status='finished', status_change=now()
		WHERE id=$1 AND status='sending'
	`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}
