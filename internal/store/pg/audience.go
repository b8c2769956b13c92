package pg

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"mailcast/internal/domain"
)

func (s *Store) GetList(ctx context.Context, id int) (domain.List, bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT id, cid, name FROM lists WHERE id=$1`, id)
	var l domain.List
	err := row.Scan(&l.ID, &l.CID, &l.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.List{}, false, nil
		}
		return domain.List{}, false, err
	}
	return l, true, nil
}

// NextUnclaimedSubscriber selects one subscribed member of the list matching
// the segment clause who has no delivery record for the campaign yet. The
// clause comes from segment.Resolver with placeholders numbered after $2.
func (s *Store) NextUnclaimedSubscriber(ctx context.Context, campaignID, listID int, clause string, args []any) (domain.Subscriber, bool, error) {
	q := `
		SELECT s.id, s.list_id, s.cid, s.email, s.first_name, s.last_name, s.status, s.fields
		FROM subscribers s
		WHERE s.list_id = $1
		  AND s.status = 'subscribed'
		  AND NOT EXISTS (
			SELECT 1 FROM delivery_records d
			WHERE d.campaign_id = $2 AND d.subscriber_id = s.id
		  )`
	if clause != "" {
		q += ` AND (` + clause + `)`
	}
	q += ` ORDER BY s.id LIMIT 1`

	all := append([]any{listID, campaignID}, args...)
	row := s.DB.QueryRow(ctx, q, all...)

	var sub domain.Subscriber
	var fields []byte
	err := row.Scan(&sub.ID, &sub.ListID, &sub.CID, &sub.Email, &sub.FirstName,
		&sub.LastName, &sub.Status, &fields)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscriber{}, false, nil
		}
		return domain.Subscriber{}, false, err
	}
	_ = json.Unmarshal(fields, &sub.Fields)
	return sub, true, nil
}

func (s *Store) GetSegment(ctx context.Context, id int) (domain.Segment, bool, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT id, list_id, name, match_type, rules FROM segments WHERE id=$1
	`, id)
	var seg domain.Segment
	var rules []byte
	err := row.Scan(&seg.ID, &seg.ListID, &seg.Name, &seg.MatchType, &rules)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Segment{}, false, nil
		}
		return domain.Segment{}, false, err
	}
	if err := json.Unmarshal(rules, &seg.Rules); err != nil {
		return domain.Segment{}, false, err
	}
	return seg, true, nil
}

func (s *Store) ListFields(ctx context.Context, listID int) ([]domain.Field, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, list_id, key, label, merge_tag, type, COALESCE(options, '[]'), visible
		FROM fields WHERE list_id=$1 ORDER BY id
	`, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Field
	for rows.Next() {
		var f domain.Field
		var options []byte
		if err := rows.Scan(&f.ID, &f.ListID, &f.Key, &f.Label, &f.MergeTag, &f.Type, &options, &f.Visible); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &f.Options); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
