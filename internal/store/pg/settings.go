package pg

import "context"

// GetSettings returns the requested installation settings as a key/value map.
// Missing keys are simply absent from the result.
func (s *Store) GetSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT key, value FROM settings WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string, len(keys))
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
