package store

import (
	"context"

	"github.com/idcstack/idc-control-plane/internal/model"
)

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.Query(ctx, `select id, username, created_at from users order by created_at desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.User, 0)
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteUser removes the account. Its instance bindings go with it through
// the foreign key cascade.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.execExpectOne(ctx, `delete from users where id = $1`, userID)
}
