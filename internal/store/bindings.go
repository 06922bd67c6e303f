package store

import (
	"context"

	"github.com/idcstack/idc-control-plane/internal/model"
)

func (s *Store) UpsertBinding(ctx context.Context, userID, instanceUUID string, permissions []string) (*model.InstanceBinding, error) {
	const q = `
insert into instance_bindings (user_id, instance_uuid, permissions, created_at, updated_at)
values ($1, $2, $3, now(), now())
on conflict (user_id, instance_uuid) do update
set permissions = excluded.permissions, updated_at = now()
returning user_id, instance_uuid, permissions, created_at, updated_at`

	var b model.InstanceBinding
	if err := s.db.QueryRow(ctx, q, userID, instanceUUID, permissions).Scan(
		&b.UserID, &b.InstanceUUID, &b.Permissions, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) DeleteBinding(ctx context.Context, userID, instanceUUID string) error {
	tag, err := s.db.Exec(ctx, `delete from instance_bindings where user_id = $1 and instance_uuid = $2`, userID, instanceUUID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetBindingPermissions(ctx context.Context, userID, instanceUUID string) ([]string, error) {
	const q = `select permissions from instance_bindings where user_id = $1 and instance_uuid = $2`
	var perms []string
	if err := s.db.QueryRow(ctx, q, userID, instanceUUID).Scan(&perms); err != nil {
		return nil, notFoundIfNoRows(err)
	}
	return perms, nil
}

func (s *Store) ListBindingsForUser(ctx context.Context, userID string) ([]model.BoundInstance, error) {
	const q = `
select b.user_id, b.instance_uuid, b.permissions, b.created_at, b.updated_at,
       i.instance_uuid is not null, coalesce(i.nickname, ''), coalesce(i.status, ''), coalesce(i.port, 0),
       coalesce(i.max_memory_mb, 0), coalesce(i.memory_mb, 0), coalesce(i.cpu_percent, 0), coalesce(i.disk_percent, 0),
       coalesce(i.last_synced_at, b.updated_at)
from instance_bindings b
left join panel_instances i on i.instance_uuid = b.instance_uuid
where b.user_id = $1
order by b.created_at desc`

	rows, err := s.db.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.BoundInstance, 0)
	for rows.Next() {
		var bi model.BoundInstance
		var synced bool
		var inst model.ManagedInstance
		if err := rows.Scan(
			&bi.UserID, &bi.InstanceUUID, &bi.Permissions, &bi.CreatedAt, &bi.UpdatedAt,
			&synced, &inst.Nickname, &inst.Status, &inst.Port,
			&inst.MaxMemoryMB, &inst.MemoryMB, &inst.CPUPercent, &inst.DiskPercent,
			&inst.LastSyncedAt,
		); err != nil {
			return nil, err
		}
		if synced {
			inst.UUID = bi.InstanceUUID
			bi.Instance = &inst
		}
		out = append(out, bi)
	}
	return out, rows.Err()
}

func (s *Store) ListBindingsForInstance(ctx context.Context, instanceUUID string) ([]model.BoundUser, error) {
	const q = `
select b.user_id, b.instance_uuid, b.permissions, b.created_at, b.updated_at, coalesce(u.username, '')
from instance_bindings b
left join users u on u.id = b.user_id
where b.instance_uuid = $1
order by b.created_at desc`

	rows, err := s.db.Query(ctx, q, instanceUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.BoundUser, 0)
	for rows.Next() {
		var bu model.BoundUser
		if err := rows.Scan(&bu.UserID, &bu.InstanceUUID, &bu.Permissions, &bu.CreatedAt, &bu.UpdatedAt, &bu.Username); err != nil {
			return nil, err
		}
		out = append(out, bu)
	}
	return out, rows.Err()
}
