package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/idcstack/idc-control-plane/internal/model"
)

// UpsertInstances refreshes the mirror rows for every instance the panel reported.
func (s *Store) UpsertInstances(ctx context.Context, instances []model.ManagedInstance) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `
insert into panel_instances (instance_uuid, nickname, status, port, max_memory_mb, memory_mb, cpu_percent, disk_percent, last_synced_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, now())
on conflict (instance_uuid) do update
set nickname = excluded.nickname,
    status = excluded.status,
    port = excluded.port,
    max_memory_mb = excluded.max_memory_mb,
    memory_mb = excluded.memory_mb,
    cpu_percent = excluded.cpu_percent,
    disk_percent = excluded.disk_percent,
    last_synced_at = now()`
	for _, inst := range instances {
		if _, err := tx.Exec(ctx, q,
			inst.UUID, inst.Nickname, inst.Status, inst.Port,
			inst.MaxMemoryMB, inst.MemoryMB, inst.CPUPercent, inst.DiskPercent,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListInstances(ctx context.Context) ([]model.ManagedInstance, error) {
	const q = `
select instance_uuid, nickname, status, port, max_memory_mb, memory_mb, cpu_percent, disk_percent, last_synced_at
from panel_instances
order by nickname, instance_uuid`

	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.ManagedInstance, 0)
	for rows.Next() {
		var inst model.ManagedInstance
		if err := rows.Scan(
			&inst.UUID, &inst.Nickname, &inst.Status, &inst.Port,
			&inst.MaxMemoryMB, &inst.MemoryMB, &inst.CPUPercent, &inst.DiskPercent, &inst.LastSyncedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *Store) UpdateInstanceStatus(ctx context.Context, instanceUUID, status string) error {
	return s.execExpectOne(ctx, `update panel_instances set status = $2 where instance_uuid = $1`, instanceUUID, status)
}

func (s *Store) UpdateInstancePort(ctx context.Context, instanceUUID string, port int) error {
	return s.execExpectOne(ctx, `update panel_instances set port = $2 where instance_uuid = $1`, instanceUUID, port)
}

func (s *Store) UpsertPanelUsers(ctx context.Context, users []model.PanelUser) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `
insert into panel_users (panel_user_id, username, permission, synced_at)
values ($1, $2, $3, now())
on conflict (panel_user_id) do update
set username = excluded.username, permission = excluded.permission, synced_at = now()`
	for _, u := range users {
		if _, err := tx.Exec(ctx, q, u.PanelUserID, u.Username, u.Permission); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) DeletePanelUser(ctx context.Context, panelUserID string) error {
	return s.execExpectOne(ctx, `delete from panel_users where panel_user_id = $1`, panelUserID)
}

func (s *Store) execExpectOne(ctx context.Context, q string, args ...any) error {
	tag, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
