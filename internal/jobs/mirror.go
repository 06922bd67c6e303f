package jobs

import (
	"context"
	"fmt"

	"github.com/idcstack/idc-control-plane/internal/metrics"
	"github.com/idcstack/idc-control-plane/internal/model"
	"github.com/idcstack/idc-control-plane/internal/panel"
)

type InstanceLister interface {
	ListInstances(ctx context.Context) ([]panel.Instance, error)
}

type MirrorStore interface {
	UpsertInstances(ctx context.Context, instances []model.ManagedInstance) error
}

// SyncInstanceMirror copies the panel's instance list into the local mirror.
func SyncInstanceMirror(p InstanceLister, st MirrorStore) Task {
	return func(ctx context.Context) error {
		_, err := SyncInstances(ctx, p, st)
		return err
	}
}

// SyncInstances runs one mirror refresh and returns what was written.
func SyncInstances(ctx context.Context, p InstanceLister, st MirrorStore) ([]model.ManagedInstance, error) {
	remote, err := p.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list panel instances: %w", err)
	}
	rows := make([]model.ManagedInstance, 0, len(remote))
	for _, inst := range remote {
		if inst.UUID == "" {
			continue
		}
		rows = append(rows, inst.Mirror())
	}
	if err := st.UpsertInstances(ctx, rows); err != nil {
		return nil, fmt.Errorf("upsert mirror: %w", err)
	}
	metrics.Default().SetGauge("idc_panel_instances", float64(len(rows)), nil)
	return rows, nil
}
