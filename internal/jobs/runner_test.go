package jobs

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/idcstack/idc-control-plane/internal/metrics"
	"github.com/idcstack/idc-control-plane/internal/model"
	"github.com/idcstack/idc-control-plane/internal/panel"
)

func TestRunnerRunsImmediatelyAndOnInterval(t *testing.T) {
	metrics.ResetDefaultForTest()
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	r := NewRunner(zap.NewNop()).Add("tick", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	r.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	r.Wait()

	if runs.Load() < 3 {
		t.Fatalf("expected at least 3 runs, got %d", runs.Load())
	}
	if !strings.Contains(metrics.Default().Render(), `idc_job_runs_total{job="tick",status="ok"}`) {
		t.Fatal("expected job run metric")
	}
}

func TestRunnerRecordsFailures(t *testing.T) {
	metrics.ResetDefaultForTest()
	r := NewRunner(nil)
	r.runOnce(context.Background(), "broken", func(context.Context) error { return errors.New("boom") })

	if !strings.Contains(metrics.Default().Render(), `idc_job_runs_total{job="broken",status="error"} 1`) {
		t.Fatalf("expected error metric, got:\n%s", metrics.Default().Render())
	}
}

type fakeLister struct {
	instances []panel.Instance
	err       error
}

func (f fakeLister) ListInstances(context.Context) ([]panel.Instance, error) {
	return f.instances, f.err
}

type fakeMirror struct {
	got []model.ManagedInstance
	err error
}

func (f *fakeMirror) UpsertInstances(_ context.Context, rows []model.ManagedInstance) error {
	f.got = rows
	return f.err
}

func TestSyncInstanceMirror(t *testing.T) {
	metrics.ResetDefaultForTest()
	lister := fakeLister{instances: []panel.Instance{
		{UUID: "inst-a", Status: "running", Config: panel.InstanceConfig{Nickname: "alpha", Port: 25565}},
		{UUID: "", Status: "running"},
		{UUID: "inst-b", Status: "stopped"},
	}}
	mirror := &fakeMirror{}

	if err := SyncInstanceMirror(lister, mirror)(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(mirror.got) != 2 {
		t.Fatalf("expected 2 mirrored rows, got %d", len(mirror.got))
	}
	if mirror.got[0].Nickname != "alpha" || mirror.got[0].Port != 25565 {
		t.Fatalf("unexpected row %+v", mirror.got[0])
	}
	if !strings.Contains(metrics.Default().Render(), "idc_panel_instances 2") {
		t.Fatal("expected instance gauge")
	}
}

func TestSyncInstanceMirror_PanelErrorSkipsWrite(t *testing.T) {
	mirror := &fakeMirror{}
	err := SyncInstanceMirror(fakeLister{err: errors.New("down")}, mirror)(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if mirror.got != nil {
		t.Fatal("mirror must not be written when the panel call fails")
	}
}
