package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/auth"
	"github.com/idcstack/idc-control-plane/internal/panel"
)

type fakePanel struct {
	instances []panel.Instance
	waitErr   error
	waited    time.Duration
	ports     map[string]int
	batchOp   panel.Operation
	failIDs   map[string]bool
}

func (f *fakePanel) ListInstances(context.Context) ([]panel.Instance, error) {
	return f.instances, nil
}

func (f *fakePanel) BatchOperation(_ context.Context, ids []string, op panel.Operation) []panel.BatchResult {
	f.batchOp = op
	out := make([]panel.BatchResult, 0, len(ids))
	for _, id := range ids {
		if f.failIDs[id] {
			out = append(out, panel.BatchResult{InstanceID: id, Error: "boom"})
			continue
		}
		out = append(out, panel.BatchResult{InstanceID: id, Success: true})
	}
	return out
}

func (f *fakePanel) WaitForServerStart(_ context.Context, _ string, maxWait time.Duration) error {
	f.waited = maxWait
	return f.waitErr
}

func (f *fakePanel) ChangePort(_ context.Context, id string, port int) error {
	if f.ports == nil {
		f.ports = map[string]int{}
	}
	f.ports[id] = port
	return nil
}

type factoryCall struct {
	url, key string
}

func executeCommand(t *testing.T, fp *fakePanel, args ...string) (string, *factoryCall, error) {
	t.Helper()
	call := &factoryCall{}
	root := NewRootCommand(func(url, key string) (PanelAPI, error) {
		call.url, call.key = url, key
		return fp, nil
	})
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), call, err
}

func TestInstancesList_JSON(t *testing.T) {
	fp := &fakePanel{instances: []panel.Instance{
		{UUID: "inst-a", Status: "running", Config: panel.InstanceConfig{Nickname: "alpha", Port: 25565}},
	}}
	out, call, err := executeCommand(t, fp, "instances", "list", "--panel-url", "http://panel.local", "--panel-key", "k1")
	if err != nil {
		t.Fatalf("instances list failed: %v", err)
	}
	if call.url != "http://panel.local" || call.key != "k1" {
		t.Fatalf("unexpected client args %+v", call)
	}
	var rows []instanceRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if len(rows) != 1 || rows[0].Nickname != "alpha" || rows[0].Port != 25565 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestInstancesList_YAMLAndEnvFallback(t *testing.T) {
	t.Setenv("IDC_PANEL_BASE_URL", "http://env.panel")
	t.Setenv("IDC_PANEL_API_KEY", "env-key")
	fp := &fakePanel{instances: []panel.Instance{{UUID: "inst-a", Status: "stopped"}}}

	out, call, err := executeCommand(t, fp, "instances", "list", "-o", "yaml")
	if err != nil {
		t.Fatalf("instances list failed: %v", err)
	}
	if call.url != "http://env.panel" || call.key != "env-key" {
		t.Fatalf("expected env fallback, got %+v", call)
	}
	var rows []map[string]any
	if err := yaml.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode yaml %q: %v", out, err)
	}
	if len(rows) != 1 || rows[0]["uuid"] != "inst-a" || rows[0]["status"] != "stopped" {
		t.Fatalf("unexpected yaml rows %v", rows)
	}
}

func TestInstancesList_RequiresPanelURL(t *testing.T) {
	t.Setenv("IDC_PANEL_BASE_URL", "")
	_, _, err := executeCommand(t, &fakePanel{}, "instances", "list")
	if err == nil || !strings.Contains(err.Error(), "panel url is required") {
		t.Fatalf("expected missing url error, got %v", err)
	}
}

func TestUnsupportedOutputFormat(t *testing.T) {
	_, _, err := executeCommand(t, &fakePanel{}, "instances", "list", "--panel-url", "http://p", "-o", "table")
	if err == nil {
		t.Fatal("expected error for table output")
	}
}

func TestInstancesBatch(t *testing.T) {
	fp := &fakePanel{failIDs: map[string]bool{"b": true}}
	out, _, err := executeCommand(t, fp, "instances", "batch", "restart", "a", "b", "--panel-url", "http://p")
	if err == nil || !strings.Contains(err.Error(), "1 of 2 operations failed") {
		t.Fatalf("expected partial failure error, got %v", err)
	}
	if fp.batchOp != panel.OpRestart {
		t.Fatalf("unexpected op %q", fp.batchOp)
	}
	var results []panel.BatchResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if len(results) != 2 || !results[0].Success || results[1].Success {
		t.Fatalf("unexpected results %+v", results)
	}

	_, _, err = executeCommand(t, &fakePanel{}, "instances", "batch", "reboot", "a", "--panel-url", "http://p")
	if err == nil || !strings.Contains(err.Error(), "unsupported operation") {
		t.Fatalf("expected unsupported operation error, got %v", err)
	}
}

func TestInstancesWait(t *testing.T) {
	fp := &fakePanel{}
	if _, _, err := executeCommand(t, fp, "instances", "wait", "inst-a", "--timeout", "90s", "--panel-url", "http://p"); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if fp.waited != 90*time.Second {
		t.Fatalf("expected 90s wait, got %v", fp.waited)
	}

	fp = &fakePanel{waitErr: apperr.New(apperr.CodeStartTimeout, "server did not start in time")}
	_, _, err := executeCommand(t, fp, "instances", "wait", "inst-a", "--panel-url", "http://p")
	if !apperr.IsCode(err, apperr.CodeStartTimeout) {
		t.Fatalf("expected start_timeout, got %v", err)
	}
	if fp.waited != 60*time.Second {
		t.Fatalf("expected default 60s wait, got %v", fp.waited)
	}
}

func TestInstancesPort(t *testing.T) {
	fp := &fakePanel{}
	if _, _, err := executeCommand(t, fp, "instances", "port", "inst-a", "25570", "--panel-url", "http://p"); err != nil {
		t.Fatalf("port failed: %v", err)
	}
	if fp.ports["inst-a"] != 25570 {
		t.Fatalf("unexpected ports %v", fp.ports)
	}
	if _, _, err := executeCommand(t, fp, "instances", "port", "inst-a", "abc", "--panel-url", "http://p"); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestTokenMint(t *testing.T) {
	secret := "cli-test-secret-0123456789"
	out, _, err := executeCommand(t, &fakePanel{}, "token", "mint",
		"--user", "usr_7", "--username", "ops", "--role", "admin", "--secret", secret, "--ttl", "1h")
	if err != nil {
		t.Fatalf("token mint failed: %v", err)
	}
	var minted struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expiresAt"`
	}
	if err := json.Unmarshal([]byte(out), &minted); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}

	id, err := auth.NewVerifier(secret, "idc-control-plane").Verify(minted.Token)
	if err != nil {
		t.Fatalf("verify minted token: %v", err)
	}
	if id.UserID != "usr_7" || id.Username != "ops" || !id.IsAdmin() {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestTokenMint_Validation(t *testing.T) {
	t.Setenv("IDC_JWT_SECRET", "")
	cases := []struct {
		name string
		args []string
	}{
		{"missing user", []string{"token", "mint", "--secret", "s3cr3t-s3cr3t-s3cr3t"}},
		{"missing secret", []string{"token", "mint", "--user", "u1"}},
		{"bad role", []string{"token", "mint", "--user", "u1", "--secret", "s3cr3t-s3cr3t-s3cr3t", "--role", "root"}},
		{"bad ttl", []string{"token", "mint", "--user", "u1", "--secret", "s3cr3t-s3cr3t-s3cr3t", "--ttl", "0s"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := executeCommand(t, &fakePanel{}, tc.args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDefaultClientFactory_RejectsEmptyURL(t *testing.T) {
	_, err := defaultClientFactory("", "key")
	if err == nil {
		t.Fatal("expected error")
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected apperr, got %T", err)
	}
}
