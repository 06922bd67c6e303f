package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/idcstack/idc-control-plane/internal/apperr"
)

func instancePath(id string, suffix string) string {
	return "/api/instance/" + url.PathEscape(id) + suffix
}

func (c *Client) SystemInfo(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, "system_info", http.MethodGet, "/api/system/info", nil)
}

func (c *Client) SystemStatus(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, "system_status", http.MethodGet, "/api/system/status", nil)
}

func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	out := []Instance{}
	if err := c.getData(ctx, "list_instances", "/api/instance/list", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetInstance(ctx context.Context, id string) (*Instance, error) {
	var out Instance
	if err := c.getData(ctx, "get_instance", instancePath(id, ""), &out); err != nil {
		return nil, err
	}
	if out.UUID == "" {
		out.UUID = id
	}
	return &out, nil
}

func (c *Client) Start(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Control(ctx, id, OpStart)
}

func (c *Client) Stop(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Control(ctx, id, OpStop)
}

func (c *Client) Restart(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Control(ctx, id, OpRestart)
}

// Control runs a lifecycle operation on one instance.
func (c *Client) Control(ctx context.Context, id string, op Operation) (json.RawMessage, error) {
	if !op.Valid() {
		return nil, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("unsupported operation %q", op))
	}
	return c.do(ctx, string(op), http.MethodPost, instancePath(id, "/"+string(op)), nil)
}

func (c *Client) SendCommand(ctx context.Context, id, command string) (json.RawMessage, error) {
	return c.do(ctx, "command", http.MethodPost, instancePath(id, "/command"), map[string]string{"command": command})
}

func (c *Client) ConsoleLog(ctx context.Context, id string, lines int) ([]LogLine, error) {
	q := url.Values{"lines": []string{strconv.Itoa(lines)}}
	out := []LogLine{}
	if err := c.getData(ctx, "log", instancePath(id, "/log?"+q.Encode()), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListFiles(ctx context.Context, id, dir string) ([]FileEntry, error) {
	if dir == "" {
		dir = "/"
	}
	q := url.Values{"path": []string{dir}}
	out := []FileEntry{}
	if err := c.getData(ctx, "list_files", instancePath(id, "/files?"+q.Encode()), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ReadFile(ctx context.Context, id, path string) (string, error) {
	q := url.Values{"path": []string{path}}
	var content string
	if err := c.getData(ctx, "read_file", instancePath(id, "/files/read?"+q.Encode()), &content); err != nil {
		return "", err
	}
	return content, nil
}

func (c *Client) WriteFile(ctx context.Context, id, path, content string) error {
	_, err := c.do(ctx, "write_file", http.MethodPost, instancePath(id, "/files/write"), map[string]string{
		"path":    path,
		"content": content,
	})
	return err
}

func (c *Client) ListBackups(ctx context.Context, id string) ([]Backup, error) {
	out := []Backup{}
	if err := c.getData(ctx, "list_backups", instancePath(id, "/backup/list"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateBackup(ctx context.Context, id string) (json.RawMessage, error) {
	return c.do(ctx, "create_backup", http.MethodPost, instancePath(id, "/backup/create"), nil)
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	out := []User{}
	if err := c.getData(ctx, "list_users", "/api/user/list", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateUser(ctx context.Context, in CreateUserInput) (json.RawMessage, error) {
	return c.do(ctx, "create_user", http.MethodPost, "/api/user/create", in)
}

func (c *Client) DeleteUser(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.do(ctx, "delete_user", http.MethodDelete, "/api/user/"+url.PathEscape(userID), nil)
}

func bindPath(userID, instanceID string) string {
	return "/api/user/" + url.PathEscape(userID) + "/instance/" + url.PathEscape(instanceID) + "/bind"
}

func (c *Client) BindUser(ctx context.Context, userID, instanceID string, permissions []string) (json.RawMessage, error) {
	return c.do(ctx, "bind_user", http.MethodPost, bindPath(userID, instanceID), map[string][]string{"permissions": permissions})
}

func (c *Client) UnbindUser(ctx context.Context, userID, instanceID string) (json.RawMessage, error) {
	return c.do(ctx, "unbind_user", http.MethodDelete, bindPath(userID, instanceID), nil)
}
