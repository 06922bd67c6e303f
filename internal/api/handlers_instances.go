package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/idcstack/idc-control-plane/internal/access"
	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/jobs"
	"github.com/idcstack/idc-control-plane/internal/model"
	"github.com/idcstack/idc-control-plane/internal/panel"
	"github.com/idcstack/idc-control-plane/internal/store"
)

const (
	defaultLogLines = 50
	maxLogLines     = 1000
)

func logLines(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("lines"))
	if err != nil || n <= 0 {
		return defaultLogLines
	}
	if n > maxLogLines {
		return maxLogLines
	}
	return n
}

// authorize lets admins through and checks the binding for everyone else.
func (s *Server) authorize(r *http.Request, instanceID string, need access.Permission) error {
	id, err := identity(r)
	if err != nil {
		return err
	}
	if id.IsAdmin() {
		return nil
	}
	return s.access.Require(r.Context(), id.UserID, instanceID, need)
}

// syncMirror applies a best-effort update to the local mirror after a successful panel call.
func (s *Server) syncMirror(r *http.Request, instanceID, what string, fn func(ctx context.Context) error) {
	if err := fn(r.Context()); err != nil {
		lvl := s.log.Warn
		if errors.Is(err, store.ErrNotFound) {
			lvl = s.log.Debug
		}
		lvl("mirror update failed",
			zap.String("instance_id", instanceID),
			zap.String("update", what),
			zap.Error(err),
		)
	}
}

func mirrorStatusFor(op panel.Operation) string {
	if op == panel.OpStop {
		return "stopped"
	}
	return panel.StatusRunning
}

// control runs op and reflects the expected state in the mirror.
func (s *Server) control(r *http.Request, instanceID string, op panel.Operation) (any, error) {
	out, err := s.panel.Control(r.Context(), instanceID, op)
	if err != nil {
		return nil, err
	}
	s.syncMirror(r, instanceID, "status", func(ctx context.Context) error {
		return s.mirror.UpdateInstanceStatus(ctx, instanceID, mirrorStatusFor(op))
	})
	return out, nil
}

// User routes.

func (s *Server) handleUserInstances(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.access.ListInstancesForUser(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleUserLog(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceId")
	if err := s.authorize(r, instanceID, access.PermRead); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeLog(w, r, instanceID)
}

func (s *Server) handleUserCommand(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceId")
	if err := s.authorize(r, instanceID, access.PermWrite); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendCommand(w, r, instanceID)
}

func (s *Server) handleUserControl(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceId")
	if err := s.authorize(r, instanceID, access.PermWrite); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.control(r, instanceID, panel.Operation(chi.URLParam(r, "op")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) writeLog(w http.ResponseWriter, r *http.Request, instanceID string) {
	lines, err := s.panel.ConsoleLog(r.Context(), instanceID, logLines(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, lines)
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request, instanceID string) {
	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		s.writeError(w, r, missingParameters([]string{"command"}))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.panel.SendCommand(r.Context(), instanceID, req.Command)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

// Admin routes.

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	out, err := s.panel.SystemInfo(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	out, err := s.panel.SystemStatus(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		if _, err := jobs.SyncInstances(r.Context(), s.panel, s.mirror); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	list, err := s.mirror.ListInstances(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleAdminControl(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceId")
	op := panel.Operation(chi.URLParam(r, "op"))

	wait, err := s.startWait(r, op)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.control(r, instanceID, op)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if wait <= 0 {
		writeData(w, http.StatusOK, out)
		return
	}
	if err := s.panel.WaitForServerStart(r.Context(), instanceID, wait); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"result": out, "running": true})
}

// startWait reads ?wait=<seconds> for start requests, capped at StartWaitMax.
func (s *Server) startWait(r *http.Request, op panel.Operation) (time.Duration, error) {
	raw := r.URL.Query().Get("wait")
	if raw == "" || op != panel.OpStart {
		return 0, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, apperr.New(apperr.CodeInvalidInput, "wait must be a non-negative number of seconds")
	}
	wait := time.Duration(secs) * time.Second
	if limit := s.cfg.StartWaitMax; limit > 0 && wait > limit {
		wait = limit
	}
	return wait, nil
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.InstanceIDs) == 0 || req.Operation == "" {
		s.writeError(w, r, missingParameters([]string{"instanceIds", "operation"}))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	op := panel.Operation(req.Operation)
	results := s.panel.BatchOperation(r.Context(), req.InstanceIDs, op)
	for _, res := range results {
		if !res.Success {
			continue
		}
		id := res.InstanceID
		s.syncMirror(r, id, "status", func(ctx context.Context) error {
			return s.mirror.UpdateInstanceStatus(ctx, id, mirrorStatusFor(op))
		})
	}
	writeData(w, http.StatusOK, results)
}

func (s *Server) handleAdminCommand(w http.ResponseWriter, r *http.Request) {
	s.sendCommand(w, r, chi.URLParam(r, "instanceId"))
}

func (s *Server) handleAdminLog(w http.ResponseWriter, r *http.Request) {
	s.writeLog(w, r, chi.URLParam(r, "instanceId"))
}

func (s *Server) handleChangePort(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceId")
	var req portRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.panel.ChangePort(r.Context(), instanceID, req.Port); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.syncMirror(r, instanceID, "port", func(ctx context.Context) error {
		return s.mirror.UpdateInstancePort(ctx, instanceID, req.Port)
	})
	writeMessage(w, "port updated", map[string]any{"instanceId": instanceID, "port": req.Port})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.panel.ListFiles(r.Context(), chi.URLParam(r, "instanceId"), r.URL.Query().Get("path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, files)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, r, missingParameters([]string{"path"}))
		return
	}
	content, err := s.panel.ReadFile(r.Context(), chi.URLParam(r, "instanceId"), path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"path": path, "content": content})
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.panel.ListBackups(r.Context(), chi.URLParam(r, "instanceId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, backups)
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	out, err := s.panel.CreateBackup(r.Context(), chi.URLParam(r, "instanceId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleInstanceUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.access.ListUsersForInstance(r.Context(), chi.URLParam(r, "instanceId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, users)
}

func (s *Server) handleListPanelUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.panel.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows := make([]model.PanelUser, 0, len(users))
	for _, u := range users {
		if u.UUID != "" {
			rows = append(rows, u.Mirror())
		}
	}
	s.syncMirror(r, "", "panel_users", func(ctx context.Context) error {
		return s.mirror.UpsertPanelUsers(ctx, rows)
	})
	writeData(w, http.StatusOK, users)
}

func (s *Server) handleCreatePanelUser(w http.ResponseWriter, r *http.Request) {
	var req createPanelUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.panel.CreateUser(r.Context(), panel.CreateUserInput{
		UserName:   req.UserName,
		Password:   req.Password,
		Permission: req.Permission,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "panel user created", Data: out})
}

func (s *Server) handleDeletePanelUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	out, err := s.panel.DeleteUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.syncMirror(r, "", "panel_user_delete", func(ctx context.Context) error {
		return s.mirror.DeletePanelUser(ctx, userID)
	})
	writeData(w, http.StatusOK, out)
}

func (s *Server) handleUserInstancesAdmin(w http.ResponseWriter, r *http.Request) {
	list, err := s.access.ListInstancesForUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

// handleBind records the binding on the panel first, then locally. A local
// failure after a panel success is returned; the panel side is not undone.
func (s *Server) handleBind(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	instanceID := chi.URLParam(r, "instanceId")
	var req bindRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	perms, err := access.ParsePermissions(req.Permissions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, string(p))
	}
	if _, err := s.panel.BindUser(r.Context(), userID, instanceID, names); err != nil {
		s.writeError(w, r, err)
		return
	}
	binding, err := s.access.Bind(r.Context(), userID, instanceID, perms)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "instance bound", Data: binding})
}

func (s *Server) handleUnbind(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	instanceID := chi.URLParam(r, "instanceId")
	if _, err := s.panel.UnbindUser(r.Context(), userID, instanceID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.access.Unbind(r.Context(), userID, instanceID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, "instance unbound", nil)
}
