package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/idcstack/idc-control-plane/internal/apperr"
	"github.com/idcstack/idc-control-plane/internal/model"
	"github.com/idcstack/idc-control-plane/internal/store"
)

type Permission string

const (
	PermRead  Permission = "read"
	PermWrite Permission = "write"
	PermAdmin Permission = "admin"
)

type Store interface {
	UpsertBinding(ctx context.Context, userID, instanceUUID string, permissions []string) (*model.InstanceBinding, error)
	DeleteBinding(ctx context.Context, userID, instanceUUID string) error
	GetBindingPermissions(ctx context.Context, userID, instanceUUID string) ([]string, error)
	ListBindingsForUser(ctx context.Context, userID string) ([]model.BoundInstance, error)
	ListBindingsForInstance(ctx context.Context, instanceUUID string) ([]model.BoundUser, error)
}

// Binder is the only authority on whether a non-admin user may act on an instance.
type Binder struct {
	store Store
}

func NewBinder(st Store) *Binder {
	return &Binder{store: st}
}

// ParsePermissions validates names, drops duplicates and defaults an empty set to read.
func ParsePermissions(raw []string) ([]Permission, error) {
	if len(raw) == 0 {
		return []Permission{PermRead}, nil
	}
	seen := make(map[Permission]struct{}, len(raw))
	out := make([]Permission, 0, len(raw))
	for _, r := range raw {
		p := Permission(strings.ToLower(strings.TrimSpace(r)))
		switch p {
		case PermRead, PermWrite, PermAdmin:
		default:
			return nil, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("unknown permission %q", r))
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Grants reports whether held satisfies required; admin satisfies everything.
func Grants(held []string, required Permission) bool {
	for _, h := range held {
		if p := Permission(h); p == required || p == PermAdmin {
			return true
		}
	}
	return false
}

func (b *Binder) CheckPermission(ctx context.Context, userID, instanceUUID string, required Permission) (bool, error) {
	perms, err := b.store.GetBindingPermissions(ctx, userID, instanceUUID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check permission: %w", err)
	}
	return Grants(perms, required), nil
}

// Require turns a failed check into Forbidden.
func (b *Binder) Require(ctx context.Context, userID, instanceUUID string, required Permission) error {
	ok, err := b.CheckPermission(ctx, userID, instanceUUID, required)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.CodeForbidden, "no "+string(required)+" permission on this instance").
			WithMeta("instance_id", instanceUUID)
	}
	return nil
}

// Bind creates or overwrites the binding for (userID, instanceUUID).
func (b *Binder) Bind(ctx context.Context, userID, instanceUUID string, permissions []Permission) (*model.InstanceBinding, error) {
	if userID == "" || instanceUUID == "" {
		return nil, apperr.New(apperr.CodeMissingParameters, "userId and instanceId are required")
	}
	names := make([]string, 0, len(permissions))
	for _, p := range permissions {
		names = append(names, string(p))
	}
	binding, err := b.store.UpsertBinding(ctx, userID, instanceUUID, names)
	if err != nil {
		return nil, fmt.Errorf("bind instance: %w", err)
	}
	return binding, nil
}

func (b *Binder) Unbind(ctx context.Context, userID, instanceUUID string) error {
	if err := b.store.DeleteBinding(ctx, userID, instanceUUID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.CodeNotFound, "binding not found")
		}
		return fmt.Errorf("unbind instance: %w", err)
	}
	return nil
}

func (b *Binder) ListInstancesForUser(ctx context.Context, userID string) ([]model.BoundInstance, error) {
	out, err := b.store.ListBindingsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user instances: %w", err)
	}
	return out, nil
}

func (b *Binder) ListUsersForInstance(ctx context.Context, instanceUUID string) ([]model.BoundUser, error) {
	out, err := b.store.ListBindingsForInstance(ctx, instanceUUID)
	if err != nil {
		return nil, fmt.Errorf("list instance users: %w", err)
	}
	return out, nil
}
