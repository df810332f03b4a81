package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/brightatelier/commerce-api/internal/domain"
	"github.com/brightatelier/commerce-api/internal/platform/textutil"
	"github.com/brightatelier/commerce-api/internal/repositories"
)

const defaultAdminKey = "default"

var (
	// ErrAdminInvalidInput indicates neither uid nor email was supplied.
	ErrAdminInvalidInput = errors.New("admin: invalid input")
	// ErrAdminImmutable indicates an attempt to grant or revoke the default super-admin.
	ErrAdminImmutable = errors.New("admin: default super-admin cannot be modified")
)

// GrantAdminCommand adds a principal to the admin set.
type GrantAdminCommand struct {
	UID     string
	Email   string
	ActorID string
}

// RevokeAdminCommand removes a principal from the admin set.
type RevokeAdminCommand struct {
	UID     string
	Email   string
	ActorID string
}

// AdminServiceDeps bundles collaborators for the admin service.
type AdminServiceDeps struct {
	Admins       repositories.AdminRepository
	DefaultEmail string
	Clock        func() time.Time
	Logger       Logger
}

type adminService struct {
	admins       repositories.AdminRepository
	defaultEmail string
	clock        func() time.Time
	logger       Logger
}

var _ AdminService = (*adminService)(nil)

// NewAdminService constructs the admin service. defaultEmail is the configured super-admin
// and may be empty.
func NewAdminService(deps AdminServiceDeps) (AdminService, error) {
	if deps.Admins == nil {
		return nil, errors.New("admin service: admin repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &adminService{
		admins:       deps.Admins,
		defaultEmail: textutil.NormalizeEmail(deps.DefaultEmail),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ResolveAdmin reports whether the principal is an admin and names the matching record.
func (s *adminService) ResolveAdmin(ctx context.Context, uid, email string) (string, bool, error) {
	email = textutil.NormalizeEmail(email)
	if s.isDefault(email) {
		return defaultAdminKey, true, nil
	}
	uid = strings.TrimSpace(uid)
	if uid == "" && email == "" {
		return "", false, nil
	}
	admin, err := s.admins.Lookup(ctx, uid, email)
	if err != nil {
		if repositories.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("admin lookup: %w", err)
	}
	return admin.ID, true, nil
}

func (s *adminService) Grant(ctx context.Context, cmd GrantAdminCommand) (domain.Admin, error) {
	uid := strings.TrimSpace(cmd.UID)
	email := textutil.NormalizeEmail(cmd.Email)
	if uid == "" && email == "" {
		return domain.Admin{}, fmt.Errorf("%w: uid or email is required", ErrAdminInvalidInput)
	}
	if s.isDefault(email) {
		return domain.Admin{}, ErrAdminImmutable
	}
	admin := domain.Admin{
		UID:       uid,
		Email:     email,
		GrantedBy: strings.TrimSpace(cmd.ActorID),
		CreatedAt: s.clock(),
	}
	if err := s.admins.Grant(ctx, admin); err != nil {
		return domain.Admin{}, fmt.Errorf("grant admin: %w", err)
	}
	admin.ID = uid
	if admin.ID == "" {
		admin.ID = email
	}
	s.logger(ctx, "admin.granted", map[string]any{"adminId": admin.ID, "actorId": admin.GrantedBy})
	return admin, nil
}

func (s *adminService) Revoke(ctx context.Context, cmd RevokeAdminCommand) error {
	uid := strings.TrimSpace(cmd.UID)
	email := textutil.NormalizeEmail(cmd.Email)
	if uid == "" && email == "" {
		return fmt.Errorf("%w: uid or email is required", ErrAdminInvalidInput)
	}
	if s.isDefault(email) {
		return ErrAdminImmutable
	}
	if err := s.admins.Revoke(ctx, uid, email); err != nil {
		return fmt.Errorf("revoke admin: %w", err)
	}
	s.logger(ctx, "admin.revoked", map[string]any{
		"uid":     uid,
		"email":   email,
		"actorId": strings.TrimSpace(cmd.ActorID),
	})
	return nil
}

func (s *adminService) isDefault(email string) bool {
	return s.defaultEmail != "" && email == s.defaultEmail
}
