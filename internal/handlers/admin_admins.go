package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/brightatelier/commerce-api/internal/platform/auth"
	"github.com/brightatelier/commerce-api/internal/services"
)

// AdminAccessHandlers manages membership of the admin set.
type AdminAccessHandlers struct {
	admins services.AdminService
}

// NewAdminAccessHandlers constructs admin membership handlers.
func NewAdminAccessHandlers(admins services.AdminService) *AdminAccessHandlers {
	return &AdminAccessHandlers{admins: admins}
}

// Routes registers /admins beneath the admin group.
func (h *AdminAccessHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/admins", h.grant)
	r.Delete("/admins", h.revoke)
}

type adminMemberRequest struct {
	UID   string `json:"uid" validate:"required_without=Email,max=128"`
	Email string `json:"email" validate:"omitempty,email"`
}

type adminMemberPayload struct {
	ID        string `json:"id"`
	UID       string `json:"uid,omitempty"`
	Email     string `json:"email,omitempty"`
	GrantedBy string `json:"grantedBy,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func (h *AdminAccessHandlers) grant(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	admin, err := h.admins.Grant(r.Context(), services.GrantAdminCommand{
		UID:     req.UID,
		Email:   req.Email,
		ActorID: actorID(r),
	})
	if err != nil {
		writeAdminAccessError(w, err)
		return
	}
	createdAt := admin.CreatedAt
	writeJSONResponse(w, http.StatusCreated, actionResponse{Success: true, Data: adminMemberPayload{
		ID:        admin.ID,
		UID:       admin.UID,
		Email:     admin.Email,
		GrantedBy: admin.GrantedBy,
		CreatedAt: formatTime(&createdAt),
	}})
}

func (h *AdminAccessHandlers) revoke(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if err := h.admins.Revoke(r.Context(), services.RevokeAdminCommand{
		UID:     req.UID,
		Email:   req.Email,
		ActorID: actorID(r),
	}); err != nil {
		writeAdminAccessError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, actionResponse{Success: true})
}

func (h *AdminAccessHandlers) decode(w http.ResponseWriter, r *http.Request) (adminMemberRequest, bool) {
	if h.admins == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, actionResponse{Error: "admin service unavailable"})
		return adminMemberRequest{}, false
	}
	var req adminMemberRequest
	if status, err := decodeJSONBody(r, defaultMaxBodySize, false, &req); err != nil {
		writeJSONResponse(w, status, actionResponse{Error: err.Error()})
		return adminMemberRequest{}, false
	}
	req.UID = strings.TrimSpace(req.UID)
	req.Email = strings.TrimSpace(req.Email)
	return req, true
}

func actorID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if identity.UID != "" {
			return identity.UID
		}
		return identity.Email
	}
	return ""
}

func writeAdminAccessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAdminInvalidInput):
		writeJSONResponse(w, http.StatusBadRequest, actionResponse{Error: "uid or email is required"})
	case errors.Is(err, services.ErrAdminImmutable):
		writeJSONResponse(w, http.StatusForbidden, actionResponse{Error: "the default super-admin cannot be modified"})
	default:
		writeJSONResponse(w, http.StatusInternalServerError, actionResponse{Error: "admin update failed"})
	}
}
