package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/infra/logging"
	"whatsapp-voice-subscription/internal/usecase"
)

const apiActor = "api"

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrCollaboratorUnavailable):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Str("path", r.URL.Path).Msg("admin api error")
		writeJSON(w, r, code, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, r, code, errorResponse{Error: err.Error()})
}

// decode parses and validates a JSON request body.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		msg := "invalid request"
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			msg = "invalid field " + verrs[0].Field() + ": " + verrs[0].Tag()
		}
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: msg})
		return false
	}
	return true
}

type statsResponse struct {
	Users                 int            `json:"users"`
	ActiveLast24h         int            `json:"active_last_24h"`
	TotalUsed             int64          `json:"total_used"`
	ReferralEdges         int            `json:"referral_edges"`
	SubscriptionsByStatus map[string]int `json:"subscriptions_by_status"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Stats.Totals(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := statsResponse{
		Users:                 st.Users,
		ActiveLast24h:         st.ActiveSince24h,
		TotalUsed:             st.TotalUsed,
		ReferralEdges:         st.ReferralEdges,
		SubscriptionsByStatus: make(map[string]int, len(st.SubscriptionsByStatus)),
	}
	for k, v := range st.SubscriptionsByStatus {
		resp.SubscriptionsByStatus[string(k)] = v
	}
	writeJSON(w, r, http.StatusOK, resp)
}

type historyItem struct {
	ExternalID string  `json:"external_id"`
	Status     string  `json:"status"`
	CreatedAt  *string `json:"created_at,omitempty"`
	ArchivedAt string  `json:"archived_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.Stats.History(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]historyItem, 0, len(items))
	for _, h := range items {
		it := historyItem{ExternalID: h.ExternalID, Status: string(h.Status), ArchivedAt: h.ArchivedAt.UTC().Format(time.RFC3339)}
		if h.CreatedAt != nil {
			c := h.CreatedAt.UTC().Format(time.RFC3339)
			it.CreatedAt = &c
		}
		out = append(out, it)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"items": out})
}

type auditItem struct {
	ID        string `json:"id"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Detail    string `json:"detail"`
	Allowed   bool   `json:"allowed"`
	Affected  int64  `json:"affected"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.deps.Stats.RecentAdminActions(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]auditItem, 0, len(items))
	for _, a := range items {
		out = append(out, auditItem{
			ID: a.ID, Actor: a.Actor, Action: a.Action, Detail: a.Detail,
			Allowed: a.Allowed, Affected: a.Affected, CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"items": out})
}

type resetRequest struct {
	Quota int `json:"quota" validate:"min=0,max=100000"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.deps.Admin.ResetAllQuotas(r.Context(), apiActor, usecase.ChannelAPI, req.Quota)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"quota": req.Quota, "affected": n})
}

type grantRequest struct {
	Count int `json:"count" validate:"required,min=1,max=100000"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !s.decode(w, r, &req) {
		return
	}
	phone := chi.URLParam(r, "phone")
	quota, err := s.deps.Admin.GrantQuota(r.Context(), apiActor, usecase.ChannelAPI, phone, req.Count)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"phone": phone, "free_quota": quota})
}
