package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ListRules returns all program rules loaded in the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a loaded program rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRuleRequest is the request body for creating a program rule.
type CreateRuleRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description,omitempty"`
	Version     string          `json:"version,omitempty"`
	Expression  string          `json:"expression" validate:"required"`
	Code        string          `json:"code,omitempty"`
	Field       string          `json:"field,omitempty"`
	Severity    domain.Severity `json:"severity,omitempty" validate:"omitempty,oneof=error high medium warning low"`
	Message     string          `json:"message,omitempty"`
	Enabled     bool            `json:"enabled"`
}

// CreateRule compiles, persists and loads a program rule.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()

	var req CreateRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule := &domain.ProgramRule{
		ID:          req.ID,
		TenantID:    domain.GlobalTenant,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Expression:  req.Expression,
		Code:        req.Code,
		Field:       req.Field,
		Severity:    req.Severity,
		Message:     req.Message,
		Enabled:     req.Enabled,
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
		return
	}

	if err := h.repo.SaveProgramRule(ctx, domain.GlobalTenant, rule); err != nil {
		writeErr(w, err, "save rule")
		return
	}

	if rule.Enabled {
		if err := h.engine.LoadRule(rule); err != nil {
			writeErr(w, err, "load rule")
			return
		}
	} else {
		h.engine.UnloadRule(rule.ID)
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name, "enabled", rule.Enabled)
	writeJSON(w, http.StatusCreated, rule)
}

// DeleteRule disables a program rule and unloads it from the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ruleID := chi.URLParam(r, "id")

	if err := h.repo.DeleteProgramRule(r.Context(), domain.GlobalTenant, ruleID); err != nil {
		writeErr(w, err, "delete rule")
		return
	}
	h.engine.UnloadRule(ruleID)

	slog.Info("rule deleted", "id", ruleID)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadRules reloads all program rules from the database into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	dbRules, err := h.repo.ListProgramRules(r.Context(), domain.GlobalTenant)
	if err != nil {
		writeErr(w, err, "list rules")
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}
