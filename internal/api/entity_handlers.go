package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/expiry"
	"github.com/opensource-finance/kestrel/internal/tradecoverage"
)

// CreateProject stores a project for the calling tenant.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	var p domain.Project
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	if err := h.repo.SaveProject(r.Context(), GetTenantID(r.Context()), &p); err != nil {
		writeErr(w, err, "save project")
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// GetProject retrieves a project by ID.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	p, err := h.repo.GetProject(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, "get project")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListProjects returns the tenant's projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	projects, err := h.repo.ListProjects(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		writeErr(w, err, "list projects")
		return
	}
	if projects == nil {
		projects = []*domain.Project{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"projects": projects,
		"count":    len(projects),
	})
}

// UpdateProject replaces an existing project.
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	existing, err := h.repo.GetProject(ctx, tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, "get project")
		return
	}

	var p domain.Project
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !bindPathID(w, &p.ID, existing.ID) {
		return
	}
	p.CreatedAt = existing.CreatedAt

	if err := h.repo.SaveProject(ctx, tenantID, &p); err != nil {
		writeErr(w, err, "save project")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeleteProject removes a project with no subcontractors or certificates.
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	if err := h.repo.DeleteProject(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err, "delete project")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListProjectSubcontractors returns the subcontractors working on a project.
func (h *Handler) ListProjectSubcontractors(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	projectID := chi.URLParam(r, "id")

	if _, err := h.repo.GetProject(ctx, tenantID, projectID); err != nil {
		writeErr(w, err, "get project")
		return
	}
	h.listSubcontractors(w, r, projectID)
}

// CreateSubcontractor stores a subcontractor against an existing project.
func (h *Handler) CreateSubcontractor(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var s domain.Subcontractor
	if err := decodeJSON(w, r, &s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.repo.GetProject(ctx, tenantID, s.ProjectID); err != nil {
		writeErr(w, err, "get project")
		return
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if err := h.repo.SaveSubcontractor(ctx, tenantID, &s); err != nil {
		writeErr(w, err, "save subcontractor")
		return
	}

	writeJSON(w, http.StatusCreated, s)
}

// GetSubcontractor retrieves a subcontractor by ID.
func (h *Handler) GetSubcontractor(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	s, err := h.repo.GetSubcontractor(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, "get subcontractor")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ListSubcontractors returns the tenant's subcontractors, optionally
// filtered by ?project_id=.
func (h *Handler) ListSubcontractors(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	h.listSubcontractors(w, r, r.URL.Query().Get("project_id"))
}

func (h *Handler) listSubcontractors(w http.ResponseWriter, r *http.Request, projectID string) {
	subs, err := h.repo.ListSubcontractors(r.Context(), GetTenantID(r.Context()), projectID)
	if err != nil {
		writeErr(w, err, "list subcontractors")
		return
	}
	if subs == nil {
		subs = []*domain.Subcontractor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subcontractors": subs,
		"count":          len(subs),
	})
}

// SubcontractorUpdate is the response to PUT /subcontractors/{id}. When the
// subcontractor has a certificate on file, TradeChanges shows how the new
// trade scope sits against it.
type SubcontractorUpdate struct {
	Subcontractor *domain.Subcontractor     `json:"subcontractor"`
	COIID         string                    `json:"coiId,omitempty"`
	TradeChanges  *domain.TradeChangeResult `json:"tradeChanges,omitempty"`
}

// UpdateSubcontractor replaces a subcontractor and re-checks added trades
// against its most recent certificate.
func (h *Handler) UpdateSubcontractor(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	existing, err := h.repo.GetSubcontractor(ctx, tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, "get subcontractor")
		return
	}

	var s domain.Subcontractor
	if err := decodeJSON(w, r, &s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !bindPathID(w, &s.ID, existing.ID) {
		return
	}
	if _, err := h.repo.GetProject(ctx, tenantID, s.ProjectID); err != nil {
		writeErr(w, err, "get project")
		return
	}
	s.CreatedAt = existing.CreatedAt

	cois, err := h.repo.ListCOIs(ctx, tenantID, domain.COIFilter{SubcontractorID: s.ID})
	if err != nil {
		writeErr(w, err, "list cois")
		return
	}

	if err := h.repo.SaveSubcontractor(ctx, tenantID, &s); err != nil {
		writeErr(w, err, "save subcontractor")
		return
	}

	resp := SubcontractorUpdate{Subcontractor: &s}
	if len(cois) > 0 {
		latest := cois[len(cois)-1]
		changes := tradecoverage.CompareTradesCoverage(existing.Trades(), s.Trades(), latest)
		resp.COIID = latest.ID
		resp.TradeChanges = &changes
		if changes.ReviewRequired {
			slog.Info("trade change needs coverage review",
				"tenant_id", tenantID,
				"subcontractor_id", s.ID,
				"coi_id", latest.ID,
				"added", changes.Added,
			)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteSubcontractor removes a subcontractor with no certificates on file.
func (h *Handler) DeleteSubcontractor(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	if err := h.repo.DeleteSubcontractor(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err, "delete subcontractor")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitCOI stores a certificate and announces it on coi.submitted so the
// worker can check it asynchronously.
func (h *Handler) SubmitCOI(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var coi domain.COI
	if err := decodeJSON(w, r, &coi); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if coi.ID == "" {
		coi.ID = uuid.NewString()
	}

	if err := h.repo.SaveCOI(ctx, tenantID, &coi); err != nil {
		writeErr(w, err, "save coi")
		return
	}

	h.announceCOI(r, tenantID, &coi)
	writeJSON(w, http.StatusCreated, coi)
}

// announceCOI publishes coi.submitted. A failed publish is logged only; the
// certificate is already stored and can be checked on demand.
func (h *Handler) announceCOI(r *http.Request, tenantID string, coi *domain.COI) {
	if h.bus == nil {
		return
	}
	event := domain.COISubmittedEvent{
		COIID:           coi.ID,
		ProjectID:       coi.ProjectID,
		SubcontractorID: coi.SubcontractorID,
	}
	if err := bus.PublishEvent(r.Context(), h.bus, tenantID, domain.TopicCOISubmitted, event); err != nil {
		slog.Warn("failed to publish coi submission", "coi_id", coi.ID, "tenant_id", tenantID, "error", err)
	}
}

// GetCOI retrieves a certificate by ID.
func (h *Handler) GetCOI(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	coi, err := h.repo.GetCOI(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, "get coi")
		return
	}
	writeJSON(w, http.StatusOK, coi)
}

// ListCOIs returns certificates filtered by ?project_id= and ?subcontractor_id=.
func (h *Handler) ListCOIs(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	q := r.URL.Query()
	filter := domain.COIFilter{
		ProjectID:       q.Get("project_id"),
		SubcontractorID: q.Get("subcontractor_id"),
	}

	cois, err := h.repo.ListCOIs(r.Context(), GetTenantID(r.Context()), filter)
	if err != nil {
		writeErr(w, err, "list cois")
		return
	}
	if cois == nil {
		cois = []*domain.COI{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cois":  cois,
		"count": len(cois),
	})
}

// UpdateCOI replaces a stored certificate and queues it for a fresh check.
func (h *Handler) UpdateCOI(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	existing, err := h.repo.GetCOI(ctx, tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, "get coi")
		return
	}

	var coi domain.COI
	if err := decodeJSON(w, r, &coi); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !bindPathID(w, &coi.ID, existing.ID) {
		return
	}
	coi.CreatedAt = existing.CreatedAt

	if err := h.repo.SaveCOI(ctx, tenantID, &coi); err != nil {
		writeErr(w, err, "save coi")
		return
	}

	h.announceCOI(r, tenantID, &coi)
	writeJSON(w, http.StatusOK, coi)
}

// DeleteCOI removes a certificate. Past checks stay retrievable by ID.
func (h *Handler) DeleteCOI(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	if err := h.repo.DeleteCOI(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err, "delete coi")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckCOI runs a synchronous compliance check on a stored certificate.
func (h *Handler) CheckCOI(w http.ResponseWriter, r *http.Request) {
	if h.checks == nil {
		writeError(w, http.StatusServiceUnavailable, "check service not available")
		return
	}
	ctx := r.Context()

	check, err := h.checks.CheckStored(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), GetTraceID(ctx))
	if err != nil {
		writeErr(w, err, "compliance check")
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// GetLatestCheck returns the most recent check for a certificate.
func (h *Handler) GetLatestCheck(w http.ResponseWriter, r *http.Request) {
	if h.checks == nil {
		writeError(w, http.StatusServiceUnavailable, "check service not available")
		return
	}

	check, err := h.checks.Latest(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, "get latest check")
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// GetCheck retrieves a compliance check by ID.
func (h *Handler) GetCheck(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	check, err := h.repo.GetCheck(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, "get check")
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// ListExpiring lists policies expiring within ?days= (default from config).
func (h *Handler) ListExpiring(w http.ResponseWriter, r *http.Request) {
	if h.expiry == nil {
		writeError(w, http.StatusServiceUnavailable, "expiry service not available")
		return
	}
	days, ok := h.windowDays(w, r)
	if !ok {
		return
	}

	policies, err := h.expiry.Upcoming(r.Context(), GetTenantID(r.Context()), days)
	if err != nil {
		writeErr(w, err, "list expiring policies")
		return
	}
	if policies == nil {
		policies = []expiry.Policy{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"windowDays": days,
		"policies":   policies,
		"count":      len(policies),
	})
}

// NotifyExpiring publishes reminders for policies expiring within ?days=.
func (h *Handler) NotifyExpiring(w http.ResponseWriter, r *http.Request) {
	if h.expiry == nil {
		writeError(w, http.StatusServiceUnavailable, "expiry service not available")
		return
	}
	days, ok := h.windowDays(w, r)
	if !ok {
		return
	}

	sent, err := h.expiry.Scan(r.Context(), GetTenantID(r.Context()), days)
	if err != nil {
		writeErr(w, err, "notify expiring policies")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"windowDays": days,
		"sent":       sent,
	})
}

func (h *Handler) windowDays(w http.ResponseWriter, r *http.Request) (int, bool) {
	days := h.cfg.ExpiryWindowDays
	if days <= 0 {
		days = 30
	}
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return 0, false
		}
		days = n
	}
	return days, true
}

// bindPathID fills an empty body ID from the path and rejects a mismatch.
func bindPathID(w http.ResponseWriter, bodyID *string, pathID string) bool {
	if *bodyID == "" {
		*bodyID = pathID
		return true
	}
	if *bodyID != pathID {
		writeError(w, http.StatusBadRequest, "id in body does not match path")
		return false
	}
	return true
}
