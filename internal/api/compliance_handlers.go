package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/requirements"
	"github.com/opensource-finance/kestrel/internal/tradecoverage"
)

// ValidateRequest is the request body for POST /compliance/validate.
type ValidateRequest struct {
	COI     *domain.COI     `json:"coi" validate:"required"`
	Project *domain.Project `json:"project" validate:"-"`
	Trades  []string        `json:"trades"`
}

// ValidateCOI checks an inline certificate against the composed requirements.
func (h *Handler) ValidateCOI(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	project := req.Project
	if project == nil {
		project = &domain.Project{}
	}
	if !project.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown project_type: "+string(project.Type))
		return
	}

	set, err := h.composeRequirements(project, req.Trades)
	if err != nil {
		writeErr(w, err, "compose requirements")
		return
	}

	writeJSON(w, http.StatusOK, h.validator.ValidateAgainst(req.COI, project, set))
}

// GetRequirements returns the requirement set for a project type and trades.
func (h *Handler) GetRequirements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	project := &domain.Project{Type: domain.ProjectType(q.Get("project_type")).Normalize()}
	if !project.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown project_type: "+string(project.Type))
		return
	}
	if v := q.Get("hazardous_materials"); v != "" {
		hazmat, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "hazardous_materials must be a boolean")
			return
		}
		project.HazardousMaterials = hazmat
	}

	set, err := h.composeRequirements(project, splitList(q.Get("trades")))
	if err != nil {
		writeErr(w, err, "compose requirements")
		return
	}

	writeJSON(w, http.StatusOK, set)
}

func (h *Handler) composeRequirements(project *domain.Project, trades []string) (domain.RequirementSet, error) {
	if h.cfg.StrictTrades {
		return requirements.BuildStrict(project, trades)
	}
	return requirements.Build(project, trades), nil
}

// TradeCoverageRequest is the request body for POST /trade-coverage.
type TradeCoverageRequest struct {
	COI         *domain.COI `json:"coi" validate:"required"`
	Trades      []string    `json:"trades"`
	InsuredName string      `json:"insuredName"`
}

// TradeCoverageResponse adds the broker-facing message to the coverage result.
type TradeCoverageResponse struct {
	domain.TradeCoverageResult
	BrokerMessage string `json:"brokerMessage,omitempty"`
}

// TradeCoverage checks whether the GL policy covers the required trades.
func (h *Handler) TradeCoverage(w http.ResponseWriter, r *http.Request) {
	var req TradeCoverageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	insured := req.InsuredName
	if insured == "" {
		insured = req.COI.InsuredName
	}

	res := tradecoverage.ValidatePolicyTradeCoverage(req.COI, req.Trades)
	writeJSON(w, http.StatusOK, TradeCoverageResponse{
		TradeCoverageResult: res,
		BrokerMessage:       tradecoverage.GenerateBrokerTradeMessage(res, insured),
	})
}

// TradeRestrictionsRequest is the request body for POST /trade-restrictions.
type TradeRestrictionsRequest struct {
	COI   *domain.COI `json:"coi" validate:"required"`
	Trade string      `json:"trade" validate:"required"`
}

// TradeRestrictions lists minimum-limit violations for a single trade.
func (h *Handler) TradeRestrictions(w http.ResponseWriter, r *http.Request) {
	var req TradeRestrictionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	restrictions := tradecoverage.ValidateTradeRestrictions(req.COI, req.Trade)
	if restrictions == nil {
		restrictions = []domain.TradeRestriction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trade":        req.Trade,
		"restrictions": restrictions,
		"count":        len(restrictions),
	})
}

// TradeChangesRequest is the request body for POST /trade-changes.
type TradeChangesRequest struct {
	OldTrades []string    `json:"oldTrades"`
	NewTrades []string    `json:"newTrades"`
	COI       *domain.COI `json:"coi" validate:"required"`
}

// TradeChanges compares coverage before and after a trade scope change.
func (h *Handler) TradeChanges(w http.ResponseWriter, r *http.Request) {
	var req TradeChangesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, tradecoverage.CompareTradesCoverage(req.OldTrades, req.NewTrades, req.COI))
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
