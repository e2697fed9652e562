package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/expiry"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/review"
	"github.com/opensource-finance/kestrel/internal/rules"
)

const testTenant = "tenant-001"

// createTestServer wires a server over a temp SQLite database, the LRU
// cache and the channel bus.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := rules.NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	lru := cache.NewLRUCache(100)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	proc := review.NewProcessor(engine, m)
	deps := Deps{
		Repo:       repo,
		Cache:      lru,
		Bus:        eventBus,
		Engine:     engine,
		Checks:     review.NewService(repo, lru, eventBus, proc),
		Expiry:     expiry.NewService(repo, lru, eventBus, m),
		Compliance: domain.ComplianceConfig{ExpiryWindowDays: 30},
	}

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	return NewServer(cfg, deps, reg, "test-v1")
}

func doRequest(t *testing.T, server *Server, method, path, tenantID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to parse response: %v (%s)", err, rr.Body.String())
	}
}

func inDays(n int) string {
	return time.Now().AddDate(0, 0, n).Format("2006-01-02")
}

// minimumCOI meets every universal minimum and carries the auto
// coverages expected of carpentry.
func minimumCOI() *domain.COI {
	return &domain.COI{
		InsuredName:            "Northwind Carpentry",
		GLEachOccurrence:       domain.Limit(1_000_000),
		GLGeneralAggregate:     domain.Limit(2_000_000),
		GLProductsCompletedOps: domain.Limit(1_000_000),
		GLEndorsements:         []string{"CG2010", "CG2037"},
		GLWaiverOfSubrogation:  true,
		GLAdditionalInsureds:   []string{"Acme Builders, Inc."},
		GLExpirationDate:       inDays(365),

		WCEachAccident:        domain.Limit(1_000_000),
		WCWaiverOfSubrogation: true,
		WCExpirationDate:      inDays(365),

		AutoCombinedSingleLimit: domain.Limit(1_000_000),
		AutoHiredCoverage:       true,
		AutoNonOwnedCoverage:    true,
		AutoExpirationDate:      inDays(365),
	}
}

func testProject() *domain.Project {
	return &domain.Project{
		Name:              "Harbor Point",
		Type:              domain.ProjectStandard,
		AdditionalInsured: []string{"Acme Builders"},
	}
}

func TestValidateEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("Compliant", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/compliance/validate", testTenant, ValidateRequest{
			COI:     minimumCOI(),
			Project: testProject(),
			Trades:  []string{"carpentry"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var res domain.ValidationResult
		decodeBody(t, rr, &res)
		if !res.Compliant {
			t.Errorf("expected compliant, got issues %+v", res.Issues)
		}
		if res.RequirementsApplied.Tier != 1 {
			t.Errorf("expected tier 1, got %d", res.RequirementsApplied.Tier)
		}
	})

	t.Run("Underinsured", func(t *testing.T) {
		coi := minimumCOI()
		coi.GLEachOccurrence = domain.Limit(500_000)

		rr := doRequest(t, server, http.MethodPost, "/compliance/validate", testTenant, ValidateRequest{
			COI:     coi,
			Project: testProject(),
			Trades:  []string{"carpentry"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var res domain.ValidationResult
		decodeBody(t, rr, &res)
		if res.Compliant {
			t.Error("expected non-compliant result")
		}
		if len(res.Issues) == 0 {
			t.Error("expected at least one issue")
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/compliance/validate", "", "{}")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReservedTenantID", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/compliance/validate", domain.GlobalTenant, "{}")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/compliance/validate", testTenant, "not-json")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingCOI", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/compliance/validate", testTenant, `{"trades":["roofing"]}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}

		var resp map[string]string
		decodeBody(t, rr, &resp)
		if !strings.Contains(resp["error"], "coi") {
			t.Errorf("expected error to name the coi field, got %q", resp["error"])
		}
	})

	t.Run("UnknownField", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/compliance/validate", testTenant, `{"coi":{},"bogus":true}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ProjectTypeIgnoresCase", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/compliance/validate", testTenant,
			`{"coi":{},"project":{"project_name":"x","project_type":"CONDO"},"trades":["painting"]}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var result domain.ValidationResult
		decodeBody(t, rr, &result)
		if !slices.Contains(result.RequirementsApplied.Modifiers, "condo") {
			t.Errorf("expected condo modifier, got %v", result.RequirementsApplied.Modifiers)
		}
	})

	t.Run("UnknownProjectType", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/compliance/validate", testTenant, `{"coi":{},"project":{"project_name":"x","project_type":"castle"}}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestRequirementsEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HighRiseRoofing", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/requirements?project_type=high_rise&trades=carpentry,roofing", testTenant, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var set domain.RequirementSet
		decodeBody(t, rr, &set)
		if set.Tier != 3 {
			t.Errorf("expected tier 3, got %d", set.Tier)
		}
	})

	t.Run("ProjectTypeIgnoresCase", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/requirements?project_type=High_Rise&trades=painting", testTenant, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var set domain.RequirementSet
		decodeBody(t, rr, &set)
		if !slices.Contains(set.Modifiers, "highRise") {
			t.Errorf("expected high-rise modifier, got %v", set.Modifiers)
		}
	})

	t.Run("BadHazmatFlag", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/requirements?hazardous_materials=maybe", testTenant, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("StrictUnknownTrade", func(t *testing.T) {
		server.Handler().cfg.StrictTrades = true
		defer func() { server.Handler().cfg.StrictTrades = false }()

		rr := doRequest(t, server, http.MethodGet, "/requirements?trades=basket-weaving", testTenant, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestTradeEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("CoverageExclusion", func(t *testing.T) {
		coi := minimumCOI()
		coi.GLExclusions = "This policy excludes roofing operations."

		rr := doRequest(t, server, http.MethodPost, "/trade-coverage", testTenant, TradeCoverageRequest{
			COI:    coi,
			Trades: []string{"roofing"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp TradeCoverageResponse
		decodeBody(t, rr, &resp)
		if resp.Compliant {
			t.Error("expected roofing exclusion to fail coverage")
		}
		if !strings.Contains(resp.BrokerMessage, "Northwind Carpentry") {
			t.Errorf("expected broker message to address the insured, got %q", resp.BrokerMessage)
		}
	})

	t.Run("RestrictionsRequireTrade", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/trade-restrictions", testTenant, map[string]any{"coi": minimumCOI()})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Changes", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/trade-changes", testTenant, TradeChangesRequest{
			OldTrades: []string{"carpentry"},
			NewTrades: []string{"carpentry", "roofing"},
			COI:       minimumCOI(),
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var res domain.TradeChangeResult
		decodeBody(t, rr, &res)
		if len(res.Added) != 1 || res.Added[0] != "roofing" {
			t.Errorf("expected roofing added, got %v", res.Added)
		}
	})
}

func TestEntityEndpoints(t *testing.T) {
	server := createTestServer(t)

	var project domain.Project
	t.Run("CreateProject", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/projects", testTenant, testProject())
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		decodeBody(t, rr, &project)
		if project.ID == "" {
			t.Error("expected generated project id")
		}
	})

	t.Run("ProjectTypeStoredNormalized", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/projects", testTenant, `{"project_name":"Bayview","project_type":" Condo "}`)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var got domain.Project
		decodeBody(t, rr, &got)
		if got.Type != domain.ProjectCondo {
			t.Errorf("expected condo, got %q", got.Type)
		}
	})

	t.Run("ProjectRequiresName", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/projects", testTenant, `{"project_type":"condo"}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("GetProjectOtherTenant", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/projects/"+project.ID, "tenant-002", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("SubcontractorUnknownProject", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/subcontractors", testTenant, domain.Subcontractor{
			ProjectID:   "missing",
			CompanyName: "Northwind Carpentry",
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("SubcontractorBadEmail", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/subcontractors", testTenant, domain.Subcontractor{
			ProjectID:   project.ID,
			CompanyName: "Northwind Carpentry",
			BrokerEmail: "not-an-email",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	var sub domain.Subcontractor
	t.Run("CreateSubcontractor", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/subcontractors", testTenant, domain.Subcontractor{
			ProjectID:   project.ID,
			CompanyName: "Northwind Carpentry",
			BrokerEmail: "broker@example.com",
			TradeTypes:  []string{"carpentry"},
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		decodeBody(t, rr, &sub)

		rr = doRequest(t, server, http.MethodGet, "/subcontractors/"+sub.ID, testTenant, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	var coi domain.COI
	t.Run("SubmitCOI", func(t *testing.T) {
		in := minimumCOI()
		in.ProjectID = project.ID
		in.SubcontractorID = sub.ID

		rr := doRequest(t, server, http.MethodPost, "/cois", testTenant, in)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
		decodeBody(t, rr, &coi)
		if coi.ID == "" {
			t.Fatal("expected generated coi id")
		}

		rr = doRequest(t, server, http.MethodGet, "/cois/"+coi.ID, testTenant, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("LatestCheckBeforeAnyCheck", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/cois/"+coi.ID+"/check", testTenant, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("CheckStoredCOI", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/cois/"+coi.ID+"/check", testTenant, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var check domain.ComplianceCheck
		decodeBody(t, rr, &check)
		if check.Status != domain.CheckCompliant {
			t.Errorf("expected compliant, got %s (issues %+v)", check.Status, check.Issues)
		}
		if check.SubcontractorID != sub.ID {
			t.Errorf("expected subcontractor %s, got %s", sub.ID, check.SubcontractorID)
		}

		rr = doRequest(t, server, http.MethodGet, "/cois/"+coi.ID+"/check", testTenant, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var latest domain.ComplianceCheck
		decodeBody(t, rr, &latest)
		if latest.ID != check.ID {
			t.Errorf("expected latest check %s, got %s", check.ID, latest.ID)
		}

		rr = doRequest(t, server, http.MethodGet, "/checks/"+check.ID, testTenant, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("CheckMissingCOI", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/cois/missing/check", testTenant, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestEntityManagementEndpoints(t *testing.T) {
	server := createTestServer(t)

	var project domain.Project
	rr := doRequest(t, server, http.MethodPost, "/projects", testTenant, testProject())
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	decodeBody(t, rr, &project)

	var sub domain.Subcontractor
	rr = doRequest(t, server, http.MethodPost, "/subcontractors", testTenant, domain.Subcontractor{
		ProjectID:   project.ID,
		CompanyName: "Northwind Carpentry",
		TradeTypes:  []string{"carpentry"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	decodeBody(t, rr, &sub)

	in := minimumCOI()
	in.ProjectID = project.ID
	in.SubcontractorID = sub.ID
	var coi domain.COI
	rr = doRequest(t, server, http.MethodPost, "/cois", testTenant, in)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	decodeBody(t, rr, &coi)

	t.Run("ListProjects", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/projects", testTenant, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Projects []domain.Project `json:"projects"`
			Count    int              `json:"count"`
		}
		decodeBody(t, rr, &resp)
		if resp.Count != 1 || resp.Projects[0].ID != project.ID {
			t.Errorf("unexpected projects: %+v", resp)
		}

		rr = doRequest(t, server, http.MethodGet, "/projects", "tenant-002", nil)
		decodeBody(t, rr, &resp)
		if resp.Count != 0 {
			t.Errorf("expected no projects for other tenant, got %d", resp.Count)
		}
	})

	t.Run("ListProjectSubcontractors", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/projects/"+project.ID+"/subcontractors", testTenant, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Subcontractors []domain.Subcontractor `json:"subcontractors"`
			Count          int                    `json:"count"`
		}
		decodeBody(t, rr, &resp)
		if resp.Count != 1 || resp.Subcontractors[0].ID != sub.ID {
			t.Errorf("unexpected subcontractors: %+v", resp)
		}

		rr = doRequest(t, server, http.MethodGet, "/projects/missing/subcontractors", testTenant, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 for unknown project, got %d", rr.Code)
		}
	})

	t.Run("ListCOIsFiltered", func(t *testing.T) {
		var resp struct {
			COIs  []domain.COI `json:"cois"`
			Count int          `json:"count"`
		}

		rr := doRequest(t, server, http.MethodGet, "/cois?project_id="+project.ID+"&subcontractor_id="+sub.ID, testTenant, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		decodeBody(t, rr, &resp)
		if resp.Count != 1 || resp.COIs[0].ID != coi.ID {
			t.Errorf("unexpected certificates: %+v", resp)
		}

		rr = doRequest(t, server, http.MethodGet, "/cois?subcontractor_id=someone-else", testTenant, nil)
		decodeBody(t, rr, &resp)
		if resp.Count != 0 || resp.COIs == nil {
			t.Errorf("expected empty list, got %+v", resp)
		}
	})

	t.Run("UpdateProject", func(t *testing.T) {
		update := testProject()
		update.Name = "Harbor Point Phase 2"
		update.Type = domain.ProjectCondo

		rr := doRequest(t, server, http.MethodPut, "/projects/"+project.ID, testTenant, update)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(t, server, http.MethodGet, "/projects/"+project.ID, testTenant, nil)
		var got domain.Project
		decodeBody(t, rr, &got)
		if got.Name != "Harbor Point Phase 2" || got.Type != domain.ProjectCondo {
			t.Errorf("update not stored: %+v", got)
		}
		if !got.CreatedAt.Equal(project.CreatedAt) {
			t.Errorf("expected created_at kept, got %v want %v", got.CreatedAt, project.CreatedAt)
		}
	})

	t.Run("UpdateMissingProject", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPut, "/projects/missing", testTenant, testProject())
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("UpdateIDMismatch", func(t *testing.T) {
		update := testProject()
		update.ID = "another-id"
		rr := doRequest(t, server, http.MethodPut, "/projects/"+project.ID, testTenant, update)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UpdateSubcontractorTrades", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPut, "/subcontractors/"+sub.ID, testTenant, domain.Subcontractor{
			ProjectID:   project.ID,
			CompanyName: "Northwind Carpentry",
			TradeTypes:  []string{"carpentry", "roofing"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp SubcontractorUpdate
		decodeBody(t, rr, &resp)
		if resp.COIID != coi.ID {
			t.Errorf("expected comparison against %s, got %q", coi.ID, resp.COIID)
		}
		if resp.TradeChanges == nil {
			t.Fatal("expected trade changes against the certificate on file")
		}
		if len(resp.TradeChanges.Added) != 1 || resp.TradeChanges.Added[0] != "roofing" {
			t.Errorf("expected roofing added, got %+v", resp.TradeChanges.Added)
		}
		if !resp.TradeChanges.ReviewRequired {
			t.Error("expected review for roofing on a $1M GL policy")
		}

		rr = doRequest(t, server, http.MethodGet, "/subcontractors/"+sub.ID, testTenant, nil)
		var got domain.Subcontractor
		decodeBody(t, rr, &got)
		if len(got.TradeTypes) != 2 {
			t.Errorf("expected trades stored, got %+v", got.TradeTypes)
		}
	})

	t.Run("UpdateSubcontractorWithoutCOI", func(t *testing.T) {
		var other domain.Subcontractor
		rr := doRequest(t, server, http.MethodPost, "/subcontractors", testTenant, domain.Subcontractor{
			ProjectID:   project.ID,
			CompanyName: "Cove Painting",
			TradeTypes:  []string{"painting"},
		})
		decodeBody(t, rr, &other)

		rr = doRequest(t, server, http.MethodPut, "/subcontractors/"+other.ID, testTenant, domain.Subcontractor{
			ProjectID:   project.ID,
			CompanyName: "Cove Painting",
			TradeTypes:  []string{"painting", "drywall"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp SubcontractorUpdate
		decodeBody(t, rr, &resp)
		if resp.TradeChanges != nil {
			t.Errorf("expected no comparison without a certificate, got %+v", resp.TradeChanges)
		}

		rr = doRequest(t, server, http.MethodDelete, "/subcontractors/"+other.ID, testTenant, nil)
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
	})

	t.Run("UpdateCOI", func(t *testing.T) {
		update := minimumCOI()
		update.ProjectID = project.ID
		update.SubcontractorID = sub.ID
		update.GLEachOccurrence = domain.Limit(2_000_000)

		rr := doRequest(t, server, http.MethodPut, "/cois/"+coi.ID, testTenant, update)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(t, server, http.MethodGet, "/cois/"+coi.ID, testTenant, nil)
		var got domain.COI
		decodeBody(t, rr, &got)
		if got.GLEachOccurrence == nil || *got.GLEachOccurrence != 2_000_000 {
			t.Errorf("expected raised GL limit, got %v", got.GLEachOccurrence)
		}
	})

	t.Run("DeleteInUse", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodDelete, "/projects/"+project.ID, testTenant, nil)
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409 for project, got %d", rr.Code)
		}
		rr = doRequest(t, server, http.MethodDelete, "/subcontractors/"+sub.ID, testTenant, nil)
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409 for subcontractor, got %d", rr.Code)
		}
	})

	t.Run("DeleteChain", func(t *testing.T) {
		for _, path := range []string{"/cois/" + coi.ID, "/subcontractors/" + sub.ID, "/projects/" + project.ID} {
			rr := doRequest(t, server, http.MethodDelete, path, testTenant, nil)
			if rr.Code != http.StatusNoContent {
				t.Fatalf("DELETE %s: expected status 204, got %d: %s", path, rr.Code, rr.Body.String())
			}
			rr = doRequest(t, server, http.MethodGet, path, testTenant, nil)
			if rr.Code != http.StatusNotFound {
				t.Errorf("GET %s: expected status 404 after delete, got %d", path, rr.Code)
			}
		}

		rr := doRequest(t, server, http.MethodDelete, "/cois/"+coi.ID, testTenant, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 on second delete, got %d", rr.Code)
		}
	})
}

func TestExpiringEndpoints(t *testing.T) {
	server := createTestServer(t)

	coi := minimumCOI()
	coi.GLExpirationDate = inDays(10)
	if rr := doRequest(t, server, http.MethodPost, "/cois", testTenant, coi); rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	t.Run("List", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/cois/expiring?days=30", testTenant, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Policies []expiry.Policy `json:"policies"`
			Count    int             `json:"count"`
		}
		decodeBody(t, rr, &resp)
		if resp.Count != 1 {
			t.Fatalf("expected 1 expiring policy, got %d", resp.Count)
		}
		if resp.Policies[0].Line != domain.LineGL {
			t.Errorf("expected GL policy, got %s", resp.Policies[0].Line)
		}
	})

	t.Run("BadWindow", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/cois/expiring?days=-3", testTenant, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NotifyOnce", func(t *testing.T) {
		for i, want := range []float64{1, 0} {
			rr := doRequest(t, server, http.MethodPost, "/cois/expiring/notify", testTenant, nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}
			var resp map[string]any
			decodeBody(t, rr, &resp)
			if resp["sent"] != want {
				t.Errorf("call %d: expected %v sent, got %v", i, want, resp["sent"])
			}
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("CreateAndList", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/rules", testTenant, CreateRuleRequest{
			ID:         "umbrella-5m",
			Name:       "Umbrella $5M",
			Expression: "has(coi.umbrella_limit) && coi.umbrella_limit >= 5000000.0",
			Severity:   domain.SeverityHigh,
			Enabled:    true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(t, server, http.MethodGet, "/rules/umbrella-5m", testTenant, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		decodeBody(t, doRequest(t, server, http.MethodGet, "/rules", testTenant, nil), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 loaded rule, got %d", resp.Count)
		}
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/rules", testTenant, CreateRuleRequest{
			ID:         "broken",
			Name:       "Broken",
			Expression: "coi.umbrella_limit >=",
			Enabled:    true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReloadKeepsPersisted", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodPost, "/rules/reload", testTenant, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if got := server.Handler().engine.RulesCount(); got != 1 {
			t.Errorf("expected 1 rule after reload, got %d", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodDelete, "/rules/umbrella-5m", testTenant, nil)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
		}

		rr = doRequest(t, server, http.MethodGet, "/rules/umbrella-5m", testTenant, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}

		rr = doRequest(t, server, http.MethodDelete, "/rules/umbrella-5m", testTenant, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 on second delete, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/health", "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		decodeBody(t, rr, &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/ready", "", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := doRequest(t, server, http.MethodGet, "/metrics", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "kestrel_expiry_notifications_total") {
			t.Error("expected kestrel metrics in exposition")
		}
	})

	t.Run("NoRepository", func(t *testing.T) {
		engine, _ := rules.NewEngine(1)
		bare := NewServer(domain.ServerConfig{}, Deps{Engine: engine}, prometheus.NewRegistry(), "test-v1")

		rr := doRequest(t, bare, http.MethodGet, "/projects/p1", testTenant, nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestTracingToggle(t *testing.T) {
	cfg := domain.ServerConfig{Host: "localhost", Port: 8080}

	off := NewServer(cfg, Deps{}, prometheus.NewRegistry(), "test")
	on := NewServer(cfg, Deps{Tracing: domain.TracingConfig{Enabled: true, ServiceName: "kestrel"}}, prometheus.NewRegistry(), "test")

	if got, want := len(on.Router().Middlewares()), len(off.Router().Middlewares())+1; got != want {
		t.Errorf("expected tracing to add one middleware, got %d want %d", got, want)
	}

	rr := httptest.NewRecorder()
	on.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 with tracing on, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID with tracing on")
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", " my-tenant-123 ")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("RequestIDMiddlewareSetsIDs", func(t *testing.T) {
		var requestID, traceID string

		handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID, _ = r.Context().Value(RequestIDKey).(string)
			traceID = GetTraceID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if requestID == "" {
			t.Error("expected request ID to be set")
		}
		if traceID != requestID {
			t.Errorf("expected request ID as trace ID, got %q vs %q", traceID, requestID)
		}
		if rr.Header().Get("X-Request-ID") != requestID {
			t.Error("expected X-Request-ID response header")
		}

		req = httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "req-123")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if requestID != "req-123" {
			t.Errorf("expected caller request ID kept, got %q", requestID)
		}
	})

	t.Run("TracingMiddlewareKeepsIDsWithoutProvider", func(t *testing.T) {
		var traceID string
		handler := RequestIDMiddleware(TracingMiddleware("kestrel-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID = GetTraceID(r.Context())
			w.WriteHeader(http.StatusOK)
		})))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "req-456")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		// the no-op global provider issues no trace IDs
		if traceID != "req-456" {
			t.Errorf("expected request ID as trace ID, got %q", traceID)
		}
		if rr.Header().Get("X-Trace-ID") != "req-456" {
			t.Errorf("unexpected X-Trace-ID %q", rr.Header().Get("X-Trace-ID"))
		}
	})

	t.Run("CORSAllowsPut", func(t *testing.T) {
		handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/projects/p1", nil))

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "PUT") {
			t.Errorf("expected PUT allowed, got %q", rr.Header().Get("Access-Control-Allow-Methods"))
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
