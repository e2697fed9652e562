// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInUse        = errors.New("record is still referenced")
)

const dateLayout = "2006-01-02"

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

const openTimeout = 10 * time.Second

// New opens the configured database, applies the pool limits and brings the
// schema up to date.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var dsn string
	switch cfg.Driver {
	case "sqlite":
		var err error
		if dsn, err = sqliteDSN(cfg); err != nil {
			return nil, err
		}
	case "postgres":
		dsn = postgresDSN(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Driver, err)
	}
	if err := repo.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s database: %w", cfg.Driver, err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

func requireIDs(tenantID, id string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	return nil
}

// SaveProject upserts a project with tenant isolation.
func (r *SQLRepository) SaveProject(ctx context.Context, tenantID string, p *domain.Project) error {
	if p == nil {
		return fmt.Errorf("%w: project is required", ErrInvalidInput)
	}
	if err := requireIDs(tenantID, p.ID); err != nil {
		return err
	}

	p.TenantID = tenantID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	projectType := p.Type
	if projectType == "" {
		projectType = domain.ProjectStandard
	}

	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode project: %w", err)
	}

	query := `
		INSERT INTO projects (id, tenant_id, name, project_type, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			project_type = excluded.project_type,
			document = excluded.document
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		p.ID, tenantID, p.Name, string(projectType), string(doc), p.CreatedAt,
	)
	return err
}

// GetProject retrieves a project by ID with tenant isolation.
func (r *SQLRepository) GetProject(ctx context.Context, tenantID string, projectID string) (*domain.Project, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT document FROM projects WHERE tenant_id = ? AND id = ?`

	var p domain.Project
	if err := r.getDocument(ctx, query, &p, tenantID, projectID); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns every project of a tenant, oldest first.
func (r *SQLRepository) ListProjects(ctx context.Context, tenantID string) ([]*domain.Project, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT document FROM projects WHERE tenant_id = ? ORDER BY created_at, id`
	return listDocuments[domain.Project](ctx, r, query, tenantID)
}

// DeleteProject removes a project that no subcontractor or certificate
// still points at.
func (r *SQLRepository) DeleteProject(ctx context.Context, tenantID string, projectID string) error {
	if err := requireIDs(tenantID, projectID); err != nil {
		return err
	}

	query := `
		SELECT
			(SELECT COUNT(*) FROM subcontractors WHERE tenant_id = ? AND project_id = ?) +
			(SELECT COUNT(*) FROM cois WHERE tenant_id = ? AND project_id = ?)
	`
	var refs int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, projectID, tenantID, projectID).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: project %s has %d dependent records", ErrInUse, projectID, refs)
	}

	return r.deleteRow(ctx, "projects", tenantID, projectID)
}

// SaveSubcontractor upserts a subcontractor with tenant isolation.
func (r *SQLRepository) SaveSubcontractor(ctx context.Context, tenantID string, s *domain.Subcontractor) error {
	if s == nil {
		return fmt.Errorf("%w: subcontractor is required", ErrInvalidInput)
	}
	if err := requireIDs(tenantID, s.ID); err != nil {
		return err
	}

	s.TenantID = tenantID
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode subcontractor: %w", err)
	}

	query := `
		INSERT INTO subcontractors (id, tenant_id, project_id, company_name, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			project_id = excluded.project_id,
			company_name = excluded.company_name,
			document = excluded.document
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		s.ID, tenantID, s.ProjectID, s.CompanyName, string(doc), s.CreatedAt,
	)
	return err
}

// GetSubcontractor retrieves a subcontractor by ID with tenant isolation.
func (r *SQLRepository) GetSubcontractor(ctx context.Context, tenantID string, subID string) (*domain.Subcontractor, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT document FROM subcontractors WHERE tenant_id = ? AND id = ?`

	var s domain.Subcontractor
	if err := r.getDocument(ctx, query, &s, tenantID, subID); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSubcontractors returns a tenant's subcontractors, limited to one
// project when projectID is set.
func (r *SQLRepository) ListSubcontractors(ctx context.Context, tenantID string, projectID string) ([]*domain.Subcontractor, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT document FROM subcontractors WHERE tenant_id = ?`
	args := []any{tenantID}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at, id`

	return listDocuments[domain.Subcontractor](ctx, r, query, args...)
}

// DeleteSubcontractor removes a subcontractor with no certificates on file.
func (r *SQLRepository) DeleteSubcontractor(ctx context.Context, tenantID string, subID string) error {
	if err := requireIDs(tenantID, subID); err != nil {
		return err
	}

	var refs int
	query := `SELECT COUNT(*) FROM cois WHERE tenant_id = ? AND subcontractor_id = ?`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, subID).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: subcontractor %s has %d certificates", ErrInUse, subID, refs)
	}

	return r.deleteRow(ctx, "subcontractors", tenantID, subID)
}

// SaveCOI upserts a certificate with tenant isolation. The earliest policy
// expiration is denormalized so expiry scans do not decode every document.
func (r *SQLRepository) SaveCOI(ctx context.Context, tenantID string, coi *domain.COI) error {
	if coi == nil {
		return fmt.Errorf("%w: coi is required", ErrInvalidInput)
	}
	if err := requireIDs(tenantID, coi.ID); err != nil {
		return err
	}

	coi.TenantID = tenantID
	if coi.CreatedAt.IsZero() {
		coi.CreatedAt = time.Now().UTC()
	}

	var earliest sql.NullString
	if t, ok := coi.EarliestExpiration(); ok {
		earliest = sql.NullString{String: t.Format(dateLayout), Valid: true}
	}

	doc, err := json.Marshal(coi)
	if err != nil {
		return fmt.Errorf("failed to encode coi: %w", err)
	}

	query := `
		INSERT INTO cois (
			id, tenant_id, project_id, subcontractor_id, insured_name,
			earliest_expiration, document, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			project_id = excluded.project_id,
			subcontractor_id = excluded.subcontractor_id,
			insured_name = excluded.insured_name,
			earliest_expiration = excluded.earliest_expiration,
			document = excluded.document
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		coi.ID, tenantID, coi.ProjectID, coi.SubcontractorID, coi.InsuredName,
		earliest, string(doc), coi.CreatedAt,
	)
	return err
}

// GetCOI retrieves a certificate by ID with tenant isolation.
func (r *SQLRepository) GetCOI(ctx context.Context, tenantID string, coiID string) (*domain.COI, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT document FROM cois WHERE tenant_id = ? AND id = ?`

	var coi domain.COI
	if err := r.getDocument(ctx, query, &coi, tenantID, coiID); err != nil {
		return nil, err
	}
	return &coi, nil
}

// ListCOIs returns certificates matching filter, oldest first.
func (r *SQLRepository) ListCOIs(ctx context.Context, tenantID string, filter domain.COIFilter) ([]*domain.COI, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT document FROM cois WHERE tenant_id = ?`
	args := []any{tenantID}
	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.SubcontractorID != "" {
		query += ` AND subcontractor_id = ?`
		args = append(args, filter.SubcontractorID)
	}
	query += ` ORDER BY created_at, id`

	return listDocuments[domain.COI](ctx, r, query, args...)
}

// DeleteCOI removes a certificate. Its compliance checks are kept as history.
func (r *SQLRepository) DeleteCOI(ctx context.Context, tenantID string, coiID string) error {
	if err := requireIDs(tenantID, coiID); err != nil {
		return err
	}
	return r.deleteRow(ctx, "cois", tenantID, coiID)
}

// ListCOIsExpiringBefore returns certificates whose earliest policy expires
// on or before the given date, including ones already expired.
func (r *SQLRepository) ListCOIsExpiringBefore(ctx context.Context, tenantID string, before time.Time) ([]*domain.COI, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT document
		FROM cois
		WHERE tenant_id = ?
		  AND earliest_expiration IS NOT NULL
		  AND earliest_expiration <= ?
		ORDER BY earliest_expiration, id
	`

	return listDocuments[domain.COI](ctx, r, query, tenantID, before.UTC().Format(dateLayout))
}

// SaveCheck stores a compliance check result with tenant isolation.
// Checks are append-only.
func (r *SQLRepository) SaveCheck(ctx context.Context, tenantID string, check *domain.ComplianceCheck) error {
	if check == nil {
		return fmt.Errorf("%w: check is required", ErrInvalidInput)
	}
	if err := requireIDs(tenantID, check.ID); err != nil {
		return err
	}
	if check.COIID == "" {
		return fmt.Errorf("%w: coiID is required", ErrInvalidInput)
	}

	check.TenantID = tenantID
	if check.CheckedAt.IsZero() {
		check.CheckedAt = time.Now().UTC()
	}
	check.CheckedAt = check.CheckedAt.UTC()

	doc, err := json.Marshal(check)
	if err != nil {
		return fmt.Errorf("failed to encode check: %w", err)
	}

	compliant := 0
	if check.Compliant {
		compliant = 1
	}

	query := `
		INSERT INTO compliance_checks (id, tenant_id, coi_id, status, compliant, checked_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		check.ID, tenantID, check.COIID, string(check.Status), compliant, check.CheckedAt, string(doc),
	)
	return err
}

// GetCheck retrieves a compliance check by ID with tenant isolation.
func (r *SQLRepository) GetCheck(ctx context.Context, tenantID string, checkID string) (*domain.ComplianceCheck, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT document FROM compliance_checks WHERE tenant_id = ? AND id = ?`

	var check domain.ComplianceCheck
	if err := r.getDocument(ctx, query, &check, tenantID, checkID); err != nil {
		return nil, err
	}
	return &check, nil
}

// GetLatestCheck retrieves the most recent check of a certificate.
func (r *SQLRepository) GetLatestCheck(ctx context.Context, tenantID string, coiID string) (*domain.ComplianceCheck, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT document
		FROM compliance_checks
		WHERE tenant_id = ? AND coi_id = ?
		ORDER BY checked_at DESC
		LIMIT 1
	`

	var check domain.ComplianceCheck
	if err := r.getDocument(ctx, query, &check, tenantID, coiID); err != nil {
		return nil, err
	}
	return &check, nil
}

// SaveProgramRule stores a program rule with tenant isolation.
func (r *SQLRepository) SaveProgramRule(ctx context.Context, tenantID string, rule *domain.ProgramRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", ErrInvalidInput)
	}
	if err := requireIDs(tenantID, rule.ID); err != nil {
		return err
	}

	rule.TenantID = tenantID
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO program_rules (
			id, tenant_id, name, description, version, expression,
			code, field, severity, message, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			code = excluded.code,
			field = excluded.field,
			severity = excluded.severity,
			message = excluded.message,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, rule.Version, rule.Expression,
		rule.Code, rule.Field, string(rule.Severity), rule.Message, enabled,
		now, now,
	)
	return err
}

const programRuleColumns = `id, tenant_id, name, description, version, expression, code, field, severity, message, enabled`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgramRule(row rowScanner) (*domain.ProgramRule, error) {
	var rule domain.ProgramRule
	var description sql.NullString
	var severity string
	var enabled int

	if err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &description, &rule.Version, &rule.Expression,
		&rule.Code, &rule.Field, &severity, &rule.Message, &enabled,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Severity = domain.Severity(severity)
	rule.Enabled = enabled == 1
	return &rule, nil
}

// GetProgramRule retrieves the latest enabled version of a program rule.
func (r *SQLRepository) GetProgramRule(ctx context.Context, tenantID string, ruleID string) (*domain.ProgramRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + programRuleColumns + `
		FROM program_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	rule, err := scanProgramRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListProgramRules retrieves all enabled program rules for a tenant.
func (r *SQLRepository) ListProgramRules(ctx context.Context, tenantID string) ([]*domain.ProgramRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + programRuleColumns + `
		FROM program_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ProgramRule
	for rows.Next() {
		rule, err := scanProgramRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DeleteProgramRule soft-deletes a program rule by setting enabled = 0.
func (r *SQLRepository) DeleteProgramRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE program_rules
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// getDocument runs a single-row query selecting a JSON document column and
// decodes it into dst.
func (r *SQLRepository) getDocument(ctx context.Context, query string, dst any, args ...any) error {
	var doc string
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(doc), dst); err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	return nil
}

// listDocuments runs a query selecting a JSON document column and decodes
// every row.
func listDocuments[T any](ctx context.Context, r *SQLRepository, query string, args ...any) ([]*T, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		v := new(T)
		if err := json.Unmarshal([]byte(doc), v); err != nil {
			return nil, fmt.Errorf("failed to parse document: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// deleteRow hard-deletes one tenant row. table is always a constant.
func (r *SQLRepository) deleteRow(ctx context.Context, table, tenantID, id string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM `+table+` WHERE tenant_id = ? AND id = ?`), tenantID, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
