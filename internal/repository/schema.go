package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL. Entities are stored as JSON
// documents next to the columns they are queried by.

const schemaProjects = `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    project_type TEXT NOT NULL,
    document TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);
`

const schemaSubcontractors = `
CREATE TABLE IF NOT EXISTS subcontractors (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    project_id TEXT NOT NULL,
    company_name TEXT NOT NULL,
    document TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_subcontractors_project ON subcontractors(tenant_id, project_id);
`

// earliest_expiration is a YYYY-MM-DD string so range scans compare the
// same way on both drivers.
const schemaCOIs = `
CREATE TABLE IF NOT EXISTS cois (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    project_id TEXT NOT NULL,
    subcontractor_id TEXT NOT NULL,
    insured_name TEXT NOT NULL,
    earliest_expiration TEXT,
    document TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_cois_project ON cois(tenant_id, project_id);
CREATE INDEX IF NOT EXISTS idx_cois_subcontractor ON cois(tenant_id, subcontractor_id);
CREATE INDEX IF NOT EXISTS idx_cois_expiration ON cois(tenant_id, earliest_expiration);
`

const schemaComplianceChecks = `
CREATE TABLE IF NOT EXISTS compliance_checks (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    coi_id TEXT NOT NULL,
    status TEXT NOT NULL,
    compliant INTEGER NOT NULL,
    checked_at TIMESTAMP NOT NULL,
    document TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checks_tenant ON compliance_checks(tenant_id);
CREATE INDEX IF NOT EXISTS idx_checks_coi ON compliance_checks(tenant_id, coi_id, checked_at);
CREATE INDEX IF NOT EXISTS idx_checks_status ON compliance_checks(tenant_id, status);
`

const schemaProgramRules = `
CREATE TABLE IF NOT EXISTS program_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    code TEXT NOT NULL,
    field TEXT NOT NULL,
    severity TEXT NOT NULL,
    message TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_program_rules_tenant ON program_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_program_rules_enabled ON program_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaProjects,
		schemaSubcontractors,
		schemaCOIs,
		schemaComplianceChecks,
		schemaProgramRules,
	}
}
