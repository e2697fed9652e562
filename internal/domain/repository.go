// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Project operations
	SaveProject(ctx context.Context, tenantID string, p *Project) error
	GetProject(ctx context.Context, tenantID string, projectID string) (*Project, error)
	ListProjects(ctx context.Context, tenantID string) ([]*Project, error)
	DeleteProject(ctx context.Context, tenantID string, projectID string) error

	// Subcontractor operations
	SaveSubcontractor(ctx context.Context, tenantID string, s *Subcontractor) error
	GetSubcontractor(ctx context.Context, tenantID string, subID string) (*Subcontractor, error)
	ListSubcontractors(ctx context.Context, tenantID string, projectID string) ([]*Subcontractor, error)
	DeleteSubcontractor(ctx context.Context, tenantID string, subID string) error

	// Certificate operations
	SaveCOI(ctx context.Context, tenantID string, coi *COI) error
	GetCOI(ctx context.Context, tenantID string, coiID string) (*COI, error)
	ListCOIs(ctx context.Context, tenantID string, filter COIFilter) ([]*COI, error)
	DeleteCOI(ctx context.Context, tenantID string, coiID string) error
	ListCOIsExpiringBefore(ctx context.Context, tenantID string, before time.Time) ([]*COI, error)

	// Compliance check results
	SaveCheck(ctx context.Context, tenantID string, check *ComplianceCheck) error
	GetCheck(ctx context.Context, tenantID string, checkID string) (*ComplianceCheck, error)
	GetLatestCheck(ctx context.Context, tenantID string, coiID string) (*ComplianceCheck, error)

	// Program rule operations
	SaveProgramRule(ctx context.Context, tenantID string, rule *ProgramRule) error
	GetProgramRule(ctx context.Context, tenantID string, ruleID string) (*ProgramRule, error)
	ListProgramRules(ctx context.Context, tenantID string) ([]*ProgramRule, error)
	DeleteProgramRule(ctx context.Context, tenantID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// COIFilter narrows ListCOIs. Empty fields match everything.
type COIFilter struct {
	ProjectID       string
	SubcontractorID string
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
