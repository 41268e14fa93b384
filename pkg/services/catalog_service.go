package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/adapters/catalog"
	"github.com/dota-labs/dota-engine/pkg/apperrors"
	"github.com/dota-labs/dota-engine/pkg/models"
	sqltext "github.com/dota-labs/dota-engine/pkg/sql"
)

// TableSchema is a resolved table with its column layout.
type TableSchema struct {
	Table   models.TableIdentity `json:"table"`
	Columns []catalog.ColumnInfo `json:"columns"`
	Notes   []string             `json:"notes,omitempty"`
}

// ObjectSource is a resolved module with its definition text.
type ObjectSource struct {
	Object     string `json:"object"`
	Definition string `json:"definition"`
}

// CatalogService answers direct catalog questions that are not lineage walks:
// table layouts, small data samples, module source and permission self-tests.
type CatalogService interface {
	// TableSchema resolves a table and returns its columns.
	TableSchema(ctx context.Context, table string) (*TableSchema, error)

	// ColumnSample returns up to limit values of selectColumn where
	// whereColumn equals value. Identifiers are resolved against the catalog
	// before use; the filter value is checked for injection and always rides
	// as a bind parameter.
	ColumnSample(ctx context.Context, table, selectColumn, whereColumn, value string, limit int) ([]string, error)

	// ObjectSource returns the source text of a routine, view or trigger.
	ObjectSource(ctx context.Context, name string) (*ObjectSource, error)

	// PermissionSelfTest probes metadata visibility for the current login.
	PermissionSelfTest(ctx context.Context) models.CatalogVisibility
}

type catalogService struct {
	connections ConnectionManager
	resolver    NameResolver
	logger      *zap.Logger
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService creates a catalog service.
func NewCatalogService(connections ConnectionManager, resolver NameResolver, logger *zap.Logger) CatalogService {
	return &catalogService{
		connections: connections,
		resolver:    resolver,
		logger:      logger.Named("catalog-service"),
	}
}

func (s *catalogService) TableSchema(ctx context.Context, table string) (*TableSchema, error) {
	identity, notes, err := s.resolver.ResolveTable(ctx, table)
	if err != nil {
		return nil, err
	}
	columns, err := s.connections.Provider().ListColumns(ctx, identity.Schema, identity.Name)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s has no visible columns: %w", identity.Qualified(), apperrors.ErrNotFound)
	}
	return &TableSchema{Table: identity, Columns: columns, Notes: notes}, nil
}

func (s *catalogService) ColumnSample(ctx context.Context, table, selectColumn, whereColumn, value string, limit int) ([]string, error) {
	if check := sqltext.CheckValueForInjection("value", value); check != nil {
		return nil, fmt.Errorf("rejected filter value: injection pattern %q detected", check.Fingerprint)
	}

	identity, _, err := s.resolver.ResolveTable(ctx, table)
	if err != nil {
		return nil, err
	}
	selectCanonical, err := s.resolver.ResolveColumn(ctx, identity, selectColumn)
	if err != nil {
		return nil, err
	}
	whereCanonical, err := s.resolver.ResolveColumn(ctx, identity, whereColumn)
	if err != nil {
		return nil, err
	}
	return s.connections.Provider().ColumnSample(ctx, identity.Schema, identity.Name,
		selectCanonical, whereCanonical, value, limit)
}

func (s *catalogService) ObjectSource(ctx context.Context, name string) (*ObjectSource, error) {
	resolved, definition, err := s.connections.Provider().ObjectDefinition(ctx, name)
	if err != nil {
		if errors.Is(err, apperrors.ErrPermissionInsufficient) && resolved != "" {
			return nil, fmt.Errorf("definition of %s is not visible to this login: %w",
				resolved, apperrors.ErrPermissionInsufficient)
		}
		return nil, err
	}
	return &ObjectSource{Object: resolved, Definition: definition}, nil
}

func (s *catalogService) PermissionSelfTest(ctx context.Context) models.CatalogVisibility {
	visibility := s.connections.Provider().Visibility(ctx)
	s.logger.Info("permission self-test",
		zap.Bool("modules", visibility.Modules),
		zap.Bool("dependencies", visibility.Dependencies),
		zap.Bool("computed_columns", visibility.ComputedColumns),
		zap.Bool("default_constraints", visibility.DefaultConstraints))
	return visibility
}
