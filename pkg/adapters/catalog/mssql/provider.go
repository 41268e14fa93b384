package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssqldriver "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/adapters/catalog"
	"github.com/dota-labs/dota-engine/pkg/apperrors"
	"github.com/dota-labs/dota-engine/pkg/models"
)

// Provider implements catalog.Provider against SQL Server system catalogs.
// Every query is a metadata or TOP-limited read; nothing here mutates the
// target database.
type Provider struct {
	db       *sql.DB
	database string
	logger   *zap.Logger
}

var _ catalog.Provider = (*Provider)(nil)

// New opens a connection pool for the given config and verifies connectivity.
func New(ctx context.Context, cfg *Config, logger *zap.Logger) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog config: %w", err)
	}

	db, err := sql.Open("sqlserver", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog connection: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	p := &Provider{
		db:       db,
		database: cfg.Database,
		logger:   logger.Named("catalog"),
	}
	if err := p.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// Ping verifies connectivity.
func (p *Provider) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrCatalogUnavailable, err)
	}
	return nil
}

// Database returns the catalog name this provider is connected to.
func (p *Provider) Database() string {
	return p.database
}

// Close releases the underlying connections.
func (p *Provider) Close() error {
	return p.db.Close()
}

// ListTables returns every base table in the catalog.
func (p *Provider) ListTables(ctx context.Context) ([]models.TableIdentity, error) {
	query := `SET NOCOUNT ON;
		SELECT TABLE_SCHEMA, TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_SCHEMA, TABLE_NAME`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, p.wrapQueryError("list tables", err)
	}
	defer rows.Close()

	var tables []models.TableIdentity
	for rows.Next() {
		var t models.TableIdentity
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan table row: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// ListColumns returns the columns of one table in ordinal order.
func (p *Provider) ListColumns(ctx context.Context, schema, table string) ([]catalog.ColumnInfo, error) {
	query := `SET NOCOUNT ON;
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
		ORDER BY ORDINAL_POSITION`

	rows, err := p.db.QueryContext(ctx, query,
		sql.Named("schema", schema),
		sql.Named("table", table))
	if err != nil {
		return nil, p.wrapQueryError("list columns", err)
	}
	defer rows.Close()

	var cols []catalog.ColumnInfo
	for rows.Next() {
		var c catalog.ColumnInfo
		var nullable string
		if err := rows.Scan(&c.Name, &c.DataType, &nullable, &c.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		c.Nullable = strings.EqualFold(nullable, "YES")
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// ListAllColumns returns every base-table column in one pass, for building
// the snapshot column index without a per-table round trip.
func (p *Provider) ListAllColumns(ctx context.Context) ([]catalog.TableColumn, error) {
	query := `SET NOCOUNT ON;
		SELECT c.TABLE_SCHEMA, c.TABLE_NAME, c.COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS c
		JOIN INFORMATION_SCHEMA.TABLES t
		  ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
		WHERE t.TABLE_TYPE = 'BASE TABLE'
		ORDER BY c.TABLE_SCHEMA, c.TABLE_NAME, c.ORDINAL_POSITION`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, p.wrapQueryError("list all columns", err)
	}
	defer rows.Close()

	var cols []catalog.TableColumn
	for rows.Next() {
		var c catalog.TableColumn
		if err := rows.Scan(&c.Schema, &c.Table, &c.Column); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// ListObjects returns every routine and view, for object-name resolution.
func (p *Provider) ListObjects(ctx context.Context) ([]catalog.QualifiedObject, error) {
	query := `SET NOCOUNT ON;
		SELECT ROUTINE_SCHEMA, ROUTINE_NAME FROM INFORMATION_SCHEMA.ROUTINES
		UNION
		SELECT TABLE_SCHEMA, TABLE_NAME FROM INFORMATION_SCHEMA.VIEWS`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, p.wrapQueryError("list objects", err)
	}
	defer rows.Close()

	var objects []catalog.QualifiedObject
	for rows.Next() {
		var o catalog.QualifiedObject
		if err := rows.Scan(&o.Schema, &o.Name); err != nil {
			return nil, fmt.Errorf("failed to scan object row: %w", err)
		}
		objects = append(objects, o)
	}
	return objects, rows.Err()
}

// ListJobs returns the names of all agent jobs. Lack of msdb visibility is a
// degradation, not a failure.
func (p *Provider) ListJobs(ctx context.Context) ([]string, error) {
	query := `SET NOCOUNT ON; SELECT name FROM msdb.dbo.sysjobs ORDER BY name`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		if isPermissionError(err) {
			return nil, fmt.Errorf("%w: msdb jobs: %v", apperrors.ErrPermissionInsufficient, err)
		}
		return nil, p.wrapQueryError("list jobs", err)
	}
	defer rows.Close()

	var jobs []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, name)
	}
	return jobs, rows.Err()
}

// ListProcedures returns every procedure module with its source text.
// Definitions can be NULL for logins without VIEW DEFINITION; those modules
// are returned with empty text so callers can report partial visibility.
func (p *Provider) ListProcedures(ctx context.Context) ([]models.Procedure, error) {
	query := `SET NOCOUNT ON;
		SELECT p.object_id, s.name, p.name, ISNULL(m.definition, '')
		FROM sys.procedures p
		JOIN sys.schemas s ON s.schema_id = p.schema_id
		LEFT JOIN sys.sql_modules m ON m.object_id = p.object_id
		ORDER BY s.name, p.name`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		if isPermissionError(err) {
			return nil, fmt.Errorf("%w: sys.sql_modules: %v", apperrors.ErrPermissionInsufficient, err)
		}
		return nil, p.wrapQueryError("list procedures", err)
	}
	defer rows.Close()

	var procs []models.Procedure
	for rows.Next() {
		var proc models.Procedure
		if err := rows.Scan(&proc.ObjectID, &proc.Schema, &proc.Name, &proc.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan procedure row: %w", err)
		}
		procs = append(procs, proc)
	}
	return procs, rows.Err()
}

// ListDependencyEdges returns all referencing -> referenced pairs from the
// expression dependency catalog, for building the reverse-dependency index.
// Unresolved references keep their recorded entity name with a dbo default
// schema.
func (p *Provider) ListDependencyEdges(ctx context.Context) ([]catalog.DependencyEdge, error) {
	query := `SET NOCOUNT ON;
		SELECT d.referencing_id,
		       o.type,
		       ISNULL(d.referenced_schema_name, 'dbo'),
		       d.referenced_entity_name,
		       ISNULL(ro.type, '')
		FROM sys.sql_expression_dependencies d
		JOIN sys.objects o ON o.object_id = d.referencing_id
		LEFT JOIN sys.objects ro ON ro.object_id = d.referenced_id
		WHERE d.referenced_entity_name IS NOT NULL`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		if isPermissionError(err) {
			return nil, fmt.Errorf("%w: sys.sql_expression_dependencies: %v", apperrors.ErrPermissionInsufficient, err)
		}
		return nil, p.wrapQueryError("list dependency edges", err)
	}
	defer rows.Close()

	var edges []catalog.DependencyEdge
	for rows.Next() {
		var e catalog.DependencyEdge
		var referencingType, referencedType string
		if err := rows.Scan(&e.ReferencingID, &referencingType, &e.ReferencedSchema, &e.ReferencedName, &referencedType); err != nil {
			return nil, fmt.Errorf("failed to scan dependency row: %w", err)
		}
		e.ReferencingKind = normalizeObjectType(referencingType)
		e.ReferencedKind = normalizeObjectType(referencedType)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// ListSynonyms returns all synonyms with their parsed base object parts.
func (p *Provider) ListSynonyms(ctx context.Context) ([]models.Synonym, error) {
	query := `SET NOCOUNT ON;
		SELECT sc.name,
		       sy.name,
		       ISNULL(PARSENAME(sy.base_object_name, 2), 'dbo'),
		       ISNULL(PARSENAME(sy.base_object_name, 1), ''),
		       ISNULL(PARSENAME(sy.base_object_name, 3), ''),
		       ISNULL(PARSENAME(sy.base_object_name, 4), '')
		FROM sys.synonyms sy
		JOIN sys.schemas sc ON sc.schema_id = sy.schema_id`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, p.wrapQueryError("list synonyms", err)
	}
	defer rows.Close()

	var synonyms []models.Synonym
	for rows.Next() {
		var s models.Synonym
		if err := rows.Scan(&s.Schema, &s.Name, &s.BaseSchema, &s.BaseName, &s.BaseDatabase, &s.BaseServer); err != nil {
			return nil, fmt.Errorf("failed to scan synonym row: %w", err)
		}
		synonyms = append(synonyms, s)
	}
	return synonyms, rows.Err()
}

// wrapQueryError classifies a driver error for the given operation.
func (p *Provider) wrapQueryError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if isPermissionError(err) {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrPermissionInsufficient, op, err)
	}
	var driverErr mssqldriver.Error
	if errors.As(err, &driverErr) {
		return fmt.Errorf("%s: %w: server error %d: %v", op, apperrors.ErrCatalogUnavailable, driverErr.Number, err)
	}
	return fmt.Errorf("%s: %w: %v", op, apperrors.ErrCatalogUnavailable, err)
}
