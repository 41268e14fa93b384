package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dota-labs/dota-engine/pkg/adapters/catalog"
	"github.com/dota-labs/dota-engine/pkg/apperrors"
	"github.com/dota-labs/dota-engine/pkg/models"
)

// LookupTable resolves a possibly bare, possibly bracketed table name against
// the live catalog, following synonyms one hop.
func (p *Provider) LookupTable(ctx context.Context, input string) (models.TableIdentity, error) {
	schema, table := parseSchemaTable(input)

	query := `SET NOCOUNT ON;
		SELECT TOP 1 TABLE_SCHEMA, TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		  AND LOWER(TABLE_NAME) = LOWER(@table)
		  AND (@schema = '' OR LOWER(TABLE_SCHEMA) = LOWER(@schema))
		ORDER BY CASE WHEN TABLE_SCHEMA = 'dbo' THEN 0 ELSE 1 END, TABLE_SCHEMA`

	var identity models.TableIdentity
	err := p.db.QueryRowContext(ctx, query,
		sql.Named("schema", schema),
		sql.Named("table", table)).Scan(&identity.Schema, &identity.Name)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.TableIdentity{}, p.wrapQueryError("lookup table", err)
	}

	// Not a base table; try a synonym pointing at one.
	synQuery := `SET NOCOUNT ON;
		SELECT TOP 1
		       ISNULL(PARSENAME(sy.base_object_name, 2), 'dbo'),
		       ISNULL(PARSENAME(sy.base_object_name, 1), ''),
		       ISNULL(PARSENAME(sy.base_object_name, 3), '')
		FROM sys.synonyms sy
		JOIN sys.schemas sc ON sc.schema_id = sy.schema_id
		WHERE LOWER(sy.name) = LOWER(@table)
		  AND (@schema = '' OR LOWER(sc.name) = LOWER(@schema))`

	var baseSchema, baseName, baseDatabase string
	err = p.db.QueryRowContext(ctx, synQuery,
		sql.Named("schema", schema),
		sql.Named("table", table)).Scan(&baseSchema, &baseName, &baseDatabase)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TableIdentity{}, fmt.Errorf("table %q: %w", input, apperrors.ErrNotFound)
	}
	if err != nil {
		return models.TableIdentity{}, p.wrapQueryError("lookup synonym", err)
	}
	if baseDatabase != "" && !strings.EqualFold(baseDatabase, p.database) {
		return models.TableIdentity{}, fmt.Errorf("synonym %q points at database %q: %w", input, baseDatabase, apperrors.ErrNotFound)
	}
	return models.TableIdentity{Schema: baseSchema, Name: baseName}, nil
}

// LookupColumn returns the canonical casing of a column on the given table.
func (p *Provider) LookupColumn(ctx context.Context, schema, table, column string) (string, error) {
	query := `SET NOCOUNT ON;
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE LOWER(TABLE_SCHEMA) = LOWER(@schema)
		  AND LOWER(TABLE_NAME) = LOWER(@table)
		  AND LOWER(COLUMN_NAME) = LOWER(@column)`

	var canonical string
	err := p.db.QueryRowContext(ctx, query,
		sql.Named("schema", schema),
		sql.Named("table", table),
		sql.Named("column", column)).Scan(&canonical)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("column %q on %s.%s: %w", column, schema, table, apperrors.ErrNotFound)
	}
	if err != nil {
		return "", p.wrapQueryError("lookup column", err)
	}
	return canonical, nil
}

// TablesWithColumn returns all qualified base tables containing a column with
// the given name.
func (p *Provider) TablesWithColumn(ctx context.Context, column string) ([]string, error) {
	query := `SET NOCOUNT ON;
		SELECT c.TABLE_SCHEMA, c.TABLE_NAME
		FROM INFORMATION_SCHEMA.COLUMNS c
		JOIN INFORMATION_SCHEMA.TABLES t
		  ON t.TABLE_SCHEMA = c.TABLE_SCHEMA AND t.TABLE_NAME = c.TABLE_NAME
		WHERE t.TABLE_TYPE = 'BASE TABLE'
		  AND LOWER(c.COLUMN_NAME) = LOWER(@column)
		ORDER BY c.TABLE_SCHEMA, c.TABLE_NAME`

	rows, err := p.db.QueryContext(ctx, query, sql.Named("column", column))
	if err != nil {
		return nil, p.wrapQueryError("tables with column", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var schema, name string
		if err := rows.Scan(&schema, &name); err != nil {
			return nil, fmt.Errorf("failed to scan table row: %w", err)
		}
		tables = append(tables, schema+"."+name)
	}
	return tables, rows.Err()
}

// ObjectDefinition resolves an object name and returns its module text.
// A resolvable object with NULL text means the login lacks VIEW DEFINITION.
func (p *Provider) ObjectDefinition(ctx context.Context, name string) (string, string, error) {
	query := `SET NOCOUNT ON;
		SELECT OBJECT_SCHEMA_NAME(OBJECT_ID(@name)) + '.' + OBJECT_NAME(OBJECT_ID(@name)),
		       OBJECT_DEFINITION(OBJECT_ID(@name))`

	var resolved, definition sql.NullString
	err := p.db.QueryRowContext(ctx, query, sql.Named("name", name)).Scan(&resolved, &definition)
	if err != nil {
		return "", "", p.wrapQueryError("object definition", err)
	}
	if !resolved.Valid {
		return "", "", fmt.Errorf("object %q: %w", name, apperrors.ErrNotFound)
	}
	if !definition.Valid {
		return resolved.String, "", fmt.Errorf("definition of %q: %w", name, apperrors.ErrPermissionInsufficient)
	}
	return resolved.String, definition.String, nil
}

// DependenciesOf returns the objects a module references, for forward
// expansion of the lineage walk.
func (p *Provider) DependenciesOf(ctx context.Context, objectID int64) ([]catalog.Dependency, error) {
	query := `SET NOCOUNT ON;
		SELECT ISNULL(d.referenced_id, 0),
		       ISNULL(d.referenced_schema_name, 'dbo'),
		       d.referenced_entity_name,
		       ISNULL(ro.type, '')
		FROM sys.sql_expression_dependencies d
		LEFT JOIN sys.objects ro ON ro.object_id = d.referenced_id
		WHERE d.referencing_id = @id
		  AND d.referenced_entity_name IS NOT NULL`

	rows, err := p.db.QueryContext(ctx, query, sql.Named("id", objectID))
	if err != nil {
		return nil, p.wrapQueryError("dependencies of", err)
	}
	defer rows.Close()

	var deps []catalog.Dependency
	for rows.Next() {
		var d catalog.Dependency
		var typeCode string
		if err := rows.Scan(&d.ReferencedID, &d.Schema, &d.Name, &typeCode); err != nil {
			return nil, fmt.Errorf("failed to scan dependency row: %w", err)
		}
		d.Kind = normalizeObjectType(typeCode)
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// TriggersOn returns the enabled triggers of a table with their source text.
func (p *Provider) TriggersOn(ctx context.Context, schema, table string) ([]models.Procedure, error) {
	query := `SET NOCOUNT ON;
		SELECT tr.object_id, s.name, tr.name, ISNULL(m.definition, '')
		FROM sys.triggers tr
		JOIN sys.tables t ON t.object_id = tr.parent_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		LEFT JOIN sys.sql_modules m ON m.object_id = tr.object_id
		WHERE LOWER(s.name) = LOWER(@schema)
		  AND LOWER(t.name) = LOWER(@table)
		  AND tr.is_disabled = 0
		ORDER BY tr.name`

	rows, err := p.db.QueryContext(ctx, query,
		sql.Named("schema", schema),
		sql.Named("table", table))
	if err != nil {
		return nil, p.wrapQueryError("triggers on", err)
	}
	defer rows.Close()

	var triggers []models.Procedure
	for rows.Next() {
		var t models.Procedure
		if err := rows.Scan(&t.ObjectID, &t.Schema, &t.Name, &t.Definition); err != nil {
			return nil, fmt.Errorf("failed to scan trigger row: %w", err)
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// ComputedColumnDefinition returns the expression of a computed column, or
// empty when the column is not computed.
func (p *Provider) ComputedColumnDefinition(ctx context.Context, schema, table, column string) (string, error) {
	query := `SET NOCOUNT ON;
		SELECT cc.definition
		FROM sys.computed_columns cc
		JOIN sys.tables t ON t.object_id = cc.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE LOWER(s.name) = LOWER(@schema)
		  AND LOWER(t.name) = LOWER(@table)
		  AND LOWER(cc.name) = LOWER(@column)`

	var definition string
	err := p.db.QueryRowContext(ctx, query,
		sql.Named("schema", schema),
		sql.Named("table", table),
		sql.Named("column", column)).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", p.wrapQueryError("computed column definition", err)
	}
	return definition, nil
}

// DefaultConstraintDefinition returns the default expression bound to a
// column, or empty when the column has no default.
func (p *Provider) DefaultConstraintDefinition(ctx context.Context, schema, table, column string) (string, error) {
	query := `SET NOCOUNT ON;
		SELECT dc.definition
		FROM sys.default_constraints dc
		JOIN sys.columns c
		  ON c.object_id = dc.parent_object_id AND c.column_id = dc.parent_column_id
		JOIN sys.tables t ON t.object_id = dc.parent_object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE LOWER(s.name) = LOWER(@schema)
		  AND LOWER(t.name) = LOWER(@table)
		  AND LOWER(c.name) = LOWER(@column)`

	var definition string
	err := p.db.QueryRowContext(ctx, query,
		sql.Named("schema", schema),
		sql.Named("table", table),
		sql.Named("column", column)).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", p.wrapQueryError("default constraint definition", err)
	}
	return definition, nil
}

// ApproxRowCount returns the partition-stat row count of a table. The value
// is approximate and only used for ranking, never for results.
func (p *Provider) ApproxRowCount(ctx context.Context, schema, table string) (int64, error) {
	query := `SET NOCOUNT ON;
		SELECT ISNULL(SUM(pa.rows), 0)
		FROM sys.partitions pa
		JOIN sys.tables t ON t.object_id = pa.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE LOWER(s.name) = LOWER(@schema)
		  AND LOWER(t.name) = LOWER(@table)
		  AND pa.index_id IN (0, 1)`

	var count int64
	err := p.db.QueryRowContext(ctx, query,
		sql.Named("schema", schema),
		sql.Named("table", table)).Scan(&count)
	if err != nil {
		return 0, p.wrapQueryError("approx row count", err)
	}
	return count, nil
}

// ColumnSample returns up to limit values of selectCol where whereCol equals
// value. Identifiers are caller-validated against the snapshot and bracketed
// here; the filter value rides as a parameter.
func (p *Provider) ColumnSample(ctx context.Context, schema, table, selectCol, whereCol, value string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SET NOCOUNT ON;
		SELECT TOP (%d) CAST(%s AS NVARCHAR(4000))
		FROM %s.%s
		WHERE %s = @value`,
		limit,
		quoteName(selectCol),
		quoteName(schema), quoteName(table),
		quoteName(whereCol))

	rows, err := p.db.QueryContext(ctx, query, sql.Named("value", value))
	if err != nil {
		return nil, p.wrapQueryError("column sample", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan sample row: %w", err)
		}
		if v.Valid {
			values = append(values, v.String)
		} else {
			values = append(values, "NULL")
		}
	}
	return values, rows.Err()
}
