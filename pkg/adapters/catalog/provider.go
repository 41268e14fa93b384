package catalog

import (
	"context"

	"github.com/dota-labs/dota-engine/pkg/models"
)

// ColumnInfo describes one table column.
type ColumnInfo struct {
	Name            string `json:"name"`
	DataType        string `json:"data_type"`
	Nullable        bool   `json:"nullable"`
	OrdinalPosition int    `json:"ordinal_position"`
}

// TableColumn is one column row from the whole-catalog column listing.
type TableColumn struct {
	Schema string
	Table  string
	Column string
}

// QualifiedObject is a routine or view identity.
type QualifiedObject struct {
	Schema string
	Name   string
}

// DependencyEdge is a raw referencing -> referenced edge from the catalog's
// dependency view, used to build the reverse-dependency index.
type DependencyEdge struct {
	ReferencingID    int64
	ReferencingKind  string
	ReferencedSchema string
	ReferencedName   string
	ReferencedKind   string
}

// Dependency is one object referenced by a specific module.
type Dependency struct {
	ReferencedID int64
	Schema       string
	Name         string
	Kind         string // models.Node* kinds
}

// Provider supplies raw relational metadata through read-only queries.
// Implementations never mutate the target database. Any catalog capable of
// answering these questions suffices; the engine does not assume a wire
// protocol beyond this interface.
type Provider interface {
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	// Database returns the catalog name this provider is connected to.
	Database() string

	// Bulk listings used to build a SchemaSnapshot.
	ListTables(ctx context.Context) ([]models.TableIdentity, error)
	ListColumns(ctx context.Context, schema, table string) ([]ColumnInfo, error)
	ListAllColumns(ctx context.Context) ([]TableColumn, error)
	ListObjects(ctx context.Context) ([]QualifiedObject, error)
	ListJobs(ctx context.Context) ([]string, error)
	ListProcedures(ctx context.Context) ([]models.Procedure, error)
	ListDependencyEdges(ctx context.Context) ([]DependencyEdge, error)
	ListSynonyms(ctx context.Context) ([]models.Synonym, error)

	// Live name resolution, used when the snapshot is cold or misses.
	LookupTable(ctx context.Context, input string) (models.TableIdentity, error)
	LookupColumn(ctx context.Context, schema, table, column string) (string, error)
	TablesWithColumn(ctx context.Context, column string) ([]string, error)

	// Point lookups for lineage assembly.
	ObjectDefinition(ctx context.Context, name string) (resolved string, definition string, err error)
	DependenciesOf(ctx context.Context, objectID int64) ([]Dependency, error)
	TriggersOn(ctx context.Context, schema, table string) ([]models.Procedure, error)
	ComputedColumnDefinition(ctx context.Context, schema, table, column string) (string, error)
	DefaultConstraintDefinition(ctx context.Context, schema, table, column string) (string, error)
	ApproxRowCount(ctx context.Context, schema, table string) (int64, error)

	// Data sampling and job status.
	ColumnSample(ctx context.Context, schema, table, selectCol, whereCol, value string, limit int) ([]string, error)
	JobsOverview(ctx context.Context, jobName string, lookbackDays int, includeRunning bool) ([]models.JobOverview, error)

	// Visibility probes which metadata catalogs the current login can see.
	Visibility(ctx context.Context) models.CatalogVisibility

	// Close releases the underlying connections.
	Close() error
}
