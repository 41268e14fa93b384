package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dota-labs/dota-engine/pkg/adapters/catalog"
	"github.com/dota-labs/dota-engine/pkg/adapters/catalog/mssql"
	"github.com/dota-labs/dota-engine/pkg/apperrors"
	"github.com/dota-labs/dota-engine/pkg/models"
)

// fakeProvider is an in-memory catalog.Provider for service tests.
type fakeProvider struct {
	database string

	tables   []models.TableIdentity
	columns  []catalog.TableColumn
	objects  []catalog.QualifiedObject
	jobs     []string
	procs    []models.Procedure
	edges    []catalog.DependencyEdge
	synonyms []models.Synonym

	triggers map[string][]models.Procedure // lower "schema.table"
	deps     map[int64][]catalog.Dependency
	rows     map[string]int64  // lower "schema.table"
	computed map[string]string // lower "schema.table.column"
	defaults map[string]string

	jobsErr  error
	edgesErr error

	depsCalls     int
	triggersCalls int
	rowsCalls     int
}

var _ catalog.Provider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		database: "TestDB",
		triggers: map[string][]models.Procedure{},
		deps:     map[int64][]catalog.Dependency{},
		rows:     map[string]int64{},
		computed: map[string]string{},
		defaults: map[string]string{},
	}
}

func (f *fakeProvider) Ping(ctx context.Context) error { return nil }
func (f *fakeProvider) Database() string               { return f.database }
func (f *fakeProvider) Close() error                   { return nil }

func (f *fakeProvider) ListTables(ctx context.Context) ([]models.TableIdentity, error) {
	return f.tables, nil
}

func (f *fakeProvider) ListColumns(ctx context.Context, schema, table string) ([]catalog.ColumnInfo, error) {
	var out []catalog.ColumnInfo
	for i, c := range f.columns {
		if strings.EqualFold(c.Schema, schema) && strings.EqualFold(c.Table, table) {
			out = append(out, catalog.ColumnInfo{Name: c.Column, DataType: "nvarchar", OrdinalPosition: i + 1})
		}
	}
	return out, nil
}

func (f *fakeProvider) ListAllColumns(ctx context.Context) ([]catalog.TableColumn, error) {
	return f.columns, nil
}

func (f *fakeProvider) ListObjects(ctx context.Context) ([]catalog.QualifiedObject, error) {
	return f.objects, nil
}

func (f *fakeProvider) ListJobs(ctx context.Context) ([]string, error) {
	if f.jobsErr != nil {
		return nil, f.jobsErr
	}
	return f.jobs, nil
}

func (f *fakeProvider) ListProcedures(ctx context.Context) ([]models.Procedure, error) {
	return f.procs, nil
}

func (f *fakeProvider) ListDependencyEdges(ctx context.Context) ([]catalog.DependencyEdge, error) {
	if f.edgesErr != nil {
		return nil, f.edgesErr
	}
	return f.edges, nil
}

func (f *fakeProvider) ListSynonyms(ctx context.Context) ([]models.Synonym, error) {
	return f.synonyms, nil
}

func (f *fakeProvider) LookupTable(ctx context.Context, input string) (models.TableIdentity, error) {
	cleaned := strings.ToLower(strings.NewReplacer("[", "", "]", "").Replace(strings.TrimSpace(input)))
	for _, t := range f.tables {
		if strings.ToLower(t.Qualified()) == cleaned || strings.ToLower(t.Name) == cleaned {
			return t, nil
		}
	}
	return models.TableIdentity{}, fmt.Errorf("table %q: %w", input, apperrors.ErrNotFound)
}

func (f *fakeProvider) LookupColumn(ctx context.Context, schema, table, column string) (string, error) {
	for _, c := range f.columns {
		if strings.EqualFold(c.Schema, schema) && strings.EqualFold(c.Table, table) && strings.EqualFold(c.Column, column) {
			return c.Column, nil
		}
	}
	return "", fmt.Errorf("column %q: %w", column, apperrors.ErrNotFound)
}

func (f *fakeProvider) TablesWithColumn(ctx context.Context, column string) ([]string, error) {
	var out []string
	for _, c := range f.columns {
		if strings.EqualFold(c.Column, column) {
			out = append(out, c.Schema+"."+c.Table)
		}
	}
	return out, nil
}

func (f *fakeProvider) ObjectDefinition(ctx context.Context, name string) (string, string, error) {
	cleaned := strings.ToLower(strings.TrimSpace(name))
	for _, p := range f.procs {
		qualified := p.Schema + "." + p.Name
		if strings.ToLower(qualified) == cleaned || strings.ToLower(p.Name) == cleaned {
			return qualified, p.Definition, nil
		}
	}
	return "", "", fmt.Errorf("object %q: %w", name, apperrors.ErrNotFound)
}

func (f *fakeProvider) DependenciesOf(ctx context.Context, objectID int64) ([]catalog.Dependency, error) {
	f.depsCalls++
	return f.deps[objectID], nil
}

func (f *fakeProvider) TriggersOn(ctx context.Context, schema, table string) ([]models.Procedure, error) {
	f.triggersCalls++
	return f.triggers[strings.ToLower(schema+"."+table)], nil
}

func (f *fakeProvider) ComputedColumnDefinition(ctx context.Context, schema, table, column string) (string, error) {
	return f.computed[strings.ToLower(schema+"."+table+"."+column)], nil
}

func (f *fakeProvider) DefaultConstraintDefinition(ctx context.Context, schema, table, column string) (string, error) {
	return f.defaults[strings.ToLower(schema+"."+table+"."+column)], nil
}

func (f *fakeProvider) ApproxRowCount(ctx context.Context, schema, table string) (int64, error) {
	f.rowsCalls++
	return f.rows[strings.ToLower(schema+"."+table)], nil
}

func (f *fakeProvider) ColumnSample(ctx context.Context, schema, table, selectCol, whereCol, value string, limit int) ([]string, error) {
	return []string{"sample"}, nil
}

func (f *fakeProvider) JobsOverview(ctx context.Context, jobName string, lookbackDays int, includeRunning bool) ([]models.JobOverview, error) {
	var out []models.JobOverview
	for _, job := range f.jobs {
		if jobName == "" || strings.EqualFold(job, jobName) {
			out = append(out, models.JobOverview{Job: job, Status: models.JobStatusSucceeded})
		}
	}
	return out, nil
}

func (f *fakeProvider) Visibility(ctx context.Context) models.CatalogVisibility {
	return models.CatalogVisibility{Modules: true, Dependencies: true, ComputedColumns: true, DefaultConstraints: true}
}

// fakeConnections is a ConnectionManager pinned to one provider.
type fakeConnections struct {
	provider catalog.Provider
	hooks    []func()
}

var _ ConnectionManager = (*fakeConnections)(nil)

func (c *fakeConnections) Provider() catalog.Provider { return c.provider }
func (c *fakeConnections) Info() ConnectionInfo       { return ConnectionInfo{Database: "TestDB"} }
func (c *fakeConnections) Test(ctx context.Context, cfg mssql.Config) error { return nil }
func (c *fakeConnections) Switch(ctx context.Context, cfg mssql.Config) error {
	for _, hook := range c.hooks {
		hook()
	}
	return nil
}
func (c *fakeConnections) OnSwitch(hook func()) { c.hooks = append(c.hooks, hook) }
func (c *fakeConnections) Close() error         { return nil }
