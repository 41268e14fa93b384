package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/adapters/catalog/mssql"
	"github.com/dota-labs/dota-engine/pkg/apperrors"
	"github.com/dota-labs/dota-engine/pkg/config"
	"github.com/dota-labs/dota-engine/pkg/models"
)

func testLineageConfig() config.LineageConfig {
	return config.LineageConfig{
		DefaultMaxDepth: 5,
		MaxProcScan:     100,
		DefaultDetail:   models.DetailExcerpt,
		MemoSize:        16,
		ExposeDatabase:  true,
	}
}

func newTestLineageService(t *testing.T, provider *fakeProvider) (LineageService, *fakeConnections, SchemaCache) {
	t.Helper()
	logger := zap.NewNop()
	connections := &fakeConnections{provider: provider}
	cache := NewSchemaCache(connections, logger)
	resolver := NewNameResolver(cache, connections, logger)
	locator := NewWriterLocator(connections, logger)
	walker := NewLineageWalker(connections, logger)
	disambiguator := NewDisambiguator(connections, locator, logger)

	svc, err := NewLineageService(testLineageConfig(), cache, connections, resolver, locator, walker, disambiguator, logger)
	require.NoError(t, err)
	return svc, connections, cache
}

func TestGetColumnLineage(t *testing.T) {
	svc, _, _ := newTestLineageService(t, populatedProvider())

	result, err := svc.GetColumnLineage(context.Background(), LineageRequest{
		Table:  "Employees",
		Column: "salary",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ColumnTarget{Schema: "dbo", Table: "Employees", Column: "Salary"}, result.Target)
	assert.Equal(t, 5, result.EffectiveMaxDepth)
	assert.Equal(t, "TestDB", result.Database)

	require.Len(t, result.WriterProcedures, 1)
	assert.Equal(t, "dbo.usp_AnnualRaise", result.WriterProcedures[0].QualifiedName())

	require.Len(t, result.Mappings, 1)
	assert.Equal(t, "BaseSalary * 1.1", result.Mappings[0].Expression)

	assert.Contains(t, result.Graph.Nodes, "dbo.Employees:Salary")
	assert.Contains(t, result.Graph.Nodes, "dbo.usp_AnnualRaise")
}

func TestGetColumnLineageRejectsDepthAboveCap(t *testing.T) {
	svc, _, _ := newTestLineageService(t, populatedProvider())

	_, err := svc.GetColumnLineage(context.Background(), LineageRequest{
		Table:    "Employees",
		Column:   "Salary",
		MaxDepth: models.MaxLineageDepth + 1,
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidDepth)

	_, err = svc.GetColumnLineage(context.Background(), LineageRequest{
		Table:    "Employees",
		Column:   "Salary",
		MaxDepth: -1,
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidDepth)
}

func TestGetColumnLineageRejectsBadDetail(t *testing.T) {
	svc, _, _ := newTestLineageService(t, populatedProvider())

	_, err := svc.GetColumnLineage(context.Background(), LineageRequest{
		Table:  "Employees",
		Column: "Salary",
		Detail: "verbose",
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidDetailLevel)
}

func TestGetColumnLineageNotFound(t *testing.T) {
	svc, _, _ := newTestLineageService(t, populatedProvider())

	_, err := svc.GetColumnLineage(context.Background(), LineageRequest{
		Table:  "NoSuchTable",
		Column: "Salary",
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.GetColumnLineage(context.Background(), LineageRequest{
		Table:  "Employees",
		Column: "NoSuchColumn",
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetColumnLineageMemoizes(t *testing.T) {
	provider := populatedProvider()
	svc, _, _ := newTestLineageService(t, provider)
	ctx := context.Background()
	req := LineageRequest{Table: "Employees", Column: "Salary"}

	first, err := svc.GetColumnLineage(ctx, req)
	require.NoError(t, err)
	callsAfterFirst := provider.triggersCalls

	second, err := svc.GetColumnLineage(ctx, req)
	require.NoError(t, err)

	// The second build is served from the memo without touching the catalog.
	assert.Equal(t, callsAfterFirst, provider.triggersCalls)
	assert.Same(t, first, second)
}

func TestGetColumnLineageMemoInvalidatedByRefresh(t *testing.T) {
	provider := populatedProvider()
	svc, _, cache := newTestLineageService(t, provider)
	ctx := context.Background()
	req := LineageRequest{Table: "Employees", Column: "Salary"}

	first, err := svc.GetColumnLineage(ctx, req)
	require.NoError(t, err)

	// A refresh produces a new generation, so the memo key changes.
	_, _, err = cache.Refresh(ctx)
	require.NoError(t, err)

	second, err := svc.GetColumnLineage(ctx, req)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestGetColumnLineageMemoPurgedOnSwitch(t *testing.T) {
	provider := populatedProvider()
	svc, connections, _ := newTestLineageService(t, provider)
	ctx := context.Background()
	req := LineageRequest{Table: "Employees", Column: "Salary"}

	first, err := svc.GetColumnLineage(ctx, req)
	require.NoError(t, err)

	require.NoError(t, connections.Switch(ctx, mssql.Config{}))

	second, err := svc.GetColumnLineage(ctx, req)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestGetColumnLineageComputedColumn(t *testing.T) {
	provider := populatedProvider()
	provider.computed["dbo.employees.salary"] = "([BaseSalary]+[Bonus])"
	svc, _, _ := newTestLineageService(t, provider)

	result, err := svc.GetColumnLineage(context.Background(), LineageRequest{
		Table:  "Employees",
		Column: "Salary",
	})
	require.NoError(t, err)
	assert.Equal(t, "([BaseSalary]+[Bonus])", result.ComputedColumn)
}

func TestGetColumnLineageNoWritersNote(t *testing.T) {
	provider := populatedProvider()
	provider.procs = nil
	provider.edges = nil
	svc, _, _ := newTestLineageService(t, provider)

	result, err := svc.GetColumnLineage(context.Background(), LineageRequest{
		Table:  "Employees",
		Column: "EmployeeID",
	})
	require.NoError(t, err)
	assert.Empty(t, result.WriterProcedures)

	found := false
	for _, note := range result.Notes {
		if strings.Contains(note, "no writers found") {
			found = true
		}
	}
	assert.True(t, found, "expected a no-writers note, got %v", result.Notes)
}

func TestGetColumnPopulationExplicitTable(t *testing.T) {
	svc, _, _ := newTestLineageService(t, populatedProvider())

	result, err := svc.GetColumnPopulation(context.Background(), LineageRequest{
		Table:  "dbo.Employees",
		Column: "Salary",
	})
	require.NoError(t, err)

	assert.Empty(t, result.AutoSelected)
	assert.Empty(t, result.TieBreakNote)
	require.Len(t, result.Population.WriterProcedures, 1)
	assert.NotEmpty(t, result.Topology.Nodes)
	assert.NotEmpty(t, result.Topology.Edges)
	assert.NotEmpty(t, result.Population.WriterSnippets)
}

func TestGetColumnPopulationAutoSelects(t *testing.T) {
	svc, _, _ := newTestLineageService(t, populatedProvider())

	// Salary exists in dbo.Employees and hr.Employees; dbo wins on writers.
	result, err := svc.GetColumnPopulation(context.Background(), LineageRequest{
		Column: "Salary",
	})
	require.NoError(t, err)

	assert.Equal(t, "dbo.Employees", result.AutoSelected)
	assert.Equal(t, []string{"hr.Employees"}, result.Alternatives)
	assert.Equal(t, "dbo", result.Target.Schema)
}

func TestGetColumnPopulationUnknownColumn(t *testing.T) {
	svc, _, _ := newTestLineageService(t, populatedProvider())

	_, err := svc.GetColumnPopulation(context.Background(), LineageRequest{
		Column: "NoSuchColumn",
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestFindTablesWithColumn(t *testing.T) {
	svc, _, _ := newTestLineageService(t, populatedProvider())

	tables, err := svc.FindTablesWithColumn(context.Background(), "Salary")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dbo.Employees", "hr.Employees"}, tables)

	_, err = svc.FindTablesWithColumn(context.Background(), "NoSuchColumn")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
