package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/adapters/catalog"
	"github.com/dota-labs/dota-engine/pkg/models"
)

func refreshedSnapshot(t *testing.T, provider *fakeProvider) *models.SchemaSnapshot {
	t.Helper()
	cache := NewSchemaCache(&fakeConnections{provider: provider}, zap.NewNop())
	_, _, err := cache.Refresh(context.Background())
	require.NoError(t, err)
	return cache.Current()
}

func TestLocateViaReverseDeps(t *testing.T) {
	provider := populatedProvider()
	snap := refreshedSnapshot(t, provider)
	locator := NewWriterLocator(&fakeConnections{provider: provider}, zap.NewNop())

	table := models.TableIdentity{Schema: "dbo", Name: "Employees"}
	set, err := locator.Locate(context.Background(), snap, table, "Salary", LocateOptions{
		MaxProcScan: 100,
		Detail:      models.DetailExcerpt,
	})
	require.NoError(t, err)

	require.Len(t, set.Procedures, 1)
	writer := set.Procedures[0]
	assert.Equal(t, "dbo.usp_AnnualRaise", writer.QualifiedName())
	assert.Equal(t, models.WriterProcedure, writer.Kind)
	assert.Equal(t, []string{"BaseSalary * 1.1"}, writer.Expressions)
	require.Len(t, writer.Highlights, 1)
	assert.Contains(t, writer.Highlights[0].Excerpt, "BaseSalary * 1.1")
	assert.NotEmpty(t, writer.Snippet)
	require.NotNil(t, writer.Text)
	assert.Equal(t, models.DetailExcerpt, writer.Text.Kind)
	assert.Empty(t, set.Notes)
}

func TestLocateViaSynonymAlias(t *testing.T) {
	provider := populatedProvider()
	// The writer references the synonym, not the base table.
	provider.procs = append(provider.procs, models.Procedure{
		ObjectID: 102, Schema: "dbo", Name: "usp_StaffRaise",
		Definition: "UPDATE Staff SET Salary = Salary + @amount",
	})
	provider.edges = append(provider.edges, edgeFor(102, "dbo", "Staff"))
	snap := refreshedSnapshot(t, provider)
	locator := NewWriterLocator(&fakeConnections{provider: provider}, zap.NewNop())

	table := models.TableIdentity{Schema: "dbo", Name: "Employees"}
	set, err := locator.Locate(context.Background(), snap, table, "Salary", LocateOptions{MaxProcScan: 100})
	require.NoError(t, err)

	names := writerNames(set.Procedures)
	assert.Contains(t, names, "dbo.usp_StaffRaise")
	assert.Contains(t, names, "dbo.usp_AnnualRaise")
}

func TestLocateFallbackScanWhenDepsInvisible(t *testing.T) {
	provider := populatedProvider()
	provider.edges = nil // dependency index empty, forces the scan
	snap := refreshedSnapshot(t, provider)
	locator := NewWriterLocator(&fakeConnections{provider: provider}, zap.NewNop())

	table := models.TableIdentity{Schema: "dbo", Name: "Employees"}
	set, err := locator.Locate(context.Background(), snap, table, "Salary", LocateOptions{MaxProcScan: 100})
	require.NoError(t, err)

	require.Len(t, set.Procedures, 1)
	assert.Equal(t, "dbo.usp_AnnualRaise", set.Procedures[0].QualifiedName())
	require.NotEmpty(t, set.Notes)
	assert.Contains(t, set.Notes[0], "scanning")
	assert.NotContains(t, set.Notes[0], "capped")
}

func TestLocateFallbackScanWhenIndexMissesWriter(t *testing.T) {
	provider := populatedProvider()
	provider.procs = append(provider.procs, models.Procedure{
		ObjectID: 105, Schema: "dbo", Name: "usp_OrderTotals",
		Definition: "UPDATE Orders SET Total = Total + @delta",
	})
	// The index is populated but holds no edge for the Employees writer.
	provider.edges = []catalog.DependencyEdge{edgeFor(105, "dbo", "Orders")}
	snap := refreshedSnapshot(t, provider)
	locator := NewWriterLocator(&fakeConnections{provider: provider}, zap.NewNop())

	table := models.TableIdentity{Schema: "dbo", Name: "Employees"}
	set, err := locator.Locate(context.Background(), snap, table, "Salary", LocateOptions{MaxProcScan: 100})
	require.NoError(t, err)

	require.Len(t, set.Procedures, 1)
	assert.Equal(t, "dbo.usp_AnnualRaise", set.Procedures[0].QualifiedName())
	require.NotEmpty(t, set.Notes)
	assert.Contains(t, set.Notes[0], "scanning")
}

func TestLocateScanKeepsSynonymOnlyWriters(t *testing.T) {
	provider := populatedProvider()
	provider.edges = nil
	// The module names the synonym only; the base table never appears in its
	// text, so it qualifies for extraction through the write verb alone.
	provider.procs = append(provider.procs, models.Procedure{
		ObjectID: 104, Schema: "dbo", Name: "usp_StaffBonus",
		Definition: "UPDATE Staff SET Salary = Salary + @bonus",
	})
	snap := refreshedSnapshot(t, provider)
	locator := NewWriterLocator(&fakeConnections{provider: provider}, zap.NewNop())

	table := models.TableIdentity{Schema: "dbo", Name: "Employees"}
	set, err := locator.Locate(context.Background(), snap, table, "Salary", LocateOptions{MaxProcScan: 100})
	require.NoError(t, err)

	names := writerNames(set.Procedures)
	assert.Contains(t, names, "dbo.usp_StaffBonus")
	assert.Contains(t, names, "dbo.usp_AnnualRaise")
}

func TestLocateFallbackScanCapDisclosed(t *testing.T) {
	provider := populatedProvider()
	provider.edges = nil
	provider.procs = append(provider.procs,
		models.Procedure{ObjectID: 11, Schema: "dbo", Name: "usp_A", Definition: "SELECT 1"},
		models.Procedure{ObjectID: 12, Schema: "dbo", Name: "usp_B", Definition: "SELECT 1"},
	)
	snap := refreshedSnapshot(t, provider)
	locator := NewWriterLocator(&fakeConnections{provider: provider}, zap.NewNop())

	table := models.TableIdentity{Schema: "dbo", Name: "Employees"}
	set, err := locator.Locate(context.Background(), snap, table, "Salary", LocateOptions{MaxProcScan: 2})
	require.NoError(t, err)

	require.NotEmpty(t, set.Notes)
	assert.Contains(t, set.Notes[0], "capped at 2")
}

func TestLocateTriggerWriters(t *testing.T) {
	provider := populatedProvider()
	provider.triggers["dbo.employees"] = []models.Procedure{
		{ObjectID: 301, Schema: "dbo", Name: "trg_AuditSalary",
			Definition: "UPDATE Employees SET Salary = i.Salary FROM inserted i"},
	}
	snap := refreshedSnapshot(t, provider)
	locator := NewWriterLocator(&fakeConnections{provider: provider}, zap.NewNop())

	table := models.TableIdentity{Schema: "dbo", Name: "Employees"}
	set, err := locator.Locate(context.Background(), snap, table, "Salary", LocateOptions{MaxProcScan: 100})
	require.NoError(t, err)

	require.Len(t, set.Triggers, 1)
	assert.Equal(t, models.WriterTrigger, set.Triggers[0].Kind)
	assert.Equal(t, []string{"i.Salary"}, set.Triggers[0].Expressions)
}

func TestLocateDynamicSQLSuspicion(t *testing.T) {
	provider := populatedProvider()
	provider.procs = append(provider.procs, models.Procedure{
		ObjectID: 103, Schema: "dbo", Name: "usp_DynamicRaise",
		Definition: "DECLARE @col SYSNAME = 'Salary';\n" +
			"DECLARE @sql NVARCHAR(MAX) = N'UPDATE Employees SET ' + @col + N' = @v';\n" +
			"EXEC sp_executesql @sql",
	})
	provider.edges = append(provider.edges, edgeFor(103, "dbo", "Employees"))
	snap := refreshedSnapshot(t, provider)
	locator := NewWriterLocator(&fakeConnections{provider: provider}, zap.NewNop())

	table := models.TableIdentity{Schema: "dbo", Name: "Employees"}
	set, err := locator.Locate(context.Background(), snap, table, "Salary", LocateOptions{MaxProcScan: 100})
	require.NoError(t, err)

	var dynamic *models.WriterCandidate
	for i := range set.Procedures {
		if set.Procedures[i].Name == "usp_DynamicRaise" {
			dynamic = &set.Procedures[i]
		}
	}
	require.NotNil(t, dynamic)
	assert.True(t, dynamic.DynamicSQLSuspected)
	assert.Empty(t, dynamic.Expressions)
	// With no static expression the excerpt comes from the execute site.
	require.NotEmpty(t, dynamic.Snippet)
	assert.Contains(t, dynamic.Snippet, "sp_executesql")
}

func TestLocateDedupesRepeatedExpressions(t *testing.T) {
	provider := populatedProvider()
	provider.procs = []models.Procedure{
		{ObjectID: 101, Schema: "dbo", Name: "usp_TwoPaths", Definition: `
IF @yearly = 1 UPDATE Employees SET Salary = BaseSalary * 1.1 WHERE Kind = 'Y';
ELSE UPDATE Employees SET Salary = BaseSalary * 1.1 WHERE Kind = 'M';`},
	}
	snap := refreshedSnapshot(t, provider)
	locator := NewWriterLocator(&fakeConnections{provider: provider}, zap.NewNop())

	table := models.TableIdentity{Schema: "dbo", Name: "Employees"}
	set, err := locator.Locate(context.Background(), snap, table, "Salary", LocateOptions{MaxProcScan: 100})
	require.NoError(t, err)

	require.Len(t, set.Procedures, 1)
	assert.Equal(t, []string{"BaseSalary * 1.1"}, set.Procedures[0].Expressions)
}

func edgeFor(id int64, schema, name string) catalog.DependencyEdge {
	return catalog.DependencyEdge{
		ReferencingID:    id,
		ReferencingKind:  models.NodeProcedure,
		ReferencedSchema: schema,
		ReferencedName:   name,
		ReferencedKind:   models.NodeTable,
	}
}

func writerNames(writers []models.WriterCandidate) []string {
	names := make([]string, len(writers))
	for i, w := range writers {
		names[i] = w.QualifiedName()
	}
	return names
}
