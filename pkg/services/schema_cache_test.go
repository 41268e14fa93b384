package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/adapters/catalog"
	"github.com/dota-labs/dota-engine/pkg/apperrors"
	"github.com/dota-labs/dota-engine/pkg/models"
)

func populatedProvider() *fakeProvider {
	p := newFakeProvider()
	p.tables = []models.TableIdentity{
		{Schema: "dbo", Name: "Employees"},
		{Schema: "hr", Name: "Employees"},
		{Schema: "dbo", Name: "Orders"},
	}
	p.columns = []catalog.TableColumn{
		{Schema: "dbo", Table: "Employees", Column: "EmployeeID"},
		{Schema: "dbo", Table: "Employees", Column: "Salary"},
		{Schema: "hr", Table: "Employees", Column: "Salary"},
		{Schema: "dbo", Table: "Orders", Column: "Total"},
	}
	p.objects = []catalog.QualifiedObject{{Schema: "dbo", Name: "vw_Salaries"}}
	p.jobs = []string{"Nightly Payroll Load"}
	p.procs = []models.Procedure{
		{ObjectID: 101, Schema: "dbo", Name: "usp_AnnualRaise",
			Definition: "UPDATE Employees SET Salary = BaseSalary * 1.1 WHERE Active = 1"},
	}
	p.edges = []catalog.DependencyEdge{
		{ReferencingID: 101, ReferencingKind: models.NodeProcedure, ReferencedSchema: "dbo", ReferencedName: "Employees", ReferencedKind: models.NodeTable},
	}
	p.synonyms = []models.Synonym{
		{Schema: "dbo", Name: "Staff", BaseSchema: "dbo", BaseName: "Employees"},
	}
	return p
}

func TestSchemaCacheRefresh(t *testing.T) {
	provider := populatedProvider()
	cache := NewSchemaCache(&fakeConnections{provider: provider}, zap.NewNop())

	counts, notes, err := cache.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, notes)
	assert.Equal(t, 2, counts.Tables) // bare names, dbo wins the collision
	assert.Equal(t, 1, counts.Procedures)
	assert.Equal(t, 1, counts.Synonyms)

	snap := cache.Current()
	assert.Equal(t, "TestDB", snap.Database)

	// Bare-name collisions prefer dbo.
	assert.Equal(t, "dbo", snap.Tables["employees"].Schema)
	// Qualified map keeps both.
	assert.Equal(t, "hr", snap.TablesQualified["hr.employees"].Schema)

	// Column casing is preserved through the lowercased index.
	assert.Equal(t, "Salary", snap.Columns["dbo.employees"]["salary"])
	assert.ElementsMatch(t, []string{"dbo.Employees", "hr.Employees"}, snap.ColumnIndex["salary"])

	// Objects resolve by bare and qualified names.
	assert.Equal(t, "dbo.vw_Salaries", snap.Objects["vw_salaries"])
	assert.Equal(t, "dbo.vw_Salaries", snap.Objects["dbo.vw_salaries"])

	// Reverse deps point the table at its writer.
	assert.Equal(t, []int64{101}, snap.ReverseDeps[models.NewObjectKey("dbo", "Employees")])

	// Synonyms index both directions.
	syn := snap.Synonyms[models.NewObjectKey("dbo", "Staff")]
	assert.Equal(t, "Employees", syn.BaseName)
	assert.Contains(t, snap.SynonymsByBase[models.NewObjectKey("dbo", "Employees")],
		models.NewObjectKey("dbo", "Staff"))
}

func TestSchemaCacheRefreshSwapsGeneration(t *testing.T) {
	provider := populatedProvider()
	cache := NewSchemaCache(&fakeConnections{provider: provider}, zap.NewNop())

	_, _, err := cache.Refresh(context.Background())
	require.NoError(t, err)
	first := cache.Current()

	_, _, err = cache.Refresh(context.Background())
	require.NoError(t, err)
	second := cache.Current()

	assert.NotEqual(t, first.Generation, second.Generation)

	// The first snapshot is untouched by the second refresh; a reader that
	// captured it keeps a consistent view.
	assert.Equal(t, "dbo", first.Tables["employees"].Schema)
}

func TestSchemaCacheRefreshDegradesOnJobPermissions(t *testing.T) {
	provider := populatedProvider()
	provider.jobsErr = apperrors.ErrPermissionInsufficient
	cache := NewSchemaCache(&fakeConnections{provider: provider}, zap.NewNop())

	counts, notes, err := cache.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Jobs)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "jobs")
}

func TestSchemaCacheRefreshDegradesOnDependencyPermissions(t *testing.T) {
	provider := populatedProvider()
	provider.edgesErr = apperrors.ErrPermissionInsufficient
	cache := NewSchemaCache(&fakeConnections{provider: provider}, zap.NewNop())

	_, notes, err := cache.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cache.Current().ReverseDeps)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "scanning")
}

func TestSchemaCacheInvalidate(t *testing.T) {
	provider := populatedProvider()
	cache := NewSchemaCache(&fakeConnections{provider: provider}, zap.NewNop())

	_, _, err := cache.Refresh(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, cache.Current().Tables)

	cache.Invalidate()
	assert.Empty(t, cache.Current().Tables)
}
