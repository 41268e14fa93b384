package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/apperrors"
	"github.com/dota-labs/dota-engine/pkg/config"
	"github.com/dota-labs/dota-engine/pkg/models"
)

// LineageRequest asks for the lineage of one column. Table may be empty, in
// which case the service disambiguates among tables containing the column.
type LineageRequest struct {
	Table    string
	Column   string
	MaxDepth int    // 0 means the configured default
	Detail   string // "" means the configured default
}

// LineageService answers column-lineage questions. Results are best effort:
// missing permissions and unparseable SQL reduce detail and add notes, they
// do not fail the request. Completed lineage builds are memoized per snapshot
// generation, so a refresh or connection switch naturally invalidates them.
type LineageService interface {
	// GetColumnLineage builds the raw lineage result for an explicit table.
	GetColumnLineage(ctx context.Context, req LineageRequest) (*models.LineageResult, error)

	// GetColumnPopulation answers "how is this column populated", reshaped
	// for rendering, with table disambiguation when the table is omitted.
	GetColumnPopulation(ctx context.Context, req LineageRequest) (*models.PopulationResult, error)

	// FindTablesWithColumn lists qualified tables containing the column.
	FindTablesWithColumn(ctx context.Context, column string) ([]string, error)
}

type lineageService struct {
	cfg           config.LineageConfig
	cache         SchemaCache
	connections   ConnectionManager
	resolver      NameResolver
	locator       WriterLocator
	walker        LineageWalker
	disambiguator Disambiguator
	memo          *lru.Cache[string, *models.LineageResult]
	logger        *zap.Logger
}

var _ LineageService = (*lineageService)(nil)

// NewLineageService wires the lineage pipeline together. A connection switch
// purges the memo; snapshot refreshes need no purge because memo keys carry
// the snapshot generation.
func NewLineageService(
	cfg config.LineageConfig,
	cache SchemaCache,
	connections ConnectionManager,
	resolver NameResolver,
	locator WriterLocator,
	walker LineageWalker,
	disambiguator Disambiguator,
	logger *zap.Logger,
) (LineageService, error) {
	memo, err := lru.New[string, *models.LineageResult](cfg.MemoSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create lineage memo: %w", err)
	}
	s := &lineageService{
		cfg:           cfg,
		cache:         cache,
		connections:   connections,
		resolver:      resolver,
		locator:       locator,
		walker:        walker,
		disambiguator: disambiguator,
		memo:          memo,
		logger:        logger.Named("lineage"),
	}
	connections.OnSwitch(func() { memo.Purge() })
	return s, nil
}

// normalize applies defaults and validates depth and detail.
func (s *lineageService) normalize(req *LineageRequest) error {
	if req.MaxDepth == 0 {
		req.MaxDepth = s.cfg.DefaultMaxDepth
	}
	if req.MaxDepth < 1 || req.MaxDepth > models.MaxLineageDepth {
		return fmt.Errorf("max_depth %d out of range [1, %d]: %w",
			req.MaxDepth, models.MaxLineageDepth, apperrors.ErrInvalidDepth)
	}
	if req.Detail == "" {
		req.Detail = s.cfg.DefaultDetail
	}
	switch req.Detail {
	case models.DetailNone, models.DetailExcerpt, models.DetailFull:
	default:
		return apperrors.ErrInvalidDetailLevel
	}
	return nil
}

// snapshot returns the current snapshot, refreshing first when it is cold.
func (s *lineageService) snapshot(ctx context.Context) (*models.SchemaSnapshot, []string, error) {
	snap := s.cache.Current()
	if len(snap.Tables) > 0 {
		return snap, nil, nil
	}
	_, notes, err := s.cache.Refresh(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", apperrors.ErrCatalogUnavailable, err)
	}
	return s.cache.Current(), notes, nil
}

func (s *lineageService) GetColumnLineage(ctx context.Context, req LineageRequest) (*models.LineageResult, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Table) == "" {
		return nil, fmt.Errorf("table is required: %w", apperrors.ErrNotFound)
	}

	snap, notes, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	table, resolveNotes, err := s.resolver.ResolveTable(ctx, req.Table)
	if err != nil {
		return nil, err
	}
	notes = append(notes, resolveNotes...)

	column, err := s.resolver.ResolveColumn(ctx, table, req.Column)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, snap, table, column, req.MaxDepth, req.Detail, notes)
}

func (s *lineageService) build(ctx context.Context, snap *models.SchemaSnapshot, table models.TableIdentity, column string, maxDepth int, detail string, notes []string) (*models.LineageResult, error) {
	key := fmt.Sprintf("%s|%s|%s|%s|%d|%s",
		snap.Generation, strings.ToLower(table.Schema), strings.ToLower(table.Name),
		strings.ToLower(column), maxDepth, detail)
	if cached, ok := s.memo.Get(key); ok {
		return cached, nil
	}

	target := models.ColumnTarget{Schema: table.Schema, Table: table.Name, Column: column}
	writers, err := s.locator.Locate(ctx, snap, table, column, LocateOptions{
		MaxProcScan: s.cfg.MaxProcScan,
		Detail:      detail,
	})
	if err != nil {
		return nil, err
	}
	notes = append(notes, writers.Notes...)

	graph, walkNotes, err := s.walker.Walk(ctx, target, writers, maxDepth)
	if err != nil {
		return nil, err
	}
	notes = append(notes, walkNotes...)

	result := &models.LineageResult{
		Target:            target,
		Graph:             graph,
		WriterProcedures:  writers.Procedures,
		WriterTriggers:    writers.Triggers,
		EffectiveMaxDepth: maxDepth,
	}
	if s.cfg.ExposeDatabase {
		result.Database = snap.Database
	}

	for _, w := range append(append([]models.WriterCandidate{}, writers.Procedures...), writers.Triggers...) {
		for _, expr := range w.Expressions {
			result.Mappings = append(result.Mappings, models.ExpressionMapping{
				Target:     target,
				Writer:     w.QualifiedName(),
				WriterKind: w.Kind,
				Expression: expr,
			})
		}
		if w.DynamicSQLSuspected {
			notes = append(notes, fmt.Sprintf(
				"%s may write %s through dynamic SQL; no static expression was extracted",
				w.QualifiedName(), column))
		}
	}

	provider := s.connections.Provider()
	if computed, err := provider.ComputedColumnDefinition(ctx, table.Schema, table.Name, column); err == nil {
		result.ComputedColumn = computed
	} else if errors.Is(err, apperrors.ErrPermissionInsufficient) {
		notes = append(notes, "computed column metadata not visible to this login")
	} else {
		s.logger.Warn("failed to read computed column definition",
			zap.String("table", table.Qualified()), zap.String("column", column), zap.Error(err))
	}
	if deflt, err := provider.DefaultConstraintDefinition(ctx, table.Schema, table.Name, column); err == nil {
		result.DefaultConstraint = deflt
	} else if errors.Is(err, apperrors.ErrPermissionInsufficient) {
		notes = append(notes, "default constraint metadata not visible to this login")
	} else {
		s.logger.Warn("failed to read default constraint definition",
			zap.String("table", table.Qualified()), zap.String("column", column), zap.Error(err))
	}

	if writers.Count() == 0 && result.ComputedColumn == "" && result.DefaultConstraint == "" {
		notes = append(notes, fmt.Sprintf(
			"no writers found for %s.%s; the column may be written by ad-hoc SQL or external tools",
			table.Qualified(), column))
	}
	result.Notes = notes

	s.memo.Add(key, result)
	return result, nil
}

func (s *lineageService) GetColumnPopulation(ctx context.Context, req LineageRequest) (*models.PopulationResult, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}

	snap, notes, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var (
		table        models.TableIdentity
		autoSelected string
		alternatives []string
		tieNote      string
	)
	if strings.TrimSpace(req.Table) != "" {
		var resolveNotes []string
		table, resolveNotes, err = s.resolver.ResolveTable(ctx, req.Table)
		if err != nil {
			return nil, err
		}
		notes = append(notes, resolveNotes...)
	} else {
		tables, err := s.resolver.TablesWithColumn(ctx, req.Column)
		if err != nil {
			return nil, err
		}
		var candidates []models.DisambiguationCandidate
		table, candidates, tieNote, err = s.disambiguator.Choose(ctx, snap, tables, req.Column, LocateOptions{
			MaxProcScan: s.cfg.MaxProcScan,
		})
		if err != nil {
			return nil, err
		}
		if len(candidates) > 1 {
			autoSelected = table.Qualified()
			limit := len(candidates)
			if limit > 4 {
				limit = 4
			}
			for _, c := range candidates[1:limit] {
				alternatives = append(alternatives, c.Table)
			}
		}
	}

	column, err := s.resolver.ResolveColumn(ctx, table, req.Column)
	if err != nil {
		return nil, err
	}

	lineage, err := s.build(ctx, snap, table, column, req.MaxDepth, req.Detail, notes)
	if err != nil {
		return nil, err
	}

	result := reshapePopulation(lineage)
	result.AutoSelected = autoSelected
	result.Alternatives = alternatives
	result.TieBreakNote = tieNote
	if tieNote != "" {
		result.Notes = append(result.Notes, tieNote)
	}
	return result, nil
}

// reshapePopulation flattens a lineage result into render-ready topology.
func reshapePopulation(lineage *models.LineageResult) *models.PopulationResult {
	result := &models.PopulationResult{
		Target:            lineage.Target,
		EffectiveMaxDepth: lineage.EffectiveMaxDepth,
		Notes:             append([]string{}, lineage.Notes...),
		Database:          lineage.Database,
	}

	for id, node := range lineage.Graph.Nodes {
		label := node.Schema + "." + node.Name
		if node.Column != "" {
			label += "." + node.Column
		}
		result.Topology.Nodes = append(result.Topology.Nodes, models.TopologyNode{
			ID:     id,
			Label:  label,
			Type:   node.Type,
			Schema: node.Schema,
			Name:   node.Name,
			Column: node.Column,
		})
	}
	sort.Slice(result.Topology.Nodes, func(i, j int) bool {
		return result.Topology.Nodes[i].ID < result.Topology.Nodes[j].ID
	})

	for _, edge := range lineage.Graph.Edges {
		result.Topology.Edges = append(result.Topology.Edges, models.TopologyEdge{
			From:     edge.Source,
			To:       edge.Target,
			Relation: edge.Relation,
			Label:    edge.Relation,
		})
	}

	result.Population.ComputedColumn = lineage.ComputedColumn
	result.Population.DefaultConstraint = lineage.DefaultConstraint
	result.Population.WriterProcedures = lineage.WriterProcedures
	result.Population.WriterTriggers = lineage.WriterTriggers
	result.Population.Mappings = lineage.Mappings
	for _, w := range lineage.WriterProcedures {
		if w.Snippet != "" {
			result.Population.WriterSnippets = append(result.Population.WriterSnippets, models.WriterSnippet{
				Writer:  w.QualifiedName(),
				Snippet: w.Snippet,
			})
		}
	}
	for _, w := range lineage.WriterTriggers {
		if w.Snippet != "" {
			result.Population.WriterSnippets = append(result.Population.WriterSnippets, models.WriterSnippet{
				Writer:  w.QualifiedName(),
				Snippet: w.Snippet,
			})
		}
	}
	return result
}

func (s *lineageService) FindTablesWithColumn(ctx context.Context, column string) ([]string, error) {
	if _, _, err := s.snapshot(ctx); err != nil {
		return nil, err
	}
	tables, err := s.resolver.TablesWithColumn(ctx, column)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no tables contain column %q: %w", column, apperrors.ErrNotFound)
	}
	return tables, nil
}
