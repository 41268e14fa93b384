package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/apperrors"
	"github.com/dota-labs/dota-engine/pkg/models"
)

// SchemaCache maintains an immutable snapshot of catalog metadata. Refresh
// builds a complete replacement snapshot and swaps the reference; a failed
// refresh leaves the last good snapshot in place. Readers take the current
// snapshot once per request and never observe a partially built one.
type SchemaCache interface {
	// Current returns the active snapshot. Before the first successful
	// refresh this is an empty snapshot, never nil.
	Current() *models.SchemaSnapshot

	// Refresh rebuilds the snapshot from the live catalog. Returned notes
	// describe degraded sections (for example msdb not visible).
	Refresh(ctx context.Context) (models.Counts, []string, error)

	// Invalidate discards the snapshot, forcing the next Refresh to start
	// from nothing. Used when the connection is switched.
	Invalidate()
}

type schemaCache struct {
	connections ConnectionManager
	logger      *zap.Logger

	mu       sync.RWMutex
	snapshot *models.SchemaSnapshot
}

var _ SchemaCache = (*schemaCache)(nil)

// NewSchemaCache creates a schema cache over the active catalog connection.
func NewSchemaCache(connections ConnectionManager, logger *zap.Logger) SchemaCache {
	return &schemaCache{
		connections: connections,
		logger:      logger.Named("schema-cache"),
		snapshot:    models.EmptySnapshot(),
	}
}

func (c *schemaCache) Current() *models.SchemaSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

func (c *schemaCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = models.EmptySnapshot()
}

func (c *schemaCache) Refresh(ctx context.Context) (models.Counts, []string, error) {
	started := time.Now()
	provider := c.connections.Provider()

	next := models.EmptySnapshot()
	next.Generation = uuid.New()
	next.TakenAt = time.Now().UTC()
	next.Database = provider.Database()
	var notes []string

	tables, err := provider.ListTables(ctx)
	if err != nil {
		return models.Counts{}, nil, fmt.Errorf("refresh tables: %w", err)
	}
	for _, t := range tables {
		bare := strings.ToLower(t.Name)
		// dbo wins bare-name collisions; the qualified map keeps every table.
		if existing, ok := next.Tables[bare]; !ok || (existing.Schema != "dbo" && t.Schema == "dbo") {
			next.Tables[bare] = t
		}
		next.TablesQualified[strings.ToLower(t.Qualified())] = t
	}

	columns, err := provider.ListAllColumns(ctx)
	if err != nil {
		return models.Counts{}, nil, fmt.Errorf("refresh columns: %w", err)
	}
	for _, col := range columns {
		qualified := strings.ToLower(col.Schema + "." + col.Table)
		byName, ok := next.Columns[qualified]
		if !ok {
			byName = map[string]string{}
			next.Columns[qualified] = byName
		}
		byName[strings.ToLower(col.Column)] = col.Column

		key := strings.ToLower(col.Column)
		next.ColumnIndex[key] = append(next.ColumnIndex[key], col.Schema+"."+col.Table)
	}
	for _, tables := range next.ColumnIndex {
		sort.Strings(tables)
	}

	objects, err := provider.ListObjects(ctx)
	if err != nil {
		return models.Counts{}, nil, fmt.Errorf("refresh objects: %w", err)
	}
	for _, o := range objects {
		canonical := o.Schema + "." + o.Name
		next.Objects[strings.ToLower(o.Name)] = canonical
		next.Objects[strings.ToLower(canonical)] = canonical
	}

	jobs, err := provider.ListJobs(ctx)
	switch {
	case err == nil:
		for _, job := range jobs {
			next.Jobs[strings.ToLower(job)] = job
		}
	case errors.Is(err, apperrors.ErrPermissionInsufficient):
		notes = append(notes, "agent jobs not visible to this login; job lookups disabled")
		c.logger.Warn("agent jobs not visible, continuing without them", zap.Error(err))
	default:
		return models.Counts{}, nil, fmt.Errorf("refresh jobs: %w", err)
	}

	procs, err := provider.ListProcedures(ctx)
	switch {
	case err == nil:
		for _, proc := range procs {
			next.Procedures[proc.ObjectID] = proc
		}
	case errors.Is(err, apperrors.ErrPermissionInsufficient):
		notes = append(notes, "module text not visible to this login; writer discovery degraded")
		c.logger.Warn("module text not visible, continuing without it", zap.Error(err))
	default:
		return models.Counts{}, nil, fmt.Errorf("refresh procedures: %w", err)
	}

	edges, err := provider.ListDependencyEdges(ctx)
	switch {
	case err == nil:
		seen := map[models.ObjectKey]map[int64]struct{}{}
		for _, e := range edges {
			if _, ok := next.Procedures[e.ReferencingID]; !ok {
				continue
			}
			key := models.NewObjectKey(e.ReferencedSchema, e.ReferencedName)
			if _, dup := seen[key][e.ReferencingID]; dup {
				continue
			}
			if seen[key] == nil {
				seen[key] = map[int64]struct{}{}
			}
			seen[key][e.ReferencingID] = struct{}{}
			next.ReverseDeps[key] = append(next.ReverseDeps[key], e.ReferencingID)
		}
	case errors.Is(err, apperrors.ErrPermissionInsufficient):
		notes = append(notes, "dependency metadata not visible; writer discovery falls back to scanning")
		c.logger.Warn("dependency metadata not visible, falling back to scans", zap.Error(err))
	default:
		return models.Counts{}, nil, fmt.Errorf("refresh dependencies: %w", err)
	}

	synonyms, err := provider.ListSynonyms(ctx)
	if err != nil {
		return models.Counts{}, nil, fmt.Errorf("refresh synonyms: %w", err)
	}
	for _, s := range synonyms {
		key := models.NewObjectKey(s.Schema, s.Name)
		next.Synonyms[key] = s
		if s.BaseName != "" && s.BaseDatabase == "" {
			base := models.NewObjectKey(s.BaseSchema, s.BaseName)
			next.SynonymsByBase[base] = append(next.SynonymsByBase[base], key)
		}
	}

	c.mu.Lock()
	c.snapshot = next
	c.mu.Unlock()

	counts := next.Counts()
	c.logger.Info("schema snapshot refreshed",
		zap.String("generation", next.Generation.String()),
		zap.String("database", next.Database),
		zap.Int("tables", counts.Tables),
		zap.Int("procedures", counts.Procedures),
		zap.Int("synonyms", counts.Synonyms),
		zap.Duration("elapsed", time.Since(started)))
	return counts, notes, nil
}
