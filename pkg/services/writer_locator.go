package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/models"
	sqltext "github.com/dota-labs/dota-engine/pkg/sql"
)

const (
	// excerptContextBytes bounds the context returned around a matched
	// expression before trimming to line boundaries.
	excerptContextBytes = 160

	// excerptDefinitionLimit is how much module text the excerpt detail
	// level returns.
	excerptDefinitionLimit = 2000
)

// LocateOptions tunes one writer search.
type LocateOptions struct {
	// MaxProcScan caps the fallback full scan when the dependency index
	// cannot answer.
	MaxProcScan int
	// Detail selects how much writer source text to attach.
	Detail string
}

// WriterSet is the outcome of a writer search for one column.
type WriterSet struct {
	Procedures []models.WriterCandidate
	Triggers   []models.WriterCandidate
	Notes      []string
}

// Count returns procedures plus triggers, the disambiguation signal.
func (w *WriterSet) Count() int {
	return len(w.Procedures) + len(w.Triggers)
}

// WriterLocator finds the procedures and triggers whose source text assigns a
// value to a column. The dependency index drives the primary path; when it
// cannot answer, a capped scan over cached module text fills in, and the
// truncation is disclosed in the notes.
type WriterLocator interface {
	Locate(ctx context.Context, snapshot *models.SchemaSnapshot, table models.TableIdentity, column string, opts LocateOptions) (*WriterSet, error)
}

type writerLocator struct {
	connections ConnectionManager
	logger      *zap.Logger
}

var _ WriterLocator = (*writerLocator)(nil)

// NewWriterLocator creates a writer locator.
func NewWriterLocator(connections ConnectionManager, logger *zap.Logger) WriterLocator {
	return &writerLocator{
		connections: connections,
		logger:      logger.Named("writer-locator"),
	}
}

func (l *writerLocator) Locate(ctx context.Context, snapshot *models.SchemaSnapshot, table models.TableIdentity, column string, opts LocateOptions) (*WriterSet, error) {
	set := &WriterSet{}

	ids, indexed := l.candidateIDs(snapshot, table)
	tried := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		tried[id] = struct{}{}
		proc, ok := snapshot.Procedures[id]
		if !ok {
			continue
		}
		if candidate, ok := l.evaluate(proc, models.WriterProcedure, table, column, opts.Detail); ok {
			set.Procedures = append(set.Procedures, candidate)
		}
	}

	// An index that exists can still be incomplete for this table: a writer
	// whose dependency edge was never recorded is invisible to it. The scan
	// runs whenever the index produced no writers, not only when it is empty.
	if len(set.Procedures) == 0 {
		scanIDs, truncated := l.scanCandidates(snapshot, table, column, opts.MaxProcScan)
		for _, id := range scanIDs {
			if _, dup := tried[id]; dup {
				continue
			}
			proc, ok := snapshot.Procedures[id]
			if !ok {
				continue
			}
			if candidate, ok := l.evaluate(proc, models.WriterProcedure, table, column, opts.Detail); ok {
				set.Procedures = append(set.Procedures, candidate)
			}
		}
		note := "dependency metadata unavailable; writers found by scanning module text"
		if indexed {
			note = "dependency index named no writers; writers found by scanning module text"
		}
		if truncated {
			note = fmt.Sprintf("%s (scan capped at %d modules, results may be incomplete)", note, opts.MaxProcScan)
		}
		set.Notes = append(set.Notes, note)
	}
	sort.Slice(set.Procedures, func(i, j int) bool {
		return set.Procedures[i].QualifiedName() < set.Procedures[j].QualifiedName()
	})

	triggers, err := l.connections.Provider().TriggersOn(ctx, table.Schema, table.Name)
	if err != nil {
		// Trigger writers degrade to a caveat rather than failing lineage.
		set.Notes = append(set.Notes, fmt.Sprintf("triggers on %s could not be read", table.Qualified()))
		l.logger.Warn("failed to read triggers", zap.String("table", table.Qualified()), zap.Error(err))
	}
	for _, trigger := range triggers {
		if candidate, ok := l.evaluateTrigger(trigger, table, column, opts.Detail); ok {
			set.Triggers = append(set.Triggers, candidate)
		}
	}
	return set, nil
}

// candidateIDs collects procedure ids referencing the table directly or
// through any synonym aliasing it. The second return is false when the
// dependency index holds nothing at all, which means it was not visible.
func (l *writerLocator) candidateIDs(snapshot *models.SchemaSnapshot, table models.TableIdentity) ([]int64, bool) {
	if len(snapshot.ReverseDeps) == 0 {
		return nil, false
	}
	seen := map[int64]struct{}{}
	var ids []int64
	keys := append([]models.ObjectKey{table.Key()}, snapshot.SynonymsByBase[table.Key()]...)
	for _, key := range keys {
		for _, id := range snapshot.ReverseDeps[key] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, true
}

// scanCandidates walks cached module text in id order, up to the scan cap.
// A module qualifies when it mentions both the table and the column, or when
// it contains a write verb at all: writes through synonyms or aliases carry
// neither name, and the extractor decides what actually assigns the column.
// The second return reports whether the cap truncated the scan.
func (l *writerLocator) scanCandidates(snapshot *models.SchemaSnapshot, table models.TableIdentity, column string, maxScan int) ([]int64, bool) {
	all := make([]int64, 0, len(snapshot.Procedures))
	for id := range snapshot.Procedures {
		all = append(all, id)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	tableNeedle := strings.ToLower(table.Name)
	columnNeedle := strings.ToLower(column)

	var ids []int64
	scanned := 0
	truncated := false
	for _, id := range all {
		if maxScan > 0 && scanned >= maxScan {
			truncated = true
			break
		}
		scanned++
		defn := strings.ToLower(snapshot.Procedures[id].Definition)
		named := strings.Contains(defn, tableNeedle) && strings.Contains(defn, columnNeedle)
		writes := strings.Contains(defn, "insert") || strings.Contains(defn, "update") || strings.Contains(defn, "merge")
		if named || writes {
			ids = append(ids, id)
		}
	}
	return ids, truncated
}

func (l *writerLocator) evaluate(proc models.Procedure, kind string, table models.TableIdentity, column, detail string) (models.WriterCandidate, bool) {
	expressions := dedupe(sqltext.ExtractWriteExpressions(proc.Definition, column))
	return l.build(proc, kind, table, column, detail, expressions)
}

func (l *writerLocator) evaluateTrigger(trigger models.Procedure, table models.TableIdentity, column, detail string) (models.WriterCandidate, bool) {
	expressions := dedupe(sqltext.ExtractUpdateExpressions(trigger.Definition, column))
	return l.build(trigger, models.WriterTrigger, table, column, detail, expressions)
}

func (l *writerLocator) build(proc models.Procedure, kind string, table models.TableIdentity, column, detail string, expressions []string) (models.WriterCandidate, bool) {
	suspected := false
	if len(expressions) == 0 {
		if !sqltext.SuspectsDynamicWrite(proc.Definition, table.Schema, table.Name, column) {
			return models.WriterCandidate{}, false
		}
		suspected = true
	}

	candidate := models.WriterCandidate{
		ObjectID:            proc.ObjectID,
		Schema:              proc.Schema,
		Name:                proc.Name,
		Kind:                kind,
		Expressions:         expressions,
		DynamicSQLSuspected: suspected,
	}
	for _, expr := range expressions {
		if excerpt := sqltext.ExcerptAround(proc.Definition, expr, excerptContextBytes); excerpt != "" {
			candidate.Highlights = append(candidate.Highlights, models.ExpressionHighlight{
				Expression: expr,
				Excerpt:    excerpt,
			})
		}
	}
	if len(candidate.Highlights) > 0 {
		candidate.Snippet = candidate.Highlights[0].Excerpt
	}
	if suspected {
		// No static expression exists; excerpt the execute site instead.
		snippet := sqltext.ExcerptAround(proc.Definition, "sp_executesql", excerptContextBytes)
		if snippet == "" {
			snippet = sqltext.ExcerptAround(proc.Definition, "exec", excerptContextBytes)
		}
		candidate.Snippet = snippet
	}

	switch detail {
	case models.DetailFull:
		candidate.Text = &models.DefinitionText{Kind: models.DetailFull, Content: proc.Definition}
	case models.DetailExcerpt:
		content := proc.Definition
		if len(content) > excerptDefinitionLimit {
			content = content[:excerptDefinitionLimit]
		}
		candidate.Text = &models.DefinitionText{Kind: models.DetailExcerpt, Content: content}
	}
	return candidate, true
}

func dedupe(values []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
