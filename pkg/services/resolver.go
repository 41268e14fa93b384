package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/apperrors"
	"github.com/dota-labs/dota-engine/pkg/models"
)

// NameResolver turns user-supplied names into canonical catalog identities.
// Inputs may be bare, schema-qualified, bracketed or differently cased, and
// may be synonyms. Resolution prefers the snapshot and falls back to a live
// catalog lookup when the snapshot misses, so a cold cache still answers.
type NameResolver interface {
	// ResolveTable resolves a table name to its canonical identity. Notes
	// report indirections such as synonym hops.
	ResolveTable(ctx context.Context, input string) (models.TableIdentity, []string, error)

	// ResolveColumn returns the canonical casing of a column on a resolved table.
	ResolveColumn(ctx context.Context, table models.TableIdentity, column string) (string, error)

	// ResolveObject resolves a routine or view name to schema.name form.
	ResolveObject(ctx context.Context, name string) (string, error)

	// TablesWithColumn lists qualified tables containing the column.
	TablesWithColumn(ctx context.Context, column string) ([]string, error)

	// ResolveJob returns the canonical job name for a case-insensitive match.
	ResolveJob(name string) (string, bool)
}

type nameResolver struct {
	cache       SchemaCache
	connections ConnectionManager
	logger      *zap.Logger
}

var _ NameResolver = (*nameResolver)(nil)

// NewNameResolver creates a resolver over the schema cache with live fallback.
func NewNameResolver(cache SchemaCache, connections ConnectionManager, logger *zap.Logger) NameResolver {
	return &nameResolver{
		cache:       cache,
		connections: connections,
		logger:      logger.Named("resolver"),
	}
}

// cleanName strips brackets and whitespace without touching inner dots.
func cleanName(input string) string {
	return strings.NewReplacer("[", "", "]", "").Replace(strings.TrimSpace(input))
}

func (r *nameResolver) ResolveTable(ctx context.Context, input string) (models.TableIdentity, []string, error) {
	cleaned := cleanName(input)
	if cleaned == "" {
		return models.TableIdentity{}, nil, fmt.Errorf("empty table name: %w", apperrors.ErrNotFound)
	}
	snapshot := r.cache.Current()
	lowered := strings.ToLower(cleaned)

	if t, ok := snapshot.TablesQualified[lowered]; ok {
		return t, nil, nil
	}
	if !strings.Contains(lowered, ".") {
		if t, ok := snapshot.Tables[lowered]; ok {
			return t, nil, nil
		}
	}

	if t, note, ok, err := r.resolveSynonym(snapshot, lowered); ok || err != nil {
		if err != nil {
			return models.TableIdentity{}, nil, err
		}
		return t, []string{note}, nil
	}

	// Snapshot miss; ask the catalog directly so a cold cache still resolves.
	t, err := r.connections.Provider().LookupTable(ctx, cleaned)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return models.TableIdentity{}, nil, fmt.Errorf("table %q: %w", input, apperrors.ErrNotFound)
		}
		return models.TableIdentity{}, nil, err
	}
	r.logger.Debug("table resolved via live lookup", zap.String("input", input))
	return t, nil, nil
}

// resolveSynonym follows a snapshot synonym one hop to a base table.
func (r *nameResolver) resolveSynonym(snapshot *models.SchemaSnapshot, lowered string) (models.TableIdentity, string, bool, error) {
	var key models.ObjectKey
	if i := strings.LastIndex(lowered, "."); i >= 0 {
		key = models.ObjectKey{Schema: lowered[:i], Name: lowered[i+1:]}
	} else {
		key = models.ObjectKey{Schema: "dbo", Name: lowered}
	}
	syn, ok := snapshot.Synonyms[key]
	if !ok && key.Schema != "dbo" {
		return models.TableIdentity{}, "", false, nil
	}
	if !ok {
		// A bare name can name a synonym in any schema. The dbo key already
		// missed above; take the lowest remaining schema so the pick is
		// stable across snapshots.
		var keys []models.ObjectKey
		for k := range snapshot.Synonyms {
			if k.Name == lowered {
				keys = append(keys, k)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Schema < keys[j].Schema })
		if len(keys) > 0 {
			syn, ok = snapshot.Synonyms[keys[0]], true
		}
	}
	if !ok {
		return models.TableIdentity{}, "", false, nil
	}
	if syn.BaseDatabase != "" && !strings.EqualFold(syn.BaseDatabase, snapshot.Database) {
		return models.TableIdentity{}, "", false, fmt.Errorf(
			"synonym %s.%s points at database %s; cross-database lineage is not followed: %w",
			syn.Schema, syn.Name, syn.BaseDatabase, apperrors.ErrNotFound)
	}
	base, found := snapshot.TablesQualified[strings.ToLower(syn.BaseSchema+"."+syn.BaseName)]
	if !found {
		return models.TableIdentity{}, "", false, nil
	}
	note := fmt.Sprintf("resolved synonym %s.%s to %s", syn.Schema, syn.Name, base.Qualified())
	return base, note, true, nil
}

func (r *nameResolver) ResolveColumn(ctx context.Context, table models.TableIdentity, column string) (string, error) {
	cleaned := cleanName(column)
	if cleaned == "" {
		return "", fmt.Errorf("empty column name: %w", apperrors.ErrNotFound)
	}
	snapshot := r.cache.Current()
	if byName, ok := snapshot.Columns[strings.ToLower(table.Qualified())]; ok {
		if canonical, ok := byName[strings.ToLower(cleaned)]; ok {
			return canonical, nil
		}
		return "", fmt.Errorf("column %q on %s: %w", column, table.Qualified(), apperrors.ErrNotFound)
	}
	return r.connections.Provider().LookupColumn(ctx, table.Schema, table.Name, cleaned)
}

func (r *nameResolver) ResolveObject(ctx context.Context, name string) (string, error) {
	cleaned := cleanName(name)
	if cleaned == "" {
		return "", fmt.Errorf("empty object name: %w", apperrors.ErrNotFound)
	}
	snapshot := r.cache.Current()
	if canonical, ok := snapshot.Objects[strings.ToLower(cleaned)]; ok {
		return canonical, nil
	}
	resolved, _, err := r.connections.Provider().ObjectDefinition(ctx, cleaned)
	if err != nil && !errors.Is(err, apperrors.ErrPermissionInsufficient) {
		return "", err
	}
	return resolved, nil
}

func (r *nameResolver) TablesWithColumn(ctx context.Context, column string) ([]string, error) {
	cleaned := cleanName(column)
	if cleaned == "" {
		return nil, fmt.Errorf("empty column name: %w", apperrors.ErrNotFound)
	}
	snapshot := r.cache.Current()
	if len(snapshot.ColumnIndex) > 0 {
		tables := snapshot.ColumnIndex[strings.ToLower(cleaned)]
		out := make([]string, len(tables))
		copy(out, tables)
		return out, nil
	}
	return r.connections.Provider().TablesWithColumn(ctx, cleaned)
}

func (r *nameResolver) ResolveJob(name string) (string, bool) {
	canonical, ok := r.cache.Current().Jobs[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}
