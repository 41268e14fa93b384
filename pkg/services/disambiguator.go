package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/apperrors"
	"github.com/dota-labs/dota-engine/pkg/models"
)

// Disambiguator picks a table when a caller names only a column and several
// tables contain it. Candidates are ranked by a lexicographic tuple: writer
// count, schema preference, name preference, approximate row count. A dead
// tie auto-selects the alphabetically first candidate and says so; the caller
// surfaces the alternatives.
type Disambiguator interface {
	Choose(ctx context.Context, snapshot *models.SchemaSnapshot, tables []string, column string, opts LocateOptions) (models.TableIdentity, []models.DisambiguationCandidate, string, error)
}

type disambiguator struct {
	connections ConnectionManager
	locator     WriterLocator
	logger      *zap.Logger
}

var _ Disambiguator = (*disambiguator)(nil)

// NewDisambiguator creates a disambiguator backed by the writer locator.
func NewDisambiguator(connections ConnectionManager, locator WriterLocator, logger *zap.Logger) Disambiguator {
	return &disambiguator{
		connections: connections,
		locator:     locator,
		logger:      logger.Named("disambiguator"),
	}
}

// namePreference scores how strongly a table name suggests it is the system
// of record for people data. Names are singularized first so Employees and
// Employee rank the same.
func namePreference(table string) int {
	bare := strings.ToLower(table)
	if i := strings.LastIndex(bare, "."); i >= 0 {
		bare = bare[i+1:]
	}
	singular := inflection.Singular(bare)
	switch {
	case singular == "employee" || singular == "employee_master" || strings.HasPrefix(singular, "employee_"):
		return 3
	case strings.Contains(singular, "payroll"):
		return 2
	case strings.HasPrefix(singular, "comp"):
		return 1
	default:
		return 0
	}
}

func schemaPreference(schema string) int {
	if strings.EqualFold(schema, "dbo") {
		return 1
	}
	return 0
}

func (d *disambiguator) Choose(ctx context.Context, snapshot *models.SchemaSnapshot, tables []string, column string, opts LocateOptions) (models.TableIdentity, []models.DisambiguationCandidate, string, error) {
	if len(tables) == 0 {
		return models.TableIdentity{}, nil, "", fmt.Errorf("no tables contain column %q: %w", column, apperrors.ErrNotFound)
	}

	provider := d.connections.Provider()
	type scored struct {
		identity models.TableIdentity
		cand     models.DisambiguationCandidate
	}
	scoredCandidates := make([]scored, 0, len(tables))

	// Scoring never attaches definitions; only the count matters here.
	opts.Detail = models.DetailNone

	for _, qualified := range tables {
		identity, ok := snapshot.TablesQualified[strings.ToLower(qualified)]
		if !ok {
			schema, name := splitQualified(qualified)
			identity = models.TableIdentity{Schema: schema, Name: name}
		}

		writers, err := d.locator.Locate(ctx, snapshot, identity, column, opts)
		if err != nil {
			return models.TableIdentity{}, nil, "", err
		}

		rows, err := provider.ApproxRowCount(ctx, identity.Schema, identity.Name)
		if err != nil {
			// Ranking survives without row counts.
			d.logger.Debug("row count unavailable for ranking",
				zap.String("table", identity.Qualified()), zap.Error(err))
			rows = 0
		}

		scoredCandidates = append(scoredCandidates, scored{
			identity: identity,
			cand: models.DisambiguationCandidate{
				Table: identity.Qualified(),
				Score: models.DisambiguationScore{
					WriterCount:      writers.Count(),
					SchemaPreference: schemaPreference(identity.Schema),
					NamePreference:   namePreference(identity.Name),
					ApproxRows:       rows,
				},
			},
		})
	}

	sort.Slice(scoredCandidates, func(i, j int) bool {
		a, b := scoredCandidates[i].cand.Score, scoredCandidates[j].cand.Score
		if !a.Equal(b) {
			return b.Less(a)
		}
		return strings.ToLower(scoredCandidates[i].cand.Table) < strings.ToLower(scoredCandidates[j].cand.Table)
	})

	candidates := make([]models.DisambiguationCandidate, len(scoredCandidates))
	for i, s := range scoredCandidates {
		candidates[i] = s.cand
	}

	var tieNote string
	if len(scoredCandidates) > 1 && scoredCandidates[0].cand.Score.Equal(scoredCandidates[1].cand.Score) {
		tieNote = fmt.Sprintf("candidates tied on every ranking signal; auto-selected %s by name",
			scoredCandidates[0].cand.Table)
	}
	return scoredCandidates[0].identity, candidates, tieNote, nil
}

func splitQualified(qualified string) (string, string) {
	if i := strings.LastIndex(qualified, "."); i >= 0 {
		return qualified[:i], qualified[i+1:]
	}
	return "dbo", qualified
}
