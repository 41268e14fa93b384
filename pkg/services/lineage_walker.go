package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dota-labs/dota-engine/pkg/apperrors"
	"github.com/dota-labs/dota-engine/pkg/models"
)

// LineageWalker expands writer modules into a bounded upstream graph. The
// walk is breadth first from the target column, marks nodes visited before
// expansion so cycles terminate, and never expands past maxDepth.
type LineageWalker interface {
	Walk(ctx context.Context, target models.ColumnTarget, writers *WriterSet, maxDepth int) (*models.LineageGraph, []string, error)
}

type lineageWalker struct {
	connections ConnectionManager
	logger      *zap.Logger
}

var _ LineageWalker = (*lineageWalker)(nil)

// NewLineageWalker creates a lineage walker.
func NewLineageWalker(connections ConnectionManager, logger *zap.Logger) LineageWalker {
	return &lineageWalker{
		connections: connections,
		logger:      logger.Named("lineage-walker"),
	}
}

type walkEntry struct {
	objectID int64
	nodeID   string
	depth    int
}

func (w *lineageWalker) Walk(ctx context.Context, target models.ColumnTarget, writers *WriterSet, maxDepth int) (*models.LineageGraph, []string, error) {
	if maxDepth < 1 || maxDepth > models.MaxLineageDepth {
		return nil, nil, fmt.Errorf("max_depth %d out of range [1, %d]: %w",
			maxDepth, models.MaxLineageDepth, apperrors.ErrInvalidDepth)
	}

	graph := models.NewLineageGraph()
	targetID := models.NodeID(target.Schema, target.Table, target.Column)
	graph.EnsureNode(targetID, models.LineageNode{
		Type:   models.NodeColumn,
		Schema: target.Schema,
		Name:   target.Table,
		Column: target.Column,
	})

	visited := map[string]struct{}{targetID: {}}
	var queue []walkEntry
	var notes []string

	enqueueWriter := func(candidate models.WriterCandidate, nodeType string) {
		nodeID := models.NodeID(candidate.Schema, candidate.Name, "")
		graph.EnsureNode(nodeID, models.LineageNode{
			Type:   nodeType,
			Schema: candidate.Schema,
			Name:   candidate.Name,
		})
		graph.AddEdge(nodeID, targetID, models.RelationWrites)
		if _, dup := visited[nodeID]; dup {
			return
		}
		visited[nodeID] = struct{}{}
		// Writers sit at depth 1; their dependencies are depth 2.
		if maxDepth > 1 && candidate.ObjectID != 0 {
			queue = append(queue, walkEntry{objectID: candidate.ObjectID, nodeID: nodeID, depth: 1})
		}
	}
	for _, candidate := range writers.Procedures {
		enqueueWriter(candidate, models.NodeProcedure)
	}
	for _, candidate := range writers.Triggers {
		enqueueWriter(candidate, models.NodeTrigger)
	}

	provider := w.connections.Provider()
	for len(queue) > 0 {
		entry := queue[0]
		queue = queue[1:]

		deps, err := provider.DependenciesOf(ctx, entry.objectID)
		if err != nil {
			notes = append(notes, fmt.Sprintf("dependencies of %s could not be expanded", entry.nodeID))
			w.logger.Warn("failed to expand dependencies",
				zap.String("node", entry.nodeID), zap.Error(err))
			continue
		}
		for _, dep := range deps {
			depID := models.NodeID(dep.Schema, dep.Name, "")
			graph.EnsureNode(depID, models.LineageNode{
				Type:   dep.Kind,
				Schema: dep.Schema,
				Name:   dep.Name,
			})
			graph.AddEdge(depID, entry.nodeID, models.RelationFeeds)

			if _, dup := visited[depID]; dup {
				continue
			}
			visited[depID] = struct{}{}
			if entry.depth+1 >= maxDepth {
				continue
			}
			// Only procedures are expanded further; tables, views and
			// functions are terminal nodes in the graph.
			if dep.ReferencedID == 0 || dep.Kind != models.NodeProcedure {
				continue
			}
			queue = append(queue, walkEntry{objectID: dep.ReferencedID, nodeID: depID, depth: entry.depth + 1})
		}
	}
	return graph, notes, nil
}
