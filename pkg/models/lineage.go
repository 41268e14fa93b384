package models

// MaxLineageDepth is the hard cap on lineage traversal depth. It bounds
// worst-case work regardless of configuration; requests above it are
// rejected, not clamped.
const MaxLineageDepth = 10

// Node types in a lineage graph.
const (
	NodeColumn    = "column"
	NodeProcedure = "procedure"
	NodeTrigger   = "trigger"
	NodeView      = "view"
	NodeTable     = "table"
	NodeFunction  = "function"
)

// Edge relations in a lineage graph.
const (
	RelationWrites = "writes"
	RelationFeeds  = "feeds"
)

// Writer kinds.
const (
	WriterProcedure = "procedure"
	WriterTrigger   = "trigger"
)

// Detail levels for returned source text.
const (
	DetailNone    = "none"
	DetailExcerpt = "excerpt"
	DetailFull    = "full"
)

// ColumnTarget identifies the column whose lineage is being traced.
type ColumnTarget struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Column string `json:"column"`
}

// LineageNode is a vertex in the lineage graph.
type LineageNode struct {
	Type   string `json:"type"`
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Column string `json:"column,omitempty"`
}

// LineageEdge is a directed edge: source feeds or writes target.
type LineageEdge struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

// LineageGraph is the node/edge structure describing which objects write to,
// or feed into, a target column. Edges are deduplicated by
// (source, target, relation). The graph is a DAG only by convention; cycle
// tolerance is the walker's responsibility.
type LineageGraph struct {
	Nodes map[string]LineageNode `json:"nodes"`
	Edges []LineageEdge          `json:"edges"`

	seenEdges map[[3]string]struct{}
}

// NewLineageGraph returns an empty graph.
func NewLineageGraph() *LineageGraph {
	return &LineageGraph{
		Nodes:     map[string]LineageNode{},
		seenEdges: map[[3]string]struct{}{},
	}
}

// EnsureNode adds a node under id if not already present.
func (g *LineageGraph) EnsureNode(id string, node LineageNode) {
	if _, ok := g.Nodes[id]; !ok {
		g.Nodes[id] = node
	}
}

// AddEdge appends an edge, dropping duplicates of (source, target, relation).
// Edge order is otherwise preserved.
func (g *LineageGraph) AddEdge(source, target, relation string) {
	key := [3]string{source, target, relation}
	if _, ok := g.seenEdges[key]; ok {
		return
	}
	g.seenEdges[key] = struct{}{}
	g.Edges = append(g.Edges, LineageEdge{Source: source, Target: target, Relation: relation})
}

// NodeID builds the graph identifier for a schema-qualified object, with an
// optional column suffix for column nodes.
func NodeID(schema, name, column string) string {
	id := schema + "." + name
	if column != "" {
		id += ":" + column
	}
	return id
}

// ExpressionHighlight pairs a matched expression with a short excerpt of the
// surrounding source text for human review.
type ExpressionHighlight struct {
	Expression string `json:"expression"`
	Excerpt    string `json:"excerpt"`
}

// DefinitionText carries optional writer source text at the requested detail level.
type DefinitionText struct {
	Kind    string `json:"kind"` // excerpt | full
	Content string `json:"content"`
}

// WriterCandidate is a procedure or trigger whose source text assigns a value
// to the target column, or is suspected of doing so through dynamic SQL.
// Produced transiently per lineage request; never persisted.
type WriterCandidate struct {
	ObjectID            int64                 `json:"object_id"`
	Schema              string                `json:"schema"`
	Name                string                `json:"name"`
	Kind                string                `json:"kind"`
	Expressions         []string              `json:"expressions"`
	Highlights          []ExpressionHighlight `json:"highlights,omitempty"`
	Snippet             string                `json:"snippet,omitempty"`
	DynamicSQLSuspected bool                  `json:"dynamic_sql_suspected,omitempty"`
	Text                *DefinitionText       `json:"text,omitempty"`
}

// QualifiedName returns schema.name.
func (w WriterCandidate) QualifiedName() string {
	return w.Schema + "." + w.Name
}

// ExpressionMapping records one candidate population expression for the target.
type ExpressionMapping struct {
	Target     ColumnTarget `json:"target"`
	Writer     string       `json:"writer"`
	WriterKind string       `json:"writer_kind"`
	Expression string       `json:"expression"`
}

// LineageResult is the output of a full lineage build for one column.
type LineageResult struct {
	Target            ColumnTarget        `json:"target"`
	Graph             *LineageGraph       `json:"graph"`
	Mappings          []ExpressionMapping `json:"candidate_population_expressions"`
	WriterProcedures  []WriterCandidate   `json:"writer_procedures"`
	WriterTriggers    []WriterCandidate   `json:"writer_triggers"`
	ComputedColumn    string              `json:"computed_column,omitempty"`
	DefaultConstraint string              `json:"default_constraint,omitempty"`
	EffectiveMaxDepth int                 `json:"effective_max_depth"`
	Notes             []string            `json:"notes"`
	Database          string              `json:"database,omitempty"`
}

// TopologyNode is a client-renderable graph node with a display label.
type TopologyNode struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Type   string `json:"type"`
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Column string `json:"column,omitempty"`
}

// TopologyEdge is a client-renderable graph edge.
type TopologyEdge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
	Label    string `json:"label"`
}

// WriterSnippet is a convenience pairing of a writer with its first excerpt.
type WriterSnippet struct {
	Writer  string `json:"writer"`
	Snippet string `json:"snippet"`
}

// PopulationResult is LineageResult reshaped for client-side rendering:
// flattened topology plus the population sources grouped together.
type PopulationResult struct {
	Target   ColumnTarget `json:"target"`
	Topology struct {
		Nodes []TopologyNode `json:"nodes"`
		Edges []TopologyEdge `json:"edges"`
	} `json:"topology"`
	Population struct {
		ComputedColumn    string              `json:"computed_column,omitempty"`
		DefaultConstraint string              `json:"default_constraint,omitempty"`
		WriterProcedures  []WriterCandidate   `json:"writer_procedures"`
		WriterTriggers    []WriterCandidate   `json:"writer_triggers"`
		Mappings          []ExpressionMapping `json:"candidate_population_expressions"`
		WriterSnippets    []WriterSnippet     `json:"writer_snippets,omitempty"`
	} `json:"population"`
	EffectiveMaxDepth int      `json:"effective_max_depth"`
	Notes             []string `json:"notes"`
	Database          string   `json:"database,omitempty"`

	// Disambiguation outcome, set when the table was auto-selected from a
	// column-only request.
	AutoSelected string   `json:"auto_selected,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
	TieBreakNote string   `json:"tie_break_note,omitempty"`
}

// DisambiguationScore is the ranking tuple for a candidate table. Ordering is
// lexicographic descending over (WriterCount, SchemaPreference, NamePreference,
// ApproxRows); ties break by ascending case-insensitive table name.
type DisambiguationScore struct {
	WriterCount      int   `json:"writers_plus_triggers"`
	SchemaPreference int   `json:"schema_pref"`
	NamePreference   int   `json:"name_pref"`
	ApproxRows       int64 `json:"approx_rows"`
}

// Less reports whether s ranks strictly below other.
func (s DisambiguationScore) Less(other DisambiguationScore) bool {
	if s.WriterCount != other.WriterCount {
		return s.WriterCount < other.WriterCount
	}
	if s.SchemaPreference != other.SchemaPreference {
		return s.SchemaPreference < other.SchemaPreference
	}
	if s.NamePreference != other.NamePreference {
		return s.NamePreference < other.NamePreference
	}
	return s.ApproxRows < other.ApproxRows
}

// Equal reports whether both tuples match on every component.
func (s DisambiguationScore) Equal(other DisambiguationScore) bool {
	return s == other
}

// DisambiguationCandidate is a ranked candidate table for a bare-column request.
type DisambiguationCandidate struct {
	Table string              `json:"table"`
	Score DisambiguationScore `json:"score"`
}
