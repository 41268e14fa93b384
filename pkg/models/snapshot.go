package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObjectKey identifies a schema-qualified catalog object. Keys are stored
// lowercased so lookups are case-insensitive.
type ObjectKey struct {
	Schema string
	Name   string
}

// NewObjectKey builds a lowercased key from a schema and object name.
func NewObjectKey(schema, name string) ObjectKey {
	return ObjectKey{Schema: strings.ToLower(schema), Name: strings.ToLower(name)}
}

// TableIdentity is the canonical schema-qualified identity of a base table.
type TableIdentity struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// Qualified returns the schema.name form.
func (t TableIdentity) Qualified() string {
	return t.Schema + "." + t.Name
}

// Key returns the lowercased lookup key for this table.
func (t TableIdentity) Key() ObjectKey {
	return NewObjectKey(t.Schema, t.Name)
}

// Procedure is a cached routine or trigger module with its source text.
type Procedure struct {
	ObjectID   int64
	Schema     string
	Name       string
	Definition string
}

// Synonym is an alias catalog entry pointing at a base object.
// BaseDatabase/BaseServer are set for cross-database synonyms, which the
// engine resolves but does not follow (cross-database lineage is out of scope).
type Synonym struct {
	Schema       string
	Name         string
	BaseSchema   string
	BaseName     string
	BaseDatabase string
	BaseServer   string
}

// SchemaSnapshot is an immutable point-in-time copy of catalog metadata.
// A snapshot is built whole by a refresh and published by swapping the
// reference; it is never mutated after publication, so readers holding a
// snapshot see a consistent generation for the lifetime of their request.
type SchemaSnapshot struct {
	// Generation identifies this snapshot in logs and memo keys.
	Generation uuid.UUID
	TakenAt    time.Time
	// Database is the catalog the snapshot was built against.
	Database string

	// Tables maps lowercased bare table name -> canonical identity.
	Tables map[string]TableIdentity
	// TablesQualified maps lowercased "schema.name" -> canonical identity.
	TablesQualified map[string]TableIdentity
	// Columns maps lowercased "schema.name" -> lowercased column -> canonical column.
	Columns map[string]map[string]string
	// ColumnIndex maps lowercased column name -> qualified tables containing it.
	ColumnIndex map[string][]string
	// Objects maps lowercased routine/view name (both bare and qualified keys)
	// -> canonical qualified name.
	Objects map[string]string
	// Jobs maps lowercased job name -> canonical job name.
	Jobs map[string]string
	// Procedures maps object id -> cached procedure module.
	Procedures map[int64]Procedure
	// ReverseDeps maps a referenced object key -> ids of procedures referencing it.
	ReverseDeps map[ObjectKey][]int64
	// Synonyms maps synonym key -> synonym entry.
	Synonyms map[ObjectKey]Synonym
	// SynonymsByBase maps base object key -> synonym keys aliasing it.
	SynonymsByBase map[ObjectKey][]ObjectKey
}

// EmptySnapshot returns a snapshot with all maps allocated, used before the
// first successful refresh so readers never nil-check individual maps.
func EmptySnapshot() *SchemaSnapshot {
	return &SchemaSnapshot{
		Generation:      uuid.New(),
		TakenAt:         time.Now().UTC(),
		Tables:          map[string]TableIdentity{},
		TablesQualified: map[string]TableIdentity{},
		Columns:         map[string]map[string]string{},
		ColumnIndex:     map[string][]string{},
		Objects:         map[string]string{},
		Jobs:            map[string]string{},
		Procedures:      map[int64]Procedure{},
		ReverseDeps:     map[ObjectKey][]int64{},
		Synonyms:        map[ObjectKey]Synonym{},
		SynonymsByBase:  map[ObjectKey][]ObjectKey{},
	}
}

// Counts summarizes a snapshot for refresh responses and logs.
type Counts struct {
	Tables     int `json:"tables"`
	Objects    int `json:"objects"`
	Jobs       int `json:"jobs"`
	Procedures int `json:"procedures"`
	Synonyms   int `json:"synonyms"`
}

// Counts returns the object counts of this snapshot.
func (s *SchemaSnapshot) Counts() Counts {
	return Counts{
		Tables:     len(s.Tables),
		Objects:    len(s.Objects),
		Jobs:       len(s.Jobs),
		Procedures: len(s.Procedures),
		Synonyms:   len(s.Synonyms),
	}
}
