package services

import (
	"regexp"
	"strings"
)

// IntentKind classifies what a free-text question is asking for.
type IntentKind string

const (
	IntentPopulation  IntentKind = "population"
	IntentWhereColumn IntentKind = "where_column"
	IntentJobs        IntentKind = "jobs"
	IntentUnknown     IntentKind = "unknown"
)

// Intent is the structured reading of a free-text question. Parsing is
// pattern-based, not a language model; anything unmatched comes back as
// IntentUnknown with a hint for the caller.
type Intent struct {
	Kind   IntentKind
	Table  string
	Column string
	Job    string
}

var (
	// "column Salary in [table] Employees", "column Salary of hr.Employees"
	reColumnInTable = regexp.MustCompile(`(?i)\bcolumn\s+\[?(\w+)\]?\s+(?:in|of|on|from)\s+(?:the\s+)?(?:table\s+)?\[?([\w.]+)\]?`)

	// "hr.Employees.Salary"
	reQualifiedColumn = regexp.MustCompile(`(?i)\b(\w+)\.(\w+)\.(\w+)\b`)

	// "Employees.Salary" style pair; ambiguous with schema.table, so it only
	// applies when the question already talks about a column being populated.
	reTableDotColumn = regexp.MustCompile(`(?i)\b(\w+)\.(\w+)\b`)

	// "how is X populated/written/updated/calculated", "where does X come from"
	rePopulatedVerb = regexp.MustCompile(`(?i)\b(?:populated|written|updated|computed|calculated|derived|filled|set)\b`)
	reComesFrom     = regexp.MustCompile(`(?i)\bwhere\s+does\b.*\bcome\s+from\b`)

	// "which tables have a column named X", "what tables contain X"
	reWhereColumn = regexp.MustCompile(`(?i)\b(?:which|what)\s+tables?\s+(?:have|contain|hold|include|with)\s+(?:a\s+)?(?:column\s+)?(?:named\s+|called\s+)?\[?(\w+)\]?`)

	// job questions, with an optional quoted job name
	reJobWords     = regexp.MustCompile(`(?i)\bjobs?\b`)
	reJobOutcome   = regexp.MustCompile(`(?i)\b(?:fail|failed|failing|succeed|succeeded|status|ran|run|running|last)\b`)
	reQuotedName   = regexp.MustCompile(`['"]([^'"]+)['"]`)
	reJobNamedName = regexp.MustCompile(`(?i)\bjob\s+\[?([\w ]+?)\]?(?:\s+(?:fail|failed|run|ran|status)|\?|$)`)

	// bare "how is Salary populated"
	reBareColumn = regexp.MustCompile(`(?i)\b(?:is|does)\s+\[?(\w+)\]?\s`)
)

// ParseIntent reads a question and extracts the lineage, column-search or
// job-status request inside it.
func ParseIntent(question string) Intent {
	q := strings.TrimSpace(question)
	if q == "" {
		return Intent{Kind: IntentUnknown}
	}

	if reJobWords.MatchString(q) && reJobOutcome.MatchString(q) {
		intent := Intent{Kind: IntentJobs}
		if m := reQuotedName.FindStringSubmatch(q); m != nil {
			intent.Job = strings.TrimSpace(m[1])
		} else if m := reJobNamedName.FindStringSubmatch(q); m != nil {
			name := strings.TrimSpace(m[1])
			if !strings.EqualFold(name, "status") {
				intent.Job = name
			}
		}
		return intent
	}

	if m := reWhereColumn.FindStringSubmatch(q); m != nil {
		return Intent{Kind: IntentWhereColumn, Column: m[1]}
	}

	asksPopulation := rePopulatedVerb.MatchString(q) || reComesFrom.MatchString(q)

	if m := reColumnInTable.FindStringSubmatch(q); m != nil {
		return Intent{Kind: IntentPopulation, Column: m[1], Table: m[2]}
	}
	if m := reQualifiedColumn.FindStringSubmatch(q); m != nil {
		return Intent{Kind: IntentPopulation, Table: m[1] + "." + m[2], Column: m[3]}
	}
	if asksPopulation {
		if m := reTableDotColumn.FindStringSubmatch(q); m != nil {
			return Intent{Kind: IntentPopulation, Table: m[1], Column: m[2]}
		}
		if m := reBareColumn.FindStringSubmatch(q); m != nil {
			return Intent{Kind: IntentPopulation, Column: m[1]}
		}
	}
	return Intent{Kind: IntentUnknown}
}
