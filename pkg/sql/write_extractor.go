package sql

import (
	"regexp"
	"strings"
)

// This file extracts column-write expressions from T-SQL module text.
// Matching is best-effort by design: an unparseable statement yields no
// expression, it never raises an error. Dynamic SQL is reported as a
// suspicion, not a match (see SuspectsDynamicWrite).

var (
	// UPDATE <target> SET <assignments> [FROM|WHERE|OUTPUT|OPTION|;|EOF]
	reUpdateSet = regexp.MustCompile(`(?is)\bUPDATE\s+([\[\]\w.]+)\s+SET\s+(.+?)(?:\s+(?:FROM|WHERE|OUTPUT|OPTION)\b|;|$)`)

	// MERGE <target> ... WHEN MATCHED THEN UPDATE SET <assignments>
	reMergeUpdateSet = regexp.MustCompile(`(?is)\bMERGE\s+(?:INTO\s+)?([\[\]\w.]+).*?WHEN\s+MATCHED\s+THEN\s+UPDATE\s+SET\s+(.+?)(?:\s+(?:WHEN|OUTPUT)\b|;|$)`)

	// Heads of the positional (column-list) forms. The parenthesized lists are
	// scanned with a depth-tracking scanner rather than captured by regex, so
	// nested function calls inside the lists do not truncate them.
	reInsertHead      = regexp.MustCompile(`(?is)\bINSERT\s+INTO\s+([\[\]\w.]+)\s*\(`)
	reMergeInsertHead = regexp.MustCompile(`(?is)\bMERGE\s+(?:INTO\s+)?[\[\]\w.]+.*?WHEN\s+NOT\s+MATCHED(?:\s+BY\s+TARGET)?\s+THEN\s+INSERT\s*\(`)

	reSelectPrefix = regexp.MustCompile(`(?is)^\s*SELECT\s+`)
	reValuesPrefix = regexp.MustCompile(`(?is)^\s*VALUES\s*\(`)
	reSelectEnd    = regexp.MustCompile(`(?is)\s+(?:FROM|WHERE|WITH|OUTPUT|OPTION)\b|;`)
)

// NormalizeIdentifier strips delimiter brackets and surrounding whitespace so
// [Salary], Salary and " salary " compare equal case-insensitively.
func NormalizeIdentifier(s string) string {
	s = strings.ReplaceAll(s, "[", "")
	s = strings.ReplaceAll(s, "]", "")
	return strings.TrimSpace(s)
}

// SplitTopLevel splits a comma-separated list at top-level commas only,
// tracking parenthesis depth so function calls with commas are not mis-split.
func SplitTopLevel(list string) []string {
	var parts []string
	var buf strings.Builder
	depth := 0
	for _, ch := range list {
		switch ch {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		}
		if ch == ',' && depth == 0 {
			parts = append(parts, strings.TrimSpace(buf.String()))
			buf.Reset()
			continue
		}
		buf.WriteRune(ch)
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		parts = append(parts, s)
	}
	return parts
}

// assignment is one column = expression pair from a SET list.
type assignment struct {
	Column string
	Expr   string
}

// splitAssignments splits a SET list into (column, expression) pairs. The '='
// is located at parenthesis depth zero so comparisons inside expressions
// (e.g. CASE WHEN a = b ...) inside parentheses do not split early.
func splitAssignments(sets string) []assignment {
	var out []assignment
	for _, part := range SplitTopLevel(sets) {
		depth := 0
		eq := -1
		for i, ch := range part {
			switch ch {
			case '(':
				depth++
			case ')':
				if depth > 0 {
					depth--
				}
			case '=':
				if depth == 0 {
					eq = i
				}
			}
			if eq >= 0 {
				break
			}
		}
		if eq <= 0 {
			continue
		}
		col := NormalizeIdentifier(part[:eq])
		expr := strings.TrimSpace(part[eq+1:])
		if col == "" || expr == "" {
			continue
		}
		out = append(out, assignment{Column: col, Expr: expr})
	}
	return out
}

// balancedParen returns the content between s[open] (which must be '(') and
// its matching close parenthesis, plus the index just past that parenthesis.
func balancedParen(s string, open int) (string, int, bool) {
	if open >= len(s) || s[open] != '(' {
		return "", 0, false
	}
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[open+1 : i], i + 1, true
			}
		}
	}
	return "", 0, false
}

// ExtractWriteExpressions returns the RHS expressions assigned to targetColumn
// by any UPDATE, INSERT...SELECT, INSERT...VALUES or MERGE statement in the
// module text. Order follows statement order per pattern family; duplicates
// are preserved (callers dedupe per writer).
func ExtractWriteExpressions(defn, targetColumn string) []string {
	var exprs []string
	exprs = append(exprs, extractSetExpressions(reUpdateSet, defn, targetColumn)...)
	exprs = append(exprs, extractInsertExpressions(defn, targetColumn)...)
	exprs = append(exprs, extractSetExpressions(reMergeUpdateSet, defn, targetColumn)...)
	exprs = append(exprs, extractMergeInsertExpressions(defn, targetColumn)...)
	return exprs
}

// ExtractUpdateExpressions matches only the UPDATE and MERGE...UPDATE forms.
// Trigger bodies are scanned with this restricted set: triggers receive rows,
// not column lists, so the positional INSERT forms do not apply.
func ExtractUpdateExpressions(defn, targetColumn string) []string {
	var exprs []string
	exprs = append(exprs, extractSetExpressions(reUpdateSet, defn, targetColumn)...)
	exprs = append(exprs, extractSetExpressions(reMergeUpdateSet, defn, targetColumn)...)
	return exprs
}

func extractSetExpressions(re *regexp.Regexp, defn, targetColumn string) []string {
	var exprs []string
	target := strings.ToLower(NormalizeIdentifier(targetColumn))
	for _, m := range re.FindAllStringSubmatch(defn, -1) {
		for _, a := range splitAssignments(m[2]) {
			if strings.ToLower(a.Column) == target {
				exprs = append(exprs, a.Expr)
			}
		}
	}
	return exprs
}

// extractInsertExpressions handles INSERT INTO t (cols) SELECT ... and
// INSERT INTO t (cols) VALUES (...), aligning the column list with the
// value/select list by position.
func extractInsertExpressions(defn, targetColumn string) []string {
	var exprs []string
	for _, loc := range reInsertHead.FindAllStringSubmatchIndex(defn, -1) {
		cols, next, ok := balancedParen(defn, loc[1]-1)
		if !ok {
			continue
		}
		rest := defn[next:]
		var values []string
		if m := reValuesPrefix.FindStringIndex(rest); m != nil {
			vals, _, ok := balancedParen(rest, m[1]-1)
			if !ok {
				continue
			}
			values = SplitTopLevel(vals)
		} else if m := reSelectPrefix.FindStringIndex(rest); m != nil {
			values = SplitTopLevel(selectList(rest[m[1]:]))
		} else {
			continue
		}
		if expr, ok := positional(cols, values, targetColumn); ok {
			exprs = append(exprs, expr)
		}
	}
	return exprs
}

func extractMergeInsertExpressions(defn, targetColumn string) []string {
	var exprs []string
	for _, loc := range reMergeInsertHead.FindAllStringIndex(defn, -1) {
		cols, next, ok := balancedParen(defn, loc[1]-1)
		if !ok {
			continue
		}
		rest := defn[next:]
		m := reValuesPrefix.FindStringIndex(rest)
		if m == nil {
			continue
		}
		vals, _, ok := balancedParen(rest, m[1]-1)
		if !ok {
			continue
		}
		if expr, ok := positional(cols, SplitTopLevel(vals), targetColumn); ok {
			exprs = append(exprs, expr)
		}
	}
	return exprs
}

// selectList trims a SELECT list at its first terminator keyword.
func selectList(rest string) string {
	if m := reSelectEnd.FindStringIndex(rest); m != nil {
		return rest[:m[0]]
	}
	return rest
}

// positional aligns a column list with a value list by index. If the target
// column is absent from the column list, or the lists are ragged at its
// position, no expression is produced for the statement.
func positional(colList string, values []string, targetColumn string) (string, bool) {
	target := strings.ToLower(NormalizeIdentifier(targetColumn))
	for i, c := range SplitTopLevel(colList) {
		if strings.ToLower(NormalizeIdentifier(c)) != target {
			continue
		}
		if i < len(values) {
			return strings.TrimSpace(values[i]), true
		}
		return "", false
	}
	return "", false
}

// SuspectsDynamicWrite reports whether the module text looks like it writes
// the target column through dynamically built SQL: an EXEC-style invocation
// together with mentions of the table, the column, and a write verb. This is
// a co-occurrence heuristic; it both over- and under-reports, and callers
// surface it as a suspicion rather than a match.
func SuspectsDynamicWrite(defn, schema, table, column string) bool {
	s := strings.ToLower(defn)
	if !strings.Contains(s, "sp_executesql") && !strings.Contains(s, "exec") {
		return false
	}
	tableHint := strings.Contains(s, strings.ToLower(table)) ||
		strings.Contains(s, strings.ToLower(schema)+"."+strings.ToLower(table))
	columnHint := strings.Contains(s, strings.ToLower(column))
	writeVerb := strings.Contains(s, "update") || strings.Contains(s, "insert") || strings.Contains(s, "merge")
	return tableHint && columnHint && writeVerb
}

// ExcerptAround returns a short excerpt of whole around the first
// case-insensitive occurrence of needle, expanded by contextBytes on each side
// and trimmed to line boundaries. Returns "" when needle is absent.
func ExcerptAround(whole, needle string, contextBytes int) string {
	if whole == "" || needle == "" {
		return ""
	}
	idx := strings.Index(strings.ToLower(whole), strings.ToLower(needle))
	if idx < 0 {
		return ""
	}
	start := idx - contextBytes
	if start < 0 {
		start = 0
	}
	end := idx + len(needle) + contextBytes
	if end > len(whole) {
		end = len(whole)
	}
	if ls := strings.LastIndex(whole[:start], "\n"); ls != -1 {
		start = ls + 1
	}
	if le := strings.Index(whole[end:], "\n"); le != -1 {
		end += le
	}
	return strings.TrimSpace(whole[start:end])
}
