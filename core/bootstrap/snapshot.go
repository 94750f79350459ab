// Package bootstrap implements the one-time compatibility path that brings a
// legacy database snapshot into the live schema: introspect, plan, apply,
// then replay every snapshot row through the same strict codec used for live
// traffic.
package bootstrap

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// SnapshotTable is one table of a legacy snapshot: its original CREATE
// statement, its column order, and its raw row tuples.
type SnapshotTable struct {
	Name      string
	CreateSQL string
	Columns   []string
	Rows      [][]any
}

// Snapshot is a parsed legacy SQL dump. It exists only during bootstrap and is
// discarded once migrated into the live schema.
type Snapshot struct {
	Tables []*SnapshotTable
}

// Table returns the named snapshot table, if present.
func (s *Snapshot) Table(name string) (*SnapshotTable, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// RowCount returns the total number of data rows across all tables.
func (s *Snapshot) RowCount() int {
	n := 0
	for _, t := range s.Tables {
		n += len(t.Rows)
	}
	return n
}

// ParseSnapshot reads a legacy SQL dump. It understands the statement shapes
// mysqldump and friends emit: CREATE TABLE and INSERT INTO (including
// multi-tuple inserts). Session statements (SET, LOCK/UNLOCK, DROP) and
// comments are skipped; the snapshot is an opaque legacy artifact and only
// schema plus data matter here.
func ParseSnapshot(r io.Reader) (*Snapshot, error) {
	statements, err := splitStatements(r)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{}
	byName := make(map[string]*SnapshotTable)

	for _, stmt := range statements {
		upper := strings.ToUpper(stmt)
		switch {
		case strings.HasPrefix(upper, "CREATE TABLE"):
			table, err := parseCreateTable(stmt)
			if err != nil {
				return nil, err
			}
			snap.Tables = append(snap.Tables, table)
			byName[table.Name] = table
		case strings.HasPrefix(upper, "INSERT INTO"):
			if err := parseInsert(stmt, snap, byName); err != nil {
				return nil, err
			}
		}
	}
	return snap, nil
}

// splitStatements cuts the script into statements on top-level semicolons,
// honoring quoted strings and stripping comment lines.
func splitStatements(r io.Reader) ([]string, error) {
	var statements []string
	var sb strings.Builder

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "/*") {
			continue
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	text := sb.String()
	var current strings.Builder
	inString := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch {
		case ch == '\'':
			// Doubled quotes inside a string are an escaped quote.
			if inString && i+1 < len(text) && text[i+1] == '\'' {
				current.WriteByte(ch)
				current.WriteByte(ch)
				i++
				continue
			}
			inString = !inString
			current.WriteByte(ch)
		case ch == '\\' && inString && i+1 < len(text):
			current.WriteByte(ch)
			current.WriteByte(text[i+1])
			i++
		case ch == ';' && !inString:
			stmt := strings.TrimSpace(current.String())
			if stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements, nil
}

func parseCreateTable(stmt string) (*SnapshotTable, error) {
	open := strings.Index(stmt, "(")
	closeIdx := strings.LastIndex(stmt, ")")
	if open < 0 || closeIdx < open {
		return nil, fmt.Errorf("malformed CREATE TABLE statement: %q", truncate(stmt))
	}

	header := strings.Fields(stmt[:open])
	name := unquoteIdent(header[len(header)-1])

	table := &SnapshotTable{Name: name, CreateSQL: stmt}
	body := stmt[open+1 : closeIdx]
	for _, def := range splitTopLevel(body, ',') {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}
		fields := strings.Fields(def)
		if isConstraintClause(fields) {
			continue
		}
		table.Columns = append(table.Columns, unquoteIdent(fields[0]))
	}
	return table, nil
}

// isConstraintClause reports whether a CREATE TABLE body entry is a table
// constraint rather than a column definition. A quoted identifier always
// starts a column. Bare KEY/INDEX/UNIQUE/CHECK only open a constraint when
// what follows is an index name or a column list, not a column type, so a
// column that happens to be named key or check is kept.
func isConstraintClause(fields []string) bool {
	first := fields[0]
	if strings.HasPrefix(first, "`") || strings.HasPrefix(first, `"`) {
		return false
	}
	switch strings.ToUpper(first) {
	case "PRIMARY", "FOREIGN", "CONSTRAINT":
		return true
	case "CHECK":
		return len(fields) > 1 && strings.HasPrefix(fields[1], "(")
	case "UNIQUE", "KEY", "INDEX":
		if len(fields) < 2 {
			return true
		}
		if strings.EqualFold(fields[1], "KEY") || strings.HasPrefix(fields[1], "(") {
			return true
		}
		return len(fields) > 2 && strings.HasPrefix(fields[2], "(")
	}
	return false
}

func parseInsert(stmt string, snap *Snapshot, tables map[string]*SnapshotTable) error {
	rest := strings.TrimSpace(stmt[len("INSERT INTO"):])

	var name string
	var columns []string

	valuesIdx := indexWordOutsideString(rest, "VALUES")
	if valuesIdx < 0 {
		return fmt.Errorf("INSERT without VALUES clause: %q", truncate(stmt))
	}
	head := strings.TrimSpace(rest[:valuesIdx])

	if open := strings.Index(head, "("); open >= 0 {
		name = unquoteIdent(strings.TrimSpace(head[:open]))
		closeIdx := strings.LastIndex(head, ")")
		if closeIdx < open {
			return fmt.Errorf("malformed column list in INSERT: %q", truncate(stmt))
		}
		for _, c := range strings.Split(head[open+1:closeIdx], ",") {
			columns = append(columns, unquoteIdent(strings.TrimSpace(c)))
		}
	} else {
		name = unquoteIdent(head)
	}

	table, ok := tables[name]
	if !ok {
		// Data for a table the snapshot never created; keep it anyway so the
		// loader can report it against the registry.
		table = &SnapshotTable{Name: name}
		tables[name] = table
		snap.Tables = append(snap.Tables, table)
	}
	if len(columns) == 0 {
		columns = table.Columns
	}
	if table.Columns == nil {
		table.Columns = columns
	}

	tuples, err := parseTuples(rest[valuesIdx+len("VALUES"):])
	if err != nil {
		return fmt.Errorf("table %s: %w", name, err)
	}
	for _, tuple := range tuples {
		if len(columns) != 0 && len(tuple) != len(columns) {
			return fmt.Errorf("table %s: tuple has %d values for %d columns", name, len(tuple), len(columns))
		}
		aligned, err := alignTuple(table.Columns, columns, tuple)
		if err != nil {
			return fmt.Errorf("table %s: %w", name, err)
		}
		table.Rows = append(table.Rows, aligned)
	}
	return nil
}

// alignTuple reorders one INSERT tuple into the table's column order. Dumps
// may name their columns in any order or subset; rows are stored positionally
// against table.Columns, so a reordered list must never be kept as-is.
// Columns the INSERT leaves out stay nil.
func alignTuple(tableCols, insertCols []string, tuple []any) ([]any, error) {
	if slices.Equal(tableCols, insertCols) {
		return tuple, nil
	}
	pos := make(map[string]int, len(insertCols))
	for i, c := range insertCols {
		if !slices.Contains(tableCols, c) {
			return nil, fmt.Errorf("INSERT names column %q the table does not declare", c)
		}
		pos[c] = i
	}
	aligned := make([]any, len(tableCols))
	for i, c := range tableCols {
		if p, ok := pos[c]; ok && p < len(tuple) {
			aligned[i] = tuple[p]
		}
	}
	return aligned, nil
}

// parseTuples parses "(v, v, ...), (v, ...)" value lists.
func parseTuples(s string) ([][]any, error) {
	var tuples [][]any
	depth := 0
	inString := false
	start := -1

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\'':
			if inString && i+1 < len(s) && s[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		case ch == '\\' && inString:
			i++
		case ch == '(' && !inString:
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ch == ')' && !inString:
			depth--
			if depth == 0 {
				tuple, err := parseTuple(s[start:i])
				if err != nil {
					return nil, err
				}
				tuples = append(tuples, tuple)
			}
		}
	}
	if depth != 0 || inString {
		return nil, fmt.Errorf("unbalanced VALUES clause")
	}
	return tuples, nil
}

func parseTuple(s string) ([]any, error) {
	var tuple []any
	for _, raw := range splitTopLevel(s, ',') {
		v, err := parseValue(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		tuple = append(tuple, v)
	}
	return tuple, nil
}

func parseValue(s string) (any, error) {
	switch {
	case s == "" || strings.EqualFold(s, "NULL"):
		return nil, nil
	case strings.EqualFold(s, "TRUE"):
		return true, nil
	case strings.EqualFold(s, "FALSE"):
		return false, nil
	case s[0] == '\'':
		if len(s) < 2 || s[len(s)-1] != '\'' {
			return nil, fmt.Errorf("unterminated string literal %q", truncate(s))
		}
		body := s[1 : len(s)-1]
		body = strings.ReplaceAll(body, `''`, `'`)
		body = strings.ReplaceAll(body, `\'`, `'`)
		body = strings.ReplaceAll(body, `\\`, `\`)
		return body, nil
	default:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("unsupported literal %q", truncate(s))
	}
}

// splitTopLevel splits on a separator, ignoring separators inside parentheses
// or string literals.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	inString := false
	start := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\'':
			if inString && i+1 < len(s) && s[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		case ch == '\\' && inString:
			i++
		case ch == '(' && !inString:
			depth++
		case ch == ')' && !inString:
			depth--
		case ch == sep && depth == 0 && !inString:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func indexWordOutsideString(s, word string) int {
	upper := strings.ToUpper(s)
	inString := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\'' {
			inString = !inString
			continue
		}
		if ch == '\\' && inString {
			i++
			continue
		}
		if !inString && strings.HasPrefix(upper[i:], word) {
			return i
		}
	}
	return -1
}

func unquoteIdent(s string) string {
	return strings.Trim(s, "`\"")
}

func truncate(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
