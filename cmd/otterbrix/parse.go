package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/otterbrix/kernel/pkg/catalog"
	"github.com/otterbrix/kernel/pkg/dispatcher"
	"github.com/otterbrix/kernel/pkg/types"
)

// This file implements the shell's statement surface (CREATE
// DATABASE/TABLE, CHECKPOINT, VACUUM) plus a pragmatic subset of
// INSERT/SELECT/UPDATE/DELETE so the REPL can exercise a dispatcher end
// to end. It is deliberately not a full SQL parser; that grammar belongs
// to a query planner layered on top of the logical-plan API.
var (
	reCreateDatabase = regexp.MustCompile(`(?i)^CREATE\s+DATABASE\s+(\w+)\s*;?$`)
	reDropDatabase   = regexp.MustCompile(`(?i)^DROP\s+DATABASE\s+(\w+)\s*;?$`)
	reCreateTable    = regexp.MustCompile(`(?i)^CREATE\s+TABLE\s+(\w+)\.(\w+)\s*\(([^)]*)\)\s*(?:WITH\s*\(\s*storage\s*=\s*'?(\w+)'?\s*\))?\s*;?$`)
	reDropTable      = regexp.MustCompile(`(?i)^DROP\s+TABLE\s+(\w+)\.(\w+)\s*;?$`)
	reCreateIndex    = regexp.MustCompile(`(?i)^CREATE\s+(UNIQUE\s+)?INDEX\s+(\w+)\s+ON\s+(\w+)\.(\w+)\s*\((\w+)\)\s*;?$`)
	reDropIndex      = regexp.MustCompile(`(?i)^DROP\s+INDEX\s+(\w+)\.(\w+)\.(\w+)\s*;?$`)
	reInsert         = regexp.MustCompile(`(?i)^INSERT\s+INTO\s+(\w+)\.(\w+)\s*\(([^)]*)\)\s*VALUES\s*(.+?)\s*;?$`)
	reSelect         = regexp.MustCompile(`(?i)^SELECT\s+\*\s+FROM\s+(\w+)\.(\w+)\s*(?:WHERE\s+(\w+)\s*(=|<>|<=|>=|<|>)\s*(\S+))?\s*(?:ORDER\s+BY\s+(\w+)(\s+DESC)?)?\s*(?:LIMIT\s+(\d+))?\s*;?$`)
	reDelete         = regexp.MustCompile(`(?i)^DELETE\s+FROM\s+(\w+)\.(\w+)\s*(?:WHERE\s+(\w+)\s*(=|<>|<=|>=|<|>)\s*(\S+))?\s*;?$`)
	reUpdate         = regexp.MustCompile(`(?i)^UPDATE\s+(\w+)\.(\w+)\s+SET\s+(\w+)\s*=\s*(\S+)\s*(?:WHERE\s+(\w+)\s*(=|<>|<=|>=|<|>)\s*(\S+))?\s*;?$`)
	reCheckpoint     = regexp.MustCompile(`(?i)^CHECKPOINT\s*(\w+)?(?:\.(\w+))?\s*;?$`)
	reVacuum         = regexp.MustCompile(`(?i)^VACUUM\s*(\w+)?(?:\.(\w+))?\s*;?$`)
)

// errUsage marks a malformed command, mapped to exit code 2.
type errUsage struct{ msg string }

func (e *errUsage) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &errUsage{msg: fmt.Sprintf(format, args...)}
}

// parseStatement turns one line of input into a dispatcher.Node, or
// returns an *errUsage if line matches nothing this REPL understands.
func parseStatement(line string) (dispatcher.Node, error) {
	line = strings.TrimSpace(line)

	if m := reCreateDatabase.FindStringSubmatch(line); m != nil {
		return dispatcher.CreateDatabase{Database: m[1]}, nil
	}
	if m := reDropDatabase.FindStringSubmatch(line); m != nil {
		return dispatcher.DropDatabase{Database: m[1]}, nil
	}
	if m := reCreateTable.FindStringSubmatch(line); m != nil {
		schema, defaults, err := parseColumnList(m[3])
		if err != nil {
			return nil, usageErrorf("CREATE TABLE: %v", err)
		}
		return dispatcher.CreateCollection{
			Database: m[1], Name: m[2], Schema: schema, Defaults: defaults,
			Disk: strings.EqualFold(m[4], "disk"),
		}, nil
	}
	if m := reDropTable.FindStringSubmatch(line); m != nil {
		return dispatcher.DropCollection{Database: m[1], Name: m[2]}, nil
	}
	if m := reCreateIndex.FindStringSubmatch(line); m != nil {
		return dispatcher.CreateIndex{
			Database: m[3], Collection: m[4], Name: m[2], Column: m[5],
			Unique: strings.TrimSpace(m[1]) != "",
		}, nil
	}
	if m := reDropIndex.FindStringSubmatch(line); m != nil {
		return dispatcher.DropIndex{Database: m[1], Collection: m[2], Name: m[3]}, nil
	}
	if m := reSelect.FindStringSubmatch(line); m != nil {
		sel := dispatcher.Select{Database: m[1], Collection: m[2]}
		if m[3] != "" {
			pred, err := buildPredicate(m[3], m[4], m[5])
			if err != nil {
				return nil, usageErrorf("SELECT: %v", err)
			}
			sel.Predicate = pred
		}
		if m[6] != "" {
			sel.OrderBy = []dispatcher.SortKey{{Column: m[6], Desc: strings.TrimSpace(m[7]) != ""}}
		}
		if m[8] != "" {
			n, _ := strconv.Atoi(m[8])
			sel.Limit = n
		}
		return sel, nil
	}
	if m := reDelete.FindStringSubmatch(line); m != nil {
		del := dispatcher.Delete{Database: m[1], Collection: m[2]}
		if m[3] != "" {
			pred, err := buildPredicate(m[3], m[4], m[5])
			if err != nil {
				return nil, usageErrorf("DELETE: %v", err)
			}
			del.Predicate = pred
		}
		return del, nil
	}
	if m := reUpdate.FindStringSubmatch(line); m != nil {
		val, err := parseLiteral(m[4])
		if err != nil {
			return nil, usageErrorf("UPDATE: %v", err)
		}
		upd := dispatcher.Update{
			Database: m[1], Collection: m[2],
			Set: map[string]types.LogicalValue{m[3]: val},
		}
		if m[5] != "" {
			pred, err := buildPredicate(m[5], m[6], m[7])
			if err != nil {
				return nil, usageErrorf("UPDATE: %v", err)
			}
			upd.Predicate = pred
		}
		return upd, nil
	}
	if m := reCheckpoint.FindStringSubmatch(line); m != nil {
		return dispatcher.Checkpoint{Database: m[1], Collection: m[2]}, nil
	}
	if m := reVacuum.FindStringSubmatch(line); m != nil {
		return dispatcher.Vacuum{Database: m[1], Collection: m[2]}, nil
	}

	return nil, usageErrorf("unrecognized statement: %s", line)
}

func buildPredicate(col, op, rawVal string) (*dispatcher.Predicate, error) {
	val, err := parseLiteral(rawVal)
	if err != nil {
		return nil, err
	}
	var dop dispatcher.Operator
	switch op {
	case "=":
		dop = dispatcher.OpEqual
	case "<>":
		dop = dispatcher.OpNotEqual
	case "<":
		dop = dispatcher.OpLessThan
	case "<=":
		dop = dispatcher.OpLessOrEqual
	case ">":
		dop = dispatcher.OpGreaterThan
	case ">=":
		dop = dispatcher.OpGreaterOrEqual
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
	return &dispatcher.Predicate{Column: col, Op: dop, Value: val}, nil
}

// parseColumnList parses "name type [NOT NULL] [DEFAULT literal]" column
// definitions, returning the schema plus any DEFAULT literals keyed by
// column name for catalog.CollectionMeta.Defaults.
func parseColumnList(raw string) (*types.Schema, map[string]types.LogicalValue, error) {
	schema := &types.Schema{}
	defaults := make(map[string]types.LogicalValue)
	for _, part := range splitTopLevel(raw) {
		fields := strings.Fields(part)
		if len(fields) < 2 {
			return nil, nil, fmt.Errorf("malformed column definition %q", part)
		}
		colType, err := parseColumnType(fields[1])
		if err != nil {
			return nil, nil, err
		}
		nullable := true
		for i := 2; i < len(fields); i++ {
			switch strings.ToUpper(fields[i]) {
			case "NOT":
				nullable = false
			case "DEFAULT":
				if i+1 >= len(fields) {
					return nil, nil, fmt.Errorf("DEFAULT with no value in %q", part)
				}
				dv, err := catalog.ParseDefaultLiteral(sqlLiteralToJSON(fields[i+1]), colType)
				if err != nil {
					return nil, nil, fmt.Errorf("DEFAULT value: %w", err)
				}
				defaults[fields[0]] = dv
				i++
			}
		}
		schema.Columns = append(schema.Columns, types.ColumnDef{
			Name: fields[0], Type: colType, Nullable: nullable,
		})
	}
	if len(schema.Columns) == 0 {
		return nil, nil, fmt.Errorf("no columns given")
	}
	return schema, defaults, nil
}

// sqlLiteralToJSON rewrites a SQL-quoted literal into the JSON form the
// catalog's default-value codec accepts: 'pending' becomes "pending",
// numbers and TRUE/FALSE/NULL pass through case-normalized.
func sqlLiteralToJSON(raw string) string {
	if len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'' {
		return strconv.Quote(raw[1 : len(raw)-1])
	}
	switch strings.ToUpper(raw) {
	case "NULL":
		return "null"
	case "TRUE":
		return "true"
	case "FALSE":
		return "false"
	}
	return raw
}

func parseColumnType(name string) (types.ColumnType, error) {
	switch strings.ToUpper(name) {
	case "BOOLEAN", "BOOL":
		return types.ColumnBoolean, nil
	case "BIGINT", "INT", "INTEGER":
		return types.ColumnBigint, nil
	case "DOUBLE", "FLOAT":
		return types.ColumnDouble, nil
	case "STRING", "VARCHAR", "TEXT":
		return types.ColumnString, nil
	default:
		return 0, fmt.Errorf("unknown column type %q", name)
	}
}

// splitTopLevel splits raw on commas that are not nested inside
// parentheses or quotes, the minimal amount of structure an argument
// list of plain scalars and one level of VALUES tuples needs.
func splitTopLevel(raw string) []string {
	var out []string
	depth := 0
	inQuote := false
	start := 0
	for i, r := range raw {
		switch r {
		case '\'':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote {
				depth--
			}
		case ',':
			if !inQuote && depth == 0 {
				out = append(out, strings.TrimSpace(raw[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(raw[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

func parseValueTuples(raw string, wantCols int) ([][]types.LogicalValue, error) {
	tuples := splitTopLevel(raw)
	rows := make([][]types.LogicalValue, 0, len(tuples))
	for _, tuple := range tuples {
		tuple = strings.TrimSpace(tuple)
		tuple = strings.TrimPrefix(tuple, "(")
		tuple = strings.TrimSuffix(tuple, ")")
		parts := splitTopLevel(tuple)
		if wantCols > 0 && len(parts) != wantCols {
			return nil, fmt.Errorf("expected %d values, got %d in %q", wantCols, len(parts), tuple)
		}
		row := make([]types.LogicalValue, len(parts))
		for i, p := range parts {
			v, err := parseLiteral(strings.TrimSpace(p))
			if err != nil {
				return nil, err
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// insertHeader is the unbound shape of one INSERT statement: a column
// list paired with raw value tuples, before NOT NULL/DEFAULT binding
// against the target collection's schema.
type insertHeader struct {
	Database   string
	Collection string
	Columns    []string
	Rows       [][]types.LogicalValue
}

// tryParseInsert recognizes an INSERT statement without binding it,
// since binding needs the target collection's schema (catalog access the
// pure parser in this file does not have).
func tryParseInsert(line string) (insertHeader, bool, error) {
	m := reInsert.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return insertHeader{}, false, nil
	}
	cols := splitTopLevel(m[3])
	rows, err := parseValueTuples(m[4], len(cols))
	if err != nil {
		return insertHeader{}, true, usageErrorf("INSERT: %v", err)
	}
	return insertHeader{Database: m[1], Collection: m[2], Columns: cols, Rows: rows}, true, nil
}

func parseLiteral(raw string) (types.LogicalValue, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(raw, "NULL"):
		return types.Null(), nil
	case strings.EqualFold(raw, "TRUE"):
		return types.Boolean(true), nil
	case strings.EqualFold(raw, "FALSE"):
		return types.Boolean(false), nil
	case len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'':
		return types.String(raw[1 : len(raw)-1]), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return types.Bigint(n), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return types.Double(f), nil
	}
	return types.LogicalValue{}, fmt.Errorf("unrecognized literal %q", raw)
}
