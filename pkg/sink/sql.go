package sink

import (
	"strconv"
	"strings"

	"github.com/ajitpratap0/adsync/pkg/models"
)

// Dialect renders the statements of the SQL sinks
type Dialect int

const (
	Postgres Dialect = iota
	MySQL
	Snowflake
)

// maxParams stays under the bind parameter limit of every dialect
const maxParams = 60000

// maxRowsPerStatement bounds the VALUES list of one statement
const maxRowsPerStatement = 1000

func (d Dialect) String() string {
	switch d {
	case MySQL:
		return "mysql"
	case Snowflake:
		return "snowflake"
	default:
		return "postgres"
	}
}

// Quote quotes an identifier
func (d Dialect) Quote(name string) string {
	if d == MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedName quotes schema.table; an empty schema is omitted
func (d Dialect) QualifiedName(schema, table string) string {
	if schema == "" {
		return d.Quote(table)
	}
	return d.Quote(schema) + "." + d.Quote(table)
}

// Placeholder renders the n-th (1-based) bind parameter
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// ColumnType maps a column type to SQL. MySQL cannot index TEXT, so key
// columns get a bounded VARCHAR there.
func (d Dialect) ColumnType(c Column, key bool) string {
	switch d {
	case MySQL:
		switch c.Type {
		case TypeInteger:
			return "BIGINT"
		case TypeNumber:
			return "DOUBLE"
		case TypeBoolean:
			return "BOOLEAN"
		case TypeObject, TypeArray:
			return "JSON"
		case TypeTimestamp:
			return "DATETIME(6)"
		default:
			if key {
				return "VARCHAR(255)"
			}
			return "TEXT"
		}
	case Snowflake:
		switch c.Type {
		case TypeInteger:
			return "NUMBER(38,0)"
		case TypeNumber:
			return "FLOAT"
		case TypeBoolean:
			return "BOOLEAN"
		case TypeObject, TypeArray:
			return "VARIANT"
		case TypeTimestamp:
			return "TIMESTAMP_TZ"
		default:
			return "VARCHAR"
		}
	default:
		switch c.Type {
		case TypeInteger:
			return "BIGINT"
		case TypeNumber:
			return "DOUBLE PRECISION"
		case TypeBoolean:
			return "BOOLEAN"
		case TypeObject, TypeArray:
			return "JSONB"
		case TypeTimestamp:
			return "TIMESTAMPTZ"
		default:
			return "TEXT"
		}
	}
}

// CreateTable renders CREATE TABLE IF NOT EXISTS with the layout's key as
// primary key
func (d Dialect) CreateTable(table string, l Layout) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range l.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Quote(c.Name))
		b.WriteString(" ")
		b.WriteString(d.ColumnType(c, l.IsKey(c.Name)))
		if l.IsKey(c.Name) {
			b.WriteString(" NOT NULL")
		}
	}
	if len(l.Key) > 0 {
		b.WriteString(", PRIMARY KEY (")
		b.WriteString(d.quoteList(l.Key))
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

// AddColumn renders ALTER TABLE ADD COLUMN. MySQL has no IF NOT EXISTS
// form, so callers check the existing columns first.
func (d Dialect) AddColumn(table string, c Column) string {
	ifNotExists := " IF NOT EXISTS"
	if d == MySQL {
		ifNotExists = ""
	}
	return "ALTER TABLE " + table + " ADD COLUMN" + ifNotExists + " " + d.Quote(c.Name) + " " + d.ColumnType(c, false)
}

// DeleteCustomer renders the statement clearing one customer's rows
func (d Dialect) DeleteCustomer(table string) string {
	return "DELETE FROM " + table + " WHERE " + d.Quote(CustomerColumn) + " = " + d.Placeholder(1)
}

// RowsPerStatement returns how many rows fit in one statement
func (d Dialect) RowsPerStatement(l Layout) int {
	n := maxParams / max(len(l.Columns), 1)
	return max(1, min(n, maxRowsPerStatement))
}

// Insert renders a multi-row INSERT for rows rows
func (d Dialect) Insert(table string, l Layout, rows int) string {
	if d == Snowflake {
		return "INSERT INTO " + table + " (" + d.quoteList(l.Names()) + ") " + d.selectValues(l, rows)
	}
	return "INSERT INTO " + table + " (" + d.quoteList(l.Names()) + ") VALUES " + d.valuesList(len(l.Columns), rows)
}

// Upsert renders a multi-row insert that updates rows whose key exists.
// Without a key it is a plain Insert. The rows of one statement must have
// distinct keys; see Dedupe.
func (d Dialect) Upsert(table string, l Layout, rows int) string {
	if len(l.Key) == 0 {
		return d.Insert(table, l, rows)
	}
	switch d {
	case MySQL:
		sets := make([]string, 0, len(l.Columns))
		for _, c := range l.NonKey() {
			q := d.Quote(c.Name)
			sets = append(sets, q+" = VALUES("+q+")")
		}
		return d.Insert(table, l, rows) + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	case Snowflake:
		return d.merge(table, l, rows)
	default:
		sets := make([]string, 0, len(l.Columns))
		for _, c := range l.NonKey() {
			q := d.Quote(c.Name)
			sets = append(sets, q+" = EXCLUDED."+q)
		}
		return d.Insert(table, l, rows) + " ON CONFLICT (" + d.quoteList(l.Key) + ") DO UPDATE SET " + strings.Join(sets, ", ")
	}
}

// merge renders a Snowflake MERGE from a VALUES source
func (d Dialect) merge(table string, l Layout, rows int) string {
	on := make([]string, len(l.Key))
	for i, k := range l.Key {
		q := d.Quote(k)
		on[i] = "t." + q + " = s." + q
	}
	var sets []string
	for _, c := range l.NonKey() {
		q := d.Quote(c.Name)
		sets = append(sets, "t."+q+" = s."+q)
	}
	source := make([]string, len(l.Columns))
	for i, c := range l.Columns {
		source[i] = "s." + d.Quote(c.Name)
	}

	var b strings.Builder
	b.WriteString("MERGE INTO " + table + " t USING (" + d.selectValues(l, rows) + ") s ON ")
	b.WriteString(strings.Join(on, " AND "))
	if len(sets) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET " + strings.Join(sets, ", "))
	}
	b.WriteString(" WHEN NOT MATCHED THEN INSERT (" + d.quoteList(l.Names()) + ") VALUES (" + strings.Join(source, ", ") + ")")
	return b.String()
}

// selectValues renders SELECT column1 AS a, ... FROM VALUES (...). JSON
// columns go through PARSE_JSON since VARIANT cannot be bound directly.
func (d Dialect) selectValues(l Layout, rows int) string {
	cols := make([]string, len(l.Columns))
	for i, c := range l.Columns {
		src := "column" + strconv.Itoa(i+1)
		if c.Type == TypeObject || c.Type == TypeArray {
			src = "PARSE_JSON(" + src + ")"
		}
		cols[i] = src + " AS " + d.Quote(c.Name)
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM VALUES " + d.valuesList(len(l.Columns), rows)
}

func (d Dialect) valuesList(cols, rows int) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteString(")")
	}
	return b.String()
}

func (d Dialect) quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.Quote(n)
	}
	return strings.Join(quoted, ", ")
}

// Dedupe keeps the last record of each key, in first-seen order. Records
// without a merge key are returned unchanged.
func Dedupe(records []models.Record) []models.Record {
	if len(records) == 0 || len(records[0].MergeKey) == 0 {
		return records
	}
	index := make(map[string]int, len(records))
	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}

// Args flattens the rows of records into bind arguments
func (l Layout) Args(records []models.Record) []any {
	args := make([]any, 0, len(records)*len(l.Columns))
	for _, r := range records {
		args = append(args, l.Values(r)...)
	}
	return args
}
