package store

import (
	"database/sql"
	"io/fs"
	"strconv"
	"strings"
	"time"
)

// dialect captures the differences between the SQLite and Postgres backends:
// placeholder syntax, how instants are written and compared, and how a unique
// index violation surfaces.
type dialect interface {
	name() string
	rebind(query string) string
	// timeArg encodes an instant as a query parameter.
	timeArg(t time.Time) any
	// ts wraps a column or placeholder so comparisons and ordering operate on
	// instants rather than on the stored literal.
	ts(expr string) string
	// utcDate renders a timestamp column as a YYYY-MM-DD string in UTC.
	utcDate(expr string) string
	isUniqueViolation(err error) bool
	migrationsTable() string
	migrations() (fs.FS, string)
	snapshotOptions() *sql.TxOptions
}

// rebindDollar rewrites ? placeholders to $1..$n.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
