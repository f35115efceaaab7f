// Package sqlstore implements the resource event store on database/sql. The
// sqlite and postgres packages supply a Dialect and an opened *sql.DB.
package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between supported engines.
type Dialect struct {
	Name string
	// Numbered rewrites `?` placeholders to `$1..$n`.
	Numbered bool
	// ReadOnlyTx requests sql.TxOptions{ReadOnly: true} for View sessions.
	ReadOnlyTx bool
	// ContainsFunc renders a case-sensitive "haystack contains needle" predicate.
	ContainsFunc func(haystack, needle string) string
	// FoldFunc renders expr lower-cased the way strings.ToLower does. LOWER is
	// used when nil.
	FoldFunc func(expr string) string
	// SyncSequence, when set, returns a statement realigning the id sequence of
	// table after an insert with an explicit id.
	SyncSequence func(table string) string
	// Schema lists the DDL statements applied by Migrate.
	Schema []string
}

func (d Dialect) fold(expr string) string {
	if d.FoldFunc == nil {
		return "LOWER(" + expr + ")"
	}
	return d.FoldFunc(expr)
}

// Rebind rewrites `?` placeholders for dialects using numbered parameters.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
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

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// maxBatch bounds the number of ids bound into one IN list.
const maxBatch = 500

func chunkIDs(ids []int64) [][]int64 {
	var chunks [][]int64
	for len(ids) > maxBatch {
		chunks = append(chunks, ids[:maxBatch])
		ids = ids[maxBatch:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
