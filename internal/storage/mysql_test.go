package storage

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ddlColumns pulls the column names out of a CREATE TABLE statement.
func ddlColumns(t *testing.T, ddl string) map[string]bool {
	t.Helper()

	open := strings.Index(ddl, "(")
	require.Greater(t, open, 0)
	body := ddl[open+1:]

	cols := make(map[string]bool)
	line := regexp.MustCompile(`^\s*([a-z_]+)\s`)
	for _, raw := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "INDEX") || strings.HasPrefix(trimmed, ")") {
			continue
		}
		if m := line.FindStringSubmatch(raw); m != nil {
			cols[m[1]] = true
		}
	}
	require.NotEmpty(t, cols)
	return cols
}

func TestTransactionColumnsMatchSchema(t *testing.T) {
	cols := ddlColumns(t, createTransactionsTable)

	for _, name := range strings.Split(transactionColumns, ",") {
		name = strings.TrimSpace(name)
		assert.True(t, cols[name], "column %q selected but not in the transactions DDL", name)
	}
}

func TestFinalizeLockQueryMatchesSchema(t *testing.T) {
	cols := ddlColumns(t, createTransactionsTable)

	where := finalizeLockQuery[strings.Index(finalizeLockQuery, "WHERE"):]
	ident := regexp.MustCompile(`([a-z_]+)\s*=`)
	matches := ident.FindAllStringSubmatch(where, -1)
	require.NotEmpty(t, matches)

	for _, m := range matches {
		assert.True(t, cols[m[1]], "predicate column %q not in the transactions DDL", m[1])
	}

	// The row must be lockable by the gateway id; the primary key column
	// is transaction_id, not id.
	assert.Contains(t, where, "transaction_id = ?")
	assert.False(t, cols["id"], "schema has no bare id column to match on")
}
