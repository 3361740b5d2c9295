package repository

import (
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	guardedBlock = regexp.MustCompile(`(?s)DO \$\$.*?\$\$;`)
	createStmt   = regexp.MustCompile(`(?m)^CREATE (UNIQUE )?(TABLE|INDEX)\b.*$`)
)

func TestMigrationCanBeAppliedTwice(t *testing.T) {
	raw, err := os.ReadFile("../../migrations/0001_behavior_casework.sql")
	require.NoError(t, err)
	schema := string(raw)

	for _, block := range guardedBlock.FindAllString(schema, -1) {
		require.Contains(t, block, "IF NOT EXISTS")
	}
	unguarded := guardedBlock.ReplaceAllString(schema, "")
	require.NotContains(t, unguarded, "ADD CONSTRAINT")

	statements := createStmt.FindAllString(unguarded, -1)
	require.NotEmpty(t, statements)
	for _, stmt := range statements {
		require.True(t, strings.Contains(stmt, "IF NOT EXISTS"), stmt)
	}
}
