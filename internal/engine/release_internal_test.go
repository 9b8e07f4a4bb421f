package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lrs/internal/db"
	"lrs/internal/migrate"
)

// Every RESTRICT foreign key onto a shared entity table is a usage role and
// every usage role is such a foreign key.
func TestUsageRolesMatchSchema(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))

	kinds := map[string]entityKind{
		"agents":         kindAgent,
		"verbs":          kindVerb,
		"activities":     kindActivity,
		"substatements":  kindSubStatement,
		"statement_refs": kindStatementRef,
	}
	tables, err := conn.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`)
	require.NoError(t, err)
	var names []string
	for tables.Next() {
		var name string
		require.NoError(t, tables.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, tables.Close())

	fromSchema := map[string]bool{}
	for _, table := range names {
		rows, err := conn.Query(fmt.Sprintf(`SELECT "table", "from", on_delete FROM pragma_foreign_key_list('%s')`, table))
		require.NoError(t, err)
		for rows.Next() {
			var parent, column, onDelete string
			require.NoError(t, rows.Scan(&parent, &column, &onDelete))
			kind, shared := kinds[parent]
			if !shared || onDelete != "RESTRICT" {
				continue
			}
			fromSchema[fmt.Sprintf("%s %s.%s", kind, table, column)] = true
		}
		require.NoError(t, rows.Close())
	}

	fromRoles := map[string]bool{}
	for kind, roles := range usageRoles {
		for _, role := range roles {
			fromRoles[fmt.Sprintf("%s %s.%s", kind, role.Table, role.Column)] = true
		}
	}
	assert.Equal(t, fromSchema, fromRoles)
}
