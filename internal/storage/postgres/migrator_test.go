package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqlFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func TestLoadMigrationsFromFS_PairsAndSorts(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_tables.up.sql":   sqlFile("CREATE TABLE tables (id TEXT);"),
		"sql/migrations/0002_tables.down.sql": sqlFile("DROP TABLE tables;"),
		"sql/migrations/0001_orders.up.sql":   sqlFile("CREATE TABLE orders (id TEXT);"),
		"sql/migrations/0001_orders.down.sql": sqlFile("DROP TABLE orders;"),
	}

	got, err := loadMigrationsFromFS(fsys)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, migration{
		Version: 1,
		Name:    "orders",
		Up:      "CREATE TABLE orders (id TEXT);",
		Down:    "DROP TABLE orders;",
	}, got[0])
	assert.Equal(t, int64(2), got[1].Version)
	assert.Equal(t, "tables", got[1].Name)
}

func TestLoadMigrationsFromFS_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr string
	}{
		{
			name:    "no files",
			fsys:    fstest.MapFS{},
			wantErr: "no migration files found",
		},
		{
			name: "missing down",
			fsys: fstest.MapFS{
				"sql/migrations/0001_orders.up.sql": sqlFile("SELECT 1;"),
			},
			wantErr: "both up and down",
		},
		{
			name: "bad file name",
			fsys: fstest.MapFS{
				"sql/migrations/orders.sql": sqlFile("SELECT 1;"),
			},
			wantErr: "invalid migration file name",
		},
		{
			name: "blank body",
			fsys: fstest.MapFS{
				"sql/migrations/0001_orders.up.sql":   sqlFile(" \n\t"),
				"sql/migrations/0001_orders.down.sql": sqlFile("DROP TABLE orders;"),
			},
			wantErr: "migration file is empty",
		},
		{
			name: "name mismatch",
			fsys: fstest.MapFS{
				"sql/migrations/0001_orders.up.sql":   sqlFile("SELECT 1;"),
				"sql/migrations/0001_others.down.sql": sqlFile("SELECT 1;"),
			},
			wantErr: "name mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := loadMigrationsFromFS(tt.fsys)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMigrationsFromFS_EmbeddedSchema(t *testing.T) {
	t.Parallel()

	got, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)

	names := make([]string, 0, len(got))
	for i, m := range got {
		assert.Equal(t, int64(i+1), m.Version)
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"create_orders", "create_order_history", "create_outbox_messages"}, names)
}
