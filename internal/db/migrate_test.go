package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_SortsByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"010_late.sql":     {Data: []byte("SELECT 10;")},
		"002_second.sql":   {Data: []byte("SELECT 2;")},
		"001_first.sql":    {Data: []byte("SELECT 1;")},
		"README.md":        {Data: []byte("docs")},
		"notes.sql":        {Data: []byte("SELECT 0;")},
		"abc_skipped.sql":  {Data: []byte("SELECT 0;")},
		"nested/003_x.sql": {Data: []byte("SELECT 3;")},
	}

	migrations, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "001_first.sql", migrations[0].Name)
	assert.Equal(t, "SELECT 1;", migrations[0].SQL)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, 10, migrations[2].Version)
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql":  {Data: []byte("SELECT 1;")},
		"0001_b.sql": {Data: []byte("SELECT 1;")},
	}

	_, err := LoadMigrations(fsys)
	assert.Error(t, err)
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := LoadMigrations(Migrations())
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	for i, mig := range migrations {
		assert.Equal(t, i+1, mig.Version)
	}
	assert.Contains(t, migrations[0].SQL, "CREATE TABLE IF NOT EXISTS slots")
	assert.Contains(t, migrations[1].SQL, "WHERE status <> 'cancelled'")
	assert.Contains(t, migrations[2].SQL, "event_id")
}
