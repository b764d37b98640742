package robot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
robots:
  - id: robot-1
    name: Trend Follower
    symbol: EURUSD
    timeframe: M15
    parameters:
      fast_ma: 9
      slow_ma: 21
    is_active: true
  - id: robot-2
    name: Retired Bot
    symbol: GBPUSD
    timeframe: M1
    is_active: false
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "robots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	entries, err := LoadCatalog(writeCatalog(t, catalogYAML))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "robot-1", entries[0].ID)
	assert.Equal(t, "M15", entries[0].Timeframe)
	assert.True(t, entries[0].IsActive)
	assert.False(t, entries[1].IsActive)
}

func TestLoadCatalogMissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSyncCatalogToDB(t *testing.T) {
	database := newTestDB(t)
	entries, err := LoadCatalog(writeCatalog(t, catalogYAML))
	require.NoError(t, err)

	require.NoError(t, SyncCatalogToDB(database.DB, entries))

	// Re-syncing is an upsert, not a duplicate insert.
	entries[0].Name = "Trend Follower v2"
	require.NoError(t, SyncCatalogToDB(database.DB, entries))

	robots, err := database.ListRobots(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, robots, 2)

	active, err := database.ListRobots(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Trend Follower v2", active[0].Name)

	r, err := database.GetRobot(context.Background(), "robot-1")
	require.NoError(t, err)
	assert.Contains(t, r.Parameters, "fast_ma")
}
