package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateWritesTextfile(t *testing.T) {
	var dir = filepath.Join(t.TempDir(), "textfile")

	m, err := New(Config{Dir: dir, ChainID: "56", StreamID: "blocks"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "56_blocks.prom"), m.Path())

	require.NoError(t, m.Update(119))
	require.NoError(t, m.Update(149))

	content, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	assert.Contains(t, string(content), "# TYPE last_block_synced gauge")
	assert.Contains(t, string(content), `last_block_synced{chain_id="56",process="56_blocks"} 149`)
	assert.NotContains(t, string(content), " 119")
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
