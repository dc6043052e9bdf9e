package market

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Len(t, r.All(), 6)

	us, ok := r.Get("us")
	require.True(t, ok)
	assert.Equal(t, "US", us.Code)
	assert.Equal(t, int64(500*1024), us.MinFileSize)

	_, ok = r.Get("JP")
	assert.False(t, ok)
}

func TestRegistry_Select(t *testing.T) {
	r := DefaultRegistry()

	all, err := r.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, "US", all[0].Code) // processing order preserved

	some, err := r.Select([]string{"de", " FR "})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "DE", some[0].Code)
	assert.Equal(t, "FR", some[1].Code)

	_, err = r.Select([]string{"XX"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown market")
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
markets:
  - code: US
    marketplace_id: 11111111-1111-1111-1111-111111111111
    min_file_size: 1024
  - code: MX
    marketplace_id: 22222222-2222-2222-2222-222222222222
    portal_code: MX
`), 0o644))

	r, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Len(t, r.All(), 2)

	us, ok := r.Get("US")
	require.True(t, ok)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", us.MarketplaceID)
	assert.Equal(t, "US", us.PortalCode) // defaulted from code

	mx, ok := r.Get("MX")
	require.True(t, ok)
	assert.Equal(t, "MX", mx.PortalCode)
}

func TestLoadRegistry_Invalid(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("markets: []\n"), 0o644))
	_, err := LoadRegistry(empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no markets")

	missing := filepath.Join(dir, "missing.yaml")
	require.NoError(t, os.WriteFile(missing, []byte("markets:\n  - code: US\n"), 0o644))
	_, err = LoadRegistry(missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing code or marketplace_id")

	_, err = LoadRegistry(filepath.Join(dir, "nope.yaml"))
	require.Error(t, err)
}
