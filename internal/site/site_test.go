package site_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/site"
)

const catalogYAML = `
sites:
  - name: Tilda
    blueprint_url: https://assets.example.com/tilda.png
    compliance_score: 72.5
    progress_photos: [https://assets.example.com/tilda-1.png]
    bounds:
      - [21.493681, 81.803922]
      - [21.494206, 81.804694]
      - [21.493024, 81.804740]
  - name: Rikhi
    blueprint_url: https://assets.example.com/rikhi.png
    bounds:
      - [22.981199, 82.909488]
      - [22.981190, 82.911068]
      - [22.977738, 82.909400]
`

func TestParse(t *testing.T) {
	c, err := site.Parse([]byte(catalogYAML))
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	all := c.All()
	assert.Equal(t, "Rikhi", all[0].Name)
	assert.Equal(t, "Tilda", all[1].Name)

	tilda := all[1]
	assert.Equal(t, 72.5, tilda.ComplianceScore)
	assert.Equal(t, "https://assets.example.com/tilda.png", tilda.BlueprintURL)
	assert.Equal(t, []string{"https://assets.example.com/tilda-1.png"}, tilda.ProgressPhotos)
	require.Len(t, tilda.Bounds, 3)
	assert.Equal(t, geometry.Point{Lat: 21.493681, Lng: 81.803922}, tilda.Bounds[0])
}

func TestParse_InvalidBounds(t *testing.T) {
	_, err := site.Parse([]byte("sites:\n  - name: Broken\n    bounds: [[95, 10], [20, 10]]\n"))
	assert.ErrorIs(t, err, geometry.ErrInvalidGeometry)

	_, err = site.Parse([]byte("sites:\n  - bounds: [[1, 1], [2, 2]]\n"))
	assert.Error(t, err)

	_, err = site.Parse([]byte("sites: {"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))

	c, err := site.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	_, err = site.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_BundledCatalog(t *testing.T) {
	c, err := site.Load(filepath.Join("..", "..", "configs", "sites.yaml"))
	require.NoError(t, err)
	assert.Positive(t, c.Len())
}

func TestCatalog_Match(t *testing.T) {
	c, err := site.Parse([]byte(catalogYAML))
	require.NoError(t, err)

	s, ok := c.Match("Tilda", nil)
	require.True(t, ok)
	assert.Equal(t, "Tilda", s.Name)

	// Name wins over geometry.
	s, ok = c.Match("Rikhi", geometry.Polygon{{Lat: 21.493681, Lng: 81.803922}})
	require.True(t, ok)
	assert.Equal(t, "Rikhi", s.Name)

	s, ok = c.Match("Unknown Plot", geometry.Polygon{{Lat: 22.98125, Lng: 82.90945}, {Lat: 1, Lng: 1}})
	require.True(t, ok, "first vertex within tolerance")
	assert.Equal(t, "Rikhi", s.Name)

	_, ok = c.Match("Unknown Plot", geometry.Polygon{{Lat: 22.9814, Lng: 82.909488}})
	assert.False(t, ok, "0.0002 degrees apart")

	_, ok = c.Match("", nil)
	assert.False(t, ok)
}

func TestCatalog_Get(t *testing.T) {
	c, err := site.NewCatalog(nil)
	require.NoError(t, err)

	_, err = c.Get("Tilda")
	assert.ErrorIs(t, err, site.ErrNotFound)
}
