// Package site holds the catalog of monitored industrial plots.
package site

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/xcelerate/sitewatch/internal/geometry"
)

// VertexMatchTolerance is the maximum per-axis distance, in degrees, between
// first vertices for two boundaries to be treated as the same plot.
const VertexMatchTolerance = 0.0001

// ErrNotFound is returned when no site matches.
var ErrNotFound = errors.New("site not found")

// Site is a monitored plot with its approved blueprint.
type Site struct {
	Name            string           `yaml:"name" json:"name"`
	Bounds          geometry.Polygon `yaml:"-" json:"-"`
	BlueprintURL    string           `yaml:"blueprint_url" json:"blueprint_url"`
	ComplianceScore float64          `yaml:"compliance_score" json:"compliance_score"`
	ProgressPhotos  []string         `yaml:"progress_photos" json:"progress_photos"`
}

type siteFile struct {
	Sites []struct {
		Site   `yaml:",inline"`
		Bounds [][2]float64 `yaml:"bounds"`
	} `yaml:"sites"`
}

// Catalog is an immutable set of sites.
type Catalog struct {
	sites []Site
}

// NewCatalog builds a catalog from sites. Every site must have a valid boundary.
func NewCatalog(sites []Site) (*Catalog, error) {
	for _, s := range sites {
		if s.Name == "" {
			return nil, errors.New("site without a name")
		}
		if _, err := geometry.BoundingBoxOf(s.Bounds); err != nil {
			return nil, fmt.Errorf("site %q: %w", s.Name, err)
		}
	}
	return &Catalog{sites: append([]Site(nil), sites...)}, nil
}

// Parse reads a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f siteFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse site catalog: %w", err)
	}

	sites := make([]Site, 0, len(f.Sites))
	for _, entry := range f.Sites {
		s := entry.Site
		s.Bounds = geometry.PolygonFromPairs(entry.Bounds)
		sites = append(sites, s)
	}
	return NewCatalog(sites)
}

// Load reads a YAML catalog from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site catalog: %w", err)
	}
	return Parse(data)
}

// All returns the sites sorted by name.
func (c *Catalog) All() []Site {
	out := append([]Site(nil), c.sites...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of sites.
func (c *Catalog) Len() int {
	return len(c.sites)
}

// Get finds a site by exact name.
func (c *Catalog) Get(name string) (Site, error) {
	for _, s := range c.sites {
		if s.Name == name {
			return s, nil
		}
	}
	return Site{}, ErrNotFound
}

// Match finds the site a report belongs to. An exact name match wins;
// otherwise the first site whose first vertex lies within
// VertexMatchTolerance of the first vertex of bounds.
func (c *Catalog) Match(name string, bounds geometry.Polygon) (Site, bool) {
	if name != "" {
		if s, err := c.Get(name); err == nil {
			return s, true
		}
	}
	if len(bounds) == 0 {
		return Site{}, false
	}

	first := bounds[0]
	for _, s := range c.sites {
		v := s.Bounds[0]
		if math.Abs(v.Lat-first.Lat) < VertexMatchTolerance && math.Abs(v.Lng-first.Lng) < VertexMatchTolerance {
			return s, true
		}
	}
	return Site{}, false
}
