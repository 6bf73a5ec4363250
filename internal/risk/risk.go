// Package risk scans the surroundings of a site for facilities that are
// likely polluters and grades each category by how many were found.
package risk

import (
	"regexp"
	"sort"
)

// Category groups polluting facilities.
type Category string

const (
	CategoryEnergy   Category = "Energy"
	CategoryChemical Category = "Chemical"
	CategoryWaste    Category = "Waste"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryEnergy, CategoryChemical, CategoryWaste}

// Title returns the panel heading for the category.
func (c Category) Title() string {
	switch c {
	case CategoryEnergy:
		return "Energy Sector"
	case CategoryChemical:
		return "Heavy Industry"
	case CategoryWaste:
		return "Waste & Landfills"
	}
	return string(c)
}

// Description returns the environmental concern for the category.
func (c Category) Description() string {
	switch c {
	case CategoryEnergy:
		return "Potential High NOx/SOx & PM emissions. Coal/Thermal plants are major contributors."
	case CategoryChemical:
		return "Risk of effluent discharge (heavy metals, dyes) into local water bodies."
	case CategoryWaste:
		return "Potential for groundwater contamination via leachate runoff."
	}
	return ""
}

// Level grades a category by facility count.
type Level string

const (
	LevelLow      Level = "Low"
	LevelModerate Level = "Moderate"
	LevelHigh     Level = "High"
)

// LevelFor grades a facility count: none is Low, one or two is Moderate,
// three or more is High.
func LevelFor(count int) Level {
	switch {
	case count <= 0:
		return LevelLow
	case count < 3:
		return LevelModerate
	default:
		return LevelHigh
	}
}

// Rule assigns a category to elements whose tags match.
type Rule struct {
	Name     string
	Match    func(tags map[string]string) bool
	Category Category
}

var industrialPattern = regexp.MustCompile(`chemical|textile|tannery`)

func tagEquals(key, value string) func(map[string]string) bool {
	return func(tags map[string]string) bool {
		return tags[key] == value
	}
}

func heavyIndustry(tags map[string]string) bool {
	v, ok := tags["industrial"]
	return ok && industrialPattern.MatchString(v)
}

// Rules is the canonical classification order. The first match wins.
var Rules = []Rule{
	{Name: "power=plant", Match: tagEquals("power", "plant"), Category: CategoryEnergy},
	{Name: "industrial~chemical|textile|tannery", Match: heavyIndustry, Category: CategoryChemical},
	{Name: "man_made=works", Match: tagEquals("man_made", "works"), Category: CategoryChemical},
	{Name: "amenity=waste_disposal", Match: tagEquals("amenity", "waste_disposal"), Category: CategoryWaste},
	{Name: "landuse=landfill", Match: tagEquals("landuse", "landfill"), Category: CategoryWaste},
}

// Classify returns the category of the first matching rule.
func Classify(tags map[string]string) (Category, bool) {
	for _, r := range Rules {
		if r.Match(tags) {
			return r.Category, true
		}
	}
	return "", false
}

// Element is a raw map feature. Nodes carry Lat/Lon; ways carry Center.
type Element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat,omitempty"`
	Lon    *float64          `json:"lon,omitempty"`
	Center *LatLon           `json:"center,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// LatLon is an element center.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Position returns the element's coordinates, preferring its own over its center.
func (e Element) Position() (lat, lon float64, ok bool) {
	if e.Lat != nil && e.Lon != nil {
		return *e.Lat, *e.Lon, true
	}
	if e.Center != nil {
		return e.Center.Lat, e.Center.Lon, true
	}
	return 0, 0, false
}

// Facility is a classified element.
type Facility struct {
	ID       int64             `json:"id"`
	Lat      float64           `json:"lat"`
	Lon      float64           `json:"lon"`
	Tags     map[string]string `json:"tags"`
	Category Category          `json:"category"`
}

// Name returns the facility name or "Unnamed Facility".
func (f Facility) Name() string {
	if n := f.Tags["name"]; n != "" {
		return n
	}
	return "Unnamed Facility"
}

// Kind returns the most specific descriptive tag.
func (f Facility) Kind() string {
	for _, k := range []string{"fuel", "industrial", "man_made"} {
		if v := f.Tags[k]; v != "" {
			return v
		}
	}
	return "Facility"
}

// FacilitiesFrom classifies elements, dropping those without coordinates or
// without a matching rule, and repeated elements. Output is sorted by ID.
func FacilitiesFrom(elements []Element) []Facility {
	type elementKey struct {
		typ string
		id  int64
	}
	seen := make(map[elementKey]bool, len(elements))
	facilities := make([]Facility, 0, len(elements))
	for _, el := range elements {
		category, ok := Classify(el.Tags)
		if !ok {
			continue
		}
		lat, lon, ok := el.Position()
		if !ok {
			continue
		}
		key := elementKey{typ: el.Type, id: el.ID}
		if seen[key] {
			continue
		}
		seen[key] = true

		facilities = append(facilities, Facility{
			ID:       el.ID,
			Lat:      lat,
			Lon:      lon,
			Tags:     el.Tags,
			Category: category,
		})
	}
	sort.SliceStable(facilities, func(i, j int) bool { return facilities[i].ID < facilities[j].ID })
	return facilities
}
