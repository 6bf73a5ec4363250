package models

import "github.com/xcelerate/sitewatch/internal/site"

// Site is a catalog entry.
type Site struct {
	Name            string       `json:"name"`
	Bounds          [][2]float64 `json:"bounds"`
	BlueprintURL    string       `json:"blueprintUrl,omitempty"`
	ComplianceScore float64      `json:"complianceScore"`
	ProgressPhotos  []string     `json:"progressPhotos"`
}

// SiteList is the body of GET /v1/sites.
type SiteList struct {
	Items []Site `json:"items"`
}

// NewSite converts a catalog site.
func NewSite(s site.Site) Site {
	photos := s.ProgressPhotos
	if photos == nil {
		photos = []string{}
	}
	return Site{
		Name:            s.Name,
		Bounds:          s.Bounds.Pairs(),
		BlueprintURL:    s.BlueprintURL,
		ComplianceScore: s.ComplianceScore,
		ProgressPhotos:  photos,
	}
}

// SiteCheckRequest is the optional body of POST /v1/sites/{name}/check.
type SiteCheckRequest struct {
	SatelliteImageURL string `json:"satelliteImageUrl,omitempty"`
	Comments          string `json:"comments,omitempty"`
}
