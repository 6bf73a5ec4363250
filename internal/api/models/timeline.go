package models

import "github.com/xcelerate/sitewatch/internal/timeline"

// TimelineRequest is the body of POST /v1/timeline. A missing polygon yields
// a timeline made entirely of the fallback image.
type TimelineRequest struct {
	Polygon     *PolygonInput `json:"polygon,omitempty"`
	Year        int           `json:"year"`
	FallbackURL string        `json:"fallbackUrl"`
}

// TimelineEntry is one month of a timeline.
type TimelineEntry struct {
	Month           int    `json:"month"`
	DateLabel       string `json:"dateLabel"`
	PhaseLabel      string `json:"phaseLabel"`
	PhaseColorClass string `json:"phaseColorClass"`
	ImageURL        string `json:"imageUrl"`
	Live            bool   `json:"live"`
}

// TimelineResponse holds twelve entries, January first.
type TimelineResponse struct {
	Year    int             `json:"year"`
	Entries []TimelineEntry `json:"entries"`
}

// NewTimelineResponse converts generator output.
func NewTimelineResponse(year int, entries []timeline.Entry) TimelineResponse {
	out := TimelineResponse{Year: year, Entries: make([]TimelineEntry, len(entries))}
	for i, e := range entries {
		out.Entries[i] = TimelineEntry{
			Month:           int(e.Month),
			DateLabel:       e.DateLabel,
			PhaseLabel:      e.PhaseLabel,
			PhaseColorClass: e.PhaseColorClass,
			ImageURL:        e.ImageURL,
			Live:            e.Live,
		}
	}
	return out
}
