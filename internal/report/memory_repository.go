package report

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xcelerate/sitewatch/internal/compliance"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and local runs without a database.
type InMemoryRepository struct {
	mu      sync.RWMutex
	reports map[string]*Report
}

// NewInMemoryRepository creates a new in-memory report repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		reports: make(map[string]*Report),
	}
}

func clone(r *Report) *Report {
	cpy := *r
	cpy.Bounds = append([][2]float64(nil), r.Bounds...)
	cpy.Analysis.Categories = append([]compliance.CategoryRow(nil), r.Analysis.Categories...)
	return &cpy
}

// Get retrieves a report by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rep, ok := r.reports[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	return clone(rep), nil
}

// List retrieves reports newest first. The cursor is the ID of the last
// report of the previous page.
func (r *InMemoryRepository) List(_ context.Context, opts ListOptions) (*ListResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []*Report
	for _, rep := range r.reports {
		if opts.PlotID != "" && rep.PlotID != opts.PlotID {
			continue
		}
		if opts.Status != "" && rep.Status != opts.Status {
			continue
		}
		all = append(all, clone(rep))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	if opts.Cursor != "" {
		for i, rep := range all {
			if rep.ID == opts.Cursor {
				all = all[i+1:]
				break
			}
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	result := &ListResult{Items: all}
	if len(all) > limit {
		result.Items = all[:limit]
		result.NextCursor = all[limit-1].ID
	}
	return result, nil
}

// Create stores a new report.
func (r *InMemoryRepository) Create(_ context.Context, rep *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reports[rep.ID] = clone(rep)
	return nil
}

// UpdateStatus changes the status and comments of a report.
func (r *InMemoryRepository) UpdateStatus(_ context.Context, id string, status compliance.Status, comments string, updatedAt time.Time) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep, ok := r.reports[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	rep.Status = status
	rep.Comments = comments
	rep.UpdatedAt = updatedAt
	return clone(rep), nil
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
