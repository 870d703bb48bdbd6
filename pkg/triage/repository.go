package triage

import (
	"context"
)

// Repository persists reports.
//
// Every successful Save or Claim increments Version by exactly one and
// refreshes UpdatedAt. Updates are conditional on the caller's Version and
// fail with errors.ErrConflict when another writer got there first.
type Repository interface {
	// FindByID returns the report or errors.ErrNotFound.
	FindByID(ctx context.Context, id string) (*Report, error)

	// Save inserts r when r.ID is empty and updates it otherwise. The
	// returned report carries the stored ID, timestamps and version.
	Save(ctx context.Context, r *Report) (*Report, error)

	// Find returns the reports matching f.
	Find(ctx context.Context, f Filter, opts FindOptions) ([]*Report, error)

	// Count returns the number of reports matching f.
	Count(ctx context.Context, f Filter) (int, error)

	// DeleteMany removes the reports matching f and returns how many were removed.
	DeleteMany(ctx context.Context, f Filter) (int, error)

	// Claim atomically moves report id to Processing if its current status
	// is one of from. It returns errors.ErrInvalidState when the report is
	// not claimable and errors.ErrNotFound when it does not exist.
	Claim(ctx context.Context, id string, from ...ProcessingStatus) (*Report, error)

	// Stats aggregates counts over all reports.
	Stats(ctx context.Context) (*Stats, error)
}
