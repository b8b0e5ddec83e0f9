package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"casedocs/internal/blob"
)

const DefaultOrphanGrace = time.Hour

// LocationIndex answers whether a blob is referenced by a catalog row.
type LocationIndex interface {
	LocationExists(ctx context.Context, bucket, objectPath string) (bool, error)
}

// Sweeper removes document blobs that no catalog row references, which happens when
// the compensating delete after a failed insert also fails.
type Sweeper struct {
	catalog LocationIndex
	blobs   blob.Store
	bucket  string
	grace   time.Duration
	now     func() time.Time
}

func NewSweeper(cat LocationIndex, blobs blob.Store, bucket string, grace time.Duration) *Sweeper {
	if grace <= 0 {
		grace = DefaultOrphanGrace
	}
	return &Sweeper{catalog: cat, blobs: blobs, bucket: bucket, grace: grace, now: time.Now}
}

// Sweep deletes orphans older than the grace period and returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	objects, err := s.blobs.List(ctx, s.bucket, "matters/")
	if err != nil {
		return 0, fmt.Errorf("list blobs: %w", err)
	}
	cutoff := s.now().Add(-s.grace)
	removed := 0
	for _, obj := range objects {
		if obj.ModTime.After(cutoff) {
			// may belong to an upload whose catalog insert has not committed yet
			continue
		}
		ok, err := s.catalog.LocationExists(ctx, obj.Bucket, obj.Path)
		if err != nil {
			return removed, err
		}
		if ok {
			continue
		}
		if err := s.blobs.Delete(ctx, obj.Bucket, obj.Path); err != nil {
			log.Printf("sweeper: delete orphan %s/%s: %v", obj.Bucket, obj.Path, err)
			continue
		}
		log.Printf("sweeper: removed orphan %s/%s", obj.Bucket, obj.Path)
		removed++
	}
	return removed, nil
}

// Run sweeps every interval until ctx is done. A non-positive interval disables it.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Printf("sweeper: %v", err)
			}
		}
	}
}
