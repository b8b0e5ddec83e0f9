package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casedocs/internal/blob"
)

type locationSet map[string]bool

func (s locationSet) LocationExists(_ context.Context, bucket, objectPath string) (bool, error) {
	return s[bucket+"/"+objectPath], nil
}

func TestSweeperRemovesOldOrphansOnly(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	blobs := blob.NewMemoryStore()

	blobs.Clock = func() time.Time { return now.Add(-3 * time.Hour) }
	require.NoError(t, blobs.Put(ctx, "matter-files", "matters/m1/d1/kept.pdf", []byte("a"), "application/pdf"))
	require.NoError(t, blobs.Put(ctx, "matter-files", "matters/m1/d2/orphan.pdf", []byte("b"), "application/pdf"))
	require.NoError(t, blobs.Put(ctx, "matter-files", "exports/report.pdf", []byte("c"), "application/pdf"))
	blobs.Clock = func() time.Time { return now.Add(-time.Minute) }
	require.NoError(t, blobs.Put(ctx, "matter-files", "matters/m1/d3/inflight.pdf", []byte("d"), "application/pdf"))

	refs := locationSet{"matter-files/matters/m1/d1/kept.pdf": true}
	s := NewSweeper(refs, blobs, "matter-files", time.Hour)
	s.now = func() time.Time { return now }

	removed, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = blobs.Get(ctx, "matter-files", "matters/m1/d2/orphan.pdf")
	assert.ErrorIs(t, err, blob.ErrNotFound)
	for _, p := range []string{"matters/m1/d1/kept.pdf", "matters/m1/d3/inflight.pdf", "exports/report.pdf"} {
		_, err := blobs.Get(ctx, "matter-files", p)
		assert.NoError(t, err, p)
	}
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	blobs := blob.NewMemoryStore()
	s := NewSweeper(locationSet{}, blobs, "matter-files", time.Hour)
	assert.NoError(t, s.Run(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 5*time.Millisecond) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
