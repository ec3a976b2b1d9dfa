package transform

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helix-aero/navstack/internal/geom"
)

// scriptedSource returns queued poses, then repeats the last entry. A nil
// entry produces a lookup error.
type scriptedSource struct {
	mu    sync.Mutex
	queue []*geom.Pose
}

func (s *scriptedSource) LookupPose(ctx context.Context) (geom.Pose, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return geom.Pose{}, errors.New("no pose scripted")
	}
	head := s.queue[0]
	if len(s.queue) > 1 {
		s.queue = s.queue[1:]
	}
	if head == nil {
		return geom.Pose{}, errors.New("frame unavailable")
	}
	return *head, nil
}

func newTestCache(src PoseSource) *Cache {
	return NewCache(CacheConfig{
		Source:  src,
		Period:  10 * time.Millisecond,
		Timeout: 50 * time.Millisecond,
		Logger:  log.New(io.Discard, "", 0),
	})
}

func TestSnapshotInvalidBeforeFirstLookup(t *testing.T) {
	c := newTestCache(&scriptedSource{})
	snap := c.Snapshot()
	assert.False(t, snap.Valid)
}

func TestRefreshPopulatesSnapshot(t *testing.T) {
	pose := geom.NewPose(1, 2, 3, 0.5)
	src := &scriptedSource{queue: []*geom.Pose{&pose}}
	c := newTestCache(src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool { return c.Snapshot().Valid }, time.Second, 5*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, pose.Position, snap.Pose.Position)
	assert.InDelta(t, 0.5, snap.Yaw, 1e-9)
	assert.False(t, snap.Stale)
}

func TestLookupFailureRetainsLastPose(t *testing.T) {
	pose := geom.NewPose(4, 5, 6, -1.0)
	src := &scriptedSource{queue: []*geom.Pose{&pose, nil}}
	c := newTestCache(src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool { return c.Snapshot().Stale }, time.Second, 5*time.Millisecond)

	snap := c.Snapshot()
	assert.True(t, snap.Valid, "valid pose must survive a failed lookup")
	assert.Equal(t, pose.Position, snap.Pose.Position, "last pose must be retained, not zeroed")
	assert.InDelta(t, -1.0, snap.Yaw, 1e-9)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	pose := geom.NewPose(0, 0, 0, 0)
	c := newTestCache(&scriptedSource{queue: []*geom.Pose{&pose}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
