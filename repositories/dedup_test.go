package repositories

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedupRepository_Seen(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repo := NewDedupRepository(db, slog.Default(), time.Hour)

	seen, err := repo.Seen("msg-1")
	req.NoError(err)
	req.False(seen)

	seen, err = repo.Seen("msg-1")
	req.NoError(err)
	req.True(seen)

	seen, err = repo.Seen("msg-2")
	req.NoError(err)
	req.False(seen)
}

func TestDedupRepository_ConcurrentDeliveriesOneFresh(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repo := NewDedupRepository(db, slog.Default(), time.Hour)

	const replays = 16
	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < replays; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen, err := repo.Seen("retried-webhook")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if !seen {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	req.Equal(int32(1), fresh.Load(), fmt.Sprintf("exactly one of %d replays must pass", replays))
}
