package ingest

import (
	"context"
	"sync"
)

// join is a weighted resolve point: emitters contribute units and the
// waiter unblocks when the target is reached. The first failure wins;
// later failures are dropped so cleanup paths can reject freely.
type join struct {
	mu      sync.Mutex
	target  int
	count   int
	err     error
	done    chan struct{}
	settled bool
}

func newJoin(target int) *join {
	return &join{target: target, done: make(chan struct{})}
}

// add contributes one unit toward the target.
func (j *join) add() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.settled {
		return
	}
	j.count++
	if j.count >= j.target {
		j.settled = true
		close(j.done)
	}
}

// fail settles the join with err unless already settled.
func (j *join) fail(err error) {
	if err == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.settled {
		return
	}
	j.settled = true
	j.err = err
	close(j.done)
}

// wait blocks until the join settles or ctx is cancelled.
func (j *join) wait(ctx context.Context) error {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.err
	case <-ctx.Done():
		j.fail(ctx.Err())
		<-j.done
		return ctx.Err()
	}
}
