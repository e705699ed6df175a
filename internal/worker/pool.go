package worker

import (
	"context"

	"github.com/abdul-hamid-achik/safe/internal/logger"
	"github.com/abdul-hamid-achik/safe/internal/thumbs"
)

// Pool runs fire-and-forget thumbnail jobs on a bounded set of workers.
// Enqueue never blocks the upload response: when the queue is full the job
// is dropped and no thumbnail is written for that file.
type Pool struct {
	gen  *thumbs.Generator
	jobs chan string
	done chan struct{}
}

func NewPool(gen *thumbs.Generator, workers, backlog int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		gen:  gen,
		jobs: make(chan string, backlog),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	log := logger.Default()
	for {
		select {
		case name, ok := <-p.jobs:
			if !ok {
				return
			}
			if err := p.gen.Generate(name); err != nil {
				log.Warn("thumbnail generation failed", "name", name, "error", err)
			}
		case <-p.done:
			return
		}
	}
}

// Enqueue schedules a thumbnail for the committed file name.
func (p *Pool) Enqueue(name string) {
	select {
	case p.jobs <- name:
	case <-p.done:
	default:
		logger.Default().Warn("thumbnail queue full, dropping job", "name", name)
	}
}

// Shutdown stops the workers. Pending jobs are abandoned.
func (p *Pool) Shutdown(ctx context.Context) {
	close(p.done)
}
