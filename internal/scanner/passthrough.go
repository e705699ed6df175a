package scanner

import (
	"context"
	"io"
)

type passResult struct {
	res Result
	err error
}

// Passthrough scans bytes as they stream through the upload pipeline. The
// caller writes the upload into it while the scanner consumes the other
// end of the pipe; Result blocks until the verdict arrives.
type Passthrough struct {
	pw   *io.PipeWriter
	done chan passResult
}

// NewPassthrough starts an in-line scan.
func (s *Scanner) NewPassthrough(ctx context.Context) *Passthrough {
	pr, pw := io.Pipe()
	p := &Passthrough{
		pw:   pw,
		done: make(chan passResult, 1),
	}
	go func() {
		res, err := s.ScanStream(ctx, pr)
		if err != nil {
			// Drain so the writer never blocks on a dead scanner.
			_, _ = io.Copy(io.Discard, pr)
		}
		p.done <- passResult{res: res, err: err}
	}()
	return p
}

func (p *Passthrough) Write(b []byte) (int, error) {
	return p.pw.Write(b)
}

// Close signals end of stream.
func (p *Passthrough) Close() error {
	return p.pw.Close()
}

// Abort tears the stream down with an error; the pending Result call
// observes an Unknown verdict.
func (p *Passthrough) Abort(err error) {
	_ = p.pw.CloseWithError(err)
}

// Result waits for the scanner's verdict.
func (p *Passthrough) Result(ctx context.Context) (Result, error) {
	select {
	case r := <-p.done:
		return r.res, r.err
	case <-ctx.Done():
		return Result{Verdict: Unknown}, ctx.Err()
	}
}
