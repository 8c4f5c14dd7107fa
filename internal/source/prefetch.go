package source

import (
	"context"
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

type fetched struct {
	frame gocv.Mat
	err   error
}

// Prefetched reads frames from an underlying source on a background
// goroutine into a bounded FIFO queue. The producer blocks while the queue is
// full. Errors are delivered in order with the frames, and the producer stops
// after the first error that is not ErrTransient.
type Prefetched struct {
	src    Source
	framec chan fetched
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	last   error
	cerr   error
}

// Prefetch starts reading src ahead of the consumer, holding at most depth
// frames. Closing the returned source closes src.
func Prefetch(src Source, depth int) *Prefetched {
	if depth < 1 {
		depth = 1
	}
	p := &Prefetched{
		src:    src,
		framec: make(chan fetched, depth),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.produce()
	return p
}

func (p *Prefetched) produce() {
	defer p.wg.Done()
	defer close(p.framec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		frame, err := p.src.Next(ctx)
		select {
		case p.framec <- fetched{frame, err}:
		case <-p.done:
			frame.Close()
			return
		}
		if err != nil && !errors.Is(err, ErrTransient) {
			return
		}
	}
}

// Next returns the oldest queued frame, waiting for the producer if the
// queue is empty.
func (p *Prefetched) Next(ctx context.Context) (gocv.Mat, error) {
	select {
	case f, ok := <-p.framec:
		if !ok {
			// the producer already delivered its terminal error
			if p.last == nil {
				p.last = &EndOfStream{}
			}
			return gocv.NewMat(), p.last
		}
		if f.err != nil && !errors.Is(f.err, ErrTransient) {
			p.last = f.err
		}
		return f.frame, f.err
	case <-ctx.Done():
		return gocv.NewMat(), ctx.Err()
	}
}

// Close stops the producer, drops queued frames and closes the source.
func (p *Prefetched) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()
		for f := range p.framec {
			f.frame.Close()
		}
		p.cerr = p.src.Close()
	})
	return p.cerr
}
