// Package server supplies the structured-cancellation idiom shared by the
// master daemon's loops (transport listener, heartbeat broadcast, queue
// runner) and the transport server's per-connection goroutines: a set of
// tracked goroutines that all observe a single
// stopping signal and are waited on before Shutdown returns.
package server

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// IEmbedServer tracks a group of goroutines attached to a single shutdown
// sequence.
type IEmbedServer interface {
	// StopNotify returns a channel closed once shutdown has fully completed.
	StopNotify() <-chan struct{}
	// StoppingNotify returns a channel closed once shutdown has begun.
	StoppingNotify() <-chan struct{}
	// GoAttach runs fn in a goroutine tracked by the shutdown waitgroup. fn
	// should observe StoppingNotify() and return promptly after it fires.
	GoAttach(fn func())
	// Destroy arranges for fn to run after every attached goroutine has
	// returned, then closes StopNotify().
	Destroy(fn func())
	// Shutdown begins shutdown (idempotent) and blocks until it completes or
	// ctx is done.
	Shutdown(ctx context.Context) error
}

type embedServer struct {
	lg *zap.Logger

	stopping chan struct{}
	done     chan struct{}
	stop     chan struct{}

	wgMu sync.RWMutex
	wg   sync.WaitGroup
}

// NewEmbedServer creates a server whose goroutines are tracked and whose
// shutdown sequence logs via lg.
func NewEmbedServer(lg *zap.Logger) IEmbedServer {
	return &embedServer{
		lg:       lg,
		stopping: make(chan struct{}, 1),
		done:     make(chan struct{}, 1),
		stop:     make(chan struct{}, 1),
	}
}

func (s *embedServer) StopNotify() <-chan struct{} { return s.done }

func (s *embedServer) StoppingNotify() <-chan struct{} { return s.stopping }

func (s *embedServer) GoAttach(fn func()) {
	s.wgMu.RLock()
	select {
	case <-s.stopping:
		s.lg.Warn("server has stopped; skipping GoAttach")
		s.wgMu.RUnlock()
		return
	default:
	}
	s.wgMu.RUnlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *embedServer) Destroy(fn func()) {
	go s.destroy(fn)
}

func (s *embedServer) destroy(fn func()) {
	defer func() {
		s.wgMu.Lock()
		close(s.stopping)
		s.wgMu.Unlock()

		s.wg.Wait()

		s.lg.Debug("server has stopped, running destroy operations")
		fn()

		close(s.done)
	}()

	<-s.stop
}

func (s *embedServer) Shutdown(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stop:
	case <-s.done:
		return nil
	default:
		close(s.stop)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
	}
	return nil
}
