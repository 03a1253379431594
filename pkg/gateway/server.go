package gateway

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Server accepts client connections and runs one dispatcher per connection
type Server struct {
	chain *Chain
	opts  Options
	slots *semaphore.Weighted

	next atomic.Uint64
	wg   sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	live     map[uint64]*Dispatcher
	closed   bool
}

// NewServer creates a server. Connections are only limited when
// opts.MaxConnections is set.
func NewServer(chain *Chain, opts Options) *Server {
	s := &Server{
		chain: chain,
		opts:  opts.withDefaults(),
		live:  make(map[uint64]*Dispatcher),
	}
	if s.opts.MaxConnections > 0 {
		s.slots = semaphore.NewWeighted(int64(s.opts.MaxConnections))
	}
	return s
}

// ListenAndServe listens on addr and serves until ctx is done or Shutdown
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln. It returns nil once the server is shut down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	stop := context.AfterFunc(ctx, func() { s.Shutdown(context.Background()) })
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	s.mu.Unlock()

	log := s.opts.Logger.WithComponent("server")
	log.Infof("Listening on %s", ln.Addr())

	var backoff time.Duration
	for {
		if s.slots != nil {
			if err := s.slots.Acquire(ctx, 1); err != nil {
				return nil
			}
		}
		conn, err := ln.Accept()
		if err != nil {
			s.release()
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				log.WithError(err).Warnf("Accept failed, retrying in %v", backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0
		s.dispatch(ctx, conn)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn) {
	identity := s.next.Add(1)
	d := NewDispatcher(identity, conn, s.chain, s.opts, s.remove)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		s.release()
		return
	}
	s.live[identity] = d
	s.wg.Add(1)
	s.mu.Unlock()

	go d.Dispatch(ctx)
}

func (s *Server) remove(identity uint64) {
	s.mu.Lock()
	_, ok := s.live[identity]
	delete(s.live, identity)
	s.mu.Unlock()
	if ok {
		s.release()
		s.wg.Done()
	}
}

func (s *Server) release() {
	if s.slots != nil {
		s.slots.Release(1)
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Addr returns the listening address, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Live returns the number of connections being served
func (s *Server) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Shutdown stops accepting, closes every live connection and waits for their
// dispatchers to finish or ctx to be done
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	live := make([]*Dispatcher, 0, len(s.live))
	for _, d := range s.live {
		live = append(live, d)
	}
	s.mu.Unlock()

	for _, d := range live {
		d.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
