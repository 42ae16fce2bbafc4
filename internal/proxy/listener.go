package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Listener accepts client connections and dispatches each one to a
// Forwarder goroutine.
type Listener struct {
	cfg       Config
	forwarder *Forwarder
	pool      *bufferPool
	sem       *semaphore.Weighted
	log       *zap.Logger

	nextID atomic.Uint64
	wg     sync.WaitGroup
}

// NewListener validates cfg and constructs a Listener for it.
func NewListener(cfg Config) (*Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool := newBufferPool(cfg.BufferSize)
	l := &Listener{
		cfg:       cfg,
		forwarder: newForwarder(cfg, pool),
		pool:      pool,
		log:       cfg.logger(),
	}
	if cfg.MaxSessions > 0 {
		l.sem = semaphore.NewWeighted(int64(cfg.MaxSessions))
	}
	return l, nil
}

// Serve accepts connections on ln until ctx is canceled, ln is closed, or,
// with StopOnEmpty, a client closes without sending anything. Serve closes
// ln and waits for in-flight sessions before returning.
//
// A nil error means an orderly stop. Session failures never end Serve.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	defer l.wg.Wait()
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		if err := l.admit(ctx); err != nil {
			return nil
		}

		c, err := ln.Accept()
		if err != nil {
			l.release()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s := &session{id: l.nextID.Add(1), conn: c}
		l.log.Debug("connection accepted", zap.Uint64("session", s.id), zap.Stringer("client", c.RemoteAddr()))

		if !l.cfg.StopOnEmpty {
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				defer l.release()
				if l.readPayload(ctx, s) {
					l.forward(ctx, s)
				}
			}()
			continue
		}

		if !l.readPayload(ctx, s) {
			l.release()
			if s.empty {
				l.log.Info("empty initial payload, listener stopping", zap.Uint64("session", s.id))
				return nil
			}
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.release()
			l.forward(ctx, s)
		}()
	}
}

// session is one accepted client connection and its initial payload. It is
// owned by exactly one goroutine at a time.
type session struct {
	id      uint64
	conn    net.Conn
	buf     []byte
	payload []byte
	empty   bool
}

// readPayload performs the single initial read. It returns false, having
// closed the connection, when there is nothing to forward; s.empty reports
// whether that was because the client sent no data.
func (l *Listener) readPayload(ctx context.Context, s *session) bool {
	s.buf = l.pool.Get()

	if l.cfg.IOTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(l.cfg.IOTimeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	n, err := s.conn.Read(s.buf)
	stop()
	if n > 0 {
		s.payload = s.buf[:n]
		l.log.Debug("payload received", zap.Uint64("session", s.id), zap.Int("bytes", n))
		return true
	}

	_ = s.conn.Close()
	l.pool.Put(s.buf)
	s.buf = nil

	if err == nil || errors.Is(err, io.EOF) {
		s.empty = true
		l.log.Debug("client closed without payload", zap.Uint64("session", s.id))
	} else if ctx.Err() == nil {
		l.log.Warn("initial read failed", zap.Uint64("session", s.id), zap.Error(err))
	}
	return false
}

func (l *Listener) forward(ctx context.Context, s *session) {
	defer l.pool.Put(s.buf)

	n, err := l.forwarder.Forward(ctx, s.conn, s.payload)
	if err != nil {
		if ctx.Err() == nil {
			l.log.Warn("session failed", zap.Uint64("session", s.id), zap.Error(err))
		}
		return
	}
	if n == 0 {
		l.log.Debug("upstream closed without reply", zap.Uint64("session", s.id))
		return
	}
	l.log.Debug("reply relayed", zap.Uint64("session", s.id), zap.Int("bytes", n))
}

func (l *Listener) admit(ctx context.Context) error {
	if l.sem == nil {
		return ctx.Err()
	}
	return l.sem.Acquire(ctx, 1)
}

func (l *Listener) release() {
	if l.sem != nil {
		l.sem.Release(1)
	}
}
