package inproc

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/media"
)

const (
	dialTimeout  = 3 * time.Second
	writeTimeout = 2 * time.Second
)

// tcpServerSink serves the stream to every connected client. Each client is
// announced on the bus with a "client-added" element message carrying its
// peer-id, and with "client-removed" once a write to it fails.
type tcpServerSink struct {
	sinkState

	mu       sync.Mutex
	listener net.Listener
	clients  map[string]net.Conn
	done     chan struct{}
}

func newTCPServerSink(e *element) behavior {
	e.declare("host", "localhost")
	e.declare("port", 4953)
	e.declare("current-port", -1)
	e.declare("num-handles", 0)
	e.declare("bytes-served", uint64(0))
	e.declare("sync", false)
	e.declare("recover-policy", 0)
	e.declare("buffers-max", -1)
	e.addStaticPad("sink", media.DirectionSink)
	return &tcpServerSink{clients: make(map[string]net.Conn)}
}

func (s *tcpServerSink) transition(e *element, from, to media.State) error {
	switch {
	case from == media.StateIdle && to == media.StateReady:
		addr := net.JoinHostPort(e.stringProp("host"), strconv.Itoa(e.intProp("port")))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("tcpserversink: %w", err)
		}
		e.setInternal("current-port", ln.Addr().(*net.TCPAddr).Port)

		done := make(chan struct{})
		s.mu.Lock()
		s.listener = ln
		s.done = done
		s.mu.Unlock()
		go s.accept(e, ln, done)

	case from == media.StatePaused && to == media.StateReady:
		s.resetEOS()

	case from == media.StateReady && to == media.StateIdle:
		s.mu.Lock()
		ln, done := s.listener, s.done
		clients := s.clients
		s.listener, s.done = nil, nil
		s.clients = make(map[string]net.Conn)
		s.mu.Unlock()

		if ln != nil {
			_ = ln.Close()
			<-done
		}
		for _, c := range clients {
			_ = c.Close()
		}
		e.setInternal("num-handles", 0)
		e.setInternal("current-port", -1)
	}
	return nil
}

func (s *tcpServerSink) accept(e *element, ln net.Listener, done chan<- struct{}) {
	defer close(done)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Warn("inproc: tcpserversink accept failed", "element", e.name, "error", err)
			}
			return
		}
		peer := conn.RemoteAddr().String()
		s.mu.Lock()
		s.clients[peer] = conn
		n := len(s.clients)
		s.mu.Unlock()

		e.setInternal("num-handles", n)
		e.post(media.NewElementMessage(e.name, "client-added", map[string]any{"peer-id": peer}))
	}
}

func (s *tcpServerSink) handle(e *element, _ *pad, it item) flowReturn {
	return s.consume(e, it, func(buf *media.Buffer) error {
		s.broadcast(e, buf.Data)
		return nil
	}, nil)
}

// broadcast writes to every client. Clients that fail are dropped.
func (s *tcpServerSink) broadcast(e *element, data []byte) {
	s.mu.Lock()
	clients := make(map[string]net.Conn, len(s.clients))
	for k, c := range s.clients {
		clients[k] = c
	}
	s.mu.Unlock()

	served := 0
	for peer, c := range clients {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := c.Write(data); err != nil {
			s.drop(e, peer, c)
			continue
		}
		served += len(data)
	}
	if served > 0 {
		e.setInternal("bytes-served", e.uintProp("bytes-served")+uint64(served))
	}
}

func (s *tcpServerSink) drop(e *element, peer string, c net.Conn) {
	_ = c.Close()
	s.mu.Lock()
	delete(s.clients, peer)
	n := len(s.clients)
	s.mu.Unlock()

	e.setInternal("num-handles", n)
	e.post(media.NewElementMessage(e.name, "client-removed", map[string]any{"peer-id": peer}))
}

// tcpClientSink pushes the stream to a single remote listener. Failing to
// connect refuses the Idle to Ready transition.
type tcpClientSink struct {
	sinkState

	mu   sync.Mutex
	conn net.Conn
}

func newTCPClientSink(e *element) behavior {
	e.declare("host", "localhost")
	e.declare("port", 4953)
	e.declare("sync", false)
	e.declare("async", true)
	e.addStaticPad("sink", media.DirectionSink)
	return &tcpClientSink{}
}

func (c *tcpClientSink) transition(e *element, from, to media.State) error {
	switch {
	case from == media.StateIdle && to == media.StateReady:
		addr := net.JoinHostPort(e.stringProp("host"), strconv.Itoa(e.intProp("port")))
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			return fmt.Errorf("tcpclientsink: %w", err)
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

	case from == media.StatePaused && to == media.StateReady:
		c.resetEOS()

	case from == media.StateReady && to == media.StateIdle:
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			return conn.Close()
		}
	}
	return nil
}

func (c *tcpClientSink) handle(e *element, _ *pad, it item) flowReturn {
	return c.consume(e, it, func(buf *media.Buffer) error {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("tcpclientsink: not connected")
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_, err := conn.Write(buf.Data)
		return err
	}, nil)
}
