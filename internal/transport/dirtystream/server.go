// Package dirtystream publishes each cycle's DirtyChunks report to websocket
// subscribers.
package dirtystream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelmap.dev/internal/edit"
	"voxelmap.dev/internal/protocol"
)

const (
	outQueue = 64

	defaultMaxSubscribers = 256
)

type Server struct {
	bootstrap func() protocol.BootstrapResponse
	log       *log.Logger
	// AllowRemote admits non-loopback clients.
	AllowRemote bool
	// MaxSubscribers caps concurrent clients; further handshakes get E_BUSY.
	// Zero means no cap.
	MaxSubscribers int

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu   sync.Mutex
	subs map[string]*subscriber
}

type subscriber struct {
	out chan []byte
	sub atomic.Pointer[protocol.SubscribeMsg]
}

// NewServer returns a stream server. bootstrap describes the map to clients
// before they subscribe.
func NewServer(bootstrap func() protocol.BootstrapResponse, logger *log.Logger) *Server {
	return &Server{
		bootstrap: bootstrap,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		MaxSubscribers: defaultMaxSubscribers,
		subs:           map[string]*subscriber{},
	}
}

// Subscribers is the number of connected clients.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Dropped counts messages discarded because a client fell behind.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Publish fans d out to every subscriber. It never blocks: a client whose
// queue is full misses the report.
func (s *Server) Publish(d edit.DirtyChunks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []byte
	for id, sub := range s.subs {
		req := sub.sub.Load()
		var b []byte
		if req.Region == nil && !req.SkipEmpty {
			if all == nil {
				all, _ = json.Marshal(protocol.NewDirtyChunksMsg(d, nil))
			}
			b = all
		} else {
			msg := protocol.NewDirtyChunksMsg(d, req.Region)
			if req.SkipEmpty && msg.Empty() {
				continue
			}
			b, _ = json.Marshal(msg)
		}
		select {
		case sub.out <- b:
		default:
			s.dropped.Add(1)
			if s.log != nil {
				s.log.Printf("subscriber %s behind, dropped cycle %d", id, d.Cycle)
			}
		}
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.admit(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.bootstrap())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.admit(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		first, code, reason := parseSubscribe(msg)
		if first == nil {
			writeError(conn, code, reason)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
			return
		}

		id := fmt.Sprintf("S%d", s.nextID.Add(1))
		sub := &subscriber{out: make(chan []byte, outQueue)}
		sub.sub.Store(first)
		s.mu.Lock()
		if s.MaxSubscribers > 0 && len(s.subs) >= s.MaxSubscribers {
			s.mu.Unlock()
			writeError(conn, protocol.ErrBusy, "too many subscribers")
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "busy"), time.Now().Add(time.Second))
			return
		}
		s.subs[id] = sub
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		}()
		if s.log != nil {
			s.log.Printf("subscriber %s joined from %s", id, r.RemoteAddr)
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sub.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			next, _, _ := parseSubscribe(msg)
			if next == nil {
				continue
			}
			sub.sub.Store(next)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(msg []byte) (*protocol.SubscribeMsg, string, string) {
	var sub protocol.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return nil, protocol.ErrProtoBadRequest, "bad subscribe"
	}
	if sub.Type != protocol.TypeSubscribe {
		return nil, protocol.ErrProtoBadRequest, "expected SUBSCRIBE"
	}
	if sub.ProtocolVersion != protocol.Version {
		return nil, protocol.ErrBadVersion, "unsupported protocol version"
	}
	if sub.Region != nil {
		if err := sub.Region.Validate(); err != nil {
			return nil, protocol.ErrBadRegion, err.Error()
		}
	}
	return &sub, "", ""
}

func writeError(conn *websocket.Conn, code, reason string) {
	b, err := json.Marshal(protocol.NewErrorMsg(code, reason))
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) admit(r *http.Request) bool {
	return s.AllowRemote || IsLoopbackRemote(r.RemoteAddr)
}

// IsLoopbackRemote reports whether an http.Request RemoteAddr is a loopback
// address.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
