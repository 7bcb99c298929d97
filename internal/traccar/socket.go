package traccar

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	logpkg "github.com/zouhayral/gps-tracker-app-version1-sub012/pkg/log"
)

// Socket maintains the push-channel websocket session. It reconnects with
// exponential backoff and synthesizes Connected/Disconnected messages so the
// consumer sees a single ordered stream of typed frames.
type Socket struct {
	wsURL  string
	token  string
	logger logpkg.Logger

	msgs chan Message
	dial func(ctx context.Context, urlStr string, hdr http.Header) (*websocket.Conn, error)
}

// SocketOptions configures a push-channel socket.
type SocketOptions struct {
	// BaseURL is the server root; the socket path is derived from it.
	BaseURL string
	// Token authenticates the websocket session.
	Token  string
	Logger logpkg.Logger
	// Buffer sizes the message channel (default 256).
	Buffer int
}

const (
	reconnectBase = time.Second
	reconnectCap  = 30 * time.Second
)

// NewSocket builds a socket; call Run to start it.
func NewSocket(opts SocketOptions) *Socket {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	buf := opts.Buffer
	if buf <= 0 {
		buf = 256
	}
	return &Socket{
		wsURL:  toWebsocketURL(opts.BaseURL),
		token:  opts.Token,
		logger: logger.WithComponent("socket"),
		msgs:   make(chan Message, buf),
		dial: func(ctx context.Context, urlStr string, hdr http.Header) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, urlStr, hdr)
			return conn, err
		},
	}
}

// Messages returns the stream of typed frames. Closed when Run returns.
func (s *Socket) Messages() <-chan Message { return s.msgs }

// Run connects and pumps frames until ctx is cancelled. Each successful
// connect emits Message{Connected: true}; each drop emits
// Message{Disconnected: true} before the backoff sleep.
func (s *Socket) Run(ctx context.Context) {
	defer close(s.msgs)
	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := s.connect(ctx)
		if err != nil {
			s.logger.Warn("connect failed", logpkg.Err(err), logpkg.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = reconnectBase
		s.deliver(ctx, Message{Connected: true})
		s.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		s.deliver(ctx, Message{Disconnected: true})
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func (s *Socket) connect(ctx context.Context) (*websocket.Conn, error) {
	hdr := http.Header{}
	if s.token != "" {
		hdr.Set("Authorization", "Bearer "+s.token)
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.dial(cctx, s.wsURL, hdr)
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("read failed", logpkg.Err(err))
			}
			return
		}
		msg, err := ParseMessage(data)
		if err != nil {
			// Malformed frames are skipped; the stream continues.
			s.logger.Warn("bad frame", logpkg.Err(err), logpkg.Int("bytes", len(data)))
			continue
		}
		s.deliver(ctx, msg)
	}
}

func (s *Socket) deliver(ctx context.Context, msg Message) {
	select {
	case s.msgs <- msg:
	case <-ctx.Done():
	}
}

func toWebsocketURL(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/socket"
	return u.String()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > reconnectCap {
		next = reconnectCap
	}
	return next
}
