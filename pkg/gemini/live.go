// Package gemini adapts the Gemini Live API to the session contracts: a
// websocket dialer for the bidirectional voice session and a one-shot
// speech synthesizer for greetings.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rosehq/roselive/pkg/audio"
	"github.com/rosehq/roselive/pkg/session"
)

const (
	defaultLiveEndpoint = "wss://generativelanguage.googleapis.com/ws/" +
		"google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultConnectTimeout = 15 * time.Second
)

// LiveDialer opens Gemini Live websocket sessions. It implements
// session.Dialer.
type LiveDialer struct {
	// APIKey authenticates the websocket handshake. Required.
	APIKey string

	// Endpoint overrides the production Live endpoint, for tests.
	Endpoint string

	// ConnectTimeout bounds the handshake when the caller's context has no
	// deadline. Defaults to 15s.
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

// Dial opens a session, sends the setup frame, and waits for the server's
// setup acknowledgment before handing the session back.
func (d *LiveDialer) Dial(ctx context.Context, cfg session.Config) (session.RemoteSession, error) {
	if strings.TrimSpace(d.APIKey) == "" {
		return nil, session.NewConnectionFailed("missing API key", nil)
	}

	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = defaultLiveEndpoint
	}
	wsURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, session.NewConnectionFailed("invalid live endpoint", err)
	}
	q := wsURL.Query()
	q.Set("key", d.APIKey)
	wsURL.RawQuery = q.Encode()

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := d.ConnectTimeout
		if timeout <= 0 {
			timeout = defaultConnectTimeout
		}
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL.String(), http.Header{})
	if err != nil {
		if resp != nil {
			return nil, session.NewConnectionFailed(
				fmt.Sprintf("websocket dial failed (status %d)", resp.StatusCode), err)
		}
		return nil, session.NewConnectionFailed("websocket dial failed", err)
	}

	if err := conn.WriteJSON(newSetupMessage(cfg)); err != nil {
		_ = conn.Close()
		return nil, session.NewConnectionFailed("send setup frame", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultConnectTimeout))
	var first serverMessage
	if err := conn.ReadJSON(&first); err != nil {
		_ = conn.Close()
		return nil, session.NewConnectionFailed("read setup ack", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if first.SetupComplete == nil {
		_ = conn.Close()
		return nil, session.NewConnectionFailed("unexpected first live frame", nil)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &liveSession{
		conn:      conn,
		inputMime: fmt.Sprintf("audio/pcm;rate=%d", cfg.InputFormat.SampleRate),
		events:    make(chan session.Event, 256),
		done:      make(chan struct{}),
		logger:    logger.With("component", "gemini.live"),
	}
	go s.readLoop()
	return s, nil
}

// liveSession is one open Gemini Live websocket session.
type liveSession struct {
	conn      *websocket.Conn
	inputMime string
	logger    *slog.Logger

	events chan session.Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func (s *liveSession) Events() <-chan session.Event { return s.events }

// SendAudioFrame forwards one capture frame as a realtime input message.
func (s *liveSession) SendAudioFrame(pcm []byte) error {
	return s.sendJSON(realtimeMessage{
		RealtimeInput: realtimeInput{
			Audio: &inlineData{
				MimeType: s.inputMime,
				Data:     audio.EncodeTransport(pcm),
			},
		},
	})
}

func (s *liveSession) sendJSON(v any) error {
	if s.closed.Load() {
		return session.NewTransportError("live session is closed", nil)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close tears the websocket down and waits for the read loop to exit.
// Idempotent.
func (s *liveSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *liveSession) readLoop() {
	defer close(s.done)
	defer close(s.events)

	for {
		var msg serverMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if s.closed.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(session.ClosedEvent{Reason: "remote closed"})
				return
			}
			s.emit(session.ErrorEvent{Err: session.NewTransportError("live stream read failed", err)})
			return
		}

		if msg.GoAway != nil {
			s.emit(session.ClosedEvent{Reason: "server go-away"})
			return
		}
		if msg.ServerContent == nil {
			continue
		}
		events, err := decodeServerContent(msg.ServerContent)
		if err != nil {
			s.emit(session.ErrorEvent{Err: session.NewTransportError("malformed server content", err)})
			return
		}
		for _, ev := range events {
			s.emit(ev)
		}
	}
}

func (s *liveSession) emit(ev session.Event) {
	select {
	case s.events <- ev:
	default:
		// Never let a stalled consumer wedge the read loop.
		s.logger.Warn("dropping live event", "type", ev.EventType())
	}
}
