package printer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orrn/printdispatch/internal/model"
)

// session is one authenticated connection to the agent. Replies are matched
// to requests by id.
type session struct {
	conn  *websocket.Conn
	nonce string
	sign  SignFunc

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]chan *model.Message
	closed  chan struct{}
	err     error
}

func dialSession(ctx context.Context, url string, hs Handshake, timeout time.Duration) (*session, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
	}

	s := &session{
		conn:    conn,
		sign:    hs.Sign,
		pending: make(map[string]chan *model.Message),
		closed:  make(chan struct{}),
	}
	if err := s.authenticate(ctx, hs, timeout); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})

	go s.readLoop()
	return s, nil
}

func (s *session) authenticate(ctx context.Context, hs Handshake, timeout time.Duration) error {
	s.conn.SetReadDeadline(time.Now().Add(timeout))

	var challenge model.Message
	if err := s.conn.ReadJSON(&challenge); err != nil {
		return fmt.Errorf("%w: reading challenge: %v", ErrAgentUnavailable, err)
	}
	if challenge.Type != model.MessageTypeChallenge || challenge.Nonce == "" {
		return fmt.Errorf("%w: expected challenge, got %q", ErrAgentRejected, challenge.Type)
	}
	if !supports(challenge.Algorithms, hs.Algorithm) {
		return fmt.Errorf("%w: agent does not accept %s", ErrAgentRejected, hs.Algorithm)
	}
	s.nonce = challenge.Nonce

	cert, err := hs.Certificate(ctx)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	if err := s.write(&model.Message{Type: model.MessageTypeHello, Certificate: cert, Algorithm: hs.Algorithm}); err != nil {
		return fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
	}

	var reply model.Message
	if err := s.conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("%w: reading handshake reply: %v", ErrAgentUnavailable, err)
	}
	switch reply.Type {
	case model.MessageTypeReady:
		return nil
	case model.MessageTypeError:
		return fmt.Errorf("%w: %s", ErrAgentRejected, reply.Error)
	default:
		return fmt.Errorf("%w: unexpected %q", ErrAgentRejected, reply.Type)
	}
}

func supports(algorithms []string, alg string) bool {
	if len(algorithms) == 0 {
		return true
	}
	for _, a := range algorithms {
		if a == alg {
			return true
		}
	}
	return false
}

func (s *session) write(m *model.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(m)
}

func (s *session) alive() bool {
	select {
	case <-s.closed:
		return false
	default:
		return true
	}
}

// request signs m, sends it and waits for the reply with the same id.
func (s *session) request(ctx context.Context, m *model.Message) (*model.Message, error) {
	if !s.alive() {
		return nil, ErrNotConnected
	}

	sig, err := s.sign(ctx, model.NewRequestClaims(s.nonce, m))
	if err != nil {
		return nil, err
	}
	m.Signature = sig

	ch := make(chan *model.Message, 1)
	s.mu.Lock()
	s.pending[m.ID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, m.ID)
		s.mu.Unlock()
	}()

	if err := s.write(m); err != nil {
		s.close(err)
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	select {
	case reply := <-ch:
		if reply.Type == model.MessageTypeError {
			return nil, fmt.Errorf("%w: %s", ErrAgentRejected, reply.Error)
		}
		return reply, nil
	case <-s.closed:
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, s.err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.close(err)
			return
		}
		var m model.Message
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[m.ID]
		s.mu.Unlock()
		if ok {
			ch <- &m
		}
	}
}

func (s *session) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		return
	default:
	}
	s.err = err
	close(s.closed)
	s.conn.Close()
}
