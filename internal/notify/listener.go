package notify

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// TokenSource returns a bearer token for the remote hub.
type TokenSource func() (string, error)

// Listener follows the event stream of another instance's hub.
type Listener struct {
	url        string
	token      TokenSource
	dialer     *websocket.Dialer
	retryDelay time.Duration
}

// NewListener follows the hub at url. A nil token dials without credentials.
func NewListener(url string, token TokenSource) *Listener {
	return &Listener{
		url:        url,
		token:      token,
		dialer:     &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		retryDelay: 5 * time.Second,
	}
}

// Subscribe connects to the remote hub and forwards its events, reconnecting
// after failures until ctx is done. The channel is closed on return.
func (l *Listener) Subscribe(ctx context.Context) <-chan Event {
	out := make(chan Event, subscribeBuffer)
	go func() {
		defer close(out)
		for {
			if err := l.stream(ctx, out); err != nil && ctx.Err() == nil {
				log.Printf("[notify] listener %s: %v", l.url, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.retryDelay):
			}
		}
	}()
	return out
}

func (l *Listener) stream(ctx context.Context, out chan<- Event) error {
	header := http.Header{}
	if l.token != nil {
		token, err := l.token()
		if err != nil {
			return err
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := l.dialer.DialContext(ctx, l.url, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			log.Printf("[notify] listener %s: bad event: %v", l.url, err)
			continue
		}
		select {
		case out <- e:
		default:
		}
	}
}
