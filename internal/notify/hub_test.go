package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	hub := NewHub("inst-a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := hub.Subscribe(ctx)
	hub.Publish(Event{Type: EventJobEnqueued, JobID: "j1"})

	e := waitEvent(t, events)
	if e.Type != EventJobEnqueued || e.JobID != "j1" {
		t.Errorf("unexpected event %+v", e)
	}
	if e.Source != "inst-a" || e.At.IsZero() {
		t.Errorf("event not stamped: %+v", e)
	}

	cancel()
	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed on cancel")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub("x")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			hub.Publish(Event{Type: EventJobUpdated})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestListenerFollowsRemoteHub(t *testing.T) {
	hub := NewHub("remote")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	l := NewListener("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	events := l.Subscribe(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never connected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish(Event{Type: EventJobEnqueued, JobID: "j9"})
	e := waitEvent(t, events)
	if e.JobID != "j9" || e.Source != "remote" {
		t.Errorf("unexpected event %+v", e)
	}
}

func TestListenerSendsToken(t *testing.T) {
	hub := NewHub("remote")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	auths := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths <- r.Header.Get("Authorization")
		if r.Header.Get("Authorization") != "Bearer peer-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		hub.ServeHTTP(w, r)
	}))
	defer srv.Close()

	l := NewListener("ws"+strings.TrimPrefix(srv.URL, "http"), func() (string, error) { return "peer-token", nil })
	events := l.Subscribe(ctx)

	select {
	case got := <-auths:
		if got != "Bearer peer-token" {
			t.Fatalf("unexpected Authorization header %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener never dialed")
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never connected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish(Event{Type: EventJobEnqueued, JobID: "j10"})
	if e := waitEvent(t, events); e.JobID != "j10" {
		t.Errorf("unexpected event %+v", e)
	}
}
