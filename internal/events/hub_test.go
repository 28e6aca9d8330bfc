package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestHub(buffer int) *Hub {
	return NewHub(buffer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHubDeliversOnlyToTeamSubscribers(t *testing.T) {
	hub := newTestHub(4)
	alpha := hub.Subscribe("alpha")
	beta := hub.Subscribe("beta")
	defer alpha.Cancel()
	defer beta.Cancel()

	hub.TeamChanged(context.Background(), "alpha")

	select {
	case ev := <-alpha.C:
		if ev.Type != TypeTeamChanged || ev.TeamID != "alpha" || ev.OccurredAt.IsZero() {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected an event for alpha")
	}
	select {
	case ev := <-beta.C:
		t.Fatalf("beta received %+v", ev)
	default:
	}
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := newTestHub(1)
	sub := hub.Subscribe("alpha")
	defer sub.Cancel()

	hub.Publish(Event{Type: TypeTeamChanged, TeamID: "alpha"})
	hub.Publish(Event{Type: TypeTeamChanged, TeamID: "alpha"})

	if got := len(sub.C); got != 1 {
		t.Fatalf("expected one buffered event, got %d", got)
	}
}

func TestCancelClosesChannelAndForgetsTeam(t *testing.T) {
	hub := newTestHub(1)
	sub := hub.Subscribe("alpha")
	if hub.Subscribers("alpha") != 1 {
		t.Fatalf("expected one subscriber")
	}
	sub.Cancel()
	sub.Cancel()
	if _, ok := <-sub.C; ok {
		t.Fatal("expected closed channel")
	}
	if hub.Subscribers("alpha") != 0 {
		t.Fatalf("expected no subscribers")
	}
	hub.Publish(Event{Type: TypeTeamChanged, TeamID: "alpha"})
}

type countingObserver struct{ teams []string }

func (c *countingObserver) TeamChanged(_ context.Context, teamID string) {
	c.teams = append(c.teams, teamID)
}

func TestObserversFanOut(t *testing.T) {
	first, second := &countingObserver{}, &countingObserver{}
	Observers{first, nil, second}.TeamChanged(context.Background(), "alpha")
	if len(first.teams) != 1 || len(second.teams) != 1 {
		t.Fatalf("expected both observers called, got %v %v", first.teams, second.teams)
	}
}

type recordingWriter struct {
	mu        sync.Mutex
	events    []Event
	beats     int
	failAfter int
}

func (w *recordingWriter) Send(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAfter > 0 && len(w.events) >= w.failAfter {
		return errors.New("broken pipe")
	}
	w.events = append(w.events, ev)
	return nil
}

func (w *recordingWriter) Heartbeat() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.beats++
	return nil
}

func (w *recordingWriter) snapshot() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events), w.beats
}

func TestPumpForwardsEventsAndHeartbeats(t *testing.T) {
	hub := newTestHub(4)
	sub := hub.Subscribe("alpha")
	w := &recordingWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Pump(ctx, sub, w, 10*time.Millisecond) }()

	hub.Publish(Event{Type: TypeTeamChanged, TeamID: "alpha"})
	deadline := time.Now().Add(2 * time.Second)
	for {
		events, beats := w.snapshot()
		if events == 1 && beats > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected an event and a heartbeat, got %d/%d", events, beats)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
	sub.Cancel()
}

func TestPumpStopsOnWriteFailureAndCancel(t *testing.T) {
	hub := newTestHub(4)
	sub := hub.Subscribe("alpha")
	w := &recordingWriter{failAfter: 1}
	hub.Publish(Event{Type: TypeTeamChanged, TeamID: "alpha"})
	hub.Publish(Event{Type: TypeTeamChanged, TeamID: "alpha"})
	if err := Pump(context.Background(), sub, w, time.Hour); err == nil {
		t.Fatal("expected write failure")
	}
	sub.Cancel()

	closed := hub.Subscribe("alpha")
	closed.Cancel()
	if err := Pump(context.Background(), closed, &recordingWriter{}, time.Hour); err != nil {
		t.Fatalf("expected nil for a cancelled subscription, got %v", err)
	}
}
