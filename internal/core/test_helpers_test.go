package core

import (
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan *Event, name string) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Name == name {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event %q not received", name)
	return nil
}

func noEvent(t *testing.T, ch <-chan *Event) {
	t.Helper()

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %q on %q", ev.Name, ev.Channel)
	case <-time.After(50 * time.Millisecond):
	}
}
