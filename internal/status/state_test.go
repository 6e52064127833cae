package status

import (
	"testing"

	"github.com/matheus3301/wallwatch/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(1, nil)
	if m.Current() != Idle {
		t.Errorf("initial state = %s, want IDLE", m.Current())
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		path    []State
		wantErr bool
	}{
		{[]State{Running}, false},
		{[]State{Running, Stopped}, false},
		{[]State{Stopped}, false},
		{[]State{Running, Running}, true},
		{[]State{Stopped, Running}, true},
		{[]State{Running, Stopped, Running}, true},
		{[]State{Idle}, true},
	}
	for _, tt := range tests {
		m := NewMachine(1, nil)
		var err error
		for _, s := range tt.path {
			if err = m.Transition(s); err != nil {
				break
			}
		}
		if (err != nil) != tt.wantErr {
			t.Errorf("path %v: err = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
	}
}

func TestInvalidTransitionKeepsState(t *testing.T) {
	m := NewMachine(1, nil)
	_ = m.Transition(Running)
	_ = m.Transition(Stopped)

	if err := m.Transition(Running); err == nil {
		t.Fatal("Transition(STOPPED -> RUNNING) should fail")
	}
	if !m.Is(Stopped) {
		t.Errorf("state = %s, want STOPPED", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("watch.", 10)
	defer unsub()

	m := NewMachine(42, b)
	if err := m.Transition(Running); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindStatusChanged || evt.WallID != 42 {
		t.Errorf("event = %q wall %d, want %s wall 42", evt.Kind, evt.WallID, bus.KindStatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Idle || change.To != Running || change.WallID != 42 {
		t.Errorf("change = %+v, want IDLE -> RUNNING on wall 42", change)
	}
}
