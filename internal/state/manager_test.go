package state_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"oggstream/internal/oggdemux"
	"oggstream/internal/state"
)

func newDemuxer() *oggdemux.Demuxer {
	return oggdemux.New(context.Background(), bytes.NewReader(nil))
}

func TestCreateGetRemove(t *testing.T) {
	var active []int
	m := state.NewManager(func(n int) { active = append(active, n) })

	s, err := m.Create("a.opus", "cid-1", newDemuxer())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("expected to get the created session, got %v %v", got, err)
	}
	if info := s.Info(); info.Name != "a.opus" || info.CID != "cid-1" || !info.Seekable {
		t.Fatalf("unexpected info %+v", info)
	}

	if err := m.Remove(s.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, state.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := m.Remove(s.ID); !errors.Is(err, state.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second remove, got %v", err)
	}
	if len(active) != 2 || active[0] != 1 || active[1] != 0 {
		t.Fatalf("unexpected active counts %v", active)
	}
}

func TestAddValidation(t *testing.T) {
	m := state.NewManager(nil)
	if err := m.Add(&state.Session{ID: "nope", Demuxer: newDemuxer()}); !errors.Is(err, state.ErrInvalidSessionID) {
		t.Fatalf("expected ErrInvalidSessionID, got %v", err)
	}
	s, _ := m.Create("x", "", newDemuxer())
	if err := m.Add(&state.Session{ID: s.ID, Demuxer: newDemuxer()}); !errors.Is(err, state.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestAllIsOrdered(t *testing.T) {
	m := state.NewManager(nil)
	base := time.Now()
	ids := []string{
		"00000000-0000-4000-8000-000000000003",
		"00000000-0000-4000-8000-000000000001",
		"00000000-0000-4000-8000-000000000002",
	}
	for i, id := range ids {
		s := &state.Session{ID: id, CreatedAt: base.Add(time.Duration(len(ids)-i) * time.Second), Demuxer: newDemuxer()}
		if err := m.Add(s); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	all := m.All()
	if len(all) != 3 || all[0].ID != ids[2] || all[2].ID != ids[0] {
		t.Fatalf("expected oldest first, got %s %s %s", all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestAcquireIsExclusive(t *testing.T) {
	m := state.NewManager(nil)
	s, _ := m.Create("x", "", newDemuxer())

	release, err := s.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := s.Acquire(); !errors.Is(err, state.ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
	if st := m.GetStats(); st.BusySessions != 1 || st.ActiveSessions != 1 || st.TotalSessions != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	release()
	release()

	release, err = s.Acquire()
	if err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
	release()
}

func TestShutdown(t *testing.T) {
	m := state.NewManager(nil)
	for i := 0; i < 3; i++ {
		if _, err := m.Create("x", "", newDemuxer()); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	m.Shutdown()
	if st := m.GetStats(); st.ActiveSessions != 0 || st.TotalSessions != 3 {
		t.Fatalf("unexpected stats after shutdown %+v", st)
	}
	if _, err := m.Create("late", "", newDemuxer()); !errors.Is(err, state.ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}
