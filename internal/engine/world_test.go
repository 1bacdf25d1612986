package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestStartWorldNormalizesTags(t *testing.T) {
	e := newTestEngine(t)

	w, err := e.StartWorld("Night Dinner", []string{" Mystery", "FAMILY", "mystery", ""})
	if err != nil {
		t.Fatalf("start world: %v", err)
	}
	if len(w.Tags) != 2 || w.Tags[0] != "family" || w.Tags[1] != "mystery" {
		t.Fatalf("tags = %v", w.Tags)
	}

	bare, err := e.StartWorld("", nil)
	if err != nil {
		t.Fatalf("start bare world: %v", err)
	}
	if bare.Theme != "hide-sis" || len(bare.Tags) != 3 {
		t.Fatalf("bare world defaults: theme=%q tags=%v", bare.Theme, bare.Tags)
	}
}

func TestSessionJoinsWorld(t *testing.T) {
	e := newTestEngine(t)
	w, _ := e.StartWorld("rooftop", nil)

	s, err := e.StartSession("0xabc", ModeVerified, w.ID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	got, err := e.GetWorld(w.ID)
	if err != nil {
		t.Fatalf("get world: %v", err)
	}
	if len(got.Members) != 1 || got.Members[0] != s.ID {
		t.Fatalf("members = %v", got.Members)
	}

	if _, err := e.StartSession("0xabc", ModeVerified, "wld_missing"); !errors.Is(err, ErrWorldNotFound) {
		t.Fatalf("err = %v, want ErrWorldNotFound", err)
	}
}

func TestFinalizeWorldAggregates(t *testing.T) {
	e := newTestEngine(t)
	w, _ := e.StartWorld("memory trade", nil)

	sVerified, _ := e.StartSession("0xabc", ModeVerified, w.ID)
	sGuest, _ := e.StartSession("", ModeGuest, w.ID)
	sBot, _ := e.StartSession("", ModeBotSuspected, w.ID)

	// Two members play some turns; the bot session stays untouched and is
	// force-finalized by the world.
	for i := 0; i < 3; i++ {
		for _, sid := range []string{sVerified.ID, sGuest.ID} {
			q, err := e.QuoteTurn(sid)
			if err != nil {
				t.Fatalf("quote: %v", err)
			}
			if _, err := e.CommitTurn(sid, q.Options[0].ChoiceID); err != nil {
				t.Fatalf("commit: %v", err)
			}
		}
	}
	// The verified member finalizes on its own before the world does.
	if _, err := e.FinalizeSession(sVerified.ID); err != nil {
		t.Fatalf("finalize member: %v", err)
	}

	sum, err := e.FinalizeWorld(w.ID)
	if err != nil {
		t.Fatalf("finalize world: %v", err)
	}
	if sum.Sessions != 3 {
		t.Fatalf("sessions = %d, want 3", sum.Sessions)
	}
	if sum.Turns != 6 {
		t.Fatalf("turns = %d, want 6", sum.Turns)
	}
	if sum.ByMode[ModeVerified].Sessions != 1 || sum.ByMode[ModeVerified].Turns != 3 {
		t.Fatalf("verified slice = %+v", sum.ByMode[ModeVerified])
	}
	if sum.ByMode[ModeBotSuspected].Turns != 0 {
		t.Fatalf("bot slice = %+v", sum.ByMode[ModeBotSuspected])
	}
	total := 0
	for _, n := range sum.Endings {
		total += n
	}
	if total != 3 {
		t.Fatalf("ending counts sum to %d, want 3", total)
	}

	// All members are terminal now.
	for _, sid := range []string{sVerified.ID, sGuest.ID, sBot.ID} {
		if _, err := e.QuoteTurn(sid); !errors.Is(err, ErrSessionFinalized) {
			t.Fatalf("member %s still active after world finalize: %v", sid, err)
		}
	}
}

func TestFinalizeWorldIdempotent(t *testing.T) {
	e := newTestEngine(t)
	w, _ := e.StartWorld("rooftop", nil)
	if _, err := e.StartSession("0xabc", ModeVerified, w.ID); err != nil {
		t.Fatalf("start session: %v", err)
	}

	s1, err := e.FinalizeWorld(w.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	s2, err := e.FinalizeWorld(w.ID)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	j1, _ := json.Marshal(s1)
	j2, _ := json.Marshal(s2)
	if !bytes.Equal(j1, j2) {
		t.Fatalf("world finalize not idempotent:\n%s\n%s", j1, j2)
	}
}

func TestFinalizeWorldEdgeCases(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.FinalizeWorld("wld_missing"); !errors.Is(err, ErrWorldNotFound) {
		t.Fatalf("unknown world: err = %v, want ErrWorldNotFound", err)
	}

	empty, _ := e.StartWorld("empty", nil)
	if _, err := e.FinalizeWorld(empty.ID); !errors.Is(err, ErrWorldNotFound) {
		t.Fatalf("memberless world: err = %v, want ErrWorldNotFound", err)
	}
}

func TestJoinFinalizedWorldRejected(t *testing.T) {
	e := newTestEngine(t)
	w, _ := e.StartWorld("rooftop", nil)
	if _, err := e.StartSession("0xabc", ModeVerified, w.ID); err != nil {
		t.Fatalf("start member: %v", err)
	}
	if _, err := e.FinalizeWorld(w.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := e.StartSession("0xdef", ModeVerified, w.ID); !errors.Is(err, ErrWorldFinalized) {
		t.Fatalf("err = %v, want ErrWorldFinalized", err)
	}
}
