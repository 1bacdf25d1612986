package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(DefaultConfig(), nil)
}

// withFixedSeed makes every new session draw the same secret seed so
// outcomes are reproducible across engines.
func withFixedSeed(e *Engine, fill byte) {
	e.newSeed = func() ([]byte, error) {
		return bytes.Repeat([]byte{fill}, seedSize), nil
	}
}

func TestStartSessionModes(t *testing.T) {
	e := newTestEngine(t)

	t.Run("verified requires wallet", func(t *testing.T) {
		if _, err := e.StartSession("", ModeVerified, ""); !errors.Is(err, ErrMissingWallet) {
			t.Fatalf("err = %v, want ErrMissingWallet", err)
		}
		s, err := e.StartSession("0xabc", ModeVerified, "")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if s.Wallet != "0xabc" || s.Dignity != 72 {
			t.Fatalf("verified session: wallet=%q dignity=%d", s.Wallet, s.Dignity)
		}
	})

	t.Run("guest gets generated wallet", func(t *testing.T) {
		s, err := e.StartSession("", ModeGuest, "")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if s.Wallet == "" || s.Dignity != 50 {
			t.Fatalf("guest session: wallet=%q dignity=%d", s.Wallet, s.Dignity)
		}
	})

	t.Run("bot_suspected drops wallet", func(t *testing.T) {
		s, err := e.StartSession("0xdef", ModeBotSuspected, "")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if s.Wallet != "" || s.Dignity != 20 {
			t.Fatalf("bot session: wallet=%q dignity=%d", s.Wallet, s.Dignity)
		}
	})

	t.Run("unknown mode rejected", func(t *testing.T) {
		if _, err := e.StartSession("0xabc", Mode("admin"), ""); !errors.Is(err, ErrInvalidMode) {
			t.Fatalf("err = %v, want ErrInvalidMode", err)
		}
	})
}

func TestStartSessionPublishesCommitment(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.StartSession("0xabc", ModeVerified, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(s.SeedCommitment) != 64 {
		t.Fatalf("commitment %q is not 32 bytes of hex", s.SeedCommitment)
	}
	if s.SchemaVersion != 1 {
		t.Fatalf("schema version = %d, want 1", s.SchemaVersion)
	}
	if s.Status != StatusActive {
		t.Fatalf("status = %q, want active", s.Status)
	}

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if bytes.Contains(raw, s.seed) {
		t.Fatal("serialized session leaks the raw seed")
	}
}

func TestQuoteTurnIdempotentUntilCommit(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.StartSession("0xabc", ModeVerified, "")

	q1, err := e.QuoteTurn(s.ID)
	if err != nil {
		t.Fatalf("first quote: %v", err)
	}
	q2, err := e.QuoteTurn(s.ID)
	if err != nil {
		t.Fatalf("second quote: %v", err)
	}
	if q1.TurnIndex != q2.TurnIndex || q1.NodeID != q2.NodeID {
		t.Fatalf("re-quote moved the turn: %v vs %v", q1, q2)
	}
	for i := range q1.Options {
		if q1.Options[i].Weight != q2.Options[i].Weight {
			t.Fatalf("re-quote changed weights at option %d", i)
		}
	}

	if _, err := e.CommitTurn(s.ID, q1.Options[0].ChoiceID); err != nil {
		t.Fatalf("commit: %v", err)
	}
	q3, err := e.QuoteTurn(s.ID)
	if err != nil {
		t.Fatalf("quote after commit: %v", err)
	}
	if q3.TurnIndex != q1.TurnIndex+1 {
		t.Fatalf("turn index after commit = %d, want %d", q3.TurnIndex, q1.TurnIndex+1)
	}
}

func TestCommitWithoutQuote(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.StartSession("0xabc", ModeVerified, "")
	if _, err := e.CommitTurn(s.ID, 1); !errors.Is(err, ErrNoOutstandingQuote) {
		t.Fatalf("err = %v, want ErrNoOutstandingQuote", err)
	}
}

func TestCommitInvalidChoiceLeavesLedgerUntouched(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.StartSession("0xabc", ModeVerified, "")
	q, _ := e.QuoteTurn(s.ID)

	before := e.Calibration()[ModeVerified].Attempts
	if _, err := e.CommitTurn(s.ID, 999); !errors.Is(err, ErrInvalidChoice) {
		t.Fatalf("err = %v, want ErrInvalidChoice", err)
	}

	got, err := e.GetSession(s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Turns) != 1 || got.Turns[0].Committed() {
		t.Fatal("failed commit mutated the turn ledger")
	}
	if e.Calibration()[ModeVerified].Attempts != before {
		t.Fatal("failed commit reached the calibration counters")
	}

	// The outstanding quote is still live and committable.
	out, err := e.CommitTurn(s.ID, q.Options[0].ChoiceID)
	if err != nil {
		t.Fatalf("commit after rejected choice: %v", err)
	}
	if out.TurnIndex != q.TurnIndex {
		t.Fatalf("outcome turn index = %d, want %d", out.TurnIndex, q.TurnIndex)
	}
}

func TestCommitOutcomeDeterministic(t *testing.T) {
	run := func() []*Outcome {
		e := newTestEngine(t)
		withFixedSeed(e, 0x3C)
		s, err := e.StartSession("0xabc", ModeVerified, "")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		var outs []*Outcome
		for {
			q, err := e.QuoteTurn(s.ID)
			if errors.Is(err, ErrSeedExhausted) {
				return outs
			}
			if err != nil {
				t.Fatalf("quote: %v", err)
			}
			out, err := e.CommitTurn(s.ID, q.Options[0].ChoiceID)
			if err != nil {
				t.Fatalf("commit: %v", err)
			}
			outs = append(outs, out)
		}
	}

	a, b := run(), run()
	if len(a) != len(b) || len(a) == 0 {
		t.Fatalf("runs differ in length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].DrawnChoiceID != b[i].DrawnChoiceID || a[i].FirstClear != b[i].FirstClear {
			t.Fatalf("turn %d diverged: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSeedExhaustion(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.StartSession("0xabc", ModeVerified, "")
	for i := 0; i < e.cfg.MaxTurns; i++ {
		q, err := e.QuoteTurn(s.ID)
		if err != nil {
			t.Fatalf("turn %d quote: %v", i, err)
		}
		if _, err := e.CommitTurn(s.ID, q.Options[0].ChoiceID); err != nil {
			t.Fatalf("turn %d commit: %v", i, err)
		}
	}
	if _, err := e.QuoteTurn(s.ID); !errors.Is(err, ErrSeedExhausted) {
		t.Fatalf("err = %v, want ErrSeedExhausted", err)
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	e := newTestEngine(t)
	fixed := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return fixed }

	s, _ := e.StartSession("0xabc", ModeVerified, "")
	q, _ := e.QuoteTurn(s.ID)
	if _, err := e.CommitTurn(s.ID, q.Options[0].ChoiceID); err != nil {
		t.Fatalf("commit: %v", err)
	}

	s1, err := e.FinalizeSession(s.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	s2, err := e.FinalizeSession(s.ID)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}

	j1, _ := json.Marshal(s1)
	j2, _ := json.Marshal(s2)
	if !bytes.Equal(j1, j2) {
		t.Fatalf("finalize not idempotent:\n%s\n%s", j1, j2)
	}
	if s1.Epilogue == "" {
		t.Fatal("summary is missing the epilogue")
	}

	if _, err := e.QuoteTurn(s.ID); !errors.Is(err, ErrSessionFinalized) {
		t.Fatalf("quote after finalize: err = %v, want ErrSessionFinalized", err)
	}
	if _, err := e.CommitTurn(s.ID, 1); !errors.Is(err, ErrSessionFinalized) {
		t.Fatalf("commit after finalize: err = %v, want ErrSessionFinalized", err)
	}
}

func TestFinalizeUnknownSession(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.FinalizeSession("ses_missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

// playPath drives a session through a fixed choice per turn.
func playPath(t *testing.T, e *Engine, sessionID string, pick func(Quote) int) {
	t.Helper()
	for {
		q, err := e.QuoteTurn(sessionID)
		if errors.Is(err, ErrSeedExhausted) {
			return
		}
		if err != nil {
			t.Fatalf("quote: %v", err)
		}
		if _, err := e.CommitTurn(sessionID, pick(q)); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
}

func TestTruePathReachesSilkBurial(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.StartSession("0xabc", ModeVerified, "")

	// Cooperative line: grace, proof, stop, offer memory, verify trace,
	// soft probe, pact commit, protect, bury truth.
	script := map[NodeCode]int{
		NodeOpeningProbe:     2,
		NodePrivateProof:     1,
		NodeLastCallPressure: 3,
		NodeTermsExchange:    1,
		NodeFootprintSwap:    2,
		NodeKillerRevealGate: 1,
		NodeSecretPact:       1,
		NodeSystemBreakdown:  1,
		NodeFinalChoice:      1,
	}
	playPath(t, e, s.ID, func(q Quote) int { return script[q.NodeID] })

	sum, err := e.FinalizeSession(s.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if sum.Ending != EndingSilkBurialTrue {
		t.Fatalf("ending = %v, want SilkBurialTrue (dignity=%d relation=%d)",
			sum.Ending, sum.FinalDignity, sum.FinalRelation)
	}
	if !sum.TruthUnlocked {
		t.Fatal("cooperative path did not unlock the truth")
	}
	if sum.Breakdown == nil || len(sum.Breakdown.ReasonCodes) == 0 {
		t.Fatal("summary is missing the ending breakdown")
	}
}

func TestPollutedPathGetsFramed(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.StartSession("0xabc", ModeVerified, "")

	// Hostile line: push back, stall, force push, pressure, trace,
	// accuse, backdoor, cut and run, play both sides.
	script := map[NodeCode]int{
		NodeOpeningProbe:     1,
		NodePrivateProof:     2,
		NodeLastCallPressure: 2,
		NodeTermsExchange:    3,
		NodeFootprintSwap:    1,
		NodeKillerRevealGate: 2,
		NodeSecretPact:       3,
		NodeSystemBreakdown:  3,
		NodeFinalChoice:      3,
	}
	playPath(t, e, s.ID, func(q Quote) int { return script[q.NodeID] })

	sum, err := e.FinalizeSession(s.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if sum.Ending != EndingFramedJailed {
		t.Fatalf("ending = %v, want FramedJailed", sum.Ending)
	}
	if sum.TruthUnlocked {
		t.Fatal("polluted path unlocked the truth")
	}
}

func TestGetSessionDetachedFromLiveState(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.StartSession("0xabc", ModeVerified, "")

	got, err := e.GetSession(s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	q, _ := e.QuoteTurn(s.ID)
	if _, err := e.CommitTurn(s.ID, q.Options[0].ChoiceID); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(got.Turns) != 0 {
		t.Fatalf("snapshot grew a turn after a later commit: %d", len(got.Turns))
	}
	if got.seed != nil {
		t.Fatal("snapshot carries the secret seed")
	}
}

func TestGetSessionSafeDuringCommits(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.StartSession("0xabc", ModeVerified, "")

	// A reader polling session state while a player commits turns is the
	// normal client pattern; reads must marshal cleanly throughout.
	playErr := make(chan error, 1)
	go func() {
		for {
			q, err := e.QuoteTurn(s.ID)
			if errors.Is(err, ErrSeedExhausted) {
				playErr <- nil
				return
			}
			if err != nil {
				playErr <- err
				return
			}
			if _, err := e.CommitTurn(s.ID, q.Options[0].ChoiceID); err != nil {
				playErr <- err
				return
			}
		}
	}()

	for {
		got, err := e.GetSession(s.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if _, err := json.Marshal(got); err != nil {
			t.Fatalf("marshal: %v", err)
		}
		select {
		case err := <-playErr:
			if err != nil {
				t.Fatalf("play loop: %v", err)
			}
			return
		default:
		}
	}
}

func TestRevealGateCleansesPollution(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.StartSession("0xabc", ModeVerified, "")

	// Four risky turns, then the footprint bonus, push pollution to the
	// flag threshold before the reveal gate.
	dirty := map[NodeCode]int{
		NodeOpeningProbe:     1,
		NodePrivateProof:     2,
		NodeLastCallPressure: 2,
		NodeTermsExchange:    3,
		NodeFootprintSwap:    1,
	}
	for i := 0; i < len(dirty); i++ {
		q, err := e.QuoteTurn(s.ID)
		if err != nil {
			t.Fatalf("quote: %v", err)
		}
		if _, err := e.CommitTurn(s.ID, dirty[q.NodeID]); err != nil {
			t.Fatalf("commit %v: %v", q.NodeID, err)
		}
	}

	got, _ := e.GetSession(s.ID)
	if got.Pollution != 2 || !got.PollutionFlag {
		t.Fatalf("pre-gate pollution = %d flag = %v, want 2 true", got.Pollution, got.PollutionFlag)
	}

	// The soft probe passes the gate and cleanses by three.
	q, _ := e.QuoteTurn(s.ID)
	if q.NodeID != NodeKillerRevealGate {
		t.Fatalf("node = %v, want reveal gate", q.NodeID)
	}
	out, err := e.CommitTurn(s.ID, 1)
	if err != nil {
		t.Fatalf("commit gate: %v", err)
	}
	if out.PollutionFlag {
		t.Fatal("gate pass left the pollution flag set")
	}
	got, _ = e.GetSession(s.ID)
	if got.Pollution != 0 {
		t.Fatalf("post-gate pollution = %d, want 0", got.Pollution)
	}
	if !got.RevealPassed {
		t.Fatal("soft probe did not pass the reveal gate")
	}

	// One risky choice afterward pollutes by one, still below the flag.
	q, _ = e.QuoteTurn(s.ID)
	if q.NodeID != NodeSecretPact {
		t.Fatalf("node = %v, want secret pact", q.NodeID)
	}
	out, err = e.CommitTurn(s.ID, 3)
	if err != nil {
		t.Fatalf("commit pact: %v", err)
	}
	got, _ = e.GetSession(s.ID)
	if got.Pollution != 1 || out.PollutionFlag {
		t.Fatalf("post-pact pollution = %d flag = %v, want 1 false", got.Pollution, out.PollutionFlag)
	}
}

func TestFootprintBonusOnceOnly(t *testing.T) {
	e := newTestEngine(t)
	s, _ := e.StartSession("0xabc", ModeVerified, "")

	// Advance to the footprint node.
	for {
		q, err := e.QuoteTurn(s.ID)
		if err != nil {
			t.Fatalf("quote: %v", err)
		}
		if q.NodeID == NodeFootprintSwap {
			out, err := e.CommitTurn(s.ID, 2)
			if err != nil {
				t.Fatalf("commit footprint: %v", err)
			}
			if out.DignityDelta != 4 {
				t.Fatalf("first GitHub trace delta = %d, want 4", out.DignityDelta)
			}
			break
		}
		if _, err := e.CommitTurn(s.ID, q.Options[0].ChoiceID); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
}
