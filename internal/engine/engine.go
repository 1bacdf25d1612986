// CLAUDE:SUMMARY Session state machine — quote→commit→reveal lifecycle, per-session locking arena, score tracking, finalize summaries
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/pkg/idgen"
)

// Status is the lifecycle state of a session. Finalized is terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusFinalized Status = "finalized"
)

// Turn is one ledger entry. Quote is set at issuance; ChoiceID and Outcome
// are set together at commit, never one without the other.
type Turn struct {
	Index    int      `json:"index"`
	Quote    Quote    `json:"quote"`
	ChoiceID *int     `json:"choice_id,omitempty"`
	Outcome  *Outcome `json:"outcome,omitempty"`
}

// Committed reports whether the turn has a recorded choice and outcome.
func (t *Turn) Committed() bool {
	return t.ChoiceID != nil
}

// Outcome is the revealed result of a committed turn.
type Outcome struct {
	TurnIndex     int          `json:"turn_index"`
	ChoiceID      int          `json:"choice_id"`
	DrawnChoiceID int          `json:"drawn_choice_id"`
	FirstClear    bool         `json:"first_clear"`
	RelationDelta int          `json:"relation_delta"`
	DignityDelta  int          `json:"dignity_delta"`
	PollutionFlag bool         `json:"pollution_flag"`
	Decision      DecisionCode `json:"decision_code,omitempty"`
	RelationAfter int          `json:"relation_after"`
	DignityAfter  int          `json:"dignity_after"`
	TruthUnlocked bool         `json:"truth_unlocked"`
}

// Session holds the full per-session state. The secret seed stays unexported
// and is never serialized; only its commitment is public.
type Session struct {
	ID             string  `json:"session_id"`
	Wallet         string  `json:"wallet,omitempty"`
	Mode           Mode    `json:"mode"`
	WorldID        string  `json:"world_id,omitempty"`
	SchemaVersion  int     `json:"schema_version"`
	SeedCommitment string  `json:"seed_commitment"`
	Status         Status  `json:"status"`
	Turns          []*Turn `json:"turns"`

	Dignity       int          `json:"dignity_score"`
	Relation      int          `json:"relation_score"`
	Pollution     int          `json:"pollution_score"`
	PollutionFlag bool         `json:"pollution_flag"`
	RevealPassed  bool         `json:"reveal_passed"`
	TruthUnlocked bool         `json:"truth_unlocked"`
	FinalDecision DecisionCode `json:"final_decision_code,omitempty"`
	Ending        EndingCode   `json:"ending_code,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	seed       []byte
	footprints map[string]bool
	summary    *SessionSummary
}

// committedTurns counts turns with a recorded choice.
func (s *Session) committedTurns() (turns, clears int) {
	for _, t := range s.Turns {
		if !t.Committed() {
			continue
		}
		turns++
		if t.Outcome.FirstClear {
			clears++
		}
	}
	return turns, clears
}

// snapshot returns a detached copy safe to read and marshal after the
// session lock is released. The secret seed is not carried over.
func (s *Session) snapshot() *Session {
	cp := *s
	cp.seed = nil
	cp.footprints = nil
	cp.summary = nil
	cp.Turns = make([]*Turn, len(s.Turns))
	for i, t := range s.Turns {
		tc := *t
		cp.Turns[i] = &tc
	}
	return &cp
}

// outstanding returns the last turn if it is quoted but uncommitted.
func (s *Session) outstanding() *Turn {
	if len(s.Turns) == 0 {
		return nil
	}
	last := s.Turns[len(s.Turns)-1]
	if last.Committed() {
		return nil
	}
	return last
}

// EndingBreakdown explains the finalize verdict gate by gate.
type EndingBreakdown struct {
	TruthGate struct {
		DignityOK   bool `json:"dignity_ok"`
		RelationOK  bool `json:"relation_ok"`
		PollutionOK bool `json:"pollution_ok"`
		RevealOK    bool `json:"reveal_ok"`
	} `json:"truth_gate"`
	EndingGate struct {
		Decision        DecisionCode `json:"decision_code"`
		StablePathOK    bool         `json:"stable_path_ok"`
		FramedTriggered bool         `json:"framed_triggered"`
	} `json:"ending_gate"`
	ReasonCodes []string `json:"reason_codes"`
	Hint        string   `json:"hint"`
}

// SessionSummary is the deterministic finalize result. Stored on first
// finalize; repeated finalizes return the identical value.
type SessionSummary struct {
	SessionID     string           `json:"session_id"`
	SchemaVersion int              `json:"schema_version"`
	Mode          Mode             `json:"mode"`
	Turns         int              `json:"turns"`
	Clears        int              `json:"clears"`
	Ending        EndingCode       `json:"ending_code"`
	EndingLabel   string           `json:"ending_label"`
	Epilogue      string           `json:"epilogue"`
	TruthUnlocked bool             `json:"truth_unlocked"`
	FinalDignity  int              `json:"final_dignity"`
	FinalRelation int              `json:"final_relation"`
	HumanityScore int              `json:"humanity_score"`
	FinalizedAt   time.Time        `json:"finalized_at"`
	Breakdown     *EndingBreakdown `json:"ending_breakdown,omitempty"`
}

// Store is the durable-store collaborator. The in-memory arena stays
// authoritative; writes are journaling for durability and forensics, so
// store failures are logged rather than surfaced to callers.
type Store interface {
	SaveSession(s *Session) error
	SaveTurn(sessionID string, t *Turn) error
	SaveWorld(w *World) error
}

// Config carries the engine's published constants and tuning, injected at
// process start.
type Config struct {
	// SchemaVersion tags every session for forward-compat validation.
	SchemaVersion int
	// TargetRate is the published first-clear truth rate (verified/guest).
	TargetRate float64
	// BotTargetRate is the independent target for bot_suspected sessions.
	BotTargetRate float64
	// Gain and MaxStep tune the calibration correction step.
	Gain    float64
	MaxStep float64
	// MaxTurns bounds turns per session; commits past it exhaust the seed.
	MaxTurns int
}

// DefaultConfig returns the shipped constants.
func DefaultConfig() Config {
	return Config{
		SchemaVersion: 1,
		TargetRate:    0.35,
		BotTargetRate: 0.15,
		Gain:          0.5,
		MaxStep:       0.10,
		MaxTurns:      len(nodeOrder),
	}
}

type sessionEntry struct {
	mu sync.Mutex
	s  *Session
}

type worldEntry struct {
	mu sync.Mutex
	w  *World
}

// Engine orchestrates sessions, worlds, and calibration. Operations on the
// same session id serialize on that session's lock; unrelated sessions
// proceed in parallel.
type Engine struct {
	cfg   Config
	ctrl  *Controller
	store Store

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	worlds   map[string]*worldEntry

	now     func() time.Time
	newSeed func() ([]byte, error)
	newID   func() string
}

// New builds an engine. store may be nil for a purely in-memory engine
// (tests, ephemeral deployments).
func New(cfg Config, store Store) *Engine {
	if cfg.MaxTurns <= 0 || cfg.MaxTurns > len(nodeOrder) {
		cfg.MaxTurns = len(nodeOrder)
	}
	return &Engine{
		cfg: cfg,
		ctrl: NewController(ControllerConfig{
			TargetRate:    cfg.TargetRate,
			BotTargetRate: cfg.BotTargetRate,
			Gain:          cfg.Gain,
			MaxStep:       cfg.MaxStep,
		}),
		store:    store,
		sessions: make(map[string]*sessionEntry),
		worlds:   make(map[string]*worldEntry),
		now:      time.Now,
		newSeed:  newSeed,
		newID:    idgen.New,
	}
}

// SchemaVersion returns the process-wide schema tag.
func (e *Engine) SchemaVersion() int { return e.cfg.SchemaVersion }

// TargetRate returns the published first-clear truth rate.
func (e *Engine) TargetRate() float64 { return e.cfg.TargetRate }

// Calibration returns per-mode counter snapshots.
func (e *Engine) Calibration() map[Mode]ModeStats { return e.ctrl.Snapshot() }

// startingDignity is mode-dependent: verified participants start composed,
// suspected bots start deep in the hole.
func startingDignity(mode Mode) int {
	switch mode {
	case ModeBotSuspected:
		return 20
	case ModeGuest:
		return 50
	default:
		return 72
	}
}

// StartSession creates an active session with a fresh seed and published
// commitment. wallet is required for verified mode, generated for guest,
// and dropped for bot_suspected. worldID, when set, must name an existing
// world; the session joins it as a member.
func (e *Engine) StartSession(wallet string, mode Mode, worldID string) (*Session, error) {
	if !ValidMode(mode) {
		return nil, ErrInvalidMode
	}
	switch mode {
	case ModeVerified:
		if wallet == "" {
			return nil, ErrMissingWallet
		}
	case ModeGuest:
		if wallet == "" {
			wallet = "guest-" + e.newID()
		}
	case ModeBotSuspected:
		wallet = ""
	}

	seed, err := e.newSeed()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	now := e.now().UTC()
	s := &Session{
		ID:             "ses_" + e.newID(),
		Wallet:         wallet,
		Mode:           mode,
		WorldID:        worldID,
		SchemaVersion:  e.cfg.SchemaVersion,
		SeedCommitment: seedCommitment(seed),
		Status:         StatusActive,
		Dignity:        startingDignity(mode),
		StartedAt:      now,
		UpdatedAt:      now,
		seed:           seed,
		footprints:     make(map[string]bool),
	}

	e.mu.Lock()
	var we *worldEntry
	if worldID != "" {
		var ok bool
		we, ok = e.worlds[worldID]
		if !ok {
			e.mu.Unlock()
			return nil, ErrWorldNotFound
		}
	}
	e.sessions[s.ID] = &sessionEntry{s: s}
	e.mu.Unlock()

	// World membership is taken outside the engine lock; FinalizeWorld holds
	// the world lock while reaching back into the arena.
	if we != nil {
		we.mu.Lock()
		if we.w.Summary != nil {
			we.mu.Unlock()
			e.mu.Lock()
			delete(e.sessions, s.ID)
			e.mu.Unlock()
			return nil, ErrWorldFinalized
		}
		we.w.Members = append(we.w.Members, s.ID)
		we.mu.Unlock()
	}

	e.persistSession(s)
	return s, nil
}

func (e *Engine) entry(sessionID string) (*sessionEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

// QuoteTurn issues the distribution for the session's next turn. If a quoted
// turn is still uncommitted, its quote is returned unchanged; a quote stays
// outstanding until committed, never silently discarded.
func (e *Engine) QuoteTurn(sessionID string) (Quote, error) {
	entry, err := e.entry(sessionID)
	if err != nil {
		return Quote{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	s := entry.s
	if s.Status == StatusFinalized {
		return Quote{}, ErrSessionFinalized
	}
	if t := s.outstanding(); t != nil {
		return t.Quote, nil
	}

	index := len(s.Turns)
	if index >= e.cfg.MaxTurns {
		return Quote{}, ErrSeedExhausted
	}

	basePeak := e.ctrl.TargetFor(s.Mode)
	q := computeQuote(index, basePeak, e.ctrl.BiasFor(s.Mode))
	t := &Turn{Index: index, Quote: q}
	s.Turns = append(s.Turns, t)
	s.UpdatedAt = e.now().UTC()

	e.persistSession(s)
	e.persistTurn(s.ID, t)
	return q, nil
}

// CommitTurn binds the participant's choice, reveals the outcome from the
// session seed, applies story effects, and reports to calibration. The whole
// transition applies or none of it does.
func (e *Engine) CommitTurn(sessionID string, choiceID int) (*Outcome, error) {
	entry, err := e.entry(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	s := entry.s
	if s.Status == StatusFinalized {
		return nil, ErrSessionFinalized
	}
	t := s.outstanding()
	if t == nil {
		return nil, ErrNoOutstandingQuote
	}
	opt, ok := t.Quote.option(choiceID)
	if !ok {
		return nil, ErrInvalidChoice
	}
	if t.Index >= e.cfg.MaxTurns {
		return nil, ErrSeedExhausted
	}

	unit := turnUnit(s.seed, t.Index)
	drawn := drawChoice(t.Quote, unit)
	clear := drawn == choiceID

	node := story[t.Quote.NodeID]
	choice := opt
	preRelation := s.Relation

	s.Relation = clampInt(s.Relation+choice.RelationDelta, -3, 3)

	dignityDelta := choice.DignityDelta
	if node.ID == NodeFootprintSwap {
		key := footprintKey(choiceID)
		if s.footprints[key] {
			dignityDelta = 0
		} else {
			s.footprints[key] = true
		}
	}
	s.Dignity = clampInt(s.Dignity+dignityDelta, 0, 100)

	s.Pollution = clampInt(s.Pollution+pollutionDelta(choice, dignityDelta), 0, 3)
	s.PollutionFlag = s.Pollution >= 2

	if choice.RevealPass || (node.ID == NodeKillerRevealGate && choiceID == 2 && preRelation >= 3) {
		s.RevealPassed = true
	}
	if choice.Decision != DecisionNone && choice.Decision.IsEnding() {
		s.FinalDecision = choice.Decision
	}
	s.TruthUnlocked = truthUnlocked(s.Dignity, s.Relation, s.PollutionFlag, s.RevealPassed)

	outcome := &Outcome{
		TurnIndex:     t.Index,
		ChoiceID:      choiceID,
		DrawnChoiceID: drawn,
		FirstClear:    clear,
		RelationDelta: choice.RelationDelta,
		DignityDelta:  dignityDelta,
		PollutionFlag: s.PollutionFlag,
		Decision:      choice.Decision,
		RelationAfter: s.Relation,
		DignityAfter:  s.Dignity,
		TruthUnlocked: s.TruthUnlocked,
	}
	cid := choiceID
	t.ChoiceID = &cid
	t.Outcome = outcome
	s.UpdatedAt = e.now().UTC()

	e.ctrl.RecordOutcome(s.Mode, clear)
	e.persistSession(s)
	e.persistTurn(s.ID, t)
	return outcome, nil
}

// pollutionDelta scores a committed choice: risky choices pollute, clean
// cooperative choices cleanse, gate-passing or pact-committing choices
// cleanse hard.
func pollutionDelta(opt Option, dignityDelta int) int {
	delta := 0
	if opt.PollutionRisk {
		delta++
	}
	strongCleanse := opt.RevealPass ||
		opt.Decision == DecisionPactCommit || opt.Decision == DecisionBuryTruth
	restorative := !opt.PollutionRisk &&
		(opt.RelationDelta >= 0 || dignityDelta > 0 || strongCleanse)
	if restorative {
		if strongCleanse {
			delta -= 3
		} else {
			delta--
		}
	}
	return delta
}

// FinalizeSession moves the session to its terminal state and returns the
// summary. Idempotent: the summary is computed once and stored; later calls
// return it unchanged and never touch the ledger.
func (e *Engine) FinalizeSession(sessionID string) (*SessionSummary, error) {
	entry, err := e.entry(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return e.finalizeLocked(entry.s), nil
}

func (e *Engine) finalizeLocked(s *Session) *SessionSummary {
	if s.summary != nil {
		return s.summary
	}

	turns, clears := s.committedTurns()
	ending := EndingUnresolved
	var breakdown *EndingBreakdown
	if s.FinalDecision.IsEnding() {
		ending = endingFor(s.FinalDecision, s.Dignity, s.Relation, s.PollutionFlag)
		breakdown = buildBreakdown(s, ending)
	}
	s.TruthUnlocked = truthUnlocked(s.Dignity, s.Relation, s.PollutionFlag, s.RevealPassed)

	framed := ending == EndingFramedJailed
	humanity := 50 + s.Relation*8
	if s.TruthUnlocked {
		humanity += 10
	}
	if s.PollutionFlag {
		humanity -= 18
	}
	if framed {
		humanity -= 8
	}

	now := e.now().UTC()
	s.Status = StatusFinalized
	s.Ending = ending
	s.UpdatedAt = now
	s.summary = &SessionSummary{
		SessionID:     s.ID,
		SchemaVersion: s.SchemaVersion,
		Mode:          s.Mode,
		Turns:         turns,
		Clears:        clears,
		Ending:        ending,
		EndingLabel:   ending.String(),
		Epilogue:      story[NodeEndingResolve].Prompt,
		TruthUnlocked: s.TruthUnlocked,
		FinalDignity:  s.Dignity,
		FinalRelation: s.Relation,
		HumanityScore: clampInt(humanity, 0, 100),
		FinalizedAt:   now,
		Breakdown:     breakdown,
	}

	e.persistSession(s)
	return s.summary
}

// buildBreakdown mirrors the finalize gates into reason codes and a hint.
func buildBreakdown(s *Session, ending EndingCode) *EndingBreakdown {
	b := &EndingBreakdown{}
	b.TruthGate.DignityOK = s.Dignity >= 70
	b.TruthGate.RelationOK = s.Relation >= 0
	b.TruthGate.PollutionOK = !s.PollutionFlag
	b.TruthGate.RevealOK = s.RevealPassed
	b.EndingGate.Decision = s.FinalDecision
	b.EndingGate.StablePathOK = stableCooperationPath(s.FinalDecision, s.Dignity, s.Relation, s.PollutionFlag)
	b.EndingGate.FramedTriggered = ending == EndingFramedJailed

	if !b.TruthGate.DignityOK {
		b.ReasonCodes = append(b.ReasonCodes, "DIGNITY_LOW")
	}
	if !b.TruthGate.RelationOK {
		b.ReasonCodes = append(b.ReasonCodes, "RELATION_LOW")
	}
	if !b.TruthGate.PollutionOK {
		b.ReasonCodes = append(b.ReasonCodes, "POLLUTION_LOCKED")
	}
	if !b.TruthGate.RevealOK {
		b.ReasonCodes = append(b.ReasonCodes, "REVEAL_MISSED")
	}
	switch ending {
	case EndingFramedJailed:
		b.ReasonCodes = append(b.ReasonCodes, "FRAMED_AND_JAILED")
	case EndingBrokenOath:
		b.ReasonCodes = append(b.ReasonCodes, "OATH_BROKEN")
	case EndingSilkBurialTrue:
		b.ReasonCodes = append(b.ReasonCodes, "SILK_BURIAL_TRUE")
	}

	switch {
	case !b.TruthGate.RevealOK:
		b.Hint = "Pass the reveal gate in Chapter 2: choose the soft probe."
	case !b.TruthGate.PollutionOK:
		b.Hint = "Avoid high-risk choices; pollution strongly pushes toward the bad ending."
	case !b.TruthGate.RelationOK:
		b.Hint = "Pick trust and co-op choices to push relation above 0."
	case !b.TruthGate.DignityOK:
		b.Hint = "Complete footprint checks and private proof to reach dignity 70."
	default:
		b.Hint = "Keep relation and a clean path to hold the stable conspiracy ending."
	}
	return b
}

// GetSession returns a copy of the session state for read-only surfaces.
// The copy is taken under the session lock and stays stable while commits
// keep mutating the live session.
func (e *Engine) GetSession(sessionID string) (*Session, error) {
	entry, err := e.entry(sessionID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.s.snapshot(), nil
}

// CurrentNode returns the story node the session's next quote would draw
// from, for clients rendering ahead of a quote.
func (e *Engine) CurrentNode(sessionID string) (Node, error) {
	entry, err := e.entry(sessionID)
	if err != nil {
		return Node{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	s := entry.s
	if t := s.outstanding(); t != nil {
		return story[t.Quote.NodeID], nil
	}
	return nodeAt(len(s.Turns)), nil
}

func (e *Engine) persistSession(s *Session) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveSession(s); err != nil {
		slog.Error("persisting session", "session_id", s.ID, "error", err)
	}
}

func (e *Engine) persistTurn(sessionID string, t *Turn) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveTurn(sessionID, t); err != nil {
		slog.Error("persisting turn", "session_id", sessionID, "index", t.Index, "error", err)
	}
}

func (e *Engine) persistWorld(w *World) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveWorld(w); err != nil {
		slog.Error("persisting world", "world_id", w.ID, "error", err)
	}
}
