// CLAUDE:SUMMARY Interrogation story graph — chapters, nodes, choices, decision/ending codes, truth and ending gates
package engine

// ChapterCode identifies one of the three story chapters.
type ChapterCode int

const (
	ChapterNightDinner     ChapterCode = 1
	ChapterMemoryTrade     ChapterCode = 2
	ChapterRooftopCollapse ChapterCode = 3
)

func (c ChapterCode) String() string {
	switch c {
	case ChapterNightDinner:
		return "Chapter 1: Night Dinner"
	case ChapterMemoryTrade:
		return "Chapter 2: Memory Trade"
	case ChapterRooftopCollapse:
		return "Chapter 3: Rooftop Collapse"
	default:
		return "Unknown"
	}
}

// NodeCode identifies a story node. The two-digit form encodes
// chapter (tens) and position (ones).
type NodeCode int

const (
	NodeOpeningProbe     NodeCode = 11
	NodePrivateProof     NodeCode = 12
	NodeLastCallPressure NodeCode = 13
	NodeTermsExchange    NodeCode = 21
	NodeFootprintSwap    NodeCode = 22
	NodeKillerRevealGate NodeCode = 23
	NodeSecretPact       NodeCode = 24
	NodeSystemBreakdown  NodeCode = 31
	NodeFinalChoice      NodeCode = 32
	NodeEndingResolve    NodeCode = 33
)

// DecisionCode marks a choice that commits a chapter-level decision.
type DecisionCode int

const (
	DecisionNone         DecisionCode = 0
	DecisionPactCommit   DecisionCode = 1
	DecisionPactDelay    DecisionCode = 2
	DecisionPactBackdoor DecisionCode = 3
	DecisionBuryTruth    DecisionCode = 11
	DecisionDisclose     DecisionCode = 12
	DecisionDoublePlay   DecisionCode = 13
)

// IsEnding reports whether the decision selects one of the three endings.
func (d DecisionCode) IsEnding() bool {
	return d == DecisionBuryTruth || d == DecisionDisclose || d == DecisionDoublePlay
}

// EndingCode identifies the resolved ending of a session.
type EndingCode int

const (
	EndingUnresolved     EndingCode = 0
	EndingSilkBurialTrue EndingCode = 1
	EndingBrokenOath     EndingCode = 2
	EndingFramedJailed   EndingCode = 3
)

func (e EndingCode) String() string {
	switch e {
	case EndingSilkBurialTrue:
		return "Silk Burial (True)"
	case EndingBrokenOath:
		return "Broken Oath"
	case EndingFramedJailed:
		return "Framed and Jailed"
	default:
		return "Unresolved"
	}
}

// Choice is one selectable option at a story node.
type Choice struct {
	ID            int          `json:"id"`
	Label         string       `json:"label"`
	RelationDelta int          `json:"relation_delta"`
	DignityDelta  int          `json:"dignity_delta"`
	PollutionRisk bool         `json:"pollution_risk"`
	Decision      DecisionCode `json:"decision_code,omitempty"`

	// RevealPass marks choices that pass the killer-reveal gate.
	RevealPass bool `json:"-"`
}

// Node is a single story beat with its choices.
type Node struct {
	ID            NodeCode    `json:"id"`
	Chapter       ChapterCode `json:"chapter"`
	Title         string      `json:"title"`
	Prompt        string      `json:"prompt"`
	Interrogative bool        `json:"interrogative"`
	Choices       []Choice    `json:"choices"`
}

// nodeOrder maps turn index to story node. A session has at most
// len(nodeOrder) turns; the max-turns config may only lower that bound.
var nodeOrder = []NodeCode{
	NodeOpeningProbe,
	NodePrivateProof,
	NodeLastCallPressure,
	NodeTermsExchange,
	NodeFootprintSwap,
	NodeKillerRevealGate,
	NodeSecretPact,
	NodeSystemBreakdown,
	NodeFinalChoice,
}

var story = map[NodeCode]Node{
	NodeOpeningProbe: {
		ID: NodeOpeningProbe, Chapter: ChapterNightDinner,
		Title:         "Opening Probe",
		Prompt:        "Picha smiles first. Every word sounds gentle, every pause feels like a trap.",
		Interrogative: true,
		Choices: []Choice{
			{ID: 1, Label: "Push back directly", RelationDelta: -1, PollutionRisk: true},
			{ID: 2, Label: "Deflect with grace", RelationDelta: 1},
			{ID: 3, Label: "Stay silent and watch", RelationDelta: 0},
		},
	},
	NodePrivateProof: {
		ID: NodePrivateProof, Chapter: ChapterNightDinner,
		Title:         "Private Proof",
		Prompt:        "Picha asks for no details. She only asks for a verifiable green light.",
		Interrogative: true,
		Choices: []Choice{
			{ID: 1, Label: "Submit private proof", RelationDelta: 1, DignityDelta: 4},
			{ID: 2, Label: "Delay and stall", RelationDelta: -1, DignityDelta: -3, PollutionRisk: true},
		},
	},
	NodeLastCallPressure: {
		ID: NodeLastCallPressure, Chapter: ChapterNightDinner,
		Title:         "Last Call Pressure",
		Prompt:        "Chatfah's final call becomes a blade. You can push once. Twice has a cost.",
		Interrogative: true,
		Choices: []Choice{
			{ID: 1, Label: "Question once", RelationDelta: 0},
			{ID: 2, Label: "Force second push", RelationDelta: -1, PollutionRisk: true},
			{ID: 3, Label: "Stop here", RelationDelta: 1},
		},
	},
	NodeTermsExchange: {
		ID: NodeTermsExchange, Chapter: ChapterMemoryTrade,
		Title:         "Terms Exchange",
		Prompt:        "One memory for one truth fragment. Picha lets you pick the order.",
		Interrogative: true,
		Choices: []Choice{
			{ID: 1, Label: "Offer memory first", RelationDelta: 1},
			{ID: 2, Label: "Demand proof first", RelationDelta: 0},
			{ID: 3, Label: "Emotional pressure", RelationDelta: -1, PollutionRisk: true},
		},
	},
	NodeFootprintSwap: {
		ID: NodeFootprintSwap, Chapter: ChapterMemoryTrade,
		Title:         "Footprint Swap",
		Prompt:        "Your lived traces become keys. Each verified trace can buy one shard of truth.",
		Interrogative: true,
		Choices: []Choice{
			{ID: 1, Label: "Verify Spotify trace", DignityDelta: 3},
			{ID: 2, Label: "Verify GitHub trace", DignityDelta: 4},
			{ID: 3, Label: "Verify Twitter trace", DignityDelta: 3},
		},
	},
	NodeKillerRevealGate: {
		ID: NodeKillerRevealGate, Chapter: ChapterMemoryTrade,
		Title:         "Reveal Gate",
		Prompt:        "If trust, proof, and composure hold, Picha gives the real answer: she did it.",
		Interrogative: true,
		Choices: []Choice{
			{ID: 1, Label: "Ask softly, no accusation", RelationDelta: 1, RevealPass: true},
			{ID: 2, Label: "Accuse and corner", RelationDelta: -1, PollutionRisk: true},
			{ID: 3, Label: "Pretend to trust and probe", RelationDelta: 0, RevealPass: true},
		},
	},
	NodeSecretPact: {
		ID: NodeSecretPact, Chapter: ChapterMemoryTrade,
		Title:         "Secret Pact",
		Prompt:        "Picha asks one clear question: with me, or with the record?",
		Choices: []Choice{
			{ID: 1, Label: "Commit to share the secret", RelationDelta: 1, Decision: DecisionPactCommit},
			{ID: 2, Label: "Delay commitment", RelationDelta: 0, Decision: DecisionPactDelay},
			{ID: 3, Label: "Keep a backdoor", RelationDelta: -1, PollutionRisk: true, Decision: DecisionPactBackdoor},
		},
	},
	NodeSystemBreakdown: {
		ID: NodeSystemBreakdown, Chapter: ChapterRooftopCollapse,
		Title:         "System Breakdown",
		Prompt:        "On the rooftop, the family machine cracks. Time pressure multiplies every choice.",
		Interrogative: true,
		Choices: []Choice{
			{ID: 1, Label: "Protect Picha and hold line", RelationDelta: 1},
			{ID: 2, Label: "Try to save both sides", RelationDelta: 0, PollutionRisk: true},
			{ID: 3, Label: "Cut and retreat", RelationDelta: -1, PollutionRisk: true},
		},
	},
	NodeFinalChoice: {
		ID: NodeFinalChoice, Chapter: ChapterRooftopCollapse,
		Title:  "Final Choice",
		Prompt: "Bury truth, disclose truth, or play both. Only one path stays stable.",
		Choices: []Choice{
			{ID: 1, Label: "Bury truth together", RelationDelta: 1, Decision: DecisionBuryTruth},
			{ID: 2, Label: "Disclose the truth", RelationDelta: -1, Decision: DecisionDisclose},
			{ID: 3, Label: "Play both sides", RelationDelta: -1, PollutionRisk: true, Decision: DecisionDoublePlay},
		},
	},
	// Ending Resolve carries no playable choices. It is never quoted; its
	// prompt is surfaced as the epilogue on finalize.
	NodeEndingResolve: {
		ID: NodeEndingResolve, Chapter: ChapterRooftopCollapse,
		Title:  "Ending Resolve",
		Prompt: "No more questions. Only consequence.",
	},
}

// nodeAt returns the story node for a turn index, clamped to the last node.
func nodeAt(index int) Node {
	if index >= len(nodeOrder) {
		index = len(nodeOrder) - 1
	}
	return story[nodeOrder[index]]
}

// footprintKey names the once-only dignity bonus for a footprint swap choice.
func footprintKey(choiceID int) string {
	switch choiceID {
	case 1:
		return "spotify"
	case 2:
		return "github"
	default:
		return "twitter"
	}
}

// truthUnlocked evaluates the truth gate: composure, trust, a clean path,
// and a passed reveal gate.
func truthUnlocked(dignity, relation int, pollution, revealPassed bool) bool {
	return dignity >= 70 && relation >= 0 && !pollution && revealPassed
}

// stableCooperationPath reports whether the final decision holds the only
// stable ending path.
func stableCooperationPath(decision DecisionCode, dignity, relation int, pollution bool) bool {
	return decision == DecisionBuryTruth && dignity >= 70 && relation >= 2 && !pollution
}

// endingFor resolves the ending code from the final decision and scores.
func endingFor(decision DecisionCode, dignity, relation int, pollution bool) EndingCode {
	if stableCooperationPath(decision, dignity, relation, pollution) {
		return EndingSilkBurialTrue
	}
	if pollution || relation <= 0 {
		return EndingFramedJailed
	}
	return EndingBrokenOath
}
