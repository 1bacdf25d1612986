// CLAUDE:SUMMARY Quote calculator — per-turn probability distribution over story choices, mode base + calibration bias, CDF draw
package engine

import "math"

// weightFloor is the minimum weight any quoted option may carry. Calibration
// drift can never push an option below it.
const weightFloor = 0.01

// weightTolerance is the allowed deviation of a quote's weight sum from 1.
const weightTolerance = 1e-9

// Option is one quoted choice with its probability weight and the payoff
// descriptors a client needs to render it.
type Option struct {
	ChoiceID      int          `json:"choice_id"`
	Label         string       `json:"label"`
	Weight        float64      `json:"weight"`
	RelationDelta int          `json:"relation_delta"`
	DignityDelta  int          `json:"dignity_delta"`
	PollutionRisk bool         `json:"pollution_risk"`
	Decision      DecisionCode `json:"decision_code,omitempty"`

	// RevealPass mirrors the story choice flag; hidden from quotes so the
	// gate stays unsignaled.
	RevealPass bool `json:"-"`
}

// Quote is the distribution offered before a turn is committed. Immutable
// once issued; re-quoting an uncommitted turn returns the same value.
type Quote struct {
	TurnIndex int         `json:"turn_index"`
	NodeID    NodeCode    `json:"node_id"`
	Chapter   ChapterCode `json:"chapter"`
	Title     string      `json:"title"`
	Prompt    string      `json:"prompt"`
	Options   []Option    `json:"options"`
}

// option returns the quoted option for a choice id, or false.
func (q Quote) option(choiceID int) (Option, bool) {
	for _, opt := range q.Options {
		if opt.ChoiceID == choiceID {
			return opt, true
		}
	}
	return Option{}, false
}

// computeQuote builds the distribution for a turn. basePeak is the trust
// mode's configured base weight for the favored option, bias the calibration
// controller's current adjustment for that mode. The session's secret seed is
// deliberately out of reach here: a quote must be computable by anyone from
// public state alone.
func computeQuote(turnIndex int, basePeak, bias float64) Quote {
	node := nodeAt(turnIndex)
	n := len(node.Choices)

	q := Quote{
		TurnIndex: turnIndex,
		NodeID:    node.ID,
		Chapter:   node.Chapter,
		Title:     node.Title,
		Prompt:    node.Prompt,
		Options:   make([]Option, 0, n),
	}

	weights := choiceWeights(node, basePeak+bias)
	for i, choice := range node.Choices {
		q.Options = append(q.Options, Option{
			ChoiceID:      choice.ID,
			Label:         choice.Label,
			Weight:        weights[i],
			RelationDelta: choice.RelationDelta,
			DignityDelta:  choice.DignityDelta,
			PollutionRisk: choice.PollutionRisk,
			Decision:      choice.Decision,
			RevealPass:    choice.RevealPass,
		})
	}
	return q
}

// choiceWeights assigns the peak weight to the favored choice and spreads the
// remainder over the rest. Later chapters tilt the spread toward lower choice
// ids, narrowing the effective distribution as the story closes in.
func choiceWeights(node Node, peak float64) []float64 {
	n := len(node.Choices)
	if n == 1 {
		return []float64{1}
	}

	peak = clampFloat(peak, weightFloor, 1-weightFloor*float64(n-1))
	fav := favoredIndex(node)

	spread := make([]float64, 0, n-1)
	total := 0.0
	for i := range node.Choices {
		if i == fav {
			continue
		}
		s := 1.0
		if node.Chapter != ChapterNightDinner {
			s = 1.0 / float64(1+len(spread))
		}
		spread = append(spread, s)
		total += s
	}

	weights := make([]float64, n)
	rest := 1 - peak
	j := 0
	for i := range node.Choices {
		if i == fav {
			weights[i] = peak
			continue
		}
		weights[i] = rest * spread[j] / total
		j++
	}

	// Floor clamp, then proportional renormalization of the remainder.
	clamped := 0.0
	free := 0.0
	for _, w := range weights {
		if w < weightFloor {
			clamped += weightFloor
		} else {
			free += w
		}
	}
	sum := 0.0
	for i, w := range weights {
		if w < weightFloor {
			weights[i] = weightFloor
		} else {
			weights[i] = w * (1 - clamped) / free
		}
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// favoredIndex picks the choice the distribution peaks on: the most
// cooperative option (highest relation delta, lowest id on ties).
func favoredIndex(node Node) int {
	fav := 0
	for i, c := range node.Choices {
		if c.RelationDelta > node.Choices[fav].RelationDelta {
			fav = i
		}
	}
	return fav
}

// drawChoice maps a unit draw through the quote's cumulative distribution
// and returns the realized choice id.
func drawChoice(q Quote, unit float64) int {
	cum := 0.0
	for _, opt := range q.Options {
		cum += opt.Weight
		if unit < cum {
			return opt.ChoiceID
		}
	}
	// Floating error can leave unit just above the final cumulative sum.
	return q.Options[len(q.Options)-1].ChoiceID
}

// weightSumValid reports whether the options sum to 1 within tolerance.
func weightSumValid(q Quote) bool {
	sum := 0.0
	for _, opt := range q.Options {
		sum += opt.Weight
	}
	return math.Abs(sum-1) <= weightTolerance
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
