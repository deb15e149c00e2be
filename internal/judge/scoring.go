package judge

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
)

// Score band ceilings.
const (
	MaxCorrectness = 400.0
	MaxEfficiency  = 300.0
	MaxQuality     = 200.0
	MaxCreativity  = 100.0
)

// Grader fallback verdict when the AI service fails: 5/10 on both axes.
const (
	DefaultQuality10    = 5.0
	DefaultCreativity10 = 5.0
)

const (
	hintPenaltyStep   = 0.05
	maxPenalizedHints = 3
)

// OutputsMatch compares a program's stdout against the expected output.
// Both sides are JSON-decoded and deep-compared so that formatting
// differences don't matter; when either side is not valid JSON the
// comparison falls back to trimmed string equality.
func OutputsMatch(actual, expected string) bool {
	var a, e interface{}
	if json.Unmarshal([]byte(actual), &a) == nil && json.Unmarshal([]byte(expected), &e) == nil {
		return reflect.DeepEqual(a, e)
	}
	return strings.TrimSpace(actual) == strings.TrimSpace(expected)
}

// CorrectnessScore is the weighted pass ratio scaled to 0..400. Hidden
// cases count the same as visible ones. Cases with no weight count as 1.
func CorrectnessScore(outcomes []CaseOutcome) float64 {
	var passed, total float64
	for _, o := range outcomes {
		w := o.Weight
		if w <= 0 {
			w = 1
		}
		total += w
		if o.Passed {
			passed += w
		}
	}
	if total == 0 {
		return 0
	}
	return round2(MaxCorrectness * passed / total)
}

// MeanCaseTimeMs averages per-case execution time. Timed-out cases report
// their full deadline, which is the natural penalty.
func MeanCaseTimeMs(outcomes []CaseOutcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	var sum float64
	for _, o := range outcomes {
		sum += float64(o.TimeMs)
	}
	return sum / float64(len(outcomes))
}

// EfficiencyScore scales a player's mean case time against a baseline to
// 0..300. At or under the baseline earns full marks; above it the score
// decays proportionally. The pipeline uses the median of the two players'
// means as the baseline when no per-challenge optimum is known.
func EfficiencyScore(meanMs, baselineMs float64) float64 {
	if baselineMs <= 0 {
		return 0
	}
	if meanMs <= 0 {
		meanMs = 1
	}
	ratio := baselineMs / meanMs
	if ratio > 1 {
		ratio = 1
	}
	return round2(MaxEfficiency * ratio)
}

// QualityPoints scales the grader's 0..10 quality verdict to 0..200.
func QualityPoints(quality10 float64) float64 {
	return round2(clampScore(quality10) * MaxQuality / 10)
}

// CreativityPoints scales the grader's 0..10 creativity verdict to 0..100.
func CreativityPoints(creativity10 float64) float64 {
	return round2(clampScore(creativity10) * MaxCreativity / 10)
}

// ApplyHintPenalty discounts a score by 5% per hint used, capped at three
// hints.
func ApplyHintPenalty(score float64, hintsUsed int) float64 {
	if hintsUsed > maxPenalizedHints {
		hintsUsed = maxPenalizedHints
	}
	if hintsUsed < 0 {
		hintsUsed = 0
	}
	return round2(score * (1 - hintPenaltyStep*float64(hintsUsed)))
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
