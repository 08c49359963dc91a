package orchestrator

import (
	"strings"
	"time"
)

// Profile is an agent's capability profile for the do-nothing gate.
type Profile struct {
	// Topics are relevance keywords.
	Topics []string
	// Verbs are actionability triggers.
	Verbs []string
	// FreshnessWindow is how long a task stays fully fresh for this agent;
	// the score decays linearly to zero at twice the window.
	FreshnessWindow time.Duration
	// BaseValue is the agent's declared value in [0,1].
	BaseValue float64
}

// Scores holds the four do-nothing axes, each in [0,1].
type Scores struct {
	Relevance     float64 `json:"relevance"`
	Actionability float64 `json:"actionability"`
	Freshness     float64 `json:"freshness"`
	Value         float64 `json:"value"`
}

// Min returns the lowest axis. An agent is excluded from delegation when its
// minimum axis falls below the configured threshold.
func (s Scores) Min() float64 {
	min := s.Relevance
	for _, v := range []float64{s.Actionability, s.Freshness, s.Value} {
		if v < min {
			min = v
		}
	}
	return min
}

// ScoreAgent rates a task context against an agent profile. It is a pure
// function of its inputs: identical (context, profile) pairs always yield
// identical scores, so inclusion decisions are reproducible and testable.
func ScoreAgent(tc TaskContext, p Profile) Scores {
	words := make(map[string]bool, len(tc.Words))
	for _, w := range tc.Words {
		words[w] = true
	}
	return Scores{
		Relevance:     matchFraction(words, p.Topics, 3),
		Actionability: matchFraction(words, p.Verbs, 1),
		Freshness:     freshness(tc.Age, p.FreshnessWindow),
		Value:         value(p.BaseValue, tc.Priority),
	}
}

// matchFraction scores how many of the profile terms appear in the task.
// The denominator saturates at limit so verbose profiles are not penalized;
// verbs use limit 1 because one action word is enough to act on.
func matchFraction(words map[string]bool, terms []string, limit int) float64 {
	if len(terms) == 0 {
		return 0
	}
	hits := 0
	for _, t := range terms {
		if words[strings.ToLower(t)] {
			hits++
		}
	}
	denom := len(terms)
	if denom > limit {
		denom = limit
	}
	f := float64(hits) / float64(denom)
	if f > 1 {
		f = 1
	}
	return f
}

func freshness(age, window time.Duration) float64 {
	if window <= 0 {
		return 1
	}
	if age <= window {
		return 1
	}
	if age >= 2*window {
		return 0
	}
	return 1 - float64(age-window)/float64(window)
}

func value(base float64, priority int) float64 {
	v := base
	if priority > 0 {
		v += 0.1 * float64(priority)
	}
	if v > 1 {
		v = 1
	}
	if v < 0 {
		v = 0
	}
	return v
}

// NormalizeWords lowercases and splits text into match tokens, stripping
// simple punctuation.
func NormalizeWords(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,:;!?\"'()[]")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
