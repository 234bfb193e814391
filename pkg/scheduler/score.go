package scheduler

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/papercomputeco/memlayer/pkg/embeddings"
	"github.com/papercomputeco/memlayer/pkg/memcube"
)

const (
	recencyHorizon = 7 * 24 * time.Hour
	frequencyCap   = 50
)

// Weights are the coefficients of the score terms. They sum to 1.
type Weights struct {
	Relevance float64 `json:"relevance"`
	Recency   float64 `json:"recency"`
	Frequency float64 `json:"frequency"`
	Priority  float64 `json:"priority"`
	Task      float64 `json:"task"`
}

// DefaultWeights returns 0.4 / 0.2 / 0.2 / 0.1 / 0.1.
func DefaultWeights() Weights {
	return Weights{Relevance: 0.4, Recency: 0.2, Frequency: 0.2, Priority: 0.1, Task: 0.1}
}

// Signals are the per-candidate inputs of the score, each in [0, 1].
type Signals struct {
	Relevance float64 `json:"relevance"`
	Recency   float64 `json:"recency"`
	Frequency float64 `json:"frequency"`
	Priority  float64 `json:"priority"`
	Task      float64 `json:"task"`
}

// Score is the weighted sum of s.
func (w Weights) Score(s Signals) float64 {
	return w.Relevance*s.Relevance +
		w.Recency*s.Recency +
		w.Frequency*s.Frequency +
		w.Priority*s.Priority +
		w.Task*s.Task
}

// RelevanceScorer computes the relevance term of a candidate.
type RelevanceScorer interface {
	Relevance(req *Request, r *memcube.Record) float64
}

// TagScorer scores the fraction of requested tags that appear in the label,
// ignoring case.
type TagScorer struct{}

func (TagScorer) Relevance(req *Request, r *memcube.Record) float64 {
	return tagMatch(req.TagsNeeded, r.Label)
}

func tagMatch(tags []string, label string) float64 {
	if len(tags) == 0 {
		return 0
	}
	label = strings.ToLower(label)
	found := 0
	for _, t := range tags {
		if strings.Contains(label, strings.ToLower(t)) {
			found++
		}
	}
	return float64(found) / float64(len(tags))
}

// SemanticScorer blends tag matching with the cosine similarity between the
// request embedding and the record embedding. When either side has no
// vector it falls back to tag matching alone.
type SemanticScorer struct{}

func (SemanticScorer) Relevance(req *Request, r *memcube.Record) float64 {
	tags := tagMatch(req.TagsNeeded, r.Label)
	if len(req.Embedding) == 0 || len(r.Embedding) == 0 {
		return tags
	}
	cos := embeddings.Cosine(req.Embedding, r.Embedding)
	if len(req.TagsNeeded) == 0 {
		return cos
	}
	return (tags + cos) / 2
}

// signals computes every term for r at now.
func signals(scorer RelevanceScorer, req *Request, r *memcube.Record, now time.Time) Signals {
	s := Signals{
		Relevance: scorer.Relevance(req, r),
		Frequency: min(1, float64(r.UsageHits)/frequencyCap),
		Priority:  r.Priority.Weight(),
	}
	if r.LastUsed != nil {
		age := now.Sub(*r.LastUsed)
		s.Recency = min(1, max(0, 1-float64(age)/float64(recencyHorizon)))
	}
	if r.LinkedTo(req.TaskID) {
		s.Task = 1
	}
	return s
}

// Item is one scheduled record.
type Item struct {
	RecordID string           `json:"record_id"`
	Label    string           `json:"label"`
	Priority memcube.Priority `json:"priority"`
	Score    float64          `json:"score"`
	Tokens   int              `json:"tokens"`
	Signals  Signals          `json:"signals"`

	lastUsed time.Time
}

// Rank sorts items by score, then priority tier, then most recent use.
func Rank(items []Item) {
	slices.SortStableFunc(items, func(a, b Item) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Priority.Weight(), a.Priority.Weight()); c != 0 {
			return c
		}
		if c := b.lastUsed.Compare(a.lastUsed); c != 0 {
			return c
		}
		return cmp.Compare(a.RecordID, b.RecordID)
	})
}

// Pack greedily accepts ranked items while the running total fits budget.
// An item that does not fit the remaining budget is skipped and the scan
// continues with the next one.
func Pack(ranked []Item, budget int) (accepted []Item, total int) {
	accepted = []Item{}
	for _, it := range ranked {
		if it.Tokens > budget-total {
			continue
		}
		accepted = append(accepted, it)
		total += it.Tokens
	}
	return accepted, total
}
