// Package scheduler is the RelevanceScheduler. It picks the memory records
// an agent should see for a task, ranked by a weighted score and packed
// into a token budget. It never writes records itself; access bookkeeping
// for accepted items is handed to the record store in the background.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/papercomputeco/memlayer/pkg/embeddings"
	"github.com/papercomputeco/memlayer/pkg/governance"
	"github.com/papercomputeco/memlayer/pkg/logger"
	"github.com/papercomputeco/memlayer/pkg/memcube"
	"github.com/papercomputeco/memlayer/pkg/metrics"
	"github.com/papercomputeco/memlayer/pkg/storage"
	"github.com/papercomputeco/memlayer/pkg/worker"
)

const (
	defaultResultTTL = 2 * time.Minute
	defaultBudget    = 4000

	// CacheKeyPrefix prefixes every schedule cache key.
	CacheKeyPrefix = "sched:"
)

// Records is the slice of the record store the scheduler needs.
type Records interface {
	// List returns the readable records matching q.
	List(ctx context.Context, q storage.RecordQuery) ([]*memcube.Record, error)

	// RecordAccess counts one use of a record.
	RecordAccess(ctx context.Context, id string) (*memcube.Record, error)
}

// Config configures a Scheduler.
type Config struct {
	Records Records

	// Scorer computes the relevance term. Defaults to SemanticScorer.
	Scorer  RelevanceScorer
	Weights *Weights

	// Embedder turns a request Query into an embedding. Optional.
	Embedder embeddings.Embedder

	// ResultTTL is how long identical requests are served from cache.
	ResultTTL time.Duration

	// DefaultBudget applies when a request carries no budget.
	DefaultBudget int

	// Pool runs access recording for accepted items. When nil a goroutine
	// per schedule is used.
	Pool *worker.Pool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Request asks for the working set of one agent task.
type Request struct {
	AgentID    string   `json:"agent_id"`
	TaskID     string   `json:"task_id"`
	ProjectID  string   `json:"project_id"`
	TagsNeeded []string `json:"tags_needed"`

	// TokenBudget caps the total tokens of the result. Nil means the
	// configured default; an explicit 0 yields an empty result.
	TokenBudget *int `json:"token_budget,omitempty"`

	PreferHot bool      `json:"prefer_hot"`
	Embedding []float32 `json:"embedding,omitempty"`

	// Query is embedded with the configured embedder when Embedding is empty.
	Query string `json:"query,omitempty"`
}

// Result is the accepted working set.
type Result struct {
	Items       []Item `json:"items"`
	TotalTokens int    `json:"total_tokens"`
	TokenBudget int    `json:"token_budget"`
	Candidates  int    `json:"candidates"`
	CacheKey    string `json:"cache_key"`
	Cached      bool   `json:"cached"`
}

// Scheduler implements the schedule operation.
type Scheduler struct {
	records       Records
	scorer        RelevanceScorer
	weights       Weights
	embedder      embeddings.Embedder
	defaultBudget int
	pool          *worker.Pool
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time

	results   *gocache.Cache
	resultTTL atomic.Int64
}

// New creates a Scheduler.
func New(c Config) (*Scheduler, error) {
	if c.Records == nil {
		return nil, fmt.Errorf("scheduler requires a record source")
	}
	s := &Scheduler{
		records:       c.Records,
		scorer:        c.Scorer,
		weights:       DefaultWeights(),
		embedder:      c.Embedder,
		defaultBudget: c.DefaultBudget,
		pool:          c.Pool,
		metrics:       c.Metrics,
		logger:        logger.OrNop(c.Logger).With("component", "scheduler"),
		now:           c.Now,
	}
	if c.Weights != nil {
		s.weights = *c.Weights
	}
	if s.scorer == nil {
		s.scorer = SemanticScorer{}
	}
	if s.defaultBudget <= 0 {
		s.defaultBudget = defaultBudget
	}
	if s.now == nil {
		s.now = time.Now
	}

	ttl := c.ResultTTL
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	s.resultTTL.Store(int64(ttl))
	s.results = gocache.New(ttl, 2*ttl)
	return s, nil
}

// SetResultTTL changes the TTL applied to results cached from now on.
func (s *Scheduler) SetResultTTL(ttl time.Duration) {
	if ttl > 0 {
		s.resultTTL.Store(int64(ttl))
	}
}

// Flush drops every cached result.
func (s *Scheduler) Flush() {
	s.results.Flush()
}

// Schedule ranks the candidates of req and packs them into its budget.
// Identical requests by callers with the same roles within the result TTL
// are answered from cache. Either way accepted items are reported back to
// the record store asynchronously.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (*Result, error) {
	start := s.now()
	if strings.TrimSpace(req.ProjectID) == "" {
		return nil, fmt.Errorf("%w: project_id is required", storage.ErrInvalidInput)
	}
	budget := s.defaultBudget
	if req.TokenBudget != nil {
		budget = *req.TokenBudget
	}
	if budget < 0 {
		return nil, fmt.Errorf("%w: token_budget must not be negative", storage.ErrInvalidInput)
	}
	req.TokenBudget = &budget

	key := CacheKey(req, governance.FromContext(ctx))
	if v, ok := s.results.Get(key); ok {
		cached := *v.(*Result)
		cached.Items = slices.Clone(cached.Items)
		cached.Cached = true
		s.metrics.Scheduled("cached", s.now().Sub(start), cached.TotalTokens)
		s.recordAccess(cached.Items)
		return &cached, nil
	}

	if len(req.Embedding) == 0 && req.Query != "" && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, req.Query)
		if err != nil {
			s.logger.Warn("query embedding failed, scoring on tags only", "error", err)
		} else {
			req.Embedding = vec
		}
	}

	q := storage.RecordQuery{ProjectID: req.ProjectID}
	if req.PreferHot {
		q.Priorities = []memcube.Priority{memcube.PriorityHot, memcube.PriorityWarm}
	}
	candidates, err := s.records.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}

	now := s.now()
	items := make([]Item, 0, len(candidates))
	for _, r := range candidates {
		if !r.Schedulable() {
			continue
		}
		sig := signals(s.scorer, &req, r, now)
		it := Item{
			RecordID: r.ID,
			Label:    r.Label,
			Priority: r.Priority,
			Score:    s.weights.Score(sig),
			Tokens:   r.Payload.TokenCount,
			Signals:  sig,
		}
		if r.LastUsed != nil {
			it.lastUsed = *r.LastUsed
		}
		items = append(items, it)
	}
	Rank(items)
	accepted, total := Pack(items, budget)

	res := &Result{
		Items:       accepted,
		TotalTokens: total,
		TokenBudget: budget,
		Candidates:  len(items),
		CacheKey:    key,
	}
	s.results.Set(key, res, time.Duration(s.resultTTL.Load()))

	s.metrics.Scheduled("computed", s.now().Sub(start), total)
	s.logger.Debug("schedule computed",
		"project", req.ProjectID,
		"task", req.TaskID,
		"candidates", len(items),
		"accepted", len(accepted),
		"tokens", total,
		"budget", budget,
	)

	out := *res
	out.Items = slices.Clone(res.Items)
	s.recordAccess(out.Items)
	return &out, nil
}

// recordAccess reports accepted items to the record store without blocking
// the caller.
func (s *Scheduler) recordAccess(items []Item) {
	if len(items) == 0 {
		return
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.RecordID
	}

	if s.pool == nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			for _, id := range ids {
				_, err := s.records.RecordAccess(ctx, id)
				s.metrics.JobFinished("record_access", err)
				if err != nil {
					s.logger.Warn("record access failed", "id", id, "error", err)
				}
			}
		}()
		return
	}

	for _, id := range ids {
		ok := s.pool.Enqueue(worker.Job{
			Kind:    "record_access",
			Subject: id,
			Run: func(ctx context.Context) error {
				_, err := s.records.RecordAccess(ctx, id)
				return err
			},
		})
		if !ok {
			s.metrics.AccessDropped()
		}
	}
}

// Budget returns a pointer to n for Request.TokenBudget.
func Budget(n int) *int { return &n }

// CacheKey derives the result cache key from the request fields that
// influence the result and the caller's access rights.
func CacheKey(req Request, caller governance.Caller) string {
	tags := make([]string, 0, len(req.TagsNeeded))
	for _, t := range req.TagsNeeded {
		tags = append(tags, strings.ToLower(t))
	}
	slices.Sort(tags)
	rs := slices.Clone(caller.Roles)
	slices.Sort(rs)
	budget := -1
	if req.TokenBudget != nil {
		budget = *req.TokenBudget
	}

	canonical, _ := json.Marshal(struct {
		Agent     string    `json:"a"`
		Task      string    `json:"t"`
		Project   string    `json:"p"`
		Tags      []string  `json:"g"`
		Budget    int       `json:"b"`
		PreferHot bool      `json:"h"`
		Embedding []float32 `json:"e"`
		Query     string    `json:"q"`
		Roles     []string  `json:"r"`
		System    bool      `json:"s"`
	}{req.AgentID, req.TaskID, req.ProjectID, tags, budget, req.PreferHot, req.Embedding, req.Query, rs, caller.System})

	sum := sha256.Sum256(canonical)
	return CacheKeyPrefix + hex.EncodeToString(sum[:])
}
