package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sanonone/varanus/pkg/core"
	"github.com/sanonone/varanus/pkg/core/distance"
	"github.com/sanonone/varanus/pkg/core/textmatch"
	"github.com/sanonone/varanus/pkg/core/types"
	"github.com/sanonone/varanus/pkg/llm"
	"github.com/sanonone/varanus/pkg/metrics"
)

// Canned reply lines. The REPL and the HTTP clients render around these.
const (
	emptyQueryText = "Please ask a question."
	noMatchText    = "I'm not sure I understand your question."
)

// synthesisPrompt frames the LLM as a retrieval-grounded assistant. The %s
// receives the reference entries.
const synthesisPrompt = `You are a helpful FAQ assistant. Answer the user's question using ONLY the reference entries below. If they do not contain the answer, say you do not know and point at the closest entry. Keep the reply short and factual.

Reference entries:
%s`

type askConfig struct {
	matching    MatchingOptions
	noSynthesis bool
}

// AskOption overrides the engine's matching defaults for one call.
type AskOption func(*askConfig)

// WithThreshold overrides the confident-answer threshold.
func WithThreshold(t float64) AskOption {
	return func(c *askConfig) { c.matching.Threshold = t }
}

// WithStrategy forces "lexical", "semantic" or "hybrid" for this call.
func WithStrategy(s string) AskOption {
	return func(c *askConfig) { c.matching.Strategy = s }
}

// WithMaxSuggestions overrides the "did you mean" list length.
func WithMaxSuggestions(n int) AskOption {
	return func(c *askConfig) { c.matching.MaxSuggestions = n }
}

// WithoutSynthesis disables the LLM fallback for this call even when a
// synthesizer is configured.
func WithoutSynthesis() AskOption {
	return func(c *askConfig) { c.noSynthesis = true }
}

// fusedHit carries an entry's combined score along with the per-signal
// contributions that produced it.
type fusedHit struct {
	id       uint32
	score    float64
	lexical  float64
	semantic float64
}

// Ask answers a question from the collection. The pipeline short-circuits
// on a normalized exact hit, otherwise recalls candidates, scores them
// lexically and (when the collection has an embedder) semantically, fuses
// the scores, and answers when the best fused score clears the threshold.
// Below the threshold it returns "did you mean" suggestions and, when a
// synthesizer is configured, an LLM-composed reply grounded on the closest
// entries.
//
// Ask never mutates state; any number of callers can ask concurrently with
// teaching.
func (e *Engine) Ask(ctx context.Context, collection, query string, opts ...AskOption) (Answer, error) {
	cfg := askConfig{matching: e.opts.Matching}
	for _, o := range opts {
		o(&cfg)
	}
	m := cfg.matching

	info, err := e.DB.CollectionInfoFor(collection)
	if err != nil {
		return Answer{}, err
	}

	ans := Answer{Collection: collection, Source: types.SourceNone}

	normQuery := textmatch.Normalize(query)
	if normQuery == "" {
		ans.Text = emptyQueryText
		return ans, nil
	}

	// Normalized-question identity beats any scoring.
	if entry, found, err := e.DB.GetEntryByQuestion(collection, normQuery); err != nil {
		return Answer{}, err
	} else if found {
		ans.Text = entry.Answer
		ans.Matched = true
		ans.Question = entry.Question
		ans.EntryID = entry.ID
		ans.Score = 1.0
		ans.Source = types.SourceExact
		e.observeAsk(collection, ans.Source, ans.Score)
		return ans, nil
	}

	strategy, err := e.resolveStrategy(m.Strategy, info)
	if err != nil {
		return Answer{}, err
	}

	hits, applied, err := e.rank(ctx, collection, info, strategy, query, normQuery, m)
	if err != nil {
		return Answer{}, err
	}
	if len(hits) > 0 {
		ans.Score = hits[0].score
	}

	if len(hits) > 0 && hits[0].score >= m.Threshold {
		if entry, found, err := e.DB.GetEntry(collection, hits[0].id); err == nil && found {
			ans.Text = entry.Answer
			ans.Matched = true
			ans.Question = entry.Question
			ans.EntryID = entry.ID
			ans.Source = sourceFor(applied, hits[0])
			e.observeAsk(collection, ans.Source, ans.Score)
			return ans, nil
		}
		// The entry raced with a delete; fall through to suggestions.
	}

	ans.Text = noMatchText
	ans.Suggestions = e.suggestionsFromHits(collection, hits, m)

	if synth := e.synth(); synth != nil && !cfg.noSynthesis && len(ans.Suggestions) > 0 {
		if reply, err := e.synthesize(ctx, synth, collection, query, ans.Suggestions); err != nil {
			slog.Warn("answer synthesis failed", "collection", collection, "error", err)
		} else {
			ans.Text = reply
			ans.Source = types.SourceGenerated
		}
	}

	e.observeAsk(collection, ans.Source, ans.Score)
	return ans, nil
}

// Suggest returns the questions closest to the query without answering it.
// n caps the list; n <= 0 uses the engine default.
func (e *Engine) Suggest(ctx context.Context, collection, query string, n int) ([]types.Suggestion, error) {
	info, err := e.DB.CollectionInfoFor(collection)
	if err != nil {
		return nil, err
	}

	normQuery := textmatch.Normalize(query)
	if normQuery == "" {
		return nil, nil
	}

	m := e.opts.Matching
	if n > 0 {
		m.MaxSuggestions = n
	}
	strategy, err := e.resolveStrategy(m.Strategy, info)
	if err != nil {
		return nil, err
	}
	hits, _, err := e.rank(ctx, collection, info, strategy, query, normQuery, m)
	if err != nil {
		return nil, err
	}
	return e.suggestionsFromHits(collection, hits, m), nil
}

// resolveStrategy maps the requested strategy onto what the collection can
// actually run. Auto prefers hybrid when the collection's embedder is
// registered.
func (e *Engine) resolveStrategy(requested string, info core.CollectionInfo) (string, error) {
	switch requested {
	case StrategyAuto:
		if info.Embedder != "" {
			if _, ok := e.embedder(info.Embedder); ok {
				return StrategyHybrid, nil
			}
		}
		return StrategyLexical, nil
	case StrategySemantic:
		if info.Embedder == "" {
			return "", fmt.Errorf("collection %q has no embedder configured", info.Name)
		}
		if _, ok := e.embedder(info.Embedder); !ok {
			return "", fmt.Errorf("embedder %q is not registered", info.Embedder)
		}
		return requested, nil
	case StrategyLexical, StrategyHybrid:
		return requested, nil
	default:
		return "", fmt.Errorf("unknown matching strategy %q", requested)
	}
}

// rank produces fused hits sorted best-first. The lexical and semantic
// signals are computed in parallel; a failing semantic side degrades hybrid
// to lexical with a warning, while an explicitly requested semantic run
// propagates the failure.
func (e *Engine) rank(ctx context.Context, collection string, info core.CollectionInfo, strategy, rawQuery, normQuery string, m MatchingOptions) ([]fusedHit, string, error) {
	ids, err := e.recallSet(collection, rawQuery, m.CandidateK)
	if err != nil {
		return nil, "", err
	}
	candidates, err := e.DB.QuestionCandidates(collection, ids)
	if err != nil {
		return nil, "", err
	}

	var (
		wg       sync.WaitGroup
		lexical  []textmatch.Scored
		semantic map[uint32]float64
		semErr   error
	)
	if strategy != StrategySemantic {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lexical = textmatch.TopN(normQuery, candidates, len(candidates), 0)
		}()
	}
	if strategy != StrategyLexical {
		wg.Add(1)
		go func() {
			defer wg.Done()
			semantic, semErr = e.semanticScores(ctx, collection, info, rawQuery, m.CandidateK)
		}()
	}
	wg.Wait()

	applied := strategy
	if semErr != nil {
		if strategy == StrategySemantic {
			return nil, "", fmt.Errorf("semantic search failed: %w", semErr)
		}
		slog.Warn("semantic scoring unavailable, falling back to lexical",
			"collection", collection, "error", semErr)
		semantic = nil
		applied = StrategyLexical
	}

	return fuse(lexical, semantic, applied, m.Alpha), applied, nil
}

// recallSet picks the candidate entries worth scoring. Small collections
// are scanned whole; larger ones recall the BM25 top hits on both fields. A
// query with no indexed token overlap falls back to the full scan so pure
// typo queries still match.
func (e *Engine) recallSet(collection, query string, k int) (map[uint32]struct{}, error) {
	total, err := e.DB.EntryCount(collection)
	if err != nil {
		return nil, err
	}
	if k <= 0 || total <= k {
		return nil, nil
	}

	ids := make(map[uint32]struct{}, 2*k)
	for _, field := range []string{core.FieldQuestion, core.FieldAnswer} {
		results, err := e.DB.TextSearch(collection, field, query)
		if err != nil {
			return nil, err
		}
		if len(results) > k {
			results = results[:k]
		}
		for _, r := range results {
			ids[r.DocID] = struct{}{}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

// semanticScores embeds the query and maps the nearest entries onto [0,1]
// similarities.
func (e *Engine) semanticScores(ctx context.Context, collection string, info core.CollectionInfo, query string, k int) (map[uint32]float64, error) {
	emb, ok := e.embedder(info.Embedder)
	if !ok {
		if info.Embedder == "" {
			return nil, fmt.Errorf("collection %q has no embedder configured", collection)
		}
		return nil, fmt.Errorf("embedder %q is not registered", info.Embedder)
	}

	vec, err := emb.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if info.Metric == distance.Cosine {
		distance.Normalize(vec)
	}

	if k <= 0 {
		k = DefaultMatchingOptions().CandidateK
	}
	results, err := e.DB.VectorSearch(collection, vec, k, nil)
	if err != nil {
		return nil, err
	}

	scores := make(map[uint32]float64, len(results))
	for _, r := range results {
		scores[r.DocID] = similarityFromDistance(info.Metric, r.Score)
	}
	return scores, nil
}

// similarityFromDistance maps an index distance onto [0,1]. Cosine distance
// is 1-similarity already; squared euclidean uses 1/(1+d) squashing.
func similarityFromDistance(metric distance.DistanceMetric, d float64) float64 {
	switch metric {
	case distance.Cosine:
		s := 1.0 - d
		if s < 0 {
			s = 0
		} else if s > 1 {
			s = 1
		}
		return s
	default:
		return 1.0 / (1.0 + d)
	}
}

// fuse combines the per-signal scores according to the applied strategy.
func fuse(lexical []textmatch.Scored, semantic map[uint32]float64, strategy string, alpha float64) []fusedHit {
	switch strategy {
	case StrategySemantic:
		hits := make([]fusedHit, 0, len(semantic))
		for id, s := range semantic {
			hits = append(hits, fusedHit{id: id, score: s, semantic: s})
		}
		sortHits(hits)
		return hits

	case StrategyHybrid:
		byID := make(map[uint32]*fusedHit, len(lexical)+len(semantic))
		for _, l := range lexical {
			byID[l.ID] = &fusedHit{id: l.ID, lexical: l.Score}
		}
		for id, s := range semantic {
			h, ok := byID[id]
			if !ok {
				h = &fusedHit{id: id}
				byID[id] = h
			}
			h.semantic = s
		}
		hits := make([]fusedHit, 0, len(byID))
		for _, h := range byID {
			h.score = alpha*h.lexical + (1-alpha)*h.semantic
			hits = append(hits, *h)
		}
		sortHits(hits)
		return hits

	default:
		hits := make([]fusedHit, 0, len(lexical))
		for _, l := range lexical {
			hits = append(hits, fusedHit{id: l.ID, score: l.Score, lexical: l.Score})
		}
		sortHits(hits)
		return hits
	}
}

func sortHits(hits []fusedHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})
}

// sourceFor labels a winning hit by the signal that carried it.
func sourceFor(strategy string, h fusedHit) string {
	switch strategy {
	case StrategySemantic:
		return types.SourceSemantic
	case StrategyHybrid:
		if h.semantic == 0 {
			return types.SourceLexical
		}
		if h.lexical == 0 {
			return types.SourceSemantic
		}
		return types.SourceHybrid
	default:
		return types.SourceLexical
	}
}

// suggestionsFromHits converts the best scored hits above the floor into
// displayable suggestions carrying the original question text.
func (e *Engine) suggestionsFromHits(collection string, hits []fusedHit, m MatchingOptions) []types.Suggestion {
	if m.MaxSuggestions <= 0 {
		return nil
	}

	ids := make(map[uint32]struct{}, m.MaxSuggestions)
	for _, h := range hits { // hits arrive sorted best-first
		if h.score < m.SuggestionFloor {
			break
		}
		ids[h.id] = struct{}{}
		if len(ids) == m.MaxSuggestions {
			break
		}
	}
	if len(ids) == 0 {
		return nil
	}

	entries, err := e.DB.Entries(collection, ids)
	if err != nil {
		return nil
	}
	byID := make(map[uint32]core.Entry, len(entries))
	for _, entry := range entries {
		byID[entry.ID] = entry
	}

	out := make([]types.Suggestion, 0, len(ids))
	for _, h := range hits {
		entry, ok := byID[h.id]
		if !ok {
			continue
		}
		out = append(out, types.Suggestion{EntryID: h.id, Question: entry.Question, Score: h.score})
		if len(out) == m.MaxSuggestions {
			break
		}
	}
	return out
}

// synthesize composes an answer from the suggestion entries via the
// configured LLM.
func (e *Engine) synthesize(ctx context.Context, synth llm.Client, collection, query string, suggestions []types.Suggestion) (string, error) {
	ids := make(map[uint32]struct{}, len(suggestions))
	for _, s := range suggestions {
		ids[s.EntryID] = struct{}{}
	}
	entries, err := e.DB.Entries(collection, ids)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, entry := range entries {
		fmt.Fprintf(&sb, "Q: %s\nA: %s\n\n", entry.Question, entry.Answer)
	}
	return synth.Chat(ctx, fmt.Sprintf(synthesisPrompt, sb.String()), query)
}

func (e *Engine) observeAsk(collection, source string, score float64) {
	metrics.QuestionsTotal.WithLabelValues(collection, source).Inc()
	metrics.MatchScore.WithLabelValues(collection).Observe(score)
}
