package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sanonone/varanus/pkg/engine"
)

type Service struct {
	engine     *engine.Engine
	defaultCol string
}

func NewService(eng *engine.Engine, defaultCollection string) *Service {
	if defaultCollection == "" {
		defaultCollection = "komodo"
	}
	return &Service{
		engine:     eng,
		defaultCol: defaultCollection,
	}
}

// collection resolves the optional per-call collection argument.
func (s *Service) collection(name string) string {
	if name == "" {
		return s.defaultCol
	}
	return name
}

// --- Tool Handlers ---

func (s *Service) AskQuestion(ctx context.Context, req *mcp.CallToolRequest, args AskArgs) (*mcp.CallToolResult, AskResult, error) {
	// The MCP caller is itself a language model, so answer synthesis is
	// skipped: it gets the stored answer plus match data and phrases the
	// reply itself.
	opts := []engine.AskOption{engine.WithoutSynthesis()}
	if args.Threshold > 0 {
		opts = append(opts, engine.WithThreshold(args.Threshold))
	}

	ans, err := s.engine.Ask(ctx, s.collection(args.Collection), args.Query, opts...)
	if err != nil {
		return nil, AskResult{}, err
	}

	res := AskResult{
		Answer:   ans.Text,
		Matched:  ans.Matched,
		Question: ans.Question,
		Score:    ans.Score,
		Source:   ans.Source,
	}
	for _, sug := range ans.Suggestions {
		res.Suggestions = append(res.Suggestions, sug.Question)
	}
	return nil, res, nil
}

func (s *Service) SuggestQuestions(ctx context.Context, req *mcp.CallToolRequest, args SuggestArgs) (*mcp.CallToolResult, SuggestResult, error) {
	limit := args.Limit
	if limit <= 0 {
		limit = 5
	}

	suggestions, err := s.engine.Suggest(ctx, s.collection(args.Collection), args.Query, limit)
	if err != nil {
		return nil, SuggestResult{}, err
	}

	res := SuggestResult{Questions: []string{}}
	for _, sug := range suggestions {
		res.Questions = append(res.Questions, fmt.Sprintf("%s (similarity %.2f)", sug.Question, sug.Score))
	}
	if len(res.Questions) == 0 {
		res.Questions = []string{"The knowledge base has no questions similar to this."}
	}
	return nil, res, nil
}

func (s *Service) Teach(ctx context.Context, req *mcp.CallToolRequest, args TeachArgs) (*mcp.CallToolResult, TeachResult, error) {
	var meta map[string]any
	if args.Category != "" {
		meta = map[string]any{"category": args.Category}
	}

	id, err := s.engine.QAAdd(s.collection(args.Collection), args.Question, args.Answer, meta)
	if err != nil {
		return nil, TeachResult{}, err
	}

	return nil, TeachResult{EntryID: id, Status: "learned"}, nil
}

func (s *Service) KBStats(ctx context.Context, req *mcp.CallToolRequest, args StatsArgs) (*mcp.CallToolResult, StatsResult, error) {
	st := s.engine.Stats()

	res := StatsResult{
		Collections:  []string{},
		TotalEntries: st.TotalEntries,
		TotalVectors: st.TotalVectors,
		Synthesizer:  st.Synthesizer,
	}
	for _, ci := range st.Collections {
		line := fmt.Sprintf("%s: %d entries (%s, %s)", ci.Name, ci.EntryCount, ci.Language, ci.Metric)
		if ci.Embedder != "" {
			line += fmt.Sprintf(", embedder %s", ci.Embedder)
		}
		res.Collections = append(res.Collections, line)
	}
	return nil, res, nil
}
