// Package mcp exposes the FAQ engine to LLM agents over the Model Context
// Protocol, so an assistant can answer visitor questions from the knowledge
// base and store confirmed corrections back into it.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sanonone/varanus/pkg/engine"
)

const instructions = `Varanus holds a tour operator's FAQ knowledge base (Komodo National Park trips by default).
Call ask_question to answer a visitor question. When "matched" is false, relay the suggestions
instead of inventing an answer. Call teach only for answers confirmed by staff.`

func NewMCPServer(eng *engine.Engine, defaultCollection string) *mcp.Server {
	service := NewService(eng, defaultCollection)

	// Create Server instance
	s := mcp.NewServer(&mcp.Implementation{
		Name:    "Varanus FAQ",
		Version: "0.3.0",
	}, &mcp.ServerOptions{Instructions: instructions})

	// Register Tools using the Generic AddTool which inspects structs!

	mcp.AddTool(s, &mcp.Tool{
		Name:        "ask_question",
		Description: "Answer a visitor question from the FAQ knowledge base. Returns the stored answer, match confidence, and near-miss suggestions when nothing matched.",
	}, service.AskQuestion)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "suggest_questions",
		Description: "List stored questions similar to a text, to check what the knowledge base covers.",
	}, service.SuggestQuestions)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "teach",
		Description: "Store a new question/answer pair so future queries get the answer directly.",
	}, service.Teach)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "kb_stats",
		Description: "Report knowledge base size, collections and configuration.",
	}, service.KBStats)

	return s
}

// Serve runs the MCP server over stdio until the client disconnects or the
// context is canceled. stdout carries protocol frames only; all logging must
// go to stderr.
func Serve(ctx context.Context, eng *engine.Engine, defaultCollection string) error {
	return NewMCPServer(eng, defaultCollection).Run(ctx, &mcp.StdioTransport{})
}
