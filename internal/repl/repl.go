// Package repl implements the interactive terminal chat loop, the default
// surface of the varanus binary. Input and output are injected so the loop
// can be scripted in tests.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sanonone/varanus/pkg/engine"
)

// exitWords end the conversation when typed on their own.
var exitWords = map[string]bool{
	"exit":    true,
	"quit":    true,
	"bye":     true,
	"goodbye": true,
}

type REPL struct {
	eng        *engine.Engine
	collection string
	in         io.Reader
	out        io.Writer
}

func New(eng *engine.Engine, collection string, in io.Reader, out io.Writer) *REPL {
	if collection == "" {
		collection = "komodo"
	}
	return &REPL{
		eng:        eng,
		collection: collection,
		in:         in,
		out:        out,
	}
}

// Run drives the conversation until an exit word, EOF, or context
// cancellation. A clean EOF counts as a normal goodbye, which keeps piped
// sessions from ending in an error.
func (r *REPL) Run(ctx context.Context) error {
	r.banner()

	scanner := bufio.NewScanner(r.in)

	// pending holds input typed at the suggestion prompt that turned out to
	// be a new question rather than a selection.
	var pending string

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var input string
		if pending != "" {
			input, pending = pending, ""
		} else {
			fmt.Fprint(r.out, "\nYou: ")
			line, ok := r.readLine(scanner)
			if !ok {
				r.farewell()
				return scanner.Err()
			}
			input = line
		}

		if input == "" {
			continue
		}
		if exitWords[strings.ToLower(input)] {
			r.farewell()
			return nil
		}
		if strings.HasPrefix(input, "/") {
			r.handleCommand(scanner, input)
			continue
		}

		ans, err := r.eng.Ask(ctx, r.collection, input)
		if err != nil {
			fmt.Fprintf(r.out, "\nChatbot: Sorry, something went wrong: %v\n", err)
			continue
		}

		switch {
		case ans.Matched || ans.Source == "generated":
			fmt.Fprintf(r.out, "\nChatbot: %s\n", ans.Text)
		case len(ans.Suggestions) == 0:
			fmt.Fprintf(r.out, "\nChatbot: %s\n", ans.Text)
		default:
			pending = r.offerSuggestions(ans, scanner)
		}
	}
}

func (r *REPL) banner() {
	fmt.Fprintln(r.out, "\nKomodo National Park Tour Guide Chatbot")
	fmt.Fprintln(r.out, "======================================")
	fmt.Fprintln(r.out, "Hi! How can I help you today?")
	fmt.Fprintln(r.out, "(Type 'exit' or 'quit' to end the conversation)")
}

func (r *REPL) farewell() {
	fmt.Fprintln(r.out, "Thank you for chatting with us! Have a great day!")
}

// readLine returns the next trimmed input line; ok is false at EOF.
func (r *REPL) readLine(scanner *bufio.Scanner) (string, bool) {
	if !scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(scanner.Text()), true
}

// offerSuggestions renders the "did you mean" menu and reads one line back.
// A number answers the selected question; anything else is returned so the
// main loop treats it as a fresh question.
func (r *REPL) offerSuggestions(ans engine.Answer, scanner *bufio.Scanner) string {
	fmt.Fprintln(r.out, "\nChatbot: I'm not sure I understand your question. Did you mean one of these?")
	for i, sug := range ans.Suggestions {
		fmt.Fprintf(r.out, "%d. %s\n", i+1, sug.Question)
	}
	fmt.Fprintf(r.out, "\nPlease try rephrasing your question or select one of the above options (1-%d).\n", len(ans.Suggestions))
	fmt.Fprint(r.out, "Enter a number or ask a new question: ")

	selection, ok := r.readLine(scanner)
	if !ok || selection == "" {
		return ""
	}

	n, err := strconv.Atoi(selection)
	if err != nil {
		// Not a number: hand it back as the next question.
		return selection
	}
	if n < 1 || n > len(ans.Suggestions) {
		return ""
	}

	entry, found, err := r.eng.QAGet(r.collection, ans.Suggestions[n-1].EntryID)
	if err == nil && found {
		fmt.Fprintf(r.out, "\nChatbot: %s\n", entry.Answer)
	}
	return ""
}

// --- Slash Commands ---

func (r *REPL) handleCommand(scanner *bufio.Scanner, input string) {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/help":
		fmt.Fprintln(r.out, "Available commands:")
		fmt.Fprintln(r.out, "  /teach   add a new question/answer pair")
		fmt.Fprintln(r.out, "  /save    write the knowledge base to disk")
		fmt.Fprintln(r.out, "  /stats   show knowledge base statistics")
		fmt.Fprintln(r.out, "  /help    show this message")

	case "/teach":
		r.teach(scanner)

	case "/save":
		if err := r.eng.Save(); err != nil {
			fmt.Fprintf(r.out, "Error saving QA data: %v\n", err)
			return
		}
		fmt.Fprintln(r.out, "QA data saved.")

	case "/stats":
		st := r.eng.Stats()
		fmt.Fprintf(r.out, "Entries: %d  Vectors: %d  Collections: %d\n",
			st.TotalEntries, st.TotalVectors, len(st.Collections))
		for _, ci := range st.Collections {
			fmt.Fprintf(r.out, "  %s: %d entries (%s, %s)\n", ci.Name, ci.EntryCount, ci.Language, ci.Metric)
		}

	default:
		fmt.Fprintln(r.out, "Unknown command. Type /help for the list.")
	}
}

func (r *REPL) teach(scanner *bufio.Scanner) {
	fmt.Fprint(r.out, "Question: ")
	question, ok := r.readLine(scanner)
	if !ok {
		return
	}
	fmt.Fprint(r.out, "Answer: ")
	answer, ok := r.readLine(scanner)
	if !ok {
		return
	}

	if _, err := r.eng.QAAdd(r.collection, question, answer, nil); err != nil {
		fmt.Fprintf(r.out, "Could not add the pair: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, "New QA pair added successfully!")
}
