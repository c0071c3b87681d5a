package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ankiforge/internal/agent"
	"ankiforge/internal/anki"
	"ankiforge/internal/card"
	"ankiforge/internal/index"
	"ankiforge/internal/llm"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing note search and card generation tools",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	idx, st, err := openIndex()
	if err != nil {
		return err
	}
	defer st.Close()

	client := newAnki()

	s := mcpserver.NewMCPServer("ankiforge", "1.0.0", mcpserver.WithToolCapabilities(false))

	s.AddTool(searchNotesTool(), makeSearchHandler(idx))
	s.AddTool(listDecksTool(), makeListDecksHandler(client))
	s.AddTool(noteFieldsTool(), makeNoteFieldsHandler(client))

	// Generation needs a model credential; without one the server still
	// offers the read-only tools.
	if completer, err := newCompleter(cmd.Context()); err == nil {
		s.AddTool(generateCardsTool(), makeGenerateHandler(idx, client, completer))
	}

	return mcpserver.ServeStdio(s)
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchNotesTool() mcp.Tool {
	return mcp.NewTool("search_notes",
		mcp.WithDescription("Find existing flashcards similar to a text using the local TF-IDF index. Returns card contents with similarity scores."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Topic or text to compare against existing cards"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of cards to return (default 30)"),
		),
	)
}

func listDecksTool() mcp.Tool {
	return mcp.NewTool("list_decks",
		mcp.WithDescription("List the decks and note models available in Anki."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

func noteFieldsTool() mcp.Tool {
	return mcp.NewTool("list_note_fields",
		mcp.WithDescription("List the fields of an Anki note model in order."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("note_model",
			mcp.Required(),
			mcp.Description("Note model name, e.g. Basic"),
		),
	)
}

func generateCardsTool() mcp.Tool {
	return mcp.NewTool("generate_cards",
		mcp.WithDescription("Generate new flashcards for a topic that avoid concepts already in the collection. Optionally adds them to Anki."),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			ReadOnlyHint:    mcp.ToBoolPtr(false),
			DestructiveHint: mcp.ToBoolPtr(false),
			IdempotentHint:  mcp.ToBoolPtr(false),
			OpenWorldHint:   mcp.ToBoolPtr(true),
		}),
		mcp.WithString("topic", mcp.Required(), mcp.Description("Topic to generate cards for")),
		mcp.WithString("deck", mcp.Required(), mcp.Description("Target deck")),
		mcp.WithString("note_model", mcp.Description("Target note model (default Basic)")),
		mcp.WithNumber("count", mcp.Description("Number of cards (default 5)")),
		mcp.WithString("fields", mcp.Description("Comma-separated Name=type pairs, types: text, image, code, audio, skip")),
		mcp.WithBoolean("media", mcp.Description("Resolve image and audio fields (default true)")),
		mcp.WithBoolean("push", mcp.Description("Add the generated cards to Anki (default false)")),
	)
}

// --- Handler factories ---

func makeSearchHandler(idx *index.Indexer) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		limit := req.GetInt("limit", index.DefaultLimit)
		if limit <= 0 {
			limit = index.DefaultLimit
		}

		matches, err := idx.Search(ctx, query, limit)
		if errors.Is(err, index.ErrNotBuilt) {
			return mcp.NewToolResultText("The index is empty. Run 'ankiforge sync' first."), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}

		return mcp.NewToolResultText(formatMatches(query, matches)), nil
	}
}

func makeListDecksHandler(client *anki.Client) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decks, err := client.DeckNames(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list decks failed: %v", err)), nil
		}
		models, err := client.ModelNames(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list note models failed: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Decks (%d)\n\n", len(decks))
		for _, d := range decks {
			fmt.Fprintf(&sb, "- %s\n", d)
		}
		fmt.Fprintf(&sb, "\n## Note models (%d)\n\n", len(models))
		for _, m := range models {
			fmt.Fprintf(&sb, "- %s\n", m)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeNoteFieldsHandler(client *anki.Client) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		model := req.GetString("note_model", "")
		if model == "" {
			return mcp.NewToolResultError("note_model is required"), nil
		}
		fields, err := client.ModelFieldNames(ctx, model)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("read fields failed: %v", err)), nil
		}
		return mcp.NewToolResultText(strings.Join(fields, "\n")), nil
	}
}

func makeGenerateHandler(idx *index.Indexer, client *anki.Client, completer llm.Completer) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic := req.GetString("topic", "")
		deck := req.GetString("deck", "")
		if topic == "" || deck == "" {
			return mcp.NewToolResultError("topic and deck are required"), nil
		}
		model := req.GetString("note_model", "Basic")
		count := req.GetInt("count", 5)

		modelFields, err := client.ModelFieldNames(ctx, model)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("read fields of %q failed: %v", model, err)), nil
		}
		var pairs []string
		if raw := req.GetString("fields", ""); raw != "" {
			pairs = strings.Split(raw, ",")
		}
		overrides, err := card.ParseOverrides(pairs)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		fields, err := card.NewFieldTypeMap(modelFields, overrides)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		orch := agent.New(completer, idx, agent.Config{ContextLimit: cfg.Index.Limit})
		res, err := orch.Run(ctx, agent.Request{Topic: topic, Count: count, Fields: fields})
		if errors.Is(err, agent.ErrNoRecords) {
			return mcp.NewToolResultError(fmt.Sprintf("no cards could be parsed; raw model output:\n\n%s", res.Raw)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		records := res.Records
		var sb strings.Builder
		if req.GetBool("media", true) {
			enricher, err := newEnricher(client)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			var outcomes [][]agent.FieldOutcome
			records, outcomes = enricher.EnrichAll(ctx, records, fields)
			for i, rec := range outcomes {
				for _, o := range rec {
					if o.Outcome.Failed() {
						fmt.Fprintf(&sb, "- card %d field %s: %s (kept %q)\n", i+1, o.Field, o.Outcome, o.Input)
					}
				}
			}
		}

		var out strings.Builder
		fmt.Fprintf(&out, "## %d card(s) for %q\n\n", len(records), topic)
		out.WriteString(cardsMarkdown(fields, records))
		if sb.Len() > 0 {
			out.WriteString("\n### Media issues\n\n")
			out.WriteString(sb.String())
		}
		if req.GetBool("push", false) {
			r := agent.NewPusher(client, "ankiforge").Push(ctx, deck, model, records)
			fmt.Fprintf(&out, "\nAdded %d, duplicates %d, failed %d.\n", r.Added, r.Duplicates, len(r.Failed))
		}
		return mcp.NewToolResultText(out.String()), nil
	}
}

// --- Formatting helpers ---

func formatMatches(query string, matches []index.Match) string {
	if len(matches) == 0 {
		return fmt.Sprintf("No cards related to %q", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Cards related to %q (%d)\n\n", query, len(matches))
	for i, m := range matches {
		fmt.Fprintf(&sb, "%d. [%.3f, %s] %s\n", i+1, m.Score, m.Snapshot.Deck, m.Snapshot.Content)
	}
	return sb.String()
}
