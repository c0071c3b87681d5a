package cmd

import (
	"errors"
	"fmt"

	"ankiforge/internal/agent"
	"ankiforge/internal/card"

	"github.com/spf13/cobra"
)

var (
	flagGenDeck    string
	flagGenModel   string
	flagGenTopic   string
	flagGenCount   int
	flagGenFields  []string
	flagGenOut     string
	flagGenPush    bool
	flagGenNoMedia bool
	flagGenShow    bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate new cards for a topic, grounded on the indexed collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		completer, err := newCompleter(ctx)
		if err != nil {
			return err
		}
		client := newAnki()

		modelFields, err := client.ModelFieldNames(ctx, flagGenModel)
		if err != nil {
			return fmt.Errorf("read fields of note model %q: %w", flagGenModel, err)
		}
		overrides, err := card.ParseOverrides(flagGenFields)
		if err != nil {
			return err
		}
		fields, err := card.NewFieldTypeMap(modelFields, overrides)
		if err != nil {
			return err
		}

		idx, st, err := openIndex()
		if err != nil {
			return err
		}
		defer st.Close()

		orch := agent.New(completer, idx, agent.Config{ContextLimit: cfg.Index.Limit})
		fmt.Printf("Generating %d card(s) about %s...\n", flagGenCount, titleStyle.Render(flagGenTopic))
		res, err := orch.Run(ctx, agent.Request{Topic: flagGenTopic, Count: flagGenCount, Fields: fields})
		if errors.Is(err, agent.ErrNoRecords) {
			fmt.Println(warnStyle.Render("The model output could not be parsed into cards. Raw output:"))
			fmt.Println(res.Raw)
			return err
		}
		if err != nil {
			return err
		}

		switch {
		case res.GapFallback:
			fmt.Println(warnStyle.Render("Gap analysis unavailable; generated from a generic guide."))
		case res.Sufficient:
			fmt.Println(dimStyle.Render("Topic is specific; generated directly from it."))
		case flagGenShow:
			fmt.Print(renderMarkdown("## Study guide\n\n" + res.Guide))
		}
		fmt.Println(dimStyle.Render(fmt.Sprintf("Grounded on %d existing card(s).", len(res.Context))))

		records := res.Records
		if !flagGenNoMedia {
			enricher, err := newEnricher(client)
			if err != nil {
				return err
			}
			var outcomes [][]agent.FieldOutcome
			records, outcomes = enricher.EnrichAll(ctx, records, fields)
			fmt.Println(outcomeSummary(outcomes))
		}

		fmt.Print(renderMarkdown(cardsMarkdown(fields, records)))

		if flagGenOut != "" {
			batch := agent.Batch{
				RunID:   res.RunID,
				Deck:    flagGenDeck,
				Model:   flagGenModel,
				Topic:   flagGenTopic,
				Fields:  fields,
				Records: records,
			}
			if err := agent.SaveBatch(flagGenOut, batch); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("✓ Saved for review to " + flagGenOut))
		}

		if flagGenPush {
			printPushReport(agent.NewPusher(client, "ankiforge").Push(ctx, flagGenDeck, flagGenModel, records))
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&flagGenDeck, "deck", "", "target deck")
	generateCmd.Flags().StringVar(&flagGenModel, "note-model", "Basic", "target note model")
	generateCmd.Flags().StringVar(&flagGenTopic, "topic", "", "topic to generate cards for")
	generateCmd.Flags().IntVar(&flagGenCount, "count", 5, "number of cards to generate")
	generateCmd.Flags().StringArrayVar(&flagGenFields, "field", nil, "field type as Name=type (text, image, code, audio, skip); repeatable")
	generateCmd.Flags().StringVar(&flagGenOut, "out", "", "write the generated batch to a JSON file for review")
	generateCmd.Flags().BoolVar(&flagGenPush, "push", false, "add the generated cards to Anki")
	generateCmd.Flags().BoolVar(&flagGenNoMedia, "no-media", false, "skip image search and speech synthesis")
	generateCmd.Flags().BoolVar(&flagGenShow, "show-guide", false, "print the gap analysis study guide")
	_ = generateCmd.MarkFlagRequired("deck")
	_ = generateCmd.MarkFlagRequired("topic")
	rootCmd.AddCommand(generateCmd)
}
