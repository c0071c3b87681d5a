package cmd

import (
	"fmt"

	"ankiforge/internal/agent"

	"github.com/spf13/cobra"
)

var flagPushIn string

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Add a reviewed batch of cards to Anki",
	Long: `Reads a batch written by 'generate --out', typically after editing it by
hand. Records with "include": false are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, err := agent.LoadBatch(flagPushIn)
		if err != nil {
			return err
		}
		fmt.Printf("Pushing %d card(s) to %s (%s)...\n", len(batch.Records), titleStyle.Render(batch.Deck), batch.Model)
		printPushReport(agent.NewPusher(newAnki(), "ankiforge").Push(cmd.Context(), batch.Deck, batch.Model, batch.Records))
		return nil
	},
}

func init() {
	pushCmd.Flags().StringVar(&flagPushIn, "in", "", "batch file written by generate --out")
	_ = pushCmd.MarkFlagRequired("in")
	rootCmd.AddCommand(pushCmd)
}
