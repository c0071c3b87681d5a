package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagSyncDecks []string
	flagSyncAll   bool
	flagSyncClear bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Snapshot decks from Anki and rebuild the similarity index",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client := newAnki()

		decks := flagSyncDecks
		if flagSyncAll {
			all, err := client.DeckNames(ctx)
			if err != nil {
				return fmt.Errorf("list decks: %w", err)
			}
			decks = all
		}
		if len(decks) == 0 && !flagSyncClear {
			return fmt.Errorf("no decks selected; pass --deck or --all")
		}

		idx, st, err := openIndex()
		if err != nil {
			return err
		}
		defer st.Close()

		if flagSyncClear {
			if err := idx.Clear(ctx); err != nil {
				return fmt.Errorf("clear index: %w", err)
			}
			fmt.Println(dimStyle.Render("Index cleared."))
			if len(decks) == 0 {
				return nil
			}
		}

		fmt.Printf("Syncing %d deck(s)...\n", len(decks))
		start := time.Now()
		stats, err := idx.Sync(ctx, client, decks, func(deck string, done, total int) {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  [%d/%d] %s", done, total, deck)))
		})
		if err != nil {
			return err
		}

		fmt.Println(successStyle.Render(fmt.Sprintf("✓ Indexed %d note(s) in %s", stats.Indexed, time.Since(start).Round(time.Millisecond))))
		fmt.Printf("  Decks:      %d\n", stats.Decks)
		fmt.Printf("  Notes:      %d\n", stats.Notes)
		if stats.Duplicates > 0 {
			fmt.Printf("  Duplicates: %d\n", stats.Duplicates)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringSliceVar(&flagSyncDecks, "deck", nil, "deck to snapshot (repeatable)")
	syncCmd.Flags().BoolVar(&flagSyncAll, "all", false, "snapshot every deck")
	syncCmd.Flags().BoolVar(&flagSyncClear, "clear", false, "delete the existing index first")
	rootCmd.AddCommand(syncCmd)
}
