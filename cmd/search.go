package cmd

import (
	"errors"
	"fmt"
	"strings"

	"ankiforge/internal/index"

	"github.com/spf13/cobra"
)

var flagSearchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Show the indexed cards most similar to a text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		idx, st, err := openIndex()
		if err != nil {
			return err
		}
		defer st.Close()

		query := strings.Join(args, " ")
		matches, err := idx.Search(ctx, query, flagSearchLimit)
		if errors.Is(err, index.ErrNotBuilt) {
			fmt.Println(warnStyle.Render("The index is empty. Run 'ankiforge sync --deck <name>' first."))
			return nil
		}
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Println(dimStyle.Render(fmt.Sprintf("No cards related to %q.", query)))
			return nil
		}

		if info, err := idx.Info(ctx); err == nil && info.Documents > 0 {
			fmt.Println(dimStyle.Render(fmt.Sprintf("Index of %d note(s), built %s", info.Documents, info.IndexedAt.Local().Format("2006-01-02 15:04"))))
		}
		fmt.Println(titleStyle.Render(fmt.Sprintf("%d related card(s)", len(matches))))
		for i, m := range matches {
			fmt.Printf("%2d. %s %s\n", i+1, dimStyle.Render(fmt.Sprintf("[%.3f %s]", m.Score, m.Snapshot.Deck)), m.Snapshot.Content)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&flagSearchLimit, "limit", index.DefaultLimit, "maximum number of cards to show")
	rootCmd.AddCommand(searchCmd)
}
