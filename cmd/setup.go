package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagSetupDeck  string
	flagSetupModel string
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Check the Anki connection and create a deck and the universal note model",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client := newAnki()

		version, err := client.Version(ctx)
		if err != nil {
			return fmt.Errorf("cannot reach AnkiConnect at %s (is Anki running?): %w", cfg.Anki.URL, err)
		}
		fmt.Println(dimStyle.Render(fmt.Sprintf("AnkiConnect v%d at %s", version, cfg.Anki.URL)))

		if flagSetupDeck != "" {
			if _, err := client.CreateDeck(ctx, flagSetupDeck); err != nil {
				return fmt.Errorf("create deck: %w", err)
			}
			fmt.Println(successStyle.Render("✓ Deck " + flagSetupDeck + " ready"))
		}

		if flagSetupModel != "" {
			created, err := client.CreateUniversalModel(ctx, flagSetupModel)
			if err != nil {
				return fmt.Errorf("create note model: %w", err)
			}
			if created {
				fmt.Println(successStyle.Render("✓ Created note model " + flagSetupModel))
			} else {
				fmt.Println(dimStyle.Render("Note model " + flagSetupModel + " already exists"))
			}
		}

		models, err := client.ModelNames(ctx)
		if err != nil {
			return err
		}
		fmt.Println(dimStyle.Render("Note models: " + strings.Join(models, ", ")))
		return nil
	},
}

func init() {
	setupCmd.Flags().StringVar(&flagSetupDeck, "deck", "", "deck to create")
	setupCmd.Flags().StringVar(&flagSetupModel, "note-model", "Universal Card", "universal note model to create (empty to skip)")
	rootCmd.AddCommand(setupCmd)
}
