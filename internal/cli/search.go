package cli

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/tphakala/go-secops"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search ingested events",
}

var searchUDMCmd = &cobra.Command{
	Use:   "udm QUERY",
	Short: "Run a UDM query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("max-events")
		start, end := since(window)

		client, release, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		res, err := client.Search.UDM(cmd.Context(), &secops.UDMSearchRequest{
			Query:     args[0],
			Start:     start,
			End:       end,
			MaxEvents: limit,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var searchNLCmd = &cobra.Command{
	Use:   "nl TEXT",
	Short: "Translate a natural-language question to UDM and run it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("max-events")
		start, end := since(window)

		client, release, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		res, err := client.Search.NaturalLanguage(cmd.Context(), &secops.NLSearchRequest{
			Text:      args[0],
			Start:     start,
			End:       end,
			MaxEvents: limit,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	for _, c := range []*cobra.Command{searchUDMCmd, searchNLCmd} {
		c.Flags().Duration("since", 24*time.Hour, "search window ending now")
		c.Flags().Int("max-events", 1000, "maximum events to return")
		searchCmd.AddCommand(c)
	}
	rootCmd.AddCommand(searchCmd)
}
