package cli

import (
	"github.com/spf13/cobra"
)

var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Retrieve cases",
}

var caseGetCmd = &cobra.Command{
	Use:   "get ID...",
	Short: "Retrieve cases by ID",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, release, err := newClient(cmd.Context())
		if err != nil {
			return err
		}
		defer release()

		list, err := client.Cases.BatchGet(cmd.Context(), args)
		if list != nil && len(list.Cases) > 0 {
			if perr := printJSON(cmd.OutOrStdout(), list); perr != nil {
				return perr
			}
		}
		return report(err)
	},
}

func init() {
	caseCmd.AddCommand(caseGetCmd)
	rootCmd.AddCommand(caseCmd)
}
