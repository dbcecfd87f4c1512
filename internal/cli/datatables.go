package cli

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var dataTableCmd = &cobra.Command{
	Use:   "data-table",
	Short: "Manage data tables",
}

var dataTableAddRowsCmd = &cobra.Command{
	Use:   "add-rows NAME CSVFILE",
	Short: "Append the rows of a CSV file, or stdin for -, to a data table",
	Args:  cobra.ExactArgs(2),
	RunE:  runAddRows,
}

func init() {
	dataTableAddRowsCmd.Flags().Bool("header", false, "skip the first CSV record")

	dataTableCmd.AddCommand(dataTableAddRowsCmd)
	rootCmd.AddCommand(dataTableCmd)
}

func readCSV(r io.Reader, skipHeader bool) ([][]string, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if skipHeader && len(records) > 0 {
		records = records[1:]
	}
	return records, nil
}

func runAddRows(cmd *cobra.Command, args []string) error {
	in, err := openInput(args[1])
	if err != nil {
		return err
	}
	header, _ := cmd.Flags().GetBool("header")
	rows, err := readCSV(in, header)
	_ = in.Close()
	if err != nil {
		return err
	}

	client, release, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer release()

	results, err := client.DataTables.AddRows(cmd.Context(), args[0], rows)
	if len(results) > 0 {
		if perr := printJSON(cmd.OutOrStdout(), results); perr != nil {
			return perr
		}
	}
	return report(err)
}
