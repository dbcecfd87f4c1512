package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tphakala/go-secops"
)

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Work with detection rules",
}

var ruleTestCmd = &cobra.Command{
	Use:   "test FILE",
	Short: "Run the rule in FILE over historical data",
	Long: `Run the YARA-L rule in FILE over historical data and print each
result as JSON as it arrives. Progress updates go to the log.`,
	Args: cobra.ExactArgs(1),
	RunE: runRuleTest,
}

func init() {
	f := ruleTestCmd.Flags()
	f.Duration("since", 24*time.Hour, "test window ending now")
	f.Int("max-results", 100, "maximum detections, 1 to 10000")
	f.Duration("test-timeout", 5*time.Minute, "overall test timeout")

	ruleCmd.AddCommand(ruleTestCmd)
	rootCmd.AddCommand(ruleCmd)
}

func runRuleTest(cmd *cobra.Command, args []string) error {
	text, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read rule: %w", err)
	}

	f := cmd.Flags()
	window, _ := f.GetDuration("since")
	maxResults, _ := f.GetInt("max-results")
	timeout, _ := f.GetDuration("test-timeout")
	start, end := since(window)

	client, release, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer release()

	detections := 0
	for ev, err := range client.Rules.Test(cmd.Context(), &secops.RuleTestRequest{
		Text:       string(text),
		Start:      start,
		End:        end,
		MaxResults: maxResults,
		Timeout:    timeout,
	}) {
		if err != nil {
			return report(err)
		}

		switch ev.Kind {
		case secops.EventProgress:
			slog.Info("rule test progress", "percent", ev.Percent)
			continue
		case secops.EventError:
			slog.Warn("rule error", "message", ev.Message, "compilation", ev.Compilation)
		case secops.EventInfo:
			slog.Warn(ev.Message)
		case secops.EventDetection:
			detections++
		}
		if err := printJSON(cmd.OutOrStdout(), ev); err != nil {
			return err
		}
	}

	slog.Info("rule test finished", "detections", detections)
	return nil
}
