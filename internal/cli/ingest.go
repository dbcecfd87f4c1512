package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tphakala/go-secops"
	"github.com/tphakala/go-secops/internal/json"
)

// maxLineBytes bounds a single log line read from input.
const maxLineBytes = 16 << 20

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Ingest raw logs",
}

var logIngestCmd = &cobra.Command{
	Use:   "ingest FILE",
	Short: "Ingest raw log lines from FILE, or stdin for -",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogIngest,
}

var udmCmd = &cobra.Command{
	Use:   "udm",
	Short: "Ingest UDM events",
}

var udmIngestCmd = &cobra.Command{
	Use:   "ingest FILE",
	Short: "Ingest UDM events from a JSON file holding an event or an array of events",
	Args:  cobra.ExactArgs(1),
	RunE:  runUDMIngest,
}

func init() {
	f := logIngestCmd.Flags()
	f.String("type", "", "log type, e.g. OKTA")
	f.String("forwarder", "", "forwarder ID (default: the client's default forwarder)")
	f.Bool("force", false, "skip the local log type check")
	f.String("namespace", "", "environment namespace")
	f.StringToString("label", nil, "ingestion label key=value, repeatable")
	_ = logIngestCmd.MarkFlagRequired("type")

	logCmd.AddCommand(logIngestCmd)
	udmCmd.AddCommand(udmIngestCmd)
	rootCmd.AddCommand(logCmd, udmCmd)
}

func openInput(name string) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return lines, nil
}

func runLogIngest(cmd *cobra.Command, args []string) error {
	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	lines, err := readLines(in)
	_ = in.Close()
	if err != nil {
		return err
	}

	f := cmd.Flags()
	logType, _ := f.GetString("type")
	forwarder, _ := f.GetString("forwarder")
	force, _ := f.GetBool("force")
	namespace, _ := f.GetString("namespace")
	labels, _ := f.GetStringToString("label")

	client, release, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer release()

	result, err := client.Logs.Ingest(cmd.Context(), &secops.IngestLogsRequest{
		LogType:      logType,
		Messages:     lines,
		ForwarderID:  forwarder,
		ForceLogType: force,
		Namespace:    namespace,
		Labels:       labels,
	})
	if result != nil {
		if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
			return perr
		}
	}
	return report(err)
}

// parseUDMEvents accepts a single JSON object or an array of objects.
func parseUDMEvents(data []byte) ([]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		return []json.RawMessage{json.RawMessage(data)}, nil
	}
	var events []json.RawMessage
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("input is neither a UDM event nor an array of events: %w", err)
	}
	return events, nil
}

func runUDMIngest(cmd *cobra.Command, args []string) error {
	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	data, err := io.ReadAll(in)
	_ = in.Close()
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	events, err := parseUDMEvents(data)
	if err != nil {
		return err
	}

	client, release, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	defer release()

	result, err := client.Logs.IngestUDM(cmd.Context(), events)
	if result != nil {
		if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
			return perr
		}
	}
	return report(err)
}
