package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tcredex/ledgerd/internal/auth"
	"github.com/tcredex/ledgerd/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	ledgerURL string
	keyID     string
	keySecret string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "tCredex tamper-evident ledger CLI",
	Long: `ledgerctl is the command-line interface for the tCredex ledger service.

It appends audit events, inspects entity histories, verifies the hash chain,
and downloads audit extracts.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.ledgerctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if ledgerURL == "" {
			ledgerURL = viper.GetString("ledger_url")
		}
		if ledgerURL == "" {
			ledgerURL = "http://localhost:8080"
		}
		if keyID == "" {
			keyID = viper.GetString("key_id")
		}
		if keySecret == "" {
			keySecret = viper.GetString("key_secret")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.ledgerctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&ledgerURL, "ledger", "", "ledger service URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&keyID, "key-id", "", "API key id for authenticated commands")
	rootCmd.PersistentFlags().StringVar(&keySecret, "key-secret", "", "API key secret (prefer KEY_SECRET env var)")

	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(tipCmd)
	rootCmd.AddCommand(anchorsCmd)
	rootCmd.AddCommand(hashKeyCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *client.Client {
	opts := []client.Option{}
	if keyID != "" && keySecret != "" {
		opts = append(opts, client.WithAPIKey(keyID, keySecret))
	}
	return client.New(ledgerURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func eventTable(events []client.Event) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIMESTAMP\tACTOR\tENTITY\tACTION\tHASH")
	for _, ev := range events {
		fmt.Fprintf(w, "%d\t%s\t%s/%s\t%s/%s\t%s\t%.12s\n",
			ev.ID, ev.EventTimestamp.Format(time.RFC3339),
			ev.ActorType, ev.ActorID,
			ev.EntityType, ev.EntityID,
			ev.Action, ev.Hash,
		)
	}
	return w.Flush()
}

// ── append ───────────────────────────────────────────────────────────────────

var (
	appActorType    string
	appActorID      string
	appEntityType   string
	appEntityID     string
	appAction       string
	appPayload      string
	appModelVersion string
	appReasonCodes  string
)

var appendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append an event to the ledger (requires append scope)",
	Long: `Append writes one event to the tamper-evident ledger.

Payload and reason codes are JSON objects:

  ledgerctl append --actor-type system --actor-id scoring-engine \
    --entity-type tract --entity-id 48201223100 \
    --action distress_score_calculated \
    --payload '{"score": 87.5}' --model-version distress-v3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input := &client.EventInput{
			ActorType:    appActorType,
			ActorID:      appActorID,
			EntityType:   appEntityType,
			EntityID:     appEntityID,
			Action:       appAction,
			ModelVersion: appModelVersion,
		}
		if appPayload != "" {
			if err := json.Unmarshal([]byte(appPayload), &input.Payload); err != nil {
				return fmt.Errorf("--payload is not a JSON object: %w", err)
			}
		}
		if appReasonCodes != "" {
			if err := json.Unmarshal([]byte(appReasonCodes), &input.ReasonCodes); err != nil {
				return fmt.Errorf("--reason-codes is not a JSON object: %w", err)
			}
		}

		ev, err := newClient().LogEvent(context.Background(), input)
		if err != nil {
			return err
		}
		fmt.Printf("appended event %d\n", ev.ID)
		fmt.Printf("  hash:      %s\n", ev.Hash)
		fmt.Printf("  prev_hash: %s\n", ev.PrevHash)
		return nil
	},
}

func init() {
	appendCmd.Flags().StringVar(&appActorType, "actor-type", "system", "actor type: system, human, or api_key")
	appendCmd.Flags().StringVar(&appActorID, "actor-id", "", "actor identifier")
	appendCmd.Flags().StringVar(&appEntityType, "entity-type", "", "entity type (project, tract, cde, ...)")
	appendCmd.Flags().StringVar(&appEntityID, "entity-id", "", "entity identifier")
	appendCmd.Flags().StringVar(&appAction, "action", "", "action name")
	appendCmd.Flags().StringVar(&appPayload, "payload", "", "payload as a JSON object")
	appendCmd.Flags().StringVar(&appModelVersion, "model-version", "", "model/algorithm version for automated decisions")
	appendCmd.Flags().StringVar(&appReasonCodes, "reason-codes", "", "reason codes as a JSON object")
	_ = appendCmd.MarkFlagRequired("entity-type")
	_ = appendCmd.MarkFlagRequired("entity-id")
	_ = appendCmd.MarkFlagRequired("action")
}

// ── events / history ─────────────────────────────────────────────────────────

var (
	evFilterEntityType string
	evFilterEntityID   string
	evFilterActorID    string
	evFilterAction     string
	evFilterLimit      int
	evFilterOffset     int
	evFormat           string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query ledger events",
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := newClient().QueryEvents(context.Background(), client.Filter{
			EntityType: evFilterEntityType,
			EntityID:   evFilterEntityID,
			ActorID:    evFilterActorID,
			Action:     evFilterAction,
			Limit:      evFilterLimit,
			Offset:     evFilterOffset,
		})
		if err != nil {
			return err
		}
		if evFormat == "json" {
			return printJSON(events)
		}
		return eventTable(events)
	},
}

func init() {
	eventsCmd.Flags().StringVar(&evFilterEntityType, "entity-type", "", "filter by entity type")
	eventsCmd.Flags().StringVar(&evFilterEntityID, "entity-id", "", "filter by entity id")
	eventsCmd.Flags().StringVar(&evFilterActorID, "actor-id", "", "filter by actor id")
	eventsCmd.Flags().StringVar(&evFilterAction, "action", "", "filter by action")
	eventsCmd.Flags().IntVar(&evFilterLimit, "limit", 50, "maximum events to return")
	eventsCmd.Flags().IntVar(&evFilterOffset, "offset", 0, "events to skip")
	eventsCmd.Flags().StringVar(&evFormat, "format", "text", "output format: text or json")
}

var historyCmd = &cobra.Command{
	Use:   "history <entity-type> <entity-id>",
	Short: "Show the complete audit trail of one entity, oldest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := newClient().EntityHistory(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		if evFormat == "json" {
			return printJSON(events)
		}
		return eventTable(events)
	},
}

func init() {
	historyCmd.Flags().StringVar(&evFormat, "format", "text", "output format: text or json")
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyStartID int64
	verifyEndID   int64
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash chain by re-deriving every hash server-side",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := newClient().VerifyChain(context.Background(), verifyStartID, verifyEndID)
		if err != nil {
			return err
		}

		if result.Valid {
			fmt.Printf("chain VALID — %d events checked", result.EventsChecked)
			if result.FinalHash != "" {
				fmt.Printf(", tip %.12s", result.FinalHash)
			}
			fmt.Println()
			return nil
		}

		fmt.Printf("chain INVALID — %d events checked, %d issue(s)\n",
			result.EventsChecked, len(result.Issues))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EVENT\tISSUE\tEXPECTED\tACTUAL")
		for _, issue := range result.Issues {
			fmt.Fprintf(w, "%d\t%s\t%.12s\t%.12s\n",
				issue.EventID, issue.IssueType, issue.Expected, issue.Actual)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		return fmt.Errorf("ledger verification failed")
	},
}

func init() {
	verifyCmd.Flags().Int64Var(&verifyStartID, "start-id", 0, "first event id to verify (0 = chain start)")
	verifyCmd.Flags().Int64Var(&verifyEndID, "end-id", 0, "last event id to verify (0 = chain tip)")
}

// ── extract ──────────────────────────────────────────────────────────────────

var (
	extractStart  string
	extractEnd    string
	extractOutput string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Download a verifiable ledger extract (requires audit scope)",
	RunE: func(cmd *cobra.Command, args []string) error {
		var f client.Filter
		var err error
		if extractStart != "" {
			if f.StartTime, err = time.Parse(time.RFC3339, extractStart); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
		}
		if extractEnd != "" {
			if f.EndTime, err = time.Parse(time.RFC3339, extractEnd); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
		}

		extract, err := newClient().Extract(context.Background(), f)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(extract, "", "  ")
		if err != nil {
			return err
		}
		if extractOutput == "-" {
			fmt.Println(string(out))
			return nil
		}
		if err := os.WriteFile(extractOutput, out, 0o600); err != nil {
			return err
		}
		fmt.Printf("wrote extract %s (%d events) to %s\n",
			extract.ExtractID, extract.EventCount, extractOutput)
		fmt.Printf("  first hash: %s\n", extract.FirstHash)
		fmt.Printf("  final hash: %s\n", extract.FinalHash)
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractStart, "start", "", "start of the time range (RFC3339)")
	extractCmd.Flags().StringVar(&extractEnd, "end", "", "end of the time range (RFC3339)")
	extractCmd.Flags().StringVar(&extractOutput, "output", "-", "output file; - for stdout")
}

// ── tip / anchors ────────────────────────────────────────────────────────────

var tipCmd = &cobra.Command{
	Use:   "tip",
	Short: "Show the newest event id, hash, and timestamp",
	RunE: func(cmd *cobra.Command, args []string) error {
		tip, err := newClient().Tip(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Event ID:  %d\n", tip.EventID)
		fmt.Printf("Hash:      %s\n", tip.Hash)
		fmt.Printf("Timestamp: %s\n", tip.Timestamp.Format(time.RFC3339Nano))
		return nil
	},
}

var (
	anchorsLimit int
	anchorsRun   bool
)

var anchorsCmd = &cobra.Command{
	Use:   "anchors",
	Short: "List anchor receipts, or trigger an immediate anchor pass with --run",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		ctx := context.Background()

		if anchorsRun {
			recorded, err := c.RunAnchors(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("anchor pass recorded %d receipt(s)\n", len(recorded))
		}

		receipts, err := c.Anchors(ctx, anchorsLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEVENT\tTYPE\tREFERENCE\tANCHORED AT\tHASH")
		for _, a := range receipts {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%.12s\n",
				a.ID, a.LedgerEventID, a.AnchorType, a.ExternalReference,
				a.AnchoredAt.Format(time.RFC3339), a.AnchoredHash,
			)
		}
		return w.Flush()
	},
}

func init() {
	anchorsCmd.Flags().IntVar(&anchorsLimit, "limit", 10, "receipts to list")
	anchorsCmd.Flags().BoolVar(&anchorsRun, "run", false, "publish the current tip to all targets first (requires audit scope)")
}

// ── hash-key ─────────────────────────────────────────────────────────────────

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key <secret>",
	Short: "Hash an API key secret for the server's auth.api_keys config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashSecret(args[0])
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("ledgerctl " + version)
	},
}
