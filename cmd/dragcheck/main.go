// dragcheck - replay and score drag-and-drop verification attempts
//
//	dragcheck replay <file>...   Replay recordings and print the analysis
//	dragcheck score <file>       Print the verification result as JSON
//	dragcheck simulate           Generate a synthetic attempt
//	dragcheck watch              Score recordings as they land in a directory
//	dragcheck history            Show the run ledger
//	dragcheck schema             Show or roll back the ledger schema
//	dragcheck config             Print the effective configuration
package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"dragcheck/internal/config"
	"dragcheck/internal/store"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "replay":
		cmdReplay()
	case "score":
		cmdScore()
	case "simulate":
		cmdSimulate()
	case "watch":
		cmdWatch()
	case "history":
		cmdHistory()
	case "schema":
		cmdSchema()
	case "config":
		cmdConfig()
	case "version":
		fmt.Printf("dragcheck %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`dragcheck - Drag-and-Drop Human Verification

USAGE:
    dragcheck <command> [options]

COMMANDS:
    replay <file>...    Replay recordings through the challenge engine
    score <file>        Print the verification result of a recording as JSON
    simulate            Generate a synthetic human or scripted attempt
    watch               Score new recordings in a directory as they appear
    history             Show recorded runs and totals
    schema              Show ledger migrations; -rollback undoes the last one
    config              Print the effective configuration
    version             Show version
    help                Show this help message

Every command accepts -config <path>. Without it the platform config
file is used, and defaults apply when it does not exist.

EXAMPLES:
    dragcheck simulate -profile human -out attempt.jsonl
    dragcheck replay attempt.jsonl
    dragcheck simulate -profile scripted -duration 100ms
    dragcheck watch -dir ./recordings -addr 127.0.0.1:9464
    dragcheck history -n 20

Recordings are JSON Lines: a header line followed by one event per line.
Only derived scores are stored; raw pointer samples never leave the replay.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "Configuration file (default: platform config path)")
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fatal("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid config: %v", err)
	}
	return cfg
}

func cmdHistory() {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	cfgPath := configFlag(fs)
	limit := fs.Int("n", 20, "Number of runs to show (0 for all)")
	fs.Parse(os.Args[2:])

	a, err := newApp(loadConfig(*cfgPath), appOptions{withStore: true})
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	runs, err := a.store.ListRuns(*limit)
	if err != nil {
		fatal("list runs: %v", err)
	}
	stats, err := a.store.Stats()
	if err != nil {
		fatal("stats: %v", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tOUTCOME\tACCURACY\tSEARCH\tSAMPLES\tREASONS\tSOURCE")
	for _, r := range runs {
		search := "-"
		if !math.IsNaN(r.SearchTime) {
			search = fmt.Sprintf("%.2fs", r.SearchTime)
		}
		reasons := strings.Join(r.Reasons, ",")
		if reasons == "" {
			reasons = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s\t%d\t%s\t%s\n",
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Outcome, r.Accuracy, search, r.Samples, reasons, shortSource(r.Source))
	}
	tw.Flush()

	fmt.Println()
	fmt.Printf("Total runs:     %d\n", stats.Total)
	fmt.Printf("Mean accuracy:  %.1f%%\n", stats.MeanAccuracy)
	fmt.Printf("By outcome:     %s\n", formatCounts(stats.ByOutcome))
	if len(stats.ByReason) > 0 {
		fmt.Printf("By reason:      %s\n", formatCounts(stats.ByReason))
	}
}

func cmdSchema() {
	fs := flag.NewFlagSet("schema", flag.ExitOnError)
	cfgPath := configFlag(fs)
	rollback := fs.Bool("rollback", false, "Roll back the most recent migration")
	fs.Parse(os.Args[2:])

	a, err := newApp(loadConfig(*cfgPath), appOptions{withStore: true})
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	if *rollback {
		if err := store.RollbackMigration(a.store.DB()); err != nil {
			fatal("rollback: %v", err)
		}
		fmt.Println("Rolled back the last migration; it is reapplied on next open.")
	}
	if err := printSchema(os.Stdout, a.store); err != nil {
		fatal("%v", err)
	}
}

// printSchema reports the migration state of the ledger and whether its
// tables are all present.
func printSchema(w io.Writer, st *store.Store) error {
	status, err := store.GetMigrationStatus(st.DB())
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}

	fmt.Fprintf(w, "Schema version: %d (latest %d)\n", status.CurrentVersion, status.LatestVersion)
	for _, m := range status.Applied {
		fmt.Fprintf(w, "  applied  v%d  %s  %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"), m.Description)
	}
	for _, m := range status.Pending {
		fmt.Fprintf(w, "  pending  v%d  %s\n", m.Version, m.Description)
	}

	if err := store.ValidateSchema(st.DB()); err != nil {
		fmt.Fprintf(w, "Tables: %v\n", err)
		return nil
	}
	fmt.Fprintln(w, "Tables: ok")
	return nil
}

func shortSource(s string) string {
	if strings.HasPrefix(s, "simulate:") || s == "-" {
		return s
	}
	return filepath.Base(s)
}

// formatCounts renders a count map as "a=1 b=2" in key order.
func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func cmdConfig() {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	cfgPath := configFlag(fs)
	format := fs.String("format", "toml", "Output format: toml, json, yaml")
	initFile := fs.Bool("init", false, "Write the default configuration if the file does not exist")
	fs.Parse(os.Args[2:])

	path := *cfgPath
	if path == "" {
		path = config.ConfigPath()
	}

	if *initFile {
		_, created, err := config.LoadOrCreate(path)
		if err != nil {
			fatal("init config: %v", err)
		}
		if created {
			fmt.Fprintf(os.Stderr, "Created %s\n", path)
		} else {
			fmt.Fprintf(os.Stderr, "%s already exists\n", path)
		}
	}

	cfg := loadConfig(path)
	data, err := config.Encode(cfg, "."+strings.TrimPrefix(*format, "."))
	if err != nil {
		fatal("encode config: %v", err)
	}

	fmt.Fprintf(os.Stderr, "# %s\n", path)
	os.Stdout.Write(data)
}
