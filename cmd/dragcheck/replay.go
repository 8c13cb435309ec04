package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dragcheck/internal/atomicfile"
	"dragcheck/internal/engine"
	"dragcheck/internal/forensics"
	"dragcheck/internal/recording"
	"dragcheck/internal/simulate"
	"dragcheck/internal/verify"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func cmdReplay() {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	cfgPath := configFlag(fs)
	noStore := fs.Bool("no-store", false, "Do not record runs in the ledger")
	plot := fs.Bool("plot", true, "Draw the pointer path")
	width := fs.Int("width", 72, "Plot width in columns")
	height := fs.Int("height", 24, "Plot height in rows")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: dragcheck replay [options] <file>...")
		os.Exit(1)
	}

	a, err := newApp(loadConfig(*cfgPath), appOptions{withStore: !*noStore, withAudit: !*noStore})
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	failed := 0
	for _, path := range fs.Args() {
		res, err := a.replayFile(ctx, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("Recording: %s\n", path)
		if res.Duplicate {
			fmt.Println("(already in the ledger; not recorded again)")
		}
		printResult(os.Stdout, res, *plot, *width, *height)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// printResult writes the analysis report for one replay.
func printResult(w io.Writer, res *replayResult, plot bool, width, height int) {
	sum := res.Summary
	fmt.Fprintf(w, "Events: %d  Samples: %d  Discarded: %d  Drops: %d  Mismatches: %d  Resets: %d\n",
		sum.Events, sum.Samples, sum.Discarded, sum.Drops, sum.Mismatches, sum.Resets)
	fmt.Fprintln(w)

	switch {
	case sum.Result == nil:
		fmt.Fprintln(w, "No verification was requested.")
	case sum.Result.Outcome == verify.OutcomeIgnored:
		fmt.Fprintf(w, "Verification ignored: %s\n", sum.Result.Message)
	default:
		forensics.PrintReport(w, sum.Result.Metrics, sum.Result.Verdict)
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Outcome: %s\n", sum.Result.Outcome)
		if sum.Result.Message != "" {
			fmt.Fprintf(w, "Message: %s\n", sum.Result.Message)
		}
	}

	if plot {
		fmt.Fprintln(w)
		if err := forensics.PlotPath(w, res.Samples, &res.Container, width, height); err != nil {
			fmt.Fprintf(w, "plot: %v\n", err)
		}
	}
	fmt.Fprintln(w)
}

type scoreOutput struct {
	Source  string         `json:"source"`
	Digest  string         `json:"digest"`
	Summary engine.Summary `json:"summary"`
}

func cmdScore() {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Parse(os.Args[2:])

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: dragcheck score [options] <file>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	a, err := newApp(loadConfig(*cfgPath), appOptions{})
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	res, err := a.replayFile(ctx, path)
	if err != nil {
		fatal("%s: %v", path, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(scoreOutput{Source: path, Digest: res.Run.Digest, Summary: res.Summary}); err != nil {
		fatal("encode: %v", err)
	}
}

func cmdSimulate() {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	cfgPath := configFlag(fs)
	profile := fs.String("profile", simulate.ProfileHuman, "Attempt profile: human or scripted")
	duration := fs.Duration("duration", 100*time.Millisecond, "Scripted drag duration")
	samples := fs.Int("samples", 10, "Scripted sample count")
	seed := fs.Int64("seed", 0, "Random seed (0 for time-based)")
	out := fs.String("out", "", "Write the attempt as a recording instead of scoring it")
	noStore := fs.Bool("no-store", false, "Do not record the run in the ledger")
	plot := fs.Bool("plot", true, "Draw the pointer path")
	fs.Parse(os.Args[2:])

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	record := *out == "" && !*noStore

	a, err := newApp(loadConfig(*cfgPath), appOptions{withStore: record, withAudit: record})
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	e, err := a.newEngine(time.Now().UnixMilli(), rand.New(rand.NewSource(*seed)))
	if err != nil {
		fatal("%v", err)
	}
	scene, err := simulate.SceneFrom(e.Controller())
	if err != nil {
		fatal("%v", err)
	}
	src, err := simulate.New(scene, simulate.Options{
		Profile:  *profile,
		Duration: *duration,
		Samples:  *samples,
		Seed:     *seed,
	})
	if err != nil {
		fatal("%v", err)
	}
	source := "simulate:" + *profile

	if *out != "" {
		f, err := atomicfile.New(*out, 0644)
		if err != nil {
			fatal("create %s: %v", *out, err)
		}
		viewport := e.Controller().Layout().Viewport
		h := recording.NewHeader(scene.PageLoad)
		h.Viewport = &recording.Viewport{W: viewport.W, H: viewport.H}
		h.Source = source

		n, err := recording.Record(ctx, f, h, src)
		if err != nil {
			f.Abort()
			fatal("write %s: %v", *out, err)
		}
		if err := f.Commit(); err != nil {
			fatal("write %s: %v", *out, err)
		}
		fmt.Printf("Wrote %d events to %s (seed %d)\n", n, *out, *seed)
		return
	}

	res, err := a.run(ctx, e, source, "", src, record)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Simulated %s attempt (seed %d)\n", *profile, *seed)
	printResult(os.Stdout, res, *plot, 72, 24)
}
