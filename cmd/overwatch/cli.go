package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/Overwatch/internal/adapter/sqlite"
	"github.com/Strob0t/Overwatch/internal/config"
	"github.com/Strob0t/Overwatch/internal/domain"
	"github.com/Strob0t/Overwatch/internal/domain/event"
	"github.com/Strob0t/Overwatch/internal/service"
)

const timeLayout = "2006-01-02 15:04:05"

// output renders command results as a table or as indented JSON.
type output struct {
	w    io.Writer
	json bool
}

// newOutput picks JSON when forced or when stdout is not a terminal.
func newOutput(forceJSON bool) *output {
	return &output{
		w:    os.Stdout,
		json: forceJSON || !term.IsTerminal(int(os.Stdout.Fd())), //nolint:gosec // fd fits in int
	}
}

// render writes v as JSON, or calls table with a tabwriter that is flushed
// afterwards.
func (o *output) render(v any, table func(w io.Writer)) error {
	if o.json {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func openStore(ctx context.Context, cfg *config.Config) (*sqlite.EventLog, error) {
	store, err := sqlite.OpenEventLog(ctx, cfg.EventLogPath())
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return store, nil
}

func runGaps(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("gaps", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	gaps, err := store.DetectGaps(ctx)
	if err != nil {
		return fmt.Errorf("detect gaps: %w", err)
	}
	return newOutput(*asJSON).gaps(gaps)
}

func (o *output) gaps(gaps []event.Gap) error {
	if gaps == nil {
		gaps = []event.Gap{}
	}
	return o.render(gaps, func(w io.Writer) {
		if len(gaps) == 0 {
			fmt.Fprintln(w, "No gaps.")
			return
		}
		fmt.Fprintln(w, "FROM\tTO\tSIZE")
		for _, g := range gaps {
			fmt.Fprintf(w, "%d\t%d\t%d\n", g.From, g.To, g.Size)
		}
	})
}

func runReplayState(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("replay-state", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var states []event.ReplayState
	if name := fs.Arg(0); name != "" {
		st, err := store.ReplayState(ctx, name)
		if err != nil {
			return fmt.Errorf("replay state %s: %w", name, err)
		}
		states = []event.ReplayState{st}
	} else {
		states, err = store.ListReplayStates(ctx)
		if err != nil {
			return fmt.Errorf("list replay states: %w", err)
		}
	}
	return newOutput(*asJSON).replayStates(states)
}

func (o *output) replayStates(states []event.ReplayState) error {
	if states == nil {
		states = []event.ReplayState{}
	}
	return o.render(states, func(w io.Writer) {
		fmt.Fprintln(w, "AGENT\tSEQUENCE\tLAST PROCESSED\tUPDATED")
		for _, st := range states {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				st.AgentName, st.LastProcessedSequence,
				formatTime(st.LastProcessedTimestamp), formatTime(st.UpdatedAt))
		}
	})
}

func runEvents(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	topic := fs.String("topic", "", "topic or pattern (e.g. file:*)")
	source := fs.String("source", "", "event source")
	since := fs.Duration("since", 0, "only events newer than this (e.g. 1h)")
	limit := fs.Int("limit", event.DefaultQueryLimit, "maximum number of events")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := event.QueryFilter{Topic: *topic, Source: *source, Limit: *limit}
	if *since > 0 {
		t := time.Now().Add(-*since)
		filter.Since = &t
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	events, err := store.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("query events: %w", err)
	}
	return newOutput(*asJSON).events(events)
}

func (o *output) events(events []event.Event) error {
	if events == nil {
		events = []event.Event{}
	}
	return o.render(events, func(w io.Writer) {
		fmt.Fprintln(w, "SEQ\tTIME\tTOPIC\tSOURCE\tPRIORITY")
		for _, ev := range events {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				ev.Sequence, formatTime(ev.Timestamp), ev.Topic, ev.Source, ev.Priority)
		}
	})
}

func runCleanup(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	days := fs.Int("days", cfg.EventLog.RetentionDays, "delete events older than this many days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days < 1 {
		return errors.New("--days must be at least 1")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	cutoff := time.Now().AddDate(0, 0, -*days)
	n, err := store.CleanupOldEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	fmt.Printf("Deleted %d events older than %s.\n", n, cutoff.Format(timeLayout))
	return nil
}

func runIndex(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	idx, err := service.NewContextReader(cfg.ContextPath(), nil, 0).Index(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "No context index at %s yet.\n", cfg.ContextPath())
		return nil
	}
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}

	o := newOutput(*asJSON)
	return o.render(idx, func(w io.Writer) {
		fmt.Fprintf(w, "Updated\t%s\n", formatTime(idx.LastUpdated))
		fmt.Fprintf(w, "Check now\t%d\t%s\n", idx.CheckNow.Count, idx.CheckNow.Preview)
		fmt.Fprintf(w, "Relevant\t%d\t%s\n", idx.MentionIfRelevant.Count, idx.MentionIfRelevant.Summary)
		fmt.Fprintf(w, "Deferred\t%d\t%s\n", idx.Deferred.Count, idx.Deferred.Summary)
		fmt.Fprintf(w, "Auto-fixed\t%d\t%s\n", idx.AutoFixed.Count, idx.AutoFixed.Summary)
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}
