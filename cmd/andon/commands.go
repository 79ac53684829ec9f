package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/loykin/andon"
	"github.com/loykin/andon/internal/config"
	"github.com/loykin/andon/internal/fault"
	"github.com/loykin/andon/internal/frame"
	"github.com/loykin/andon/internal/poller"
	"github.com/loykin/andon/internal/shift"
	"github.com/loykin/andon/pkg/client"
)

func runServe(ctx context.Context, configPath string, flags ServeFlags) error {
	cfg, err := andon.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := andon.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()
	if flags.Seed {
		if err := eng.Seed(ctx); err != nil {
			return err
		}
	}
	return eng.Run(ctx)
}

func runSeed(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := andon.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg.Metrics.Enabled = false
	eng, err := andon.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()
	if err := eng.Seed(ctx); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "seeded %d stations and %d shift windows\n", len(cfg.Stations), len(cfg.Shift.Windows))
	return err
}

// parseAt accepts an RFC3339 instant or a wall clock time of today in loc.
func parseAt(at string, loc *time.Location, now time.Time) (time.Time, error) {
	if at == "" {
		return now, nil
	}
	if t, err := time.Parse(time.RFC3339, at); err == nil {
		return t, nil
	}
	c, err := shift.ParseClock(at)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be RFC3339 or HH:MM: %w", err)
	}
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day(), int(c)/60, int(c)%60, 0, 0, loc), nil
}

func runShift(ctx context.Context, out io.Writer, configPath string, flags ShiftFlags) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	windows, err := cfg.ShiftWindows()
	if err != nil {
		return err
	}
	at, err := parseAt(flags.At, loc, time.Now())
	if err != nil {
		return err
	}
	res, rerr := shift.NewResolver(shift.StaticSource(windows), loc, nil).Resolve(ctx, at)
	if _, err := fmt.Fprintf(out, "%s  shift=%d date=%s\n", at.In(loc).Format(time.RFC3339), res.Number, res.DateKey()); err != nil {
		return err
	}
	if rerr != nil {
		_, _ = fmt.Fprintf(out, "degraded: %v\n", rerr)
	}
	return nil
}

func indexMap(pairs []string) (fault.IndexMap, error) {
	if len(pairs) == 0 {
		return fault.DefaultIndexMap(), nil
	}
	m := make(map[string]int, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("--map %q: expected Category=position", p)
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("--map %q: %w", p, err)
		}
		m[strings.TrimSpace(k)] = n
	}
	return fault.ResolveIndexMap(m)
}

func printFrame(out io.Writer, fr frame.Frame, idx fault.IndexMap) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "positions\t%d\n", fr.Len())
	_, _ = fmt.Fprintf(tw, "values\t%v\n", fr.Values())
	for _, c := range fault.Categories {
		v, err := fr.At(idx[c])
		state := "-"
		switch {
		case err != nil:
			state = "absent"
		case v == 1:
			state = "healthy"
		case v == 0:
			state = "faulted"
		}
		_, _ = fmt.Fprintf(tw, "%s\t[%d]\t%s\n", c, idx[c], state)
	}
	return tw.Flush()
}

func runParse(out io.Writer, raw string, mapFlags []string) error {
	idx, err := indexMap(mapFlags)
	if err != nil {
		return err
	}
	fr, err := frame.Parse(raw)
	if err != nil {
		return err
	}
	return printFrame(out, fr, idx)
}

func runPoll(ctx context.Context, out io.Writer, configPath, address string, flags PollFlags) error {
	idx, err := indexMap(flags.Map)
	if err != nil {
		return err
	}
	timeout := flags.Timeout
	if timeout <= 0 {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		timeout = cfg.Poller.Timeout
	}
	if ctx == nil {
		ctx = context.Background()
	}
	fr, err := poller.NewHTTPFetcher(timeout).Fetch(ctx, address)
	if err != nil {
		return fmt.Errorf("poll %s: %w", poller.URL(address), err)
	}
	return printFrame(out, fr, idx)
}

func optInt(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}

func runStatus(ctx context.Context, out io.Writer, station string, flags StatusFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := client.New(client.Config{BaseURL: flags.APIURL, Insecure: flags.Insecure})
	if err != nil {
		return err
	}
	if station != "" {
		d, err := c.Station(ctx, station)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "%s  alive=%t count=%s relative=%s shift=%d date=%s\n",
			d.Name, d.Alive, optInt(d.ActualCount), optInt(d.RelativeCount), d.Shift, d.ShiftDate)
		for _, f := range d.OpenFaults {
			_, _ = fmt.Fprintf(out, "  open  %-14s since %s\n", f.Category, f.OpenedAt.Format(time.RFC3339))
		}
		return nil
	}
	sts, err := c.Stations(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STATION\tALIVE\tCOUNT\tRELATIVE\tSHIFT\tFAULTED")
	for _, st := range sts {
		_, _ = fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%d\t%s\n",
			st.Name, st.Alive, optInt(st.ActualCount), optInt(st.RelativeCount), st.Shift, strings.Join(st.Faulted, ","))
	}
	return tw.Flush()
}
