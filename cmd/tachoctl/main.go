// tachoctl queries a running tachod and its ride log.
//
// With a terminal on stdin it starts an interactive shell; otherwise the
// command given on the command line is run once:
//
//	tachoctl -addr 127.0.0.1:9170 total
//	tachoctl -data ./data rides
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/tacho/internal/client"
	"github.com/xtxerr/tacho/internal/errors"
	"github.com/xtxerr/tacho/internal/loader"
	"github.com/xtxerr/tacho/internal/storage/query"
	"github.com/xtxerr/tacho/internal/storage/types"
)

// Version is set at build time via ldflags
var Version = "dev"

type command struct {
	name string
	args string
	help string
	run  func(ctx context.Context, c *ctl, args []string) error
}

var commands = []command{
	{name: "reading", help: "latest published reading", run: cmdReading},
	{name: "total", help: "distance since tachod started", run: cmdTotal},
	{name: "window", args: "<ms>", help: "trigger timestamps in the trailing window", run: cmdWindow},
	{name: "watch", args: "[n]", help: "stream readings, n of them or until interrupted", run: cmdWatch},
	{name: "rides", help: "rides in the ride log", run: cmdRides},
	{name: "summary", args: "<ride>", help: "per-bucket summaries of a ride", run: cmdSummary},
	{name: "readings", args: "<ride> [limit]", help: "raw readings of a ride", run: cmdReadings},
	{name: "odometer", help: "distance across all recorded rides", run: cmdOdometer},
	{name: "sql", args: "<query>", help: "ad-hoc SQL over readings and summaries views", run: cmdSQL},
}

func init() {
	commands = append(commands, command{name: "help", help: "show commands", run: cmdHelp})
}

// ctl holds the lazily opened feed connection and ride log.
type ctl struct {
	addr    string
	cfg     *loader.Config
	timeout time.Duration

	feed    *client.Client
	history *query.Service
}

func (c *ctl) client(ctx context.Context) (*client.Client, error) {
	if c.feed != nil {
		select {
		case <-c.feed.Done():
			c.feed = nil
		default:
			return c.feed, nil
		}
	}
	cl, err := client.Connect(ctx, &client.Config{
		Addr:           c.addr,
		ConnectTimeout: c.timeout,
		RequestTimeout: c.timeout,
		MaxMessageSize: int(c.cfg.Feed.MaxMessageSize.Bytes()),
	})
	if err != nil {
		return nil, err
	}
	c.feed = cl
	return cl, nil
}

func (c *ctl) query() (*query.Service, error) {
	if c.history != nil {
		return c.history, nil
	}
	svc, err := query.New(loader.ToStorageConfig(&c.cfg.Storage, ""), nil)
	if err != nil {
		return nil, err
	}
	c.history = svc
	return svc, nil
}

func (c *ctl) close() {
	if c.feed != nil {
		c.feed.Close()
	}
	if c.history != nil {
		c.history.Close()
	}
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	addr := flag.String("addr", "", "feed address (overrides config)")
	dataDir := flag.String("data", "", "ride log directory (overrides config)")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Parse()

	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loader.DefaultConfig()
	}
	if *addr != "" {
		cfg.Feed.Listen = *addr
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}

	c := &ctl{addr: cfg.Feed.Listen, cfg: cfg, timeout: *timeout}
	defer c.close()

	if args := flag.Args(); len(args) > 0 {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		err := execute(ctx, c, strings.Join(args, " "))
		stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			c.close()
			os.Exit(1)
		}
		return
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "no command given and stdin is not a terminal")
		os.Exit(2)
	}

	fmt.Printf("tachoctl %s, feed %s, ride log %s\n", Version, c.addr, cfg.Storage.DataDir)
	fmt.Println("Type 'help' for commands, 'exit' to quit.")

	p := prompt.New(
		func(line string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			if err := execute(ctx, c, line); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		},
		completer,
		prompt.OptionPrefix("tacho> "),
		prompt.OptionTitle("tachoctl"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			in = strings.TrimSpace(in)
			return breakline && (in == "exit" || in == "quit")
		}),
	)
	p.Run()
}

// execute runs one command line.
func execute(ctx context.Context, c *ctl, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := fields[0], fields[1:]
	if name == "exit" || name == "quit" {
		return nil
	}

	for _, cmd := range commands {
		if cmd.name == name {
			return cmd.run(ctx, c, args)
		}
	}
	return fmt.Errorf("%w: %q", errors.ErrUnknownOperation, name)
}

func completer(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	s := make([]prompt.Suggest, 0, len(commands)+1)
	for _, cmd := range commands {
		text := cmd.help
		if cmd.args != "" {
			text = cmd.args + "  " + text
		}
		s = append(s, prompt.Suggest{Text: cmd.name, Description: text})
	}
	s = append(s, prompt.Suggest{Text: "exit", Description: "leave the shell"})
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

// =============================================================================
// Live Commands
// =============================================================================

func cmdReading(ctx context.Context, c *ctl, _ []string) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	r, err := cl.Latest(ctx)
	if err != nil {
		return err
	}
	printReading(r)
	return nil
}

func cmdTotal(ctx context.Context, c *ctl, _ []string) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	total, err := cl.Total(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%.1f m (%.3f km)\n", total, total/1000)
	return nil
}

func cmdWindow(ctx context.Context, c *ctl, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: window <ms>", errors.ErrInvalidArgument)
	}
	ms, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: window %q: %w", errors.ErrInvalidArgument, args[0], err)
	}

	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	ts, err := cl.Window(ctx, time.Duration(ms)*time.Millisecond)
	if err != nil {
		return err
	}

	fmt.Printf("%d triggers in the last %d ms\n", len(ts), ms)
	for i, v := range ts {
		if i > 0 {
			fmt.Printf("  %d  (+%d)\n", v, v-ts[i-1])
			continue
		}
		fmt.Printf("  %d\n", v)
	}
	return nil
}

func cmdWatch(ctx context.Context, c *ctl, args []string) error {
	limit := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("%w: watch %q", errors.ErrInvalidArgument, args[0])
		}
		limit = n
	}

	// The server keeps pushing to a subscribed connection, so watch uses its own.
	cl, err := client.Connect(ctx, &client.Config{
		Addr:           c.addr,
		ConnectTimeout: c.timeout,
		RequestTimeout: c.timeout,
		MaxMessageSize: int(c.cfg.Feed.MaxMessageSize.Bytes()),
	})
	if err != nil {
		return err
	}
	defer cl.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	seen := 0
	return cl.Subscribe(ctx, func(r types.Reading) {
		fmt.Printf("%s  %6.1f km/h  %5.1f rpm  %8.1f m\n",
			time.UnixMilli(r.TimestampMs).Format("15:04:05"),
			r.SpeedKmh, r.CadenceRpm, r.TotalDistanceM)
		seen++
		if limit > 0 && seen >= limit {
			cancel()
		}
	})
}

func printReading(r types.Reading) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ride\t%s\n", r.Ride)
	fmt.Fprintf(w, "source\t%s\n", r.Source)
	fmt.Fprintf(w, "time\t%s\n", time.UnixMilli(r.TimestampMs).Format(time.RFC3339))
	fmt.Fprintf(w, "speed\t%.1f km/h\n", r.SpeedKmh)
	fmt.Fprintf(w, "cadence\t%.1f rpm\n", r.CadenceRpm)
	fmt.Fprintf(w, "window\t%d pulses, %.2f m in %d ms\n", r.Pulses, r.DistanceM, r.WindowMs)
	fmt.Fprintf(w, "distance\t%.1f m\n", r.TotalDistanceM)
	fmt.Fprintf(w, "revolutions\t%.1f\n", r.Revolutions)
	fmt.Fprintf(w, "buffer\t%d/%d\n", r.BufferLen, r.BufferCap)
	w.Flush()
}

// =============================================================================
// Ride Log Commands
// =============================================================================

func cmdRides(ctx context.Context, c *ctl, _ []string) error {
	svc, err := c.query()
	if err != nil {
		return err
	}
	rides, err := svc.Rides(ctx)
	if err != nil {
		return err
	}
	if len(rides) == 0 {
		fmt.Println("no rides recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RIDE\tSTART\tDURATION\tDISTANCE\tAVG\tMAX\tREADINGS")
	for _, r := range rides {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f km\t%.1f\t%.1f\t%d\n",
			r.Ride,
			time.UnixMilli(r.FirstTs).Format("2006-01-02 15:04"),
			r.Duration().Round(time.Second),
			r.DistanceM/1000,
			r.AvgSpeedKmh, r.MaxSpeedKmh,
			r.Readings)
	}
	return w.Flush()
}

func cmdSummary(ctx context.Context, c *ctl, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: summary <ride>", errors.ErrInvalidArgument)
	}
	svc, err := c.query()
	if err != nil {
		return err
	}
	sums, err := svc.RideSummaries(ctx, query.SummaryQuery{Ride: args[0]})
	if err != nil {
		return err
	}
	if len(sums) == 0 {
		return fmt.Errorf("%w: %s", errors.ErrRideNotFound, args[0])
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BUCKET\tAVG\tMIN\tMAX\tP90\tCADENCE\tDISTANCE")
	for _, s := range sums {
		fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%.1f\t%s\t%.0f\t%.0f m\n",
			s.BucketStartTime().Format("15:04")+"-"+s.BucketEndTime().Format("15:04"),
			s.AvgSpeed, s.MinSpeed, s.MaxSpeed,
			optional(s.P90),
			s.AvgCadence,
			s.Distance())
	}
	return w.Flush()
}

func cmdReadings(ctx context.Context, c *ctl, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: usage: readings <ride> [limit]", errors.ErrInvalidArgument)
	}
	q := query.ReadingQuery{Ride: args[0], Limit: 50}
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: limit %q", errors.ErrInvalidArgument, args[1])
		}
		q.Limit = n
	}

	svc, err := c.query()
	if err != nil {
		return err
	}
	readings, err := svc.RideReadings(ctx, q)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSPEED\tCADENCE\tPULSES\tDISTANCE")
	for _, r := range readings {
		fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%d\t%.1f m\n",
			time.UnixMilli(r.TimestampMs).Format("15:04:05"),
			r.SpeedKmh, r.CadenceRpm, r.Pulses, r.TotalDistanceM)
	}
	return w.Flush()
}

func cmdOdometer(ctx context.Context, c *ctl, _ []string) error {
	svc, err := c.query()
	if err != nil {
		return err
	}
	total, err := svc.TotalDistance(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%.2f km across all rides\n", total/1000)
	return nil
}

func cmdSQL(ctx context.Context, c *ctl, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: usage: sql <query>", errors.ErrInvalidArgument)
	}
	svc, err := c.query()
	if err != nil {
		return err
	}
	rows, err := svc.ExecuteSQL(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("(no rows)")
		return nil
	}

	cols := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	for _, row := range rows {
		vals := make([]string, len(cols))
		for i, col := range cols {
			vals[i] = fmt.Sprint(row[col])
		}
		fmt.Fprintln(w, strings.Join(vals, "\t"))
	}
	w.Flush()
	fmt.Printf("(%d rows)\n", len(rows))
	return nil
}

func cmdHelp(_ context.Context, _ *ctl, _ []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %s %s\t%s\n", cmd.name, cmd.args, cmd.help)
	}
	fmt.Fprintf(w, "  exit\tleave the shell\n")
	return w.Flush()
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}
