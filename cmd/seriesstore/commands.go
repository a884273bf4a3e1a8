package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/subcommands"

	"github.com/vjranagit/seriesstore/pkg/api"
	"github.com/vjranagit/seriesstore/pkg/ingest"
	"github.com/vjranagit/seriesstore/pkg/types"
)

var commands = []subcommands.Command{
	&serveCmd{},
	&initCmd{},
	&refreshCmd{},
	&infoCmd{},
	&getCmd{},
	&rangeCmd{},
	&exportCmd{},
}

func fail(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	return subcommands.ExitFailure
}

// serveCmd implements the "serve" command.
type serveCmd struct{}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "initializes every series and serves the HTTP API" }
func (*serveCmd) Usage() string {
	return `serve:

Initializes every configured series, serves the HTTP API and refreshes stale
series every refresh.interval until interrupted.
`
}
func (*serveCmd) SetFlags(*flag.FlagSet) {}

func (*serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	a.log.Info("starting seriesstore", "version", version, "listen_addr", a.cfg.Server.ListenAddr,
		"backend", a.cfg.Storage.Backend, "series", len(a.defs))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, out := range a.manager.InitAll(ctx, a.defs) {
		if out.Err != nil {
			a.log.Warn("series initialized with errors", "series", out.Series, "error", out.Err)
		}
	}

	server := api.NewServer(a.cfg.Server.ListenAddr, a.cfg.Server.Timeout, a.catalog, a.refresh, a.gateway)
	go func() {
		a.log.Info("API server listening", "addr", a.cfg.Server.ListenAddr)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server error", "error", err)
			stop()
		}
	}()
	go a.refresh.Watch(ctx, a.cfg.Refresh.Interval)

	<-ctx.Done()
	a.log.Info("shutdown signal received, stopping server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		a.log.Warn("server shutdown error", "error", err)
	}

	a.log.Info("server stopped")
	return subcommands.ExitSuccess
}

// initCmd implements the "init" command.
type initCmd struct{}

func (*initCmd) Name() string     { return "init" }
func (*initCmd) Synopsis() string { return "loads series from snapshot or seed, then refreshes stale ones" }
func (*initCmd) Usage() string {
	return `init [name...]:

Initializes the named series, or every configured series, and prints what
each one was loaded from.
`
}
func (*initCmd) SetFlags(*flag.FlagSet) {}

func (*initCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	defs, err := a.selected(f.Args())
	if err != nil {
		return fail("%v", err)
	}

	for _, out := range a.manager.InitAll(ctx, defs) {
		info, _ := a.catalog.Info(out.Series)
		fmt.Printf("%-16s %-15s %6d records  last=%-10s refresh=%s\n",
			out.Series, out.Origin, info.TotalRecords, info.LastDate, out.Refresh.State)
		if out.Err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %s: %v\n", out.Series, out.Err)
		}
		if out.Refresh.Err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %s: %v\n", out.Series, out.Refresh.Err)
		}
	}
	return subcommands.ExitSuccess
}

// refreshCmd implements the "refresh" command.
type refreshCmd struct {
	force bool
}

func (*refreshCmd) Name() string     { return "refresh" }
func (*refreshCmd) Synopsis() string { return "fetches new rows for series from their provider" }
func (*refreshCmd) Usage() string {
	return `refresh [-force] [name...]:

Loads the named series, or every configured series, and fetches rows newer
than their last date. Series already refreshed today are skipped unless
-force is given.
`
}

func (c *refreshCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.force, "force", false, "fetch even if the series was refreshed today")
}

func (c *refreshCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	defs, err := a.selected(f.Args())
	if err != nil {
		return fail("%v", err)
	}

	status := subcommands.ExitSuccess
	for _, def := range defs {
		if _, err := a.populate(ctx, def.Name); err != nil {
			return fail("%v", err)
		}
		refresh := a.refresh.Refresh
		if c.force {
			refresh = a.refresh.ForceRefresh
		}
		res, err := refresh(ctx, def.Name)
		if err != nil {
			return fail("%v", err)
		}
		fmt.Printf("%-16s %-15s received=%d inserted=%d updated=%d discarded=%d\n",
			res.Series, res.State, res.Received, res.Inserted, res.Updated, res.Discarded)
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", res.Err)
			status = subcommands.ExitFailure
		}
	}
	return status
}

// infoCmd implements the "info" command.
type infoCmd struct{}

func (*infoCmd) Name() string     { return "info" }
func (*infoCmd) Synopsis() string { return "prints record counts and date bounds of series" }
func (*infoCmd) Usage() string {
	return `info [name...]:

Prints the summary of the named series, or of every configured series, as
JSON. Series are loaded from storage or seed; providers are not contacted.
`
}
func (*infoCmd) SetFlags(*flag.FlagSet) {}

func (*infoCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	defs, err := a.selected(f.Args())
	if err != nil {
		return fail("%v", err)
	}
	infos := make([]types.Info, 0, len(defs))
	for _, def := range defs {
		s, err := a.populate(ctx, def.Name)
		if err != nil {
			return fail("%v", err)
		}
		infos = append(infos, s.Info())
	}
	if err := printJSON(infos); err != nil {
		return fail("%v", err)
	}
	return subcommands.ExitSuccess
}

// getCmd implements the "get" command.
type getCmd struct{}

func (*getCmd) Name() string     { return "get" }
func (*getCmd) Synopsis() string { return "prints the row of one date" }
func (*getCmd) Usage() string {
	return `get <name> <date>:

Prints the row stored at date, with its neighbouring dates.
`
}
func (*getCmd) SetFlags(*flag.FlagSet) {}

func (*getCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	name, key := f.Arg(0), f.Arg(1)

	a, err := openApp()
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	s, err := a.populate(ctx, name)
	if err != nil {
		return fail("%v", err)
	}
	row, ok := s.Get(key)
	if !ok {
		return fail("%s has no record at %s", name, key)
	}
	prev, _ := s.Previous(key)
	next, _ := s.Next(key)
	if err := printJSON(map[string]any{"key": key, "row": row, "previous": prev, "next": next}); err != nil {
		return fail("%v", err)
	}
	return subcommands.ExitSuccess
}

// rangeCmd implements the "range" command.
type rangeCmd struct{}

func (*rangeCmd) Name() string     { return "range" }
func (*rangeCmd) Synopsis() string { return "prints the rows between two dates" }
func (*rangeCmd) Usage() string {
	return `range <name> <start> <end>:

Prints the rows from start to end inclusive. Both dates must exist in the
series.
`
}
func (*rangeCmd) SetFlags(*flag.FlagSet) {}

func (*rangeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 3 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	name, start, end := f.Arg(0), f.Arg(1), f.Arg(2)

	a, err := openApp()
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	s, err := a.populate(ctx, name)
	if err != nil {
		return fail("%v", err)
	}
	records := s.Range(start, end)
	if records == nil {
		return fail("%s: both %s and %s must be existing dates", name, start, end)
	}
	if err := printJSON(records); err != nil {
		return fail("%v", err)
	}
	return subcommands.ExitSuccess
}

// exportCmd implements the "export" command.
type exportCmd struct {
	delimiter string
	output    string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "writes a series as delimited text" }
func (*exportCmd) Usage() string {
	return `export [-d ;] [-o file] <name>:

Writes the series in the seed format: a header line then one line per date.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.delimiter, "d", ",", "field delimiter, ',' or ';'")
	f.StringVar(&c.output, "o", "", "output file, stdout by default")
}

func (c *exportCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if c.delimiter != "," && c.delimiter != ";" {
		return fail("delimiter must be ',' or ';'")
	}

	a, err := openApp()
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	s, err := a.populate(ctx, f.Arg(0))
	if err != nil {
		return fail("%v", err)
	}

	w := os.Stdout
	if c.output != "" {
		file, err := os.Create(c.output)
		if err != nil {
			return fail("%v", err)
		}
		defer file.Close()
		w = file
	}
	if err := ingest.Write(w, s, rune(c.delimiter[0])); err != nil {
		return fail("%v", err)
	}
	return subcommands.ExitSuccess
}
