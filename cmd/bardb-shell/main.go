// bardb-shell is an interactive console for a bardb data directory.
//
// It opens the data directory directly (not through a running daemon), so it
// must not be pointed at a directory a live bardbd is using.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/shopspring/decimal"

	"github.com/quantarchive/bardb/internal/assets"
	"github.com/quantarchive/bardb/internal/logging"
	"github.com/quantarchive/bardb/internal/storage"
	"github.com/quantarchive/bardb/internal/storage/chunk"
	"github.com/quantarchive/bardb/internal/storage/config"
	"github.com/quantarchive/bardb/internal/storage/retention"
	"github.com/quantarchive/bardb/internal/storage/types"
)

// Version is set at build time via ldflags
var Version = "dev"

type shell struct {
	svc    *storage.Service
	assets *assets.Store
}

func main() {
	cfgPath := flag.String("config", "bardb.yaml", "config file path")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	flag.Parse()

	// Keep the prompt clean: warnings and errors only.
	logging.Init(slog.LevelWarn, false)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	// Background sweeps stay off in the shell; compress/reap run on demand.
	cfg.Compaction.Enabled = false
	cfg.Retention.Enabled = false

	assetStore, err := assets.Open(cfg.CatalogPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open asset catalog: %v\n", err)
		os.Exit(1)
	}

	svc, err := storage.New(cfg, assetStore)
	if err != nil {
		assetStore.Close()
		fmt.Fprintf(os.Stderr, "open storage: %v\n", err)
		os.Exit(1)
	}
	if err := svc.Start(); err != nil {
		assetStore.Close()
		fmt.Fprintf(os.Stderr, "start storage: %v\n", err)
		os.Exit(1)
	}

	sh := &shell{svc: svc, assets: assetStore}

	fmt.Printf("bardb-shell %s (data_dir=%s)\n", Version, cfg.DataDir)
	fmt.Println("Type 'help' for commands, 'exit' to quit.")

	p := prompt.New(
		sh.execute,
		completer,
		prompt.OptionPrefix("bardb> "),
		prompt.OptionTitle("bardb-shell"),
	)
	p.Run()
}

func (s *shell) shutdown(code int) {
	if err := s.svc.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "stop storage: %v\n", err)
	}
	if err := s.assets.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close asset catalog: %v\n", err)
	}
	os.Exit(code)
}

func (s *shell) execute(line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}

	var err error
	switch args[0] {
	case "exit", "quit":
		s.shutdown(0)
	case "help":
		printHelp()
	case "stats":
		s.printStats()
	case "series":
		s.printSeries()
	case "chunks":
		err = s.printChunks(args[1:])
	case "put":
		err = s.putBar(args[1:])
	case "get":
		err = s.getBar(args[1:])
	case "scan":
		err = s.scanBars(args[1:])
	case "recent":
		err = s.printRecent(args[1:])
	case "compress":
		err = s.compress(args[1:])
	case "reap":
		err = s.reapSeries(args[1:])
	case "retention":
		err = s.retention(args[1:])
	case "asset":
		err = s.asset(args[1:])
	default:
		err = fmt.Errorf("unknown command %q (try 'help')", args[0])
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func printHelp() {
	fmt.Print(`Commands:
  stats                                      storage statistics
  series                                     list series and chunk counts
  chunks <class/res>                         list chunks of one series
  put <class/res> <sym> <ts> <o> <h> <l> <c> <v>   write one bar
  get <class/res> <sym> <ts>                 read one bar
  scan <class/res> <sym> <from> <to> [limit] read a time range
  recent [n]                                 most recent accepted writes
  compress <class/res>                       compress all mutable chunks now
  reap <class/res>                           apply retention to one series now
  retention dry|run                          retention pass over all series
  asset add <sym> <class> [name]             register or update an asset
  asset get <sym>                            show one asset
  asset ls <class>                           list active assets
  asset rm <sym>                             deactivate an asset
  exit                                       quit

Series are named class/resolution, e.g. stock/1m or crypto/1h.
Timestamps are RFC3339, e.g. 2024-06-01T15:04:00Z.
`)
}

func parseSeries(arg string) (types.SeriesID, error) {
	return types.ParseSeriesID(arg)
}

func parseTime(arg string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, arg)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q (want RFC3339): %w", arg, err)
	}
	return ts, nil
}

func (s *shell) printStats() {
	st := s.svc.Stats()
	fmt.Printf("running:       %v\n", st.Running)
	fmt.Printf("uptime:        %s\n", st.Uptime.Round(time.Second))
	fmt.Printf("bars written:  %d\n", st.BarsWritten)
	fmt.Printf("write latency: p50=%s p90=%s p99=%s (n=%d)\n",
		st.WriteLatency.P50, st.WriteLatency.P90, st.WriteLatency.P99, st.WriteLatency.Count)
	fmt.Printf("wal:           records=%d bytes=%d segments=%d syncs=%d\n",
		st.WAL.RecordsWritten, st.WAL.BytesWritten, st.WAL.SegmentsCreated, st.WAL.SyncsPerformed)
	fmt.Printf("compaction:    sweeps=%d compressed=%d failed=%d\n",
		st.Compaction.SweepsRun, st.Compaction.ChunksCompressed, st.Compaction.ChunksFailed)
	fmt.Printf("retention:     deleted=%d bars=%d freed=%d skipped=%d\n",
		st.Retention.ChunksDeleted, st.Retention.BarsDeleted, st.Retention.BytesFreed, st.Retention.ChunksSkipped)
}

func (s *shell) printSeries() {
	st := s.svc.Stats()
	fmt.Printf("%-12s %7s %8s %11s %8s\n", "SERIES", "CHUNKS", "MUTABLE", "COMPRESSED", "BARS")
	for _, ss := range st.Series {
		fmt.Printf("%-12s %7d %8d %11d %8d\n",
			ss.Series, ss.Chunks, ss.MutableChunks, ss.CompressedChunks, ss.Bars)
	}
}

func (s *shell) printChunks(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: chunks <class/res>")
	}
	id, err := parseSeries(args[0])
	if err != nil {
		return err
	}
	series, err := s.svc.Catalog().Get(id)
	if err != nil {
		return err
	}
	chunks := series.Index.Chunks()
	if len(chunks) == 0 {
		fmt.Println("no chunks")
		return nil
	}
	fmt.Printf("%-25s %-25s %-10s %6s\n", "START", "END", "STATE", "BARS")
	for _, c := range chunks {
		state := "mutable"
		if c.State() == chunk.StateCompressed {
			state = "compressed"
		}
		fmt.Printf("%-25s %-25s %-10s %6d\n",
			c.Start().Format(time.RFC3339), c.End().Format(time.RFC3339), state, c.Len())
	}
	return nil
}

func (s *shell) putBar(args []string) error {
	if len(args) != 8 {
		return fmt.Errorf("usage: put <class/res> <sym> <ts> <open> <high> <low> <close> <volume>")
	}
	id, err := parseSeries(args[0])
	if err != nil {
		return err
	}
	ts, err := parseTime(args[2])
	if err != nil {
		return err
	}
	prices := make([]decimal.Decimal, 5)
	for i, field := range args[3:8] {
		d, err := decimal.NewFromString(field)
		if err != nil {
			return fmt.Errorf("bad decimal %q: %w", field, err)
		}
		prices[i] = d
	}
	bar := types.Bar{
		Symbol:    args[1],
		Timestamp: ts,
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
	}
	if err := s.svc.PutBar(context.Background(), id, bar); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func (s *shell) getBar(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: get <class/res> <sym> <ts>")
	}
	id, err := parseSeries(args[0])
	if err != nil {
		return err
	}
	ts, err := parseTime(args[2])
	if err != nil {
		return err
	}
	bar, err := s.svc.GetBar(context.Background(), id, args[1], ts)
	if err != nil {
		return err
	}
	if bar == nil {
		fmt.Println("not found")
		return nil
	}
	printBar(*bar)
	return nil
}

func (s *shell) scanBars(args []string) error {
	if len(args) < 4 || len(args) > 5 {
		return fmt.Errorf("usage: scan <class/res> <sym> <from> <to> [limit]")
	}
	id, err := parseSeries(args[0])
	if err != nil {
		return err
	}
	from, err := parseTime(args[2])
	if err != nil {
		return err
	}
	to, err := parseTime(args[3])
	if err != nil {
		return err
	}
	limit := 50
	if len(args) == 5 {
		limit, err = strconv.Atoi(args[4])
		if err != nil || limit <= 0 {
			return fmt.Errorf("bad limit %q", args[4])
		}
	}

	sc, err := s.svc.GetBars(context.Background(), id, args[1], from, to)
	if err != nil {
		return err
	}
	defer sc.Close()

	n := 0
	for sc.Next() {
		if n >= limit {
			fmt.Printf("... truncated at %d bars\n", limit)
			break
		}
		printBar(sc.Bar())
		n++
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("no bars")
	}
	return nil
}

func printBar(b types.Bar) {
	line := fmt.Sprintf("%s %-10s o=%s h=%s l=%s c=%s v=%s",
		b.Timestamp.Format(time.RFC3339), b.Symbol,
		b.Open, b.High, b.Low, b.Close, b.Volume)
	if b.TradeCount != nil {
		line += fmt.Sprintf(" trades=%d", *b.TradeCount)
	}
	if b.VWAP != nil {
		line += fmt.Sprintf(" vwap=%s", *b.VWAP)
	}
	fmt.Println(line)
}

func (s *shell) printRecent(args []string) error {
	n := 10
	if len(args) == 1 {
		var err error
		n, err = strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("bad count %q", args[0])
		}
	}
	events := s.svc.RecentWrites(n)
	if len(events) == 0 {
		fmt.Println("no recent writes")
		return nil
	}
	for _, ev := range events {
		fmt.Printf("%-12s ", ev.Series)
		printBar(ev.Bar)
	}
	return nil
}

func (s *shell) compress(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: compress <class/res>")
	}
	id, err := parseSeries(args[0])
	if err != nil {
		return err
	}
	n, err := s.svc.ForceCompress(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Printf("compressed %d chunks\n", n)
	return nil
}

func (s *shell) reapSeries(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: reap <class/res>")
	}
	id, err := parseSeries(args[0])
	if err != nil {
		return err
	}
	result, err := s.svc.ForceReap(id)
	if err != nil {
		return err
	}
	printCleanup(result)
	return nil
}

func (s *shell) retention(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: retention dry|run")
	}
	var results []retention.CleanupResult
	switch args[0] {
	case "dry":
		results = s.svc.DryRunRetention()
	case "run":
		results = s.svc.RunRetention()
	default:
		return fmt.Errorf("usage: retention dry|run")
	}
	for _, r := range results {
		printCleanup(r)
	}
	return nil
}

func printCleanup(r retention.CleanupResult) {
	fmt.Printf("%-12s deleted=%d bars=%d freed=%d skipped=%d\n",
		r.Series, r.ChunksDeleted, r.BarsDeleted, r.BytesFreed, r.ChunksSkipped)
	for _, err := range r.Errors {
		fmt.Printf("  warning: %v\n", err)
	}
}

func (s *shell) asset(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: asset add|get|ls|rm ...")
	}
	ctx := context.Background()

	switch args[0] {
	case "add":
		if len(args) < 3 {
			return fmt.Errorf("usage: asset add <sym> <class> [name]")
		}
		class, err := types.ParseAssetClass(args[2])
		if err != nil {
			return err
		}
		a := &assets.Asset{
			Symbol: args[1],
			Class:  class,
			Name:   strings.Join(args[3:], " "),
			Active: true,
		}
		if err := s.assets.Upsert(ctx, a); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil

	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: asset get <sym>")
		}
		a, err := s.assets.Lookup(ctx, args[1])
		if err != nil {
			return err
		}
		printAsset(*a)
		return nil

	case "ls":
		if len(args) != 2 {
			return fmt.Errorf("usage: asset ls <class>")
		}
		class, err := types.ParseAssetClass(args[1])
		if err != nil {
			return err
		}
		list, err := s.assets.ListActive(ctx, class)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("no active assets")
			return nil
		}
		for _, a := range list {
			printAsset(a)
		}
		return nil

	case "rm":
		if len(args) != 2 {
			return fmt.Errorf("usage: asset rm <sym>")
		}
		if err := s.assets.Deactivate(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil

	default:
		return fmt.Errorf("unknown asset subcommand %q", args[0])
	}
}

func printAsset(a assets.Asset) {
	active := "active"
	if !a.Active {
		active = "inactive"
	}
	fmt.Printf("%-10s %-7s %-9s %s\n", a.Symbol, a.Class, active, a.Name)
}

var commands = []prompt.Suggest{
	{Text: "stats", Description: "storage statistics"},
	{Text: "series", Description: "list series and chunk counts"},
	{Text: "chunks", Description: "list chunks of one series"},
	{Text: "put", Description: "write one bar"},
	{Text: "get", Description: "read one bar"},
	{Text: "scan", Description: "read a time range"},
	{Text: "recent", Description: "most recent accepted writes"},
	{Text: "compress", Description: "compress all mutable chunks of a series"},
	{Text: "reap", Description: "apply retention to one series"},
	{Text: "retention", Description: "retention pass over all series"},
	{Text: "asset", Description: "manage the asset catalog"},
	{Text: "help", Description: "show commands"},
	{Text: "exit", Description: "quit"},
}

var seriesNames = func() []prompt.Suggest {
	var out []prompt.Suggest
	for _, id := range types.AllSeries() {
		out = append(out, prompt.Suggest{Text: id.String()})
	}
	return out
}()

func completer(d prompt.Document) []prompt.Suggest {
	args := strings.Fields(d.TextBeforeCursor())
	word := d.GetWordBeforeCursor()

	// Completing the first token.
	if len(args) == 0 || (len(args) == 1 && word != "") {
		return prompt.FilterHasPrefix(commands, word, true)
	}

	switch args[0] {
	case "chunks", "put", "get", "scan", "compress", "reap":
		if len(args) == 1 || (len(args) == 2 && word != "") {
			return prompt.FilterHasPrefix(seriesNames, word, true)
		}
	case "retention":
		if len(args) == 1 || (len(args) == 2 && word != "") {
			return prompt.FilterHasPrefix([]prompt.Suggest{
				{Text: "dry"}, {Text: "run"},
			}, word, true)
		}
	case "asset":
		if len(args) == 1 || (len(args) == 2 && word != "") {
			return prompt.FilterHasPrefix([]prompt.Suggest{
				{Text: "add"}, {Text: "get"}, {Text: "ls"}, {Text: "rm"},
			}, word, true)
		}
	}
	return nil
}
