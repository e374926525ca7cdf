package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bitlens"
)

// env is what every command runs against.
type env struct {
	eng     *bitlens.Engine
	logger  *zap.Logger
	stdout  io.Writer
	globals globalFlags
}

type runFunc func(ctx context.Context, e *env) error

// command registers its flags on fs and returns the function to run after parsing.
type command struct {
	setup func(fs *flag.FlagSet) runFunc
}

var commands = map[string]command{
	"serve":    {setup: serveCmd},
	"filter":   {setup: filterCmd},
	"bake":     {setup: bakeCmd},
	"search":   {setup: searchCmd},
	"datasets": {setup: datasetsCmd},
	"publish":  {setup: publishCmd},
	"fetch":    {setup: fetchCmd},
	"delete":   {setup: deleteCmd},
	"health":   {setup: healthCmd},
	"usage":    {setup: usageCmd},
}

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func requireFlag(fs *flag.FlagSet, name, value string) error {
	if value == "" {
		fmt.Fprintf(fs.Output(), "-%s is required\n", name)
		fs.Usage()
		return errUsage
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func filterCmd(fs *flag.FlagSet) runFunc {
	var (
		req     bitlens.FilterRequest
		outPath string
	)
	fs.StringVar(&req.DataPath, "input", "", "record file (.csv, .tsv, .jsonl, .parquet, .txt)")
	fs.StringVar(&req.Column, "column", "", "text column: index or header name (CSV), field (JSONL), column (Parquet)")
	fs.StringVar(&req.KeywordsPath, "keywords", "", "keyword CSV: category,anchor,anchor,...")
	fs.StringVar(&req.Subject, "subject", "", "build one expanded filter from subject, object and action")
	fs.StringVar(&req.Object, "object", "", "object of the expanded filter")
	fs.StringVar(&req.Action, "action", "", "action verb of the expanded filter")
	fs.StringVar(&req.Format, "format", bitlens.FormatLines, "output format: csv or json")
	fs.IntVar(&req.MaxDistance, "max-distance", 0, "exclusive Hamming distance bound (wins over -min-score)")
	fs.Float64Var(&req.MinScore, "min-score", 0, "exclusive score bound in [0,1)")
	fs.StringVar(&outPath, "out", "", "output file (default stdout)")

	return func(ctx context.Context, e *env) error {
		if err := requireFlag(fs, "input", req.DataPath); err != nil {
			return err
		}
		w := e.stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		stats, err := e.eng.Filter(ctx, req, w)
		if err != nil {
			return err
		}
		e.logger.Info("Filter finished",
			zap.String("input", req.DataPath),
			zap.Int64("records", stats.Records),
			zap.Int64("skipped", stats.Skipped),
			zap.Int64("matches", stats.Matches),
			zap.Duration("duration", stats.Duration),
		)
		return nil
	}
}

func bakeCmd(fs *flag.FlagSet) runFunc {
	var name, input, column string
	fs.StringVar(&name, "name", "", "dataset name")
	fs.StringVar(&input, "input", "", "record file (.csv, .tsv, .jsonl, .parquet, .txt)")
	fs.StringVar(&column, "column", "", "text column: index or header name (CSV), field (JSONL), column (Parquet)")

	return func(ctx context.Context, e *env) error {
		if err := requireFlag(fs, "name", name); err != nil {
			return err
		}
		if err := requireFlag(fs, "input", input); err != nil {
			return err
		}
		ds, stats, err := e.eng.Bake(ctx, name, input, column)
		if err != nil {
			return err
		}
		e.logger.Info("Dataset baked",
			zap.String("dataset", ds.Name()),
			zap.Int64("records", stats.Records),
			zap.Int64("skipped", stats.Skipped),
			zap.Uint64("blob_bytes", ds.BlobBytes()),
			zap.Duration("duration", stats.Duration),
		)
		return nil
	}
}

func searchCmd(fs *flag.FlagSet) runFunc {
	var (
		dataset string
		req     bitlens.SearchRequest
		anchors stringList
		asJSON  bool
	)
	fs.StringVar(&dataset, "dataset", "", "dataset name")
	fs.StringVar(&req.Query, "query", "", "query text")
	fs.Var(&anchors, "anchor", "additional anchor text (repeatable)")
	fs.IntVar(&req.MaxDistance, "max-distance", 0, "exclusive Hamming distance bound")
	fs.Float64Var(&req.MinScore, "min-score", 0, "exclusive score bound in [0,1)")
	fs.IntVar(&req.Limit, "limit", 0, "maximum matches to print")
	fs.BoolVar(&asJSON, "json", false, "print JSON")

	return func(ctx context.Context, e *env) error {
		if err := requireFlag(fs, "dataset", dataset); err != nil {
			return err
		}
		req.Anchors = anchors
		res, err := e.eng.Search(ctx, dataset, req)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(e.stdout, res.Matches)
		}
		tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DISTANCE\tSCORE\tORDINAL\tTEXT")
		for _, m := range res.Matches {
			fmt.Fprintf(tw, "%d\t%.4f\t%d\t%s\n", m.Distance, m.Score, m.Ordinal, m.Text)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		var within uint64
		if res.Entries != nil {
			within = res.Entries.GetCardinality()
		}
		e.logger.Info("Search finished",
			zap.String("dataset", dataset),
			zap.Int("max_distance", res.MaxDistance),
			zap.Int("scanned", res.Scanned),
			zap.Uint64("within_radius", within),
			zap.Int("printed", len(res.Matches)),
		)
		return nil
	}
}

func datasetsCmd(fs *flag.FlagSet) runFunc {
	var asJSON bool
	fs.BoolVar(&asJSON, "json", false, "print JSON")

	return func(ctx context.Context, e *env) error {
		list, err := e.eng.Datasets(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			type item struct {
				Name       string             `json:"name"`
				Records    int64              `json:"records"`
				BlobBytes  uint64             `json:"blob_bytes"`
				Descriptor bitlens.Descriptor `json:"descriptor"`
				CreatedAt  time.Time          `json:"created_at"`
				ArchiveKey string             `json:"archive_key,omitempty"`
			}
			items := make([]item, 0, len(list))
			for _, ds := range list {
				items = append(items, item{
					Name:       ds.Name(),
					Records:    ds.Records(),
					BlobBytes:  ds.BlobBytes(),
					Descriptor: ds.Descriptor(),
					CreatedAt:  time.UnixMilli(ds.CreatedAt()).UTC(),
					ArchiveKey: ds.ArchiveKey(),
				})
			}
			return writeJSON(e.stdout, items)
		}
		tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tRECORDS\tQUANTIZER\tCREATED\tARCHIVE")
		for _, ds := range list {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", ds.Name(), ds.Records(), ds.Descriptor(),
				time.UnixMilli(ds.CreatedAt()).UTC().Format(time.RFC3339), ds.ArchiveKey())
		}
		return tw.Flush()
	}
}

func publishCmd(fs *flag.FlagSet) runFunc {
	var name string
	fs.StringVar(&name, "name", "", "dataset name")
	return func(ctx context.Context, e *env) error {
		if err := requireFlag(fs, "name", name); err != nil {
			return err
		}
		ds, err := e.eng.Publish(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintln(e.stdout, ds.ArchiveKey())
		return nil
	}
}

func fetchCmd(fs *flag.FlagSet) runFunc {
	var name string
	fs.StringVar(&name, "name", "", "dataset name")
	return func(ctx context.Context, e *env) error {
		if err := requireFlag(fs, "name", name); err != nil {
			return err
		}
		ds, err := e.eng.Fetch(ctx, name)
		if err != nil {
			return err
		}
		e.logger.Info("Dataset fetched",
			zap.String("dataset", ds.Name()),
			zap.String("index", ds.IndexPath()),
			zap.Int64("records", ds.Records()),
		)
		return nil
	}
}

func deleteCmd(fs *flag.FlagSet) runFunc {
	var (
		name  string
		purge bool
	)
	fs.StringVar(&name, "name", "", "dataset name")
	fs.BoolVar(&purge, "purge", false, "also delete the archived copy")
	return func(ctx context.Context, e *env) error {
		if err := requireFlag(fs, "name", name); err != nil {
			return err
		}
		return e.eng.Delete(ctx, name, purge)
	}
}

func healthCmd(_ *flag.FlagSet) runFunc {
	return func(ctx context.Context, e *env) error {
		report := e.eng.Health(ctx)
		if err := writeJSON(e.stdout, report); err != nil {
			return err
		}
		if report.Status != bitlens.HealthOK {
			return fmt.Errorf("status %s", report.Status)
		}
		return nil
	}
}

func usageCmd(fs *flag.FlagSet) runFunc {
	var period string
	fs.StringVar(&period, "period", "month", "day or month")
	return func(ctx context.Context, e *env) error {
		report, err := e.eng.Usage(ctx, period)
		if err != nil {
			return err
		}
		return writeJSON(e.stdout, report)
	}
}
