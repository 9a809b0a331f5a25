package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wesm/msgextract/internal/extract"
	"github.com/wesm/msgextract/internal/record"
	"github.com/wesm/msgextract/internal/render"
)

var (
	parseMaxDepth     int
	parseNestingLevel string
	parseFormat       string
	parseTypeHint     string
	parseJobs         int
	parsePreviewLines int
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>...",
	Short: "Extract every message from .eml and .msg files",
	Long: `Parse one or more .eml or .msg files and print their messages.

Each input yields its top-level message followed by every nested message
(attached .eml/.msg files, forwarded messages) in depth-first order. Files
are parsed concurrently; output follows argument order. Use "-" to read
standard input.

Examples:
  msgextract parse message.eml
  msgextract parse --max-depth 2 --nesting-level inner forwarded.msg
  msgextract parse --format text *.eml`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := parseOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		files, err := parseFiles(cmd.Context(), args, opts)
		if err != nil {
			return err
		}

		format := parseFormat
		if !cmd.Flags().Changed("format") {
			format = cfg.Output.Format
		}
		out := cmd.OutOrStdout()
		switch strings.ToLower(format) {
		case "text":
			err = render.Text(out, files, render.TextOptions{
				PreviewLines: parsePreviewLines,
				Color:        render.UseColor(out),
			})
		case "", "json":
			err = render.JSON(out, files)
		default:
			return fmt.Errorf("invalid --format %q (want json or text)", format)
		}
		if err != nil {
			return fmt.Errorf("write output: %w", err)
		}

		failed := 0
		for _, f := range files {
			if f.Err != nil {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(files))
		}
		return nil
	},
}

// parseOptions is the resolved configuration for one parse run.
type parseOptions struct {
	maxDepth      *int
	selection     extract.Selection
	typeHint      string
	maxInputBytes int64
	workers       int
	logger        *slog.Logger
}

// parseOptionsFromFlags merges flags over the loaded config.
func parseOptionsFromFlags(cmd *cobra.Command) (parseOptions, error) {
	opts := parseOptions{
		maxDepth:      cfg.Parse.MaxDepth,
		typeHint:      parseTypeHint,
		maxInputBytes: cfg.Parse.MaxInputBytes,
		workers:       cfg.Parse.Workers,
		logger:        logger,
	}
	if cmd.Flags().Changed("max-depth") {
		opts.maxDepth = nil
		if parseMaxDepth >= 0 {
			d := parseMaxDepth
			opts.maxDepth = &d
		}
	}

	level := cfg.Parse.NestingLevel
	if cmd.Flags().Changed("nesting-level") {
		level = parseNestingLevel
	}
	sel, err := extract.ParseSelection(level)
	if err != nil {
		return opts, err
	}
	opts.selection = sel

	if cmd.Flags().Changed("jobs") {
		opts.workers = parseJobs
	}
	return opts, nil
}

// parseFiles extracts every path with at most opts.workers files in flight.
// Per-file failures are recorded in the result; only cancellation aborts.
func parseFiles(ctx context.Context, paths []string, opts parseOptions) ([]render.File, error) {
	if opts.logger == nil {
		opts.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	workers := opts.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]render.File, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = parseOne(path, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func parseOne(path string, opts parseOptions) render.File {
	log := opts.logger.With("file", path)
	result := render.File{Name: path}

	data, err := readInput(path, opts.maxInputBytes)
	if err != nil {
		log.Warn("read failed", "error", err)
		result.Err = err
		return result
	}

	res, err := extract.Extract(data, extract.Options{
		FileName:  path,
		TypeHint:  opts.typeHint,
		MaxDepth:  opts.maxDepth,
		Selection: opts.selection,
		Logger:    log,
	})
	if err != nil {
		log.Warn("extract failed", "error", err)
		var corrupt *record.CorruptContainerError
		if errors.As(err, &corrupt) {
			log.Debug("corrupt container detail", "trace", eris.ToString(corrupt.Err, true))
		}
		result.Err = err
		return result
	}
	log.Debug("extracted", "records", len(res.Records), "notices", len(res.Notices))
	result.Records = res.Records
	result.Notices = res.Notices
	return result
}

// readInput reads path ("-" for stdin), refusing inputs over maxBytes when
// maxBytes is positive.
func readInput(path string, maxBytes int64) ([]byte, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		if st, err := f.Stat(); err == nil && maxBytes > 0 && st.Size() > maxBytes {
			return nil, fmt.Errorf("input is %d bytes, over the %d byte limit", st.Size(), maxBytes)
		}
		r = f
	}
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("input exceeds the %d byte limit", maxBytes)
	}
	return data, nil
}

func init() {
	parseCmd.Flags().IntVar(&parseMaxDepth, "max-depth", -1, "maximum nesting depth to expand (0 or 1 = top level only, negative = unbounded)")
	parseCmd.Flags().StringVar(&parseNestingLevel, "nesting-level", "all", "records to output: all, outer or inner")
	parseCmd.Flags().StringVar(&parseFormat, "format", "json", "output format: json or text")
	parseCmd.Flags().StringVar(&parseTypeHint, "type-hint", "", "input type description used when the bytes are inconclusive (e.g. file(1) output)")
	parseCmd.Flags().IntVarP(&parseJobs, "jobs", "j", 0, "files parsed concurrently (0 = number of CPUs)")
	parseCmd.Flags().IntVar(&parsePreviewLines, "preview-lines", 3, "body lines shown per message with --format text (negative hides bodies)")
	rootCmd.AddCommand(parseCmd)
}
