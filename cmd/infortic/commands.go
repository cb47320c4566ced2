package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/infortic/infortic/internal/pipeline"
	"github.com/infortic/infortic/pkg/config"
	"github.com/infortic/infortic/pkg/deadletter"
	"github.com/infortic/infortic/pkg/errors"
	"github.com/infortic/infortic/pkg/logger"
	"github.com/infortic/infortic/pkg/models"
	"github.com/infortic/infortic/pkg/source"
	"github.com/infortic/infortic/pkg/tables"
)

func newLoadCommand(flags *globalFlags) *cobra.Command {
	var (
		kindName      string
		inputs        []string
		formatName    string
		clean         bool
		batchSize     int
		pause         time.Duration
		failOnBatch   bool
		deadLetterDir string
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load records of one kind into their table",
		Long: `Load reads records from JSON, JSON lines or CSV exports (local files or
http(s) URLs), deduplicates them on the table's conflict key and upserts them in
batches. With --clean the table is emptied with its clean procedure first.`,
		Example: `  infortic load --kind lomba --input lomba.json --clean
  infortic load --kind beasiswa --input https://example.com/export.jsonl --batch-size 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := tables.ParseKind(kindName)
			if err != nil {
				return err
			}
			format, err := source.ParseFormat(formatName)
			if err != nil {
				return err
			}

			override := func(cfg *config.Config) {
				f := cmd.Flags()
				if f.Changed("batch-size") {
					cfg.Pipeline.BatchSize = batchSize
				}
				if f.Changed("pause") {
					cfg.Pipeline.InterBatchPause = pause
				}
				if f.Changed("fail-on-batch-error") {
					cfg.Pipeline.FailOnBatchError = failOnBatch
				}
				if f.Changed("dead-letter-dir") {
					cfg.Pipeline.DeadLetterDir = deadLetterDir
				}
			}

			return withApp(cmd.Context(), flags, override, func(ctx context.Context, a *app) error {
				records, err := readInputs(ctx, a, inputs, format)
				if err != nil {
					return err
				}
				p, err := a.pipeline()
				if err != nil {
					return err
				}
				res, err := p.Run(ctx, kind, records, clean)
				printResult(cmd.OutOrStdout(), res)
				return err
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&kindName, "kind", "k", "", "Record kind: competitions (lomba), scholarships (beasiswa) or internships (magang)")
	f.StringSliceVarP(&inputs, "input", "i", nil, "Input file or http(s) URL; repeat to concatenate inputs")
	f.StringVar(&formatName, "format", "auto", "Input format: auto, json, jsonl or csv")
	f.BoolVar(&clean, "clean", false, "Empty the table with its clean procedure before loading")
	f.IntVar(&batchSize, "batch-size", 1000, "Records per upsert call")
	f.DurationVar(&pause, "pause", 100*time.Millisecond, "Pause between batches")
	f.BoolVar(&failOnBatch, "fail-on-batch-error", false, "Exit with an error when any batch failed")
	f.StringVar(&deadLetterDir, "dead-letter-dir", "", "Directory receiving batches that exhausted their retries")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// readInputs concatenates the records of every input in order.
func readInputs(ctx context.Context, a *app, inputs []string, format source.Format) ([]models.Record, error) {
	var records []models.Record
	for _, in := range inputs {
		p, err := newProducer(a, in, format)
		if err != nil {
			return nil, err
		}
		log := logger.WithContext(logger.ContextWithProducer(ctx, p.Name()), a.log)
		recs, err := p.Records(ctx)
		if err != nil {
			log.Error("failed to read input", zap.Error(err))
			return nil, err
		}
		fields := []zap.Field{zap.Int("records", len(recs))}
		if s, ok := p.(interface{ Skipped() int }); ok && s.Skipped() > 0 {
			fields = append(fields, zap.Int("skipped", s.Skipped()))
		}
		log.Info("input read", fields...)
		records = append(records, recs...)
	}
	return records, nil
}

func newProducer(a *app, input string, format source.Format) (source.Producer, error) {
	lower := strings.ToLower(input)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		src, err := source.NewURLSource(input, format, source.SessionConfig{
			Timeout: a.cfg.Store.REST.Timeout,
		}, a.log)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return source.NewFileSource(input, format, a.log), nil
}

func newReplayCommand(flags *globalFlags) *cobra.Command {
	var (
		dir  string
		keep bool
	)

	cmd := &cobra.Command{
		Use:   "replay [file...]",
		Short: "Upsert batches saved in dead-letter files",
		Long: `Replay reads dead-letter files (all files in the dead-letter directory when
none are given) and upserts their records again without cleaning. A file whose
records were all loaded is renamed with a .replayed suffix unless --keep is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, nil, func(ctx context.Context, a *app) error {
				paths := args
				if len(paths) == 0 {
					if dir == "" {
						dir = a.cfg.Pipeline.DeadLetterDir
					}
					if dir == "" {
						return errors.New(errors.ErrorTypeConfig, "no dead-letter files given and no dead-letter directory configured")
					}
					var err error
					if paths, err = deadletter.List(dir); err != nil {
						return err
					}
				}
				if len(paths) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to replay")
					return nil
				}

				p, err := a.pipeline()
				if err != nil {
					return err
				}
				var failed int
				for _, path := range paths {
					ok, err := replayFile(ctx, a, p, path, cmd.OutOrStdout())
					if err != nil {
						return err
					}
					if !ok {
						failed++
						continue
					}
					if !keep {
						if err := os.Rename(path, path+".replayed"); err != nil {
							a.log.Warn("failed to mark dead-letter file as replayed",
								zap.String("path", path), zap.Error(err))
						}
					}
				}
				if failed > 0 {
					return errors.Newf(errors.ErrorTypeRemote, "%d of %d dead-letter files were not fully replayed", failed, len(paths))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Dead-letter directory; defaults to pipeline.dead_letter_dir")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep replayed files in place")
	return cmd
}

// replayFile upserts every entry of one dead-letter file and reports
// whether all records were loaded.
func replayFile(ctx context.Context, a *app, p *pipeline.UpsertPipeline, path string, out io.Writer) (bool, error) {
	entries, err := deadletter.ReadFile(path)
	if err != nil {
		return false, err
	}

	var order []tables.Kind
	byKind := make(map[tables.Kind][]models.Record)
	for _, e := range entries {
		kind, err := tables.ParseKind(string(e.Kind))
		if err != nil {
			return false, err
		}
		if _, seen := byKind[kind]; !seen {
			order = append(order, kind)
		}
		byKind[kind] = append(byKind[kind], e.Records...)
	}

	ok := true
	for _, kind := range order {
		res, err := p.Run(ctx, kind, byKind[kind], false)
		fmt.Fprintf(out, "%s: ", path)
		printResult(out, res)
		if err != nil {
			if errors.IsFatal(err) {
				return false, err
			}
			ok = false
			continue
		}
		if res.Outcome.Failed() {
			ok = false
		}
	}
	a.log.Info("dead-letter file replayed",
		zap.String("path", path),
		zap.Int("entries", len(entries)),
		zap.Bool("complete", ok))
	return ok, nil
}

func newCleanCommand(flags *globalFlags) *cobra.Command {
	var kinds []string

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Empty tables with their clean procedures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, nil, func(ctx context.Context, a *app) error {
				p, err := a.pipeline()
				if err != nil {
					return err
				}
				selected, err := selectKinds(p.Bindings(), kinds)
				if err != nil {
					return err
				}
				for _, kind := range selected {
					b, err := p.Bindings().Lookup(kind)
					if err != nil {
						return err
					}
					if err := b.Clean(ctx); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s cleaned\n", kind, b.Identity.Table)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", nil, "Kinds to clean; required, use \"all\" for every table")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newCountCommand(flags *globalFlags) *cobra.Command {
	var kinds []string

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count rows per table; doubles as a connection test",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, nil, func(ctx context.Context, a *app) error {
				p, err := a.pipeline()
				if err != nil {
					return err
				}
				selected, err := selectKinds(p.Bindings(), kinds)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KIND\tTABLE\tROWS")
				for _, kind := range selected {
					b, err := p.Bindings().Lookup(kind)
					if err != nil {
						return err
					}
					n, err := b.Count(ctx)
					if err != nil {
						_ = tw.Flush()
						return err
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\n", kind, b.Identity.Table, n)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", []string{"all"}, "Kinds to count")
	return cmd
}

// selectKinds resolves kind names; "all" or no names select every bound kind.
func selectKinds(bindings pipeline.Bindings, names []string) ([]tables.Kind, error) {
	if len(names) == 0 {
		return bindings.Kinds(), nil
	}
	var kinds []tables.Kind
	for _, name := range names {
		if strings.EqualFold(name, "all") {
			return bindings.Kinds(), nil
		}
		kind, err := tables.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func newTablesCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "Show the table identities in effect",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			registry, err := cfg.Identities()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tTABLE\tCONFLICT KEY\tCLEAN PROCEDURE\tCOLUMNS")
			for _, id := range registry.All() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					id.Kind, id.Table, id.ConflictKey, id.CleanProcedure, strings.Join(id.ColumnNames(), ","))
			}
			return tw.Flush()
		},
	}
}

func newConfigCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			out, err := config.Render(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cmd
}

// printResult writes a one-line run summary.
func printResult(w io.Writer, res *pipeline.Result) {
	if res == nil {
		return
	}
	fmt.Fprintf(w, "run %s %s -> %s: %s; received %d, kept %d (%d duplicates, %d without key), upserted %d of %d in %d batches, %d failed batches (%d records), %s\n",
		res.RunID, res.Kind, res.Table, res.State(),
		res.Received, res.Dedupe.Kept, res.Dedupe.DuplicatesRemoved, res.Dedupe.MissingKey,
		res.Outcome.Succeeded, res.Outcome.Attempted, res.Batches,
		len(res.Outcome.Failures), res.Outcome.FailedRecords(),
		res.Duration.Round(time.Millisecond))
}
