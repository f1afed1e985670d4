package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-query-cache/factdb"
	"github.com/goliatone/go-query-cache/internal/scenario"
	"github.com/goliatone/go-query-cache/reactivecache"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		flags  globalFlags
		output string
	)

	root := &cobra.Command{
		Use:           "qcache",
		Short:         "Incremental query cache over an in-memory fact database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if output != "yaml" && output != "json" {
				return errors.Newf("unknown output format %q", output)
			}
			return nil
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (yaml or toml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.BoolVar(&flags.jsonLogs, "json-logs", false, "write logs as JSON")
	pf.StringVar(&flags.journal, "journal", "", "SQLite DSN of the transaction journal")
	pf.StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")

	write := func(v any) error {
		return render(out, output, v)
	}

	root.AddCommand(
		newRunCmd(&flags, write),
		newQueryCmd(&flags, write),
		newReplayCmd(&flags, write),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(out, version)
			},
		},
	)
	return root
}

func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app) error) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)
	return fn(ctx, a)
}

func newRunCmd(flags *globalFlags, write func(any) error) *cobra.Command {
	return &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario and report how its watched queries change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				conn, err := a.container.OpenRepo(ctx, s.RepoName(), factdb.DefaultSchema())
				if err != nil {
					return err
				}
				report, err := scenario.Run(ctx, a.container.Engine(), conn, s)
				if err != nil {
					return err
				}
				return write(report)
			})
		},
	}
}

func newQueryCmd(flags *globalFlags, write func(any) error) *cobra.Command {
	var (
		inputs []string
		repo   string
	)
	cmd := &cobra.Command{
		Use:   "query <graph> <query>",
		Short: "Evaluate a query against a graph document",
		Long: "Evaluate a query against a graph document. Each --in value is an entity\n" +
			"reference (page name, block uuid or #id) bound to the next :in variable.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := scenario.LoadGraph(args[0])
			if err != nil {
				return err
			}
			q, err := factdb.ParseQuery(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				conn, err := a.container.OpenRepo(ctx, repo, factdb.DefaultSchema())
				if err != nil {
					return err
				}
				if !g.Empty() {
					data, err := g.TxData()
					if err != nil {
						return err
					}
					if _, err := conn.Transact(ctx, data, factdb.Metadata{factdb.MetaOrigin: "cli"}); err != nil {
						return err
					}
				}

				bound := make([]any, 0, len(inputs))
				for _, in := range inputs {
					ref, err := scenario.Ref(in)
					if err != nil {
						return err
					}
					id, ok := conn.DB().Resolve(ref)
					if !ok {
						return errors.Wrapf(factdb.ErrUnresolved, "input %q", in)
					}
					bound = append(bound, id)
				}

				cell, err := a.container.Engine().Custom(ctx, repo, args[1], q,
					reactivecache.WithInputs(bound...), reactivecache.NonReactive())
				if err != nil {
					return err
				}
				return write(scenario.Render(cell.Get()))
			})
		},
	}
	cmd.Flags().StringArrayVar(&inputs, "in", nil, "query input as an entity reference, repeatable")
	cmd.Flags().StringVar(&repo, "repo", "cli", "repository name")
	return cmd
}

// replaySummary describes a repository rebuilt from the journal.
type replaySummary struct {
	Repo     string `yaml:"repo" json:"repo"`
	Entities int    `yaml:"entities" json:"entities"`
	MaxEID   int64  `yaml:"max_eid" json:"max_eid"`
	Journals any    `yaml:"journals" json:"journals"`
}

func newReplayCmd(flags *globalFlags, write func(any) error) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <repo>",
		Short: "Rebuild a repository from the journal and summarize it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo := args[0]
			return withApp(cmd, flags, func(ctx context.Context, a *app) error {
				if a.container.Journal() == nil {
					return errors.New("replay needs a journal, set --journal or journal.enabled")
				}
				conn, err := a.container.OpenRepo(ctx, repo, factdb.DefaultSchema())
				if err != nil {
					return err
				}
				journals, err := a.container.Engine().Journals(ctx, repo, reactivecache.NonReactive())
				if err != nil {
					return err
				}
				db := conn.DB()
				return write(replaySummary{
					Repo:     repo,
					Entities: db.Size(),
					MaxEID:   int64(db.MaxEID()),
					Journals: scenario.Render(journals.Get()),
				})
			})
		},
	}
}

func render(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return errors.Newf("unknown output format %q", format)
}
