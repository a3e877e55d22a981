package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/scaffold-rental/rental-admin/cmd/rentalctl/cli"
	"github.com/scaffold-rental/rental-admin/internal/app"
	"github.com/scaffold-rental/rental-admin/internal/customers"
	"github.com/scaffold-rental/rental-admin/internal/platform/db"
	"github.com/scaffold-rental/rental-admin/jobs"
)

type jobOps interface {
	Trigger(ctx context.Context, name string, opts cli.TriggerOptions) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (cli.QueueStats, error)
	ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error)
	Close() error
}

type driftReporter interface {
	Drift(ctx context.Context) ([]customers.Customer, error)
}

// deps are the seams between commands and infrastructure.
type deps struct {
	loadConfig func() (*app.Config, error)
	openJobs   func(cfg *app.Config) (jobOps, error)
	openDrift  func(ctx context.Context, cfg *app.Config) (driftReporter, func(), error)
}

func defaultDeps() deps {
	return deps{
		loadConfig: app.LoadConfig,
		openJobs: func(cfg *app.Config) (jobOps, error) {
			return cli.NewJobsCLI(cfg.RedisAddr)
		},
		openDrift: func(ctx context.Context, cfg *app.Config) (driftReporter, func(), error) {
			pool, err := db.New(ctx, cfg.PGDSN)
			if err != nil {
				return nil, nil, err
			}
			svc := customers.NewService(customers.NewRepository(pool), nil, nil, nil,
				customers.ServiceConfig{Location: cfg.Location()})
			return svc, pool.Close, nil
		},
	}
}

type rootOptions struct {
	json bool
	cfg  *app.Config
}

func newRootCmd(d deps) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "rentalctl",
		Short:         "Operate the rental customer status service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := d.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output JSON")

	root.AddCommand(statusCmd(d, opts), jobsCmd(d, opts))
	return root
}

func statusCmd(d deps, opts *rootOptions) *cobra.Command {
	status := &cobra.Command{Use: "status", Short: "Customer status maintenance"}
	status.AddCommand(statusRecomputeCmd(d, opts), statusDriftCmd(d, opts))
	return status
}

func statusRecomputeCmd(d deps, opts *rootOptions) *cobra.Command {
	var batch int
	var reason string
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Enqueue a full customer status recompute",
		RunE: func(cmd *cobra.Command, args []string) error {
			if batch == 0 {
				batch = opts.cfg.StatusRecomputeBatch
			}
			return withJobs(d, opts, func(ops jobOps) error {
				info, err := ops.Trigger(cmd.Context(), jobs.TaskCustomerStatusRecompute, cli.TriggerOptions{
					BatchSize: batch,
					Reason:    reason,
				})
				if err != nil {
					return err
				}
				return printEnqueued(cmd, opts, info)
			})
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "customers per transaction (defaults to STATUS_RECOMPUTE_BATCH)")
	cmd.Flags().StringVar(&reason, "reason", "manual:cli", "reason recorded in the job payload")
	return cmd
}

func statusDriftCmd(d deps, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drift",
		Short: "List customers whose stored status disagrees with their contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			reporter, closeFn, err := d.openDrift(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			if closeFn != nil {
				defer closeFn()
			}
			stale, err := reporter.Drift(cmd.Context())
			if err != nil {
				return err
			}
			rows := cli.DriftRows(stale)
			if opts.json {
				return cli.PrintJSON(cmd.OutOrStdout(), rows)
			}
			cli.RenderDrift(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}

func jobsCmd(d deps, opts *rootOptions) *cobra.Command {
	j := &cobra.Command{Use: "jobs", Short: "Inspect and trigger background jobs"}
	j.AddCommand(jobsStatsCmd(d, opts), jobsScheduledCmd(d, opts), jobsTriggerCmd(d, opts))
	return j
}

func jobsStatsCmd(d deps, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(d, opts, func(ops jobOps) error {
				stats, err := ops.InspectQueue(cmd.Context())
				if err != nil {
					return err
				}
				if opts.json {
					return cli.PrintJSON(cmd.OutOrStdout(), stats)
				}
				cli.RenderQueueStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
}

func jobsScheduledCmd(d deps, opts *rootOptions) *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "scheduled",
		Short: "List tasks waiting in the scheduled set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(d, opts, func(ops jobOps) error {
				infos, err := ops.ListScheduled(cmd.Context(), size)
				if err != nil {
					return err
				}
				rows := cli.ScheduledRows(infos)
				if opts.json {
					return cli.PrintJSON(cmd.OutOrStdout(), rows)
				}
				cli.RenderScheduled(cmd.OutOrStdout(), rows, opts.cfg.Location())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&size, "size", 10, "page size")
	return cmd
}

func jobsTriggerCmd(d deps, opts *rootOptions) *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:       "trigger <task-type>",
		Short:     "Enqueue a job with its default payload",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskCustomerStatusRecompute, jobs.TaskIdempotencyCleanup},
		RunE: func(cmd *cobra.Command, args []string) error {
			if retention == 0 {
				retention = opts.cfg.IdempotencyRetention
			}
			return withJobs(d, opts, func(ops jobOps) error {
				info, err := ops.Trigger(cmd.Context(), args[0], cli.TriggerOptions{
					BatchSize: opts.cfg.StatusRecomputeBatch,
					Retention: retention,
				})
				if err != nil {
					return err
				}
				return printEnqueued(cmd, opts, info)
			})
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "idempotency key retention (defaults to IDEMPOTENCY_RETENTION)")
	return cmd
}

func withJobs(d deps, opts *rootOptions, fn func(jobOps) error) error {
	ops, err := d.openJobs(opts.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ops.Close() }()
	return fn(ops)
}

type enqueued struct {
	TaskID string `json:"task_id"`
	Type   string `json:"type,omitempty"`
	Status string `json:"status"`
}

func printEnqueued(cmd *cobra.Command, opts *rootOptions, info *asynq.TaskInfo) error {
	out := enqueued{Status: "already_queued"}
	if info != nil {
		out = enqueued{TaskID: info.ID, Type: info.Type, Status: "queued"}
	}
	if opts.json {
		return cli.PrintJSON(cmd.OutOrStdout(), out)
	}
	if info == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "a recompute is already queued")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (%s)\n", info.Type, info.ID)
	return nil
}
