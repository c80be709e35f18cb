package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rpattn/outreach-core/internal/app"
	"github.com/rpattn/outreach-core/internal/config"
	"github.com/rpattn/outreach-core/internal/db"
	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/ingestion"
	"github.com/rpattn/outreach-core/internal/pipeline"
	"github.com/rpattn/outreach-core/pkg/logger"
)

// cli carries state shared by every sub-command.
type cli struct {
	configPath string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "pipeline",
		Short:        "Validate, adjust and promote outreach intake records",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			logger.InitWithWriter(cfg.Log, cmd.ErrOrStderr())
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", ".", "directory containing config.yaml")

	root.AddCommand(
		c.migrateCmd(),
		c.validateCmd(),
		c.promoteCmd(),
		c.importCmd(),
		c.auditCmd(),
		c.statsCmd(),
	)
	return root
}

// withApp opens the store for the duration of fn.
func (c *cli) withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := app.New(ctx, c.cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func (c *cli) migrateCmd() *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or roll back) database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Storage.Driver != config.StorageDriverPostgres {
				fmt.Fprintf(cmd.OutOrStdout(), "storage driver %s has no schema to migrate\n", c.cfg.Storage.Driver)
				return nil
			}
			if down > 0 {
				return db.RollbackMigrations(c.cfg.Database, down)
			}
			return db.RunMigrations(c.cfg.Database)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead of applying")
	return cmd
}

func (c *cli) validateCmd() *cobra.Command {
	var (
		limit   int
		status  string
		batchID string
	)
	cmd := &cobra.Command{
		Use:   "validate <company|people>",
		Short: "Run the validator over intake records and store the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseEntityKind(args[0])
			if err != nil {
				return err
			}
			opts := pipeline.ValidateOptions{Limit: limit}
			if status != "" {
				for _, raw := range strings.Split(status, ",") {
					s, err := domain.ParseValidationStatus(raw)
					if err != nil {
						return err
					}
					opts.Statuses = append(opts.Statuses, s)
				}
			}
			if batchID != "" {
				id, err := uuid.Parse(batchID)
				if err != nil {
					return fmt.Errorf("invalid --batch-id: %w", err)
				}
				opts.IngestBatchID = &id
			}

			return c.withApp(cmd.Context(), func(a *app.App) error {
				result, err := a.Validation.ValidateBatch(cmd.Context(), kind, opts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records to validate (0 uses the default)")
	cmd.Flags().StringVar(&status, "status", "", "comma separated validation statuses to select (default pending)")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "only records from this ingest batch")
	return cmd
}

func (c *cli) promoteCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "promote <company|people>",
		Short: "Promote passed intake records to the master table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseEntityKind(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app.App) error {
				result, err := a.Promotion.Promote(cmd.Context(), kind, batchSize)
				if printErr := printJSON(cmd.OutOrStdout(), result); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records to attempt (0 uses the default)")
	return cmd
}

func (c *cli) importCmd() *cobra.Command {
	var headerRow int
	cmd := &cobra.Command{
		Use:   "import <company|people> <file>",
		Short: "Load a CSV or XLSX file into the intake table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseEntityKind(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[1], err)
			}
			defer f.Close()

			req := ingestion.Request{Kind: kind, FileName: filepath.Base(args[1]), Data: f}
			if headerRow > 0 {
				idx := headerRow - 1
				req.HeaderRowIndex = &idx
			}

			return c.withApp(cmd.Context(), func(a *app.App) error {
				summary, err := a.Ingestion.Ingest(cmd.Context(), req)
				if printErr := printJSON(cmd.OutOrStdout(), summary); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&headerRow, "header-row", 0, "1-based header row (detected when omitted)")
	return cmd
}

func (c *cli) auditCmd() *cobra.Command {
	var (
		uniqueID string
		action   string
		status   string
		limit    int
		diff     bool
	)
	cmd := &cobra.Command{
		Use:   "audit <company|people>",
		Short: "Show audit log entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseEntityKind(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app.App) error {
				if uniqueID != "" {
					entries, err := a.Audit.ListByUniqueID(cmd.Context(), kind, uniqueID, limit)
					if err != nil {
						return err
					}
					if diff {
						for _, e := range entries {
							fmt.Fprintf(cmd.OutOrStdout(), "# %s %s %s\n", e.CreatedAt.Format(time.RFC3339), e.Action, e.Status)
							fmt.Fprint(cmd.OutOrStdout(), e.SnapshotDiff())
						}
						return nil
					}
					return printJSON(cmd.OutOrStdout(), entries)
				}

				filter := domain.AuditFilter{Limit: limit}
				if action != "" {
					act := domain.AuditAction(action)
					if !act.Valid() {
						return fmt.Errorf("unknown audit action %q", action)
					}
					filter.Action = &act
				}
				if status != "" {
					st := domain.AuditStatus(status)
					if !st.Valid() {
						return fmt.Errorf("unknown audit status %q", status)
					}
					filter.Status = &st
				}
				entries, err := a.Audit.Query(cmd.Context(), kind, filter)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
	cmd.Flags().StringVar(&uniqueID, "unique-id", "", "history of a single record")
	cmd.Flags().StringVar(&action, "action", "", "validate, adjust, promote or promote_failed")
	cmd.Flags().StringVar(&status, "status", "", "success or failed")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	cmd.Flags().BoolVar(&diff, "diff", false, "print snapshot diffs instead of JSON (with --unique-id)")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <company|people>",
		Short: "Count intake records by validation and promotion status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseEntityKind(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app.App) error {
				counts, err := a.Store.Intake().Stats(cmd.Context(), kind)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), counts)
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
