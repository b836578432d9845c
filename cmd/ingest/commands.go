package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/timmy/mediavault/internal/app"
	"github.com/timmy/mediavault/internal/config"
	"github.com/timmy/mediavault/internal/domain"
	"github.com/timmy/mediavault/internal/importer"
	"github.com/timmy/mediavault/internal/repository"
)

var configPath string

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ingest",
		Short:        "Operate media imports",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.AddCommand(newImportCmd())
	return cmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create and control bulk imports",
	}
	cmd.AddCommand(
		newCreateCmd(),
		newListCmd(),
		newItemsCmd(),
		newControlCmd("start", "Queue discovery for a pending import", func(o *importer.Orchestrator, cmd *cobra.Command, id string) (any, error) {
			return map[string]string{"import_id": id, "status": "queued"}, o.Start(cmd.Context(), id)
		}),
		newControlCmd("pause", "Pause a running import", toggle((*importer.Orchestrator).Pause)),
		newControlCmd("resume", "Resume a paused import", toggle((*importer.Orchestrator).Resume)),
		newControlCmd("cancel", "Cancel an import", toggle((*importer.Orchestrator).Cancel)),
		newControlCmd("retry", "Retry every failed item of an import", func(o *importer.Orchestrator, cmd *cobra.Command, id string) (any, error) {
			n, err := o.RetryFailed(cmd.Context(), id)
			return map[string]any{"import_id": id, "retried": n}, err
		}),
		newControlCmd("status", "Show import progress", func(o *importer.Orchestrator, cmd *cobra.Command, id string) (any, error) {
			return o.Status(cmd.Context(), id)
		}),
	)
	return cmd
}

type controlFunc func(o *importer.Orchestrator, cmd *cobra.Command, id string) (any, error)

func toggle(op func(*importer.Orchestrator, context.Context, string) (bool, error)) controlFunc {
	return func(o *importer.Orchestrator, cmd *cobra.Command, id string) (any, error) {
		changed, err := op(o, cmd.Context(), id)
		if err != nil {
			return nil, err
		}
		if !changed {
			return nil, fmt.Errorf("import %s: %s not allowed in its current state", id, cmd.Name())
		}
		return o.Get(cmd.Context(), id)
	}
}

func newControlCmd(name, short string, run controlFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <import-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				out, err := run(a.Orchestrator, cmd, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func newCreateCmd() *cobra.Command {
	var (
		owner      string
		settings   domain.ImportSettings
		dateFrom   string
		dateTo     string
		strategy   string
		startAfter bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an import from a staging or remote catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if settings.Filters.DateFrom, err = parseDate(dateFrom); err != nil {
				return err
			}
			if settings.Filters.DateTo, err = parseDate(dateTo); err != nil {
				return err
			}
			settings.Processing.DuplicateStrategy = domain.DuplicateStrategy(strategy)

			return withApp(cmd, func(a *app.App) error {
				imp, err := a.Orchestrator.Create(cmd.Context(), owner, settings)
				if err != nil {
					return err
				}
				if startAfter {
					if err := a.Orchestrator.Start(cmd.Context(), imp.ID); err != nil {
						return err
					}
				}
				return printJSON(cmd.OutOrStdout(), imp)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&owner, "owner", "", "Owner of the imported media")
	f.StringVar(&settings.Source.Type, "source-type", "staging", "Catalog type: staging or remote")
	f.StringVar(&settings.Source.Name, "source", "", "Catalog name")
	f.StringVar(&settings.Source.CredentialsRef, "credentials-env", "", "Environment variable holding the catalog token")
	f.StringSliceVar(&settings.Filters.MediaTypes, "media-type", nil, "Only import these media types (image, video, audio, document, other)")
	f.StringVar(&dateFrom, "from", "", "Only import items taken on or after this date (YYYY-MM-DD)")
	f.StringVar(&dateTo, "to", "", "Only import items taken on or before this date (YYYY-MM-DD)")
	f.IntVar(&settings.Filters.MaxItems, "max-items", 0, "Stop after this many items (0 = no limit)")
	f.StringVar(&settings.Storage.Disk, "disk", "", "Target disk (default: configured default disk)")
	f.StringVar(&settings.Storage.Directory, "dir", "", "Target directory on the disk")
	f.BoolVar(&settings.Storage.Public, "public", false, "Store media with public URLs")
	f.StringVar(&strategy, "duplicate-strategy", "skip", "skip, replace or rename")
	f.BoolVar(&settings.Processing.PreserveFilename, "preserve-filename", false, "Keep the original filename")
	f.BoolVar(&settings.Processing.UniqueFilename, "unique-filename", false, "Suffix filenames that already exist")
	f.StringSliceVar(&settings.Processing.Tags, "tag", nil, "Tag every imported media")
	f.BoolVar(&startAfter, "start", false, "Queue discovery right away")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newListCmd() *cobra.Command {
	var (
		owner         string
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List an owner's imports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				imports, err := a.Orchestrator.List(cmd.Context(), owner, limit, offset)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), imports)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newItemsCmd() *cobra.Command {
	var filter repository.ItemFilter
	var status string
	cmd := &cobra.Command{
		Use:   "items <import-id>",
		Short: "List an import's items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = domain.ImportItemStatus(status)
			return withApp(cmd, func(a *app.App) error {
				items, total, err := a.Orchestrator.Items(cmd.Context(), args[0], filter)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"items": items, "total": total})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only items in this status")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "Page size")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Page offset")
	return cmd
}

func withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return &t, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
