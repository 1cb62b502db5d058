package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/nerrad567/mqttprobe/internal/infrastructure/database"
	"github.com/nerrad567/mqttprobe/internal/journal"
	"github.com/nerrad567/mqttprobe/migrations"
)

type historyFlags struct {
	runID  string
	kind   string
	limit  int
	offset int
	reset  bool
}

func newHistoryCmd(a *app) *cobra.Command {
	f := &historyFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journalled events, most recent first",
		Example: `  mqttprobe history --limit 20
  mqttprobe history --run 6f1c2e0a-3b7d-4c55-9a8e-2d4f1b0c7e91 --kind message
  mqttprobe history --reset`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind := journal.Kind(f.kind)
			if f.kind != "" && !kind.Valid() {
				return fmt.Errorf("unknown kind %q (connect, publish, message, error)", f.kind)
			}

			cfg, err := a.loadConfig(cmd, "")
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := openJournal(ctx, cfg.Journal)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // single statement use

			if f.reset {
				if err := resetJournal(ctx, db); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Journal %s cleared\n", db.Path())
				return err
			}

			res, err := journal.NewSQLiteRepository(db).List(ctx, journal.Filter{
				RunID:  f.runID,
				Kind:   kind,
				Limit:  f.limit,
				Offset: f.offset,
			})
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), res)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.runID, "run", "", "only events from this run ID")
	flags.StringVar(&f.kind, "kind", "", "only events of this kind (connect, publish, message, error)")
	flags.IntVar(&f.limit, "limit", journal.DefaultLimit, fmt.Sprintf("maximum events to show (at most %d)", journal.MaxLimit))
	flags.IntVar(&f.offset, "offset", 0, "events to skip")
	flags.BoolVar(&f.reset, "reset", false, "delete every journalled event instead of listing")
	return cmd
}

// resetJournal rolls back every applied migration, newest first, then
// applies them again, leaving an empty journal on the current schema.
func resetJournal(ctx context.Context, db *database.DB) error {
	for {
		applied, _, err := db.MigrationStatus(ctx, migrations.FS)
		if err != nil {
			return fmt.Errorf("reading journal schema: %w", err)
		}
		if len(applied) == 0 {
			break
		}
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return fmt.Errorf("rolling back journal: %w", err)
		}
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrating journal: %w", err)
	}
	return nil
}

// printHistory writes res as a borderless table followed by a count line.
func printHistory(w io.Writer, res *journal.ListResult) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "Run", "Kind", "Client", "Topic", "QoS", "MID", "Bytes", "RC", "Latency", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("  ")

	for _, e := range res.Events {
		rc := "-"
		if e.ReturnCode != nil {
			rc = strconv.Itoa(int(*e.ReturnCode))
		}
		latency := "-"
		if e.Latency > 0 {
			latency = e.Latency.Round(time.Microsecond).String()
		}
		table.Append([]string{
			e.OccurredAt.Local().Format(time.DateTime),
			e.RunID,
			string(e.Kind),
			e.ClientID,
			orDash(e.Topic),
			strconv.Itoa(int(e.QoS)),
			strconv.Itoa(int(e.MessageID)),
			strconv.Itoa(e.PayloadSize),
			rc,
			latency,
			e.Detail,
		})
	}
	table.Render()

	_, err := fmt.Fprintf(w, "%d of %d events\n", len(res.Events), res.Total)
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
