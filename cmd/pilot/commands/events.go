package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pilot/pkg/stores"
	"github.com/openfroyo/pilot/pkg/telemetry"
)

// eventEntry is one line of the event log with the final status of the run
// it belongs to.
type eventEntry struct {
	*stores.Event
	RunStatus string `json:"run_status,omitempty"`
}

func newProjectEventsCommand() *cobra.Command {
	var (
		limit int
		types []string
		level string
	)

	cmd := &cobra.Command{
		Use:   "events [ID]",
		Short: "Show the lifecycle event log",
		Long: `Show the lifecycle event log, newest first, for one project or for all.

Events outlive their project, so the log of a deleted project stays
readable. Events of a run show the status the run ended with.`,
		Example: `  # Failures and rollbacks of one project
  pilot project events 2f6c3b0e-8a51-4c8e-9a0c-3d1f1e2a7b54 --level warning

  # The last five runs that started, across all projects
  pilot project events --type run.started --limit 5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			var filters []telemetry.EventFilter
			if len(types) > 0 {
				filters = append(filters, telemetry.FilterByType(types...))
			}
			switch level {
			case "":
			case telemetry.EventLevelInfo, telemetry.EventLevelWarning, telemetry.EventLevelError:
				filters = append(filters, telemetry.FilterByLevel(level))
			default:
				return fmt.Errorf("invalid --level %q (info, warning or error)", level)
			}

			cfg, err := loadConfig("")
			if err != nil {
				return err
			}
			store, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			var projectID *string
			if len(args) == 1 {
				projectID = &args[0]
			}
			entries, err := readEvents(ctx, store, projectID, limit, filters)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{"events": entries})
			}
			if len(entries) == 0 {
				fmt.Println("No events")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tTYPE\tLEVEL\tRUN\tMESSAGE")
			for _, e := range entries {
				run := "-"
				if e.RunStatus != "" {
					run = e.RunStatus
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format(time.DateTime), e.Type, e.Level, run, e.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of events to show")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "only show events of these types")
	cmd.Flags().StringVarP(&level, "level", "l", "", "only show events at or above this level")

	return cmd
}

// readEvents pages through the event log until limit events pass filters.
func readEvents(ctx context.Context, store *stores.SQLiteStore, projectID *string, limit int, filters []telemetry.EventFilter) ([]eventEntry, error) {
	entries := []eventEntry{}
	runs := make(map[string]string)

	for offset := 0; len(entries) < limit; offset += limit {
		page, err := store.ListEvents(ctx, projectID, limit, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}

		for _, e := range page {
			if !matchesAll(asTelemetryEvent(e), filters) {
				continue
			}
			entry := eventEntry{Event: e}
			if e.RunID != nil {
				status, seen := runs[*e.RunID]
				if !seen {
					run, err := store.GetRun(ctx, *e.RunID)
					switch {
					case err == nil:
						status = string(run.Status)
					case !errors.Is(err, stores.ErrNotFound):
						return nil, fmt.Errorf("failed to read run %s: %w", *e.RunID, err)
					}
					runs[*e.RunID] = status
				}
				entry.RunStatus = status
			}
			entries = append(entries, entry)
			if len(entries) == limit {
				break
			}
		}

		if len(page) < limit {
			break
		}
	}
	return entries, nil
}

func asTelemetryEvent(e *stores.Event) telemetry.Event {
	event := telemetry.Event{
		Type:      e.Type,
		Level:     string(e.Level),
		Message:   e.Message,
		Timestamp: e.Timestamp,
	}
	if e.ProjectID != nil {
		event.ProjectID = *e.ProjectID
	}
	if e.RunID != nil {
		event.RunID = *e.RunID
	}
	return event
}

func matchesAll(e telemetry.Event, filters []telemetry.EventFilter) bool {
	for _, f := range filters {
		if !f(e) {
			return false
		}
	}
	return true
}
