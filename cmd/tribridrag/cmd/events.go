package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tribridrag/tribridrag/internal/learning"
	"github.com/tribridrag/tribridrag/internal/output"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Record and inspect usage events",
		Long: `Usage events feed the learning loop. Search events are recorded
automatically by 'tribridrag query'; feedback and clicks are recorded
here, keyed by the query they refer to.`,
	}
	cmd.AddCommand(newEventsFeedbackCmd())
	cmd.AddCommand(newEventsClickCmd())
	cmd.AddCommand(newEventsListCmd())
	return cmd
}

func newEventsFeedbackCmd() *cobra.Command {
	var helpful bool

	cmd := &cobra.Command{
		Use:   "feedback <query> <chunk-id>",
		Short: "Record explicit feedback on a result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return appendEvent(cmd, learning.Event{
				Kind:    learning.EventFeedback,
				Query:   args[0],
				ChunkID: args[1],
				Helpful: &helpful,
			})
		},
	}
	cmd.Flags().BoolVar(&helpful, "helpful", true, "Whether the result was helpful")
	return cmd
}

func newEventsClickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "click <query> <chunk-id>",
		Short: "Record that a result was expanded",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return appendEvent(cmd, learning.Event{
				Kind:    learning.EventClick,
				Query:   args[0],
				ChunkID: args[1],
			})
		},
	}
}

func newEventsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent usage events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			_, cleanup := setupLogging(cfg)
			defer cleanup()

			events, err := learning.ReadEvents(cmd.Context(), cfg.Learning.EventLogPath)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if len(events) == 0 {
				out.Warning("No events recorded")
				return nil
			}
			if limit > 0 && len(events) > limit {
				events = events[len(events)-limit:]
			}
			for _, ev := range events {
				detail := ""
				switch ev.Kind {
				case learning.EventSearch:
					detail = fmt.Sprintf("%d results", len(ev.TopChunks))
				case learning.EventFeedback:
					if ev.Helpful != nil && *ev.Helpful {
						detail = "helpful: " + ev.ChunkID
					} else {
						detail = "unhelpful: " + ev.ChunkID
					}
				case learning.EventClick:
					detail = "clicked: " + ev.ChunkID
				}
				out.Statusf("", "%s  %-8s %q  %s",
					ev.Time.Format(time.RFC3339), ev.Kind, ev.Query, detail)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of events to show")
	return cmd
}

func appendEvent(cmd *cobra.Command, ev learning.Event) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, cleanup := setupLogging(cfg)
	defer cleanup()

	log, err := learning.OpenEventLog(cfg.Learning.EventLogPath)
	if err != nil {
		return err
	}
	defer log.Close()

	if err := log.Append(cmd.Context(), ev); err != nil {
		return err
	}
	output.New(cmd.OutOrStdout()).Successf("Recorded %s event", ev.Kind)
	return nil
}
