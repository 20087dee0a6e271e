package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go.sazak.io/hrclock/clock"
	"go.sazak.io/hrclock/cmd/hrclock/storage"
)

func (a *app) manager() (*storage.Manager, error) {
	m, err := storage.NewManager(a.cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("creating storage manager: %w", err)
	}
	return m, nil
}

// sessionUnit is the unit a session was recorded with, or the configured
// one when the session does not name a valid unit.
func (a *app) sessionUnit(session *storage.Session) clock.Unit {
	if u, err := clock.ParseUnit(session.Unit); err == nil {
		return u
	}
	return a.cfg.Unit
}

func (a *app) newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect recorded timing sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recorded sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}

			sessions, err := m.ListSessions(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tFORMAT\tSAMPLES\tCOMMAND")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					s.ID, s.StartTime.Format("2006-01-02 15:04:05"), s.Format, s.SampleCount, s.Command)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show session metadata and summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}

			store, err := m.OpenSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := store.Summary(cmd.Context())
			if err != nil {
				return err
			}

			session := store.GetSession()
			unit := a.sessionUnit(session)
			out := struct {
				*storage.Session
				Summary *storage.Summary `json:"summary"`
				Mean    string           `json:"mean"`
				Min     string           `json:"min"`
				Max     string           `json:"max"`
			}{
				Session: session,
				Summary: summary,
				Mean:    formatDistance(int64(summary.MeanNs), []clock.Unit{unit}),
				Min:     formatDistance(summary.MinNs, []clock.Unit{unit}),
				Max:     formatDistance(summary.MaxNs, []clock.Unit{unit}),
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	})

	var limit, offset int
	samplesCmd := &cobra.Command{
		Use:   "samples <id>",
		Short: "Print the samples of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}

			store, err := m.OpenSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			samples, err := store.ReadSamples(cmd.Context(), &storage.SampleFilter{Limit: limit, Offset: offset})
			if err != nil {
				return err
			}

			units := []clock.Unit{a.sessionUnit(store.GetSession())}
			if cmd.Flags().Changed("unit") {
				units[0] = a.cfg.Unit
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tSTART\tEND\tELAPSED\tEXIT")
			for _, s := range samples {
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%d\n", s.Seq, s.Start, s.End, formatDistance(s.Elapsed(), units), s.ExitCode)
			}
			return w.Flush()
		},
	}
	samplesCmd.Flags().IntVar(&limit, "limit", 0, "maximum number of samples to print")
	samplesCmd.Flags().IntVar(&offset, "offset", 0, "number of samples to skip")
	cmd.AddCommand(samplesCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session and its samples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}

			if err := m.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.logger.Info("session deleted", zap.String("session", args[0]))
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	})

	return cmd
}
