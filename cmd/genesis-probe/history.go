package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/persistence/auditdb"
	"github.com/Workwrite-Niidome/genesis-sub001/internal/persistence/journal"
)

func newHistoryCmd(p *probe) *cobra.Command {
	var (
		limit int
		state string
		agent string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded proposal outcomes",
		Long:  "Reads the audit db when telemetry.audit_db is set, otherwise the proposal journal.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()
			fmt.Fprintln(tw, "ID\tKIND\tCOORD\tSTATE\tFAILURE\tCODE\tTOOK")

			switch {
			case p.audit != nil:
				recs, err := p.audit.Recent(cmd.Context(), auditdb.Filter{AgentID: agent, State: state, Limit: limit})
				if err != nil {
					return err
				}
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%dms\n", r.ID, r.Kind, r.Coord, r.State, r.Failure, r.Code, r.TookMS)
				}
				counts, err := p.audit.CountByState(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "\ntotals: %v\n", counts)
			case p.cfg.Telemetry.JournalDir != "":
				recs, err := journal.ReadProposals(p.cfg.Telemetry.JournalDir)
				if err != nil {
					return err
				}
				shown := 0
				for i := len(recs) - 1; i >= 0; i-- {
					r := recs[i]
					if (state != "" && r.State != state) || (agent != "" && r.AgentID != agent) {
						continue
					}
					fmt.Fprintf(tw, "%s\t%s\t(%d,%d,%d)\t%s\t%s\t%s\t%dms\n", r.ID, r.Kind, r.X, r.Y, r.Z, r.State, r.Failure, r.Code, r.TookMS)
					shown++
					if limit > 0 && shown >= limit {
						break
					}
				}
			default:
				return fmt.Errorf("neither telemetry.audit_db nor telemetry.journal_dir is configured")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	cmd.Flags().StringVar(&state, "state", "", "only this state (applied, reverted, superseded)")
	cmd.Flags().StringVar(&agent, "agent-filter", "", "only proposals from this agent")
	return cmd
}
