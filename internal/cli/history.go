package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/namithm70/fitness-sub000/internal/store"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent calls",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", store.DefaultListLimit, "number of calls to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	h, err := store.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer h.Close()

	recs, err := h.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENDED\tPEER\tTYPE\tDIRECTION\tREASON\tDURATION")
	for _, r := range recs {
		dur := "-"
		if !r.AnsweredAt.IsZero() {
			dur = r.EndedAt.Sub(r.AnsweredAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.EndedAt.Local().Format(time.DateTime), r.Peer, r.Type, r.Direction, r.Reason, dur)
	}
	return w.Flush()
}
