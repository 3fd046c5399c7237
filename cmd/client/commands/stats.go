package commands

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"kolibri/internal/models"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Deed statistics",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Totals across all deeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := wire.Backend.Summary(cmd.Context())
			if err != nil {
				return err
			}
			if out.format != outputTable {
				return out.print(s, nil, nil)
			}
			statuses := make([]string, 0, len(s.StatusDistribution))
			for st := range s.StatusDistribution {
				statuses = append(statuses, string(st))
			}
			sort.Strings(statuses)
			pairs := [][2]string{
				{"Deeds", strconv.Itoa(s.TotalDeeds)},
				{"Cooperatives", strconv.Itoa(s.TotalCooperatives)},
				{"Borrowers per deed", fmt.Sprintf("%.2f", s.AverageBorrowersPerDeed)},
			}
			for _, st := range statuses {
				pairs = append(pairs, [2]string{statusText(models.DeedStatus(st)), strconv.Itoa(s.StatusDistribution[models.DeedStatus(st)])})
			}
			return out.fields(s, pairs)
		},
	}, &cobra.Command{
		Use:   "dashboard",
		Short: "The dashboard for the signed-in role",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := wire.Role(cmd.Context())
			if err != nil {
				return err
			}
			d, err := wire.Backend.Dashboard(cmd.Context(), role)
			if err != nil {
				return err
			}
			if out.format != outputTable {
				return out.print(d, nil, nil)
			}
			pairs := [][2]string{
				{"Total", strconv.Itoa(d.TotalDeeds)},
				{"Created", strconv.Itoa(d.CreatedDeeds)},
				{"Pending", strconv.Itoa(d.Pending())},
				{"Completed", strconv.Itoa(d.CompletedDeeds)},
			}
			if d.TotalCooperatives > 0 {
				pairs = append(pairs, [2]string{"Cooperatives", strconv.Itoa(d.TotalCooperatives)})
			}
			if err := out.fields(d, pairs); err != nil {
				return err
			}
			if len(d.RecentDeeds) == 0 {
				return nil
			}
			fmt.Fprintln(out.w)
			fmt.Fprintln(out.w, headerStyle.Render("Recent deeds"))
			return out.table(deedHeader, deedRows(d.RecentDeeds))
		},
	})
	return cmd
}
