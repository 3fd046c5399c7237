package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kolibri/internal/fetch"
	"kolibri/internal/models"
	"kolibri/internal/retry"
	"kolibri/internal/utils"
)

func deedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deeds",
		Aliases: []string{"pantbrev"},
		Short:   "List and manage mortgage deeds",
	}
	cmd.AddCommand(deedsListCmd(), deedsGetCmd(), deedsCreateCmd(), deedsUpdateCmd(),
		deedsDeleteCmd(), deedsSendCmd(), deedsAuditCmd(), deedsWatchCmd())
	return cmd
}

type deedFlags struct {
	status, coopName, borrower, apartment, credits string
	after, before, sortBy, sortOrder               string
	coopID                                         int64
	page, pageSize                                 int
}

func (f *deedFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.status, "status", "", "CREATED, PENDING_BORROWER_SIGNATURE, PENDING_HOUSING_COOPERATIVE_SIGNATURE or COMPLETED")
	fl.Int64Var(&f.coopID, "cooperative-id", 0, "housing cooperative id")
	fl.StringVar(&f.coopName, "cooperative", "", "housing cooperative name contains")
	fl.StringVar(&f.borrower, "borrower", "", "borrower person number")
	fl.StringVar(&f.apartment, "apartment", "", "apartment number")
	fl.StringVar(&f.credits, "credits", "", "comma separated credit numbers")
	fl.StringVar(&f.after, "created-after", "", "YYYY-MM-DD")
	fl.StringVar(&f.before, "created-before", "", "YYYY-MM-DD")
	fl.StringVar(&f.sortBy, "sort-by", "", "created_at, status or apartment_number")
	fl.StringVar(&f.sortOrder, "sort-order", "", "asc or desc")
	fl.IntVar(&f.page, "page", 1, "page number")
	fl.IntVar(&f.pageSize, "page-size", 20, "page size")
}

func (f *deedFlags) filters() (models.DeedFilters, error) {
	df := models.DeedFilters{
		Status:                 models.DeedStatus(strings.ToUpper(f.status)),
		HousingCooperativeID:   f.coopID,
		HousingCooperativeName: f.coopName,
		BorrowerPersonNumber:   f.borrower,
		ApartmentNumber:        f.apartment,
		CreatedAfter:           f.after,
		CreatedBefore:          f.before,
		SortBy:                 f.sortBy,
		SortOrder:              f.sortOrder,
		Page:                   f.page,
		PageSize:               f.pageSize,
	}
	for _, c := range strings.Split(f.credits, ",") {
		if c = strings.TrimSpace(c); c != "" {
			df.CreditNumbers = append(df.CreditNumbers, c)
		}
	}
	return df, df.Validate()
}

func deedRows(deeds []models.MortgageDeed) [][]string {
	rows := make([][]string, 0, len(deeds))
	for i := range deeds {
		d := &deeds[i]
		coop := ""
		if d.HousingCooperative != nil {
			coop = d.HousingCooperative.Name
		}
		rows = append(rows, []string{
			strconv.FormatInt(d.ID, 10),
			strings.Join(d.Credits(), ","),
			coop,
			d.ApartmentNumber,
			strconv.Itoa(len(d.Borrowers)),
			statusText(d.Status),
			d.CreatedAt.Local().Format(time.DateOnly),
		})
	}
	return rows
}

var deedHeader = []string{"ID", "CREDITS", "COOPERATIVE", "APARTMENT", "BORROWERS", "STATUS", "CREATED"}

func deedsListCmd() *cobra.Command {
	var f deedFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := f.filters()
			if err != nil {
				return err
			}
			page, err := wire.Backend.ListDeeds(cmd.Context(), filters)
			if err != nil {
				return err
			}
			if err := out.print(page, deedHeader, deedRows(page.Deeds)); err != nil {
				return err
			}
			if out.format == outputTable {
				pageFooter(cmd.OutOrStdout(), page.Pagination, "deeds")
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid deed id %q", s)
	}
	return id, nil
}

func printDeed(d *models.MortgageDeed) error {
	if out.format != outputTable {
		return out.print(d, nil, nil)
	}
	coop := ""
	if d.HousingCooperative != nil {
		coop = fmt.Sprintf("%s (%s)", d.HousingCooperative.Name, d.HousingCooperative.OrganisationNumber)
	}
	if err := out.fields(d, [][2]string{
		{"ID", strconv.FormatInt(d.ID, 10)},
		{"Status", statusText(d.Status)},
		{"Credits", strings.Join(d.Credits(), ", ")},
		{"Cooperative", coop},
		{"Apartment", fmt.Sprintf("%s, %s, %s %s", d.ApartmentNumber, d.ApartmentAddress, d.ApartmentPostalCode, d.ApartmentCity)},
		{"Existing bank", d.ExistingMortgageBank},
		{"Notes", d.Notes},
	}); err != nil {
		return err
	}

	rows := make([][]string, 0, len(d.Borrowers)+len(d.CooperativeSigners))
	for _, b := range d.Borrowers {
		rows = append(rows, []string{"borrower", b.Name, b.Email, fmt.Sprintf("%.2f%%", float64(b.OwnershipPercentage)), signedAt(b.SignatureTimestamp)})
	}
	for _, s := range d.CooperativeSigners {
		rows = append(rows, []string{"cooperative", s.AdministratorName, s.AdministratorEmail, "", signedAt(s.SignatureTimestamp)})
	}
	fmt.Fprintln(out.w)
	return out.table([]string{"PARTY", "NAME", "EMAIL", "SHARE", "SIGNED"}, rows)
}

func signedAt(t *time.Time) string {
	if t == nil {
		return mutedStyle.Render("not yet")
	}
	return t.Local().Format("2006-01-02 15:04")
}

func deedsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one deed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			d, err := wire.Backend.GetDeed(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printDeed(d)
		},
	}
}

// readDeed decodes a deed from a JSON file, or stdin for "-".
func readDeed(cmd *cobra.Command, path string) (*models.MortgageDeed, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var d models.MortgageDeed
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &d, nil
}

func deedsCreateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create -f deed.json",
		Short: "Create a deed from a JSON document",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := readDeed(cmd, file)
			if err != nil {
				return err
			}
			created, err := wire.Backend.CreateDeed(cmd.Context(), d)
			if err != nil {
				return err
			}
			out.success("Created deed %d", created.ID)
			return printDeed(created)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON file, - for stdin")
	return cmd
}

func deedsUpdateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update ID -f deed.json",
		Short: "Replace a deed that has not been sent for signing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			d, err := readDeed(cmd, file)
			if err != nil {
				return err
			}
			updated, err := wire.Backend.UpdateDeed(cmd.Context(), id, d)
			if err != nil {
				return err
			}
			out.success("Updated deed %d", updated.ID)
			return printDeed(updated)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON file, - for stdin")
	return cmd
}

func deedsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a deed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := wire.Backend.DeleteDeed(cmd.Context(), id); err != nil {
				return err
			}
			out.success("Deleted deed %d", id)
			return nil
		},
	}
}

func deedsSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send ID",
		Short: "Send a deed to its borrowers for signing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := wire.Backend.SendForSigning(cmd.Context(), id); err != nil {
				return err
			}
			out.success("Deed %d sent for signing", id)
			return nil
		},
	}
}

func deedsAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit ID",
		Short: "Show a deed's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			logs, err := wire.Backend.AuditLogs(cmd.Context(), id)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(logs))
			for _, l := range logs {
				rows = append(rows, []string{l.Timestamp.Local().Format("2006-01-02 15:04:05"), string(l.ActionType), l.Description})
			}
			return out.print(logs, []string{"TIME", "ACTION", "DESCRIPTION"}, rows)
		},
	}
}

// deedsWatchCmd polls the deed list, printing it whenever a refetch lands,
// until interrupted.
func deedsWatchCmd() *cobra.Command {
	var (
		f        deedFlags
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the deed list and print changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := f.filters()
			if err != nil {
				return err
			}
			if interval < time.Second {
				return fmt.Errorf("interval must be at least 1s")
			}
			w := cmd.OutOrStdout()
			var last string
			q := fetch.New(func(ctx context.Context) (*models.DeedPage, error) {
				return wire.Backend.ListDeeds(ctx, filters)
			}, fetch.Options[*models.DeedPage]{
				RefetchInterval: interval,
				Retry:           retry.DefaultPolicy(),
				Logger:          wire.Logger.Named("watch"),
				OnSuccess: func(page *models.DeedPage) {
					sig := signature(page)
					if sig == last {
						return
					}
					last = sig
					fmt.Fprintln(w, mutedStyle.Render(time.Now().Format("15:04:05")))
					if err := out.print(page, deedHeader, deedRows(page.Deeds)); err != nil {
						wire.Logger.Warn("print failed", zap.Error(err))
					}
				},
				OnError: func(e *utils.APIError) {
					fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("Error:"), e.Message)
				},
			})
			q.Start()
			defer q.Close()

			<-cmd.Context().Done()
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "refetch interval")
	return cmd
}

// signature summarizes what the watch output shows, so unchanged refetches
// stay quiet.
func signature(page *models.DeedPage) string {
	var b strings.Builder
	for _, d := range page.Deeds {
		fmt.Fprintf(&b, "%d:%s;", d.ID, d.Status)
	}
	fmt.Fprintf(&b, "%d", page.Pagination.TotalCount)
	return b.String()
}
