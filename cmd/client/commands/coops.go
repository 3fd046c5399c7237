package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"kolibri/internal/models"
)

func coopsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "coops",
		Aliases: []string{"cooperatives"},
		Short:   "List and manage housing cooperatives",
	}
	cmd.AddCommand(coopsListCmd(), coopsGetCmd(), coopsCreateCmd(), coopsUpdateCmd(), coopsDeleteCmd())
	return cmd
}

var coopHeader = []string{"ID", "NAME", "ORG NUMBER", "CITY", "ADMINISTRATOR"}

func coopsListCmd() *cobra.Command {
	var q models.CooperativeQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cooperatives",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := wire.Backend.ListCooperatives(cmd.Context(), q)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(page.Cooperatives))
			for _, c := range page.Cooperatives {
				rows = append(rows, []string{strconv.FormatInt(c.ID, 10), c.Name, c.OrganisationNumber, c.City, c.AdministratorName})
			}
			if err := out.print(page, coopHeader, rows); err != nil {
				return err
			}
			if out.format == outputTable {
				pageFooter(cmd.OutOrStdout(), page.Pagination, "cooperatives")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&q.Search, "search", "s", "", "name or organisation number contains")
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.PageSize, "page-size", 20, "page size")
	return cmd
}

func printCoop(c *models.HousingCooperative) error {
	return out.fields(c, [][2]string{
		{"ID", strconv.FormatInt(c.ID, 10)},
		{"Name", c.Name},
		{"Org number", c.OrganisationNumber},
		{"Address", fmt.Sprintf("%s, %s %s", c.Address, c.PostalCode, c.City)},
		{"Administrator", fmt.Sprintf("%s <%s>", c.AdministratorName, c.AdministratorEmail)},
		{"Admin company", c.AdministratorCompany},
		{"Accounting firm", c.AccountingFirmName},
	})
}

func coopsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ORG-NUMBER",
		Short: "Show one cooperative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := wire.Backend.GetCooperative(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printCoop(c)
		},
	}
}

func readCoop(cmd *cobra.Command, path string) (*models.HousingCooperative, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var c models.HousingCooperative
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &c, nil
}

func coopsCreateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create -f coop.json",
		Short: "Register a cooperative",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readCoop(cmd, file)
			if err != nil {
				return err
			}
			created, err := wire.Backend.CreateCooperative(cmd.Context(), c)
			if err != nil {
				return err
			}
			out.success("Registered %s", created.Name)
			return printCoop(created)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON file, - for stdin")
	return cmd
}

func coopsUpdateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update ORG-NUMBER -f coop.json",
		Short: "Replace a cooperative's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readCoop(cmd, file)
			if err != nil {
				return err
			}
			updated, err := wire.Backend.UpdateCooperative(cmd.Context(), args[0], c)
			if err != nil {
				return err
			}
			out.success("Updated %s", updated.Name)
			return printCoop(updated)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON file, - for stdin")
	return cmd
}

func coopsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ORG-NUMBER",
		Short: "Delete a cooperative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.Backend.DeleteCooperative(cmd.Context(), args[0]); err != nil {
				return err
			}
			out.success("Deleted cooperative %s", args[0])
			return nil
		},
	}
}
