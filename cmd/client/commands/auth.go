package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"kolibri/internal/nav"
)

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session in the state dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Email: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return err
				}
				email = strings.TrimSpace(line)
			}
			if password == "" {
				password = os.Getenv("KOLIBRI_PASSWORD")
			}
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.ErrOrStderr())
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = string(raw)
			}

			u, err := wire.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			out.success("Signed in as %s (%s)", u.DisplayName(), u.Role)
			if out.format != outputTable {
				return out.print(u, nil, nil)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "password (default $KOLIBRI_PASSWORD, else prompt)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.Logout(cmd.Context()); err != nil {
				return err
			}
			out.success("Signed out")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := wire.WhoAmI(cmd.Context())
			if err != nil {
				return err
			}
			return out.fields(u, [][2]string{
				{"Name", u.DisplayName()},
				{"Email", u.Email},
				{"Role", string(u.Role)},
				{"Bank", u.BankName},
				{"Bank id", u.BankID},
				{"Phone", u.Phone},
			})
		},
	}
}

func navCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nav",
		Short: "Show the portal menu for the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := wire.Tokens.Session(cmd.Context())
			if err != nil {
				return err
			}
			m := nav.For(s.User)
			rows := make([][]string, 0, len(m.Items))
			for _, it := range m.Items {
				rows = append(rows, []string{it.Label, it.Path})
			}
			return out.print(m, []string{"ITEM", "PATH"}, rows)
		},
	}
}
