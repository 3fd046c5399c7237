package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Signing links do not need a session; the token is the credential.
func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Inspect or sign a deed through a signing link token",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify TOKEN",
		Short: "Show the deed behind a signing link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := wire.Backend.VerifySigningToken(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if out.format != outputTable {
				return out.print(info, nil, nil)
			}
			fmt.Fprintf(out.w, "%s %s\n\n", headerStyle.Render("Signing as"), info.SignerName)
			if err := printDeed(&info.Deed); err != nil {
				return err
			}
			if info.ExpiresAt != nil {
				fmt.Fprintln(out.w, mutedStyle.Render("Link expires "+info.ExpiresAt.Local().Format("2006-01-02 15:04")))
			}
			fmt.Fprintln(out.w, mutedStyle.Render("Run `kolibri sign confirm` with the same token to sign."))
			return nil
		},
	}, &cobra.Command{
		Use:   "confirm TOKEN",
		Short: "Record the signature behind a signing link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := wire.Backend.VerifySigningToken(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := wire.Backend.Sign(cmd.Context(), args[0]); err != nil {
				return err
			}
			out.success("Signature recorded for deed %d", info.Deed.ID)
			return nil
		},
	})
	return cmd
}
