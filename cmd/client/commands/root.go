package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kolibri/internal/app"
	"kolibri/internal/utils"
)

var (
	home       string
	configPath string
	output     string
	verbose    bool

	wire *app.Wire
	out  printer
)

// Execute runs the CLI.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRoot()
	err := root.ExecuteContext(ctx)
	if wire != nil {
		wire.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), friendly(err))
	}
	return err
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "kolibri",
		Short:         "Mortgage deed portal from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			out = printer{w: cmd.OutOrStdout(), format: output}
			if err := out.validate(); err != nil {
				return err
			}
			level := "warn"
			if verbose {
				level = "debug"
			}
			logger, _, err := utils.NewLogger(level, "console", "stderr")
			if err != nil {
				return err
			}
			w, err := app.NewWire(app.Options{Home: home, ConfigPath: configPath, Logger: logger})
			if err != nil {
				return err
			}
			wire = w
			logger.Debug("wired", zap.String("home", w.Home), zap.String("backend", w.Backend.BaseURL()))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "state dir (default ~/.kolibri or $KOLIBRI_HOME)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default kolibri.yaml in ., the project root, the state dir or /etc/kolibri)")
	root.PersistentFlags().StringVarP(&output, "output", "o", outputTable, "output format: table, json or yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(
		loginCmd(), logoutCmd(), whoamiCmd(), navCmd(),
		deedsCmd(), coopsCmd(), statsCmd(), signCmd(),
	)
	return root
}

// friendly turns API errors into the message the portal would show.
func friendly(err error) string {
	if apiErr, ok := utils.AsAPIError(err); ok {
		return apiErr.Message
	}
	return err.Error()
}
