package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/michael-liumh/mysqlbackup/internal/display"
	apperrors "github.com/michael-liumh/mysqlbackup/internal/errors"
	"github.com/michael-liumh/mysqlbackup/internal/loginpath"
	"github.com/michael-liumh/mysqlbackup/internal/logging"
)

var (
	lpHost   string
	lpPort   int
	lpUser   string
	lpSocket string
)

var loginPathCmd = &cobra.Command{
	Use:   "login-path",
	Short: "Manage mysql_config_editor login paths",
	Long: `Store, inspect and remove the named credential sets that back
--login-path authentication. The commands wrap mysql_config_editor; the
password is typed on its prompt and lands encrypted in ~/.mylogin.cnf,
never on a command line.

Examples:
  mysqlbackup login-path set nightly --host db1.internal --user backup
  mysqlbackup login-path show nightly
  mysqlbackup login-path remove nightly`,
}

var loginPathSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Store credentials under a login path name",
	Args:  cobra.ExactArgs(1),

	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		editor, err := newLoginPathEditor()
		if err != nil {
			return reportLoginPathError(err)
		}
		opts := loginpath.SetOptions{
			Name:   args[0],
			Host:   lpHost,
			Port:   lpPort,
			User:   lpUser,
			Socket: lpSocket,
		}
		if err := editor.Set(cmd.Context(), opts); err != nil {
			return reportLoginPathError(err)
		}
		display.NewStatusWriter(cmd.OutOrStdout()).Successf("Login path %q stored", args[0])
		return nil
	},
}

var loginPathShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print the stored options of a login path",
	Args:  cobra.ExactArgs(1),

	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		editor, err := newLoginPathEditor()
		if err != nil {
			return reportLoginPathError(err)
		}
		out, err := editor.Show(cmd.Context(), args[0])
		if err != nil {
			return reportLoginPathError(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var loginPathRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a login path",
	Args:  cobra.ExactArgs(1),

	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		editor, err := newLoginPathEditor()
		if err != nil {
			return reportLoginPathError(err)
		}
		if err := editor.Remove(cmd.Context(), args[0]); err != nil {
			return reportLoginPathError(err)
		}
		display.NewStatusWriter(cmd.OutOrStdout()).Successf("Login path %q removed", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginPathCmd)

	loginPathCmd.AddCommand(loginPathSetCmd)
	loginPathCmd.AddCommand(loginPathShowCmd)
	loginPathCmd.AddCommand(loginPathRemoveCmd)

	loginPathSetCmd.Flags().StringVarP(&lpHost, "host", "H", "localhost", "MySQL server host to store")
	loginPathSetCmd.Flags().IntVarP(&lpPort, "port", "P", 3306, "MySQL server port to store")
	loginPathSetCmd.Flags().StringVarP(&lpUser, "user", "u", "root", "MySQL user to store")
	loginPathSetCmd.Flags().StringVarP(&lpSocket, "socket", "S", "", "socket file to store instead of host and port")
}

func newLoginPathEditor() (*loginpath.Editor, error) {
	logger, err := logging.NewLogger(logging.Config{
		Level:  logging.LogLevelNormal,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, err
	}
	return loginpath.NewEditor(logger), nil
}

func reportLoginPathError(err error) error {
	display.NewStatusWriter(os.Stderr).Errorf("%s", apperrors.FormatUserError(err))
	return err
}
