package main

import (
	"fmt"
	"os"
	"strings"

	"tourchat/client/session"
	"tourchat/config"
	"tourchat/server"

	"github.com/spf13/cobra"
)

var (
	cfg *config.Config

	verbose   bool
	serverURL string
)

// rootCmd runs the chat client
var rootCmd = &cobra.Command{
	Use:   "tourchat",
	Short: "Terminal chat for tournament players",
	Long: `tourchat is a terminal client for one-to-one conversations between
tournament players, plus a development server speaking the same REST and
WebSocket protocol.

Run without arguments to start the chat interface.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if verbose {
			cfg.Verbose = true
		}
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		return nil
	},
	RunE: runChat,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the development chat server",
	Long: `Run the chat server backed by a local sqlite database.

A control socket accepts "stats" and "shutdown|reason"; see "tourchat ctl".`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the cached access token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := (session.FileCache{Path: cfg.TokenPath}).Purge(); err != nil {
			return fmt.Errorf("failed to remove token: %w", err)
		}
		fmt.Println("Signed out")
		return nil
	},
}

var ctlCmd = &cobra.Command{
	Use:   "ctl stats | ctl shutdown [reason]",
	Short: "Send a command to a running server",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var command string
		switch args[0] {
		case "stats":
			command = "stats"
		case "shutdown":
			command = "shutdown"
			if len(args) == 2 {
				command += "|" + strings.ReplaceAll(args[1], "\n", " ")
			}
		default:
			return fmt.Errorf("unknown control command %q", args[0])
		}

		reply, err := server.Control(cfg.ControlSocket, command)
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.Flags().StringVarP(&serverURL, "server", "s", "", "Chat server base URL (or set TOURCHAT_SERVER_URL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(ctlCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
