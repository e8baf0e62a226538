package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "swarm2sqlite",
		Short:         "Save Swarm check-ins to a SQLite database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(importCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

type importOptions struct {
	token       string
	load        string
	save        string
	since       string
	silent      bool
	nullColumns string
}

func importCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import DB_PATH",
		Short: "Import check-ins from the Foursquare API or a saved JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.token, "token", "", "Foursquare OAuth token (default: $FOURSQUARE_TOKEN or prompt)")
	cmd.Flags().StringVar(&opts.load, "load", "", "load check-ins from this JSON file instead of the API")
	cmd.Flags().StringVar(&opts.save, "save", "", "save imported check-ins to this JSON file")
	cmd.Flags().StringVar(&opts.since, "since", "", "only check-ins since 1w/2d/3h ago")
	cmd.Flags().BoolVarP(&opts.silent, "silent", "s", false, "don't show progress bar")
	cmd.Flags().StringVar(&opts.nullColumns, "null-columns", "", "absent venue/event/sticker/createdBy: always (null column) or omit")
	cmd.MarkFlagsMutuallyExclusive("token", "load")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with periodic sync and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
