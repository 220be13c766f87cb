package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmelchner/aDB/cmd/db"
)

const (
	Version = "1.0.2"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "adb",
		Short: "awaitable embedded database",
		Long: fmt.Sprintf(`aDB (v%s)

An embedded, versioned database for Go: ordered object stores with
secondary indexes and snapshot persistence, fronted by an awaitable
wrapper that turns the event-driven engine API into futures, iterators
and one-call shorthands.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of aDB",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aDB v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(db.DatabaseCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
