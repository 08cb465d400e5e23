package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dProxy/cmd/serve"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dproxy",
		Short: "memcached fan-out proxy",
		Long: fmt.Sprintf(`dProxy (v%s)

A memcached proxy written in Go. It spreads keys over a pool of
memcached servers with consistent hashing, splits multi-key
requests and answers pipelined clients in order.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dProxy",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dProxy v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
