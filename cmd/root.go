package cmd

import (
	"fmt"
	"log"
	"os"

	"EchoMark/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "echomark",
	Short: "EchoMark is an audio watermarking and ownership service.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Starting EchoMark server...")
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
