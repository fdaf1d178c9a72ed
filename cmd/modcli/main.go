package main

import (
	"flag"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/robotalks/modlink/pkg/cli/env"
)

//go-build: CGO_ENABLED=0

var rootCmd = &cobra.Command{
	Use:   "modcli",
	Short: "Talk to modules over the datagram link.",
	Long: `modcli opens the stream to the modules (a serial device, tcp://, ws:// ` +
		`or mqtt:// through a bridge), keeps the modules alive and sends ` +
		`standard commands. Settings are also read from MODLINK_* variables ` +
		`and a .env file in the working directory.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		// glog flags are already parsed by cobra
		flag.CommandLine.Parse(nil)
	},
}

func init() {
	env.SetupFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
}

func main() {
	err := rootCmd.Execute()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
