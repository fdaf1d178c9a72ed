package main

import (
	"context"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/robotalks/modlink/pkg/cli/env"
	"github.com/robotalks/modlink/pkg/framework"
	"github.com/robotalks/modlink/pkg/transport"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Relay the stream to the modules over the broker.",
	Long: `bridge owns the stream given by --url and relays it over the broker ` +
		`given by --broker, so other hosts can use --url mqtt://... to talk ` +
		`to the modules.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf := env.Default()
		runner := framework.NewRunner().HandleSignals()
		device, err := transport.Open(runner.Context, conf.URL)
		if err != nil {
			return err
		}
		broker, err := transport.OpenMQTT(conf.BrokerURL, true)
		if err != nil {
			device.Close()
			return err
		}
		glog.Infof("relaying %s over %s", conf.URL, conf.BrokerURL)
		return runner.Go(framework.NamedRun("relay", framework.RunFunc(func(ctx context.Context) error {
			return transport.Relay(ctx, device, broker)
		}))).Wait()
	},
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
}
