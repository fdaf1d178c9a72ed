package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robotalks/modlink/pkg/cli/env"
	"github.com/robotalks/modlink/pkg/framework"
	"github.com/robotalks/modlink/pkg/transport/mqtt"
)

var monitorJSON bool

func printRecord(r *mqtt.Record) {
	if monitorJSON {
		out, err := r.JSON()
		if err != nil {
			fmt.Printf("bad record: %v\n", err)
			return
		}
		fmt.Println(out)
		return
	}
	ts := r.Time.Local().Format("15:04:05.000000")
	d, err := r.Datagram()
	if err != nil {
		fmt.Printf("%s %-3s %v: % x\n", ts, r.Direction, err, r.Frame)
		return
	}
	fmt.Printf("%s %-3s %v\n", ts, r.Direction, d)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print datagrams published by a session running with --tap.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := env.Default().ConnectBroker()
		if err != nil {
			return err
		}
		defer q.Close()
		sub, err := mqtt.SubscribeTap(q, mqtt.TopicTap, printRecord)
		if err != nil {
			return err
		}
		defer sub.Close()
		return framework.NewRunner().HandleSignals().Go(framework.RunFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})).Wait()
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorJSON, "json", monitorJSON, "Print records in JSON.")
	rootCmd.AddCommand(monitorCmd)
}
