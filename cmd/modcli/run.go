package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/robotalks/modlink/pkg/cli/env"
	"github.com/robotalks/modlink/pkg/framework"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep the modules alive and report their status until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner := framework.NewRunner().HandleSignals()
		s, err := env.Default().NewSession(runner.Context)
		if err != nil {
			return err
		}
		defer s.Close()
		return runner.Go(framework.NamedRun("session", framework.RunFunc(func(ctx context.Context) error {
			return s.Start(ctx).Wait()
		}))).Wait()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
