package main

import (
	"github.com/spf13/cobra"

	"github.com/robotalks/modlink/pkg/cli/env"
	"github.com/robotalks/modlink/pkg/cli/sh"

	_ "github.com/robotalks/modlink/pkg/cli/cmds/standard"
)

var (
	evalOnly   bool
	outputJSON bool
)

var shellCmd = &cobra.Command{
	Use:   "shell [COMMAND [ARGS...]]",
	Short: "Send commands to the modules interactively or run a single command.",
	Example: `  modcli shell
  modcli -m 2,3 shell -- led '#ff0000'
  modcli shell --json status clear`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := sh.New(env.Default())
		s.Interactive = !evalOnly
		s.OutputJSON = outputJSON
		return s.Run(args...)
	},
}

func init() {
	shellCmd.Flags().BoolVarP(&evalOnly, "eval", "e", evalOnly, "Evaluation only, no interactive shell.")
	shellCmd.Flags().BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	rootCmd.AddCommand(shellCmd)
}
