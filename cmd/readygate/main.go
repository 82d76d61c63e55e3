package main

import (
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/readygate/cmd/readygate/cmds"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "readygate --rules <expr> [flags] -- <command> [args...]",
	Short:   "readygate launches a server command and gates on its readiness",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
}

func main() {
	cobra.CheckErr(logging.AddLoggingLayerToRootCommand(rootCmd, "readygate"))
	cmds.ConfigureRootCommand(rootCmd)
	cobra.CheckErr(rootCmd.Execute())
}
