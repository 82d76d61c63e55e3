package cmds

import (
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/readygate/pkg/config"
	"github.com/go-go-golems/readygate/pkg/rules"
	"github.com/go-go-golems/readygate/pkg/supervise"
)

type rootFlags struct {
	rules        string
	readyTimeout string
	retries      uint64
	cwd          string
	envPairs     []string
	configPath   string
}

// ConfigureRootCommand installs readygate's flags and run logic on the root
// command. Everything after "--" is the child command line.
func ConfigureRootCommand(cmd *cobra.Command) {
	var flags rootFlags

	cmd.Flags().StringVarP(&flags.rules, "rules", "r", "", "Readiness expression, e.g. 'tcp port 5432 ready and matches \"listening\"'")
	cmd.Flags().StringVarP(&flags.readyTimeout, "ready-timeout", "t", "", "Maximum time to wait for the command to become ready, e.g. '30s'")
	cmd.Flags().Uint64VarP(&flags.retries, "retries", "R", 0, "Maximum number of consecutive failed attempts before giving up (default: unlimited)")
	cmd.Flags().StringVar(&flags.cwd, "cwd", "", "Working directory for the child command")
	cmd.Flags().StringArrayVar(&flags.envPairs, "env", nil, "Extra KEY=VALUE environment entries for the child (repeatable)")
	cmd.Flags().StringVar(&flags.configPath, "config", config.DefaultConfigFilename, "Path to an optional YAML file with flag defaults")

	cmd.Args = cobra.ArbitraryArgs
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		opts, err := buildOptions(cmd, &flags, args)
		if err != nil {
			return err
		}

		sup, err := supervise.New(*opts)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		defer stop()
		return sup.Run(ctx)
	}
}

// buildOptions merges the config file under the explicit flags and parses the
// two grammars. Flag values the user actually set always win.
func buildOptions(cmd *cobra.Command, flags *rootFlags, args []string) (*supervise.Options, error) {
	cfg, err := config.LoadOptional(flags.configPath)
	if err != nil {
		return nil, err
	}

	ruleText := flags.rules
	if ruleText == "" {
		ruleText = cfg.Rules
	}
	if ruleText == "" {
		return nil, errors.New("missing --rules")
	}
	ruleTree, err := rules.Parse(ruleText)
	if err != nil {
		return nil, errors.Wrap(err, "invalid --rules")
	}

	timeoutText := flags.readyTimeout
	if timeoutText == "" {
		timeoutText = cfg.ReadyTimeout
	}
	var readyTimeout time.Duration
	if timeoutText != "" {
		readyTimeout, err = rules.ParseDurationLiteral(timeoutText)
		if err != nil {
			return nil, errors.Wrap(err, "invalid --ready-timeout")
		}
	}

	retries := cfg.Retries
	if cmd.Flags().Changed("retries") {
		retries = &flags.retries
	}

	cwd := flags.cwd
	if cwd == "" {
		cwd = cfg.Cwd
	}

	env := map[string]string{}
	for k, v := range cfg.Env {
		env[k] = v
	}
	for k, v := range parseEnvPairs(flags.envPairs) {
		env[k] = v
	}

	if len(args) == 0 {
		return nil, errors.New("missing command to run (pass it after --)")
	}

	return &supervise.Options{
		Command:      args,
		Dir:          cwd,
		Env:          env,
		Rules:        ruleTree,
		ReadyTimeout: readyTimeout,
		Retries:      retries,
	}, nil
}

func parseEnvPairs(pairs []string) map[string]string {
	out := map[string]string{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
