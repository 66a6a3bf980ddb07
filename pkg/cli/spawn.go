package cli

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/exogress/exogress-go/pkg/agent"
	"github.com/exogress/exogress-go/pkg/logging"
	"github.com/spf13/cobra"
)

// spawnFlags holds the spawn command flag values.
type spawnFlags struct {
	accessKeyID     string
	secretAccessKey string
	account         string
	project         string
	labels          []string
	configPath      string
	cloudEndpoint   string
	channel         string
	noWatch         bool
}

var spawnFlagVals spawnFlags

// spawnCmd runs the agent in the foreground until interrupted.
var spawnCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Run the exogress agent in the foreground",
	Long: `Run the agent: load the Exofile, connect the signaling channel and
serve tunnel assignments until interrupted.

Flags override the matching EXG_* environment variables.`,
	Example: `  # Run with explicit credentials
  exogress spawn --access-key-id KEY --secret-access-key SECRET \
    --account acme --project website

  # Run from environment variables with labels
  exogress spawn --label env=prod --label region=eu

  # Run with a custom Exofile, without watching for changes
  exogress spawn --config deploy/Exofile --no-watch`,
	RunE: runSpawn,
}

func runSpawn(cmd *cobra.Command, args []string) error {
	cfg, err := buildAgentConfig(&spawnFlagVals)
	if err != nil {
		return err
	}

	level := logging.ParseLevel(logLevel)
	log := logging.Configure(spawnFlagVals.channel)
	logging.Get(spawnFlagVals.channel).SetLevel(level)

	inst, err := agent.New(cfg)
	if err != nil {
		return err
	}
	inst.SetLogger(log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return inst.Run(ctx)
}

// buildAgentConfig merges environment variables and flags, flags winning.
func buildAgentConfig(flags *spawnFlags) (*agent.Config, error) {
	cfg := agent.FromEnv()

	if flags.accessKeyID != "" {
		cfg.AccessKeyID = flags.accessKeyID
	}
	if flags.secretAccessKey != "" {
		cfg.SecretAccessKey = flags.secretAccessKey
	}
	if flags.account != "" {
		cfg.Account = flags.account
	}
	if flags.project != "" {
		cfg.Project = flags.project
	}
	if flags.configPath != "" {
		cfg.ConfigPath = flags.configPath
	}
	if flags.cloudEndpoint != "" {
		cfg.CloudEndpoint = flags.cloudEndpoint
	}
	cfg.WatchConfig = !flags.noWatch

	for _, label := range flags.labels {
		name, value, ok := strings.Cut(label, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid label %q, expected name=value", label)
		}
		cfg.WithLabel(name, value)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func init() {
	f := spawnCmd.Flags()
	f.StringVar(&spawnFlagVals.accessKeyID, "access-key-id", "", "Access key ID (or EXG_ACCESS_KEY_ID)")
	f.StringVar(&spawnFlagVals.secretAccessKey, "secret-access-key", "", "Secret access key (or EXG_SECRET_ACCESS_KEY)")
	f.StringVar(&spawnFlagVals.account, "account", "", "Account name (or EXG_ACCOUNT)")
	f.StringVar(&spawnFlagVals.project, "project", "", "Project name (or EXG_PROJECT)")
	f.StringArrayVar(&spawnFlagVals.labels, "label", nil, "Instance label as name=value (repeatable)")
	f.StringVar(&spawnFlagVals.configPath, "config", "", "Path to the Exofile (or EXG_CONFIG_FILE)")
	f.StringVar(&spawnFlagVals.cloudEndpoint, "cloud-endpoint", "", "Cloud endpoint URL (or EXG_CLOUD_ENDPOINT)")
	f.StringVar(&spawnFlagVals.channel, "channel", "exogress", "Logging channel name")
	f.BoolVar(&spawnFlagVals.noWatch, "no-watch", false, "Do not watch the Exofile for changes")

	rootCmd.AddCommand(spawnCmd)
}
