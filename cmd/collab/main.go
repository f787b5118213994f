package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mpataki/collab/internal/config"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "collab [task]",
		Short: "Human-in-the-loop collaboration orchestrator",
		Long: `collab drives a Claude worker through a fixed workflow while stakeholders
collaborate in a Slack channel:

  setup → define → review → execute → integrate → qa → done

State is saved after every phase; an interrupted run continues with
collab resume <state-file>.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return startRun(cmd, args[0])
		},
	}

	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .collab/collab.yaml)")
	flags.String("state-dir", "", "directory for state and log files")
	flags.String("worker", "", "worker binary")
	flags.Duration("poll-interval", 0, "delay before every channel check")
	flags.BoolP("verbose", "v", false, "debug output on the console")

	bindFlag(rootCmd, "state_dir", "state-dir")
	bindFlag(rootCmd, "worker.binary", "worker")
	bindFlag(rootCmd, "poll.interval", "poll-interval")
	bindFlag(rootCmd, "verbose", "verbose")

	rootCmd.AddCommand(newStartCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newWatchCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".collab")
		viper.AddConfigPath("$HOME/.collab")
		viper.SetConfigType("yaml")
		viper.SetConfigName("collab")
	}

	viper.SetEnvPrefix("COLLAB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "Warning: could not read config:", err)
		}
	} else if viper.GetBool("verbose") {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}
