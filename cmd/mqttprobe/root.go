package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/mqttprobe/internal/infrastructure/config"
	"github.com/nerrad567/mqttprobe/internal/infrastructure/logging"
)

// configEnv names the environment variable consulted when --config is not given.
const configEnv = "MQTTPROBE_CONFIG"

// app holds the persistent flag values shared by every subcommand.
type app struct {
	configPath     string
	host           string
	port           int
	clientID       string
	tls            bool
	caFile         string
	certFile       string
	keyFile        string
	verifyHostname bool
	logLevel       string

	// logOutput overrides the configured log destination. Tests set it.
	logOutput io.Writer
}

// newRootCmd builds the command tree. logOutput may be nil, in which case
// logs go where logging.output says.
func newRootCmd(logOutput io.Writer) *cobra.Command {
	a := &app{logOutput: logOutput}

	root := &cobra.Command{
		Use:   "mqttprobe",
		Short: "MQTT broker smoke tests over plain TCP or mutual TLS",
		Long: `mqttprobe checks that an MQTT broker accepts connections, publishes
and deliveries, optionally over TLS with client certificates.

Built-in profiles reproduce the classic checks:
  insecure-pub   publish "from my laptop" over plain TCP on 1883
  mtls-pub       publish "m=random" over mutual TLS on 8883
  mtls-sub       subscribe over mutual TLS on 8883 and print messages`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", os.Getenv(configEnv), "YAML configuration file (env "+configEnv+")")
	flags.StringVar(&a.host, "host", "", "broker host")
	flags.IntVar(&a.port, "port", 0, "broker port")
	flags.StringVar(&a.clientID, "client-id", "", "MQTT client identifier")
	flags.BoolVar(&a.tls, "tls", false, "connect over TLS with client certificates")
	flags.StringVar(&a.caFile, "ca", "", "CA certificate file")
	flags.StringVar(&a.certFile, "cert", "", "client certificate file")
	flags.StringVar(&a.keyFile, "key", "", "client private key file")
	flags.BoolVar(&a.verifyHostname, "verify-hostname", false, "check the broker certificate against the host name")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newPubCmd(a),
		newSubCmd(a),
		newHistoryCmd(a),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves the configuration for cmd: the named profile, then
// the YAML file, dotenv and environment, then any flag the user set.
func (a *app) loadConfig(cmd *cobra.Command, profile string, extra ...func(*config.Config)) (*config.Config, error) {
	base, err := config.Profile(profile)
	if err != nil {
		return nil, err
	}

	overrides := append([]func(*config.Config){a.flagOverrides(cmd)}, extra...)
	cfg, err := config.Load(a.configPath,
		config.WithBase(base),
		config.WithOverrides(overrides...),
	)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// flagOverrides applies only the persistent flags that were set on the
// command line, so unset flags never mask file or profile values.
func (a *app) flagOverrides(cmd *cobra.Command) func(*config.Config) {
	changed := cmd.Flags().Changed
	return func(cfg *config.Config) {
		if changed("host") {
			cfg.Broker.Host = a.host
		}
		if changed("port") {
			cfg.Broker.Port = a.port
		}
		if changed("client-id") {
			cfg.Broker.ClientID = a.clientID
		}
		if changed("tls") {
			cfg.TLS.Enabled = a.tls
		}
		if changed("ca") {
			cfg.TLS.CAFile = a.caFile
		}
		if changed("cert") {
			cfg.TLS.CertFile = a.certFile
		}
		if changed("key") {
			cfg.TLS.KeyFile = a.keyFile
		}
		if changed("verify-hostname") {
			cfg.TLS.VerifyHostname = a.verifyHostname
		}
		if changed("log-level") {
			cfg.Logging.Level = strings.ToLower(a.logLevel)
		}
	}
}

// newLogger builds the logger for cfg.
func (a *app) newLogger(cfg *config.Config) *logging.Logger {
	if a.logOutput != nil {
		return logging.NewWithWriter(cfg.Logging, version, a.logOutput)
	}
	return logging.New(cfg.Logging, version)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of mqttprobe",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mqttprobe %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
