package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/mqttprobe/internal/infrastructure/config"
	"github.com/nerrad567/mqttprobe/internal/infrastructure/database"
	"github.com/nerrad567/mqttprobe/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqttprobe/internal/infrastructure/logging"
	"github.com/nerrad567/mqttprobe/internal/journal"
	"github.com/nerrad567/mqttprobe/internal/probe"
	"github.com/nerrad567/mqttprobe/migrations"
)

// pubFlags are the pub-only flags.
type pubFlags struct {
	profile  string
	topic    string
	message  string
	qos      int
	retain   bool
	count    int
	interval int
	journal  bool
}

func newPubCmd(a *app) *cobra.Command {
	f := &pubFlags{}
	cmd := &cobra.Command{
		Use:   "pub",
		Short: "Connect, publish a test message and disconnect",
		Example: `  mqttprobe pub --profile insecure-pub
  mqttprobe pub --profile mtls-pub --ca ./certs/ca.crt
  mqttprobe pub --host localhost --topic test --message hello --count 10 --interval 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			changed := cmd.Flags().Changed
			cfg, err := a.loadConfig(cmd, f.profile, func(cfg *config.Config) {
				if changed("topic") {
					cfg.Publish.Topic = f.topic
				}
				if changed("message") {
					cfg.Publish.Payload = f.message
				}
				if changed("qos") {
					cfg.Publish.QoS = f.qos
				}
				if changed("retain") {
					cfg.Publish.Retained = f.retain
				}
				if changed("count") {
					cfg.Publish.Count = f.count
				}
				if changed("interval") {
					cfg.Publish.Interval = f.interval
				}
				if changed("journal") {
					cfg.Journal.Enabled = f.journal
				}
			})
			if err != nil {
				return err
			}
			return runProbe(cmd, a, cfg, func(opts []probe.Option) (runFunc, string) {
				p := probe.NewPublisher(cfg, opts...)
				return p.Run, p.RunID()
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.profile, "profile", "", "built-in profile (insecure-pub, mtls-pub)")
	flags.StringVarP(&f.topic, "topic", "t", "", "topic to publish to")
	flags.StringVarP(&f.message, "message", "m", "", "payload to publish")
	flags.IntVarP(&f.qos, "qos", "q", 0, "QoS level (0, 1 or 2)")
	flags.BoolVarP(&f.retain, "retain", "r", false, "set the retain flag")
	flags.IntVarP(&f.count, "count", "n", 1, "number of messages to publish")
	flags.IntVar(&f.interval, "interval", 0, "milliseconds between messages")
	flags.BoolVar(&f.journal, "journal", false, "record the run in the SQLite journal")
	return cmd
}

// subFlags are the sub-only flags.
type subFlags struct {
	profile     string
	topic       string
	qos         int
	maxMessages int
	duration    int
	journal     bool
}

func newSubCmd(a *app) *cobra.Command {
	f := &subFlags{}
	cmd := &cobra.Command{
		Use:   "sub",
		Short: "Subscribe and print messages until interrupted",
		Example: `  mqttprobe sub --profile mtls-sub
  mqttprobe sub --host localhost --topic 'sensors/#' --max-messages 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			changed := cmd.Flags().Changed
			cfg, err := a.loadConfig(cmd, f.profile, func(cfg *config.Config) {
				if changed("topic") {
					cfg.Subscribe.Topic = f.topic
				}
				if changed("qos") {
					cfg.Subscribe.QoS = f.qos
				}
				if changed("max-messages") {
					cfg.Subscribe.MaxMessages = f.maxMessages
				}
				if changed("duration") {
					cfg.Subscribe.Duration = f.duration
				}
				if changed("journal") {
					cfg.Journal.Enabled = f.journal
				}
			})
			if err != nil {
				return err
			}
			return runProbe(cmd, a, cfg, func(opts []probe.Option) (runFunc, string) {
				s := probe.NewSubscriber(cfg, opts...)
				return s.Run, s.RunID()
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.profile, "profile", "", "built-in profile (mtls-sub)")
	flags.StringVarP(&f.topic, "topic", "t", "", "topic filter to subscribe to")
	flags.IntVarP(&f.qos, "qos", "q", 0, "QoS level (0, 1 or 2)")
	flags.IntVar(&f.maxMessages, "max-messages", 0, "stop after this many messages (0 = unlimited)")
	flags.IntVar(&f.duration, "duration", 0, "stop after this many seconds (0 = until interrupted)")
	flags.BoolVar(&f.journal, "journal", false, "record the run in the SQLite journal")
	return cmd
}

type runFunc func(ctx context.Context) error

// runProbe wires logging and the optional recorders, then runs the probe
// that build returns.
func runProbe(cmd *cobra.Command, a *app, cfg *config.Config, build func([]probe.Option) (runFunc, string)) error {
	ctx := cmd.Context()
	log := a.newLogger(cfg)

	recorders, closeRecorders, err := openRecorders(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRecorders()

	run, runID := build([]probe.Option{
		probe.WithOutput(cmd.OutOrStdout()),
		probe.WithLogger(log.Component("probe")),
		probe.WithRecorder(recorders),
	})
	log.Info("starting run",
		"command", cmd.Name(),
		"run_id", runID,
		"broker", cfg.BrokerAddress(),
		"tls", cfg.TLS.Enabled,
	)

	if err := run(ctx); err != nil {
		return err
	}
	log.Info("run complete", "run_id", runID)
	return nil
}

// openRecorders connects the enabled event sinks. The returned cleanup
// closes them in reverse order. On error nothing is left open.
func openRecorders(ctx context.Context, cfg *config.Config, log *logging.Logger) (probe.Recorders, func(), error) {
	var (
		recorders probe.Recorders
		closers   []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Journal.Enabled {
		journalLog := log.Component("journal")
		db, err := openJournal(ctx, cfg.Journal)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() {
			if closeErr := db.Close(); closeErr != nil {
				journalLog.Error("error closing journal", "error", closeErr)
			}
		})
		recorders = append(recorders, journal.NewRecorder(journal.NewSQLiteRepository(db), journalLog))
		journalLog.Debug("journal enabled", "path", db.Path())
	}

	if cfg.InfluxDB.Enabled {
		influxLog := log.Component("influxdb")
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxClient.SetOnError(func(err error) {
			influxLog.Error("InfluxDB write error", "error", err)
		})
		closers = append(closers, func() {
			// Flush first so failures in the last batch are counted.
			influxClient.Flush()
			stats := influxClient.Stats()
			influxLog.Debug("InfluxDB writer closing", "points", stats.Points, "write_errors", stats.Errors)
			if closeErr := influxClient.Close(); closeErr != nil {
				influxLog.Error("error closing InfluxDB", "error", closeErr)
			}
		})
		recorders = append(recorders, probe.NewMetricsRecorder(influxClient))
		influxLog.Debug("InfluxDB metrics enabled",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	return recorders, cleanup, nil
}

// openJournal opens the journal database and applies pending migrations.
func openJournal(ctx context.Context, jc config.JournalConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        jc.Path,
		WALMode:     jc.WALMode,
		BusyTimeout: jc.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating journal: %w", err)
	}
	return db, nil
}
