package probe

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/mqttprobe/internal/infrastructure/config"
	"github.com/nerrad567/mqttprobe/internal/infrastructure/mqtt"
)

// Logger is the diagnostic logging interface used by probe runs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures a Publisher or Subscriber.
type Option func(*runner)

// WithOutput sets where progress lines are written. Default: discarded.
func WithOutput(w io.Writer) Option {
	return func(r *runner) {
		r.report = NewReporter(w)
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l Logger) Option {
	return func(r *runner) {
		r.logger = l
	}
}

// WithRecorder sets where events are recorded. Default: nowhere.
func WithRecorder(rec Recorder) Option {
	return func(r *runner) {
		r.recorder = rec
	}
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(r *runner) {
		r.runID = id
	}
}

// runner holds what publisher and subscriber runs share.
type runner struct {
	cfg      *config.Config
	report   *Reporter
	logger   Logger
	recorder Recorder
	runID    string
	broker   string
}

func newRunner(cfg *config.Config, opts []Option) runner {
	r := runner{
		cfg:      cfg,
		report:   NewReporter(nil),
		logger:   nopLogger{},
		recorder: Recorders(nil),
		runID:    uuid.NewString(),
		broker:   cfg.BrokerAddress(),
	}
	for _, opt := range opts {
		opt(&r)
	}
	if r.recorder == nil {
		r.recorder = Recorders(nil)
	}
	if r.logger == nil {
		r.logger = nopLogger{}
	}
	return r
}

// newClient performs steps 1 and 2: build the client and load TLS material.
func (r *runner) newClient(ctx context.Context) (*mqtt.Client, error) {
	r.report.CreatingClient()
	if r.cfg.TLS.Enabled {
		r.report.ConfiguringTLS()
		if r.cfg.TLS.InsecureSkipVerify {
			r.logger.Warn("broker certificate verification disabled",
				"broker", r.broker,
				"run_id", r.runID,
			)
		}
	}

	client, err := mqtt.New(r.cfg)
	if err != nil {
		r.fail(ctx, "client", "", r.cfg.Broker.ClientID, err)
		return nil, fmt.Errorf("creating client: %w", err)
	}
	client.SetLogger(r.logger)

	clientID := client.ClientID()
	client.SetOnDisconnect(func(err error) {
		r.onDisconnect(ctx, clientID, err)
	})
	return client, nil
}

// onConnect reports and records a CONNACK.
func (r *runner) onConnect(ctx context.Context, clientID string, res mqtt.ConnectResult) {
	r.report.Connected(res.String())
	r.recorder.RecordConnect(ctx, ConnectEvent{
		RunID:          r.runID,
		ClientID:       clientID,
		Broker:         r.broker,
		ReturnCode:     res.ReturnCode,
		SessionPresent: res.SessionPresent,
		Reconnect:      res.Reconnect,
		Latency:        res.Latency,
		At:             time.Now(),
	})
	if res.Reconnect {
		r.logger.Info("reconnected to broker", "broker", r.broker, "run_id", r.runID)
	}
}

// onDisconnect logs and records an unexpected connection loss. With
// reconnect enabled paho keeps retrying and onConnect reports the result.
func (r *runner) onDisconnect(ctx context.Context, clientID string, err error) {
	r.logger.Warn("connection to broker lost",
		"broker", r.broker,
		"run_id", r.runID,
		"reconnect", r.cfg.Reconnect.Enabled,
		"error", err,
	)
	r.recorder.RecordError(ctx, ErrorEvent{
		RunID:    r.runID,
		ClientID: clientID,
		Broker:   r.broker,
		Stage:    "disconnect",
		Err:      err,
		At:       time.Now(),
	})
}

// fail records and logs a failed step.
func (r *runner) fail(ctx context.Context, stage, topic, clientID string, err error) {
	r.logger.Error("probe step failed",
		"stage", stage,
		"broker", r.broker,
		"run_id", r.runID,
		"error", err,
	)
	r.recorder.RecordError(ctx, ErrorEvent{
		RunID:    r.runID,
		ClientID: clientID,
		Broker:   r.broker,
		Stage:    stage,
		Topic:    topic,
		Err:      err,
		At:       time.Now(),
	})
}

// connect performs the connect step and wraps failures with the broker address.
func (r *runner) connect(ctx context.Context, client *mqtt.Client, step int) error {
	r.report.Connecting(step)
	if err := client.Connect(ctx); err != nil {
		r.fail(ctx, "connect", "", client.ClientID(), err)
		return fmt.Errorf("connecting to %s: %w", r.broker, err)
	}
	r.logger.Info("connected to broker",
		"broker", client.BrokerURL(),
		"client_id", client.ClientID(),
		"run_id", r.runID,
	)
	return nil
}

// sleep waits for d or until ctx is done. Non-positive d returns at once.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
