// Package cli implements the cmdflow command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/drblury/cmdflow/internal/admin"
	runtimepkg "github.com/drblury/cmdflow/internal/runtime"
	configpkg "github.com/drblury/cmdflow/internal/runtime/config"
	"github.com/drblury/cmdflow/internal/runtime/engine"
	"github.com/drblury/cmdflow/internal/runtime/logging"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	transport  string
	logLevel   string
	adminPort  int
	metrics    bool

	rabbitMQURL  string
	natsURL      string
	kafkaBrokers []string
	httpURL      string
	httpAddr     string
	awsRegion    string
	awsEndpoint  string
}

// NewRootCommand builds the cmdflow command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "cmdflow",
		Short: "Send and receive messages through a cmdflow client",
		Long: `cmdflow drives a synchronous messaging client against any registered
transport. Settings come from an optional YAML file; flags override it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVarP(&opts.transport, "transport", "t", "channel", "transport to use")
	flags.StringVar(&opts.logLevel, "log-level", "info", "trace, debug, info, warn or error")
	flags.IntVar(&opts.adminPort, "admin-port", 0, "serve /metrics, /destinations and /healthz on this port")
	flags.BoolVar(&opts.metrics, "metrics", false, "register Prometheus metrics")
	flags.StringVar(&opts.rabbitMQURL, "rabbitmq-url", "", "AMQP URL")
	flags.StringVar(&opts.natsURL, "nats-url", "", "NATS server URL")
	flags.StringSliceVar(&opts.kafkaBrokers, "kafka-brokers", nil, "Kafka broker addresses")
	flags.StringVar(&opts.httpURL, "http-url", "", "base URL messages are posted to")
	flags.StringVar(&opts.httpAddr, "http-addr", "", "address the HTTP subscriber listens on")
	flags.StringVar(&opts.awsRegion, "aws-region", "", "AWS region")
	flags.StringVar(&opts.awsEndpoint, "aws-endpoint", "", "custom AWS endpoint such as LocalStack")

	root.AddCommand(
		newSendCommand(opts),
		newReceiveCommand(opts),
		newSubscribeCommand(opts),
		newTransportsCommand(),
	)
	return root
}

// loadConfig reads the config file when given and applies the flags the
// user set explicitly on top of it.
func (o *globalOptions) loadConfig(cmd *cobra.Command) (*configpkg.Config, error) {
	conf := &configpkg.Config{}
	if o.configPath != "" {
		loaded, err := configpkg.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		conf = loaded
	}

	flags := cmd.Flags()
	if conf.Transport == "" || flags.Changed("transport") {
		conf.Transport = o.transport
	}
	if conf.LogLevel == "" || flags.Changed("log-level") {
		conf.LogLevel = o.logLevel
	}
	if flags.Changed("admin-port") {
		conf.AdminPort = o.adminPort
	}
	if flags.Changed("metrics") {
		conf.MetricsEnabled = o.metrics
	}
	if flags.Changed("rabbitmq-url") {
		conf.RabbitMQURL = o.rabbitMQURL
	}
	if flags.Changed("nats-url") {
		conf.NATSURL = o.natsURL
	}
	if flags.Changed("kafka-brokers") {
		conf.KafkaBrokers = o.kafkaBrokers
	}
	if flags.Changed("http-url") {
		conf.HTTPPublisherURL = o.httpURL
	}
	if flags.Changed("http-addr") {
		conf.HTTPServerAddress = o.httpAddr
	}
	if flags.Changed("aws-region") {
		conf.AWSRegion = o.awsRegion
	}
	if flags.Changed("aws-endpoint") {
		conf.AWSEndpoint = o.awsEndpoint
	}
	if conf.AdminPort > 0 {
		conf.MetricsEnabled = true
	}
	return conf, nil
}

func newLogger(w io.Writer, level string) (logging.ServiceLogger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return logging.NewZerologServiceLogger(zerolog.New(out).Level(lvl).With().Timestamp().Logger()), nil
}

// session is an open client plus its optional admin server.
type session struct {
	client *runtimepkg.Client
	logger logging.ServiceLogger
	conf   *configpkg.Config
	stop   context.CancelFunc
	done   chan error
}

func (o *globalOptions) open(cmd *cobra.Command) (*session, error) {
	conf, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), conf.WithDefaults().LogLevel)
	if err != nil {
		return nil, err
	}

	client, err := runtimepkg.NewClientFromConfig(cmd.Context(), conf, logger, runtimepkg.ClientDependencies{
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return nil, err
	}

	s := &session{client: client, logger: logger, conf: conf}
	if conf.AdminPort > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.stop = cancel
		s.done = make(chan error, 1)
		srv := admin.New(fmt.Sprintf(":%d", conf.AdminPort), client, prometheus.DefaultGatherer, logger)
		go func() { s.done <- srv.Start(ctx) }()
	}
	return s, nil
}

func (s *session) close() error {
	if s.stop != nil {
		s.stop()
		if err := <-s.done; err != nil {
			s.logger.Error("Admin server stopped with error", err, nil)
		}
	}
	return s.client.Close()
}

func parseQoS(value string) (engine.QoS, error) {
	switch value {
	case "at-most-once", "0":
		return engine.AtMostOnce, nil
	case "at-least-once", "1":
		return engine.AtLeastOnce, nil
	default:
		return 0, fmt.Errorf("unknown qos %q (want at-most-once or at-least-once)", value)
	}
}
