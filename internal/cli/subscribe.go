package cli

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/cmdflow/internal/runtime"
	"github.com/drblury/cmdflow/internal/runtime/logging"
)

type subscribeOptions struct {
	share string
	qos   string
	poll  time.Duration
}

func newSubscribeCommand(global *globalOptions) *cobra.Command {
	opts := &subscribeOptions{}
	cmd := &cobra.Command{
		Use:   "subscribe TOPIC...",
		Short: "Print messages from one or more topics until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qos, err := parseQoS(opts.qos)
			if err != nil {
				return err
			}
			if opts.poll <= 0 {
				return errors.New("poll must be positive")
			}

			s, err := global.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = s.close() }()

			ctx := cmd.Context()
			for _, topic := range args {
				if err := s.client.Subscribe(ctx, topic, runtimepkg.SubscribeOptions{Share: opts.share, QoS: qos}); err != nil {
					return err
				}
				s.logger.Info("Subscribed", logging.LogFields{"topic": topic, "share": opts.share, "qos": qos.String()})
			}

			out := &lockedWriter{w: cmd.OutOrStdout()}
			errs := make(chan error, len(args))
			var wg sync.WaitGroup
			for _, topic := range args {
				wg.Add(1)
				go func(topic string) {
					defer wg.Done()
					errs <- pump(ctx, s, topic, opts, out)
				}(topic)
			}
			wg.Wait()
			close(errs)

			var all []error
			for err := range errs {
				all = append(all, err)
			}
			return errors.Join(all...)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.share, "share", "", "shared subscription name")
	flags.StringVar(&opts.qos, "qos", "at-most-once", "at-most-once or at-least-once")
	flags.DurationVar(&opts.poll, "poll", time.Second, "longest single receive, bounds how long one topic holds the dispatcher")
	return cmd
}

// pump receives from topic until ctx ends.
func pump(ctx context.Context, s *session, topic string, opts *subscribeOptions, out *lockedWriter) error {
	for ctx.Err() == nil {
		delivery, err := s.client.Receive(ctx, topic, runtimepkg.ReceiveOptions{Share: opts.share, Timeout: opts.poll})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if delivery == nil {
			continue
		}
		if err := out.print(delivery); err != nil {
			return err
		}
	}
	return nil
}
