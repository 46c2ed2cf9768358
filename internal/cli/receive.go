package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/cmdflow/internal/runtime"
)

type receiveOptions struct {
	share         string
	qos           string
	manualConfirm bool
	timeout       time.Duration
	count         int
}

func newReceiveCommand(global *globalOptions) *cobra.Command {
	opts := &receiveOptions{}
	cmd := &cobra.Command{
		Use:   "receive TOPIC",
		Short: "Subscribe, print a number of messages as JSON lines and unsubscribe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qos, err := parseQoS(opts.qos)
			if err != nil {
				return err
			}
			if opts.count < 1 {
				return fmt.Errorf("count must be at least 1")
			}

			s, err := global.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = s.close() }()

			ctx := cmd.Context()
			topic := args[0]
			err = s.client.Subscribe(ctx, topic, runtimepkg.SubscribeOptions{
				Share:         opts.share,
				QoS:           qos,
				ManualConfirm: opts.manualConfirm,
			})
			if err != nil {
				return err
			}

			for received := 0; received < opts.count; received++ {
				delivery, err := s.client.Receive(ctx, topic, runtimepkg.ReceiveOptions{Share: opts.share, Timeout: opts.timeout})
				if err != nil {
					return err
				}
				if delivery == nil {
					return fmt.Errorf("no message on %s within %s (received %d)", topic, opts.timeout, received)
				}
				if err := printDelivery(cmd.OutOrStdout(), delivery); err != nil {
					return err
				}
				if err := delivery.Confirm(ctx); err != nil {
					return err
				}
			}
			return s.client.Unsubscribe(ctx, topic, runtimepkg.UnsubscribeOptions{Share: opts.share})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.share, "share", "", "shared subscription name")
	flags.StringVar(&opts.qos, "qos", "at-most-once", "at-most-once or at-least-once")
	flags.BoolVar(&opts.manualConfirm, "manual-confirm", false, "confirm each message after it was printed")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "how long to wait for each message")
	flags.IntVar(&opts.count, "count", 1, "number of messages to receive")
	return cmd
}
