package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/cmdflow/internal/runtime"
	"github.com/drblury/cmdflow/internal/runtime/engine"
	"github.com/drblury/cmdflow/internal/runtime/logging"
	"github.com/drblury/cmdflow/internal/runtime/metadata"
)

type sendOptions struct {
	qos        string
	ttl        time.Duration
	timeout    time.Duration
	properties map[string]string
	count      int
}

func newSendCommand(global *globalOptions) *cobra.Command {
	opts := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send TOPIC [PAYLOAD]",
		Short: "Send a message; the payload is read from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qos, err := parseQoS(opts.qos)
			if err != nil {
				return err
			}
			if opts.count < 1 {
				return fmt.Errorf("count must be at least 1")
			}

			var payload []byte
			if len(args) == 2 {
				payload = []byte(args[1])
			} else if payload, err = io.ReadAll(cmd.InOrStdin()); err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			s, err := global.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = s.close() }()

			for i := 0; i < opts.count; i++ {
				msg := engine.NewMessage(args[0], payload, metadata.Metadata(opts.properties))
				err := s.client.Send(cmd.Context(), msg, runtimepkg.SendOptions{
					QoS:     qos,
					TTL:     opts.ttl,
					Timeout: opts.timeout,
				})
				if err != nil {
					return err
				}
				s.logger.Debug("Message sent", logging.LogFields{"topic": args[0], "message_id": msg.ID})
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.qos, "qos", "at-least-once", "at-most-once or at-least-once")
	flags.DurationVar(&opts.ttl, "ttl", 0, "message time to live")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout, retries included")
	flags.StringToStringVarP(&opts.properties, "property", "p", nil, "message property key=value")
	flags.IntVar(&opts.count, "count", 1, "number of copies to send")
	return cmd
}
