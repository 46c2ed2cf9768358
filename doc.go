// Package cmdflow is a synchronous messaging client built on Watermill.
//
// Callers on any goroutine submit send, subscribe, unsubscribe and receive
// requests. A single dispatcher worker drives the protocol engine on their
// behalf and hands each outcome back through a one-shot reply. Connection
// failures do not fail requests: the worker parks the request until the
// connection state machine reports Started again and retries it in place,
// bounded by the request timeout.
//
// A minimal setup fills Config, calls NewClientFromConfig and uses the
// returned Client:
//
//	client, err := cmdflow.NewClientFromConfig(ctx, &cmdflow.Config{Transport: "channel"}, logger, cmdflow.ClientDependencies{})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	_ = client.Subscribe(ctx, "orders", cmdflow.SubscribeOptions{})
//	msg, _ := cmdflow.NewJSONMessage("orders", order, nil)
//	_ = client.Send(ctx, msg, cmdflow.SendOptions{QoS: cmdflow.AtLeastOnce})
//	delivery, err := client.Receive(ctx, "orders", cmdflow.ReceiveOptions{Timeout: time.Second})
//
// # Transports
//
// The broker is selected by Config.Transport:
//   - channel: in-process Go channels, shared by every client in the process
//   - rabbitmq: AMQP durable queues
//   - nats: NATS core subscriptions with optional queue groups
//   - kafka: Kafka topics through sarama
//   - http: HTTP POST publishing and an HTTP subscriber endpoint
//   - aws: SNS topics fanned out to SQS queues, LocalStack supported
//
// Custom brokers plug in through RegisterTransport or a TransportFactory in
// ClientDependencies.
//
// # Failures
//
// Every error is one of the typed errors exported here. Unexpected handler
// failures are also written as first-failure records to the log and, when
// Config.DiagnosticsTopic is set, published to that topic.
//
// # Observability
//
// RequestHooks observe every request. With Config.MetricsEnabled the
// dispatcher, transport and diagnostics counters are registered with
// Prometheus.
package cmdflow
