/*
Package runtime implements the cmdflow request dispatcher.

# Architecture Overview

Callers never touch the protocol engine directly. Each call becomes a
Request that is pushed onto a FIFO queue; a single worker goroutine takes
requests one at a time, runs the matching operation handler against the
engine and hands the Result back through the request's Reply. Push blocks
until the worker has taken the request, so at most one request per caller is
in flight.

# Package Structure

## Dispatcher (dispatcher.go, lifecycle.go, process.go)

The Dispatcher owns the queue, the worker goroutine and the destination
registry:
  - Start launches the worker once
  - Push and Do submit requests
  - Join shuts the queue down, releases queued callers and waits for the
    worker, cancelling and finally abandoning it when it does not exit

process.go runs one request: it waits for the connection to be Started,
calls the handler, parks the request while the connection recovers and maps
unexpected failures onto the caller-visible error taxonomy.

## Operation handlers (handle_send.go, handle_links.go, handle_receive.go)

  - send: put the message and track its delivery outcome
  - subscribe / unsubscribe: attach or detach a link and keep the
    destination registry in sync
  - receive: wait for a message on an attached link and settle it according
    to the destination's QoS
  - confirm: settle a manually confirmed delivery

## Client (client.go, bootstrap.go)

Client validates arguments and turns them into requests. NewClientFromConfig
builds a transport, runs the Watermill engine on it and wires logging,
metrics, diagnostics and hooks.

## Recovery (recovery.go)

A client built by NewClientFromConfig owns its connection state. When a
request parks it in Retrying, the recoverer asks the engine to re-establish
broken links, backing off exponentially, and moves the state back to Started.

## Observability (hooks.go, metrics.go, tracing.go)

RequestHooks observe request start, completion, failure and retries.
Metrics exports Prometheus counters and gauges. Every request gets an
OpenTelemetry span.

# Sub-packages

  - config/: configuration with defaults, validation and YAML loading
  - diagnostics/: first-failure records to the log and to a topic
  - engine/: protocol engine contract and the Watermill implementation
  - errors/: sentinel errors and typed errors
  - ids/: ULID generation
  - jsoncodec/: JSON marshaling
  - logging/: logger interface and adapters
  - metadata/: message properties
  - state/: connection state machine
  - transport/: transport factory backed by the transport registry
*/
package runtime
