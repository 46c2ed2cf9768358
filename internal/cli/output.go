package cli

import (
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"github.com/drblury/cmdflow/internal/runtime/engine"
	"github.com/drblury/cmdflow/internal/runtime/jsoncodec"
	"github.com/drblury/cmdflow/internal/runtime/metadata"
)

// deliveryLine is the JSON line printed for every received message.
type deliveryLine struct {
	Topic      string            `json:"topic"`
	ID         string            `json:"id"`
	Properties metadata.Metadata `json:"properties,omitempty"`
	Payload    string            `json:"payload,omitempty"`
	Binary     []byte            `json:"payload_base64,omitempty"`
}

func printDelivery(w io.Writer, d *engine.Delivery) error {
	line := deliveryLine{
		Topic:      d.Message.Topic,
		ID:         d.Message.ID,
		Properties: d.Message.Properties.Application(),
	}
	if utf8.Valid(d.Message.Payload) {
		line.Payload = string(d.Message.Payload)
	} else {
		line.Binary = d.Message.Payload
	}
	body, err := jsoncodec.Marshal(line)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	_, err = fmt.Fprintln(w, string(body))
	return err
}

// lockedWriter serialises lines written from several topic pumps.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) print(d *engine.Delivery) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return printDelivery(l.w, d)
}
