package bus

import (
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Ingest publishes raw producer input onto the bus. Payloads are validated before they are published,
// so a producer gets its error back instead of the router dropping the message later.
type Ingest struct {
	pub message.Publisher
}

func NewIngest(pub message.Publisher) *Ingest {
	return &Ingest{pub: pub}
}

// Publish validates payload against topic and publishes it.
func (i *Ingest) Publish(topic string, payload []byte) error {
	if _, err := Decode(topic, payload); err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := i.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (i *Ingest) PublishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return i.Publish(topic, payload)
}

// PlateDetected publishes a camera detection.
func (i *Ingest) PlateDetected(p PlatePayload) error {
	return i.PublishJSON(TopicPlateDetected, p)
}

// PaymentConfirmed publishes a payment provider confirmation.
func (i *Ingest) PaymentConfirmed(p PaymentPayload) error {
	return i.PublishJSON(TopicPaymentConfirmed, p)
}
