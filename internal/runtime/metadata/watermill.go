package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies broker headers into message properties.
func FromWatermill(md message.Metadata) Metadata {
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// ToWatermill copies message properties into broker headers.
func ToWatermill(md Metadata) message.Metadata {
	out := make(message.Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
