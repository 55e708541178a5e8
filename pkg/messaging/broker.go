package messaging

import (
	"context"
)

// Topics published by the core.
const (
	TopicEmergencyGranted = "emergency.granted"
	TopicEmergencyRevoked = "emergency.revoked"
	TopicEmergencyExpired = "emergency.expired"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Message is the envelope published on every topic.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
