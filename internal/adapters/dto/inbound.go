// Package dto contains data transfer objects for external APIs
// Separating DTOs from handlers prevents import cycles
package dto

// InboundMessage is a platform payload reduced to what the engine needs
type InboundMessage struct {
	ExternalID string // address replies go back to
	Text       string
	MessageID  string // platform message id, used for deduplication
}
