// Package notification receives OCR completion callbacks. Deliveries use a
// publish/subscribe envelope with a subscription handshake; job completions
// are applied to entities at most once.
package notification

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope types.
const (
	TypeSubscriptionConfirmation = "SubscriptionConfirmation"
	TypeNotification             = "Notification"
)

// Job statuses reported in a notification message.
const (
	JobSucceeded = "SUCCEEDED"
	JobFailed    = "FAILED"
	JobError     = "ERROR"
)

// Envelope is the outer webhook payload.
type Envelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Token        string `json:"Token,omitempty"`
	SubscribeURL string `json:"SubscribeURL,omitempty"`
	Message      string `json:"Message"`
}

// Message is the job completion carried in Envelope.Message. Engines may
// embed the result; otherwise it is fetched by job id.
type Message struct {
	JobID  string            `json:"JobId"`
	Status string            `json:"Status"`
	JobTag string            `json:"JobTag"`
	Fields []json.RawMessage `json:"Fields,omitempty"`
	Text   string            `json:"Text,omitempty"`
}

// HasResult reports whether the message embeds OCR output.
func (m Message) HasResult() bool {
	return len(m.Fields) > 0 || strings.TrimSpace(m.Text) != ""
}

// ParseEnvelope decodes a webhook body. Type is required.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("envelope has no Type")
	}
	return env, nil
}

// ParseMessage decodes the job completion in env.Message.
func ParseMessage(env Envelope) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(env.Message), &msg); err != nil {
		return msg, fmt.Errorf("decoding message %s: %w", env.MessageID, err)
	}
	if msg.JobID == "" && msg.JobTag == "" {
		return msg, fmt.Errorf("message %s names neither JobId nor JobTag", env.MessageID)
	}
	msg.Status = strings.ToUpper(strings.TrimSpace(msg.Status))
	return msg, nil
}
