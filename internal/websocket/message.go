package websocket

import (
	"encoding/json"
	"time"

	"canvas-sync-server/internal/domain"
)

type MessageType string

const (
	TypeOperation        MessageType = "operation"
	TypeOperationApplied MessageType = "operation_applied"
	TypeConflict         MessageType = "conflict"
	TypePresenceJoin     MessageType = "presence_join"
	TypePresenceLeave    MessageType = "presence_leave"
	TypeAck              MessageType = "ack"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type OperationPayload struct {
	BoardID string                  `json:"board_id"`
	Kind    domain.OperationKind    `json:"kind"`
	Data    domain.OperationPayload `json:"data"`
}

type OperationAppliedPayload struct {
	BoardID   string           `json:"board_id"`
	Operation domain.Operation `json:"operation"`
}

type ConflictPayload struct {
	BoardID    string             `json:"board_id"`
	Conflict   *domain.Conflict   `json:"conflict"`
	Resolution *domain.Resolution `json:"resolution"`
}

type PresencePayload struct {
	BoardID  string `json:"board_id"`
	UserID   string `json:"user_id"`
	ClientID string `json:"client_id"`
}

type AckPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
