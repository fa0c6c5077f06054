package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager tracks connected clients and the board rooms they belong to, and
// dispatches inbound messages to the configured handler.
type Manager struct {
	clients        map[string]*Client
	boardIndex     map[string]map[string]bool
	userIndex      map[string]map[string]bool
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	maxConnPerUser int
	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	messageHandler MessageHandler
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *Message) error
}

func NewManager(maxConnPerUser int, maxMessageSize int64, writeWait, pongWait, pingPeriod time.Duration) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		boardIndex:     make(map[string]map[string]bool),
		userIndex:      make(map[string]map[string]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		HandleMessage:  make(chan *ClientMessage),
		maxConnPerUser: maxConnPerUser,
		maxMessageSize: maxMessageSize,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

func (m *Manager) Run() {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.userIndex[client.UserID] == nil {
		m.userIndex[client.UserID] = make(map[string]bool)
	}

	if len(m.userIndex[client.UserID]) >= m.maxConnPerUser {
		log.Printf("max connections reached for user %s", client.UserID)
		close(client.Send)
		return
	}

	if m.boardIndex[client.BoardID] == nil {
		m.boardIndex[client.BoardID] = make(map[string]bool)
	}

	m.clients[client.ID] = client
	m.boardIndex[client.BoardID][client.ID] = true
	m.userIndex[client.UserID][client.ID] = true

	log.Printf("client registered: %s (user: %s, board: %s)", client.ID, client.UserID, client.BoardID)

	m.notifyPresenceLocked(client, TypePresenceJoin)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; !ok {
		return
	}

	delete(m.clients, client.ID)
	delete(m.userIndex[client.UserID], client.ID)
	delete(m.boardIndex[client.BoardID], client.ID)

	if len(m.userIndex[client.UserID]) == 0 {
		delete(m.userIndex, client.UserID)
	}
	if len(m.boardIndex[client.BoardID]) == 0 {
		delete(m.boardIndex, client.BoardID)
	}

	close(client.Send)
	log.Printf("client unregistered: %s", client.ID)

	m.notifyPresenceLocked(client, TypePresenceLeave)
}

// notifyPresenceLocked tells the remaining room members about a join or
// leave. Callers hold clientsMutex.
func (m *Manager) notifyPresenceLocked(client *Client, msgType MessageType) {
	msg, err := NewMessage(msgType, &PresencePayload{
		BoardID:  client.BoardID,
		UserID:   client.UserID,
		ClientID: client.ID,
	})
	if err != nil {
		return
	}

	messageBytes, err := json.Marshal(msg)
	if err != nil {
		return
	}

	for clientID := range m.boardIndex[client.BoardID] {
		if clientID == client.ID {
			continue
		}
		select {
		case m.clients[clientID].Send <- messageBytes:
		default:
		}
	}
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		log.Printf("error unmarshaling message: %v", err)
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			log.Printf("error handling message: %v", err)
		}
	}
}

// BroadcastToBoard sends a message to every client in the board's room,
// optionally excluding the originating client.
func (m *Manager) BroadcastToBoard(boardID string, message *Message, excludeClientID string) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	clientIDs, exists := m.boardIndex[boardID]
	if !exists {
		return nil
	}

	for clientID := range clientIDs {
		if clientID == excludeClientID {
			continue
		}
		client := m.clients[clientID]
		select {
		case client.Send <- messageBytes:
		default:
			log.Printf("client %s send buffer full, dropping message", clientID)
		}
	}

	return nil
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.Send <- messageBytes:
	default:
		log.Printf("client %s send buffer full", clientID)
	}

	return nil
}

func (m *Manager) BoardConnections(boardID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.boardIndex[boardID]; exists {
		return len(clients)
	}
	return 0
}
