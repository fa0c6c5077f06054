package handler

import (
	"log"
	"net/http"

	"canvas-sync-server/internal/service"
	"canvas-sync-server/internal/websocket"
	"canvas-sync-server/pkg/jwt"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager      *websocket.Manager
	boardService *service.BoardService
	jwtSecret    string
	upgrader     ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, boardService *service.BoardService, jwtSecret string, readBufferSize, writeBufferSize int) *WebSocketHandler {
	return &WebSocketHandler{
		manager:      manager,
		boardService: boardService,
		jwtSecret:    jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}

	if token == "" {
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := jwt.ValidateToken(token, h.jwtSecret)
	if err != nil {
		log.Printf("[WebSocket] Token validation failed: %v", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	userID := claims.UserID

	boardID := r.URL.Query().Get("board_id")
	if boardID == "" {
		http.Error(w, "missing board_id", http.StatusBadRequest)
		return
	}

	if err := h.boardService.Authorize(userID, boardID); err != nil {
		log.Printf("[WebSocket] Board access denied for user %s: %v", userID, err)
		http.Error(w, "board access denied", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Failed to upgrade connection: %v", err)
		return
	}

	log.Printf("[WebSocket] Connection upgraded for user %s on board %s", userID, boardID)

	clientID := uuid.New().String()
	client := websocket.NewClient(clientID, userID, boardID, conn, h.manager)

	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

type WebSocketMessageHandler struct {
	manager       *websocket.Manager
	collabService *service.CollabService
}

func NewWebSocketMessageHandler(manager *websocket.Manager, collabService *service.CollabService) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		manager:       manager,
		collabService: collabService,
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeOperation:
		return h.handleOperation(client, msg)

	case websocket.TypePing:
		return h.handlePing(client)

	default:
		log.Printf("unknown message type: %s", msg.Type)
	}

	return nil
}

func (h *WebSocketMessageHandler) handleOperation(client *websocket.Client, msg *websocket.Message) error {
	var payload websocket.OperationPayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		return err
	}

	// The room a client registered into is authoritative; a mismatched
	// board id in the payload is ignored.
	_, err := h.collabService.HandleOperation(client.BoardID, client.UserID, client.ID, payload.Kind, payload.Data)
	if err != nil {
		ackMsg, ackErr := websocket.NewMessage(websocket.TypeAck, &websocket.AckPayload{
			Success: false,
			Error:   err.Error(),
		})
		if ackErr != nil {
			return ackErr
		}
		if sendErr := h.manager.SendToClient(client.ID, ackMsg); sendErr != nil {
			log.Printf("failed to ack operation for client %s: %v", client.ID, sendErr)
		}
		return err
	}

	return nil
}

func (h *WebSocketMessageHandler) handlePing(client *websocket.Client) error {
	pongMsg, err := websocket.NewMessage(websocket.TypePong, nil)
	if err != nil {
		return err
	}

	return h.manager.SendToClient(client.ID, pongMsg)
}
