package handler

import (
	"errors"
	"net/http"
	"strconv"

	"canvas-sync-server/internal/middleware"
	"canvas-sync-server/internal/service"
	"canvas-sync-server/internal/websocket"
	"canvas-sync-server/pkg/response"

	"github.com/gorilla/mux"
)

type CollabHandler struct {
	collabService *service.CollabService
	boardService  *service.BoardService
	wsManager     *websocket.Manager
}

func NewCollabHandler(collabService *service.CollabService, boardService *service.BoardService, wsManager *websocket.Manager) *CollabHandler {
	return &CollabHandler{
		collabService: collabService,
		boardService:  boardService,
		wsManager:     wsManager,
	}
}

func (h *CollabHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	vars := mux.Vars(r)
	boardID := vars["id"]

	if err := h.boardService.Authorize(userID, boardID); err != nil {
		if errors.Is(err, service.ErrBoardAccess) {
			response.Forbidden(w, err.Error())
			return
		}
		response.NotFound(w, "Board not found")
		return
	}

	stats := h.collabService.Stats(boardID)

	response.Success(w, map[string]interface{}{
		"tracked_targets":    stats.TrackedTargets,
		"total_operations":   stats.TotalOperations,
		"recent_operations":  stats.RecentOperations,
		"active_connections": h.wsManager.BoardConnections(boardID),
	})
}

func (h *CollabHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	vars := mux.Vars(r)
	boardID := vars["id"]

	if err := h.boardService.Authorize(userID, boardID); err != nil {
		if errors.Is(err, service.ErrBoardAccess) {
			response.Forbidden(w, err.Error())
			return
		}
		response.NotFound(w, "Board not found")
		return
	}

	limit := 0
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 0 {
			response.BadRequest(w, "invalid limit parameter")
			return
		}
		limit = parsed
	}

	records, err := h.collabService.ConflictHistory(boardID, limit)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	response.Success(w, records)
}
