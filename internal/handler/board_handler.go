package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"canvas-sync-server/internal/domain"
	"canvas-sync-server/internal/middleware"
	"canvas-sync-server/internal/service"
	"canvas-sync-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type BoardHandler struct {
	service  *service.BoardService
	validate *validator.Validate
}

func NewBoardHandler(service *service.BoardService) *BoardHandler {
	return &BoardHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *BoardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBoardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	board, err := h.service.Create(userID, &req)
	if err != nil {
		response.InternalError(w, "Failed to create board")
		return
	}

	response.Created(w, board)
}

func (h *BoardHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	boards, err := h.service.List(userID)
	if err != nil {
		response.InternalError(w, "Failed to list boards")
		return
	}

	response.Success(w, boards)
}

func (h *BoardHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	boardID := vars["id"]
	if boardID == "" {
		response.BadRequest(w, "Board ID is required")
		return
	}

	userID := middleware.GetUserID(r)

	board, err := h.service.GetByID(userID, boardID)
	if err != nil {
		if errors.Is(err, service.ErrBoardAccess) {
			response.Forbidden(w, err.Error())
			return
		}
		response.NotFound(w, "Board not found")
		return
	}

	response.Success(w, board)
}

func (h *BoardHandler) Update(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	boardID := vars["id"]
	if boardID == "" {
		response.BadRequest(w, "Board ID is required")
		return
	}

	var req domain.UpdateBoardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	board, err := h.service.Update(userID, boardID, &req)
	if err != nil {
		if errors.Is(err, service.ErrBoardAccess) {
			response.Forbidden(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to update board")
		return
	}

	response.Success(w, board)
}

func (h *BoardHandler) Share(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	boardID := vars["id"]
	if boardID == "" {
		response.BadRequest(w, "Board ID is required")
		return
	}

	var req domain.ShareBoardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	board, err := h.service.Share(userID, boardID, req.UserID)
	if err != nil {
		if errors.Is(err, service.ErrBoardAccess) {
			response.Forbidden(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to share board")
		return
	}

	response.Success(w, board)
}

func (h *BoardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	boardID := vars["id"]
	if boardID == "" {
		response.BadRequest(w, "Board ID is required")
		return
	}

	userID := middleware.GetUserID(r)

	if err := h.service.Delete(userID, boardID); err != nil {
		if errors.Is(err, service.ErrBoardAccess) {
			response.Forbidden(w, err.Error())
			return
		}
		response.InternalError(w, "Failed to delete board")
		return
	}

	response.Success(w, map[string]string{"message": "Board deleted"})
}
