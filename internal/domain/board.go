package domain

import "time"

type Board struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"owner_id"`
	Members   []string     `json:"members"`
	Name      string       `json:"name"`
	Elements  []Element    `json:"elements"`
	Links     []Connection `json:"connections"`
	State     CanvasState  `json:"canvas_state"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	IsDeleted bool         `json:"is_deleted"`
	Version   int64        `json:"version"`
}

type Element struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Label  string  `json:"label,omitempty"`
}

type Connection struct {
	ID   string `json:"id"`
	From Point  `json:"from"`
	To   Point  `json:"to"`
}

type CanvasState struct {
	Scale    float64 `json:"scale"`
	Position Point   `json:"position"`
}

type CreateBoardRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

type UpdateBoardRequest struct {
	Name *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
}

type ShareBoardRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type BoardResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}
