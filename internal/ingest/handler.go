package ingest

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"github.com/eleven-am/sentinel-backend/internal/frame"
	"github.com/eleven-am/sentinel-backend/internal/shared"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	registry *frame.Registry
	logger   *slog.Logger
}

func NewHandler(registry *frame.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		logger:   logger.With("component", "ingest-handler"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/frames", h.Submit)
	g.GET("/frames/stream", h.Stream)
}

type submitRequest struct {
	ClientID  string `json:"client_id"`
	Sequence  uint64 `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
	Data      string `json:"data"`
}

type submitResponse struct {
	Accepted  bool `json:"accepted"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// Submit accepts one frame. Appending never fails the capture client:
// duplicates are acknowledged as such and cap-driven drops happen silently
// on the oldest end of the buffer.
func (h *Handler) Submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_body", "invalid request body")
	}
	if req.ClientID == "" {
		return shared.BadRequest("missing_client_id", "client_id is required")
	}
	if req.Data == "" {
		return shared.BadRequest("missing_data", "frame data is required")
	}

	payload, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return shared.BadRequest("invalid_data", "frame data must be base64")
	}

	ts := time.Now()
	if req.Timestamp > 0 {
		ts = time.UnixMilli(req.Timestamp)
	}

	store := h.registry.GetOrCreate(req.ClientID)
	appended := store.Append(frame.Frame{
		ClientID:  req.ClientID,
		Sequence:  req.Sequence,
		Timestamp: ts,
		Data:      payload,
	})

	return c.JSON(http.StatusAccepted, submitResponse{
		Accepted:  true,
		Duplicate: !appended,
	})
}

// TokenAuth guards the ingest and query surfaces with the shared service
// token. An empty configured token disables the check (local development).
func TokenAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return next(c)
			}
			provided := c.Request().Header.Get("X-Service-Token")
			if provided == "" {
				provided = c.QueryParam("token")
			}
			if provided != token {
				return shared.Unauthorized("invalid_token", "invalid service token")
			}
			return next(c)
		}
	}
}
