package incident

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/eleven-am/sentinel-backend/internal/frame"
	"github.com/eleven-am/sentinel-backend/internal/shared"
	"github.com/labstack/echo/v4"
)

type Handler struct {
	store    *Store
	journal  *Journal
	registry *frame.Registry
	logger   *slog.Logger
}

func NewHandler(store *Store, journal *Journal, registry *frame.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    store,
		journal:  journal,
		registry: registry,
		logger:   logger.With("component", "incident-handler"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/incidents", h.List)
	g.GET("/incidents/:id", h.Get)
	g.GET("/clients", h.Clients)
	g.GET("/clients/:id/journal", h.ClientJournal)
}

type listResponse struct {
	Total     int      `json:"total"`
	Incidents []Record `json:"incidents"`
}

func (h *Handler) List(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	records, err := h.store.ListByClient(c.Request().Context(), c.QueryParam("client_id"), limit)
	if err != nil {
		h.logger.Error("list incidents failed", "error", err)
		return shared.InternalError("list_failed", "failed to list incidents")
	}
	if records == nil {
		records = []Record{}
	}
	return c.JSON(http.StatusOK, listResponse{Total: len(records), Incidents: records})
}

func (h *Handler) Get(c echo.Context) error {
	record, err := h.store.GetByID(c.Request().Context(), c.Param("id"))
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NotFound("incident_not_found", "incident not found")
	}
	if err != nil {
		h.logger.Error("get incident failed", "error", err)
		return shared.InternalError("get_failed", "failed to get incident")
	}
	return c.JSON(http.StatusOK, record)
}

type clientsResponse struct {
	Total   int                `json:"total"`
	Clients []frame.ClientInfo `json:"clients"`
}

func (h *Handler) Clients(c echo.Context) error {
	clients := h.registry.ListClients()
	return c.JSON(http.StatusOK, clientsResponse{Total: len(clients), Clients: clients})
}

func (h *Handler) ClientJournal(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	entries, err := h.journal.Recent(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		h.logger.Error("journal read failed", "error", err)
		return shared.InternalError("journal_failed", "failed to read journal")
	}
	if entries == nil {
		entries = []JournalEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}
