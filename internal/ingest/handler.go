package ingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rivulet/internal/constants"
	"rivulet/internal/logger"
	apperrors "rivulet/pkg/errors"
	"rivulet/pkg/models"
)

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type Handler struct {
	events             *Service
	registry           *Service
	defaultMaxInFlight int
	logger             logger.Logger
}

// NewHandler serves the container-format routes from events and, when
// registry is non-nil, the registry-framed /v2 routes.
func NewHandler(events, registry *Service, defaultMaxInFlight int, log logger.Logger) *Handler {
	return &Handler{
		events:             events,
		registry:           registry,
		defaultMaxInFlight: defaultMaxInFlight,
		logger:             log,
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	events := router.Group("/events")
	{
		events.POST("", h.submit(h.events))
		events.POST("/stream", h.stream(h.events))

		if h.registry != nil {
			events.POST("/v2", h.submit(h.registry))
			events.POST("/v2/stream", h.stream(h.registry))
		}
	}
}

func (h *Handler) submit(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
			return
		}

		event := svc.NewEvent(req)
		if err := models.ValidateEvent(event); err != nil {
			c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithMessage(err.Error())))
			return
		}

		mode := ParseAckMode(c.GetHeader(constants.HeaderAckMode))
		status, err := svc.Submit(c.Request.Context(), event, mode)
		if err != nil {
			h.logger.WarnwCtx(c.Request.Context(), "Submission failed",
				"event_id", event.ID,
				"error", apperrors.Wrap(err, apperrors.ErrPublishFailed),
			)
		}

		code := http.StatusOK
		if mode == FireAndForget {
			code = http.StatusAccepted
		}
		c.JSON(code, submitResponse{ID: event.ID, Status: status})
	}
}

func (h *Handler) stream(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		mode := ParseAckMode(c.GetHeader(constants.HeaderAckMode))

		maxInFlight := h.defaultMaxInFlight
		if raw := c.GetHeader(constants.HeaderMaxInFlight); strings.TrimSpace(raw) != "" {
			n, err := ParseMaxInFlight(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithMessage(err.Error())))
				return
			}
			maxInFlight = n
		}

		ctx := c.Request.Context()

		// HTTP/1.x otherwise closes the request body at the first flushed result.
		if err := http.NewResponseController(c.Writer).EnableFullDuplex(); err != nil {
			h.logger.DebugwCtx(ctx, "Full duplex unavailable, relying on the transport",
				"proto", c.Request.Proto,
				"error", err,
			)
		}

		c.Header("Content-Type", "application/x-ndjson")
		c.Status(http.StatusOK)

		emit := func(r Result) error {
			line, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if _, err := c.Writer.Write(append(line, '\n')); err != nil {
				return err
			}
			c.Writer.Flush()
			return nil
		}

		if err := svc.Stream(ctx, c.Request.Body, mode, maxInFlight, emit); err != nil {
			if errors.Is(err, ErrStreamProtocol) {
				err = apperrors.Wrap(err, apperrors.ErrStreamProtocol)
			}
			h.logger.WarnwCtx(ctx, "Stream terminated",
				"mode", mode.String(),
				"max_in_flight", maxInFlight,
				"error", err,
			)
		}
	}
}
