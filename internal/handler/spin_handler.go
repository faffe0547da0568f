package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/spin-wheel/internal/model"
	"github.com/fairyhunter13/spin-wheel/internal/service"
)

// SpinEngineInterface defines the spin operations exposed over HTTP.
type SpinEngineInterface interface {
	ExecuteSpin(ctx context.Context, userID int64, wheelID *int64) (*model.SpinResult, error)
	GetWheelSnapshot(ctx context.Context, userID int64, wheelID *int64) (*model.WheelSnapshot, error)
}

// LedgerServiceInterface defines the history operations exposed over HTTP.
type LedgerServiceInterface interface {
	History(ctx context.Context, userID int64, limit int) ([]model.SpinRecord, error)
	MarkClaimed(ctx context.Context, spinID, userID int64) error
}

// WheelAdminInterface lets the admin side drop cached wheel configuration.
type WheelAdminInterface interface {
	InvalidateWheel(ctx context.Context, wheelID int64) error
}

// SpinHandler handles HTTP requests for spin operations.
type SpinHandler struct {
	engine    SpinEngineInterface
	ledger    LedgerServiceInterface
	wheels    WheelAdminInterface
	validator *validator.Validate
}

// NewSpinHandler creates a new SpinHandler.
func NewSpinHandler(engine SpinEngineInterface, ledger LedgerServiceInterface, wheels WheelAdminInterface, v *validator.Validate) *SpinHandler {
	return &SpinHandler{engine: engine, ledger: ledger, wheels: wheels, validator: v}
}

// Register mounts the spin routes on r.
func (h *SpinHandler) Register(r fiber.Router) {
	r.Post("/spins", h.Spin)
	r.Post("/spins/:id/claim", h.ClaimSpin)
	r.Get("/wheels/snapshot", h.Snapshot)
	r.Post("/wheels/:id/invalidate", h.InvalidateWheel)
	r.Get("/users/:user_id/spins", h.History)
}

// formatValidationError converts validator errors to client-facing messages.
func formatValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			field := fe.Field()
			tag := fe.Tag()

			switch field {
			case "user_id":
				if tag == "required" {
					return "invalid request: user_id is required"
				}
				return "invalid request: user_id must be a positive integer"
			case "wheel_id":
				return "invalid request: wheel_id must be a positive integer"
			default:
				if tag == "required" {
					return "invalid request: " + field + " is required"
				}
				return "invalid request: " + field + " is invalid"
			}
		}
	}
	return "invalid request"
}

// Spin handles POST /api/spins requests.
func (h *SpinHandler) Spin(c *fiber.Ctx) error {
	var req model.SpinRequest

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	result, err := h.engine.ExecuteSpin(c.Context(), req.UserID, req.WheelID)
	if err != nil {
		return h.writeError(c, err, "failed to execute spin")
	}

	return c.JSON(result)
}

// Snapshot handles GET /api/wheels/snapshot?user_id=&wheel_id= requests.
func (h *SpinHandler) Snapshot(c *fiber.Ctx) error {
	var q model.SnapshotQuery
	if err := c.QueryParser(&q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: user_id and wheel_id must be integers"})
	}

	if err := h.validator.Struct(q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	snapshot, err := h.engine.GetWheelSnapshot(c.Context(), q.UserID, q.WheelID)
	if err != nil {
		return h.writeError(c, err, "failed to load wheel snapshot")
	}

	return c.JSON(snapshot)
}

// History handles GET /api/users/:user_id/spins?limit= requests.
func (h *SpinHandler) History(c *fiber.Ctx) error {
	userID, err := parseID(c.Params("user_id"))
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: user_id must be a positive integer"})
	}

	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: limit must not be negative"})
	}

	records, err := h.ledger.History(c.Context(), userID, limit)
	if err != nil {
		return h.writeError(c, err, "failed to list spins")
	}

	return c.JSON(fiber.Map{"spins": records})
}

// ClaimSpin handles POST /api/spins/:id/claim requests.
func (h *SpinHandler) ClaimSpin(c *fiber.Ctx) error {
	spinID, err := parseID(c.Params("id"))
	if err != nil || spinID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: spin id must be a positive integer"})
	}

	var req model.ClaimSpinRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": formatValidationError(err)})
	}

	if err := h.ledger.MarkClaimed(c.Context(), spinID, req.UserID); err != nil {
		return h.writeError(c, err, "failed to claim spin")
	}

	log.Info().
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Int64("spin_id", spinID).
		Int64("user_id", req.UserID).
		Msg("spin prize claimed")

	return c.SendStatus(fiber.StatusNoContent)
}

// InvalidateWheel handles POST /api/wheels/:id/invalidate requests.
func (h *SpinHandler) InvalidateWheel(c *fiber.Ctx) error {
	wheelID, err := parseID(c.Params("id"))
	if err != nil || wheelID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request: wheel id must be a positive integer"})
	}

	if err := h.wheels.InvalidateWheel(c.Context(), wheelID); err != nil {
		return h.writeError(c, err, "failed to invalidate wheel cache")
	}

	log.Info().Int64("wheel_id", wheelID).Msg("wheel cache invalidated")
	return c.SendStatus(fiber.StatusNoContent)
}

// writeError maps service errors to HTTP responses.
func (h *SpinHandler) writeError(c *fiber.Ctx, err error, msg string) error {
	var ie *service.IneligibleError
	switch {
	case errors.As(err, &ie):
		body := fiber.Map{
			"error":           ie.Reason.Error(),
			"spins_remaining": ie.SpinsRemaining,
			"balance":         ie.Balance,
			"required":        ie.Required,
		}
		if errors.Is(err, service.ErrInsufficientPoints) {
			body["shortfall"] = ie.Shortfall()
		}
		return c.Status(fiber.StatusForbidden).JSON(body)
	case errors.Is(err, service.ErrInvalidRequest):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	case errors.Is(err, service.ErrNoActiveWheel):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no active spin wheel"})
	case errors.Is(err, service.ErrSpinNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "spin not found"})
	case errors.Is(err, service.ErrAlreadyClaimed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "spin already claimed"})
	case errors.Is(err, service.ErrNoPrizesAvailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no prizes available"})
	case errors.Is(err, service.ErrStoreUnavailable):
		log.Warn().
			Err(err).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg(msg)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service temporarily unavailable"})
	}

	log.Error().
		Err(err).
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("method", c.Method()).
		Str("path", c.Path()).
		Msg(msg)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
