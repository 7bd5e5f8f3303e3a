package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/actiond/pkg/action"
	"github.com/dukex/actiond/pkg/auth"
	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/persistence"
	"github.com/dukex/actiond/pkg/tracking"
	"github.com/dukex/actiond/pkg/txn"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// RunAsHeader names the user an API-queued action runs as. The handlers'
// default user applies when it is absent.
const RunAsHeader = "X-Run-As"

type APIHandlers struct {
	logger    *slog.Logger
	actions   *action.Service
	txns      *txn.Manager
	nodes     persistence.NodeService
	validator *validator.Validate
	runAs     string
}

func NewAPIHandlers(
	actions *action.Service,
	txns *txn.Manager,
	nodes persistence.NodeService,
	validator *validator.Validate,
	runAs string,
	logger *slog.Logger,
) *APIHandlers {
	if runAs == "" {
		runAs = auth.SystemUser
	}

	return &APIHandlers{
		logger:    logger.With("module", "api"),
		actions:   actions,
		txns:      txns,
		nodes:     nodes,
		validator: validator,
		runAs:     runAs,
	}
}

// Register mounts every endpoint under /api.
func (h *APIHandlers) Register(router fiber.Router) {
	api := router.Group("/api")
	api.Get("/running-actions", h.GetRunningActions)
	api.Post("/running-actions", h.QueueAction)
	api.Get("/running-action/:key", h.GetRunningAction)
	api.Delete("/running-action/:key", h.CancelRunningAction)
	api.Get("/action-definitions", h.GetActionDefinitions)
	api.Get("/condition-definitions", h.GetConditionDefinitions)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) tracker() *tracking.Service {
	return h.actions.Tracking()
}

// GetRunningActions lists pending and running executions, optionally
// narrowed to one action type or one persisted action node.
func (h *APIHandlers) GetRunningActions(c fiber.Ctx) error {
	ctx := c.Context()
	actionType := c.Query("type")

	var details []models.ExecutionDetails

	if nodeRef := c.Query("nodeRef"); nodeRef != "" {
		ref, err := models.ParseNodeRef(nodeRef)
		if err != nil {
			return badRequest(c, err.Error())
		}

		for _, d := range h.tracker().ExecutingActionsForNode(ctx, ref) {
			if actionType == "" || d.Summary.ActionType == actionType {
				details = append(details, d)
			}
		}
	} else {
		var summaries []models.ExecutionSummary
		if actionType != "" {
			summaries = h.tracker().ExecutingActionsOfType(ctx, actionType)
		} else {
			summaries = h.tracker().AllExecutingActions(ctx)
		}

		for _, summary := range summaries {
			// executions that finished since the key scan are skipped
			if d, ok := h.tracker().ExecutionDetails(ctx, summary); ok {
				details = append(details, d)
			}
		}
	}

	data := make([]RunningActionResponse, 0, len(details))
	for _, d := range details {
		data = append(data, TransformExecutionDetails(d))
	}

	return c.JSON(fiber.Map{"data": data})
}

func (h *APIHandlers) GetRunningAction(c fiber.Ctx) error {
	summary, err := tracking.BuildExecutionSummary(c.Params("key"))
	if err != nil {
		return handleServiceError(c, err)
	}

	details, ok := h.tracker().ExecutionDetails(c.Context(), summary)
	if !ok {
		return notFound(c, "Running action not found")
	}

	return c.JSON(fiber.Map{"data": TransformExecutionDetails(details)})
}

// CancelRunningAction flags the execution for cancellation. Executors notice
// the flag the next time they poll for it.
func (h *APIHandlers) CancelRunningAction(c fiber.Ctx) error {
	summary, err := tracking.BuildExecutionSummary(c.Params("key"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if !h.tracker().RequestCancellation(c.Context(), summary) {
		return notFound(c, "Running action not found")
	}

	h.logger.InfoContext(c.Context(), "Cancellation requested", "key", tracking.GenerateCacheKey(summary))

	return c.SendStatus(fiber.StatusNoContent)
}

// QueueAction loads the persisted action and queues it against its owning
// node. It is queued once the request's transaction commits.
func (h *APIHandlers) QueueAction(c fiber.Ctx) error {
	var req QueueActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	ref, err := models.ParseNodeRef(req.NodeRef)
	if err != nil {
		return badRequest(c, err.Error())
	}

	user := c.Get(RunAsHeader)
	if user == "" {
		user = h.runAs
	}

	var queued *models.Action

	err = auth.RunAs(c.Context(), user, func(ctx context.Context) error {
		return h.txns.Do(ctx, func(ctx context.Context) error {
			a, err := h.actions.LoadAction(ctx, ref)
			if err != nil {
				return err
			}

			queued = a

			return h.actions.ExecuteAction(ctx, a, a.OwningNodeRef, true, true)
		})
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": QueuedActionResponse{
		ActionID:      queued.ID(),
		ActionType:    queued.DefinitionName(),
		ActionNodeRef: queued.NodeRef.String(),
		Target:        queued.OwningNodeRef.String(),
	}})
}

// GetActionDefinitions lists registered action definitions, narrowed to
// those applicable to nodeType when given.
func (h *APIHandlers) GetActionDefinitions(c fiber.Ctx) error {
	defs := h.actions.ActionDefinitions()
	if nodeType := c.Query("nodeType"); nodeType != "" {
		defs = h.actions.ActionDefinitionsFor(nodeType)
	}

	data := make([]DefinitionResponse, 0, len(defs))
	for _, def := range defs {
		data = append(data, TransformActionDefinition(def))
	}

	return c.JSON(fiber.Map{"data": data})
}

func (h *APIHandlers) GetConditionDefinitions(c fiber.Ctx) error {
	defs := h.actions.ConditionDefinitions()

	data := make([]DefinitionResponse, 0, len(defs))
	for _, def := range defs {
		data = append(data, TransformConditionDefinition(def))
	}

	return c.JSON(fiber.Map{"data": data})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK
	storeCheck := "ok"

	if err := h.nodes.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
		storeCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"persistence": storeCheck,
			"queues":      h.actions.Queues(),
		},
		"timestamp": time.Now().UTC(),
	})
}
