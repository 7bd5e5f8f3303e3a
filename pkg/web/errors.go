package web

import (
	"errors"
	"net/http"

	"github.com/dukex/actiond/pkg/action"
	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/persistence"
	"github.com/dukex/actiond/pkg/tracking"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// errorMapping turns a class of service errors into a problem. An empty
// detail means the error text is shown.
type errorMapping struct {
	match  func(error) bool
	status int
	kind   string
	detail string
}

var errorMappings = []errorMapping{
	{match: isMalformedReference, status: http.StatusBadRequest, kind: "validation_error"},
	{match: action.IsValidationError, status: http.StatusBadRequest, kind: "validation_error"},
	{match: isMissingAction, status: http.StatusNotFound, kind: "action_not_found", detail: "action not found"},
	{match: persistence.IsNodeNotFound, status: http.StatusNotFound, kind: "node_not_found", detail: "node not found"},
	{match: action.IsNotRegistered, status: http.StatusConflict, kind: "definition_not_registered"},
}

func isMalformedReference(err error) bool {
	return errors.Is(err, tracking.ErrInvalidKey) || errors.Is(err, models.ErrInvalidNodeRef)
}

func isMissingAction(err error) bool {
	return persistence.IsActionNotFound(err) || errors.Is(err, persistence.ErrNotActionNode)
}

func writeProblem(c fiber.Ctx, status int, kind, detail string) error {
	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(problem)
}

func badRequest(c fiber.Ctx, detail string) error {
	return writeProblem(c, http.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, detail string) error {
	return writeProblem(c, http.StatusNotFound, "not_found", detail)
}

// handleServiceError answers with the first matching mapping, or 500.
func handleServiceError(c fiber.Ctx, err error) error {
	for _, m := range errorMappings {
		if !m.match(err) {
			continue
		}

		detail := m.detail
		if detail == "" {
			detail = err.Error()
		}

		return writeProblem(c, m.status, m.kind, detail)
	}

	problem := problems.NewStatusProblem(http.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(http.StatusInternalServerError).JSON(problem)
}
