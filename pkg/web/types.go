// Package web provides the HTTP API for inspecting, cancelling and queueing action executions.
package web

import (
	"time"

	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/tracking"
)

// QueueActionRequest asks for the action persisted at NodeRef to be queued.
type QueueActionRequest struct {
	NodeRef string `json:"nodeRef" validate:"required"`
}

// RunningActionResponse describes one pending or running execution.
type RunningActionResponse struct {
	ActionID        string `json:"actionId"`
	ActionType      string `json:"actionType"`
	ActionInstance  int    `json:"actionInstance"`
	ActionNodeRef   string `json:"actionNodeRef,omitempty"`
	StartedAt       string `json:"startedAt,omitempty"`
	RunningOn       string `json:"runningOn,omitempty"`
	CancelRequested bool   `json:"cancelRequested"`
	Details         string `json:"details"`
}

func TransformExecutionDetails(details models.ExecutionDetails) RunningActionResponse {
	response := RunningActionResponse{
		ActionID:        details.Summary.ActionID,
		ActionType:      details.Summary.ActionType,
		ActionInstance:  details.Summary.ExecutionInstance,
		RunningOn:       details.RunningOn,
		CancelRequested: details.CancelRequested,
		Details:         "/api/running-action/" + tracking.GenerateCacheKey(details.Summary),
	}

	if !details.PersistedActionRef.IsZero() {
		response.ActionNodeRef = details.PersistedActionRef.String()
	}

	// pending executions have not started yet
	if !details.StartedAt.IsZero() {
		response.StartedAt = details.StartedAt.UTC().Format(time.RFC3339)
	}

	return response
}

// QueuedActionResponse acknowledges a queued action.
type QueuedActionResponse struct {
	ActionID      string `json:"actionId"`
	ActionType    string `json:"actionType"`
	ActionNodeRef string `json:"actionNodeRef"`
	Target        string `json:"target"`
}

type ParameterResponse struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Mandatory    bool   `json:"mandatory"`
	MultiValued  bool   `json:"multiValued"`
	DisplayLabel string `json:"displayLabel,omitempty"`
}

type DefinitionResponse struct {
	Name            string              `json:"name"`
	Title           string              `json:"title,omitempty"`
	Description     string              `json:"description,omitempty"`
	ApplicableTypes []string            `json:"applicableTypes,omitempty"`
	QueueName       string              `json:"queueName,omitempty"`
	TrackStatus     bool                `json:"trackStatus"`
	Parameters      []ParameterResponse `json:"parameters"`
}

func transformParameters(def *models.ParameterizedItemDefinition) []ParameterResponse {
	params := def.ParameterDefinitions()

	out := make([]ParameterResponse, 0, len(params))
	for _, p := range params {
		out = append(out, ParameterResponse{
			Name:         p.Name,
			Type:         string(p.Type),
			Mandatory:    p.Mandatory,
			MultiValued:  p.MultiValued,
			DisplayLabel: p.DisplayLabel,
		})
	}

	return out
}

func TransformActionDefinition(def *models.ActionDefinition) DefinitionResponse {
	return DefinitionResponse{
		Name:            def.Name,
		Title:           def.Title,
		Description:     def.Description,
		ApplicableTypes: def.ApplicableTypes,
		QueueName:       def.QueueName,
		TrackStatus:     def.TrackStatus,
		Parameters:      transformParameters(&def.ParameterizedItemDefinition),
	}
}

func TransformConditionDefinition(def *models.ConditionDefinition) DefinitionResponse {
	return DefinitionResponse{
		Name:        def.Name,
		Title:       def.Title,
		Description: def.Description,
		Parameters:  transformParameters(&def.ParameterizedItemDefinition),
	}
}
