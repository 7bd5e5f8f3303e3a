package models

import "errors"

var (
	// ErrDuplicateParameter is returned when a definition declares the same parameter twice.
	ErrDuplicateParameter = errors.New("duplicate parameter definition")

	// ErrEmptyDefinitionName is returned when a definition has no name.
	ErrEmptyDefinitionName = errors.New("definition name is required")

	ErrInvalidNodeRef = errors.New("invalid node reference")
)
