package tracking

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dukex/actiond/pkg/models"
)

// KeySeparator joins the parts of a cache key. It never occurs in action types or ids.
const KeySeparator = "="

var ErrInvalidKey = errors.New("invalid execution key")

// GenerateCacheKey renders "<type>=<id>=<instance>".
func GenerateCacheKey(summary models.ExecutionSummary) string {
	return summary.ActionType + KeySeparator + summary.ActionID + KeySeparator + strconv.Itoa(summary.ExecutionInstance)
}

func CacheKeyOf(action *models.Action) string {
	return GenerateCacheKey(models.SummaryOf(action))
}

// BuildExecutionSummary parses a key produced by GenerateCacheKey.
func BuildExecutionSummary(key string) (models.ExecutionSummary, error) {
	parts := strings.Split(key, KeySeparator)
	if len(parts) != 3 {
		return models.ExecutionSummary{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	instance, err := strconv.Atoi(parts[2])
	if err != nil {
		return models.ExecutionSummary{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, key, err)
	}

	return models.ExecutionSummary{
		ActionType:        parts[0],
		ActionID:          parts[1],
		ExecutionInstance: instance,
	}, nil
}

// BuildExecutionDetails captures the cache record for the action's current state.
func BuildExecutionDetails(action *models.Action, runningOn string) models.ExecutionDetails {
	state := action.Execution()

	return models.ExecutionDetails{
		Summary:            models.SummaryOf(action),
		PersistedActionRef: action.NodeRef,
		RunningOn:          runningOn,
		StartedAt:          state.StartedAt,
	}
}

func typePrefix(actionType string) string {
	return actionType + KeySeparator
}

func actionPrefix(actionType, actionID string) string {
	return actionType + KeySeparator + actionID + KeySeparator
}
