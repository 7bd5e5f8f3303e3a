// Package persistence stores the node graph that saved actions live in and
// maps actions, conditions and parameters onto it.
package persistence

import (
	"context"
	"maps"
	"time"

	"github.com/dukex/actiond/pkg/auth"
	"github.com/dukex/actiond/pkg/models"
	"github.com/google/uuid"
)

// System and audit properties maintained by every node store.
const (
	PropNodeUUID = "sys:node-uuid"
	PropCreator  = "cm:creator"
	PropCreated  = "cm:created"
	PropModifier = "cm:modifier"
	PropModified = "cm:modified"
)

// NodeService is the node graph contract. Child associations keep their
// creation order.
type NodeService interface {
	Exists(ctx context.Context, ref models.NodeRef) (bool, error)

	// CreateNode adds a node under parent, or a root node when parent is
	// zero. A PropNodeUUID property, when set, becomes the node id.
	CreateNode(ctx context.Context, parent models.NodeRef, assocType, nodeType string, props map[string]any) (models.NodeRef, error)
	NodeType(ctx context.Context, ref models.NodeRef) (string, error)

	Properties(ctx context.Context, ref models.NodeRef) (map[string]any, error)
	Property(ctx context.Context, ref models.NodeRef, name string) (any, error)
	// SetProperties replaces the node properties. Audit properties are kept.
	SetProperties(ctx context.Context, ref models.NodeRef, props map[string]any) error
	SetProperty(ctx context.Context, ref models.NodeRef, name string, value any) error

	// ChildAssocs lists the children of parent under assocType, or under any
	// association type when assocType is empty.
	ChildAssocs(ctx context.Context, parent models.NodeRef, assocType string) ([]models.NodeRef, error)
	PrimaryParent(ctx context.Context, ref models.NodeRef) (models.NodeRef, error)
	// RemoveChild deletes child and everything below it.
	RemoveChild(ctx context.Context, parent, child models.NodeRef) error

	HasAspect(ctx context.Context, ref models.NodeRef, aspect string) (bool, error)
	AddAspect(ctx context.Context, ref models.NodeRef, aspect string) error
	Aspects(ctx context.Context, ref models.NodeRef) ([]string, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewNodeRef picks the reference of a node about to be created.
func NewNodeRef(parent models.NodeRef, props map[string]any) models.NodeRef {
	store := models.DefaultStore
	if !parent.IsZero() {
		store = parent.Store
	}

	if id, ok := props[PropNodeUUID].(string); ok && id != "" {
		return models.NewNodeRef(store, id)
	}

	return models.NewNodeRef(store, uuid.NewString())
}

// CreatedProperties returns props with the node id and creation audit set.
func CreatedProperties(ctx context.Context, ref models.NodeRef, props map[string]any, now time.Time) map[string]any {
	out := maps.Clone(props)
	if out == nil {
		out = make(map[string]any, 5)
	}

	user := auth.User(ctx)

	out[PropNodeUUID] = ref.ID
	out[PropCreator] = user
	out[PropCreated] = now
	out[PropModifier] = user
	out[PropModified] = now

	return out
}

// ModifiedProperties returns props with the audit of existing carried over
// and the modification audit updated.
func ModifiedProperties(ctx context.Context, existing, props map[string]any, now time.Time) map[string]any {
	out := maps.Clone(props)
	if out == nil {
		out = make(map[string]any, 5)
	}

	for _, name := range []string{PropNodeUUID, PropCreator, PropCreated} {
		if v, ok := existing[name]; ok {
			out[name] = v
		}
	}

	out[PropModifier] = auth.User(ctx)
	out[PropModified] = now

	return out
}
