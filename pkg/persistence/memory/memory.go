// Package memory provides an in-process node store.
package memory

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukex/actiond/pkg/models"
	"github.com/dukex/actiond/pkg/persistence"
)

type child struct {
	ref       models.NodeRef
	assocType string
}

type node struct {
	nodeType   string
	properties map[string]any
	aspects    []string
	parent     models.NodeRef
	children   []child
}

// Persistence keeps nodes in memory. Values handed in and out are copied.
type Persistence struct {
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	nodes map[models.NodeRef]*node
}

func NewPersistence(logger *slog.Logger) *Persistence {
	return &Persistence{
		logger: logger.With("module", "memory_persistence"),
		now:    time.Now,
		nodes:  make(map[models.NodeRef]*node),
	}
}

func (p *Persistence) get(op string, ref models.NodeRef) (*node, error) {
	n, ok := p.nodes[ref]
	if !ok {
		return nil, persistence.NewNodeError(op, ref, persistence.ErrNodeNotFound)
	}

	return n, nil
}

func (p *Persistence) Exists(_ context.Context, ref models.NodeRef) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.nodes[ref]

	return ok, nil
}

func (p *Persistence) CreateNode(ctx context.Context, parent models.NodeRef, assocType, nodeType string, props map[string]any) (models.NodeRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ref := persistence.NewNodeRef(parent, props)

	if _, exists := p.nodes[ref]; exists {
		return models.NodeRef{}, persistence.NewNodeError("CreateNode", ref, persistence.ErrNodeAlreadyExists)
	}

	var parentNode *node

	if !parent.IsZero() {
		var err error
		if parentNode, err = p.get("CreateNode", parent); err != nil {
			return models.NodeRef{}, err
		}
	}

	p.nodes[ref] = &node{
		nodeType:   nodeType,
		properties: persistence.CreatedProperties(ctx, ref, persistence.CopyProperties(props), p.now()),
		parent:     parent,
	}

	if parentNode != nil {
		parentNode.children = append(parentNode.children, child{ref: ref, assocType: assocType})
	}

	return ref, nil
}

func (p *Persistence) NodeType(_ context.Context, ref models.NodeRef) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n, err := p.get("NodeType", ref)
	if err != nil {
		return "", err
	}

	return n.nodeType, nil
}

func (p *Persistence) Properties(_ context.Context, ref models.NodeRef) (map[string]any, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n, err := p.get("Properties", ref)
	if err != nil {
		return nil, err
	}

	return persistence.CopyProperties(n.properties), nil
}

func (p *Persistence) Property(_ context.Context, ref models.NodeRef, name string) (any, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n, err := p.get("Property", ref)
	if err != nil {
		return nil, err
	}

	return persistence.CopyValue(n.properties[name]), nil
}

func (p *Persistence) SetProperties(ctx context.Context, ref models.NodeRef, props map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.get("SetProperties", ref)
	if err != nil {
		return err
	}

	n.properties = persistence.ModifiedProperties(ctx, n.properties, persistence.CopyProperties(props), p.now())

	return nil
}

func (p *Persistence) SetProperty(ctx context.Context, ref models.NodeRef, name string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.get("SetProperty", ref)
	if err != nil {
		return err
	}

	props := persistence.CopyProperties(n.properties)
	props[name] = persistence.CopyValue(value)
	n.properties = persistence.ModifiedProperties(ctx, n.properties, props, p.now())

	return nil
}

func (p *Persistence) ChildAssocs(_ context.Context, parent models.NodeRef, assocType string) ([]models.NodeRef, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n, err := p.get("ChildAssocs", parent)
	if err != nil {
		return nil, err
	}

	refs := make([]models.NodeRef, 0, len(n.children))

	for _, c := range n.children {
		if assocType == "" || c.assocType == assocType {
			refs = append(refs, c.ref)
		}
	}

	return refs, nil
}

func (p *Persistence) PrimaryParent(_ context.Context, ref models.NodeRef) (models.NodeRef, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n, err := p.get("PrimaryParent", ref)
	if err != nil {
		return models.NodeRef{}, err
	}

	return n.parent, nil
}

func (p *Persistence) RemoveChild(_ context.Context, parent, ref models.NodeRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	parentNode, err := p.get("RemoveChild", parent)
	if err != nil {
		return err
	}

	n, err := p.get("RemoveChild", ref)
	if err != nil {
		return err
	}

	if n.parent != parent {
		return persistence.NewNodeError("RemoveChild", ref, persistence.ErrNotChild)
	}

	parentNode.children = slices.DeleteFunc(parentNode.children, func(c child) bool { return c.ref == ref })
	p.removeSubtree(ref)

	return nil
}

func (p *Persistence) removeSubtree(ref models.NodeRef) {
	n, ok := p.nodes[ref]
	if !ok {
		return
	}

	for _, c := range n.children {
		p.removeSubtree(c.ref)
	}

	delete(p.nodes, ref)
}

func (p *Persistence) HasAspect(_ context.Context, ref models.NodeRef, aspect string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n, err := p.get("HasAspect", ref)
	if err != nil {
		return false, err
	}

	return slices.Contains(n.aspects, aspect), nil
}

func (p *Persistence) AddAspect(_ context.Context, ref models.NodeRef, aspect string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, err := p.get("AddAspect", ref)
	if err != nil {
		return err
	}

	if !slices.Contains(n.aspects, aspect) {
		n.aspects = append(n.aspects, aspect)
	}

	return nil
}

func (p *Persistence) Aspects(_ context.Context, ref models.NodeRef) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n, err := p.get("Aspects", ref)
	if err != nil {
		return nil, err
	}

	return slices.Clone(n.aspects), nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
