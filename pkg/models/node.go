package models

import (
	"fmt"
	"strings"
)

// DefaultStore is the store used when a node reference is parsed without one.
const DefaultStore = "workspace://SpacesStore"

// NodeRef identifies an entity in the repository.
type NodeRef struct {
	Store string `json:"store"`
	ID    string `json:"id"`
}

func NewNodeRef(store, id string) NodeRef {
	return NodeRef{Store: store, ID: id}
}

// ParseNodeRef parses the "<store>/<id>" form produced by String.
func ParseNodeRef(s string) (NodeRef, error) {
	i := strings.LastIndex(s, "/")
	if i <= 0 || i == len(s)-1 {
		return NodeRef{}, fmt.Errorf("%w %q", ErrInvalidNodeRef, s)
	}

	store := s[:i]
	if !strings.Contains(store, "://") {
		return NodeRef{}, fmt.Errorf("%w %q: missing store protocol", ErrInvalidNodeRef, s)
	}

	return NodeRef{Store: store, ID: s[i+1:]}, nil
}

func (r NodeRef) IsZero() bool {
	return r.ID == ""
}

func (r NodeRef) String() string {
	if r.IsZero() {
		return ""
	}

	return r.Store + "/" + r.ID
}
