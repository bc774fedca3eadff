package space

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/blobspace/internal/logger"
)

// Storage is the registry of configured spaces.
type Storage struct {
	spaces map[string]*Space
	node   string
}

// NewStorage builds one Space per settings entry, all sharing deps.
func NewStorage(deps Dependencies, settings ...Settings) (*Storage, error) {
	if deps.Metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if deps.Content == nil {
		return nil, fmt.Errorf("content store is required")
	}
	if deps.Node == "" {
		deps.Node = uuid.NewString()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	deps.Options.ApplyDefaults()

	storage := &Storage{
		spaces: make(map[string]*Space, len(settings)),
		node:   deps.Node,
	}
	for _, cfg := range settings {
		if cfg.Name == "" {
			return nil, fmt.Errorf("space name is required")
		}
		if _, exists := storage.spaces[cfg.Name]; exists {
			return nil, fmt.Errorf("duplicate space %q", cfg.Name)
		}
		if cfg.RetentionDays < 0 {
			return nil, fmt.Errorf("space %q: retention days must not be negative", cfg.Name)
		}
		storage.spaces[cfg.Name] = newSpace(cfg, deps)
		logger.Debug("Space %s: registered (readonly=%t, retention=%dd, touch=%t)",
			cfg.Name, cfg.ReadOnly, cfg.RetentionDays, cfg.TouchTracking)
	}

	return storage, nil
}

// Space returns the named space.
func (st *Storage) Space(name string) (*Space, error) {
	space, ok := st.spaces[name]
	if !ok {
		return nil, &Error{
			Code:    ErrUnknownSpace,
			Space:   name,
			Message: "unknown storage space",
		}
	}
	return space, nil
}

// Spaces returns every space ordered by name.
func (st *Storage) Spaces() []*Space {
	result := make([]*Space, 0, len(st.spaces))
	for _, space := range st.spaces {
		result = append(result, space)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].name < result[j].name
	})
	return result
}

// Node returns the name of this process.
func (st *Storage) Node() string {
	return st.node
}
