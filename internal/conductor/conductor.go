// Package conductor owns the per-process device roster: it registers one
// Device Façade per configured device, fans a resolved timeline snapshot
// out across them, and drives the periodic resync tick. Timeline
// resolution itself happens upstream; the conductor only distributes
// already-resolved snapshots.
package conductor

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/strefethen/timelineresolver-go/internal/device"
	"github.com/strefethen/timelineresolver-go/internal/doontime"
	"github.com/strefethen/timelineresolver-go/internal/timeline"
)

// QueueInspector is implemented by façades that can expose a read-only
// snapshot of their pending command queue.
type QueueInspector interface {
	QueueSnapshot() []doontime.EntrySnapshot
}

// Registered pairs a façade with its roster identity.
type Registered struct {
	ID     string
	Kind   timeline.DeviceKind
	Facade device.Capability
}

// Conductor fans resolved timeline snapshots out across the registered
// devices and serializes all lifecycle calls per façade.
type Conductor struct {
	logger   *log.Logger
	mappings timeline.MappingTable

	mu      sync.Mutex
	devices []*Registered
	byID    map[string]*Registered
}

// New creates a Conductor over the given mapping table.
func New(mappings timeline.MappingTable, logger *log.Logger) *Conductor {
	if logger == nil {
		logger = log.Default()
	}
	return &Conductor{
		logger:   logger,
		mappings: mappings,
		byID:     make(map[string]*Registered),
	}
}

// Register adds a device façade to the roster.
func (c *Conductor) Register(id string, kind timeline.DeviceKind, facade device.Capability) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byID[id]; exists {
		return fmt.Errorf("device %q already registered", id)
	}
	reg := &Registered{ID: id, Kind: kind, Facade: facade}
	c.devices = append(c.devices, reg)
	c.byID[id] = reg
	c.logger.Printf("CONDUCTOR: registered device %s (%s)", id, kind)
	return nil
}

// Device returns the registered façade for id.
func (c *Conductor) Device(id string) (*Registered, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reg, ok := c.byID[id]
	return reg, ok
}

// Devices returns the roster in registration order.
func (c *Conductor) Devices() []*Registered {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Registered, len(c.devices))
	copy(out, c.devices)
	return out
}

// Mappings returns the layer-to-device mapping table the conductor
// distributes snapshots against.
func (c *Conductor) Mappings() timeline.MappingTable {
	return c.mappings
}

// HandleTimeline distributes one resolved snapshot to every registered
// device: prepareForHandleState first (so a revised timeline cannot
// double-fire), then handleState. Devices are driven in registration
// order, one at a time; a failing device does not stop the fan-out.
func (c *Conductor) HandleTimeline(snapshot timeline.Snapshot, mappings timeline.MappingTable) error {
	if mappings == nil {
		mappings = c.mappings
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, reg := range c.devices {
		reg.Facade.PrepareForHandleState(snapshot.Time)
		if err := reg.Facade.HandleState(snapshot, mappings); err != nil {
			c.logger.Printf("CONDUCTOR: handleState failed for %s: %v", reg.ID, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("device %s: %w", reg.ID, err)
			}
		}
	}
	return firstErr
}

// MakeReadyAll drives makeReady across the roster.
func (c *Conductor) MakeReadyAll(ctx context.Context, okToDestroy bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, reg := range c.devices {
		if err := reg.Facade.MakeReady(ctx, okToDestroy); err != nil {
			c.logger.Printf("CONDUCTOR: makeReady failed for %s: %v", reg.ID, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("device %s: %w", reg.ID, err)
			}
		}
	}
	return firstErr
}

// TerminateAll terminates every registered device.
func (c *Conductor) TerminateAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, reg := range c.devices {
		if err := reg.Facade.Terminate(ctx); err != nil {
			c.logger.Printf("CONDUCTOR: terminate failed for %s: %v", reg.ID, err)
		}
	}
}
