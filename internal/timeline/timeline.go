// Package timeline holds the input data model shared by every device:
// the resolved Timeline Snapshot, the layer-to-device Mapping Table, and
// the generic foreground/lookahead grouping policy a Projector applies
// before dispatching on content type. Resolving timing expressions into
// this snapshot happens upstream.
package timeline

// DeviceKind discriminates which device family a Mapping targets.
type DeviceKind string

// ObjectContent is the untyped payload of a ResolvedObject, discriminated
// by Type. Device projectors type-assert the fields they need out of
// Fields.
type ObjectContent struct {
	Type   string         `json:"type"`
	Fields map[string]any `json:"fields"`
}

// Instance carries the resolved absolute timing of an object.
type Instance struct {
	Start int64 `json:"start"`
}

// ResolvedObject is one timeline object pinned to a layer.
type ResolvedObject struct {
	ID                string        `json:"id"`
	Instance          Instance      `json:"instance"`
	Content           ObjectContent `json:"content"`
	IsLookahead       bool          `json:"isLookahead,omitempty"`
	LookaheadForLayer string        `json:"lookaheadForLayer,omitempty"`
}

// NextEvent is a future change point the conductor can use to schedule
// the next handleState pass. The engine only reads Time/Type; it does
// not resolve them.
type NextEvent struct {
	Time int64  `json:"time"`
	Type string `json:"type"`
}

// Snapshot is the resolved timeline handed to a device's Façade.
type Snapshot struct {
	Time       int64                     `json:"time"`
	Layers     map[string]ResolvedObject `json:"layers"`
	NextEvents []NextEvent               `json:"nextEvents,omitempty"`
}

// Mapping binds a timeline layer to a concrete device output.
type Mapping struct {
	Device   DeviceKind     `json:"device"`
	DeviceID string         `json:"deviceId"`
	Options  map[string]any `json:"options,omitempty"`
}

// MappingTable is keyed by layer id.
type MappingTable map[string]Mapping

// ResolveMapping looks up the mapping for layerID, falling back to the
// object's LookaheadForLayer when it is a lookahead object with no direct
// mapping entry of its own.
func ResolveMapping(table MappingTable, layerID string, obj ResolvedObject) (Mapping, bool) {
	if m, ok := table[layerID]; ok {
		return m, true
	}
	if obj.IsLookahead && obj.LookaheadForLayer != "" {
		if m, ok := table[obj.LookaheadForLayer]; ok {
			return m, true
		}
	}
	return Mapping{}, false
}

// Group is one device-output-layer's resolved content: a foreground
// object (nil when synthesized empty because only a lookahead exists)
// and an optional preview/"next up" object.
type Group struct {
	LayerID    string
	Mapping    Mapping
	Foreground *ResolvedObject
	NextUp     *ResolvedObject
}

// GroupForDevice groups the snapshot's layers by their effective
// foreground layer id for one device: a lookahead object populates
// NextUp on the layer it previews (LookaheadForLayer) rather than
// replacing it, synthesizing an empty foreground Group when that layer
// has no object of its own. Layers whose mapping's Device does not match
// kind, or that have no mapping at all, are ignored.
func GroupForDevice(snapshot Snapshot, table MappingTable, kind DeviceKind, deviceID string) map[string]*Group {
	groups := make(map[string]*Group)

	ensure := func(layerID string, mapping Mapping) *Group {
		if g, ok := groups[layerID]; ok {
			return g
		}
		g := &Group{LayerID: layerID, Mapping: mapping}
		groups[layerID] = g
		return g
	}

	// First pass: foreground (non-lookahead) objects establish their
	// group and mapping.
	for layerID, obj := range snapshot.Layers {
		if obj.IsLookahead {
			continue
		}
		mapping, ok := ResolveMapping(table, layerID, obj)
		if !ok || mapping.Device != kind || mapping.DeviceID != deviceID {
			continue
		}
		obj := obj
		g := ensure(layerID, mapping)
		g.Foreground = &obj
	}

	// Second pass: lookahead objects populate NextUp on the layer they
	// preview, synthesizing an empty foreground group if needed.
	for layerID, obj := range snapshot.Layers {
		if !obj.IsLookahead {
			continue
		}
		mapping, ok := ResolveMapping(table, layerID, obj)
		if !ok || mapping.Device != kind || mapping.DeviceID != deviceID {
			continue
		}
		targetLayer := obj.LookaheadForLayer
		if targetLayer == "" {
			targetLayer = layerID
		}
		obj := obj
		g := ensure(targetLayer, mapping)
		g.NextUp = &obj
	}

	return groups
}

// AsInt coerces a decoded JSON/YAML numeric value to int. JSON decodes
// numbers as float64 and YAML as int; content fields must accept both.
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// AsInt64 coerces a decoded JSON/YAML numeric value to int64.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
