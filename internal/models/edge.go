package models

// EdgeType selects the edge rendering curve.
type EdgeType string

const (
	// EdgeDefault is the renderer's default bezier curve.
	EdgeDefault EdgeType = "default"
	// EdgeStraight is a straight line.
	EdgeStraight EdgeType = "straight"
	// EdgeStep is a right-angle step path.
	EdgeStep EdgeType = "step"
	// EdgeSmoothStep is a step path with rounded corners.
	EdgeSmoothStep EdgeType = "smoothstep"
	// EdgeBezier is an explicit bezier curve.
	EdgeBezier EdgeType = "bezier"
)

// Valid reports whether t is a known edge type.
func (t EdgeType) Valid() bool {
	switch t {
	case EdgeDefault, EdgeStraight, EdgeStep, EdgeSmoothStep, EdgeBezier:
		return true
	default:
		return false
	}
}

// Edge is a connection between two nodes.
//
// Style and LabelStyle are derived deterministically from Data at load time
// and are never persisted; the joined.json codec strips them on write and
// recomputes them on read so the two representations cannot diverge.
type Edge struct {
	ID           string         `json:"id"`
	Source       string         `json:"source"`
	Target       string         `json:"target"`
	SourceHandle string         `json:"sourceHandle,omitempty"`
	TargetHandle string         `json:"targetHandle,omitempty"`
	Type         EdgeType       `json:"type"`
	Label        string         `json:"label,omitempty"`
	Animated     bool           `json:"animated"`
	Data         map[string]any `json:"data,omitempty"`
	Style        string         `json:"style,omitempty"`
	LabelStyle   string         `json:"labelStyle,omitempty"`
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	c := *e
	c.Data = CloneData(e.Data)
	return &c
}

// CloneEdges deep-copies an edge slice.
func CloneEdges(edges []*Edge) []*Edge {
	if edges == nil {
		return nil
	}
	out := make([]*Edge, len(edges))
	for i, e := range edges {
		out[i] = e.Clone()
	}
	return out
}
