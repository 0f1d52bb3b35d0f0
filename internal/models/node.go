// Package models defines the core domain types: canvas nodes and edges,
// workspace metadata and manifests, vault and canvas bookkeeping records,
// and app-level state. Types here are plain data; persistence lives in
// the storage packages.
package models

// NodeType identifies the kind of a canvas node. It selects which field of
// the node's data map is the primary content (the part persisted as a raw
// content artifact rather than inside properties.json).
type NodeType string

const (
	// NodeNote is a markdown sticky note.
	NodeNote NodeType = "note"
	// NodeText is a plain text label.
	NodeText NodeType = "text"
	// NodeTodo is a markdown checklist.
	NodeTodo NodeType = "todo"
	// NodeTable is a markdown table.
	NodeTable NodeType = "table"
	// NodeCode is a source code block.
	NodeCode NodeType = "code"
	// NodeLatex is a TeX formula.
	NodeLatex NodeType = "latex"
	// NodeLink is a plain URL.
	NodeLink NodeType = "link"
	// NodeBookmark is a URL with preview metadata.
	NodeBookmark NodeType = "bookmark"
	// NodeIframe is an embedded web view.
	NodeIframe NodeType = "iframe"
	// NodeImage is an image reference.
	NodeImage NodeType = "image"
	// NodeVideo is a video reference.
	NodeVideo NodeType = "video"
	// NodeAudio is an audio reference.
	NodeAudio NodeType = "audio"
	// NodeAttachment is a stored file reference.
	NodeAttachment NodeType = "attachment"
	// NodeDrawing is freehand stroke data.
	NodeDrawing NodeType = "drawing"
	// NodeSticker is a single emoji glyph.
	NodeSticker NodeType = "sticker"
	// NodeHash is a tag marker.
	NodeHash NodeType = "hash"
	// NodeGroup is a container for other nodes.
	NodeGroup NodeType = "group"
	// NodeFrame is a titled framing rectangle.
	NodeFrame NodeType = "frame"
	// NodeShape is a geometric shape with a caption.
	NodeShape NodeType = "shape"
)

// primaryFields maps each node type to the data key holding its primary
// content. Exactly one key per type; everything else in data is a property.
var primaryFields = map[NodeType]string{
	NodeNote:       "content",
	NodeText:       "text",
	NodeTodo:       "content",
	NodeTable:      "content",
	NodeCode:       "code",
	NodeLatex:      "formula",
	NodeLink:       "url",
	NodeBookmark:   "url",
	NodeIframe:     "url",
	NodeImage:      "src",
	NodeVideo:      "src",
	NodeAudio:      "src",
	NodeAttachment: "path",
	NodeDrawing:    "paths",
	NodeSticker:    "emoji",
	NodeHash:       "hash",
	NodeGroup:      "label",
	NodeFrame:      "label",
	NodeShape:      "label",
}

// PrimaryField returns the data key holding the type's primary content and
// whether the type is known.
func (t NodeType) PrimaryField() (string, bool) {
	f, ok := primaryFields[t]
	return f, ok
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	_, ok := primaryFields[t]
	return ok
}

// NodeTypes returns all known node types. The order is unspecified.
func NodeTypes() []NodeType {
	types := make([]NodeType, 0, len(primaryFields))
	for t := range primaryFields {
		types = append(types, t)
	}
	return types
}

// Position is a point on the canvas. Grouped nodes store positions relative
// to their parent group.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a single canvas element.
//
// Data carries the shared cosmetic fields (color, border, opacity, locked)
// plus the type's primary content field. ParentID, when set, must reference
// a node of type group, and the node then carries Extent "parent".
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Position Position       `json:"position"`
	Width    float64        `json:"width,omitempty"`
	Height   float64        `json:"height,omitempty"`
	ZIndex   int            `json:"zIndex"`
	ParentID string         `json:"parentId,omitempty"`
	Extent   string         `json:"extent,omitempty"`
	Data     map[string]any `json:"data"`
}

// DefaultZIndex is applied when a stored node has no z-index.
const DefaultZIndex = 1

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	c := *n
	c.Data = CloneData(n.Data)
	return &c
}

// CloneNodes deep-copies a node slice.
func CloneNodes(nodes []*Node) []*Node {
	if nodes == nil {
		return nil
	}
	out := make([]*Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// CloneData deep-copies a data map, including nested maps and slices.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneData(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
