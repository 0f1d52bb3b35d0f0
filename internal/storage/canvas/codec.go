package canvas

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mosaicflow/mosaic/internal/models"
)

// The codec splits a node between its two on-disk artifacts: the primary
// content field goes to the raw content file, everything else (remaining
// data fields plus geometry) goes to properties.json. Edges serialize as
// one joined object. All functions are pure; no I/O happens here.

// ExtractContent returns the node's primary content value as text. An
// absent or empty primary field yields the empty string.
func ExtractContent(t models.NodeType, data map[string]any) (string, error) {
	field, ok := t.PrimaryField()
	if !ok {
		return "", fmt.Errorf("unknown node type %q", t)
	}
	v, ok := data[field]
	if !ok || v == nil {
		return "", nil
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	// Legacy documents occasionally hold structured primary values.
	// They are carried as canonical JSON text from then on.
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to serialize %s field: %w", field, err)
	}
	return string(raw), nil
}

// ExtractProperties returns everything except the primary content field:
// a clone of data with the primary field removed and the geometry fields
// merged in.
func ExtractProperties(n *models.Node) (map[string]any, error) {
	field, ok := n.Type.PrimaryField()
	if !ok {
		return nil, fmt.Errorf("unknown node type %q", n.Type)
	}
	props := models.CloneData(n.Data)
	if props == nil {
		props = make(map[string]any)
	}
	delete(props, field)

	props["position"] = map[string]any{"x": n.Position.X, "y": n.Position.Y}
	if n.Width != 0 {
		props["width"] = n.Width
	}
	if n.Height != 0 {
		props["height"] = n.Height
	}
	z := n.ZIndex
	if z == 0 {
		z = models.DefaultZIndex
	}
	props["zIndex"] = z
	if n.ParentID != "" {
		props["parentId"] = n.ParentID
	}
	if n.Extent != "" {
		props["extent"] = n.Extent
	}
	return props, nil
}

// ApplyContent writes the primary content field back into data. Empty
// content is left absent so a cleared field never grows a fabricated
// default on reload.
func ApplyContent(t models.NodeType, data map[string]any, content string) {
	field, ok := t.PrimaryField()
	if !ok || content == "" {
		return
	}
	data[field] = content
}

// NodeFromParts recombines a properties object and a content value into
// a node. Geometry fields are lifted out of the properties map; whatever
// remains becomes data. Notes always come back in view mode.
func NodeFromParts(id string, t models.NodeType, props map[string]any, content string) (*models.Node, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown node type %q", t)
	}
	n := &models.Node{ID: id, Type: t, ZIndex: models.DefaultZIndex}
	data := make(map[string]any, len(props))
	for k, v := range props {
		switch k {
		case "position":
			if m, ok := v.(map[string]any); ok {
				n.Position.X = floatValue(m["x"])
				n.Position.Y = floatValue(m["y"])
			}
		case "width":
			n.Width = floatValue(v)
		case "height":
			n.Height = floatValue(v)
		case "zIndex":
			if z := int(floatValue(v)); z != 0 {
				n.ZIndex = z
			}
		case "parentId":
			n.ParentID, _ = v.(string)
		case "extent":
			n.Extent, _ = v.(string)
		default:
			data[k] = v
		}
	}
	ApplyContent(t, data, content)
	if t == models.NodeNote {
		data["viewMode"] = "view"
	}
	n.Data = data
	return n, nil
}

// EncodeEdge serializes an edge as its joined on-disk object. The
// derived style fields are stripped so they can never diverge from the
// data they are computed from.
func EncodeEdge(e *models.Edge) ([]byte, error) {
	disk := e.Clone()
	disk.Style = ""
	disk.LabelStyle = ""
	if disk.Type == "" {
		disk.Type = models.EdgeDefault
	}
	data, err := json.MarshalIndent(disk, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal edge %s: %w", e.ID, err)
	}
	return data, nil
}

// DecodeEdge parses a joined edge object and recomputes the derived
// style fields.
func DecodeEdge(data []byte) (*models.Edge, error) {
	var e models.Edge
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal edge: %w", err)
	}
	if e.Type == "" {
		e.Type = models.EdgeDefault
	}
	DeriveEdgeStyle(&e)
	return &e, nil
}

// DeriveEdgeStyle computes the style and labelStyle strings from the
// edge's data fields. The derivation is deterministic so repeated
// save/load cycles are stable.
func DeriveEdgeStyle(e *models.Edge) {
	var parts []string
	if color, ok := e.Data["color"].(string); ok && color != "" {
		parts = append(parts, "stroke:"+color)
	}
	if w := floatValue(e.Data["strokeWidth"]); w > 0 {
		parts = append(parts, fmt.Sprintf("stroke-width:%g", w))
	}
	switch e.Data["strokeStyle"] {
	case "dashed":
		parts = append(parts, "stroke-dasharray:8 4")
	case "dotted":
		parts = append(parts, "stroke-dasharray:2 3")
	}
	e.Style = strings.Join(parts, ";")

	e.LabelStyle = ""
	if color, ok := e.Data["labelColor"].(string); ok && color != "" {
		e.LabelStyle = "fill:" + color
	}
}

func floatValue(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	}
	return 0
}
