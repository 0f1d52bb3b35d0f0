// Package jsonldb stores append-mostly records as JSON Lines files with a
// self-describing schema header. The first line of every file is a header
// row carrying the format version and the column layout reflected from the
// record type; data rows follow, one JSON object per line.
package jsonldb

import (
	"bufio"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
)

// formatVersion is written into every schema header.
const formatVersion = "1.0"

// Cloner is implemented by record types that can copy themselves. All
// reads return clones so callers cannot mutate cached rows.
type Cloner[T any] interface {
	Clone() T
}

// columnType classifies a column for the schema header.
type columnType string

const (
	columnText   columnType = "text"
	columnNumber columnType = "number"
	columnBool   columnType = "bool"
	columnDate   columnType = "date"
	columnJSON   columnType = "json"
)

// column describes one record field in the schema header.
type column struct {
	Name        string     `json:"name"`
	Type        columnType `json:"type"`
	Required    bool       `json:"required,omitempty"`
	Description string     `json:"description,omitempty"`
}

// header is the first line of a table file.
type header struct {
	Format  string   `json:"jsonl"`
	Columns []column `json:"columns"`
}

// Table is a JSONL-backed record log with an in-memory cache.
type Table[T Cloner[T]] struct {
	path string
	hdr  header
	mu   sync.RWMutex
	rows []T
}

// NewTable opens or creates the table at path and loads all rows.
func NewTable[T Cloner[T]](path string) (*Table[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	cols, err := columnsFromType[T]()
	if err != nil {
		return nil, err
	}
	t := &Table[T]{
		path: path,
		hdr:  header{Format: formatVersion, Columns: cols},
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table[T]) load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.rows = []T{}
			return nil
		}
		return fmt.Errorf("failed to open table file %s: %w", t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var rows []T
	first := true
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			var h header
			if err := json.Unmarshal(line, &h); err == nil && h.Format != "" {
				continue // schema header, not a row
			}
		}
		var row T
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("failed to unmarshal row in %s: %w", t.path, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read table file %s: %w", t.path, err)
	}

	t.rows = rows
	return nil
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Last returns a clone of the last row, or false if the table is empty.
func (t *Table[T]) Last() (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.rows) == 0 {
		var zero T
		return zero, false
	}
	return t.rows[len(t.rows)-1].Clone(), true
}

// All returns an iterator over clones of all rows in insertion order.
func (t *Table[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		t.mu.RLock()
		defer t.mu.RUnlock()
		for _, row := range t.rows {
			if !yield(row.Clone()) {
				return
			}
		}
	}
}

// Append adds a row and persists it. The schema header is written first
// when the file does not exist yet.
func (t *Table[T]) Append(row T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}

	_, statErr := os.Stat(t.path)
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G302: data files are not secrets
	if err != nil {
		return fmt.Errorf("failed to open table file for append: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if os.IsNotExist(statErr) {
		if err := writeHeaderLine(f, &t.hdr); err != nil {
			return err
		}
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	t.rows = append(t.rows, row)
	return nil
}

// Replace rewrites the whole file with the provided rows. Used for
// compaction.
func (t *Table[T]) Replace(rows []T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("failed to create table file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	w := bufio.NewWriter(f)
	if err := writeHeaderLine(w, &t.hdr); err != nil {
		return err
	}
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}

	t.rows = rows
	return nil
}

type stringWriter interface {
	Write(p []byte) (int, error)
	WriteString(s string) (int, error)
}

func writeHeaderLine(w stringWriter, h *header) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal schema header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write schema header: %w", err)
	}
	if _, err := w.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write schema header: %w", err)
	}
	return nil
}

// columnsFromType reflects the record type into schema header columns.
//
// Field descriptions come from `jsonschema:"description=..."` struct tags
// and required fields from the reflected schema.
func columnsFromType[T any]() ([]column, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("record type must be a struct, got %s", t.Kind())
	}

	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	schema := r.ReflectFromType(t)

	required := make(map[string]bool)
	for _, name := range schema.Required {
		required[name] = true
	}

	var cols []column
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		name := pair.Key
		ct := columnText
		for i := range t.NumField() {
			field := t.Field(i)
			if jsonFieldName(&field) == name {
				ct = goColumnType(field.Type)
				break
			}
		}
		cols = append(cols, column{
			Name:        name,
			Type:        ct,
			Required:    required[name],
			Description: pair.Value.Description,
		})
	}
	return cols, nil
}

// jsonFieldName returns the effective JSON key for a struct field.
func jsonFieldName(field *reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" || tag == "-" {
		return field.Name
	}
	for i, c := range tag {
		if c == ',' {
			if i == 0 {
				return field.Name
			}
			return tag[:i]
		}
	}
	return tag
}

// goColumnType maps a Go type to its schema header column type.
func goColumnType(t reflect.Type) columnType {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == reflect.TypeFor[time.Time]() {
		return columnDate
	}
	switch t.Kind() {
	case reflect.String:
		return columnText
	case reflect.Bool:
		return columnBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return columnNumber
	default:
		return columnJSON
	}
}
