package connector

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// bodyShape classifies raw feed bytes by first non-whitespace byte.
type bodyShape int

const (
	shapeCSVOrTSV bodyShape = iota
	shapeJSON
	shapeXML
)

func detectShape(body []byte) bodyShape {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return shapeCSVOrTSV
	}
	switch trimmed[0] {
	case '<':
		return shapeXML
	case '{', '[':
		return shapeJSON
	default:
		return shapeCSVOrTSV
	}
}

// jsonArrayKeys is the unwrap order for a JSON object whose value holds the
// record array.
var jsonArrayKeys = []string{"products", "items", "data", "offers"}

// unwrapJSON decodes body into a slice of raw records. A top-level array is
// used directly; an object is searched for one of jsonArrayKeys; a bare
// object with none of those keys is treated as a single record.
func unwrapJSON(body []byte) ([]map[string]any, error) {
	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}

	switch v := generic.(type) {
	case []any:
		return toRecordSlice(v), nil
	case map[string]any:
		for _, key := range jsonArrayKeys {
			if arr, ok := v[key].([]any); ok {
				return toRecordSlice(arr), nil
			}
		}
		return []map[string]any{v}, nil
	default:
		return nil, fmt.Errorf("unexpected top-level json shape")
	}
}

func toRecordSlice(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// xmlContainerPaths are tried in order when unwrapping XML.
var xmlContainerPaths = [][]string{
	{"products", "product"},
	{"catalog", "product"},
	{"feed", "products", "product"},
	{"offers", "offer"},
}

// unwrapXML decodes body into a slice of raw records by walking the
// document for the first matching container path and flattening each of
// its repeated child elements into a field map.
func unwrapXML(body []byte) ([]map[string]any, error) {
	root, err := decodeXMLNode(body)
	if err != nil {
		return nil, fmt.Errorf("xml decode: %w", err)
	}

	for _, path := range xmlContainerPaths {
		if items := findXMLItems(root, path); items != nil {
			out := make([]map[string]any, 0, len(items))
			for _, item := range items {
				out = append(out, xmlNodeToMap(item))
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("no recognized container path found")
}

// xmlNode is a minimal in-memory XML tree: a tag name, its text content,
// and its child elements in document order.
type xmlNode struct {
	Name     string
	Text     string
	Children []*xmlNode
}

func decodeXMLNode(body []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var root *xmlNode
	var stack []*xmlNode

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			node := &xmlNode{Name: t.Name.Local}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			} else {
				root = node
			}
			stack = append(stack, node)
		case xml.CharData:
			if len(stack) > 0 {
				text := strings.TrimSpace(string(t))
				if text != "" {
					stack[len(stack)-1].Text += text
				}
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("empty document")
	}
	return root, nil
}

// findXMLItems walks from root through a dotted container path
// (e.g. products/product) and returns every element matching the final
// path segment, wherever it recurs under the matched container.
func findXMLItems(root *xmlNode, path []string) []*xmlNode {
	if len(path) == 0 {
		return nil
	}
	container := root
	if root.Name != path[0] {
		container = findChild(root, path[0])
		if container == nil {
			return nil
		}
	}
	itemName := path[len(path)-1]
	var items []*xmlNode
	var walk func(n *xmlNode)
	walk = func(n *xmlNode) {
		for _, c := range n.Children {
			if c.Name == itemName {
				items = append(items, c)
			}
			walk(c)
		}
	}
	walk(container)
	if len(items) == 0 {
		return nil
	}
	return items
}

func findChild(n *xmlNode, name string) *xmlNode {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
		if found := findChild(c, name); found != nil {
			return found
		}
	}
	return nil
}

func xmlNodeToMap(n *xmlNode) map[string]any {
	m := make(map[string]any)
	if len(n.Children) == 0 {
		if n.Text != "" {
			m[n.Name] = n.Text
		}
		return m
	}
	for _, c := range n.Children {
		if len(c.Children) == 0 {
			m[c.Name] = c.Text
		} else {
			m[c.Name] = xmlNodeToMap(c)
		}
	}
	return m
}

// unwrapDelimited decodes a CSV or TSV body, auto-detecting the delimiter
// by comparing tab vs. comma counts in the first line, relaxing the column
// count, preserving quoted commas, skipping empty lines, and trimming
// whitespace.
func unwrapDelimited(body []byte) ([]map[string]any, error) {
	text := string(body)
	firstLine := text
	if idx := strings.IndexAny(text, "\r\n"); idx >= 0 {
		firstLine = text[:idx]
	}

	delimiter := ','
	if strings.Count(firstLine, "\t") > strings.Count(firstLine, ",") {
		delimiter = '\t'
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := readNonEmptyRecord(reader)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	var out []map[string]any
	for {
		row, err := readNonEmptyRecord(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		rec := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(row) {
				rec[h] = strings.TrimSpace(row[i])
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func readNonEmptyRecord(reader *csv.Reader) ([]string, error) {
	for {
		row, err := reader.Read()
		if err != nil {
			return nil, err
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		return row, nil
	}
}

// Unwrap dispatches raw feed bytes to the right format decoder based on the
// first non-whitespace byte, returning one raw-field map per record.
func Unwrap(body []byte) ([]map[string]any, error) {
	switch detectShape(body) {
	case shapeXML:
		return unwrapXML(body)
	case shapeJSON:
		return unwrapJSON(body)
	default:
		return unwrapDelimited(body)
	}
}
