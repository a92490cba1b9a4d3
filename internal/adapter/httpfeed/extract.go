package httpfeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/beevik/etree"
)

// node is a parsed response, or one item within it, that paths are
// evaluated against.
type node interface {
	// value returns the scalar at path. ok is false when nothing is there.
	value(path string) (v string, ok bool, err error)
	// items returns the nodes selected by path, or errNoItems when the
	// container the path points into does not exist.
	items(path string) ([]node, error)
}

// errNoItems marks a page without the transaction list, as opposed to an
// empty one.
var errNoItems = errors.New("items not found")

func parse(format string, data []byte) (node, error) {
	if format == FormatXML {
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(data); err != nil {
			return nil, fmt.Errorf("parsing XML: %w", err)
		}
		return xmlNode{el: &doc.Element}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	return jsonNode{v: v}, nil
}

// checkPath reports a syntax error in path before any request is made.
func checkPath(format, path string) error {
	if path == "" {
		return nil
	}
	if format == FormatXML {
		elPath, _ := splitAttr(path)
		if elPath == "" {
			return nil
		}
		if _, err := etree.CompilePath(elPath); err != nil {
			return fmt.Errorf("invalid XML path %q: %w", path, err)
		}
		return nil
	}
	if _, err := jsonpath.New(path); err != nil {
		return fmt.Errorf("invalid JSONPath %q: %w", path, err)
	}
	return nil
}

type jsonNode struct {
	v any
}

func (n jsonNode) value(path string) (string, bool, error) {
	r, err := jsonpath.Get(path, n.v)
	if err != nil {
		// unknown keys and out of range indexes mean the value is absent
		return "", false, nil
	}

	// a path with a wildcard or filter returns a list; keep the first match
	if list, ok := r.([]any); ok {
		if len(list) == 0 {
			return "", false, nil
		}
		r = list[0]
	}

	switch x := r.(type) {
	case nil:
		return "", false, nil
	case string:
		return x, true, nil
	case json.Number:
		return x.String(), true, nil
	case bool:
		return strconv.FormatBool(x), true, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true, nil
	}
	return "", false, fmt.Errorf("value at %s is not a scalar: %T", path, r)
}

func (n jsonNode) items(path string) ([]node, error) {
	r, err := jsonpath.Get(path, n.v)
	if err != nil || r == nil {
		return nil, errNoItems
	}
	list, ok := r.([]any)
	if !ok {
		return nil, fmt.Errorf("items at %s is not a list: %T", path, r)
	}

	out := make([]node, len(list))
	for i, v := range list {
		out[i] = jsonNode{v: v}
	}
	return out, nil
}

type xmlNode struct {
	el *etree.Element
}

// splitAttr splits "./Amount/@currency" into "./Amount" and "currency".
func splitAttr(path string) (elPath, attr string) {
	if strings.HasPrefix(path, "@") {
		return "", path[1:]
	}
	if i := strings.LastIndex(path, "/@"); i >= 0 {
		return path[:i], path[i+2:]
	}
	return path, ""
}

func (n xmlNode) value(path string) (string, bool, error) {
	elPath, attr := splitAttr(path)

	el := n.el
	if elPath != "" && elPath != "." {
		el = n.el.FindElement(elPath)
		if el == nil {
			return "", false, nil
		}
	}

	if attr != "" {
		a := el.SelectAttr(attr)
		if a == nil {
			return "", false, nil
		}
		return a.Value, true, nil
	}
	return strings.TrimSpace(el.Text()), true, nil
}

func (n xmlNode) items(path string) ([]node, error) {
	els := n.el.FindElements(path)
	if len(els) == 0 {
		// "./Statement/Txn" needs a Statement element; descendant paths
		// such as "//Txn" cannot tell a missing list from an empty one.
		if i := strings.LastIndex(path, "/"); i > 0 && path[i-1] != '/' {
			if parent := path[:i]; parent != "." && n.el.FindElement(parent) == nil {
				return nil, errNoItems
			}
		}
	}
	out := make([]node, len(els))
	for i, el := range els {
		out[i] = xmlNode{el: el}
	}
	return out, nil
}
