// Package jsonapi provides the typed envelope for provider responses and the
// lookup helpers mappers use to read loosely-shaped payloads.
package jsonapi

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// Step is returned by page visitors to continue or halt pagination.
type Step int

const (
	// Continue asks the paginator to follow the next link.
	Continue Step = iota
	// Stop halts pagination after the current page.
	Stop
)

func (s Step) String() string {
	if s == Stop {
		return "stop"
	}
	return "continue"
}

// Visitor is invoked once per fetched page.
type Visitor func(doc *Document) (Step, error)

// Kind tags which member of a primary-data union is populated.
type Kind int

const (
	KindNone Kind = iota
	KindOne
	KindMany
)

// Document is a provider response body.
type Document struct {
	Data     PrimaryData    `json:"data"`
	Included []Resource     `json:"included,omitempty"`
	Links    Links          `json:"links,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// Decode parses a response body into a Document.
func Decode(body []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return &doc, nil
}

// Index builds the included-resource index for this document.
func (d *Document) Index() Index {
	return IndexIncluded(d.Included)
}

// PrimaryData is the top-level "data" member: absent/null, one resource or
// an array of resources.
type PrimaryData struct {
	Kind Kind
	One  *Resource
	Many []Resource
}

// UnmarshalJSON decodes null, an object or an array.
func (p *PrimaryData) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*p = PrimaryData{Kind: KindNone}
	case trimmed[0] == '{':
		var r Resource
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return err
		}
		*p = PrimaryData{Kind: KindOne, One: &r}
	case trimmed[0] == '[':
		var rs []Resource
		if err := json.Unmarshal(trimmed, &rs); err != nil {
			return err
		}
		*p = PrimaryData{Kind: KindMany, Many: rs}
	default:
		return fmt.Errorf("unexpected primary data: %.40s", string(trimmed))
	}
	return nil
}

// MarshalJSON encodes the populated member.
func (p PrimaryData) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case KindOne:
		return json.Marshal(p.One)
	case KindMany:
		if p.Many == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(p.Many)
	default:
		return []byte("null"), nil
	}
}

// Resources returns the primary data as a slice regardless of its shape.
func (p PrimaryData) Resources() []Resource {
	switch p.Kind {
	case KindOne:
		return []Resource{*p.One}
	case KindMany:
		return p.Many
	default:
		return nil
	}
}

// Resource is one JSON:API resource object.
type Resource struct {
	ID            string                  `json:"id"`
	Type          string                  `json:"type"`
	Attributes    Attributes              `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
}

// UnmarshalJSON accepts numeric ids and normalizes them to strings.
func (r *Resource) UnmarshalJSON(b []byte) error {
	var aux struct {
		ID            json.RawMessage         `json:"id"`
		Type          string                  `json:"type"`
		Attributes    Attributes              `json:"attributes"`
		Relationships map[string]Relationship `json:"relationships"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	id, err := decodeID(aux.ID)
	if err != nil {
		return err
	}
	*r = Resource{ID: id, Type: aux.Type, Attributes: aux.Attributes, Relationships: aux.Relationships}
	return nil
}

// Rel returns the first relationship found under any of names, tolerating
// hyphen and underscore spellings.
func (r *Resource) Rel(names ...string) (Relationship, bool) {
	if r == nil || len(r.Relationships) == 0 {
		return Relationship{}, false
	}
	for _, name := range names {
		for _, key := range keyVariants(name) {
			if rel, ok := r.Relationships[key]; ok {
				return rel, true
			}
		}
	}
	return Relationship{}, false
}

// RelID returns the id of a to-one relationship, or "".
func (r *Resource) RelID(names ...string) string {
	rel, ok := r.Rel(names...)
	if !ok {
		return ""
	}
	if ident := rel.Data.First(); ident != nil {
		return ident.ID
	}
	return ""
}

// Identifier is a resource linkage {type, id}.
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// UnmarshalJSON accepts numeric ids.
func (i *Identifier) UnmarshalJSON(b []byte) error {
	var aux struct {
		Type string          `json:"type"`
		ID   json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	id, err := decodeID(aux.ID)
	if err != nil {
		return err
	}
	*i = Identifier{Type: aux.Type, ID: id}
	return nil
}

// Relationship is a relationship object; only its linkage is used.
type Relationship struct {
	Data Linkage `json:"data"`
}

// Linkage is null, one identifier or an array of identifiers.
type Linkage struct {
	Kind Kind
	One  *Identifier
	Many []Identifier
}

// UnmarshalJSON decodes null, an object or an array.
func (l *Linkage) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*l = Linkage{Kind: KindNone}
	case trimmed[0] == '{':
		var ident Identifier
		if err := json.Unmarshal(trimmed, &ident); err != nil {
			return err
		}
		*l = Linkage{Kind: KindOne, One: &ident}
	case trimmed[0] == '[':
		var idents []Identifier
		if err := json.Unmarshal(trimmed, &idents); err != nil {
			return err
		}
		*l = Linkage{Kind: KindMany, Many: idents}
	default:
		return fmt.Errorf("unexpected relationship data: %.40s", string(trimmed))
	}
	return nil
}

// MarshalJSON encodes the populated member.
func (l Linkage) MarshalJSON() ([]byte, error) {
	switch l.Kind {
	case KindOne:
		return json.Marshal(l.One)
	case KindMany:
		if l.Many == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(l.Many)
	default:
		return []byte("null"), nil
	}
}

// First returns the single identifier, or the first of many.
func (l Linkage) First() *Identifier {
	switch l.Kind {
	case KindOne:
		return l.One
	case KindMany:
		if len(l.Many) > 0 {
			return &l.Many[0]
		}
	}
	return nil
}

// All returns every identifier in the linkage.
func (l Linkage) All() []Identifier {
	switch l.Kind {
	case KindOne:
		return []Identifier{*l.One}
	case KindMany:
		return l.Many
	default:
		return nil
	}
}

// Links holds pagination links. Values may be plain strings or {"href": ...}.
type Links struct {
	Self  string `json:"self,omitempty"`
	Next  string `json:"next,omitempty"`
	Prev  string `json:"prev,omitempty"`
	First string `json:"first,omitempty"`
	Last  string `json:"last,omitempty"`
}

// UnmarshalJSON accepts string and link-object forms.
func (l *Links) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	get := func(key string) string {
		v, ok := raw[key]
		if !ok {
			return ""
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		var obj struct {
			Href string `json:"href"`
		}
		if err := json.Unmarshal(v, &obj); err == nil {
			return obj.Href
		}
		return ""
	}
	*l = Links{Self: get("self"), Next: get("next"), Prev: get("prev"), First: get("first"), Last: get("last")}
	return nil
}

func decodeID(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", fmt.Errorf("invalid resource id %s: %w", string(trimmed), err)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}
