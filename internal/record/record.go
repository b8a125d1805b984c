package record

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// DomainSnapshot prefixes snapshot digests. The version suffix allows a
// future change of the canonical encoding.
const DomainSnapshot = "offsync/snapshot/v1"

// ErrDuplicateID is returned when a payload carries two records with the same id.
var ErrDuplicateID = errors.New("duplicate record id")

// Record is one element of the synchronized collection.
// Identity is ID; any fields besides id and name are kept in Fields.
type Record struct {
	ID     string
	Name   string
	Fields Object

	// Wire form of a decoded payload: a numeric id and a null name
	// encode back as they arrived.
	numericID bool
	nullName  bool
}

// Object returns the record as a JSON object including its extra fields.
func (r Record) Object() Object {
	obj := make(Object, len(r.Fields)+2)
	for k, v := range r.Fields {
		obj[k] = cloneValue(v)
	}
	if r.numericID {
		obj["id"] = Number(r.ID)
	} else {
		obj["id"] = String(r.ID)
	}
	if r.nullName && r.Name == "" {
		obj["name"] = Null{}
	} else {
		obj["name"] = String(r.Name)
	}
	return obj
}

// FromObject builds a Record from a decoded JSON object.
// Numeric ids are accepted and kept by their literal text.
func FromObject(obj Object) (Record, error) {
	var r Record
	switch id := obj["id"].(type) {
	case String:
		r.ID = string(id)
	case Number:
		r.ID = string(id)
		r.numericID = true
	case nil:
		return Record{}, fmt.Errorf("record has no id")
	default:
		return Record{}, fmt.Errorf("record id must be a string or number, got %T", id)
	}

	switch name := obj["name"].(type) {
	case String:
		r.Name = string(name)
	case Null:
		r.nullName = true
	case nil:
	default:
		return Record{}, fmt.Errorf("record %q: name must be a string, got %T", r.ID, name)
	}

	for k, v := range obj {
		if k == "id" || k == "name" {
			continue
		}
		if r.Fields == nil {
			r.Fields = make(Object)
		}
		r.Fields[k] = cloneValue(v)
	}
	return r, nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.Fields = r.Fields.Clone()
	return r
}

// MarshalJSON implements json.Marshaler using canonical form.
func (r Record) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(r.Object())
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(data []byte) error {
	var obj Object
	if err := obj.UnmarshalJSON(data); err != nil {
		return err
	}
	rec, err := FromObject(obj)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// Set is an ordered collection holding at most one Record per id.
// All update methods are pure: they return a new Set and leave the
// receiver untouched.
type Set []Record

// ParseSet decodes a JSON array of records.
func ParseSet(data []byte) (Set, error) {
	v, err := DecodeValue(data)
	if err != nil {
		return nil, fmt.Errorf("decode record set: %w", err)
	}
	arr, ok := v.(Array)
	if !ok {
		return nil, fmt.Errorf("decode record set: expected JSON array, got %T", v)
	}

	set := make(Set, 0, len(arr))
	for i, elem := range arr {
		obj, ok := elem.(Object)
		if !ok {
			return nil, fmt.Errorf("decode record set: element %d is %T, not an object", i, elem)
		}
		rec, err := FromObject(obj)
		if err != nil {
			return nil, fmt.Errorf("decode record set: element %d: %w", i, err)
		}
		set = append(set, rec)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// Validate checks that no id appears twice.
func (s Set) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, r := range s {
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateID, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// Index returns the position of id, or -1.
func (s Set) Index(id string) int {
	for i, r := range s {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// Get returns the record with the given id.
func (s Set) Get(id string) (Record, bool) {
	if i := s.Index(id); i >= 0 {
		return s[i].Clone(), true
	}
	return Record{}, false
}

// WithName returns a Set where the record with id carries name.
// An existing record keeps its position and extra fields; an unknown id is
// appended. prev and existed describe the record before the change.
func (s Set) WithName(id, name string) (next Set, prev Record, existed bool) {
	next = s.Clone()
	if i := next.Index(id); i >= 0 {
		prev = next[i].Clone()
		next[i].Name = name
		next[i].nullName = false
		return next, prev, true
	}
	return append(next, Record{ID: id, Name: name}), Record{}, false
}

// Without returns a Set with the record for id removed.
func (s Set) Without(id string) Set {
	next := make(Set, 0, len(s))
	for _, r := range s {
		if r.ID != id {
			next = append(next, r.Clone())
		}
	}
	return next
}

// Clone returns a deep copy of the set.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for i, r := range s {
		out[i] = r.Clone()
	}
	return out
}

// Canonical returns the canonical JSON encoding of the set.
// A nil set encodes as an empty array.
func (s Set) Canonical() ([]byte, error) {
	if s == nil {
		s = Set{}
	}
	return MarshalCanonical(s)
}

// MarshalJSON implements json.Marshaler using canonical form.
func (s Set) MarshalJSON() ([]byte, error) {
	return s.Canonical()
}

// UnmarshalJSON implements json.Unmarshaler and rejects duplicate ids.
func (s *Set) UnmarshalJSON(data []byte) error {
	set, err := ParseSet(data)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// Digest returns a domain-separated SHA-256 of the canonical encoding.
// Format: SHA256(domain + 0x00 + canonical)
func (s Set) Digest() (string, error) {
	data, err := s.Canonical()
	if err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(DomainSnapshot))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
