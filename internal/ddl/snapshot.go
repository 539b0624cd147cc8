package ddl

import "errors"

// ErrDuplicateKey is returned when an entity key is inserted twice into one snapshot.
var ErrDuplicateKey = errors.New("duplicate entity key")

// Header carries the chain identity shared by every snapshot format.
type Header struct {
	Version string `json:"version"`
	Dialect string `json:"dialect"`
	ID      string `json:"id"`
	PrevID  string `json:"prevId"`
}

// Renames maps old keys to new keys for entities renamed since the previous snapshot.
type Renames struct {
	Schemas map[string]string `json:"schemas"`
	Tables  map[string]string `json:"tables"`
	Columns map[string]string `json:"columns"`
}

// NewRenames returns a Renames value with all maps allocated.
func NewRenames() Renames {
	return Renames{
		Schemas: map[string]string{},
		Tables:  map[string]string{},
		Columns: map[string]string{},
	}
}

// IsEmpty reports whether no rename is recorded.
func (r Renames) IsEmpty() bool {
	return len(r.Schemas) == 0 && len(r.Tables) == 0 && len(r.Columns) == 0
}

// Normalize allocates nil maps so the JSON form always carries objects.
func (r Renames) Normalize() Renames {
	if r.Schemas == nil {
		r.Schemas = map[string]string{}
	}
	if r.Tables == nil {
		r.Tables = map[string]string{}
	}
	if r.Columns == nil {
		r.Columns = map[string]string{}
	}
	return r
}

// Pairs returns the entries of m ordered by old key.
func Pairs(m map[string]string) [][2]string {
	keys := sortedKeys(m)
	pairs := make([][2]string, len(keys))
	for index, key := range keys {
		pairs[index] = [2]string{key, m[key]}
	}
	return pairs
}
