package ddl

import "sort"

// DiffType classifies an EntityDiff.
type DiffType string

const (
	Create DiffType = "create"
	Alter  DiffType = "alter"
	Drop   DiffType = "drop"
)

// EntityDiff is one entity level change between two snapshots.
// Before is nil for Create and After is nil for Drop.
type EntityDiff struct {
	Kind        Kind
	Type        DiffType
	Name        string
	Key         string
	Before      Entity
	After       Entity
	Changes     []FieldChange
	RenamedFrom string
}

// IsRename reports whether the diff records an explicit rename.
func (d EntityDiff) IsRename() bool {
	return d.Type == Alter && d.RenamedFrom != ""
}

// Entity returns the payload describing the entity after the change, or before it for drops.
func (d EntityDiff) Entity() Entity {
	if d.After != nil {
		return d.After
	}
	return d.Before
}

// Changed reports whether field is part of the recorded changes.
func (d EntityDiff) Changed(field string) bool {
	for _, change := range d.Changes {
		if change.Field == field {
			return true
		}
	}
	return false
}

// NewCreate builds a Create diff.
func NewCreate(entity Entity) EntityDiff {
	return EntityDiff{Kind: entity.Kind(), Type: Create, Name: entity.EntityName(), Key: entity.Key(), After: entity}
}

// NewDrop builds a Drop diff.
func NewDrop(entity Entity) EntityDiff {
	return EntityDiff{Kind: entity.Kind(), Type: Drop, Name: entity.EntityName(), Key: entity.Key(), Before: entity}
}

// NewAlter builds an Alter diff; ok is false when the two versions are structurally equal.
func NewAlter(before, after Entity) (EntityDiff, bool) {
	changes := Compare(before, after)
	if len(changes) == 0 {
		return EntityDiff{}, false
	}
	return EntityDiff{
		Kind:    after.Kind(),
		Type:    Alter,
		Name:    after.EntityName(),
		Key:     after.Key(),
		Before:  before,
		After:   after,
		Changes: changes,
	}, true
}

// NewRename builds the single Alter diff that replaces a Drop and Create pair.
func NewRename(before, after Entity) EntityDiff {
	return EntityDiff{
		Kind:        after.Kind(),
		Type:        Alter,
		Name:        after.EntityName(),
		Key:         after.Key(),
		Before:      before,
		After:       after,
		Changes:     []FieldChange{{Field: "name", Old: before.EntityName(), New: after.EntityName()}},
		RenamedFrom: before.Key(),
	}
}

// KeyedDiff groups the outcome of comparing two keyed collections of one kind.
type KeyedDiff struct {
	Creates []EntityDiff
	Alters  []EntityDiff
	Drops   []EntityDiff
}

// All returns drops, then creates, then alters.
func (k KeyedDiff) All() []EntityDiff {
	out := make([]EntityDiff, 0, len(k.Creates)+len(k.Alters)+len(k.Drops))
	out = append(out, k.Drops...)
	out = append(out, k.Creates...)
	out = append(out, k.Alters...)
	return out
}

// DiffKeyed compares two collections by key. Each group is sorted by key.
func DiffKeyed[E Entity](prev, cur []E) KeyedDiff {
	prevByKey := make(map[string]E, len(prev))
	for _, entity := range prev {
		prevByKey[entity.Key()] = entity
	}
	curByKey := make(map[string]E, len(cur))
	for _, entity := range cur {
		curByKey[entity.Key()] = entity
	}

	var result KeyedDiff
	for _, key := range sortedKeys(curByKey) {
		after := curByKey[key]
		before, ok := prevByKey[key]
		if !ok {
			result.Creates = append(result.Creates, NewCreate(after))
			continue
		}
		if diff, changed := NewAlter(before, after); changed {
			result.Alters = append(result.Alters, diff)
		}
	}
	for _, key := range sortedKeys(prevByKey) {
		if _, ok := curByKey[key]; !ok {
			result.Drops = append(result.Drops, NewDrop(prevByKey[key]))
		}
	}
	return result
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Filter returns the diffs for which keep returns true.
func Filter(diffs []EntityDiff, keep func(EntityDiff) bool) []EntityDiff {
	var out []EntityDiff
	for _, diff := range diffs {
		if keep(diff) {
			out = append(out, diff)
		}
	}
	return out
}
