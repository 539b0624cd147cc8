package ddl

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Collection keeps entities of one kind unique by key while preserving insertion order.
type Collection[E Entity] struct {
	items []E
	index map[string]int
}

// Add inserts entity, rejecting a key that is already present.
func (c *Collection[E]) Add(entity E) error {
	if c.index == nil {
		c.index = map[string]int{}
	}
	key := entity.Key()
	if _, exists := c.index[key]; exists {
		return fmt.Errorf("%w: %s %q", ErrDuplicateKey, entity.Kind(), key)
	}
	c.index[key] = len(c.items)
	c.items = append(c.items, entity)
	return nil
}

// Get looks an entity up by key.
func (c *Collection[E]) Get(key string) (E, bool) {
	position, ok := c.index[key]
	if !ok {
		var zero E
		return zero, false
	}
	return c.items[position], true
}

// Has reports whether key is present.
func (c *Collection[E]) Has(key string) bool {
	_, ok := c.index[key]
	return ok
}

// Len returns the number of entities.
func (c *Collection[E]) Len() int {
	return len(c.items)
}

// All returns the entities in insertion order.
func (c *Collection[E]) All() []E {
	out := make([]E, len(c.items))
	copy(out, c.items)
	return out
}

// Sorted returns the entities ordered by key.
func (c *Collection[E]) Sorted() []E {
	out := c.All()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Where returns the entities, in insertion order, accepted by keep.
func (c *Collection[E]) Where(keep func(E) bool) []E {
	var out []E
	for _, item := range c.items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

// Replace swaps the entity stored under oldKey for entity, keeping its position.
func (c *Collection[E]) Replace(oldKey string, entity E) {
	position, ok := c.index[oldKey]
	if !ok {
		return
	}
	delete(c.index, oldKey)
	c.items[position] = entity
	c.index[entity.Key()] = position
}

// Delete removes the entity stored under key.
func (c *Collection[E]) Delete(key string) {
	position, ok := c.index[key]
	if !ok {
		return
	}
	c.items = append(c.items[:position], c.items[position+1:]...)
	delete(c.index, key)
	for index := position; index < len(c.items); index++ {
		c.index[c.items[index].Key()] = index
	}
}

// Clone returns an independent copy of the collection.
func (c *Collection[E]) Clone() Collection[E] {
	clone := Collection[E]{items: c.All(), index: make(map[string]int, len(c.index))}
	for key, position := range c.index {
		clone.index[key] = position
	}
	return clone
}

// EqualCollections compares two collections entity by entity, ignoring order.
func EqualCollections[E Entity](a, b *Collection[E]) bool {
	if a.Len() != b.Len() {
		return false
	}
	for _, entity := range a.items {
		other, ok := b.Get(entity.Key())
		if !ok || !Equal(entity, other) {
			return false
		}
	}
	return true
}

// NewID returns a fresh snapshot identifier.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Rewrite applies fn to every entity and stores the results that fn marks as changed.
func Rewrite[E Entity](c *Collection[E], fn func(E) (E, bool)) {
	for _, entity := range c.All() {
		key := entity.Key()
		if updated, changed := fn(entity); changed {
			c.Replace(key, updated)
		}
	}
}
