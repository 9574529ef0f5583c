// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package flux

// SchemaCache is a session-scoped bidirectional map between numeric
// schema ids and Schema values, indexed additionally by structural
// fingerprint so repeated inference of the same shape collapses onto
// one id.
type SchemaCache struct {
	byID  map[uint32]*Schema
	byFP  map[uint64]uint32
	nextID uint32
}

// NewSchemaCache returns an empty cache; ids are assigned starting at 1.
func NewSchemaCache() *SchemaCache {
	return &SchemaCache{
		byID:   make(map[uint32]*Schema),
		byFP:   make(map[uint64]uint32),
		nextID: 1,
	}
}

// Register assigns s an id (or reuses the existing id for its
// fingerprint) and returns the id plus whether this was a new entry
// ("cache miss" in the session's terms).
func (c *SchemaCache) Register(s *Schema) (id uint32, miss bool) {
	if existing, ok := c.byFP[s.Fingerprint]; ok {
		return existing, false
	}
	id = c.nextID
	c.nextID++
	s.ID = id
	c.byID[id] = s
	c.byFP[s.Fingerprint] = id
	return id, true
}

// Adopt registers a schema that already carries an id embedded on the
// wire (decoder side): it is inserted under that id directly rather
// than assigned a new one, and nextID is advanced past it so locally
// originated schemas never collide.
func (c *SchemaCache) Adopt(s *Schema) {
	c.byID[s.ID] = s
	c.byFP[s.Fingerprint] = s.ID
	if s.ID >= c.nextID {
		c.nextID = s.ID + 1
	}
}

// Lookup returns the schema registered under id, if any.
func (c *SchemaCache) Lookup(id uint32) (*Schema, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// LookupFingerprint returns the id registered under fp, if any.
func (c *SchemaCache) LookupFingerprint(fp uint64) (uint32, bool) {
	id, ok := c.byFP[fp]
	return id, ok
}

// Len reports how many distinct schemas are cached.
func (c *SchemaCache) Len() int {
	return len(c.byID)
}

// Reset clears the cache and restarts id assignment at 1.
func (c *SchemaCache) Reset() {
	c.byID = make(map[uint32]*Schema)
	c.byFP = make(map[uint64]uint32)
	c.nextID = 1
}
