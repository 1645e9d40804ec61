package minibase

import "fmt"

// SimpleCatalog is an in-memory table-id -> DbFile registry, injected into
// the buffer pool at construction rather than reached through a
// package-level singleton.
type SimpleCatalog struct {
	files  map[int32]DbFile
	names  map[string]int32
	nextID int32
}

// NewSimpleCatalog constructs an empty catalog.
func NewSimpleCatalog() *SimpleCatalog {
	return &SimpleCatalog{
		files: make(map[int32]DbFile),
		names: make(map[string]int32),
	}
}

// AddTable registers file under name, using file's own table id as the key.
func (c *SimpleCatalog) AddTable(name string, file DbFile) {
	c.files[file.ID()] = file
	c.names[name] = file.ID()
}

// GetDbFile resolves tableID to its DbFile.
func (c *SimpleCatalog) GetDbFile(tableID int32) (DbFile, error) {
	f, ok := c.files[tableID]
	if !ok {
		return nil, fmt.Errorf("no table registered with id %d", tableID)
	}
	return f, nil
}

// TableID resolves a table name to its id, for the CLI's benefit.
func (c *SimpleCatalog) TableID(name string) (int32, bool) {
	id, ok := c.names[name]
	return id, ok
}

// NextTableID allocates a fresh, process-unique table id for a new table.
func (c *SimpleCatalog) NextTableID() int32 {
	c.nextID++
	return c.nextID
}
