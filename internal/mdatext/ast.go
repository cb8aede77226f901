// Package mdatext implements the nested key-value metadata text language
// described in spec §4.2 and §6: newline-delimited, `#`-commented, with
// scalar, string-list, and nested-block values. It is deliberately generic —
// internal/mdastore builds and reads a Block tree rather than hand-rolling a
// second parser, and lockd/wire reuses the same codec for its config-style
// socket frames (see SPEC_FULL.md's DOMAIN STACK note).
package mdatext

// Value is one of: string, int64, []string, or *Block.
type Value interface{}

// Entry is one `key = value` or `key { ... }` line inside a Block, in the
// order it appeared (or will be serialized).
type Entry struct {
	Key   string
	Value Value
}

// Block is an ordered sequence of entries, optionally named (the top-level
// block of a document is unnamed).
type Block struct {
	Name    string
	Entries []Entry
}

// Get returns the first entry's value for key, or nil if absent.
func (b *Block) Get(key string) Value {
	for _, e := range b.Entries {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

// GetString returns key's value as a string, or "" if absent/wrong type.
func (b *Block) GetString(key string) string {
	if s, ok := b.Get(key).(string); ok {
		return s
	}
	return ""
}

// GetInt returns key's value as an int64, or 0 if absent/wrong type.
func (b *Block) GetInt(key string) int64 {
	if n, ok := b.Get(key).(int64); ok {
		return n
	}
	return 0
}

// GetStrings returns key's value as a []string, or nil if absent/wrong type.
func (b *Block) GetStrings(key string) []string {
	if l, ok := b.Get(key).([]string); ok {
		return l
	}
	return nil
}

// GetBlock returns key's value as a *Block, or nil if absent/wrong type.
func (b *Block) GetBlock(key string) *Block {
	if bl, ok := b.Get(key).(*Block); ok {
		return bl
	}
	return nil
}

// Blocks returns every entry whose value is a *Block, in document order —
// used to walk ordered children such as segment1, segment2, ...
func (b *Block) Blocks() []*Block {
	var out []*Block
	for _, e := range b.Entries {
		if bl, ok := e.Value.(*Block); ok {
			out = append(out, bl)
		}
	}
	return out
}

// Set appends or replaces (in place, preserving position) the entry for key.
func (b *Block) Set(key string, v Value) {
	for i, e := range b.Entries {
		if e.Key == key {
			b.Entries[i].Value = v
			return
		}
	}
	b.Entries = append(b.Entries, Entry{Key: key, Value: v})
}

// AddBlock appends a new named child block and returns it.
func (b *Block) AddBlock(name string) *Block {
	child := &Block{Name: name}
	b.Entries = append(b.Entries, Entry{Key: name, Value: child})
	return child
}
