// Package strtab provides the string tables shared by the capture writer
// and reader. Keys are assigned in first-use order and never reassigned.
package strtab

import (
	"sort"

	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
)

var (
	ErrUnknownKey   = errors.New("unknown string key")
	ErrDuplicateKey = errors.New("string key redefined")
)

const defaultCapacity = 64

// Interner is the writer side of the table.
// It is not safe for concurrent use.
type Interner struct {
	keys    *swiss.Map[string, uint32]
	strings []string
}

func NewInterner() *Interner {
	return &Interner{keys: swiss.NewMap[string, uint32](defaultCapacity)}
}

// Intern returns the key of the string, assigning the next sequential key
// if the string has not been seen before. added reports whether the key was
// assigned by this call.
func (i *Interner) Intern(s string) (key uint32, added bool) {
	if k, ok := i.keys.Get(s); ok {
		return k, false
	}
	key = uint32(len(i.strings))
	i.keys.Put(s, key)
	i.strings = append(i.strings, s)
	return key, true
}

func (i *Interner) Len() int { return len(i.strings) }

// Strings returns the interned strings indexed by key.
func (i *Interner) Strings() []string { return i.strings }

// Table is the reader side of the table. Keys come from untrusted input
// and may be sparse. It is not safe for concurrent use.
type Table struct {
	strings *swiss.Map[uint32, string]
}

func NewTable() *Table {
	return &Table{strings: swiss.NewMap[uint32, string](defaultCapacity)}
}

// Define adds the key mapping. Redefining a key with the same string is a
// no-op; redefining it with a different string fails with ErrDuplicateKey
// and the original mapping is kept.
func (t *Table) Define(key uint32, s string) error {
	if v, ok := t.strings.Get(key); ok {
		if v != s {
			return errors.Wrapf(ErrDuplicateKey, "key %d", key)
		}
		return nil
	}
	t.strings.Put(key, s)
	return nil
}

func (t *Table) Resolve(key uint32) (string, error) {
	if s, ok := t.strings.Get(key); ok {
		return s, nil
	}
	return "", errors.Wrapf(ErrUnknownKey, "key %d", key)
}

func (t *Table) Len() int { return t.strings.Count() }

// Map returns a copy of the table contents.
func (t *Table) Map() map[uint32]string {
	m := make(map[uint32]string, t.strings.Count())
	t.strings.Iter(func(k uint32, v string) bool {
		m[k] = v
		return false
	})
	return m
}

// Keys returns the defined keys in ascending order.
func (t *Table) Keys() []uint32 {
	keys := make([]uint32, 0, t.strings.Count())
	t.strings.Iter(func(k uint32, _ string) bool {
		keys = append(keys, k)
		return false
	})
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
