package vm

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// refWrapper is the two-variant sum type backing GLOBAL_INIT slots (spec
// §4.9, §9 "global/persistent binding as two-variant sum"). A slot tagged
// TagRefWrapper in the Value contract defers its get/set to whichever of
// these backs it.
type refWrapper struct {
	kind RefKind
	name string

	globals    *globalTable     // set when kind == RefGlobal
	persistent *persistentStore // set when kind == RefPersistent
}

func (r *refWrapper) get() Value {
	switch r.kind {
	case RefGlobal:
		return r.globals.get(r.name)
	case RefPersistent:
		return r.persistent.get(r.name)
	default:
		return Undefined
	}
}

func (r *refWrapper) set(v Value) {
	switch r.kind {
	case RefGlobal:
		r.globals.set(r.name, v)
	case RefPersistent:
		r.persistent.set(r.name, v)
	}
}

// globalTable is the host-wide symbol table GLOBAL slots forward to. It is
// shared across every frame in a VM instance (spec §4.9).
type globalTable struct {
	mu   sync.RWMutex
	vars map[string]Value
}

func newGlobalTable() *globalTable {
	return &globalTable{vars: make(map[string]Value)}
}

func (g *globalTable) get(name string) Value {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if v, ok := g.vars[name]; ok {
		return v
	}
	return Undefined
}

func (g *globalTable) set(name string, v Value) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vars[name] = v
}

// persistentStore backs `persistent` variables with a durable sqlite-backed
// cell, grounded on the teacher's CaptureCell idiom: writes to the
// in-memory cache fan out to a backing store so a persistent variable
// survives VM restarts within the same database file. Reads are served
// from the in-memory cache; the database is written-through on every set
// and read-through lazily on first get.
type persistentStore struct {
	mu    sync.Mutex
	cache map[string]Value
	db    *sql.DB
	codec ValueCodec
}

// ValueCodec converts between a host Value and the flat bytes persisted to
// the sqlite-backed store. The VM does not know how to serialize an
// arbitrary host Value itself (it only knows the small capability
// interface), so the host supplies a codec at construction.
type ValueCodec interface {
	EncodeValue(Value) ([]byte, error)
	DecodeValue([]byte) (Value, error)
}

// openSQLite opens (creating if necessary) the sqlite database backing a
// persistentStore.
func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vm: opening sqlite persistent store %s: %w", path, err)
	}
	return db, nil
}

func newPersistentStore(db *sql.DB, codec ValueCodec) (*persistentStore, error) {
	if db != nil {
		_, err := db.Exec(`CREATE TABLE IF NOT EXISTS persistent_vars (
			name TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)`)
		if err != nil {
			return nil, fmt.Errorf("vm: initializing persistent store: %w", err)
		}
	}
	return &persistentStore{cache: make(map[string]Value), db: db, codec: codec}, nil
}

func (p *persistentStore) get(name string) Value {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cache[name]; ok {
		return v
	}
	if p.db == nil || p.codec == nil {
		return Undefined
	}
	var blob []byte
	err := p.db.QueryRow(`SELECT value FROM persistent_vars WHERE name = ?`, name).Scan(&blob)
	if err != nil {
		return Undefined
	}
	v, err := p.codec.DecodeValue(blob)
	if err != nil {
		return Undefined
	}
	p.cache[name] = v
	return v
}

func (p *persistentStore) set(name string, v Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[name] = v
	if p.db == nil || p.codec == nil {
		return
	}
	blob, err := p.codec.EncodeValue(v)
	if err != nil {
		return
	}
	_, _ = p.db.Exec(`INSERT INTO persistent_vars (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, blob)
}
