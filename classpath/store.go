package classpath

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/chazu/mocha/classfile"
)

// Store is a Source backed by a SQLite database holding one CBOR-encoded
// class per row.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens or creates the class store at path. Use ":memory:" for a
// private in-memory store.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("classpath: opening store: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("classpath: setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS classes (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("classpath: creating table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores or replaces a class.
func (s *Store) Put(c *classfile.Class) error {
	data, err := classfile.Marshal(c)
	if err != nil {
		return fmt.Errorf("classpath: encoding %s: %w", c.Name, err)
	}
	_, err = s.db.Exec("INSERT OR REPLACE INTO classes (name, data) VALUES (?, ?)", c.Name, data)
	if err != nil {
		return fmt.Errorf("classpath: saving %s: %w", c.Name, err)
	}
	return nil
}

// Find implements Source.
func (s *Store) Find(name string) (*classfile.Class, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM classes WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("classpath: querying %s: %w", name, err)
	}
	c, err := classfile.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("classpath: %s in %s: %w", name, s.path, err)
	}
	log.Debugf("loaded %s from store %s", name, s.path)
	return c, nil
}

// Names lists the stored class names in order.
func (s *Store) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM classes ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("classpath: listing classes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("classpath: listing classes: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
