package db

import "github.com/jmoiron/sqlx"

// Pool pairs the single-connection writer with a read-only reader pool over
// one SQLite file. WAL mode lets readers run against their own snapshots
// while every write serializes through the writer, so neither side sees
// SQLITE_BUSY under normal load.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// Open opens both halves of the pool for the database at path, creating the
// file when missing.
func Open(path string) (*Pool, error) {
	w, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	r, err := OpenSQLiteReader(path)
	if err != nil {
		w.Close()
		return nil, err
	}
	return &Pool{
		writer: sqlx.NewDb(w, "sqlite3"),
		reader: sqlx.NewDb(r, "sqlite3"),
	}, nil
}

// Writer returns the mutation handle: INSERT, UPDATE, DELETE, transactions.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the handle for SELECT queries.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close releases both halves.
func (p *Pool) Close() error {
	err := p.writer.Close()
	if rErr := p.reader.Close(); err == nil {
		err = rErr
	}
	return err
}
