package database

import (
	"database/sql"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

var memorySeq atomic.Int64

// OpenMemory opens a private in-memory database migrated for target. It is limited
// to one connection because every sqlite memory connection is a separate database.
func OpenMemory(target string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=private&_foreign_keys=on", memorySeq.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := Migrate(db, target); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
