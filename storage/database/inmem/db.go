// Package inmemdb holds in-memory implementations of the repositories, used by tests and ENV=TEST runs.
package inmemdb

import (
	"database/sql"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/eduanalytics/core/academics"
	"github.com/trezcool/eduanalytics/core/user"
)

// tables is a snapshot of the whole relational dataset.
// Rows are stored by value so that cloning the maps is enough to isolate a snapshot.
type tables struct {
	seq           map[string]int
	batches       map[int]academics.Batch
	semesters     map[int]academics.Semester
	subjects      map[int]academics.Subject
	batchSubjects map[int]academics.BatchSubject
	students      map[int]academics.Student
	marks         map[int]academics.Mark
	uploadLogs    map[int]academics.UploadLog
	users         map[int]user.User
}

func newTables() *tables {
	return &tables{
		seq:           make(map[string]int),
		batches:       make(map[int]academics.Batch),
		semesters:     make(map[int]academics.Semester),
		subjects:      make(map[int]academics.Subject),
		batchSubjects: make(map[int]academics.BatchSubject),
		students:      make(map[int]academics.Student),
		marks:         make(map[int]academics.Mark),
		uploadLogs:    make(map[int]academics.UploadLog),
		users:         make(map[int]user.User),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	c := make(map[K]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func (t *tables) clone() *tables {
	return &tables{
		seq:           cloneMap(t.seq),
		batches:       cloneMap(t.batches),
		semesters:     cloneMap(t.semesters),
		subjects:      cloneMap(t.subjects),
		batchSubjects: cloneMap(t.batchSubjects),
		students:      cloneMap(t.students),
		marks:         cloneMap(t.marks),
		uploadLogs:    cloneMap(t.uploadLogs),
		users:         cloneMap(t.users),
	}
}

// nextID returns the next primary key of table. Sequences are part of the snapshot, like Postgres
// sequences they are not reused after a rollback of the implicit transactions.
func (t *tables) nextID(table string) int {
	t.seq[table]++
	return t.seq[table]
}

// DB is an in-memory database. Every write outside a transaction is atomic;
// a committed transaction replaces the whole dataset (last commit wins).
type DB struct {
	mu         sync.RWMutex
	data       *tables
	failCommit error
}

func New() *DB {
	return &DB{data: newTables()}
}

// FailNextCommit makes the next transaction commit fail with err, leaving the data untouched.
func (db *DB) FailNextCommit(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failCommit = err
}

// Reset drops all the data.
func (db *DB) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data = newTables()
	db.failCommit = nil
}

// view runs fn on the transaction's snapshot, or on the live data under a read lock.
func (db *DB) view(tx *tables, fn func(t *tables) error) error {
	if tx != nil {
		return fn(tx)
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	return fn(db.data)
}

// update runs fn on the transaction's snapshot, or on a copy of the live data that replaces it when fn succeeds.
func (db *DB) update(tx *tables, fn func(t *tables) error) error {
	if tx != nil {
		return fn(tx)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.data.clone()
	if err := fn(t); err != nil {
		return err
	}
	db.data = t
	return nil
}

func (db *DB) snapshot() *tables {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.data.clone()
}

func (db *DB) commit(t *tables) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failCommit; err != nil {
		db.failCommit = nil
		return errors.Wrap(err, "committing transaction")
	}
	db.data = t
	return nil
}

var errNoSavepoint = errors.New("savepoint does not exist")

// transaction is a snapshot of the data, written to the DB on commit.
type transaction struct {
	db         *DB
	data       *tables
	savepoints map[string]*tables
	done       bool
}

func (db *DB) begin() *transaction {
	return &transaction{db: db, data: db.snapshot(), savepoints: make(map[string]*tables)}
}

func (tx *transaction) savepoint(name string) error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.savepoints[name] = tx.data.clone()
	return nil
}

func (tx *transaction) rollbackTo(name string) error {
	if tx.done {
		return sql.ErrTxDone
	}
	sp, ok := tx.savepoints[name]
	if !ok {
		return errors.Wrap(errNoSavepoint, name)
	}
	// the savepoint survives, as in Postgres
	*tx.data = *sp.clone()
	return nil
}

func (tx *transaction) releaseSavepoint(name string) error {
	if tx.done {
		return sql.ErrTxDone
	}
	if _, ok := tx.savepoints[name]; !ok {
		return errors.Wrap(errNoSavepoint, name)
	}
	delete(tx.savepoints, name)
	return nil
}

func (tx *transaction) commit() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	return tx.db.commit(tx.data)
}

func (tx *transaction) rollback() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	return nil
}
