package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/dreamware/strata/internal/bus"
	"github.com/dreamware/strata/internal/message"
)

// createTableSQL creates the single backing table on first open.
const createTableSQL = `CREATE TABLE IF NOT EXISTS store (
	key TEXT PRIMARY KEY,
	value TEXT,
	group_name TEXT
)`

// DiskTier is the durable store: one SQLite table, no TTL, every operation
// serialized by the tier's mutex. Safe for concurrent use.
type DiskTier struct {
	mu sync.Mutex
	db *sql.DB

	// Prepared once at open, finalized by Close.
	putStmt         *sql.Stmt
	getKeyStmt      *sql.Stmt
	getGroupStmt    *sql.Stmt
	deleteKeyStmt   *sql.Stmt
	deleteGroupStmt *sql.Stmt
	listStmt        *sql.Stmt

	log *zap.Logger
}

// OpenDiskTier opens (creating if absent) the SQLite database at path,
// ensures the table exists, and prepares the tier's statements.
func OpenDiskTier(path string, log *zap.Logger) (*DiskTier, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// The tier serializes access itself; a single connection keeps SQLite
	// from returning busy errors under concurrent prepared statements.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	t := &DiskTier{db: db, log: log.Named("disktier")}

	for _, s := range []struct {
		dst **sql.Stmt
		sql string
	}{
		{&t.putStmt, "INSERT OR REPLACE INTO store (key, value, group_name) VALUES (?, ?, ?)"},
		{&t.getKeyStmt, "SELECT value FROM store WHERE key = ?"},
		{&t.getGroupStmt, "SELECT key, value FROM store WHERE group_name = ?"},
		{&t.deleteKeyStmt, "DELETE FROM store WHERE key = ?"},
		{&t.deleteGroupStmt, "DELETE FROM store WHERE group_name = ?"},
		{&t.listStmt, "SELECT key, value, group_name FROM store"},
	} {
		stmt, err := db.Prepare(s.sql)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("prepare %q: %w", s.sql, err)
		}
		*s.dst = stmt
	}

	t.log.Info("disk tier opened", zap.String("dbFile", path))
	return t, nil
}

// RegisterHandlers subscribes the tier's six operations on the bus under the
// DiskTier recipient.
func (t *DiskTier) RegisterHandlers(b *bus.Bus) error {
	if err := bus.Register(b, bus.DiskTier, func(req message.SetRequest) (message.SetResponse, error) {
		if err := t.Put(req.Key, req.Value, req.Group); err != nil {
			return message.SetResponse{}, err
		}
		return message.SetResponse{ID: req.ID, OK: true}, nil
	}); err != nil {
		return err
	}
	if err := bus.Register(b, bus.DiskTier, func(req message.GetKeyRequest) (message.GetKeyResponse, error) {
		value, err := t.Get(req.Key)
		if err != nil {
			return message.GetKeyResponse{}, err
		}
		return message.GetKeyResponse{ID: req.ID, Value: value}, nil
	}); err != nil {
		return err
	}
	if err := bus.Register(b, bus.DiskTier, func(req message.GetGroupRequest) (message.GetGroupResponse, error) {
		pairs, err := t.GetGroup(req.Group)
		if err != nil {
			return message.GetGroupResponse{}, err
		}
		return message.GetGroupResponse{ID: req.ID, Pairs: pairs}, nil
	}); err != nil {
		return err
	}
	if err := bus.Register(b, bus.DiskTier, func(req message.DeleteKeyRequest) (message.DeleteKeyResponse, error) {
		count, err := t.DeleteKey(req.Key)
		if err != nil {
			return message.DeleteKeyResponse{}, err
		}
		return message.DeleteKeyResponse{ID: req.ID, Count: count}, nil
	}); err != nil {
		return err
	}
	if err := bus.Register(b, bus.DiskTier, func(req message.DeleteGroupRequest) (message.DeleteGroupResponse, error) {
		count, err := t.DeleteGroup(req.Group)
		if err != nil {
			return message.DeleteGroupResponse{}, err
		}
		return message.DeleteGroupResponse{ID: req.ID, Count: count}, nil
	}); err != nil {
		return err
	}
	return bus.Register(b, bus.DiskTier, func(req message.ListRequest) (message.ListResponse, error) {
		entries, err := t.List()
		if err != nil {
			return message.ListResponse{}, err
		}
		return message.ListResponse{ID: req.ID, Entries: entries}, nil
	})
}

// Put upserts a row inside an explicit transaction. Any failure rolls the
// transaction back and surfaces the error; the tier stays usable.
func (t *DiskTier) Put(key, value, group string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("begin put: %w", err)
	}
	if _, err := tx.Stmt(t.putStmt).Exec(key, value, group); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			t.log.Error("rollback failed", zap.Error(rbErr))
		}
		return fmt.Errorf("put %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put %q: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key, or the empty string when the row
// is absent.
func (t *DiskTier) Get(key string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var value string
	err := t.getKeyStmt.QueryRow(key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// GetGroup returns every (key, value) row labeled with group. The slice is
// never nil.
func (t *DiskTier) GetGroup(group string) ([]message.Pair, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.getGroupStmt.Query(group)
	if err != nil {
		return nil, fmt.Errorf("get group %q: %w", group, err)
	}
	defer rows.Close()

	pairs := make([]message.Pair, 0)
	for rows.Next() {
		var p message.Pair
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return nil, fmt.Errorf("scan group %q: %w", group, err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group %q: %w", group, err)
	}
	return pairs, nil
}

// DeleteKey removes the row under key, returning 1 if one existed and 0
// otherwise.
func (t *DiskTier) DeleteKey(key string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res, err := t.deleteKeyStmt.Exec(key)
	if err != nil {
		return 0, fmt.Errorf("delete %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %q rows affected: %w", key, err)
	}
	return int(n), nil
}

// DeleteGroup removes every row labeled with group and returns how many
// were removed.
func (t *DiskTier) DeleteGroup(group string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res, err := t.deleteGroupStmt.Exec(group)
	if err != nil {
		return 0, fmt.Errorf("delete group %q: %w", group, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete group %q rows affected: %w", group, err)
	}
	return int(n), nil
}

// List returns every stored row. The slice is never nil.
func (t *DiskTier) List() ([]message.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.listStmt.Query()
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	entries := make([]message.Entry, 0)
	for rows.Next() {
		var e message.Entry
		if err := rows.Scan(&e.Key, &e.Value, &e.Group); err != nil {
			return nil, fmt.Errorf("scan list row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate list: %w", err)
	}
	return entries, nil
}

// Close finalizes the prepared statements and closes the database.
func (t *DiskTier) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, stmt := range []*sql.Stmt{
		t.putStmt, t.getKeyStmt, t.getGroupStmt,
		t.deleteKeyStmt, t.deleteGroupStmt, t.listStmt,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	if err := t.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	t.log.Info("disk tier closed")
	return nil
}
