// Package memtest is an in-memory stand-in for backend.Backend so
// 2PC tests run without a live Postgres. It understands a tiny subset
// of SQL — just enough to drive INSERT/SELECT/UPDATE/DELETE against
// unique-keyed tables.
package memtest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"ddbmw/internal/backend"
	"ddbmw/internal/message"
)

type row map[string]string

// Store is the shared in-memory table set behind one node's Backend.
// Several Sessions opened against the same Store see each other's
// committed writes only, matching read-committed visibility.
type Store struct {
	mu     sync.Mutex
	tables map[string][]row
	unique map[string]string // table -> column enforced unique
}

func NewStore() *Store {
	return &Store{
		tables: make(map[string][]row),
		unique: make(map[string]string),
	}
}

// WithUnique declares a uniqueness constraint on a column, so a
// conflicting INSERT fails at execute time the way a real constraint
// violation would.
func (s *Store) WithUnique(table, column string) *Store {
	s.unique[table] = column
	return s
}

// Backend adapts a Store to backend.Backend.
type Backend struct {
	store *Store
}

func NewBackend(store *Store) *Backend {
	return &Backend{store: store}
}

func (b *Backend) Close()                              {}
func (b *Backend) PoolHealth(ctx context.Context) bool { return true }

func (b *Backend) Begin(ctx context.Context) (backend.Session, error) {
	return &session{store: b.store, inserted: map[string][]row{}, overlay: map[string][]row{}}, nil
}

type session struct {
	store *Store
	// inserted holds rows added by INSERT, appended to the table on
	// Commit; overlay holds the full replacement row set for a table
	// touched by UPDATE/DELETE, swapped in on Commit. Neither is
	// applied to store.tables until Commit, and both are discarded on
	// Rollback, so a session's writes are invisible to every other
	// session (and undone on abort) until the decision arrives.
	inserted map[string][]row
	overlay  map[string][]row
	prepared bool
}

// tableView returns this session's working copy of table: the overlay
// already staged by an earlier UPDATE/DELETE in this txn, or else a
// fresh deep copy of the committed rows so mutating it never touches
// store.tables directly.
func (s *session) tableView(table string) []row {
	if ov, ok := s.overlay[table]; ok {
		return ov
	}
	return copyRows(s.store.tables[table])
}

func copyRows(rows []row) []row {
	out := make([]row, len(rows))
	for i, r := range rows {
		cp := make(row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

var (
	insertRe = regexp.MustCompile(`(?i)^\s*INSERT\s+INTO\s+(\w+)\s*\(([^)]*)\)\s*VALUES\s*\(([^)]*)\)\s*$`)
	selectRe = regexp.MustCompile(`(?i)^\s*SELECT\s+(.+?)\s+FROM\s+(\w+)(?:\s+WHERE\s+(.+))?\s*$`)
	updateRe = regexp.MustCompile(`(?i)^\s*UPDATE\s+(\w+)\s+SET\s+(.+?)(?:\s+WHERE\s+(.+))?\s*$`)
	deleteRe = regexp.MustCompile(`(?i)^\s*DELETE\s+FROM\s+(\w+)(?:\s+WHERE\s+(.+))?\s*$`)
	createRe = regexp.MustCompile(`(?i)^\s*CREATE\s+TABLE`)
)

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.Trim(strings.TrimSpace(p), "'\"")
	}
	return out
}

func parseEquals(clause string) (col, val string, ok bool) {
	idx := strings.Index(clause, "=")
	if idx < 0 {
		return "", "", false
	}
	col = strings.TrimSpace(clause[:idx])
	val = strings.Trim(strings.TrimSpace(clause[idx+1:]), "'\"")
	return col, val, true
}

func (s *session) Execute(ctx context.Context, sql string) (int64, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	switch {
	case createRe.MatchString(sql):
		return 0, nil
	case insertRe.MatchString(sql):
		m := insertRe.FindStringSubmatch(sql)
		table, cols, vals := m[1], splitCSV(m[2]), splitCSV(m[3])
		if len(cols) != len(vals) {
			return 0, message.NewError(message.BackendError, "column/value count mismatch")
		}
		r := row{}
		for i, c := range cols {
			r[c] = vals[i]
		}
		if uc, ok := s.store.unique[table]; ok {
			for _, existing := range s.store.tables[table] {
				if existing[uc] == r[uc] {
					return 0, message.NewError(message.BackendError, fmt.Sprintf("unique violation on %s.%s", table, uc))
				}
			}
			for _, pending := range s.inserted[table] {
				if pending[uc] == r[uc] {
					return 0, message.NewError(message.BackendError, fmt.Sprintf("unique violation on %s.%s", table, uc))
				}
			}
		}
		s.inserted[table] = append(s.inserted[table], r)
		return 1, nil
	case updateRe.MatchString(sql):
		m := updateRe.FindStringSubmatch(sql)
		table, setClause, where := m[1], m[2], m[3]
		col, val, _ := parseEquals(setClause)
		rows := s.tableView(table)
		n := int64(0)
		for i := range rows {
			if rowMatches(rows[i], where) {
				rows[i][col] = val
				n++
			}
		}
		s.overlay[table] = rows
		return n, nil
	case deleteRe.MatchString(sql):
		m := deleteRe.FindStringSubmatch(sql)
		table, where := m[1], m[2]
		rows := s.tableView(table)
		kept := rows[:0]
		n := int64(0)
		for _, r := range rows {
			if rowMatches(r, where) {
				n++
				continue
			}
			kept = append(kept, r)
		}
		s.overlay[table] = kept
		return n, nil
	default:
		return 0, message.NewError(message.BackendError, "unsupported statement: "+sql)
	}
}

func rowMatches(r row, where string) bool {
	if where == "" {
		return true
	}
	col, val, ok := parseEquals(where)
	if !ok {
		return false
	}
	return r[col] == val
}

func (s *session) Query(ctx context.Context, sql string) ([]backend.Row, []string, error) {
	m := selectRe.FindStringSubmatch(sql)
	if m == nil {
		return nil, nil, message.NewError(message.BackendError, "unsupported query: "+sql)
	}
	colsRaw, table, where := m[1], m[2], m[3]

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	var cols []string
	if strings.TrimSpace(colsRaw) == "*" {
		cols = allColumns(s.store.tables[table])
	} else {
		cols = splitCSV(colsRaw)
	}

	var out []backend.Row
	for _, r := range s.store.tables[table] {
		if !rowMatches(r, where) {
			continue
		}
		vals := make(backend.Row, len(cols))
		for i, c := range cols {
			vals[i] = r[c]
		}
		out = append(out, vals)
	}
	return out, cols, nil
}

func allColumns(rows []row) []string {
	seen := map[string]bool{}
	var cols []string
	for _, r := range rows {
		for c := range r {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	return cols
}

func (s *session) Prepare(ctx context.Context) error {
	s.prepared = true
	return nil
}

func (s *session) Commit(ctx context.Context) error {
	if !s.prepared {
		return message.NewError(message.BackendError, "commit requested before prepare")
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	for table, rows := range s.inserted {
		s.store.tables[table] = append(s.store.tables[table], rows...)
	}
	for table, rows := range s.overlay {
		s.store.tables[table] = rows
	}
	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	s.inserted = map[string][]row{}
	s.overlay = map[string][]row{}
	return nil
}
