package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Postgres implements Client on a single documents table. Change events ride
// PostgreSQL LISTEN/NOTIFY: every write/delete notifies the doc_events
// channel with "<op>|<path>", and a dedicated listener connection fans the
// notification out to matching subscriptions. NOTIFY delivery is FIFO per
// connection, which satisfies the per-path ordering the sync layer needs.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger

	mu     sync.Mutex
	subs   map[string]map[int]Handlers
	nextID int
	closed bool

	stopListen context.CancelFunc
	listenDone chan struct{}
}

const notifyChannel = "doc_events"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
    path       TEXT PRIMARY KEY,
    value      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS documents_path_prefix ON documents (path text_pattern_ops);
`

// NewPool builds the pgx connection pool used by the Postgres backend.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the documents-table schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply documents schema: %w", err)
	}
	return nil
}

// NewPostgres starts the listener goroutine and returns a ready client.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) (*Postgres, error) {
	listenCtx, cancel := context.WithCancel(context.Background())
	p := &Postgres{
		pool:       pool,
		log:        log,
		subs:       make(map[string]map[int]Handlers),
		stopListen: cancel,
		listenDone: make(chan struct{}),
	}
	go p.listen(listenCtx)
	return p, nil
}

// Close stops the listener and drops all subscriptions. The pool is owned by
// the caller and stays open.
func (p *Postgres) Close() {
	p.mu.Lock()
	p.closed = true
	p.subs = make(map[string]map[int]Handlers)
	p.mu.Unlock()
	p.stopListen()
	<-p.listenDone
}

func (p *Postgres) PointRead(ctx context.Context, path string) (Value, bool, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM documents WHERE path = $1`, path).Scan(&raw)
	if err == nil {
		var v Value
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, false, &StoreError{Op: "read", Path: path, Err: err}
		}
		return v, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, &StoreError{Op: "read", Path: path, Err: err}
	}

	// Branch read: assemble the subtree from leaf rows.
	rows, err := p.pool.Query(ctx,
		`SELECT path, value FROM documents WHERE path LIKE $1 ORDER BY path`, path+"/%")
	if err != nil {
		return nil, false, &StoreError{Op: "read", Path: path, Err: err}
	}
	defer rows.Close()

	out := make(Value)
	found := false
	for rows.Next() {
		var leaf string
		var leafRaw []byte
		if err := rows.Scan(&leaf, &leafRaw); err != nil {
			return nil, false, &StoreError{Op: "read", Path: path, Err: err}
		}
		var doc Value
		if err := json.Unmarshal(leafRaw, &doc); err != nil {
			return nil, false, &StoreError{Op: "read", Path: path, Err: err}
		}
		insertNested(out, Split(leaf)[len(Split(path)):], doc)
		found = true
	}
	if err := rows.Err(); err != nil {
		return nil, false, &StoreError{Op: "read", Path: path, Err: err}
	}
	if !found {
		return nil, false, nil
	}
	return out, true, nil
}

func (p *Postgres) Write(ctx context.Context, path string, v Value, mode WriteMode) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return &StoreError{Op: "write", Path: path, Err: err}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return &StoreError{Op: "write", Path: path, Err: err}
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE path = $1 OR path LIKE $2)`,
		path, path+"/%").Scan(&exists); err != nil {
		return &StoreError{Op: "write", Path: path, Err: err}
	}

	query := `INSERT INTO documents (path, value) VALUES ($1, $2)
	          ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	if mode == Merge {
		query = `INSERT INTO documents (path, value) VALUES ($1, $2)
		         ON CONFLICT (path) DO UPDATE SET value = documents.value || EXCLUDED.value, updated_at = NOW()`
	}
	if _, err := tx.Exec(ctx, query, path, raw); err != nil {
		return &StoreError{Op: "write", Path: path, Err: err}
	}

	op := "changed"
	if !exists {
		op = "added"
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, op+"|"+path); err != nil {
		return &StoreError{Op: "write", Path: path, Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &StoreError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, path string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return &StoreError{Op: "delete", Path: path, Err: err}
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM documents WHERE path = $1 OR path LIKE $2`, path, path+"/%")
	if err != nil {
		return &StoreError{Op: "delete", Path: path, Err: err}
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, "removed|"+path); err != nil {
			return &StoreError{Op: "delete", Path: path, Err: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &StoreError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

func (p *Postgres) Subscribe(ctx context.Context, path string, h Handlers) (CancelFunc, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	id := p.nextID
	p.nextID++
	if p.subs[path] == nil {
		p.subs[path] = make(map[int]Handlers)
	}
	p.subs[path][id] = h
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if set, ok := p.subs[path]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(p.subs, path)
			}
		}
	}

	// Initial snapshot before returning, matching the memory backend.
	snapshot, found, err := p.PointRead(ctx, path)
	if err != nil {
		cancel()
		return nil, err
	}
	if found && h.OnAdded != nil {
		for child, v := range snapshot {
			cv, _ := v.(map[string]interface{})
			h.OnAdded(child, Value(cv))
		}
	}
	return cancel, nil
}

// listen holds a dedicated connection on the notify channel and fans events
// out to subscriptions whose path is an ancestor of the notified path.
func (p *Postgres) listen(ctx context.Context) {
	defer close(p.listenDone)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.listenOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn().Err(err).Msg("store listener reconnecting")
		}
	}
}

func (p *Postgres) listenOnce(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		op, path, ok := strings.Cut(n.Payload, "|")
		if !ok {
			continue
		}
		p.fanOut(ctx, op, path)
	}
}

func (p *Postgres) fanOut(ctx context.Context, op, path string) {
	type target struct {
		h         Handlers
		child     string
		childPath string
	}
	var targets []target
	p.mu.Lock()
	for sp, set := range p.subs {
		child, ok := childOf(sp, path)
		if !ok {
			continue
		}
		for _, h := range set {
			targets = append(targets, target{h: h, child: child, childPath: Join(sp, child)})
		}
	}
	p.mu.Unlock()

	for _, t := range targets {
		// Re-read the child subtree so the event carries current state. A
		// deep delete that leaves siblings behind degrades to OnChanged.
		v, found, err := p.PointRead(ctx, t.childPath)
		if err != nil {
			p.log.Warn().Err(err).Str("path", t.childPath).Msg("fan-out read failed")
			continue
		}
		switch {
		case !found:
			if t.h.OnRemoved != nil {
				t.h.OnRemoved(t.child)
			}
		case op == "added":
			if t.h.OnAdded != nil {
				t.h.OnAdded(t.child, v)
			}
		default:
			if t.h.OnChanged != nil {
				t.h.OnChanged(t.child, v)
			}
		}
	}
}

// insertNested places doc at the nested position given by segments.
func insertNested(root Value, segments []string, doc Value) {
	cur := root
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = map[string]interface{}(doc)
			return
		}
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[seg] = next
		}
		cur = Value(next)
	}
}
