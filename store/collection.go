package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/logger"
)

// ErrMissingKey is returned when a keyed write gets a document without the key.
var ErrMissingKey = errors.New("document has no value for key")

// Collection is a named set of documents with one writer mutex.
// Methods ending in Locked expect the caller to hold mu.
type Collection struct {
	store *Store
	name  string
	mu    sync.Mutex
}

type storedDoc struct {
	id  int64
	doc Document
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// FindOne returns the first document matching filter in insertion order.
func (c *Collection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	found, err := c.find(ctx, c.store.db, filter, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, errors.NewNotFoundError("%s document matching %v", c.name, map[string]interface{}(filter))
	}
	return found[0].doc, nil
}

// FindMany returns every document matching filter.
func (c *Collection) FindMany(ctx context.Context, filter Filter, opts FindOptions) ([]Document, error) {
	found, err := c.find(ctx, c.store.db, filter, opts)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, len(found))
	for i, f := range found {
		docs[i] = f.doc
	}
	return docs, nil
}

// Count returns how many documents match filter.
func (c *Collection) Count(ctx context.Context, filter Filter) (int, error) {
	where, args, err := filter.where(c.name)
	if err != nil {
		return 0, err
	}
	var n int
	if err := c.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE "+where, args...).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s", c.name)
	}
	return n, nil
}

// Insert stores doc as a new document and returns its id.
func (c *Collection) Insert(ctx context.Context, doc interface{}) (int64, error) {
	d, err := ToDocument(doc)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.insertLocked(ctx, c.store.db, d)
}

// InsertMany stores every doc in one transaction and returns their ids.
func (c *Collection) InsertMany(ctx context.Context, docs []interface{}) ([]int64, error) {
	parsed := make([]Document, len(docs))
	for i, doc := range docs {
		d, err := ToDocument(doc)
		if err != nil {
			return nil, errors.Wrapf(err, "document %d", i)
		}
		parsed[i] = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.insertManyLocked(ctx, parsed)
}

// Update merges doc onto the existing document whose key field equals
// doc[key]. Fields absent from doc are kept. Returns the number of
// documents changed: 0 when no document has the key (nothing is inserted).
func (c *Collection) Update(ctx context.Context, doc interface{}, key string) (int, error) {
	d, value, err := c.keyed(doc, key)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.findByKeyLocked(ctx, key, value)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		c.store.debug("Update matched nothing", logger.FieldCollection, c.name, "key", key)
		return 0, nil
	}
	if err := c.replaceLocked(ctx, existing.id, existing.doc.merge(d)); err != nil {
		return 0, err
	}
	return 1, nil
}

// UpdateIf merges doc onto the document whose key field equals doc[key],
// provided that document still matches cond. The match is repeated in the
// UPDATE statement itself, so a writer in another process holding the same
// database cannot change the document between the check and the write.
// Returns 1 when the document changed and 0 when nothing matched.
//
//	n, err := history.UpdateIf(ctx, rec, "RunId", store.Filter{"Status": 2})
func (c *Collection) UpdateIf(ctx context.Context, doc interface{}, key string, cond Filter) (int, error) {
	d, value, err := c.keyed(doc, key)
	if err != nil {
		return 0, err
	}
	match := Filter{key: value}
	for field, v := range cond {
		match[field] = v
	}
	where, args, err := match.where(c.name)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	found, err := c.find(ctx, c.store.db, match, FindOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(found) == 0 {
		c.store.debug("UpdateIf matched nothing", logger.FieldCollection, c.name, "key", key)
		return 0, nil
	}

	body, err := json.Marshal(found[0].doc.merge(d))
	if err != nil {
		return 0, errors.Wrap(err, "encode document")
	}
	res, err := c.store.db.ExecContext(ctx,
		"UPDATE documents SET body = ?, updated_at = datetime('now') WHERE id = ? AND "+where,
		append([]interface{}{string(body), found[0].id}, args...)...)
	if err != nil {
		return 0, errors.Wrapf(err, "update document %d in %s", found[0].id, c.name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(err, "rows affected in %s", c.name)
	}
	return int(n), nil
}

// Upsert merges doc onto the document with the same key (as Update), or
// inserts it when none exists. Returns the document id.
func (c *Collection) Upsert(ctx context.Context, doc interface{}, key string) (int64, error) {
	d, value, err := c.keyed(doc, key)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.upsertLocked(ctx, d, key, value)
}

// Save makes the stored document exactly doc: fields absent from doc are
// dropped. Inserts when no document has the key. Returns the document id.
func (c *Collection) Save(ctx context.Context, doc interface{}, key string) (int64, error) {
	d, value, err := c.keyed(doc, key)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.findByKeyLocked(ctx, key, value)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return c.insertLocked(ctx, c.store.db, d)
	}
	if err := c.replaceLocked(ctx, existing.id, d); err != nil {
		return 0, err
	}
	return existing.id, nil
}

// UpsertMany inserts documents whose key is not stored yet in one
// transaction and upserts the rest one by one. Returns the ids of the
// inserted documents.
func (c *Collection) UpsertMany(ctx context.Context, docs []interface{}, key string) ([]int64, error) {
	if err := validateField(key); err != nil {
		return nil, err
	}

	type keyedDoc struct {
		doc   Document
		value interface{}
	}
	parsed := make([]keyedDoc, len(docs))
	for i, doc := range docs {
		d, value, err := c.keyed(doc, key)
		if err != nil {
			return nil, errors.Wrapf(err, "document %d", i)
		}
		parsed[i] = keyedDoc{doc: d, value: value}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.existingKeysLocked(ctx, key)
	if err != nil {
		return nil, err
	}

	var fresh []Document
	var updates []keyedDoc
	for _, p := range parsed {
		k := keyString(p.value)
		if existing[k] {
			updates = append(updates, p)
			continue
		}
		// A key repeated inside the batch is inserted once, then merged
		existing[k] = true
		fresh = append(fresh, p.doc)
	}

	ids, err := c.insertManyLocked(ctx, fresh)
	if err != nil {
		return nil, err
	}

	for _, u := range updates {
		if _, err := c.upsertLocked(ctx, u.doc, key, u.value); err != nil {
			return ids, err
		}
	}

	c.store.debug("UpsertMany complete",
		logger.FieldCollection, c.name,
		"inserted", len(fresh),
		"updated", len(updates))
	return ids, nil
}

// Delete removes documents matching filter, honouring Skip and Limit in
// insertion order. Returns how many were removed.
func (c *Collection) Delete(ctx context.Context, filter Filter, opts DeleteOptions) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	victims, err := c.find(ctx, c.store.db, filter, FindOptions{Skip: opts.Skip, Limit: opts.Limit})
	if err != nil {
		return 0, err
	}
	if len(victims) == 0 {
		return 0, nil
	}

	var recycle *Collection
	if opts.Recycle {
		recycle = c.store.Collection(c.name + RecycleSuffix)
		recycle.mu.Lock()
		defer recycle.mu.Unlock()
	}

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "begin delete on %s", c.name)
	}
	defer tx.Rollback()

	if recycle != nil {
		if err := recycle.ensureLocked(ctx, tx); err != nil {
			return 0, err
		}
	}

	for _, v := range victims {
		if recycle != nil {
			if _, err := recycle.insertLocked(ctx, tx, v.doc); err != nil {
				return 0, errors.Wrapf(err, "recycle document %d", v.id)
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", v.id); err != nil {
			return 0, errors.Wrapf(err, "delete document %d from %s", v.id, c.name)
		}
	}

	if opts.DropIfEmpty {
		var left int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE collection = ?", c.name).Scan(&left); err != nil {
			return 0, errors.Wrapf(err, "count remaining in %s", c.name)
		}
		if left == 0 {
			if _, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", c.name); err != nil {
				return 0, errors.Wrapf(err, "drop collection %s", c.name)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrapf(err, "commit delete on %s", c.name)
	}

	c.store.debug("Deleted documents",
		logger.FieldCollection, c.name,
		logger.FieldCount, len(victims),
		"recycled", opts.Recycle)
	return len(victims), nil
}

// keyed converts doc and extracts its key value.
func (c *Collection) keyed(doc interface{}, key string) (Document, interface{}, error) {
	if err := validateField(key); err != nil {
		return nil, nil, err
	}
	d, err := ToDocument(doc)
	if err != nil {
		return nil, nil, err
	}
	value, ok := d[key]
	if !ok || value == nil {
		return nil, nil, errors.Wrapf(ErrMissingKey, "%s.%s", c.name, key)
	}
	return d, value, nil
}

func (c *Collection) find(ctx context.Context, q querier, filter Filter, opts FindOptions) ([]storedDoc, error) {
	where, args, err := filter.where(c.name)
	if err != nil {
		return nil, err
	}
	tail, tailArgs, err := opts.orderAndPage()
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, "SELECT id, body FROM documents WHERE "+where+tail, append(args, tailArgs...)...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", c.name)
	}
	defer rows.Close()

	var out []storedDoc
	for rows.Next() {
		var id int64
		var body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, errors.Wrapf(err, "scan %s", c.name)
		}
		doc, err := parseDocument([]byte(body))
		if err != nil {
			return nil, errors.Wrapf(err, "document %d in %s", id, c.name)
		}
		out = append(out, storedDoc{id: id, doc: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "iterate %s", c.name)
	}
	return out, nil
}

func (c *Collection) findByKeyLocked(ctx context.Context, key string, value interface{}) (*storedDoc, error) {
	found, err := c.find(ctx, c.store.db, Filter{key: value}, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (c *Collection) existingKeysLocked(ctx context.Context, key string) (map[string]bool, error) {
	expr := fieldExpr(key)
	rows, err := c.store.db.QueryContext(ctx,
		"SELECT "+expr+" FROM documents WHERE collection = ? AND "+expr+" IS NOT NULL", c.name)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s keys in %s", key, c.name)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var v interface{}
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrapf(err, "scan %s key", c.name)
		}
		keys[keyString(v)] = true
	}
	return keys, errors.Wrapf(rows.Err(), "iterate %s keys", c.name)
}

func (c *Collection) upsertLocked(ctx context.Context, d Document, key string, value interface{}) (int64, error) {
	existing, err := c.findByKeyLocked(ctx, key, value)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return c.insertLocked(ctx, c.store.db, d)
	}
	if err := c.replaceLocked(ctx, existing.id, existing.doc.merge(d)); err != nil {
		return 0, err
	}
	return existing.id, nil
}

func (c *Collection) ensureLocked(ctx context.Context, q querier) error {
	if _, err := q.ExecContext(ctx, "INSERT OR IGNORE INTO collections (name) VALUES (?)", c.name); err != nil {
		return errors.Wrapf(err, "create collection %s", c.name)
	}
	return nil
}

func (c *Collection) insertLocked(ctx context.Context, q querier, d Document) (int64, error) {
	start := time.Now()
	if err := c.ensureLocked(ctx, q); err != nil {
		return 0, err
	}
	body, err := json.Marshal(d)
	if err != nil {
		return 0, errors.Wrap(err, "encode document")
	}
	res, err := q.ExecContext(ctx, "INSERT INTO documents (collection, body) VALUES (?, ?)", c.name, string(body))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, errors.Wrapf(errors.ErrConflict, "insert into %s: %v", c.name, err)
		}
		return 0, errors.Wrapf(err, "insert into %s", c.name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrapf(err, "insert id in %s", c.name)
	}
	c.store.debug("Inserted document",
		logger.FieldCollection, c.name,
		"id", id,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return id, nil
}

func (c *Collection) insertManyLocked(ctx context.Context, docs []Document) ([]int64, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "begin insert on %s", c.name)
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		id, err := c.insertLocked(ctx, tx, d)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrapf(err, "commit insert on %s", c.name)
	}
	return ids, nil
}

func (c *Collection) replaceLocked(ctx context.Context, id int64, d Document) error {
	body, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode document")
	}
	_, err = c.store.db.ExecContext(ctx,
		"UPDATE documents SET body = ?, updated_at = datetime('now') WHERE id = ?", string(body), id)
	if err != nil {
		return errors.Wrapf(err, "update document %d in %s", id, c.name)
	}
	return nil
}
