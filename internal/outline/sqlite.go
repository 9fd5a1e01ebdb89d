package outline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteRepository stores documents in the documents table and outline rows in book.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDocument = `
SELECT d.id, d.title, d.subtitle, d.bundle, d.body, d.status, d.published_at,
       b.bid, b.pid, b.p2, b.depth, b.weight, b.has_children
FROM documents d
LEFT JOIN book b ON b.nid = d.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc         Document
		status      int
		publishedAt sql.NullString
		bid, pid    sql.NullInt64
		p2, depth   sql.NullInt64
		weight      sql.NullInt64
		hasChildren sql.NullBool
	)
	if err := row.Scan(
		&doc.ID, &doc.Title, &doc.Subtitle, &doc.Bundle, &doc.Body, &status, &publishedAt,
		&bid, &pid, &p2, &depth, &weight, &hasChildren,
	); err != nil {
		return nil, err
	}

	doc.Status = Status(status)
	if publishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, publishedAt.String); err == nil {
			doc.PublishedAt = &t
		}
	}
	if bid.Valid {
		doc.Outline = &Membership{
			BookID:      bid.Int64,
			ParentID:    pid.Int64,
			BranchID:    p2.Int64,
			Depth:       int(depth.Int64),
			Weight:      int(weight.Int64),
			HasChildren: hasChildren.Bool,
		}
	}
	return &doc, nil
}

func (r *SQLiteRepository) Load(ctx context.Context, id int64) (*Document, error) {
	doc, err := scanDocument(r.db.QueryRowContext(ctx, selectDocument+` WHERE d.id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load document %d: %w", id, err)
	}
	return doc, nil
}

func (r *SQLiteRepository) LoadMultiple(ctx context.Context, ids []int64) (map[int64]*Document, error) {
	out := make(map[int64]*Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, selectDocument+` WHERE d.id IN (`+placeholders+`);`, args...)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) ChildrenOf(ctx context.Context, id int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT nid FROM book
WHERE pid = ? AND nid <> ?
ORDER BY weight ASC, nid ASC;
`, id, id)
	if err != nil {
		return nil, fmt.Errorf("query children of %d: %w", id, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var nid int64
		if err := rows.Scan(&nid); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		ids = append(ids, nid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return ids, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, doc *Document) (int64, error) {
	if doc.Title == "" {
		return 0, fmt.Errorf("title is empty")
	}
	if doc.Bundle == "" {
		return 0, fmt.Errorf("bundle is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := r.db.ExecContext(ctx, `
INSERT INTO documents(title, subtitle, bundle, body, status, published_at, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, doc.Title, doc.Subtitle, doc.Bundle, doc.Body, int(doc.Status), formatTime(doc.PublishedAt), now, now)
	if err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("document id: %w", err)
	}
	doc.ID = id
	return id, nil
}

// Save updates the document fields. Outline placement changes go through AddToBook.
func (r *SQLiteRepository) Save(ctx context.Context, doc *Document) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET title = ?, subtitle = ?, bundle = ?, body = ?, status = ?, published_at = ?, updated_at = ?
WHERE id = ?;
`, doc.Title, doc.Subtitle, doc.Bundle, doc.Body, int(doc.Status), formatTime(doc.PublishedAt),
		time.Now().UTC().Format(time.RFC3339Nano), doc.ID)
	if err != nil {
		return fmt.Errorf("update document %d: %w", doc.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save document %d: %w", doc.ID, ErrNotFound)
	}
	return nil
}

// Delete removes the document and its outline row, then refreshes the parent's has_children flag.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var parentID sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT pid FROM book WHERE nid = ?;`, id).Scan(&parentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load outline of %d: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM book WHERE nid = ?;`, id); err != nil {
		return fmt.Errorf("delete outline of %d: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete document %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete document %d: %w", id, ErrNotFound)
	}

	if parentID.Valid && parentID.Int64 != 0 {
		if _, err := tx.ExecContext(ctx, `
UPDATE book SET has_children = EXISTS(SELECT 1 FROM book c WHERE c.pid = ?)
WHERE nid = ?;
`, parentID.Int64, parentID.Int64); err != nil {
			return fmt.Errorf("refresh parent %d: %w", parentID.Int64, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) AddToBook(ctx context.Context, id, parentID int64, weight int) (Membership, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Membership{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE id = ?;`, id).Scan(&exists); err != nil {
		return Membership{}, fmt.Errorf("check document %d: %w", id, err)
	}
	if exists == 0 {
		return Membership{}, fmt.Errorf("add document %d: %w", id, ErrNotFound)
	}

	var parent *Membership
	if parentID != 0 {
		var p Membership
		err := tx.QueryRowContext(ctx, `SELECT bid, p2, depth FROM book WHERE nid = ?;`, parentID).
			Scan(&p.BookID, &p.BranchID, &p.Depth)
		if errors.Is(err, sql.ErrNoRows) {
			return Membership{}, fmt.Errorf("parent %d: %w", parentID, ErrNotFound)
		}
		if err != nil {
			return Membership{}, fmt.Errorf("load parent %d: %w", parentID, err)
		}
		parent = &p
	}

	mem := membershipUnder(id, parentID, parent, weight)
	var children int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM book WHERE pid = ? AND nid <> ?;`, id, id).Scan(&children); err != nil {
		return Membership{}, fmt.Errorf("count children of %d: %w", id, err)
	}
	mem.HasChildren = children > 0

	var oldParent sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT pid FROM book WHERE nid = ?;`, id).Scan(&oldParent)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Membership{}, fmt.Errorf("load outline of %d: %w", id, err)
	case oldParent.Int64 != parentID && children > 0:
		return Membership{}, fmt.Errorf("move %d under %d: %w", id, parentID, ErrMoveSubtree)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO book(nid, bid, pid, p2, depth, weight, has_children)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(nid) DO UPDATE SET
  bid = excluded.bid, pid = excluded.pid, p2 = excluded.p2,
  depth = excluded.depth, weight = excluded.weight, has_children = excluded.has_children;
`, id, mem.BookID, mem.ParentID, mem.BranchID, mem.Depth, mem.Weight, mem.HasChildren); err != nil {
		return Membership{}, fmt.Errorf("write outline of %d: %w", id, err)
	}

	if parentID != 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE book SET has_children = 1 WHERE nid = ?;`, parentID); err != nil {
			return Membership{}, fmt.Errorf("flag parent %d: %w", parentID, err)
		}
	}
	if old := oldParent.Int64; old != 0 && old != parentID {
		if _, err := tx.ExecContext(ctx, `
UPDATE book SET has_children = EXISTS(SELECT 1 FROM book c WHERE c.pid = ? AND c.nid <> ?)
WHERE nid = ?;
`, old, old, old); err != nil {
			return Membership{}, fmt.Errorf("refresh old parent %d: %w", old, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Membership{}, fmt.Errorf("commit outline: %w", err)
	}
	return mem, nil
}

func (r *SQLiteRepository) AllOutlineData(ctx context.Context, bookID int64) (*Node, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT nid, pid FROM book
WHERE bid = ?
ORDER BY weight ASC, nid ASC;
`, bookID)
	if err != nil {
		return nil, fmt.Errorf("query book %d: %w", bookID, err)
	}
	defer rows.Close()

	children := make(map[int64][]int64)
	found := false
	for rows.Next() {
		var nid, pid int64
		if err := rows.Scan(&nid, &pid); err != nil {
			return nil, fmt.Errorf("scan outline row: %w", err)
		}
		if nid == bookID {
			found = true
			continue
		}
		children[pid] = append(children[pid], nid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outline: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("book %d: %w", bookID, ErrNotFound)
	}
	return buildTree(bookID, children), nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
