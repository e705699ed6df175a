package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const fileColumns = "id, name, original, type, size, hash, ip, userid, albumid, timestamp, expirydate"

func scanFile(row interface{ Scan(...any) error }) (File, error) {
	var f File
	err := row.Scan(&f.ID, &f.Name, &f.Original, &f.Type, &f.Size, &f.Hash,
		&f.IP, &f.UserID, &f.AlbumID, &f.Timestamp, &f.ExpiryDate)
	return f, err
}

// FileNameTaken reports whether any row's name shares the identifier,
// regardless of extension. Identifiers are alphanumeric so the LIKE
// pattern needs no escaping.
func (q *Queries) FileNameTaken(ctx context.Context, identifier string) (bool, error) {
	var one int
	err := q.db.QueryRowContext(ctx,
		"SELECT 1 FROM files WHERE name LIKE ? LIMIT 1", identifier+".%").Scan(&one)
	if err == sql.ErrNoRows {
		// An extensionless upload stores the bare identifier.
		err = q.db.QueryRowContext(ctx,
			"SELECT 1 FROM files WHERE name = ? LIMIT 1", identifier).Scan(&one)
	}
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queries) GetFileByName(ctx context.Context, name string) (File, error) {
	return scanFile(q.db.QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE name = ?", name))
}

func (q *Queries) GetFileByID(ctx context.Context, id int64) (File, error) {
	return scanFile(q.db.QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE id = ?", id))
}

// FindDuplicate looks up an existing row with the same owner, hash and
// size. Anonymous uploads (invalid userID) are scoped to userid IS NULL.
func (q *Queries) FindDuplicate(ctx context.Context, userID sql.NullInt64, hash string, size int64) (File, error) {
	if userID.Valid {
		return scanFile(q.db.QueryRowContext(ctx,
			"SELECT "+fileColumns+" FROM files WHERE userid = ? AND hash = ? AND size = ? LIMIT 1",
			userID.Int64, hash, size))
	}
	return scanFile(q.db.QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE userid IS NULL AND hash = ? AND size = ? LIMIT 1",
		hash, size))
}

func (q *Queries) InsertFile(ctx context.Context, f File) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO files (name, original, type, size, hash, ip, userid, albumid, timestamp, expirydate)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Name, f.Original, f.Type, f.Size, f.Hash, f.IP, f.UserID, f.AlbumID, f.Timestamp, f.ExpiryDate)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SelectFilesIn returns rows whose field (id or name) is in values,
// optionally scoped to an owner. Callers shard values to MaxSQLVars.
func (q *Queries) SelectFilesIn(ctx context.Context, field string, values []any, ownerID int64) ([]File, error) {
	if field != "id" && field != "name" {
		return nil, fmt.Errorf("db: unsupported field %q", field)
	}
	if len(values) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	query := "SELECT " + fileColumns + " FROM files WHERE " + field + " IN (" + placeholders + ")"
	args := append([]any{}, values...)
	if ownerID > 0 {
		query += " AND userid = ?"
		args = append(args, ownerID)
	}
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (q *Queries) DeleteFilesByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := q.db.ExecContext(ctx,
		"DELETE FROM files WHERE id IN ("+placeholders+")", args...)
	return err
}

// ListExpiredFiles returns every row whose expirydate has passed.
func (q *Queries) ListExpiredFiles(ctx context.Context, now int64) ([]File, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE expirydate IS NOT NULL AND expirydate <= ?", now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ListFilesWhere runs a compiled filter query. The where fragment and order
// clause come from the query compiler and contain only parameter slots.
func (q *Queries) ListFilesWhere(ctx context.Context, where string, args []any, order string, limit, offset int) ([]File, error) {
	query := "SELECT " + fileColumns + " FROM files"
	if where != "" {
		query += " WHERE " + where
	}
	if order != "" {
		query += " ORDER BY " + order
	}
	query += " LIMIT ? OFFSET ?"
	args = append(append([]any{}, args...), limit, offset)
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (q *Queries) CountFilesWhere(ctx context.Context, where string, args []any) (int64, error) {
	query := "SELECT COUNT(*) FROM files"
	if where != "" {
		query += " WHERE " + where
	}
	var n int64
	err := q.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

const albumColumns = "id, name, identifier, userid, enabled, public, download, description, timestamp, editedAt, zipGeneratedAt"

func scanAlbum(row interface{ Scan(...any) error }) (Album, error) {
	var a Album
	err := row.Scan(&a.ID, &a.Name, &a.Identifier, &a.UserID, &a.Enabled, &a.Public,
		&a.Download, &a.Description, &a.Timestamp, &a.EditedAt, &a.ZipGeneratedAt)
	return a, err
}

func (q *Queries) AlbumIdentifierTaken(ctx context.Context, identifier string) (bool, error) {
	var one int
	err := q.db.QueryRowContext(ctx,
		"SELECT 1 FROM albums WHERE identifier = ? LIMIT 1", identifier).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queries) GetAlbumByIdentifier(ctx context.Context, identifier string) (Album, error) {
	return scanAlbum(q.db.QueryRowContext(ctx,
		"SELECT "+albumColumns+" FROM albums WHERE identifier = ?", identifier))
}

func (q *Queries) GetAlbumByID(ctx context.Context, id int64) (Album, error) {
	return scanAlbum(q.db.QueryRowContext(ctx,
		"SELECT "+albumColumns+" FROM albums WHERE id = ?", id))
}

func (q *Queries) GetAlbumOwned(ctx context.Context, id, userID int64) (Album, error) {
	return scanAlbum(q.db.QueryRowContext(ctx,
		"SELECT "+albumColumns+" FROM albums WHERE id = ? AND userid = ? AND enabled = 1", id, userID))
}

// AlbumNameExists checks the per-owner uniqueness constraint over enabled
// albums only; disabled albums free their name.
func (q *Queries) AlbumNameExists(ctx context.Context, userID int64, name string) (bool, error) {
	var one int
	err := q.db.QueryRowContext(ctx,
		"SELECT 1 FROM albums WHERE userid = ? AND name = ? AND enabled = 1 LIMIT 1",
		userID, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queries) InsertAlbum(ctx context.Context, a Album) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO albums (name, identifier, userid, enabled, public, download, description, timestamp, editedAt, zipGeneratedAt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		a.Name, a.Identifier, a.UserID, a.Enabled, a.Public, a.Download, a.Description, a.Timestamp, a.EditedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (q *Queries) ListAlbumsByUser(ctx context.Context, userID int64, limit, offset int) ([]Album, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+albumColumns+" FROM albums WHERE userid = ? AND enabled = 1 ORDER BY id DESC LIMIT ? OFFSET ?",
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var albums []Album
	for rows.Next() {
		a, err := scanAlbum(rows)
		if err != nil {
			return nil, err
		}
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

func (q *Queries) CountAlbumsByUser(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM albums WHERE userid = ? AND enabled = 1", userID).Scan(&n)
	return n, err
}

// UpdateAlbumMeta rewrites the mutable album fields and bumps editedAt.
func (q *Queries) UpdateAlbumMeta(ctx context.Context, a Album, now int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE albums SET name = ?, description = ?, public = ?, download = ?, editedAt = ? WHERE id = ?`,
		a.Name, a.Description, a.Public, a.Download, now, a.ID)
	return err
}

func (q *Queries) SetAlbumEnabled(ctx context.Context, id int64, enabled bool, now int64) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE albums SET enabled = ?, editedAt = ? WHERE id = ?", enabled, now, id)
	return err
}

func (q *Queries) DeleteAlbumRow(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, "DELETE FROM albums WHERE id = ?", id)
	return err
}

// ClearAlbumFromFiles detaches files from a deleted album without cascading.
func (q *Queries) ClearAlbumFromFiles(ctx context.Context, albumID int64) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE files SET albumid = NULL WHERE albumid = ?", albumID)
	return err
}

// AuthorizedAlbumIDs filters candidate album ids down to those the user
// owns and that are enabled.
func (q *Queries) AuthorizedAlbumIDs(ctx context.Context, userID int64, candidates []int64) ([]int64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(candidates)), ",")
	args := make([]any, 0, len(candidates)+1)
	args = append(args, userID)
	for _, id := range candidates {
		args = append(args, id)
	}
	rows, err := q.db.QueryContext(ctx,
		"SELECT id FROM albums WHERE userid = ? AND enabled = 1 AND id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TouchAlbums sets editedAt = now on the given albums.
func (q *Queries) TouchAlbums(ctx context.Context, ids []int64, now int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, now)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := q.db.ExecContext(ctx,
		"UPDATE albums SET editedAt = ? WHERE id IN ("+placeholders+")", args...)
	return err
}

func (q *Queries) SetZipGeneratedAt(ctx context.Context, id, now int64) error {
	_, err := q.db.ExecContext(ctx,
		"UPDATE albums SET zipGeneratedAt = ? WHERE id = ?", now, id)
	return err
}

func (q *Queries) ListFilesInAlbum(ctx context.Context, albumID int64) ([]File, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE albumid = ? ORDER BY id ASC", albumID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (q *Queries) SumAlbumFileSize(ctx context.Context, albumID int64) (int64, error) {
	var total sql.NullInt64
	err := q.db.QueryRowContext(ctx,
		"SELECT SUM(size) FROM files WHERE albumid = ?", albumID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}

const userColumns = "id, username, password, token, enabled, permission, timestamp, registration"

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Password, &u.Token, &u.Enabled,
		&u.Permission, &u.Timestamp, &u.Registration)
	return u, err
}

func (q *Queries) GetUserByToken(ctx context.Context, token string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE token = ?", token))
}

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ?", username))
}

func (q *Queries) GetUserByID(ctx context.Context, id int64) (User, error) {
	return scanUser(q.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

func (q *Queries) InsertUser(ctx context.Context, u User) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO users (username, password, token, enabled, permission, timestamp, registration)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Password, u.Token, u.Enabled, u.Permission, u.Timestamp, u.Registration)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (q *Queries) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

func (q *Queries) UpdateUserToken(ctx context.Context, id int64, token string) error {
	_, err := q.db.ExecContext(ctx, "UPDATE users SET token = ? WHERE id = ?", token, id)
	return err
}

func (q *Queries) UpdateUserPassword(ctx context.Context, id int64, hash string) error {
	_, err := q.db.ExecContext(ctx, "UPDATE users SET password = ? WHERE id = ?", hash, id)
	return err
}

// AssignAlbumToFiles moves the owner's files into (or out of, with an
// invalid albumID) the album.
func (q *Queries) AssignAlbumToFiles(ctx context.Context, albumID sql.NullInt64, fileIDs []int64, ownerID int64) (int64, error) {
	if len(fileIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(fileIDs)), ",")
	args := make([]any, 0, len(fileIDs)+2)
	args = append(args, albumID)
	for _, id := range fileIDs {
		args = append(args, id)
	}
	args = append(args, ownerID)
	res, err := q.db.ExecContext(ctx,
		"UPDATE files SET albumid = ? WHERE id IN ("+placeholders+") AND userid = ?", args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
