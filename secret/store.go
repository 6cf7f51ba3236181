package secret

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/cruxvault/cruxvault/audit"
	"github.com/cruxvault/cruxvault/cipher"
	"github.com/cruxvault/cruxvault/internal/sqlstore"
	"github.com/cruxvault/cruxvault/vaulterrors"
)

const timeLayout = time.RFC3339Nano

// Store is the Working Store: the current set of secrets on the
// active branch, plus per-path version history. All multi-row
// operations run inside a single transaction against the shared
// sqlstore.DB, and every call is recorded to auditLog (a nil logger is
// fine — audit.Logger.Log is a no-op on a nil receiver).
type Store struct {
	db       *sqlstore.DB
	enc      *cipher.Encryptor
	auditLog *audit.Logger
}

// New builds a Store over db, encrypting and decrypting values with
// enc, and recording every call to auditLog.
func New(db *sqlstore.DB, enc *cipher.Encryptor, auditLog *audit.Logger) *Store {
	return &Store{db: db, enc: enc, auditLog: auditLog}
}

// currentUser resolves the acting user from the environment, falling
// back to "unknown" when unset — the same convention the original
// source used for SecretVersion.created_by.
func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", vaulterrors.Wrap(err, vaulterrors.IO, "failed to encode tags")
	}
	return string(raw), nil
}

func decodeTags(raw string) []string {
	var tags []string
	if raw == "" {
		return []string{}
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return []string{}
	}
	return tags
}

func encodeMetadata(meta map[string]string) (string, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return "", vaulterrors.Wrap(err, vaulterrors.IO, "failed to encode metadata")
	}
	return string(raw), nil
}

func decodeMetadata(raw string) map[string]string {
	meta := map[string]string{}
	if raw == "" {
		return meta
	}
	_ = json.Unmarshal([]byte(raw), &meta)
	return meta
}

// currentRow mirrors one row of the secrets table before decryption.
type currentRow struct {
	path      string
	encrypted string
	typ       string
	version   int
	createdAt string
	updatedAt string
	tags      string
	metadata  string
}

func (s *Store) loadCurrent(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, path string) (*currentRow, error) {
	row := q.QueryRowContext(ctx, `
		SELECT path, encrypted_value, type, version, created_at, updated_at, tags, metadata
		FROM secrets WHERE path = ?`, path)

	var r currentRow
	err := row.Scan(&r.path, &r.encrypted, &r.typ, &r.version, &r.createdAt, &r.updatedAt, &r.tags, &r.metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, vaulterrors.Wrap(err, vaulterrors.IO, "failed to load secret row")
	}
	return &r, nil
}

func (r *currentRow) decrypt(enc *cipher.Encryptor) (*Secret, error) {
	value, err := enc.Decrypt(r.encrypted)
	if err != nil {
		return nil, err
	}
	createdAt, _ := time.Parse(timeLayout, r.createdAt)
	updatedAt, _ := time.Parse(timeLayout, r.updatedAt)
	return &Secret{
		Path:      r.path,
		Value:     value,
		Type:      Type(r.typ),
		Version:   r.version,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Tags:      decodeTags(r.tags),
		Metadata:  decodeMetadata(r.metadata),
	}, nil
}

// Set stores or updates the value at path. If no row exists, it
// inserts a new current row at version 1. If a row exists, the
// existing ciphertext/version/updated_at are copied into a new
// SecretVersion history row before the current row is overwritten,
// its version bumped by one, and its tags replaced. An existing row's
// type is never changed by Set. Returns the new current Secret with
// its plaintext value re-exposed to the caller.
func (s *Store) Set(ctx context.Context, path, plaintext string, typ Type, tags []string) (*Secret, error) {
	if typ == "" {
		typ = TypeSecret
	}

	encryptedValue, err := s.enc.Encrypt(plaintext)
	if err != nil {
		s.auditLog.Log(currentUser(), "set", path, false, err, nil)
		return nil, err
	}

	encodedTags, err := encodeTags(tags)
	if err != nil {
		s.auditLog.Log(currentUser(), "set", path, false, err, nil)
		return nil, err
	}

	var result *Secret
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.loadCurrent(ctx, tx, path)
		if err != nil {
			return err
		}

		now := time.Now().UTC().Format(timeLayout)

		if existing == nil {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO secrets (path, encrypted_value, type, version, created_at, updated_at, tags, metadata)
				VALUES (?, ?, ?, 1, ?, ?, ?, '{}')`,
				path, encryptedValue, string(typ), now, now, encodedTags)
			if err != nil {
				return vaulterrors.Wrap(err, vaulterrors.IO, "failed to insert secret")
			}

			created, _ := time.Parse(timeLayout, now)
			result = &Secret{
				Path: path, Value: plaintext, Type: typ, Version: 1,
				CreatedAt: created, UpdatedAt: created,
				Tags: tags, Metadata: map[string]string{},
			}
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO secret_versions (path, encrypted_value, version, created_at, created_by)
			VALUES (?, ?, ?, ?, ?)`,
			existing.path, existing.encrypted, existing.version, existing.updatedAt, currentUser())
		if err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to archive previous version")
		}

		newVersion := existing.version + 1
		_, err = tx.ExecContext(ctx, `
			UPDATE secrets SET encrypted_value = ?, version = ?, updated_at = ?, tags = ?
			WHERE path = ?`,
			encryptedValue, newVersion, now, encodedTags, path)
		if err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to update secret")
		}

		createdAt, _ := time.Parse(timeLayout, existing.createdAt)
		updatedAt, _ := time.Parse(timeLayout, now)
		result = &Secret{
			Path: path, Value: plaintext, Type: Type(existing.typ), Version: newVersion,
			CreatedAt: createdAt, UpdatedAt: updatedAt,
			Tags: tags, Metadata: decodeMetadata(existing.metadata),
		}
		return nil
	})

	s.auditLog.Log(currentUser(), "set", path, err == nil, err, nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Get retrieves and decrypts the current value at path. A miss
// returns (nil, nil) — absence is not an error.
func (s *Store) Get(ctx context.Context, path string) (*Secret, error) {
	var result *Secret
	err := s.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		row, err := s.loadCurrent(ctx, tx, path)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		result, err = row.decrypt(s.enc)
		return err
	})

	s.auditLog.Log(currentUser(), "get", path, err == nil, err, nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// List returns every current secret whose path has the given literal
// prefix (or all secrets if prefix is empty), ordered ascending by path.
func (s *Store) List(ctx context.Context, prefix string) ([]*Secret, error) {
	var results []*Secret
	err := s.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT path, encrypted_value, type, version, created_at, updated_at, tags, metadata
			FROM secrets WHERE path LIKE ? ESCAPE '\' AND substr(path, 1, length(?)) = ? ORDER BY path ASC`,
			likePrefix(prefix), prefix, prefix)
		if err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to list secrets")
		}
		defer rows.Close()

		for rows.Next() {
			var r currentRow
			if err := rows.Scan(&r.path, &r.encrypted, &r.typ, &r.version, &r.createdAt, &r.updatedAt, &r.tags, &r.metadata); err != nil {
				return vaulterrors.Wrap(err, vaulterrors.IO, "failed to scan secret row")
			}
			secret, err := r.decrypt(s.enc)
			if err != nil {
				return err
			}
			results = append(results, secret)
		}
		return vaulterrors.Wrap(rows.Err(), vaulterrors.IO, "failed to iterate secrets")
	})

	s.auditLog.Log(currentUser(), "list", prefix, err == nil, err, nil)
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results, nil
}

// likePrefix escapes SQL LIKE metacharacters in prefix and appends the
// trailing wildcard. SQLite's LIKE ignores ASCII case, so List also
// compares the leading substring exactly; together the two make its
// prefix filter a literal match.
func likePrefix(prefix string) string {
	escaped := make([]byte, 0, len(prefix)+1)
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '\\', '%', '_':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, prefix[i])
	}
	return string(escaped) + "%"
}

// Delete removes the current row and all history rows for path.
// Returns whether a row existed.
func (s *Store) Delete(ctx context.Context, path string) (bool, error) {
	var existed bool
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		row, err := s.loadCurrent(ctx, tx, path)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		existed = true

		if _, err := tx.ExecContext(ctx, `DELETE FROM secret_versions WHERE path = ?`, path); err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to delete secret history")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM secrets WHERE path = ?`, path); err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to delete secret")
		}
		return nil
	})

	s.auditLog.Log(currentUser(), "delete", path, err == nil, err, nil)
	if err != nil {
		return false, err
	}
	return existed, nil
}

// History returns the version history for path, descending by
// version, with the current row included first as pseudo-version N.
// An absent path returns an empty slice.
func (s *Store) History(ctx context.Context, path string) ([]*Version, error) {
	var versions []*Version
	err := s.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		current, err := s.loadCurrent(ctx, tx, path)
		if err != nil {
			return err
		}
		if current == nil {
			return nil
		}

		value, err := s.enc.Decrypt(current.encrypted)
		if err != nil {
			return err
		}
		updatedAt, _ := time.Parse(timeLayout, current.updatedAt)
		versions = append(versions, &Version{
			Path: path, Value: value, Version: current.version,
			CreatedAt: updatedAt, CreatedBy: currentUser(),
		})

		rows, err := tx.QueryContext(ctx, `
			SELECT encrypted_value, version, created_at, created_by
			FROM secret_versions WHERE path = ? ORDER BY version DESC`, path)
		if err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to load secret history")
		}
		defer rows.Close()

		for rows.Next() {
			var encrypted, createdAtRaw string
			var version int
			var createdBy sql.NullString
			if err := rows.Scan(&encrypted, &version, &createdAtRaw, &createdBy); err != nil {
				return vaulterrors.Wrap(err, vaulterrors.IO, "failed to scan secret version")
			}
			value, err := s.enc.Decrypt(encrypted)
			if err != nil {
				return err
			}
			createdAt, _ := time.Parse(timeLayout, createdAtRaw)
			versions = append(versions, &Version{
				Path: path, Value: value, Version: version,
				CreatedAt: createdAt, CreatedBy: createdBy.String,
			})
		}
		return vaulterrors.Wrap(rows.Err(), vaulterrors.IO, "failed to iterate secret history")
	})

	s.auditLog.Log(currentUser(), "history", path, err == nil, err, nil)
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// Rollback restores the ciphertext of targetVersion as the new
// current value. The current row is archived first (tags are NOT
// rolled back — spec.md §9 codifies this as intentional), then the
// current version is incremented by one.
func (s *Store) Rollback(ctx context.Context, path string, targetVersion int) (*Secret, error) {
	var result *Secret
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var targetEncrypted string
		row := tx.QueryRowContext(ctx, `
			SELECT encrypted_value FROM secret_versions WHERE path = ? AND version = ?`,
			path, targetVersion)
		if err := row.Scan(&targetEncrypted); err != nil {
			if err == sql.ErrNoRows {
				return errVersionNotFound(targetVersion, path)
			}
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to load target version")
		}

		current, err := s.loadCurrent(ctx, tx, path)
		if err != nil {
			return err
		}
		if current == nil {
			return errNotFound(path)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO secret_versions (path, encrypted_value, version, created_at, created_by)
			VALUES (?, ?, ?, ?, ?)`,
			current.path, current.encrypted, current.version, current.updatedAt, currentUser()); err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to archive current version before rollback")
		}

		now := time.Now().UTC().Format(timeLayout)
		newVersion := current.version + 1
		if _, err := tx.ExecContext(ctx, `
			UPDATE secrets SET encrypted_value = ?, version = ?, updated_at = ? WHERE path = ?`,
			targetEncrypted, newVersion, now, path); err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to apply rollback")
		}

		value, err := s.enc.Decrypt(targetEncrypted)
		if err != nil {
			return err
		}
		createdAt, _ := time.Parse(timeLayout, current.createdAt)
		updatedAt, _ := time.Parse(timeLayout, now)
		result = &Secret{
			Path: path, Value: value, Type: Type(current.typ), Version: newVersion,
			CreatedAt: createdAt, UpdatedAt: updatedAt,
			Tags: decodeTags(current.tags), Metadata: decodeMetadata(current.metadata),
		}
		return nil
	})

	s.auditLog.Log(currentUser(), "rollback", path, err == nil, err, nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetMetadata replaces the free-form metadata map stored alongside
// path's current row. It does not touch version, tags, or value, and
// does not create a history entry.
func (s *Store) SetMetadata(ctx context.Context, path string, metadata map[string]string) error {
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		s.auditLog.Log(currentUser(), "set_metadata", path, false, err, nil)
		return err
	}

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.loadCurrent(ctx, tx, path)
		if err != nil {
			return err
		}
		if existing == nil {
			return errNotFound(path)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE secrets SET metadata = ? WHERE path = ?`, encoded, path); err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to update secret metadata")
		}
		return nil
	})

	s.auditLog.Log(currentUser(), "set_metadata", path, err == nil, err, nil)
	return err
}

// Metadata returns the free-form metadata map stored alongside path's
// current row.
func (s *Store) Metadata(ctx context.Context, path string) (map[string]string, error) {
	var result map[string]string
	err := s.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		row, err := s.loadCurrent(ctx, tx, path)
		if err != nil {
			return err
		}
		if row == nil {
			return errNotFound(path)
		}
		result = decodeMetadata(row.metadata)
		return nil
	})

	s.auditLog.Log(currentUser(), "metadata", path, err == nil, err, nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}
