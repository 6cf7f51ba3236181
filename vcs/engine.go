package vcs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cruxvault/cruxvault/audit"
	"github.com/cruxvault/cruxvault/cipher"
	"github.com/cruxvault/cruxvault/internal/sqlstore"
	"github.com/cruxvault/cruxvault/vaulterrors"
)

const timeLayout = time.RFC3339Nano

const mainBranch = "main"

// Engine is the Version-Control Engine: branch and commit operations
// layered over the same secrets table the Working Store mutates. Every
// call is recorded to auditLog (a nil logger is fine — audit.Logger.Log
// is a no-op on a nil receiver).
type Engine struct {
	db       *sqlstore.DB
	enc      *cipher.Encryptor
	auditLog *audit.Logger
}

// New builds an Engine over db, decrypting diff and conflict values
// with enc, and recording every call to auditLog.
func New(db *sqlstore.DB, enc *cipher.Encryptor, auditLog *audit.Logger) *Engine {
	return &Engine{db: db, enc: enc, auditLog: auditLog}
}

func currentAuthor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func encodeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	raw, _ := json.Marshal(tags)
	return string(raw)
}

func decodeTags(raw string) []string {
	var tags []string
	if raw == "" {
		return []string{}
	}
	_ = json.Unmarshal([]byte(raw), &tags)
	return tags
}

func loadBranch(ctx context.Context, tx *sql.Tx, name string) (*Branch, error) {
	row := tx.QueryRowContext(ctx, `SELECT name, head_commit_id, created_at FROM branches WHERE name = ?`, name)

	var b Branch
	var headCommitID sql.NullInt64
	var createdAt string
	if err := row.Scan(&b.Name, &headCommitID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, vaulterrors.Wrap(err, vaulterrors.IO, "failed to load branch")
	}
	if headCommitID.Valid {
		b.HeadCommitID = &headCommitID.Int64
	}
	b.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &b, nil
}

// CreateBranch creates a new branch. If from is non-empty, the new
// branch starts at from's current head commit; otherwise it starts
// with no commits.
func (e *Engine) CreateBranch(ctx context.Context, name, from string) (*Branch, error) {
	var result *Branch
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := loadBranch(ctx, tx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return errBranchExists(name)
		}

		var headCommitID *int64
		if from != "" {
			source, err := loadBranch(ctx, tx, from)
			if err != nil {
				return err
			}
			if source == nil {
				return errBranchNotFound(from)
			}
			headCommitID = source.HeadCommitID
		}

		now := time.Now().UTC().Format(timeLayout)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO branches (name, head_commit_id, created_at) VALUES (?, ?, ?)`,
			name, headCommitID, now); err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to insert branch")
		}

		createdAt, _ := time.Parse(timeLayout, now)
		result = &Branch{Name: name, HeadCommitID: headCommitID, CreatedAt: createdAt}
		return nil
	})

	e.auditLog.Log(currentAuthor(), "create_branch", name, err == nil, err, nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListBranches returns every branch, in no particular order.
func (e *Engine) ListBranches(ctx context.Context) ([]*Branch, error) {
	var branches []*Branch
	err := e.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT name, head_commit_id, created_at FROM branches`)
		if err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to list branches")
		}
		defer rows.Close()

		for rows.Next() {
			var name, createdAt string
			var headCommitID sql.NullInt64
			if err := rows.Scan(&name, &headCommitID, &createdAt); err != nil {
				return vaulterrors.Wrap(err, vaulterrors.IO, "failed to scan branch")
			}
			b := &Branch{Name: name}
			if headCommitID.Valid {
				b.HeadCommitID = &headCommitID.Int64
			}
			b.CreatedAt, _ = time.Parse(timeLayout, createdAt)
			branches = append(branches, b)
		}
		return vaulterrors.Wrap(rows.Err(), vaulterrors.IO, "failed to iterate branches")
	})

	e.auditLog.Log(currentAuthor(), "list_branches", "", err == nil, err, nil)
	if err != nil {
		return nil, err
	}
	return branches, nil
}

// DeleteBranch removes a branch. The main branch can never be
// deleted. Returns whether a branch existed.
func (e *Engine) DeleteBranch(ctx context.Context, name string) (bool, error) {
	if name == mainBranch {
		err := errCannotDeleteMain()
		e.auditLog.Log(currentAuthor(), "delete_branch", name, false, err, nil)
		return false, err
	}

	var existed bool
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := loadBranch(ctx, tx, name)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		existed = true
		if _, err := tx.ExecContext(ctx, `DELETE FROM branches WHERE name = ?`, name); err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to delete branch")
		}
		return nil
	})

	e.auditLog.Log(currentAuthor(), "delete_branch", name, err == nil, err, nil)
	if err != nil {
		return false, err
	}
	return existed, nil
}

// GetBranch returns a branch, or (nil, nil) if it does not exist.
func (e *Engine) GetBranch(ctx context.Context, name string) (*Branch, error) {
	var result *Branch
	err := e.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		b, err := loadBranch(ctx, tx, name)
		result = b
		return err
	})

	e.auditLog.Log(currentAuthor(), "get_branch", name, err == nil, err, nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Commit snapshots every row currently in the secrets table into a
// new commit attached to branch, advancing the branch's head. If
// author is empty it falls back to the $USER environment variable.
func (e *Engine) Commit(ctx context.Context, branchName, message, author string) (*Commit, error) {
	if author == "" {
		author = currentAuthor()
	}

	var result *Commit
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		branch, err := loadBranch(ctx, tx, branchName)
		if err != nil {
			return err
		}
		if branch == nil {
			return errBranchNotFound(branchName)
		}

		now := time.Now().UTC().Format(timeLayout)
		res, err := tx.ExecContext(ctx, `
			INSERT INTO commits (parent_id, message, author, timestamp, branch) VALUES (?, ?, ?, ?, ?)`,
			branch.HeadCommitID, message, author, now, branchName)
		if err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to insert commit")
		}
		commitID, err := res.LastInsertId()
		if err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to read commit id")
		}

		rows, err := tx.QueryContext(ctx, `SELECT path, encrypted_value, type, tags FROM secrets`)
		if err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to snapshot secrets")
		}
		defer rows.Close()

		for rows.Next() {
			var path, encrypted, typ, tags string
			if err := rows.Scan(&path, &encrypted, &typ, &tags); err != nil {
				return vaulterrors.Wrap(err, vaulterrors.IO, "failed to scan secret for commit")
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO commit_secrets (commit_id, path, encrypted_value, type, tags)
				VALUES (?, ?, ?, ?, ?)`, commitID, path, encrypted, typ, tags); err != nil {
				return vaulterrors.Wrap(err, vaulterrors.IO, "failed to insert commit secret")
			}
		}
		if err := rows.Err(); err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to iterate secrets for commit")
		}

		if _, err := tx.ExecContext(ctx, `UPDATE branches SET head_commit_id = ? WHERE name = ?`, commitID, branchName); err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to advance branch head")
		}

		timestamp, _ := time.Parse(timeLayout, now)
		result = &Commit{
			ID: commitID, ParentID: branch.HeadCommitID, Message: message,
			Author: author, Timestamp: timestamp, Branch: branchName,
		}
		return nil
	})

	e.auditLog.Log(author, "commit", branchName, err == nil, err, nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CommitHistory walks branch's head commit back through parent_id
// links, returning up to limit commits, most recent first.
func (e *Engine) CommitHistory(ctx context.Context, branchName string, limit int) ([]*Commit, error) {
	var commits []*Commit
	err := e.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		branch, err := loadBranch(ctx, tx, branchName)
		if err != nil {
			return err
		}
		if branch == nil {
			return errBranchNotFound(branchName)
		}
		if branch.HeadCommitID == nil {
			return nil
		}

		currentID := branch.HeadCommitID
		for currentID != nil && len(commits) < limit {
			row := tx.QueryRowContext(ctx, `
				SELECT id, parent_id, message, author, timestamp, branch FROM commits WHERE id = ?`, *currentID)

			var c Commit
			var parentID sql.NullInt64
			var timestamp string
			if err := row.Scan(&c.ID, &parentID, &c.Message, &c.Author, &timestamp, &c.Branch); err != nil {
				if err == sql.ErrNoRows {
					break
				}
				return vaulterrors.Wrap(err, vaulterrors.IO, "failed to load commit")
			}
			c.Timestamp, _ = time.Parse(timeLayout, timestamp)
			if parentID.Valid {
				c.ParentID = &parentID.Int64
			}
			commits = append(commits, &c)
			currentID = c.ParentID
		}
		return nil
	})

	e.auditLog.Log(currentAuthor(), "commit_history", branchName, err == nil, err, nil)
	if err != nil {
		return nil, err
	}
	return commits, nil
}

func loadCommitSecrets(ctx context.Context, tx *sql.Tx, commitID int64) (map[string]CommitSecret, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT path, encrypted_value, type, tags FROM commit_secrets WHERE commit_id = ?`, commitID)
	if err != nil {
		return nil, vaulterrors.Wrap(err, vaulterrors.IO, "failed to load commit secrets")
	}
	defer rows.Close()

	result := map[string]CommitSecret{}
	for rows.Next() {
		var path, encrypted, typ, tags string
		if err := rows.Scan(&path, &encrypted, &typ, &tags); err != nil {
			return nil, vaulterrors.Wrap(err, vaulterrors.IO, "failed to scan commit secret")
		}
		result[path] = CommitSecret{
			CommitID: commitID, Path: path, EncryptedValue: encrypted,
			Type: typ, Tags: decodeTags(tags),
		}
	}
	return result, vaulterrors.Wrap(rows.Err(), vaulterrors.IO, "failed to iterate commit secrets")
}

// CheckoutBranch replaces the Working Store's contents with
// branch's head commit snapshot. Every restored row starts back at
// version 1 — checkout does not preserve prior version history.
func (e *Engine) CheckoutBranch(ctx context.Context, branchName string) error {
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		branch, err := loadBranch(ctx, tx, branchName)
		if err != nil {
			return err
		}
		if branch == nil {
			return errBranchNotFound(branchName)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM secrets`); err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to clear working store")
		}

		if branch.HeadCommitID == nil {
			return nil
		}

		secrets, err := loadCommitSecrets(ctx, tx, *branch.HeadCommitID)
		if err != nil {
			return err
		}
		return restoreSecrets(ctx, tx, secrets)
	})

	e.auditLog.Log(currentAuthor(), "checkout", branchName, err == nil, err, nil)
	return err
}

func restoreSecrets(ctx context.Context, tx *sql.Tx, secrets map[string]CommitSecret) error {
	now := time.Now().UTC().Format(timeLayout)
	for path, cs := range secrets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO secrets (path, encrypted_value, type, version, created_at, updated_at, tags, metadata)
			VALUES (?, ?, ?, 1, ?, ?, ?, '{}')`,
			path, cs.EncryptedValue, cs.Type, now, now, encodeTags(cs.Tags)); err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to restore secret")
		}
	}
	return nil
}

// Status compares the Working Store's current rows against branch's
// head commit. Comparison is by ciphertext, not plaintext: setting a
// secret back to an identical plaintext still produces new ciphertext
// (fresh nonce) and is reported as modified.
func (e *Engine) Status(ctx context.Context, branchName string) (*Status, error) {
	var result Status
	err := e.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		branch, err := loadBranch(ctx, tx, branchName)
		if err != nil {
			return err
		}
		if branch == nil {
			return errBranchNotFound(branchName)
		}

		current, err := loadCurrentCiphertexts(ctx, tx)
		if err != nil {
			return err
		}

		if branch.HeadCommitID == nil {
			for path := range current {
				result.Added = append(result.Added, path)
			}
			return nil
		}

		committed, err := loadCommitSecrets(ctx, tx, *branch.HeadCommitID)
		if err != nil {
			return err
		}

		for path, encrypted := range current {
			cs, ok := committed[path]
			if !ok {
				result.Added = append(result.Added, path)
			} else if cs.EncryptedValue != encrypted {
				result.Modified = append(result.Modified, path)
			}
		}
		for path := range committed {
			if _, ok := current[path]; !ok {
				result.Deleted = append(result.Deleted, path)
			}
		}
		return nil
	})

	e.auditLog.Log(currentAuthor(), "status", branchName, err == nil, err, nil)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func loadCurrentCiphertexts(ctx context.Context, tx *sql.Tx) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT path, encrypted_value FROM secrets`)
	if err != nil {
		return nil, vaulterrors.Wrap(err, vaulterrors.IO, "failed to load working store")
	}
	defer rows.Close()

	result := map[string]string{}
	for rows.Next() {
		var path, encrypted string
		if err := rows.Scan(&path, &encrypted); err != nil {
			return nil, vaulterrors.Wrap(err, vaulterrors.IO, "failed to scan secret")
		}
		result[path] = encrypted
	}
	return result, vaulterrors.Wrap(rows.Err(), vaulterrors.IO, "failed to iterate working store")
}

// Diff compares two commits' snapshots by ciphertext, returning added,
// modified, and deleted paths with decrypted old/new values.
func (e *Engine) Diff(ctx context.Context, commit1ID, commit2ID int64) ([]DiffEntry, error) {
	var entries []DiffEntry
	err := e.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		secrets1, err := loadCommitSecrets(ctx, tx, commit1ID)
		if err != nil {
			return err
		}
		secrets2, err := loadCommitSecrets(ctx, tx, commit2ID)
		if err != nil {
			return err
		}

		for path, cs2 := range secrets2 {
			cs1, ok := secrets1[path]
			if !ok {
				newValue, err := e.enc.Decrypt(cs2.EncryptedValue)
				if err != nil {
					return err
				}
				entries = append(entries, DiffEntry{Path: path, Status: "added", NewValue: &newValue})
				continue
			}
			if cs1.EncryptedValue != cs2.EncryptedValue {
				oldValue, err := e.enc.Decrypt(cs1.EncryptedValue)
				if err != nil {
					return err
				}
				newValue, err := e.enc.Decrypt(cs2.EncryptedValue)
				if err != nil {
					return err
				}
				entries = append(entries, DiffEntry{Path: path, Status: "modified", OldValue: &oldValue, NewValue: &newValue})
			}
		}

		for path, cs1 := range secrets1 {
			if _, ok := secrets2[path]; !ok {
				oldValue, err := e.enc.Decrypt(cs1.EncryptedValue)
				if err != nil {
					return err
				}
				entries = append(entries, DiffEntry{Path: path, Status: "deleted", OldValue: &oldValue})
			}
		}
		return nil
	})

	e.auditLog.Log(currentAuthor(), "diff", fmt.Sprintf("%d..%d", commit1ID, commit2ID), err == nil, err, nil)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ResetToCommit points branch at commitID and replaces the Working
// Store's contents with that commit's snapshot, same as CheckoutBranch
// but pinning to an arbitrary ancestor commit rather than a branch's
// current head.
func (e *Engine) ResetToCommit(ctx context.Context, branchName string, commitID int64) error {
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM commits WHERE id = ?`, commitID).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return errCommitNotFound(commitID)
			}
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to load commit")
		}

		branch, err := loadBranch(ctx, tx, branchName)
		if err != nil {
			return err
		}
		if branch == nil {
			return errBranchNotFound(branchName)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE branches SET head_commit_id = ? WHERE name = ?`, commitID, branchName); err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to reset branch head")
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM secrets`); err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to clear working store")
		}

		secrets, err := loadCommitSecrets(ctx, tx, commitID)
		if err != nil {
			return err
		}
		return restoreSecrets(ctx, tx, secrets)
	})

	e.auditLog.Log(currentAuthor(), "reset_to_commit", branchName, err == nil, err, nil)
	return err
}

// Merge compares sourceBranch's head commit against targetBranch's
// head commit. Any path present in both heads whose ciphertext differs
// is reported as a conflict and the merge is aborted with no changes
// made. With no conflicts, the Working Store is replaced with the
// union of both snapshots — source's row wins on paths present in
// both, target-only paths are carried through unchanged — and a merge
// result of Merged=true is returned. A source branch with no commits
// yet merges cleanly as a no-op.
func (e *Engine) Merge(ctx context.Context, targetBranch, sourceBranch string) (*MergeResult, error) {
	mergePath := fmt.Sprintf("%s<-%s", targetBranch, sourceBranch)

	if targetBranch == sourceBranch {
		err := errCannotMergeSelf()
		e.auditLog.Log(currentAuthor(), "merge", mergePath, false, err, nil)
		return nil, err
	}

	var result *MergeResult
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		target, err := loadBranch(ctx, tx, targetBranch)
		if err != nil {
			return err
		}
		if target == nil {
			return errBranchNotFound(targetBranch)
		}

		source, err := loadBranch(ctx, tx, sourceBranch)
		if err != nil {
			return err
		}
		if source == nil {
			return errBranchNotFound(sourceBranch)
		}

		if source.HeadCommitID == nil {
			result = &MergeResult{Merged: true}
			return nil
		}

		targetSecrets := map[string]CommitSecret{}
		if target.HeadCommitID != nil {
			targetSecrets, err = loadCommitSecrets(ctx, tx, *target.HeadCommitID)
			if err != nil {
				return err
			}
		}

		sourceSecrets, err := loadCommitSecrets(ctx, tx, *source.HeadCommitID)
		if err != nil {
			return err
		}

		var conflicts []MergeConflict
		for path, sourceCS := range sourceSecrets {
			targetCS, ok := targetSecrets[path]
			if !ok || targetCS.EncryptedValue == sourceCS.EncryptedValue {
				continue
			}
			currentValue, err := e.enc.Decrypt(targetCS.EncryptedValue)
			if err != nil {
				return err
			}
			incomingValue, err := e.enc.Decrypt(sourceCS.EncryptedValue)
			if err != nil {
				return err
			}
			conflicts = append(conflicts, MergeConflict{Path: path, CurrentValue: currentValue, IncomingValue: incomingValue})
		}

		if len(conflicts) > 0 {
			result = &MergeResult{Merged: false, Conflicts: conflicts}
			return nil
		}

		union := make(map[string]CommitSecret, len(targetSecrets)+len(sourceSecrets))
		for path, cs := range targetSecrets {
			union[path] = cs
		}
		for path, cs := range sourceSecrets {
			union[path] = cs
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM secrets`); err != nil {
			return vaulterrors.Wrap(err, vaulterrors.IO, "failed to clear working store")
		}
		if err := restoreSecrets(ctx, tx, union); err != nil {
			return err
		}

		result = &MergeResult{Merged: true}
		return nil
	})

	e.auditLog.Log(currentAuthor(), "merge", mergePath, err == nil, err, nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}
