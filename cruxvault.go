// Package cruxvault wires the Working Store, the Version-Control
// Engine, the cipher, and the audit ledger into a single handle. There
// is no package-level state: every dependency is constructed in Open
// and held on the returned *Vault, so a process can open more than one
// vault against different storage paths without them interfering.
package cruxvault

import (
	"context"

	"github.com/cruxvault/cruxvault/audit"
	"github.com/cruxvault/cruxvault/cipher"
	"github.com/cruxvault/cruxvault/internal/sqlstore"
	"github.com/cruxvault/cruxvault/secret"
	"github.com/cruxvault/cruxvault/vaulterrors"
	"github.com/cruxvault/cruxvault/vaultconfig"
	"github.com/cruxvault/cruxvault/vcs"
)

// Vault is the entry point: a Working Store, a Version-Control
// Engine, and an audit ledger sharing one SQLite file and one cipher
// key.
type Vault struct {
	Secrets *secret.Store
	VCS     *vcs.Engine
	Audit   *audit.Logger

	db *sqlstore.DB
}

// Open builds a Vault from cfg and a caller-supplied encryption key
// (see cipher.GenerateKey / cipher.StringToKey). It creates the
// storage file and schema if they do not already exist.
func Open(cfg vaultconfig.Config, key []byte) (*Vault, error) {
	enc, err := cipher.New(key)
	if err != nil {
		return nil, err
	}

	db, err := sqlstore.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	auditLogger, err := audit.New(cfg.Audit.Path, cfg.Audit.Enabled, audit.WithLogReads(cfg.Audit.LogReads))
	if err != nil {
		db.Close()
		return nil, vaulterrors.Wrap(err, vaulterrors.IO, "failed to open audit log")
	}

	return &Vault{
		Secrets: secret.New(db, enc, auditLogger),
		VCS:     vcs.New(db, enc, auditLogger),
		Audit:   auditLogger,
		db:      db,
	}, nil
}

// Close releases the underlying SQLite connection and audit log file.
func (v *Vault) Close() error {
	if err := v.Audit.Close(); err != nil {
		return err
	}
	return v.db.Close()
}

// EnsureMainBranch creates the "main" branch if it does not already
// exist. The engine itself never creates it implicitly — spec.md §9
// leaves branch bootstrapping to the caller, and this is that one
// caller-side step most programs will want at startup.
func (v *Vault) EnsureMainBranch(ctx context.Context) error {
	existing, err := v.VCS.GetBranch(ctx, "main")
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	_, err = v.VCS.CreateBranch(ctx, "main", "")
	return err
}
