// Package vcs implements the Version-Control Engine: branches and
// commits layered over the Working Store. A commit is a snapshot of
// every current secret at call time, not a diff against a tree of
// blobs — there is no object store underneath this, only rows in
// commit_secrets keyed by commit id.
package vcs

import "time"

// Branch points at the commit currently checked out under its name.
// A brand-new branch with no commits yet has a nil HeadCommitID.
type Branch struct {
	Name         string
	HeadCommitID *int64
	CreatedAt    time.Time
}

// Commit is one snapshot: message, author, and a parent pointer
// forming a linear history per branch.
type Commit struct {
	ID        int64
	ParentID  *int64
	Message   string
	Author    string
	Timestamp time.Time
	Branch    string
}

// CommitSecret is one path's encrypted value as captured in a commit.
type CommitSecret struct {
	CommitID       int64
	Path           string
	EncryptedValue string
	Type           string
	Tags           []string
}

// Status reports the Working Store's divergence from a branch's head
// commit, classified by ciphertext comparison rather than plaintext —
// re-setting a secret to its previous plaintext still produces a
// different nonce and therefore reports as "modified".
type Status struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// DiffEntry is one path's change between two commits.
type DiffEntry struct {
	Path     string
	Status   string // "added", "modified", or "deleted"
	OldValue *string
	NewValue *string
}

// MergeConflict is one path whose ciphertext differs between the
// target branch's head and the source branch's head.
type MergeConflict struct {
	Path          string
	CurrentValue  string
	IncomingValue string
}

// MergeResult is the outcome of a merge attempt.
type MergeResult struct {
	Merged    bool
	Conflicts []MergeConflict
}
