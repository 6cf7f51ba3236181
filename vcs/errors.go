package vcs

import "github.com/cruxvault/cruxvault/vaulterrors"

func errBranchNotFound(name string) error {
	return vaulterrors.Newf(vaulterrors.NotFound, "Branch '%s' not found", name)
}

func errBranchExists(name string) error {
	return vaulterrors.Newf(vaulterrors.Conflict, "Branch '%s' already exists", name)
}

func errCannotDeleteMain() error {
	return vaulterrors.New(vaulterrors.Conflict, "Cannot delete main branch")
}

func errCommitNotFound(id int64) error {
	return vaulterrors.Newf(vaulterrors.NotFound, "Commit %d not found", id)
}

func errCannotMergeSelf() error {
	return vaulterrors.New(vaulterrors.Conflict, "Cannot merge branch into itself")
}
