package secret

import "github.com/cruxvault/cruxvault/vaulterrors"

// errNotFound builds the stable "Secret {path} not found" message from
// spec.md §6.
func errNotFound(path string) error {
	return vaulterrors.Newf(vaulterrors.NotFound, "Secret %s not found", path)
}

// errVersionNotFound builds the stable "Version {v} not found for
// {path}" message from spec.md §6.
func errVersionNotFound(version int, path string) error {
	return vaulterrors.Newf(vaulterrors.NotFound, "Version %d not found for %s", version, path)
}
