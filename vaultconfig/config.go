// Package vaultconfig holds the values a cruxvault.Open caller wires
// together: where the SQLite store and the audit ledger live on disk,
// and which audit behaviors are turned on. It does not load these
// values from a file or environment — that belongs to the CLI layer,
// which is out of scope here — it only defines the shape and sane
// defaults.
package vaultconfig

// StorageConfig controls where the Working Store's SQLite file lives.
type StorageConfig struct {
	Path string
}

// AuditConfig controls the audit ledger's location and verbosity.
type AuditConfig struct {
	Enabled  bool
	Path     string
	LogReads bool
}

// Config is the full set of values cruxvault.Open needs.
type Config struct {
	Storage     StorageConfig
	Audit       AuditConfig
	DefaultTags []string
}

// Default returns the same defaults as the original AppConfig:
// a SQLite file and a sibling audit log under ./.cruxvault, audit
// logging on, read actions not logged.
func Default() Config {
	return Config{
		Storage: StorageConfig{Path: ".cruxvault/store.db"},
		Audit: AuditConfig{
			Enabled:  true,
			Path:     ".cruxvault/audit.log",
			LogReads: false,
		},
	}
}
