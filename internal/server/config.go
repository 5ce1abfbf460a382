package server

// Config is the server's startup configuration, built from CLI flags
// (spec.md §6 "CLI surface").
type Config struct {
	Host string
	Port int

	// ReplicaOfHost/ReplicaOfPort are set iff --replicaof was given; an
	// empty ReplicaOfHost means primary mode.
	ReplicaOfHost string
	ReplicaOfPort int

	// Dir/DBFilename are accepted and stored per the CLI surface but are
	// consumed only by persistence, which is out of scope (spec.md §6).
	Dir        string
	DBFilename string

	MaxConnections int
}

// DefaultConfig returns the CLI surface's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:           "127.0.0.1",
		Port:           6379,
		Dir:            "./",
		DBFilename:     "rdbfilename.rdb",
		MaxConnections: 10000,
	}
}

// IsReplica reports whether this config requests replica mode.
func (c *Config) IsReplica() bool { return c.ReplicaOfHost != "" }
