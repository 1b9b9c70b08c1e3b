package daemon

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config controls one Server's socket location, pool sizing, and
// concurrency caps, per spec §4.G.1.
type Config struct {
	// SocketPath defaults to $HOME/.rush/daemon.sock.
	SocketPath string
	// PoolSize is the number of worker subprocesses kept warm.
	PoolSize int
	// QueueDepth is passed to NewPool, which stores it without enforcing
	// it; waiting sessions are bounded only by MaxSessions.
	QueueDepth int
	// MaxSessions rejects connections beyond this many concurrently
	// in-flight sessions (spec: "e.g. 100").
	MaxSessions int
}

// DefaultConfig fills in the spec's suggested defaults, rooted under the
// calling user's home directory.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("daemon: resolving home directory: %w", err)
	}
	return Config{
		SocketPath:  filepath.Join(home, ".rush", "daemon.sock"),
		PoolSize:    4,
		QueueDepth:  100,
		MaxSessions: 100,
	}, nil
}

// socketDir is the enclosing directory, created with mode 0700 before the
// listener binds the socket itself at mode 0600.
func (c Config) socketDir() string {
	return filepath.Dir(c.SocketPath)
}
