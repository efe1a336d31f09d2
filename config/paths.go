package config

import (
	"path/filepath"

	"github.com/projecteru2/hatchery/utils"
)

// EnsureDirs creates the static directories every command needs.
func (c *Config) EnsureDirs() error {
	return utils.EnsureDirs(
		c.VMsDir(),
		c.locksDir(),
		c.gatewayDir(),
		c.ScratchDir(),
	)
}

// VMsDir is the parent of all user namespaces.
func (c *Config) VMsDir() string { return filepath.Join(c.RootDir, "vms") }

// UserDir is a user's namespace.
func (c *Config) UserDir(user string) string { return filepath.Join(c.VMsDir(), user) }

// VMDir is the directory holding one VM's Vagrantfile and metadata.
func (c *Config) VMDir(user, vm string) string { return filepath.Join(c.UserDir(user), vm) }

func (c *Config) locksDir() string   { return filepath.Join(c.RunDir, "locks") }
func (c *Config) gatewayDir() string { return filepath.Join(c.RunDir, "gateway") }

// VMLockPath serialises lifecycle operations on one VM name across processes.
// The prefix keeps VM names from colliding with the fixed lock names below.
func (c *Config) VMLockPath(vm string) string { return filepath.Join(c.locksDir(), "vm-"+vm+".lock") }

// NetworkLockPath serialises network bootstrap and scratch file use.
func (c *Config) NetworkLockPath() string { return filepath.Join(c.locksDir(), "network.lock") }

// DomainsLockPath keeps orphan domain collection to one GC run at a time.
func (c *Config) DomainsLockPath() string { return filepath.Join(c.locksDir(), "domains.lock") }

// ServerLockPath is held for the lifetime of the API server.
func (c *Config) ServerLockPath() string { return filepath.Join(c.RunDir, "server.lock") }

// SessionIndexFile and SessionIndexLock are the display session store paths.
func (c *Config) SessionIndexFile() string { return filepath.Join(c.gatewayDir(), "sessions.json") }
func (c *Config) SessionIndexLock() string { return filepath.Join(c.gatewayDir(), "sessions.lock") }

// RequestDBPath is the sqlite database of capacity requests.
func (c *Config) RequestDBPath() string { return filepath.Join(c.RootDir, "requests.db") }

// ScratchDir holds short-lived files handed to external tools.
func (c *Config) ScratchDir() string { return filepath.Join(c.RunDir, "scratch") }
