package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/mitchellh/go-homedir"
	coretypes "github.com/projecteru2/core/types"
)

// Config holds global hatchery configuration.
type Config struct {
	// RootDir is the base directory for persistent data. User namespaces
	// live under {RootDir}/vms/{user}/{vm}.
	RootDir string `json:"root_dir" mapstructure:"root_dir"`
	// RunDir holds locks, the display session index and scratch files.
	RunDir string `json:"run_dir" mapstructure:"run_dir"`
	// LogDir is where the server writes its own log files.
	LogDir string `json:"log_dir" mapstructure:"log_dir"`
	// PoolSize bounds concurrent create/start operations.
	// Defaults to runtime.NumCPU() if zero.
	PoolSize int `json:"pool_size" mapstructure:"pool_size"`

	// Listen is the HTTP API address.
	Listen string `json:"listen" mapstructure:"listen"`
	// AuthHeader carries the identity set by the authenticating proxy.
	AuthHeader string `json:"auth_header" mapstructure:"auth_header"`
	// Admins may see and manage every namespace.
	Admins []string `json:"admins" mapstructure:"admins"`

	// LibvirtURI is the connection URI passed to every virsh call.
	LibvirtURI string `json:"libvirt_uri" mapstructure:"libvirt_uri"`
	// Virsh, Vagrant and Websockify are command lines, e.g. "sudo virsh".
	Virsh      string `json:"virsh" mapstructure:"virsh"`
	Vagrant    string `json:"vagrant" mapstructure:"vagrant"`
	Websockify string `json:"websockify" mapstructure:"websockify"`
	// VagrantHome and TmpDir are exported to vagrant when set.
	VagrantHome string `json:"vagrant_home" mapstructure:"vagrant_home"`
	TmpDir      string `json:"tmp_dir" mapstructure:"tmp_dir"`

	// NoVNCWebDir is served by websockify as the browser client.
	NoVNCWebDir string `json:"novnc_web_dir" mapstructure:"novnc_web_dir"`
	// ConsoleHost is the host name placed in console URLs.
	ConsoleHost string `json:"console_host" mapstructure:"console_host"`
	// PortRangeStart and PortRangeEnd bound the display proxy ports (inclusive).
	PortRangeStart int `json:"port_range_start" mapstructure:"port_range_start"`
	PortRangeEnd   int `json:"port_range_end" mapstructure:"port_range_end"`

	UpTimeoutSeconds      int `json:"up_timeout_seconds" mapstructure:"up_timeout_seconds"`
	HaltTimeoutSeconds    int `json:"halt_timeout_seconds" mapstructure:"halt_timeout_seconds"`
	DestroyTimeoutSeconds int `json:"destroy_timeout_seconds" mapstructure:"destroy_timeout_seconds"`
	QueryTimeoutSeconds   int `json:"query_timeout_seconds" mapstructure:"query_timeout_seconds"`
	BoxAddTimeoutSeconds  int `json:"box_add_timeout_seconds" mapstructure:"box_add_timeout_seconds"`

	// Network is the libvirt NAT network every VM attaches to.
	Network Network `json:"network" mapstructure:"network"`
	// Profiles overrides the built-in (os, role) table, keyed "os/role".
	Profiles map[string]Profile `json:"profiles" mapstructure:"profiles"`

	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
}

// Network describes the libvirt network defined when absent.
type Network struct {
	Name      string `json:"name" mapstructure:"name"`
	Bridge    string `json:"bridge" mapstructure:"bridge"`
	Address   string `json:"address" mapstructure:"address"`
	Netmask   string `json:"netmask" mapstructure:"netmask"`
	DHCPStart string `json:"dhcp_start" mapstructure:"dhcp_start"`
	DHCPEnd   string `json:"dhcp_end" mapstructure:"dhcp_end"`
}

// Profile overrides one entry of the machine profile table. Zero fields
// keep the built-in value.
type Profile struct {
	Box      string `json:"box" mapstructure:"box"`
	MemoryMB int    `json:"memory_mb" mapstructure:"memory_mb"`
	CPUs     int    `json:"cpus" mapstructure:"cpus"`
	Serial   *bool  `json:"serial" mapstructure:"serial"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RootDir:        "/var/lib/hatchery",
		RunDir:         "/var/run/hatchery",
		LogDir:         "/var/log/hatchery",
		PoolSize:       runtime.NumCPU(),
		Listen:         ":5000",
		AuthHeader:     "X-Forwarded-User",
		Admins:         []string{"admin", "root"},
		LibvirtURI:     "qemu:///system",
		Virsh:          "virsh",
		Vagrant:        "vagrant",
		Websockify:     "websockify",
		NoVNCWebDir:    "/usr/share/novnc",
		ConsoleHost:    "localhost",
		PortRangeStart: 6080, //nolint:mnd
		PortRangeEnd:   6180, //nolint:mnd

		UpTimeoutSeconds:      2700, //nolint:mnd
		HaltTimeoutSeconds:    30,   //nolint:mnd
		DestroyTimeoutSeconds: 60,   //nolint:mnd
		QueryTimeoutSeconds:   15,   //nolint:mnd
		BoxAddTimeoutSeconds:  3600, //nolint:mnd

		Network: Network{
			Name:      "default",
			Bridge:    "virbr0",
			Address:   "192.168.122.1",
			Netmask:   "255.255.255.0",
			DHCPStart: "192.168.122.2",
			DHCPEnd:   "192.168.122.254",
		},
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// Normalize expands "~" in paths and backfills zero values left by a
// partial config file.
func (c *Config) Normalize() error {
	def := DefaultConfig()
	for _, p := range []*string{&c.RootDir, &c.RunDir, &c.LogDir, &c.VagrantHome, &c.TmpDir, &c.NoVNCWebDir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %s: %w", *p, err)
		}
		*p = expanded
	}
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU()
	}
	backfill(&c.UpTimeoutSeconds, def.UpTimeoutSeconds)
	backfill(&c.HaltTimeoutSeconds, def.HaltTimeoutSeconds)
	backfill(&c.DestroyTimeoutSeconds, def.DestroyTimeoutSeconds)
	backfill(&c.QueryTimeoutSeconds, def.QueryTimeoutSeconds)
	backfill(&c.BoxAddTimeoutSeconds, def.BoxAddTimeoutSeconds)
	if c.Network.Name == "" {
		c.Network = def.Network
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.RootDir == "" || c.RunDir == "":
		return fmt.Errorf("root_dir and run_dir are required")
	case c.Virsh == "" || c.Vagrant == "" || c.Websockify == "":
		return fmt.Errorf("virsh, vagrant and websockify commands are required")
	case c.PortRangeStart <= 0 || c.PortRangeEnd > 65535 || c.PortRangeStart > c.PortRangeEnd:
		return fmt.Errorf("invalid display port range %d-%d", c.PortRangeStart, c.PortRangeEnd)
	case c.AuthHeader == "":
		return fmt.Errorf("auth_header is required")
	}
	return nil
}

func (c *Config) UpTimeout() time.Duration      { return seconds(c.UpTimeoutSeconds) }
func (c *Config) HaltTimeout() time.Duration    { return seconds(c.HaltTimeoutSeconds) }
func (c *Config) DestroyTimeout() time.Duration { return seconds(c.DestroyTimeoutSeconds) }
func (c *Config) QueryTimeout() time.Duration   { return seconds(c.QueryTimeoutSeconds) }
func (c *Config) BoxAddTimeout() time.Duration  { return seconds(c.BoxAddTimeoutSeconds) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func backfill(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}
