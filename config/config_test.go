package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBackfillsZeroValues(t *testing.T) {
	conf := DefaultConfig()
	conf.HaltTimeoutSeconds = 0
	conf.PoolSize = -1
	conf.Network = Network{}

	require.NoError(t, conf.Normalize())
	assert.Equal(t, 30, conf.HaltTimeoutSeconds)
	assert.Positive(t, conf.PoolSize)
	assert.Equal(t, "virbr0", conf.Network.Bridge)
}

func TestNormalizeExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	conf := DefaultConfig()
	conf.RootDir = "~/hatchery"
	require.NoError(t, conf.Normalize())
	assert.Equal(t, filepath.Join(home, "hatchery"), conf.RootDir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "inverted ports", mutate: func(c *Config) { c.PortRangeStart, c.PortRangeEnd = 7000, 6000 }},
		{name: "no virsh", mutate: func(c *Config) { c.Virsh = "" }},
		{name: "no auth header", mutate: func(c *Config) { c.AuthHeader = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := DefaultConfig()
			tt.mutate(conf)
			if tt.ok {
				assert.NoError(t, conf.Validate())
			} else {
				assert.Error(t, conf.Validate())
			}
		})
	}
}

func TestPaths(t *testing.T) {
	conf := DefaultConfig()
	conf.RootDir = "/data"
	conf.RunDir = "/run/h"
	assert.Equal(t, "/data/vms/alice/vm-1", conf.VMDir("alice", "vm-1"))
	assert.Equal(t, "/run/h/locks/vm-vm-1.lock", conf.VMLockPath("vm-1"))
	assert.Equal(t, "/run/h/gateway/sessions.json", conf.SessionIndexFile())
}
