package definition

import (
	"fmt"
	"strings"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/types"
)

// Profile is the base box and resource allocation for one (os, role).
type Profile struct {
	Box      string `json:"box"`
	MemoryMB int    `json:"memory_mb"`
	CPUs     int    `json:"cpus"`
	Serial   bool   `json:"serial"`
}

type profileKey struct {
	os   types.GuestOS
	role types.Role
}

const (
	debianBox  = "generic/debian12"
	windowsBox = "peru/windows-server-2022-standard-x64-eval"
)

// fallback is used for any (os, role) the table does not list.
var fallback = Profile{Box: debianBox, MemoryMB: 2048, CPUs: 2}

// Table is the single (os, role) -> Profile lookup.
type Table struct {
	profiles map[profileKey]Profile
}

// DefaultTable returns the built-in profiles. Windows uses the Server 2022
// evaluation box for both roles.
func DefaultTable() *Table {
	win := Profile{Box: windowsBox, MemoryMB: 6144, CPUs: 2}
	return &Table{profiles: map[profileKey]Profile{
		{types.GuestDebian, types.RoleClient}:  {Box: debianBox, MemoryMB: 4096, CPUs: 2},
		{types.GuestDebian, types.RoleServer}:  {Box: debianBox, MemoryMB: 2048, CPUs: 2, Serial: true},
		{types.GuestWindows, types.RoleClient}: win,
		{types.GuestWindows, types.RoleServer}: win,
	}}
}

// NewTable applies config overrides keyed "os/role" on top of DefaultTable.
func NewTable(overrides map[string]config.Profile) (*Table, error) {
	t := DefaultTable()
	for k, o := range overrides {
		osName, roleName, ok := strings.Cut(k, "/")
		if !ok {
			return nil, fmt.Errorf("profile key %q: want os/role", k)
		}
		guest, err := types.ParseGuestOS(osName)
		if err != nil {
			return nil, fmt.Errorf("profile key %q: %w", k, err)
		}
		role, err := types.ParseRole(roleName)
		if err != nil {
			return nil, fmt.Errorf("profile key %q: %w", k, err)
		}
		key := profileKey{guest, role}
		p := t.Lookup(guest, role)
		if o.Box != "" {
			p.Box = o.Box
		}
		if o.MemoryMB > 0 {
			p.MemoryMB = o.MemoryMB
		}
		if o.CPUs > 0 {
			p.CPUs = o.CPUs
		}
		if o.Serial != nil {
			p.Serial = *o.Serial
		}
		t.profiles[key] = p
	}
	return t, nil
}

// Lookup returns the profile for (os, role), or the minimal fallback.
func (t *Table) Lookup(guest types.GuestOS, role types.Role) Profile {
	if p, ok := t.profiles[profileKey{guest, role}]; ok {
		return p
	}
	return fallback
}
