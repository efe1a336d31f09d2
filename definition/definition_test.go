package definition

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/types"
)

func linuxServer() types.VMSpec {
	return types.VMSpec{
		Name:          "vm-1",
		Role:          types.RoleServer,
		OS:            types.GuestDebian,
		GuestUsername: "alice",
		GuestPassword: "abcdef",
		AdminPassword: "rootpw1",
	}
}

func TestGenerateLinuxServer(t *testing.T) {
	def, err := New(DefaultTable(), "default").Generate(linuxServer(), "alice")
	require.NoError(t, err)

	vf := string(def.Vagrantfile)
	assert.Contains(t, vf, `config.vm.box = "generic/debian12"`)
	assert.Contains(t, vf, "lv.memory = 2048")
	assert.Contains(t, vf, "lv.cpus = 2")
	assert.Contains(t, vf, `lv.description = "hatchery-managed:alice/`)
	assert.Contains(t, vf, `lv.serial :type => "pty", :target_port => "0"`)
	assert.Contains(t, vf, `lv.keymap = "fr"`)
	assert.Contains(t, vf, `lv.graphics_ip = "127.0.0.1"`)
	assert.Contains(t, vf, `config.vm.synced_folder ".", "/vagrant", disabled: true`)
	assert.Contains(t, vf, `libvirt__network_name: "default"`)
	assert.Contains(t, vf, `path: "provision.sh"`)
	assert.NotContains(t, vf, "winrm")
	assert.NotContains(t, vf, "abcdef", "credentials stay out of the Vagrantfile")
	assert.True(t, strings.HasSuffix(vf, "end\n"))

	script := string(def.Script)
	assert.Equal(t, "provision.sh", def.ScriptName)
	assert.NotContains(t, script, "xfce4")
	assert.NotContains(t, script, "lightdm")
	assert.Contains(t, script, "serial-getty@ttyS0")
	assert.Contains(t, script, "XKBLAYOUT=\"fr\"")
	assert.Contains(t, script, "usermod -aG sudo alice")
	assert.Contains(t, script, `printf '%s\n' 'alice:abcdef' | chpasswd`)
	assert.Contains(t, script, `printf '%s\n' 'root:rootpw1' | chpasswd`)

	assert.Equal(t, 2048, def.Meta.MemoryMB)
	assert.True(t, def.Meta.Serial)
	assert.Equal(t, "alice", def.Meta.Owner)
}

func TestGenerateLinuxClient(t *testing.T) {
	spec := linuxServer()
	spec.Role = types.RoleClient
	def, err := New(DefaultTable(), "default").Generate(spec, "alice")
	require.NoError(t, err)

	assert.Contains(t, string(def.Vagrantfile), "lv.memory = 4096")
	assert.NotContains(t, string(def.Vagrantfile), "lv.serial")
	script := string(def.Script)
	assert.Contains(t, script, "xfce4")
	assert.Contains(t, script, "autologin-user=alice")
	assert.NotContains(t, script, "serial-getty")
}

func TestGenerateWindows(t *testing.T) {
	spec := types.VMSpec{
		Name:          "win-1",
		Role:          types.RoleClient,
		OS:            types.GuestWindows,
		GuestUsername: "bob",
		GuestPassword: "Passw0rd'x",
	}
	def, err := New(DefaultTable(), "default").Generate(spec, "bob")
	require.NoError(t, err)

	vf := string(def.Vagrantfile)
	assert.Contains(t, vf, `config.vm.box = "peru/windows-server-2022-standard-x64-eval"`)
	assert.Contains(t, vf, `config.vm.communicator = "winrm"`)
	assert.Contains(t, vf, "config.vm.boot_timeout = 1800")
	assert.Contains(t, vf, "lv.memory = 6144")
	assert.Contains(t, vf, `path: "provision.ps1"`)
	assert.NotContains(t, vf, "lv.serial")

	script := string(def.Script)
	assert.Equal(t, "provision.ps1", def.ScriptName)
	assert.Contains(t, script, "PasswordComplexity = 0")
	assert.Contains(t, script, `ConvertTo-SecureString 'Passw0rd''x'`)
	assert.NotContains(t, script, `"Administrator"`, "no admin password was supplied")
}

func TestGenerateRejectsInvalidSpec(t *testing.T) {
	spec := types.VMSpec{Name: "w", Role: types.RoleServer, OS: types.GuestWindows, GuestUsername: "bob", GuestPassword: "abc"}
	_, err := New(DefaultTable(), "default").Generate(spec, "bob")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestQuotingSurvivesHostileInput(t *testing.T) {
	spec := linuxServer()
	spec.GuestPassword = `p'"; rm -rf / #`
	def, err := New(DefaultTable(), "default").Generate(spec, "alice")
	require.NoError(t, err)
	assert.Contains(t, string(def.Script), `'alice:p'\''"; rm -rf / #'`)
}

func TestTableOverridesAndFallback(t *testing.T) {
	serial := false
	tbl, err := NewTable(map[string]config.Profile{
		"debian/serveur": {MemoryMB: 1024, Serial: &serial},
		"windows/client": {Box: "acme/win11"},
	})
	require.NoError(t, err)

	p := tbl.Lookup(types.GuestDebian, types.RoleServer)
	assert.Equal(t, Profile{Box: "generic/debian12", MemoryMB: 1024, CPUs: 2}, p)
	assert.Equal(t, "acme/win11", tbl.Lookup(types.GuestWindows, types.RoleClient).Box)
	assert.Equal(t, "peru/windows-server-2022-standard-x64-eval", tbl.Lookup(types.GuestWindows, types.RoleServer).Box)

	fb := tbl.Lookup(types.GuestOS("plan9"), types.RoleServer)
	assert.Equal(t, Profile{Box: "generic/debian12", MemoryMB: 2048, CPUs: 2}, fb)

	_, err = NewTable(map[string]config.Profile{"debian": {}})
	assert.Error(t, err)
}

func TestWriteToAndReadMeta(t *testing.T) {
	dir := t.TempDir()
	def, err := New(DefaultTable(), "default").Generate(linuxServer(), "alice")
	require.NoError(t, err)
	require.NoError(t, def.WriteTo(dir))

	for _, name := range []string{VagrantfileName, "provision.sh", MetaFileName} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), name)
	}
	meta, err := ReadMeta(dir)
	require.NoError(t, err)
	assert.Equal(t, "vm-1", meta.Name)
	assert.Equal(t, types.RoleServer, meta.Role)

	raw, err := os.ReadFile(filepath.Join(dir, MetaFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "abcdef")
}

func TestHostname(t *testing.T) {
	assert.Equal(t, "my-vm-1", Hostname("My_VM.1"))
	assert.Equal(t, "vm", Hostname("..."))
	assert.Len(t, Hostname(strings.Repeat("a", 64)), 63)
}
