// Package definition turns a VM request into the files vagrant consumes:
// a Vagrantfile, an optional guest bootstrap script and a metadata file.
// Nothing here invokes an external tool.
package definition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/projecteru2/hatchery/types"
	"github.com/projecteru2/hatchery/utils"
)

const (
	// VagrantfileName is what vagrant looks for in its working directory.
	VagrantfileName = "Vagrantfile"
	// MetaFileName holds types.VMMeta.
	MetaFileName = "vm_info.json"

	linuxScript   = "provision.sh"
	windowsScript = "provision.ps1"

	// Generated files embed guest credentials.
	filePerm = 0o600
)

var hostnameInvalid = regexp.MustCompile(`[^a-z0-9-]+`)

// Definition is the rendered content of one VM directory.
type Definition struct {
	Meta        types.VMMeta
	Profile     Profile
	Vagrantfile []byte
	// ScriptName is empty when no bootstrap script is produced.
	ScriptName string
	Script     []byte
}

// Generator renders definitions from a profile table.
type Generator struct {
	table   *Table
	network string
	now     func() time.Time
}

// New creates a Generator attaching guests to the named libvirt network.
func New(table *Table, network string) *Generator {
	return &Generator{table: table, network: network, now: time.Now}
}

type vagrantfileData struct {
	Profile     Profile
	Hostname    string
	Description string
	Windows     bool
	Network     string
	Script      string
}

type scriptData struct {
	Desktop  bool
	User     string
	UserCred string
	RootCred string
}

// Generate validates spec and renders its definition for owner.
func (g *Generator) Generate(spec types.VMSpec, owner string) (*Definition, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	profile := g.table.Lookup(spec.OS, spec.Role)
	def := &Definition{
		Profile: profile,
		Meta: types.VMMeta{
			Name:          spec.Name,
			Owner:         owner,
			GuestUsername: spec.GuestUsername,
			OS:            spec.OS,
			Role:          spec.Role,
			Box:           profile.Box,
			MemoryMB:      profile.MemoryMB,
			CPUs:          profile.CPUs,
			Serial:        profile.Serial,
			CreatedAt:     g.now().UTC(),
		},
	}

	script, name, err := renderScript(spec)
	if err != nil {
		return nil, err
	}
	def.Script, def.ScriptName = script, name

	var buf bytes.Buffer
	if err := vagrantfileTmpl.Execute(&buf, vagrantfileData{
		Profile:     profile,
		Hostname:    Hostname(spec.Name),
		Description: types.DomainDescription(owner, spec.Name),
		Windows:     spec.OS == types.GuestWindows,
		Network:     g.network,
		Script:      name,
	}); err != nil {
		return nil, fmt.Errorf("render Vagrantfile: %w", err)
	}
	def.Vagrantfile = buf.Bytes()
	return def, nil
}

func renderScript(spec types.VMSpec) ([]byte, string, error) {
	var buf bytes.Buffer
	switch spec.OS {
	case types.GuestWindows:
		if err := windowsTmpl.Execute(&buf, scriptData{
			User:     spec.GuestUsername,
			UserCred: spec.GuestPassword,
			RootCred: spec.AdminPassword,
		}); err != nil {
			return nil, "", fmt.Errorf("render %s: %w", windowsScript, err)
		}
		return buf.Bytes(), windowsScript, nil
	case types.GuestDebian:
		data := scriptData{
			Desktop:  spec.Role == types.RoleClient,
			User:     spec.GuestUsername,
			UserCred: spec.GuestUsername + ":" + spec.GuestPassword,
		}
		if spec.AdminPassword != "" {
			data.RootCred = "root:" + spec.AdminPassword
		}
		if err := debianTmpl.Execute(&buf, data); err != nil {
			return nil, "", fmt.Errorf("render %s: %w", linuxScript, err)
		}
		return buf.Bytes(), linuxScript, nil
	}
	return nil, "", nil
}

// WriteTo writes the definition into dir, which must already exist.
func (d *Definition) WriteTo(dir string) error {
	if err := utils.AtomicWriteFile(filepath.Join(dir, VagrantfileName), d.Vagrantfile, filePerm); err != nil {
		return fmt.Errorf("write %s: %w", VagrantfileName, err)
	}
	if d.ScriptName != "" {
		if err := utils.AtomicWriteFile(filepath.Join(dir, d.ScriptName), d.Script, filePerm); err != nil {
			return fmt.Errorf("write %s: %w", d.ScriptName, err)
		}
	}
	if err := utils.AtomicWriteJSON(filepath.Join(dir, MetaFileName), d.Meta, filePerm); err != nil {
		return fmt.Errorf("write %s: %w", MetaFileName, err)
	}
	return nil
}

// ReadMeta loads the metadata file of a VM directory.
func ReadMeta(dir string) (*types.VMMeta, error) {
	raw, err := os.ReadFile(filepath.Join(dir, MetaFileName)) //nolint:gosec // VM directory under RootDir
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", MetaFileName, err)
	}
	var meta types.VMMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetaFileName, err)
	}
	return &meta, nil
}

// Hostname derives an RFC 1123 label from a VM name.
func Hostname(vmName string) string {
	h := hostnameInvalid.ReplaceAllString(strings.ToLower(vmName), "-")
	if len(h) > 63 { //nolint:mnd
		h = h[:63]
	}
	h = strings.Trim(h, "-")
	if h == "" {
		return "vm"
	}
	return h
}
