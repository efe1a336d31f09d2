package types

import (
	"strings"
	"time"
)

// RuntimeState is the canonical hypervisor state of a domain. Values the
// parser does not recognize are carried verbatim.
type RuntimeState string

const (
	StateUnknown RuntimeState = "unknown"
	StateShutOff RuntimeState = "shut off"
	StatePaused  RuntimeState = "paused"
	StateRunning RuntimeState = "running"
)

// Known reports whether s is one of the canonical values.
func (s RuntimeState) Known() bool {
	switch s {
	case StateUnknown, StateShutOff, StatePaused, StateRunning:
		return true
	}
	return false
}

// VMMeta is the metadata file written next to the Vagrantfile.
type VMMeta struct {
	Name          string    `json:"name"`
	Owner         string    `json:"owner"`
	GuestUsername string    `json:"username"`
	OS            GuestOS   `json:"os"`
	Role          Role      `json:"role"`
	Box           string    `json:"box"`
	MemoryMB      int       `json:"memory_mb"`
	CPUs          int       `json:"cpus"`
	Serial        bool      `json:"serial"`
	CreatedAt     time.Time `json:"created_at"`
}

// VMInfo is a VM as seen by a caller: where it lives and its live state.
type VMInfo struct {
	Name  string       `json:"name"`
	Owner string       `json:"owner"`
	Path  string       `json:"path"`
	State RuntimeState `json:"state"`
}

// VMRef is a resolved VM directory.
type VMRef struct {
	Name  string
	Owner string
	Dir   string
}

// DomainName derives the libvirt domain name vagrant-libvirt assigns.
func DomainName(vmName string) string {
	return vmName + "_default"
}

const domainMarker = "hatchery-managed:"

// DomainDescription is the libvirt description stamped on every domain we
// define, so GC never touches domains of other vagrant projects.
func DomainDescription(owner, vmName string) string {
	return domainMarker + owner + "/" + vmName
}

// IsManagedDomain reports whether desc was produced by DomainDescription.
func IsManagedDomain(desc string) bool {
	return strings.HasPrefix(strings.TrimSpace(desc), domainMarker)
}
