package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Role is the intended use of a guest.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// GuestOS is the guest family.
type GuestOS string

const (
	GuestDebian  GuestOS = "debian"
	GuestWindows GuestOS = "windows"
)

const (
	// MaxNameLen bounds VM names; the libvirt domain name adds a suffix.
	MaxNameLen = 64

	minLinuxPassword   = 6
	minWindowsPassword = 8
)

var (
	nameRe     = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	usernameRe = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)
)

// ParseRole accepts the canonical names plus the "serveur" alias used by
// the web front end.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "client", "":
		return RoleClient, nil
	case "server", "serveur":
		return RoleServer, nil
	}
	return "", Validationf("unknown role %q", s)
}

// ParseGuestOS accepts "debian"/"linux" and "windows".
func ParseGuestOS(s string) (GuestOS, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debian", "linux", "":
		return GuestDebian, nil
	case "windows":
		return GuestWindows, nil
	}
	return "", Validationf("unknown guest OS %q", s)
}

// VMSpec is the declarative request turned into a VM directory.
// Passwords are opaque secrets and only ever reach the bootstrap script.
type VMSpec struct {
	Name          string  `json:"name"`
	Role          Role    `json:"role"`
	OS            GuestOS `json:"os"`
	GuestUsername string  `json:"guest_username"`
	GuestPassword string  `json:"-"`
	AdminPassword string  `json:"-"`
}

// Normalize fills a missing name with a timestamped default.
func (s *VMSpec) Normalize(now time.Time) {
	s.Name = strings.TrimSpace(s.Name)
	s.GuestUsername = strings.TrimSpace(s.GuestUsername)
	if s.Name == "" {
		s.Name = fmt.Sprintf("vm-%d", now.Unix())
	}
	if s.Role == "" {
		s.Role = RoleClient
	}
	if s.OS == "" {
		s.OS = GuestDebian
	}
}

// Validate checks every field. It never touches the filesystem.
func (s *VMSpec) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if s.Role != RoleClient && s.Role != RoleServer {
		return Validationf("unknown role %q", s.Role)
	}
	if !usernameRe.MatchString(s.GuestUsername) {
		return Validationf("guest username must match %s", usernameRe.String())
	}
	switch s.OS {
	case GuestWindows:
		if !WindowsPasswordOK(s.GuestPassword) {
			return Validationf("windows password needs at least %d characters with upper, lower case and a digit", minWindowsPassword)
		}
	case GuestDebian:
		if len(s.GuestPassword) < minLinuxPassword {
			return Validationf("guest password needs at least %d characters", minLinuxPassword)
		}
		if s.AdminPassword == "" {
			return Validationf("root password is required for linux guests")
		}
		if len(s.AdminPassword) < minLinuxPassword {
			return Validationf("root password needs at least %d characters", minLinuxPassword)
		}
	default:
		return Validationf("unknown guest OS %q", s.OS)
	}
	return nil
}

// ValidateName enforces the VM name charset and length.
func ValidateName(name string) error {
	if name == "" {
		return Validationf("VM name is required")
	}
	if len(name) > MaxNameLen {
		return Validationf("VM name longer than %d characters", MaxNameLen)
	}
	if name == "." || name == ".." || !nameRe.MatchString(name) {
		return Validationf("VM name may only contain letters, digits, '.', '_' and '-'")
	}
	return nil
}

// WindowsPasswordOK reports whether pw satisfies the default Windows
// complexity floor.
func WindowsPasswordOK(pw string) bool {
	if len(pw) < minWindowsPassword {
		return false
	}
	var upper, lower, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}
