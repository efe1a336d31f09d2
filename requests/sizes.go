package requests

import (
	"math"
	"strconv"
	"strings"

	units "github.com/docker/go-units"

	"github.com/projecteru2/hatchery/types"
)

const (
	MinRAMMB     = 512
	MaxRAMMB     = 128 * 1024
	MinStorageGB = 10
	MaxStorageGB = 1024
	MinCPU       = 1
	MaxCPU       = 64
	MinReasonLen = 5
)

// ParseRAM reads a memory size in MB. A bare number is MB; suffixed values
// ("8GB", "512M") are binary sizes.
func ParseRAM(s string) (int, error) {
	return parseSize(s, units.MiB)
}

// ParseStorage reads a disk size in GB. A bare number is GB; suffixed values
// ("10240MB", "1TB") are binary sizes.
func ParseStorage(s string) (int, error) {
	return parseSize(s, units.GiB)
}

func parseSize(s string, unit int64) (int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return 0, types.Validationf("empty size")
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n <= 0 {
			return 0, types.Validationf("size %q must be positive", s)
		}
		return int(math.Round(n)), nil
	}
	b, err := units.RAMInBytes(s)
	if err != nil {
		return 0, types.Validationf("invalid size %q", s)
	}
	v := int(math.Round(float64(b) / float64(unit)))
	if v <= 0 {
		return 0, types.Validationf("size %q must be positive", s)
	}
	return v, nil
}

// HumanMB renders a size in MB for display.
func HumanMB(mb int) string {
	return units.BytesSize(float64(mb) * units.MiB)
}

func checkRange(what string, v, low, high int, unit string) error {
	if v < low || v > high {
		return types.Validationf("%s %d%s out of range (%d%s - %d%s)", what, v, unit, low, unit, high, unit)
	}
	return nil
}
