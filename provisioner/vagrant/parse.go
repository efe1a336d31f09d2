package vagrant

import (
	"regexp"
	"strings"
)

// Box is one entry of `vagrant box list`.
type Box struct {
	Name     string
	Provider string
	Version  string
}

// "generic/debian12 (libvirt, 4.3.12)" and, with multiple architectures,
// "generic/debian12 (libvirt, 4.3.12, (amd64))".
var boxLineRe = regexp.MustCompile(`^(\S+)\s+\(([^,\s]+),\s*([^,)\s]+)`)

// ParseBoxList parses `vagrant box list`. Lines it cannot read, such as
// "There are no installed boxes!", are skipped.
func ParseBoxList(out string) []Box {
	var boxes []Box
	for _, line := range strings.Split(out, "\n") {
		m := boxLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		boxes = append(boxes, Box{Name: m[1], Provider: m[2], Version: m[3]})
	}
	return boxes
}

// "vagrant-libvirt (0.12.2, global)"
var pluginLineRe = regexp.MustCompile(`^([A-Za-z0-9_.-]+)\s+\(`)

// ParsePluginList parses `vagrant plugin list` into plugin names.
func ParsePluginList(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if m := pluginLineRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			names = append(names, m[1])
		}
	}
	return names
}
