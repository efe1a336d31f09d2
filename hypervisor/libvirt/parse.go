package libvirt

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/projecteru2/hatchery/types"
)

// stateNames maps virsh domstate output in the locales seen on our hosts
// to canonical states. Keys are lower case.
var stateNames = map[string]types.RuntimeState{
	"running":               types.StateRunning,
	"en cours d'exécution":  types.StateRunning,
	"en cours d’exécution":  types.StateRunning,
	"en cours d'execution":  types.StateRunning,
	"en cours d’execution":  types.StateRunning,
	"läuft":                 types.StateRunning,
	"shut off":              types.StateShutOff,
	"fermé":                 types.StateShutOff,
	"ferme":                 types.StateShutOff,
	"arrêté":                types.StateShutOff,
	"éteint":                types.StateShutOff,
	"ausgeschaltet":         types.StateShutOff,
	"paused":                types.StatePaused,
	"en pause":              types.StatePaused,
	"suspendu":              types.StatePaused,
	"pausiert":              types.StatePaused,
	"":                      types.StateUnknown,
}

// ParseDomState normalizes `virsh domstate` output. Unrecognized text is
// returned verbatim (trimmed).
func ParseDomState(out string) types.RuntimeState {
	line := strings.TrimSpace(firstLine(out))
	if s, ok := stateNames[strings.ToLower(line)]; ok {
		return s
	}
	return types.RuntimeState(line)
}

type domainXML struct {
	Devices struct {
		Graphics []graphicsXML `xml:"graphics"`
	} `xml:"devices"`
}

type graphicsXML struct {
	Type string `xml:"type,attr"`
	Port string `xml:"port,attr"`
}

// ParseVNCPort extracts the port of the first VNC graphics device from
// `virsh dumpxml` output. Autoport placeholders (-1) count as absent.
func ParseVNCPort(raw string) (int, bool) {
	var dom domainXML
	if err := xml.Unmarshal([]byte(raw), &dom); err != nil {
		return 0, false
	}
	for _, g := range dom.Devices.Graphics {
		if g.Type != "vnc" {
			continue
		}
		port, err := strconv.Atoi(strings.TrimSpace(g.Port))
		if err != nil || port <= 0 {
			return 0, false
		}
		return port, true
	}
	return 0, false
}

// ParseNames reads the one-name-per-line output of `--name` listings.
func ParseNames(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// isMissing reports whether virsh stderr says the object does not exist
// or is already in the requested state.
func isMissing(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, marker := range []string{
		"domain not found",
		"failed to get domain",
		"no domain with matching name",
		"domain is not running",
		"not running",
		"domaine introuvable",
		"n'est pas en cours",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
