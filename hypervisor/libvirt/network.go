package libvirt

import (
	"encoding/xml"
	"fmt"

	"github.com/projecteru2/hatchery/config"
)

type networkXML struct {
	XMLName xml.Name `xml:"network"`
	Name    string   `xml:"name"`
	Forward struct {
		Mode string `xml:"mode,attr"`
	} `xml:"forward"`
	Bridge struct {
		Name string `xml:"name,attr"`
	} `xml:"bridge"`
	IP struct {
		Address string `xml:"address,attr"`
		Netmask string `xml:"netmask,attr"`
		DHCP    struct {
			Range struct {
				Start string `xml:"start,attr"`
				End   string `xml:"end,attr"`
			} `xml:"range"`
		} `xml:"dhcp"`
	} `xml:"ip"`
}

// NetworkXML renders the NAT network definition passed to net-define.
func NetworkXML(n config.Network) ([]byte, error) {
	var doc networkXML
	doc.Name = n.Name
	doc.Forward.Mode = "nat"
	doc.Bridge.Name = n.Bridge
	doc.IP.Address = n.Address
	doc.IP.Netmask = n.Netmask
	doc.IP.DHCP.Range.Start = n.DHCPStart
	doc.IP.DHCP.Range.End = n.DHCPEnd
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal network %s: %w", n.Name, err)
	}
	return append(out, '\n'), nil
}
