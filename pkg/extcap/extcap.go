// Package extcap implements the analyzer-facing surface: the line-oriented
// discovery protocol used to enumerate interfaces, link types and options,
// and the command that wires a capture run together.
package extcap

import (
	"fmt"
	"io"

	"pubcap/pkg/config"
)

const (
	// Version is the plugin version advertised during discovery.
	Version = "0.1.0"
	// InterfaceValue names the single capture interface this plugin offers.
	InterfaceValue = "pubsub"
	// DLT is the user-defined link-layer type reported for the interface.
	DLT = 147
)

// WriteInterfaces prints the interface enumeration answered to
// --extcap-interfaces.
func WriteInterfaces(w io.Writer) {
	fmt.Fprintf(w, "extcap {version=%s}{help=https://www.wireshark.org}{display=Pub/sub channel capture}\n", Version)
	fmt.Fprintf(w, "interface {value=%s}{display=Listen on pub/sub channels}\n", InterfaceValue)
}

// WriteDLTs prints the link types answered to --extcap-dlts.
func WriteDLTs(w io.Writer) {
	fmt.Fprintf(w, "dlt {number=%d}{name=USER0}{display=Pub/sub message payloads}\n", DLT)
}

// WriteConfigArgs prints the configurable options answered to
// --extcap-config.
func WriteConfigArgs(w io.Writer) {
	fmt.Fprintln(w, "arg {number=0}{call=--channels}{display=Channels}{tooltip=Channels to subscribe}{type=string}{default=*}")
	fmt.Fprintf(w, "arg {number=1}{call=--broker}{display=Broker URL}{tooltip=Websocket URL of the pub/sub service}{type=string}{default=%s}\n", config.DefaultBroker)
}
