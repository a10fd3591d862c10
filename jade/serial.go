package jade

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/djschnei21/btcops/btcerr"
)

// USB VID/PID pairs recognized as Jade devices, grounded on JADE_USB_IDS in
// original_source/jade-bitcoin/src/types.rs.
var USBIDs = []struct {
	VendorID, ProductID string
}{
	{"10c4", "ea60"}, // Blockstream Jade (CP2104 UART bridge)
	{"1a86", "55d4"}, // Jade Plus (CH9102 UART bridge)
}

// OpenSerial opens portName at the Jade's fixed baud rate with the framing the
// device expects (8 data bits, no parity, one stop bit, no flow control), and
// installs a read timeout so Framing.ReadMessage's empty-read accounting can
// make progress rather than blocking forever.
func OpenSerial(portName string) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: SerialBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, btcerr.Wrap(btcerr.KindBackendUnavailable, fmt.Sprintf("opening serial port %s", portName), err)
	}
	if err := port.SetReadTimeout(readPollInterval); err != nil {
		port.Close()
		return nil, btcerr.Wrap(btcerr.KindBackendUnavailable, "setting serial read timeout", err)
	}
	return port, nil
}

// readPollInterval bounds each individual Read call so Framing's consecutive
// empty-read counters reach emptyReadsBeforeTimeout at roughly
// DefaultReadTimeout overall, instead of one call blocking for the entire
// duration.
const readPollInterval = DefaultReadTimeout / emptyReadsBeforeTimeout

// ListPorts enumerates serial ports whose USB VID/PID matches a known Jade
// device.
func ListPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, btcerr.Wrap(btcerr.KindBackendUnavailable, "listing serial ports", err)
	}
	var matches []string
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		for _, id := range USBIDs {
			if strings.EqualFold(p.VID, id.VendorID) && strings.EqualFold(p.PID, id.ProductID) {
				matches = append(matches, p.Name)
				break
			}
		}
	}
	return matches, nil
}
