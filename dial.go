package hostlink

import (
	"fmt"

	"hostlink/transport"
	"hostlink/wire"
)

// DialEndpoint constructs the concrete Transport for ep, ready to be passed
// to Client.Connect. serialBaud is only used for EndpointSerial.
func DialEndpoint(ep wire.TransportEndpoint, serialBaud int) (transport.Transport, error) {
	switch ep.Kind {
	case wire.EndpointSerial:
		if ep.PortName == "" {
			return nil, fmt.Errorf("hostlink: serial endpoint missing port name")
		}
		if serialBaud <= 0 {
			serialBaud = 115200
		}
		return transport.NewSerialTransport(ep.PortName, serialBaud), nil
	case wire.EndpointReplay:
		if ep.File == "" {
			return nil, fmt.Errorf("hostlink: replay endpoint missing capture file")
		}
		speed := ep.SpeedMult
		if speed == 0 {
			speed = 1.0
		}
		return transport.NewReplayTransport(ep.File, speed), nil
	default:
		return nil, fmt.Errorf("hostlink: unknown endpoint kind %d", ep.Kind)
	}
}
