package serial

import (
	"fmt"
	"time"

	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/tarm/serial"
)

// Supported serial drivers.
const (
	DriverTarm  = "tarm"
	DriverBugst = "bugst"
)

// Port abstracts the serial drivers for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens name with the given driver. An empty driver selects tarm.
func Open(driver, name string, baud int, readTimeout time.Duration) (Port, error) {
	switch driver {
	case "", DriverTarm:
		cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
		return serial.OpenPort(cfg)
	case DriverBugst:
		p, err := bugst.Open(name, &bugst.Mode{BaudRate: baud})
		if err != nil {
			return nil, err
		}
		if readTimeout > 0 {
			if err := p.SetReadTimeout(readTimeout); err != nil {
				_ = p.Close()
				return nil, fmt.Errorf("set read timeout: %w", err)
			}
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown serial driver %q (use %s|%s)", driver, DriverTarm, DriverBugst)
	}
}

// PortInfo describes a serial port found on the system.
type PortInfo struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Serial  string
	Product string
}

// enumeratePorts is swapped in tests.
var enumeratePorts = enumerator.GetDetailedPortsList

// ListPorts enumerates the serial ports present on the host.
func ListPorts() ([]PortInfo, error) {
	list, err := enumeratePorts()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	out := make([]PortInfo, 0, len(list))
	for _, p := range list {
		if p == nil {
			continue
		}
		out = append(out, PortInfo{
			Name:    p.Name,
			USB:     p.IsUSB,
			VID:     p.VID,
			PID:     p.PID,
			Serial:  p.SerialNumber,
			Product: p.Product,
		})
	}
	return out, nil
}
