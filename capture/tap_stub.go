//go:build !linux

package capture

import "errors"

// Tap is only implemented on Linux, where AF_PACKET sockets exist.
type Tap struct{}

func OpenTap(ifName string) (*Tap, error) {
	return nil, errors.New("link-layer capture requires linux")
}

func (t *Tap) Read() ([]byte, error) { return nil, errors.New("capture not supported") }

func (t *Tap) Close() error { return nil }

func (t *Tap) Interface() string { return "" }
