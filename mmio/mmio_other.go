//go:build !linux

package mmio

import (
	"errors"

	"github.com/gentam/flashwriter"
)

// Controller is only available on Linux.
type Controller struct {
	flashwriter.Controller
}

// Open always fails outside Linux.
func Open(family *flashwriter.Family) (*Controller, error) {
	return nil, errors.New("mmio: memory-mapped flash access requires linux /dev/mem")
}

func (c *Controller) Close() error { return nil }
