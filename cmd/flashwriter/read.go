package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/gentam/flashwriter"
)

type readCmd struct {
	Addr  address `required:"" help:"First address to read."`
	N     int     `short:"n" default:"256" help:"Number of bytes to read."`
	Width int     `default:"1" help:"Word width for the dump: 1, 2, 4 or 8."`
	Out   string  `short:"o" type:"path" help:"Output file (default: hexdump)."`
}

func (c *readCmd) Run(g *Globals) error {
	switch c.Width {
	case 1, 2, 4, 8:
	default:
		return errors.Errorf("unsupported word width %d", c.Width)
	}
	if c.N <= 0 || c.N%c.Width != 0 {
		return errors.Errorf("-n %d is not a positive multiple of the word width %d", c.N, c.Width)
	}

	d, err := openDevice(g)
	if err != nil {
		return err
	}
	defer d.Close()

	r := flashwriter.NewReader(d.ctrl)
	addr := uint32(c.Addr)
	if c.Out != "" {
		return os.WriteFile(c.Out, r.Read(addr, c.N), 0644)
	}
	switch c.Width {
	case 1:
		fmt.Print(hex.Dump(r.Read(addr, c.N)))
	case 2:
		dumpWords(addr, flashwriter.ReadAs[uint16](r, addr, c.N/2), 4)
	case 4:
		dumpWords(addr, flashwriter.ReadAs[uint32](r, addr, c.N/4), 8)
	case 8:
		dumpWords(addr, flashwriter.ReadAs[uint64](r, addr, c.N/8), 16)
	}
	return nil
}

func dumpWords[T flashwriter.Word](addr uint32, words []T, digits int) {
	size := uint32(digits / 2)
	perLine := 16 / int(size)
	for i, v := range words {
		if i%perLine == 0 {
			if i > 0 {
				fmt.Println()
			}
			fmt.Printf("%08x:", addr+uint32(i)*size)
		}
		fmt.Printf(" %0*x", digits, v)
	}
	fmt.Println()
}

type verifyCmd struct {
	Addr address `required:"" help:"Address the image was programmed at."`
	File string  `arg:"" type:"existingfile" help:"Raw image to compare against."`
}

func (c *verifyCmd) Run(g *Globals) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	d, err := openDevice(g)
	if err != nil {
		return err
	}
	defer d.Close()

	r := flashwriter.NewReader(d.ctrl)
	addr := uint32(c.Addr)
	want := flashwriter.ImageChecksum(data)
	got := r.Checksum(addr, len(data))
	if err := r.Verify(addr, data); err != nil {
		return errors.Wrapf(err, "crc32 %08x, want %08x", got, want)
	}
	color.Green("%d bytes at %#010x match, crc32 %08x", len(data), addr, got)
	return nil
}
