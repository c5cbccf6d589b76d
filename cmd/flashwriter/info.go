package main

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/gentam/flashwriter"
)

type infoCmd struct{}

func (c *infoCmd) Run(g *Globals) error {
	d, err := openDevice(g)
	if err != nil {
		return err
	}
	defer d.Close()

	f := d.family
	sizeKB := d.ctrl.SizeKB()
	sr := flashwriter.StatusRegister{Raw: d.ctrl.Status(), Family: f}

	fmt.Printf("Family:          %s\n", f)
	fmt.Printf("Flash:           %d KiB at %#010x\n", sizeKB, f.Base)
	fmt.Printf("Program chunk:   %d bytes\n", f.ChunkWidth)
	fmt.Printf("Page size:       %d bytes\n", f.PageSize)
	fmt.Printf("Status:          %s\n", sr)
	if d.ctrl.Locked() {
		fmt.Printf("Lock:            %s\n", color.GreenString("locked"))
	} else {
		fmt.Printf("Lock:            %s\n", color.YellowString("unlocked"))
	}
	for _, b := range f.Layout(sizeKB) {
		fmt.Printf("Bank %d:          %#010x-%#010x (%d pages)\n", b.Index+1, b.Start, b.End, (b.End-b.Start+1)/f.PageSize)
	}
	return nil
}
