package main

import (
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"

	"github.com/gentam/flashwriter"
	"github.com/gentam/flashwriter/internal/image"
)

type eraseCmd struct {
	Start address `required:"" help:"First address of the region."`
	End   address `required:"" help:"Last address of the region (inclusive)."`
}

func (c *eraseCmd) Run(g *Globals) error {
	d, err := openDevice(g)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.EnableProgramming(gpio.High); err != nil {
		return err
	}
	defer d.EnableProgramming(gpio.Low)

	bars := newProgressBars()
	w, err := d.newWriter(g, uint32(c.Start), uint32(c.End), flashwriter.WithProgress(bars.update))
	if err != nil {
		return err
	}
	defer d.release(w)

	err = w.Erase()
	bars.finish()
	if err != nil {
		return err
	}
	color.Green("erased %#010x-%#010x", w.StartAddress(), w.EndAddress())
	return nil
}

type writeCmd struct {
	Start  address `help:"First address of the region. Defaults to the ELF load address."`
	End    address `help:"Last address of the region (inclusive). Defaults to the end of the last page the image touches."`
	Erase  bool    `short:"e" help:"Erase the pages the image occupies first."`
	ELF    bool    `name:"elf" help:"The image is an ELF file."`
	Block  int     `default:"1024" help:"Bytes handed to each write call."`
	Verify bool    `default:"true" negatable:"" help:"Read back and compare after programming."`
	File   string  `arg:"" type:"existingfile" help:"Image to program."`
}

func (c *writeCmd) Run(g *Globals) error {
	if c.Block <= 0 {
		return errors.New("--block must be positive")
	}
	d, err := openDevice(g)
	if err != nil {
		return err
	}
	defer d.Close()

	img, err := c.load(d)
	if err != nil {
		return err
	}
	if len(img.Data) == 0 {
		return errors.Errorf("%s: empty image", c.File)
	}
	start, end, err := c.region(d, img)
	if err != nil {
		return err
	}

	if err := d.EnableProgramming(gpio.High); err != nil {
		return err
	}
	defer d.EnableProgramming(gpio.Low)

	bars := newProgressBars()
	defer bars.finish()
	if c.Erase {
		eraseEnd := min(pageEnd(d.family, img.End()-1), uint64(end))
		if err := c.erase(g, d, start, uint32(eraseEnd), bars); err != nil {
			return err
		}
	}

	bars.total["programming"] = len(img.Data)
	w, err := d.newWriter(g, start, end, flashwriter.WithProgress(bars.update))
	if err != nil {
		return err
	}
	defer d.release(w)

	for off := 0; off < len(img.Data); off += c.Block {
		if _, err := w.Write(img.Data[off:min(off+c.Block, len(img.Data))]); err != nil {
			return errors.Wrapf(err, "after %d of %d bytes", w.NextAddress()-start, len(img.Data))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	bars.finish()

	if c.Verify {
		if err := w.Verify(start, img.Data); err != nil {
			return err
		}
	}
	color.Green("wrote %d bytes at %#010x, crc32 %08x", w.ImageLen(), start, flashwriter.ImageChecksum(img.Data))
	return nil
}

func (c *writeCmd) load(d *device) (*image.Image, error) {
	if !c.ELF {
		if c.Start == 0 {
			return nil, errors.New("--start is required for raw images")
		}
		return image.LoadBin(c.File, uint32(c.Start))
	}
	start, end, err := d.wholeFlash()
	if err != nil {
		return nil, err
	}
	img, err := image.LoadELF(c.File, image.FlashRange(uint64(start), uint64(end)-uint64(start)+1))
	if err != nil {
		return nil, err
	}
	if c.Start != 0 && uint32(c.Start) != img.Addr {
		return nil, errors.Errorf("--start %#010x does not match ELF load address %#010x", uint32(c.Start), img.Addr)
	}
	return img, nil
}

// region picks the Writer's region. Without --end it extends to the end of
// the page after the image's last chunk, so the final padded chunk fits, but
// never past the end of flash.
func (c *writeCmd) region(d *device, img *image.Image) (start, end uint32, err error) {
	start = img.Addr
	if c.End != 0 {
		return start, uint32(c.End), nil
	}
	_, flashEnd, err := d.wholeFlash()
	if err != nil {
		return 0, 0, err
	}
	end64 := pageEnd(d.family, img.End()+uint64(d.family.ChunkWidth))
	return start, uint32(min(end64, uint64(flashEnd))), nil
}

// erase erases only [start, end], the pages the image lands in. The program
// region may reach one page further and must not be erased with it.
func (c *writeCmd) erase(g *Globals, d *device, start, end uint32, bars *progressBars) error {
	w, err := d.newWriter(g, start, end, flashwriter.WithProgress(bars.update))
	if err != nil {
		return err
	}
	defer d.release(w)
	return w.Erase()
}

// pageEnd returns the last address of the page holding addr.
func pageEnd(f *flashwriter.Family, addr uint64) uint64 {
	base, ps := uint64(f.Base), uint64(f.PageSize)
	return (addr-base)/ps*ps + ps - 1 + base
}
