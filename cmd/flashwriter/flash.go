package main

import (
	"os"

	"github.com/cheggaaa/pb"

	"github.com/gentam/flashwriter"
)

// progressBars shows one bar per phase reported by the Writer.
type progressBars struct {
	phase string
	bar   *pb.ProgressBar
	total map[string]int // overrides the Writer's total, by phase
}

func newProgressBars() *progressBars {
	return &progressBars{total: map[string]int{}}
}

func (p *progressBars) update(pr flashwriter.Progress) {
	if pr.Phase != p.phase {
		p.finish()
		total := pr.Total
		if t, ok := p.total[pr.Phase]; ok {
			total = t
		}
		p.phase = pr.Phase
		p.bar = pb.New(total).SetUnits(pb.U_BYTES).Prefix(pr.Phase + " ")
		p.bar.Output = os.Stderr
		p.bar.Start()
	}
	p.bar.Set(min(pr.Done, int(p.bar.Total)))
}

func (p *progressBars) finish() {
	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
	p.phase = ""
}
