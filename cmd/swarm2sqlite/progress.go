package main

import (
	"github.com/pterm/pterm"
)

// progress wraps a pterm progress bar. A silent progress does nothing.
type progress struct {
	silent bool
	pb     *pterm.ProgressbarPrinter
}

func newProgress(silent bool) *progress {
	return &progress{silent: silent}
}

func (p *progress) Start(total int, title string) {
	if p.silent || total <= 0 {
		return
	}
	p.pb, _ = pterm.DefaultProgressbar.WithTotal(total).WithTitle(title).Start()
}

func (p *progress) Increment() {
	if p.pb != nil && p.pb.Current < p.pb.Total {
		p.pb.Increment()
	}
}

func (p *progress) Stop() {
	if p.pb != nil {
		p.pb.Stop()
		p.pb = nil
	}
}
