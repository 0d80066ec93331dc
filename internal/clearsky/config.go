package clearsky

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Configured registers the pipeline flags and returns the params they
// produce once lflag.Configure has run.
func Configured() *Params {
	granularity := lflag.Int("granularity", DefaultParams.Granularity, "Slot width in minutes, must divide 60")
	window := lflag.Int("sg-window", DefaultParams.Window, "Savitzky-Golay window length (odd, at most the number of slots)")
	order := lflag.Int("sg-order", DefaultParams.Order, "Savitzky-Golay polynomial order (less than the window)")
	workers := lflag.Int("workers", 0, "Goroutines used to aggregate slots (0 or 1 runs sequentially)")
	timezone := lflag.String("timezone", "", "IANA zone the time of day is read in (empty keeps each sample's zone)")

	var p Params
	lflag.Do(func() {
		p = Params{
			Granularity: *granularity,
			Window:      *window,
			Order:       *order,
			Workers:     *workers,
		}
		if *timezone != "" {
			loc, err := time.LoadLocation(*timezone)
			if err != nil {
				panic(fmt.Sprintf("loading timezone %q: %v", *timezone, err))
			}
			p.Location = loc
		}
		if err := p.Validate(); err != nil {
			panic(fmt.Sprintf("pipeline validation failed: %v", err))
		}
	})

	return &p
}
