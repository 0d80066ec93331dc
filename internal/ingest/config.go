package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Configured registers the input layout flags and returns the options they
// produce once lflag.Configure has run.
func Configured() *Options {
	entities := lflag.String("entities", "", "Comma separated entity ids to keep from multi-entity exports (empty keeps all)")
	statsColumn := lflag.String("stats-column", string(StatsAvg), "Statistics aggregate used as the sample value (avg or max_val)")
	skipRows := lflag.Int("skip-rows", DefaultSkipRows, "Preamble rows before the header of day-columns exports")
	year := lflag.Int("year", time.Now().Year(), "Year of day-columns exports")
	month := lflag.Int("month", int(time.Now().Month()), "Month (1-12) of day-columns exports")
	series := lflag.String("series", "", "Series id for day-columns exports (defaults to the file name)")
	sheet := lflag.String("sheet", "", "Workbook sheet to read (defaults to the first)")
	timezone := lflag.String("input-timezone", "", "IANA zone for timestamps written without one (defaults to UTC)")

	var o Options
	lflag.Do(func() {
		o = Options{
			StatsColumn: StatsColumn(*statsColumn),
			SkipRows:    *skipRows,
			Year:        *year,
			Month:       time.Month(*month),
			Series:      *series,
			Sheet:       *sheet,
		}
		if *entities != "" {
			o.Entities = strings.Split(*entities, ",")
		}
		if o.Month < time.January || o.Month > time.December {
			panic(fmt.Sprintf("invalid month %d", *month))
		}
		if _, err := (&StatsParser{Column: o.StatsColumn}).columnIndex(); err != nil {
			panic(err.Error())
		}
		if *timezone != "" {
			loc, err := time.LoadLocation(*timezone)
			if err != nil {
				panic(fmt.Sprintf("loading timezone %q: %v", *timezone, err))
			}
			o.Location = loc
		}
	})

	return &o
}
