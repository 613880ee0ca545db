package bench

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// ms renders d in milliseconds with one decimal place.
func ms(d time.Duration) string {
	return decimal.NewFromInt(d.Nanoseconds()).Div(decimal.NewFromInt(int64(time.Millisecond))).StringFixed(1)
}

// WriteReport prints one line per scenario and build, in the
// name_ms mean=.. median=.. best=.. form.
func WriteReport(w io.Writer, r *Report) error {
	if _, err := fmt.Fprintf(w, "rows=%s indexed=%s\n", humanize.Comma(int64(r.Records)), humanize.Comma(int64(r.Indexed))); err != nil {
		return err
	}
	builds := make([]string, 0, len(r.Builds))
	for name := range r.Builds {
		builds = append(builds, name)
	}
	slices.Sort(builds)
	for _, name := range builds {
		if _, err := fmt.Fprintf(w, "%s_ms=%s\n", name, ms(r.Builds[name])); err != nil {
			return err
		}
	}
	for _, s := range r.Samples {
		var err error
		if s.Skipped {
			_, err = fmt.Fprintf(w, "%s_ms skipped (%s)\n", s.Name, s.Reason)
		} else {
			_, err = fmt.Fprintf(w, "%s_ms mean=%s median=%s best=%s rows=%s\n",
				s.Name, ms(s.Mean), ms(s.Median), ms(s.Min), humanize.Comma(int64(s.Rows)))
		}
		if err != nil {
			return err
		}
	}
	return nil
}
