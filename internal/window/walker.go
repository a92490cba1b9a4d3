// Package window splits an account's history into date windows walked
// backward from today.
package window

import (
	"iter"
	"time"

	"cloud.google.com/go/civil"
)

// DefaultWidth is the number of days covered by one window.
const DefaultWidth = 60

// Window is a date range [From, To] used to scope one query to a source.
type Window struct {
	From civil.Date
	To   civil.Date
}

// Format renders the window bounds with a Go time layout, for sources that
// expect dates as e.g. "01/02/2006".
func (w Window) Format(layout string) (from, to string) {
	loc := time.UTC
	return w.From.In(loc).Format(layout), w.To.In(loc).Format(layout)
}

func (w Window) String() string {
	return w.From.String() + ".." + w.To.String()
}

// Walk returns the unbounded sequence of windows ending at today and moving
// backward: window k is [today-width*(k+1), today-width*k]. Consecutive
// windows share their boundary date and never overlap otherwise. The
// sequence never ends on its own; the consumer decides when to stop.
func Walk(today civil.Date, width int) iter.Seq[Window] {
	if width <= 0 {
		width = DefaultWidth
	}
	return func(yield func(Window) bool) {
		to := today
		for {
			from := to.AddDays(-width)
			if !yield(Window{From: from, To: to}) {
				return
			}
			to = from
		}
	}
}

// Walker binds Walk to a clock.
type Walker struct {
	Width    int
	Now      func() time.Time
	Location *time.Location
}

// Windows starts a fresh walk from the current date.
func (w Walker) Windows() iter.Seq[Window] {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	loc := time.Local
	if w.Location != nil {
		loc = w.Location
	}
	return Walk(civil.DateOf(now().In(loc)), w.Width)
}
