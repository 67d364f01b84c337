// Package analytics aggregates booking rows into the summary figures shown
// on the business dashboard. All functions are pure: callers load the rows
// and pass the clock in.
package analytics

import (
	"sort"
	"time"

	"fieldledger/api/internal/store"
)

// MonthRevenue is one month of realized booking revenue, keyed by the
// booking start date in UTC.
type MonthRevenue struct {
	Month   string  `json:"month"`
	Revenue float64 `json:"revenue"`
	Count   int     `json:"count"`
}

// UpcomingWindow summarizes scheduled bookings starting within the window.
type UpcomingWindow struct {
	Days  int     `json:"days"`
	Count int     `json:"count"`
	Value float64 `json:"value"`
}

// Summary is the booking analytics payload.
type Summary struct {
	TotalRevenue   float64        `json:"totalRevenue"`
	MonthlyRevenue []MonthRevenue `json:"monthlyRevenue"`
	StatusCounts   map[string]int `json:"statusCounts"`
	Upcoming       UpcomingWindow `json:"upcoming"`
}

// Summarize aggregates bookings into dashboard figures. Only completed
// bookings count as revenue; canceled bookings appear in the status counts
// and nowhere else. Months are sorted ascending.
func Summarize(bookings []store.Booking, now time.Time, upcomingDays int) Summary {
	if upcomingDays <= 0 {
		upcomingDays = 30
	}
	windowEnd := now.Add(time.Duration(upcomingDays) * 24 * time.Hour)

	byMonth := map[string]*MonthRevenue{}
	statusCounts := map[string]int{}
	summary := Summary{
		StatusCounts: statusCounts,
		Upcoming:     UpcomingWindow{Days: upcomingDays},
	}

	for _, b := range bookings {
		statusCounts[b.Status]++

		switch b.Status {
		case store.BookingStatusCompleted:
			summary.TotalRevenue += b.Price
			month := time.UnixMilli(b.StartAtMs).UTC().Format("2006-01")
			m, ok := byMonth[month]
			if !ok {
				m = &MonthRevenue{Month: month}
				byMonth[month] = m
			}
			m.Revenue += b.Price
			m.Count++
		case store.BookingStatusScheduled:
			start := time.UnixMilli(b.StartAtMs)
			if !start.Before(now) && start.Before(windowEnd) {
				summary.Upcoming.Count++
				summary.Upcoming.Value += b.Price
			}
		}
	}

	summary.MonthlyRevenue = make([]MonthRevenue, 0, len(byMonth))
	for _, m := range byMonth {
		summary.MonthlyRevenue = append(summary.MonthlyRevenue, *m)
	}
	sort.Slice(summary.MonthlyRevenue, func(i, j int) bool {
		return summary.MonthlyRevenue[i].Month < summary.MonthlyRevenue[j].Month
	})

	return summary
}
