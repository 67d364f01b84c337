package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldledger/api/internal/store"
)

func ms(t time.Time) int64 { return t.UnixMilli() }

func TestSummarize(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	t.Run("empty input", func(t *testing.T) {
		summary := Summarize(nil, now, 30)

		assert.Zero(t, summary.TotalRevenue)
		assert.Empty(t, summary.MonthlyRevenue)
		assert.Empty(t, summary.StatusCounts)
		assert.Equal(t, 30, summary.Upcoming.Days)
		assert.Zero(t, summary.Upcoming.Count)
	})

	t.Run("buckets completed revenue by month", func(t *testing.T) {
		bookings := []store.Booking{
			{Status: store.BookingStatusCompleted, Price: 200, StartAtMs: ms(time.Date(2026, 6, 3, 9, 0, 0, 0, time.UTC))},
			{Status: store.BookingStatusCompleted, Price: 150, StartAtMs: ms(time.Date(2026, 6, 20, 9, 0, 0, 0, time.UTC))},
			{Status: store.BookingStatusCompleted, Price: 300, StartAtMs: ms(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC))},
		}

		summary := Summarize(bookings, now, 30)

		require.Len(t, summary.MonthlyRevenue, 2)
		assert.Equal(t, MonthRevenue{Month: "2026-06", Revenue: 350, Count: 2}, summary.MonthlyRevenue[0])
		assert.Equal(t, MonthRevenue{Month: "2026-07", Revenue: 300, Count: 1}, summary.MonthlyRevenue[1])
		assert.Equal(t, 600.0, summary.TotalRevenue)
	})

	t.Run("months sort across years", func(t *testing.T) {
		bookings := []store.Booking{
			{Status: store.BookingStatusCompleted, Price: 100, StartAtMs: ms(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC))},
			{Status: store.BookingStatusCompleted, Price: 100, StartAtMs: ms(time.Date(2025, 12, 5, 9, 0, 0, 0, time.UTC))},
		}

		summary := Summarize(bookings, now, 30)

		require.Len(t, summary.MonthlyRevenue, 2)
		assert.Equal(t, "2025-12", summary.MonthlyRevenue[0].Month)
		assert.Equal(t, "2026-01", summary.MonthlyRevenue[1].Month)
	})

	t.Run("counts every status", func(t *testing.T) {
		bookings := []store.Booking{
			{Status: store.BookingStatusCompleted, Price: 100},
			{Status: store.BookingStatusScheduled, StartAtMs: ms(now.Add(48 * time.Hour))},
			{Status: store.BookingStatusCanceled, Price: 500},
			{Status: store.BookingStatusCanceled, Price: 75},
		}

		summary := Summarize(bookings, now, 30)

		assert.Equal(t, 1, summary.StatusCounts[store.BookingStatusCompleted])
		assert.Equal(t, 1, summary.StatusCounts[store.BookingStatusScheduled])
		assert.Equal(t, 2, summary.StatusCounts[store.BookingStatusCanceled])
	})

	t.Run("canceled bookings earn nothing", func(t *testing.T) {
		bookings := []store.Booking{
			{Status: store.BookingStatusCanceled, Price: 500, StartAtMs: ms(now.Add(24 * time.Hour))},
		}

		summary := Summarize(bookings, now, 30)

		assert.Zero(t, summary.TotalRevenue)
		assert.Empty(t, summary.MonthlyRevenue)
		assert.Zero(t, summary.Upcoming.Count)
	})

	t.Run("upcoming window boundaries", func(t *testing.T) {
		bookings := []store.Booking{
			{Status: store.BookingStatusScheduled, Price: 100, StartAtMs: ms(now)},
			{Status: store.BookingStatusScheduled, Price: 200, StartAtMs: ms(now.Add(29 * 24 * time.Hour))},
			{Status: store.BookingStatusScheduled, Price: 400, StartAtMs: ms(now.Add(30 * 24 * time.Hour))},
			{Status: store.BookingStatusScheduled, Price: 800, StartAtMs: ms(now.Add(-time.Hour))},
		}

		summary := Summarize(bookings, now, 30)

		assert.Equal(t, 2, summary.Upcoming.Count)
		assert.Equal(t, 300.0, summary.Upcoming.Value)
	})

	t.Run("non-positive window defaults to thirty days", func(t *testing.T) {
		bookings := []store.Booking{
			{Status: store.BookingStatusScheduled, Price: 100, StartAtMs: ms(now.Add(10 * 24 * time.Hour))},
		}

		summary := Summarize(bookings, now, 0)

		assert.Equal(t, 30, summary.Upcoming.Days)
		assert.Equal(t, 1, summary.Upcoming.Count)
	})
}
