package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func fixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "vesseloverview.html"))
	require.NoError(t, err)
	return string(data)
}

var december = time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)

func TestParseBoats(t *testing.T) {
	boats, err := ParseBoats(fixture(t), nil)
	require.NoError(t, err)
	require.Len(t, boats, 2, "row without a link is skipped")

	assert.Equal(t, "Sea Breeze", boats[0].Name)
	assert.Equal(t, "a-vessel.asp?id=11", boats[0].Link)
	assert.Equal(t, []Day{{1, Available}, {2, Booked}, {3, Available}, {4, Booked}}, boats[0].Days)
	assert.Equal(t, []int{2, 4}, boats[0].BookedDays())

	assert.Equal(t, "Orca", boats[1].Name)
	assert.Len(t, boats[1].Days, 3, "cells of unknown class are not days")
	assert.Empty(t, boats[1].BookedDays())
}

func TestParseBoats_WarnsOnRowWithoutBoat(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	page := `<table>
<tr><th>Boat</th><th>1</th></tr>
<tr><td class="fixedcol-a"><a href="a-vessel.asp?id=7">Tern</a></td><td class="CbgT">1</td></tr>
</table>`

	boats, err := ParseBoats(page, zap.New(core))
	require.NoError(t, err)
	require.Len(t, boats, 1)
	assert.Equal(t, "Tern", boats[0].Name)

	skipped := logs.FilterMessage("Skipping row without boat information").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, zapcore.WarnLevel, skipped[0].Level)
}

func TestBuildCalendar(t *testing.T) {
	cal := BuildCalendar(Boat{Name: "Sea Breeze", Days: []Day{{2, Booked}, {3, Available}, {31, Booked}, {32, Booked}}}, december)

	assert.Equal(t, 2, strings.Count(cal, "BEGIN:VEVENT"), "day 32 does not exist")
	assert.Contains(t, cal, "SUMMARY:Sea Breeze - Booked")
	assert.Contains(t, cal, "DTSTART:20241202T000000Z")
	assert.Contains(t, cal, "DTEND:20241202T235959Z")
	assert.Contains(t, cal, "DTSTART:20241231T000000Z")
	assert.NotContains(t, cal, "20241203T")

	assert.Equal(t, cal, BuildCalendar(Boat{Name: "Sea Breeze", Days: []Day{{2, Booked}, {3, Available}, {31, Booked}, {32, Booked}}}, december),
		"same bookings render identically")
}

func TestCalendarFile(t *testing.T) {
	assert.Equal(t, "Sea_Breeze.ics", CalendarFile("Sea Breeze"))
	assert.Equal(t, "Orca.ics", CalendarFile("Orca"))
}

func TestParseMonth(t *testing.T) {
	now := time.Date(2026, 10, 17, 23, 0, 0, 0, time.UTC)
	m, err := ParseMonth("", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), m)

	m, err = ParseMonth("2024-12", now)
	require.NoError(t, err)
	assert.Equal(t, december, m)

	_, err = ParseMonth("12/2024", now)
	assert.Error(t, err)
}

func TestRun_WritesCalendarsAndIndex(t *testing.T) {
	page := fixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "output")
	s := New(Config{URL: srv.URL, RawBaseURL: "https://example.com/cal/", OutputDir: out, Month: december})

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Calendars, 2)
	assert.Equal(t, "https://example.com/cal/Sea_Breeze.ics", res.Calendars[0].URL)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"Sea_Breeze.ics", "Orca.ics", "index.html"}, names)

	index, err := os.ReadFile(filepath.Join(out, IndexFile))
	require.NoError(t, err)
	assert.Contains(t, string(index), `<li><a href="https://example.com/cal/Sea_Breeze.ics">Sea Breeze Calendar</a></li>`)
	assert.Contains(t, string(index), "<title>Boat Calendars</title>")
}

func TestRun_NoBoatsWritesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><table><tr><td>closed</td></tr></table></body></html>"))
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "output")
	res, err := New(Config{URL: srv.URL, OutputDir: out}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Boats)

	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestFetch_NonOKIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL}).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
