package scraper

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"go.uber.org/zap"
)

// CalendarLink is one published calendar.
type CalendarLink struct {
	Boat string
	File string
	URL  string
}

// CalendarFile names a boat's calendar file.
func CalendarFile(boat string) string {
	return strings.ReplaceAll(boat, " ", "_") + ".ics"
}

// BuildCalendar renders one all-day-span event per booked day of month.
// UIDs and stamps derive from the boat and month so unchanged bookings
// produce identical files.
func BuildCalendar(boat Boat, month time.Time) string {
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//sjscal//boat calendars//EN")
	cal.SetXWRCalName(boat.Name)

	for _, day := range boat.BookedDays() {
		if day > lastDay {
			continue
		}
		start := first.AddDate(0, 0, day-1)
		uid := fmt.Sprintf("%s-%s@sjscal", strings.ReplaceAll(boat.Name, " ", "-"), start.Format("20060102"))

		event := cal.AddEvent(uid)
		event.SetDtStampTime(first)
		event.SetStartAt(start)
		event.SetEndAt(start.Add(24*time.Hour - time.Second))
		event.SetSummary(boat.Name + " - Booked")
	}
	return cal.Serialize()
}

// WriteCalendars writes one calendar per boat into dir and returns their
// subscription links under rawBaseURL.
func WriteCalendars(dir string, boats []Boat, month time.Time, rawBaseURL string, logger *zap.Logger) ([]CalendarLink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(rawBaseURL, "/")
	links := make([]CalendarLink, 0, len(boats))
	for _, boat := range boats {
		file := CalendarFile(boat.Name)
		if err := os.WriteFile(filepath.Join(dir, file), []byte(BuildCalendar(boat, month)), 0644); err != nil {
			return nil, fmt.Errorf("write calendar for %s: %w", boat.Name, err)
		}
		logger.Info("ICS file created", zap.String("file", file))
		links = append(links, CalendarLink{Boat: boat.Name, File: file, URL: base + "/" + file})
	}
	return links, nil
}

var indexTemplate = template.Must(template.New("index").Parse(`<html>
<head>
<title>Boat Calendars</title>
</head>
<body>
<h1>Subscribe to Boat Calendars</h1>
<ul>
{{- range .}}
<li><a href="{{.URL}}">{{.Boat}} Calendar</a></li>
{{- end}}
</ul>
</body>
</html>`))

// WriteIndex writes the page listing every calendar link.
func WriteIndex(dir string, links []CalendarLink) error {
	f, err := os.Create(filepath.Join(dir, IndexFile))
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := indexTemplate.Execute(f, links); err != nil {
		f.Close()
		return fmt.Errorf("render index: %w", err)
	}
	return f.Close()
}
