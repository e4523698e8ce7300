package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Availability is a boat's state on one day.
type Availability string

const (
	Booked    Availability = "Booked"
	Available Availability = "Available"
)

// Day is one column of the booking grid; Number starts at 1.
type Day struct {
	Number int
	Status Availability
}

// Boat is one row of the booking grid.
type Boat struct {
	Name string
	Link string
	Days []Day
}

// BookedDays lists the day numbers marked booked.
func (b Boat) BookedDays() []int {
	var out []int
	for _, d := range b.Days {
		if d.Status == Booked {
			out = append(out, d.Number)
		}
	}
	return out
}

// Grid cell classes: CbgM marks a booked day, CbgT and CbgWE free weekdays
// and weekends.
const (
	classBooked  = "CbgM"
	classWeekday = "CbgT"
	classWeekend = "CbgWE"
)

// ParseBoats extracts every boat row from the overview page. Rows without a
// name cell or without a link in it are skipped.
func ParseBoats(html string, logger *zap.Logger) ([]Boat, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var boats []Boat
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		info := row.Find(".fixedcol-a").First()
		if info.Length() == 0 {
			logger.Warn("Skipping row without boat information")
			return
		}
		link := info.Find("a").First()
		if link.Length() == 0 {
			logger.Warn("Skipping row without a boat link", zap.String("cell", strings.TrimSpace(info.Text())))
			return
		}

		boat := Boat{
			Name: strings.TrimSpace(link.Text()),
			Link: link.AttrOr("href", ""),
		}
		number := 0
		row.Find("td").Each(func(_ int, cell *goquery.Selection) {
			switch {
			case cell.HasClass(classBooked):
				number++
				boat.Days = append(boat.Days, Day{Number: number, Status: Booked})
			case cell.HasClass(classWeekday), cell.HasClass(classWeekend):
				number++
				boat.Days = append(boat.Days, Day{Number: number, Status: Available})
			}
		})

		boats = append(boats, boat)
		logger.Info("Processed boat", zap.String("boat", boat.Name), zap.Int("booked_days", len(boat.BookedDays())))
	})
	return boats, nil
}
