package markethours

import "time"

// NSE trading holidays keyed by IST calendar date. Grouped per year so new
// exchange circulars extend the table without touching lookup code; dates
// beyond the latest final circular are marked tentative.
var nseHolidays = map[string]string{
	// 2026
	"2026-01-26": "Republic Day",
	"2026-02-17": "Mahashivratri (tentative)",
	"2026-03-14": "Holi",
	"2026-03-31": "Id-ul-Fitr (tentative)",
	"2026-04-02": "Ram Navami (tentative)",
	"2026-04-06": "Mahavir Jayanti",
	"2026-04-10": "Good Friday",
	"2026-04-14": "Dr. Ambedkar Jayanti",
	"2026-05-01": "Maharashtra Day",
	"2026-06-07": "Bakrid (tentative)",
	"2026-07-06": "Muharram (tentative)",
	"2026-08-15": "Independence Day",
	"2026-08-16": "Janmashtami (tentative)",
	"2026-09-05": "Milad-un-Nabi (tentative)",
	"2026-10-02": "Mahatma Gandhi Jayanti",
	"2026-10-20": "Dussehra",
	"2026-10-21": "Dussehra (tentative)",
	"2026-11-05": "Diwali / Lakshmi Puja (tentative)",
	"2026-11-06": "Diwali Balipratipada (tentative)",
	"2026-11-07": "Bhai Dooj (tentative)",
	"2026-11-19": "Guru Nanak Jayanti",
	"2026-12-25": "Christmas",
}

// HolidayName returns the exchange's name for the holiday on t (IST), if any.
func HolidayName(t time.Time) (string, bool) {
	name, ok := nseHolidays[t.In(IST).Format("2006-01-02")]
	return name, ok
}

// IsHoliday returns true if the date (in IST) is an NSE holiday.
func IsHoliday(t time.Time) bool {
	_, ok := HolidayName(t)
	return ok
}
