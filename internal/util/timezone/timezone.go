package timezone

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// Globale Variable für die aktuelle Zeitzone
var currentLocation *time.Location

// Initialize setzt die Zeitzone. Ein leerer Name fällt auf die
// TZ-Umgebungsvariable und schließlich auf UTC zurück. Die Zeitzone
// bestimmt, wann ein neuer Anwesenheits-Kalendertag beginnt.
func Initialize(tzName string) {
	if tzName == "" {
		tzName = os.Getenv("TZ")
	}
	if tzName == "" {
		tzName = "UTC"
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Warnf("Failed to load timezone %s: %v. Falling back to UTC.", tzName, err)
		currentLocation = time.UTC
		return
	}

	log.Infof("Successfully initialized timezone to %s", tzName)
	currentLocation = loc
}

// Location gibt die konfigurierte Zeitzone zurück
func Location() *time.Location {
	if currentLocation == nil {
		Initialize("")
	}
	return currentLocation
}

// Now gibt die aktuelle Zeit in der konfigurierten Zeitzone zurück
func Now() time.Time {
	return time.Now().In(Location())
}

// DayOf gibt den Kalendertag (Mitternacht) eines Zeitpunkts in der
// konfigurierten Zeitzone zurück.
func DayOf(t time.Time) time.Time {
	local := t.In(Location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, Location())
}

// Format formatiert ein time.Time-Objekt mit der konfigurierten Zeitzone
func Format(t time.Time, layout string) string {
	return t.In(Location()).Format(layout)
}

// ISO8601 formatiert ein time.Time-Objekt im ISO 8601-Format mit der konfigurierten Zeitzone
func ISO8601(t time.Time) string {
	return Format(t, time.RFC3339)
}
