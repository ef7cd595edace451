package types

import "fmt"

// NoLocationURL is the map link text used when no GPS fix is known
const NoLocationURL = "GPS Unavailable"

// Location is an operator-supplied GPS fix
type Location struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// MapURL builds the Google Maps link for loc, or NoLocationURL when loc is nil
func MapURL(loc *Location) string {
	if loc == nil {
		return NoLocationURL
	}
	return fmt.Sprintf("https://maps.google.com/?q=%v,%v", loc.Lat, loc.Lon)
}
