package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		panic(err)
	}
}

// the portal renders every date in IST, so pin the clock there
// regardless of where the server happens to run
func Now() time.Time {
	return time.Now().In(Location)
}
