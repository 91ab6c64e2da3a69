package scanner

import (
	"time"

	"github.com/djherbis/times"
)

// FileTimes is attached to events worth reporting. Fields the platform does
// not provide are left empty.
type FileTimes struct {
	ModTime    string `json:"mod_time"`
	AccessTime string `json:"access_time"`
	ChangeTime string `json:"change_time,omitempty"`
	BirthTime  string `json:"birth_time,omitempty"`
}

func fileTimes(path string) (*FileTimes, error) {
	ts, err := times.Stat(path)
	if err != nil {
		return nil, err
	}
	result := &FileTimes{
		ModTime:    ts.ModTime().UTC().Format(time.RFC3339),
		AccessTime: ts.AccessTime().UTC().Format(time.RFC3339),
	}
	if ts.HasChangeTime() {
		result.ChangeTime = ts.ChangeTime().UTC().Format(time.RFC3339)
	}
	if ts.HasBirthTime() {
		result.BirthTime = ts.BirthTime().UTC().Format(time.RFC3339)
	}
	return result, nil
}
