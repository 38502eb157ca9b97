// pkg/driver/types.go
package driver

import (
	"time"

	"fieldgate/internal/model"
)

// WritePoint is one address/value pair submitted to WriteBatch
type WritePoint struct {
	Address string      `json:"address"`
	Value   model.Value `json:"value"`
}

// PointResult is the per-address outcome of a batch operation. Batch calls
// return exactly one PointResult per requested point, success or failure.
type PointResult struct {
	Address   string        `json:"address"`
	Success   bool          `json:"success"`
	Value     *model.Value  `json:"value,omitempty"`
	Quality   model.Quality `json:"quality"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// GoodResult builds a successful read result for an address.
func GoodResult(address string, v model.Value) PointResult {
	return PointResult{
		Address:   address,
		Success:   true,
		Value:     &v,
		Quality:   model.QualityGood,
		Timestamp: time.Now(),
	}
}

// BadResult builds a failed result with the given quality flag.
func BadResult(address string, quality model.Quality, err error) PointResult {
	r := PointResult{
		Address:   address,
		Quality:   quality,
		Timestamp: time.Now(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// WrittenResult builds a successful write result for an address.
func WrittenResult(address string) PointResult {
	return PointResult{
		Address:   address,
		Success:   true,
		Quality:   model.QualityGood,
		Timestamp: time.Now(),
	}
}
