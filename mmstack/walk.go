package mmstack

import (
	"errors"

	"github.com/ziw-liu/iohub/zarr"
)

// WalkFunc is called once per position by Walk, in ascending order. arr is
// nil when err is non-nil. Returning ErrStopWalk ends the walk early
// without error; any other non-nil return ends it with that error.
type WalkFunc func(position int, arr *zarr.Array, err error) error

// ErrStopWalk stops a walk early from inside a WalkFunc.
var ErrStopWalk = errors.New("stop walking")

// IsStopWalk reports whether err signals an early walk stop.
func IsStopWalk(err error) bool {
	return errors.Is(err, ErrStopWalk)
}

// Walk visits every position, materializing arrays as it goes. A
// materialization error is handed to fn with a nil array; fn decides
// whether the walk continues.
func (r *Reader) Walk(fn WalkFunc) error {
	for p := 0; p < r.idx.positions; p++ {
		arr, err := r.GetZarr(p)
		if werr := fn(p, arr, err); werr != nil {
			if IsStopWalk(werr) {
				return nil
			}
			return werr
		}
	}
	return nil
}
