package testfs

import "github.com/jacobsa/timeutil"

// Clock is the time source used for inode and superblock modification-time
// stamping. Production code uses timeutil.RealClock(); a test can inject
// timeutil.SimulatedClock through WithClock so timestamp-ordering
// assertions don't depend on wall-clock timing. Grounded
// on gcsfuse's use of jacobsa/timeutil for the same purpose.
type Clock = timeutil.Clock

func realClock() Clock {
	return timeutil.RealClock()
}
