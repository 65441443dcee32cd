package constants

import "time"

// saturation warnings are logged at most this often
const SlowAcquireLogInterval = 10 * time.Second
