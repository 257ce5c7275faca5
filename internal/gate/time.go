package gate

import "time"

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// timeLayout is the persisted timestamp format.
const timeLayout = time.RFC3339
