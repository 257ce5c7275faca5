package interpret

import "time"

// timeNow is a package-level variable for testability.
// Tests can replace this to control time in assertions.
var timeNow = time.Now

// timeLayout is the persisted timestamp format.
const timeLayout = time.RFC3339
