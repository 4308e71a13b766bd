package types

import "time"

// Duration is the unit used by ConsensusTimeoutKind.Duration and the timer
// wheel. Kept as a named alias so this package's public interfaces don't
// leak the choice of clock implementation.
type Duration = time.Duration
