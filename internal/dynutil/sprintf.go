package dynutil

import "fmt"

// DSprintf mirrors the C engine's "dynamic sprintf": format into an
// owned string. In Go fmt.Sprintf already owns its result, so this
// exists purely so call sites read the same as the rest of the pack
// and so every formatting helper funnels through one place.
func DSprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
