package checkpointer

import (
	"fmt"
	"time"
)

// FilenameEnumerator returns a filename generator producing
// filename1.ext, filename2.ext, and so on, starting one past start.
// The filename parameter carries the full path prefix.
func FilenameEnumerator(start int, filename, extension string) func() string {
	i := start
	return func() string {
		i++
		return fmt.Sprintf("%v%v%v", filename, i, extension)
	}
}

// FileTimer returns a filename generator that suffixes filename with
// the nanosecond timestamp at generation time, for runs where the
// number of checkpoints is not known in advance.
func FileTimer(filename, extension string) func() string {
	return func() string {
		return fmt.Sprintf("%v-%v%v", filename, time.Now().UnixNano(),
			extension)
	}
}
