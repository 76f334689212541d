package logger

import "os"

// isTerminal reports whether the file is attached to a terminal.
// Character-device detection is portable and good enough for deciding
// whether to emit ANSI color codes.
func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
