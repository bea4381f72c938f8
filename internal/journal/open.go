package journal

import (
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendUSN    = "usn"    // native NTFS change journal (Windows only)
	BackendWatch  = "watch"  // fsnotify emulation over a directory tree
	BackendReplay = "replay" // recorded JSONL file
	BackendAuto   = "auto"   // usn where available, otherwise watch
)

// Open constructs the reader for one volume. The replay backend encodes its
// source file after a colon: "replay:/path/to/records.jsonl".
func Open(backend, volume string) (Reader, error) {
	if rest, ok := strings.CutPrefix(backend, BackendReplay+":"); ok {
		return NewReplayReader(volume, rest)
	}
	switch backend {
	case BackendUSN:
		return newNativeReader(volume)
	case BackendWatch:
		return NewWatchReader(volume)
	case BackendAuto, "":
		if nativeSupported() {
			return newNativeReader(volume)
		}
		return NewWatchReader(volume)
	}
	return nil, fmt.Errorf("journal: unknown backend %q", backend)
}
