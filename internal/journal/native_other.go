//go:build !windows

package journal

import "fmt"

func nativeSupported() bool { return false }

func newNativeReader(volume string) (Reader, error) {
	return nil, fmt.Errorf("%w: native USN backend requires Windows (volume %s)", ErrUnsupportedVolume, volume)
}
