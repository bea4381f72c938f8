//go:build windows

package journal

func nativeSupported() bool { return true }

func newNativeReader(volume string) (Reader, error) {
	return NewUSNReader(volume)
}
