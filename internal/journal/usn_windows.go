//go:build windows

package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	fsctlQueryUSNJournal = 0x000900f4
	fsctlReadUSNJournal  = 0x000900bb

	// Not exported by x/sys/windows.
	errnoJournalDeleteInProgress = syscall.Errno(1178)
	errnoJournalNotActive        = syscall.Errno(1179)
	errnoJournalEntryDeleted     = syscall.Errno(1181)

	readBufferSize = 64 * 1024
)

// usnJournalData mirrors USN_JOURNAL_DATA_V0.
type usnJournalData struct {
	JournalID       uint64
	FirstUSN        int64
	NextUSN         int64
	LowestValidUSN  int64
	MaxUSN          int64
	MaximumSize     uint64
	AllocationDelta uint64
}

// readUSNJournalData mirrors READ_USN_JOURNAL_DATA_V0.
type readUSNJournalData struct {
	StartUSN          int64
	ReasonMask        uint32
	ReturnOnlyOnClose uint32
	Timeout           uint64
	BytesToWaitFor    uint64
	JournalID         uint64
}

// USNReader reads the native NTFS change journal for one volume
// (e.g. "C:"). It is the only backend with real file reference numbers,
// so rename pairing is exact here.
type USNReader struct {
	volume   string
	handle   windows.Handle
	counters Counters

	mu        sync.Mutex
	journalID uint64
}

// NewUSNReader opens the volume handle. The volume must name an NTFS
// volume root like "C:".
func NewUSNReader(volume string) (*USNReader, error) {
	drive := strings.TrimSuffix(volume, `\`)
	if len(drive) != 2 || drive[1] != ':' {
		return nil, fmt.Errorf("%w: %q is not a drive letter", ErrUnsupportedVolume, volume)
	}

	path, err := windows.UTF16PtrFromString(`\\.\` + drive)
	if err != nil {
		return nil, fmt.Errorf("journal: volume path: %w", err)
	}
	handle, err := windows.CreateFile(path,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		switch {
		case errors.Is(err, windows.ERROR_ACCESS_DENIED):
			return nil, fmt.Errorf("%w: %s", ErrAccessDenied, drive)
		case errors.Is(err, windows.ERROR_FILE_NOT_FOUND), errors.Is(err, windows.ERROR_PATH_NOT_FOUND):
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedVolume, drive)
		}
		return nil, fmt.Errorf("journal: open volume %s: %w", drive, err)
	}

	return &USNReader{volume: drive, handle: handle}, nil
}

func (r *USNReader) Volume() string      { return r.volume }
func (r *USNReader) Counters() *Counters { return &r.counters }

// Metadata issues FSCTL_QUERY_USN_JOURNAL and caches the journal id for
// subsequent reads.
func (r *USNReader) Metadata(_ context.Context) (Metadata, error) {
	var data usnJournalData
	var returned uint32
	err := windows.DeviceIoControl(r.handle, fsctlQueryUSNJournal,
		nil, 0,
		(*byte)(unsafe.Pointer(&data)), uint32(unsafe.Sizeof(data)),
		&returned, nil)
	if err != nil {
		r.counters.AddError()
		switch {
		case errors.Is(err, errnoJournalNotActive), errors.Is(err, errnoJournalDeleteInProgress):
			r.counters.AddNotFound()
			return Metadata{}, fmt.Errorf("%w on %s: %v", ErrJournalNotFound, r.volume, err)
		case errors.Is(err, windows.ERROR_ACCESS_DENIED):
			r.counters.AddAccessError()
			return Metadata{}, fmt.Errorf("%w: %s", ErrAccessDenied, r.volume)
		}
		return Metadata{}, fmt.Errorf("journal: query %s: %w", r.volume, err)
	}

	r.mu.Lock()
	r.journalID = data.JournalID
	r.mu.Unlock()

	return Metadata{
		JournalID: strconv.FormatUint(data.JournalID, 16),
		FirstUSN:  uint64(data.FirstUSN),
		NextUSN:   uint64(data.NextUSN),
	}, nil
}

// Read issues one non-blocking FSCTL_READ_USN_JOURNAL from nextUSN.
// An out-of-range cursor or deleted journal surfaces as ErrInvalidCursor
// so the collector can re-query metadata and resume from first_usn.
func (r *USNReader) Read(ctx context.Context, nextUSN uint64, max int) ([]Record, uint64, error) {
	r.mu.Lock()
	journalID := r.journalID
	r.mu.Unlock()
	if journalID == 0 {
		if _, err := r.Metadata(ctx); err != nil {
			return nil, nextUSN, err
		}
		r.mu.Lock()
		journalID = r.journalID
		r.mu.Unlock()
	}

	in := readUSNJournalData{
		StartUSN:   int64(nextUSN),
		ReasonMask: 0xFFFFFFFF,
		JournalID:  journalID,
	}
	buf := make([]byte, readBufferSize)
	var returned uint32
	err := windows.DeviceIoControl(r.handle, fsctlReadUSNJournal,
		(*byte)(unsafe.Pointer(&in)), uint32(unsafe.Sizeof(in)),
		&buf[0], uint32(len(buf)),
		&returned, nil)
	if err != nil {
		r.counters.AddError()
		switch {
		case errors.Is(err, windows.ERROR_INVALID_PARAMETER), errors.Is(err, errnoJournalEntryDeleted):
			return nil, nextUSN, fmt.Errorf("%w: usn %d: %v", ErrInvalidCursor, nextUSN, err)
		case errors.Is(err, windows.ERROR_ACCESS_DENIED):
			r.counters.AddAccessError()
			return nil, nextUSN, fmt.Errorf("%w: %s", ErrAccessDenied, r.volume)
		}
		return nil, nextUSN, fmt.Errorf("journal: read %s from %d: %w", r.volume, nextUSN, err)
	}
	if returned < 8 {
		return nil, nextUSN, nil
	}

	resume := binary.LittleEndian.Uint64(buf[:8])
	if resume < nextUSN {
		resume = nextUSN
	}

	records := parseUSNRecords(buf[8:returned], r.volume, max)
	return records, resume, nil
}

func (r *USNReader) Close() error {
	return windows.CloseHandle(r.handle)
}

// parseUSNRecords walks a buffer of USN_RECORD_V2 entries.
func parseUSNRecords(buf []byte, volume string, max int) []Record {
	const headerSize = 60 // offsetof(USN_RECORD_V2, FileName)
	var records []Record
	for off := 0; off+headerSize <= len(buf) && len(records) < max; {
		recLen := int(binary.LittleEndian.Uint32(buf[off:]))
		if recLen < headerSize || off+recLen > len(buf) {
			break
		}
		rec := buf[off : off+recLen]

		nameLen := int(binary.LittleEndian.Uint16(rec[56:]))
		nameOff := int(binary.LittleEndian.Uint16(rec[58:]))
		name := ""
		if nameOff+nameLen <= recLen {
			u16 := make([]uint16, nameLen/2)
			for i := range u16 {
				u16[i] = binary.LittleEndian.Uint16(rec[nameOff+2*i:])
			}
			name = string(utf16.Decode(u16))
		}

		attrs := binary.LittleEndian.Uint32(rec[52:])
		records = append(records, Record{
			USN:             binary.LittleEndian.Uint64(rec[24:]),
			FileReference:   binary.LittleEndian.Uint64(rec[8:]),
			ParentReference: binary.LittleEndian.Uint64(rec[16:]),
			Reason:          ReasonMask(binary.LittleEndian.Uint32(rec[40:])),
			Timestamp:       filetimeToTime(binary.LittleEndian.Uint64(rec[32:])),
			Name:            name,
			Path:            volume + `\` + name,
			IsDirectory:     attrs&windows.FILE_ATTRIBUTE_DIRECTORY != 0,
			Volume:          volume,
		})
		off += recLen
	}
	return records
}

// filetimeToTime converts a Windows FILETIME (100ns ticks since 1601) to UTC.
func filetimeToTime(ft uint64) time.Time {
	const epochDelta = 116444736000000000
	if ft < epochDelta {
		return time.Unix(0, 0).UTC()
	}
	return time.Unix(0, int64(ft-epochDelta)*100).UTC()
}
