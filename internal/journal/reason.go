package journal

import (
	"strings"

	"github.com/ubc-systopia/indaleko/internal/types"
)

// ReasonMask is the low-level change-reason bitmask attached to a raw
// journal record. Values match the NTFS USN_REASON_* constants so that
// native records pass through unmodified; emulation backends synthesize
// the same bits.
type ReasonMask uint32

const (
	ReasonDataOverwrite   ReasonMask = 0x00000001
	ReasonDataExtend      ReasonMask = 0x00000002
	ReasonDataTruncation  ReasonMask = 0x00000004
	ReasonFileCreate      ReasonMask = 0x00000100
	ReasonFileDelete      ReasonMask = 0x00000200
	ReasonEAChange        ReasonMask = 0x00000400
	ReasonSecurityChange  ReasonMask = 0x00000800
	ReasonRenameOldName   ReasonMask = 0x00001000
	ReasonRenameNewName   ReasonMask = 0x00002000
	ReasonIndexableChange ReasonMask = 0x00004000
	ReasonBasicInfoChange ReasonMask = 0x00008000
	ReasonHardLinkChange  ReasonMask = 0x00010000
	ReasonClose           ReasonMask = 0x80000000
)

var reasonNames = []struct {
	bit  ReasonMask
	name string
}{
	{ReasonDataOverwrite, "DATA_OVERWRITE"},
	{ReasonDataExtend, "DATA_EXTEND"},
	{ReasonDataTruncation, "DATA_TRUNCATION"},
	{ReasonFileCreate, "FILE_CREATE"},
	{ReasonFileDelete, "FILE_DELETE"},
	{ReasonEAChange, "EA_CHANGE"},
	{ReasonSecurityChange, "SECURITY_CHANGE"},
	{ReasonRenameOldName, "RENAME_OLD_NAME"},
	{ReasonRenameNewName, "RENAME_NEW_NAME"},
	{ReasonIndexableChange, "INDEXABLE_CHANGE"},
	{ReasonBasicInfoChange, "BASIC_INFO_CHANGE"},
	{ReasonHardLinkChange, "HARD_LINK_CHANGE"},
	{ReasonClose, "CLOSE"},
}

// Has reports whether every bit in want is set.
func (m ReasonMask) Has(want ReasonMask) bool { return m&want == want }

// String renders the mask as a comma-separated list of reason names,
// matching the attributes.reason_mask wire format.
func (m ReasonMask) String() string {
	if m == 0 {
		return ""
	}
	var parts []string
	for _, rn := range reasonNames {
		if m&rn.bit != 0 {
			parts = append(parts, rn.name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseReasonMask is the inverse of String. Unrecognized names are ignored
// so that records written by a newer collector still load.
func ParseReasonMask(s string) ReasonMask {
	var m ReasonMask
	for _, name := range strings.Split(s, ",") {
		for _, rn := range reasonNames {
			if rn.name == name {
				m |= rn.bit
			}
		}
	}
	return m
}

// ActivityType maps a reason mask onto the pipeline's activity taxonomy.
// The mapping is fixed: creation and deletion win over data bits, rename
// bits are classified per half (the collector pairs them), data bits mean
// modify, and a bare CLOSE is a close. A mask with no mapped bits is
// unknown.
func (m ReasonMask) ActivityType() types.ActivityType {
	switch {
	case m.Has(ReasonFileCreate):
		return types.ActivityCreate
	case m.Has(ReasonFileDelete):
		return types.ActivityDelete
	case m&(ReasonRenameOldName|ReasonRenameNewName) != 0:
		return types.ActivityRename
	case m&(ReasonDataOverwrite|ReasonDataExtend|ReasonDataTruncation) != 0:
		return types.ActivityModify
	case m.Has(ReasonSecurityChange):
		return types.ActivitySecurityChange
	case m.Has(ReasonBasicInfoChange):
		return types.ActivityInfoChange
	case m.Has(ReasonClose):
		return types.ActivityClose
	}
	return types.ActivityUnknown
}
