package fat

import (
	"encoding/binary"
	"strconv"
	"time"
)

// bootSectorView interprets a sector buffer as a FAT boot sector with its
// BIOS Parameter Block. It is a view, not a copy: setters write straight
// into the underlying buffer, which lets mount-time probing and the test
// image builders share one layout definition.
type bootSectorView struct {
	data []byte
}

// SectorSize returns the size of a sector in bytes.
func (bs bootSectorView) SectorSize() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbBytsPerSec:])
}

func (bs bootSectorView) SetSectorSize(size uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbBytsPerSec:], size)
}

// SectorsPerFAT returns the per-copy FAT size in sectors, preferring the
// 16-bit field and falling back to the FAT32 field when it is zero.
func (bs bootSectorView) SectorsPerFAT() uint32 {
	fatsz := uint32(binary.LittleEndian.Uint16(bs.data[bpbFATSz16:]))
	if fatsz == 0 {
		fatsz = binary.LittleEndian.Uint32(bs.data[bpbFATSz32:])
	}
	return fatsz
}

func (bs bootSectorView) SetSectorsPerFAT(fatsz uint32) {
	if fatsz <= 0xFFFF {
		binary.LittleEndian.PutUint16(bs.data[bpbFATSz16:], uint16(fatsz))
	} else {
		binary.LittleEndian.PutUint16(bs.data[bpbFATSz16:], 0)
		binary.LittleEndian.PutUint32(bs.data[bpbFATSz32:], fatsz)
	}
}

// NumberOfFATs returns the number of FAT copies, 1 or 2 on a sane volume.
func (bs bootSectorView) NumberOfFATs() uint8 {
	return bs.data[bpbNumFATs]
}

func (bs bootSectorView) SetNumberOfFATs(nfats uint8) {
	bs.data[bpbNumFATs] = nfats
}

// SectorsPerCluster returns the cluster size in sectors, a power of two no
// larger than 128.
func (bs bootSectorView) SectorsPerCluster() uint16 {
	return uint16(bs.data[bpbSecPerClus])
}

func (bs bootSectorView) SetSectorsPerCluster(spclus uint16) {
	bs.data[bpbSecPerClus] = byte(spclus)
}

// ReservedSectors returns the size of the reserved area at the start of
// the volume, at least 1 (the boot sector itself).
func (bs bootSectorView) ReservedSectors() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbRsvdSecCnt:])
}

func (bs bootSectorView) SetReservedSectors(rsvd uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbRsvdSecCnt:], rsvd)
}

// TotalSectors returns the volume size in sectors from whichever of the
// two fields is populated.
func (bs bootSectorView) TotalSectors() uint32 {
	totsec := uint32(binary.LittleEndian.Uint16(bs.data[bpbTotSec16:]))
	if totsec == 0 {
		totsec = binary.LittleEndian.Uint32(bs.data[bpbTotSec32:])
	}
	return totsec
}

func (bs bootSectorView) SetTotalSectors(totsec uint32) {
	if totsec <= 0xFFFF {
		binary.LittleEndian.PutUint16(bs.data[bpbTotSec16:], uint16(totsec))
		binary.LittleEndian.PutUint32(bs.data[bpbTotSec32:], 0)
	} else {
		binary.LittleEndian.PutUint16(bs.data[bpbTotSec16:], 0)
		binary.LittleEndian.PutUint32(bs.data[bpbTotSec32:], totsec)
	}
}

// RootDirEntries returns the entry count of the static FAT12/16 root
// directory; zero on FAT32.
func (bs bootSectorView) RootDirEntries() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbRootEntCnt:])
}

func (bs bootSectorView) SetRootDirEntries(entries uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbRootEntCnt:], entries)
}

// RootCluster returns the first cluster of the FAT32 root directory.
func (bs bootSectorView) RootCluster() uint32 {
	return binary.LittleEndian.Uint32(bs.data[bpbRootClus32:])
}

func (bs bootSectorView) SetRootCluster(cluster uint32) {
	binary.LittleEndian.PutUint32(bs.data[bpbRootClus32:], cluster)
}

// Version returns the FAT32 filesystem version, 0.0 on every volume this
// driver mounts.
func (bs bootSectorView) Version() (major, minor uint8) {
	return bs.data[bpbFSVer32+1], bs.data[bpbFSVer32]
}

// BootSignature returns the signature word at offset 510, 0xAA55 on a
// valid boot sector.
func (bs bootSectorView) BootSignature() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bs55AA:])
}

func (bs bootSectorView) SetBootSignature() {
	binary.LittleEndian.PutUint16(bs.data[bs55AA:], 0xAA55)
}

// FSInfo returns the sector number of the FSINFO sector, 1 on common
// FAT32 volumes.
func (bs bootSectorView) FSInfo() uint16 {
	return binary.LittleEndian.Uint16(bs.data[bpbFSInfo32:])
}

func (bs bootSectorView) SetFSInfo(sector uint16) {
	binary.LittleEndian.PutUint16(bs.data[bpbFSInfo32:], sector)
}

// VolumeLabel returns the 11-byte volume label.
func (bs bootSectorView) VolumeLabel() [11]byte {
	var label [11]byte
	copy(label[:], bs.data[bsVolLab:])
	return label
}

func (bs bootSectorView) SetVolumeLabel(label string) {
	n := copy(bs.data[bsVolLab:bsVolLab+11], label)
	for i := n; i < 11; i++ {
		bs.data[bsVolLab+i] = ' '
	}
}

// FilesystemType returns the 8-byte filesystem type string at the FAT12/16
// position, usually "FAT12   ", "FAT16   " or "FAT     ".
func (bs bootSectorView) FilesystemType() [8]byte {
	var fstype [8]byte
	copy(fstype[:], bs.data[bsFilSysType:])
	return fstype
}

func (bs bootSectorView) SetFilesystemType(fstype string) {
	n := copy(bs.data[bsFilSysType:bsFilSysType+8], fstype)
	for i := n; i < 8; i++ {
		bs.data[bsFilSysType+i] = ' '
	}
}

func (bs bootSectorView) SetFilesystemType32(fstype string) {
	n := copy(bs.data[bsFilSysType32:bsFilSysType32+8], fstype)
	for i := n; i < 8; i++ {
		bs.data[bsFilSysType32+i] = ' '
	}
}

// JumpInstruction returns the x86 jump at the start of the boot sector.
func (bs bootSectorView) JumpInstruction() [3]byte {
	var jmp [3]byte
	copy(jmp[:], bs.data[bsJmpBoot:])
	return jmp
}

func (bs bootSectorView) SetJumpInstruction() {
	bs.data[bsJmpBoot] = 0xEB
	bs.data[bsJmpBoot+1] = 0x3C
	bs.data[bsJmpBoot+2] = 0x90
}

// OEMName returns the OEM name following the jump instruction.
func (bs bootSectorView) OEMName() [8]byte {
	var name [8]byte
	copy(name[:], bs.data[bsOEMName:])
	return name
}

func (bs bootSectorView) SetOEMName(name string) {
	n := copy(bs.data[bsOEMName:bsOEMName+8], name)
	for i := n; i < 8; i++ {
		bs.data[bsOEMName+i] = ' '
	}
}

func (bs bootSectorView) String() string {
	return string(bs.Appendf(nil, '\n'))
}

func (bs bootSectorView) Appendf(dst []byte, separator byte) []byte {
	oem := bs.OEMName()
	dst = labelAppend(dst, "OEMName", oem[:], separator)
	fstype := bs.FilesystemType()
	dst = labelAppend(dst, "FilesystemType", fstype[:], separator)
	volLabel := bs.VolumeLabel()
	dst = labelAppend(dst, "VolumeLabel", volLabel[:], separator)
	dst = labelAppendUint("SectorSize", dst, uint64(bs.SectorSize()), separator)
	dst = labelAppendUint("SectorsPerCluster", dst, uint64(bs.SectorsPerCluster()), separator)
	dst = labelAppendUint("ReservedSectors", dst, uint64(bs.ReservedSectors()), separator)
	dst = labelAppendUint("NumberOfFATs", dst, uint64(bs.NumberOfFATs()), separator)
	dst = labelAppendUint("SectorsPerFAT", dst, uint64(bs.SectorsPerFAT()), separator)
	dst = labelAppendUint("RootDirEntries", dst, uint64(bs.RootDirEntries()), separator)
	dst = labelAppendUint("TotalSectors", dst, uint64(bs.TotalSectors()), separator)
	return dst
}

func labelAppend(dst []byte, label string, data []byte, sep byte) []byte {
	if len(data) == 0 {
		return dst
	}
	dst = append(dst, label...)
	dst = append(dst, ':')
	dst = append(dst, data...)
	dst = append(dst, sep)
	return dst
}

func labelAppendUint(label string, dst []byte, data uint64, sep byte) []byte {
	dst = append(dst, label...)
	dst = append(dst, ':')
	dst = strconv.AppendUint(dst, data, 10)
	dst = append(dst, sep)
	return dst
}

// fsinfoView interprets a sector buffer as the FAT32 FSINFO sector.
type fsinfoView struct {
	data []byte
}

// SignaturesOK reports whether the three signatures of the sector hold
// their well-known values.
func (fsi fsinfoView) SignaturesOK() bool {
	return binary.LittleEndian.Uint32(fsi.data[fsiLeadSig:]) == 0x41615252 &&
		binary.LittleEndian.Uint32(fsi.data[fsiStrucSig:]) == 0x61417272 &&
		binary.LittleEndian.Uint16(fsi.data[bs55AA:]) == 0xAA55
}

func (fsi fsinfoView) SetSignatures() {
	binary.LittleEndian.PutUint32(fsi.data[fsiLeadSig:], 0x41615252)
	binary.LittleEndian.PutUint32(fsi.data[fsiStrucSig:], 0x61417272)
	binary.LittleEndian.PutUint16(fsi.data[bs55AA:], 0xAA55)
}

// FreeClusterCount returns the advisory free cluster count, maxu32 when
// unknown.
func (fsi fsinfoView) FreeClusterCount() uint32 {
	return binary.LittleEndian.Uint32(fsi.data[fsiFreeCount:])
}

func (fsi fsinfoView) SetFreeClusterCount(count uint32) {
	binary.LittleEndian.PutUint32(fsi.data[fsiFreeCount:], count)
}

// LastAllocatedCluster returns the advisory allocation hint, maxu32 when
// unknown.
func (fsi fsinfoView) LastAllocatedCluster() uint32 {
	return binary.LittleEndian.Uint32(fsi.data[fsiNxtFree:])
}

func (fsi fsinfoView) SetLastAllocatedCluster(cluster uint32) {
	binary.LittleEndian.PutUint32(fsi.data[fsiNxtFree:], cluster)
}

// datetime is the DOS packed timestamp of a directory entry: 2-second
// resolution time word plus a date word counting years from 1980, with an
// optional 10ms refinement byte.
type datetime struct {
	time uint16
	date uint16
	fine uint8
}

func newDatetime(t time.Time) datetime {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	if year < 1980 {
		return datetime{}
	}
	return datetime{
		date: uint16(year-1980)<<9 | uint16(month)<<5 | uint16(day),
		time: uint16(hour)<<11 | uint16(min)<<5 | uint16(sec/2),
		fine: uint8(sec%2)*100 + uint8(t.Nanosecond()/10_000_000),
	}
}

func (dt datetime) Date() (year int, month time.Month, day int) {
	return int(dt.date>>9) + 1980, time.Month(dt.date >> 5 & 0xf), int(dt.date & 0x1f)
}

func (dt datetime) Clock() (hour, min, sec int) {
	return int(dt.time >> 11), int(dt.time >> 5 & 0x3f), 2 * int(dt.time&0x1f)
}

func (dt datetime) Milliseconds() int {
	return 10 * int(dt.fine)
}

func (dt datetime) Time() time.Time {
	year, month, day := dt.Date()
	hour, min, sec := dt.Clock()
	return time.Date(year, month, day, hour, min, sec, dt.Milliseconds()*int(time.Millisecond), time.UTC)
}

// Attributes is the attribute byte of a directory entry.
type Attributes byte

// IsLFN indicates that the entry is a long filename segment.
func (attr Attributes) IsLFN() bool { return attr&amMASK == amLFN }

// IsReadonly indicates that the file must not be written to.
func (attr Attributes) IsReadonly() bool { return attr&amRDO != 0 }

// IsHidden indicates that the file should not appear in ordinary listings.
func (attr Attributes) IsHidden() bool { return attr&amHID != 0 }

// IsSystem indicates that the file belongs to the operating system.
func (attr Attributes) IsSystem() bool { return attr&amSYS != 0 }

// IsVolumeLabel indicates the volume label pseudo-entry of the root
// directory.
func (attr Attributes) IsVolumeLabel() bool { return attr&amVOL != 0 && !attr.IsLFN() }

// IsSubdirectory indicates the entry's cluster chain holds a directory
// table rather than file data.
func (attr Attributes) IsSubdirectory() bool { return attr&amDIR != 0 }

// IsArchive returns the archive bit, set whenever a file has been written
// since it was last backed up.
func (attr Attributes) IsArchive() bool { return attr&amARC != 0 }
