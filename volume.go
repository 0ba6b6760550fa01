package fat

import (
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/zekeos/zekefs/internal/gpt"
	"github.com/zekeos/zekefs/internal/mbr"
)

// mountVolume probes the block device for a FAT volume and initialises the
// per-volume state. Any previously open file or directory on this FS value
// is invalidated by the mount id bump.
func (fsys *FS) mountVolume(bd BlockDevice, ssize uint16, mode uint8) (fr fileResult) {
	fsys.trace("fs:mountVolume", slog.Int("mode", int(mode)))
	fsys.fstype = fstypeUnknown
	blk, err := makeBlockIndexer(int(ssize))
	if err != nil {
		return frInvalidParameter
	}
	fsys.device = bd
	fsys.id++
	fsys.blk = blk
	fsys.ssize = ssize
	fsys.perm = Mode(mode)

	fmt := fsys.probeVolume(0)
	switch fmt {
	case bootsectorstatusDiskError:
		return frDiskErr
	case bootsectorstatusNotFATInvalidBS, bootsectorstatusNotFATValidBS:
		return frNoFilesystem
	case bootsectorstatusExFAT:
		return frUnsupported
	}
	if fsys.dbcTbl == [10]byte{} {
		fsys.dbcTbl = dbcTable(fsys.codePageNum)
	}
	return fsys.initVolume()
}

// initVolume parses the BPB of the boot sector currently held in the window
// and derives the volume geometry. The window still holds the boot sector
// probeVolume settled on, whose base sector is winSect.
func (fsys *FS) initVolume() fileResult {
	fsys.trace("fs:initVolume")
	baseSector := fsys.winSect
	ss := fsys.ssize
	bs := bootSectorView{data: fsys.win[:]}
	if bs.SectorSize() != ss {
		return frInvalidParameter
	}
	sectorsPerFAT := bs.SectorsPerFAT()
	fsys.fatSize = sectorsPerFAT
	fsys.nFATs = bs.NumberOfFATs()
	if fsys.nFATs != 1 && fsys.nFATs != 2 {
		return frNoFilesystem
	}
	sectorsPerFAT *= uint32(fsys.nFATs)
	fsys.csize = bs.SectorsPerCluster()
	if fsys.csize == 0 || fsys.csize&(fsys.csize-1) != 0 {
		return frNoFilesystem
	}

	fsys.nRootEntries = bs.RootDirEntries()
	if fsys.nRootEntries%(ss/sizeDirEntry) != 0 {
		return frNoFilesystem // Root directory must fill whole sectors.
	}

	sectorsTotal := bs.TotalSectors()
	sectorsReserved := bs.ReservedSectors()
	if sectorsReserved == 0 {
		return frNoFilesystem
	}

	// Sectors holding no file data: reserved area, FAT copies, static root.
	sectorsNonApplication := uint32(sectorsReserved) + sectorsPerFAT +
		uint32(fsys.nRootEntries)/(uint32(ss)/sizeDirEntry)
	if sectorsTotal < sectorsNonApplication {
		return frNoFilesystem
	}
	clustersTotal := (sectorsTotal - sectorsNonApplication) / uint32(fsys.csize)
	if clustersTotal == 0 {
		return frNoFilesystem
	}
	var fmt fstype = fstypeFAT12
	switch {
	case clustersTotal > clustMaxFAT32:
		return frNoFilesystem
	case clustersTotal > clustMaxFAT16:
		fmt = fstypeFAT32
	case clustersTotal > clustMaxFAT12:
		fmt = fstypeFAT16
	}

	fsys.nFATEntries = clustersTotal + 2
	fsys.volbase = baseSector
	fsys.fatbase = baseSector + lba(sectorsReserved)
	fsys.database = baseSector + lba(sectorsNonApplication)
	var neededFATBytes uint32
	if fmt == fstypeFAT32 {
		if major, minor := bs.Version(); major != 0 || minor != 0 {
			return frNoFilesystem
		} else if fsys.nRootEntries != 0 {
			return frNoFilesystem // FAT32 has no static root directory.
		}
		fsys.dirbase = lba(bs.RootCluster())
		neededFATBytes = fsys.nFATEntries * 4
	} else {
		if fsys.nRootEntries == 0 {
			return frNoFilesystem
		}
		fsys.dirbase = fsys.fatbase + lba(fsys.fatSize)*lba(fsys.nFATs)
		if fmt == fstypeFAT16 {
			neededFATBytes = fsys.nFATEntries * 2
		} else {
			neededFATBytes = fsys.nFATEntries*3/2 + fsys.nFATEntries&1
		}
	}
	if fsys.fatSize < (neededFATBytes+uint32(ss-1))/uint32(ss) {
		return frNoFilesystem // FAT area too small for the cluster count.
	}

	fsys.lastClust = maxu32 // Unknown until FSINFO or a scan says otherwise.
	fsys.freeClust = maxu32
	fsys.fsiFlags = 1 << 7

	if fmt == fstypeFAT32 && bs.FSInfo() == 1 && fsys.moveWindow(baseSector+1) == frOK {
		fsys.fsiFlags = 0
		fsi := fsinfoView{data: fsys.win[:]}
		if fsi.SignaturesOK() {
			fsys.freeClust = fsi.FreeClusterCount()
			fsys.lastClust = fsi.LastAllocatedCluster()
		}
	}
	fsys.fstype = fmt
	fsys.id++
	return frOK
}

// probeVolume locates the FAT volume boot sector: sector 0 directly for a
// superfloppy, else the first FAT partition of an MBR or GPT table.
func (fsys *FS) probeVolume(part int64) bootsectorstatus {
	fsys.trace("fs:probeVolume", slog.Int64("part", part))
	fmt := fsys.probeBootSector(0)
	if fmt != bootsectorstatusNotFATValidBS && (fmt >= bootsectorstatusNotFATInvalidBS || part == 0) {
		return fmt
	}
	mbrSect, err := mbr.ToBootSector(fsys.win[:])
	if err != nil {
		return bootsectorstatusNotFATInvalidBS
	}
	pte0 := mbrSect.PartitionTable(0)
	if pte0.PartitionType() == mbr.PartitionTypeGPTProtective {
		return fsys.probeGPT(part)
	}
	if part > 4 {
		return bootsectorstatusNotFATInvalidBS
	}
	var startLBA [4]uint32
	for i := 0; i < 4; i++ {
		pte := mbrSect.PartitionTable(i)
		startLBA[i] = pte.StartLBA()
	}
	i := 0
	if part > 0 {
		i = int(part - 1)
	}
	for {
		fmt = bootsectorstatusNotFATInvalidBS
		if startLBA[i] > 0 {
			fmt = fsys.probeBootSector(lba(startLBA[i]))
		}
		i++
		if !(part == 0 && fmt >= bootsectorstatusNotFATValidBS && i < 4) {
			break
		}
	}
	return fmt
}

// msBasicDataGUID and efiSystemGUID are the on-disk (mixed-endian) partition
// type GUIDs this driver will attempt to mount as FAT. A GPT disk carries a
// protective MBR whose single partition entry has type 0xEE; probeVolume
// hands off here once it sees that byte.
var (
	msBasicDataGUID = [16]byte{0xA2, 0xA0, 0xD0, 0xEB, 0xE5, 0xB9, 0x33, 0x44, 0x87, 0xC0, 0x68, 0xB6, 0xB7, 0x26, 0x99, 0xC7}
	efiSystemGUID   = [16]byte{0x28, 0x73, 0x2A, 0xC1, 0x1F, 0xF8, 0xD2, 0x11, 0xBA, 0x4B, 0x00, 0xA0, 0xC9, 0x3E, 0xC9, 0x3B}
)

func isFATPartitionType(guid [16]byte) bool {
	return guid == msBasicDataGUID || guid == efiSystemGUID
}

func (fsys *FS) probeGPT(part int64) bootsectorstatus {
	fsys.trace("fs:probeGPT", slog.Int64("part", part))
	fr := fsys.moveWindow(1)
	if fr != frOK {
		return bootsectorstatusDiskError
	}
	hdr, err := gpt.ToHeader(fsys.win[:])
	if err != nil || hdr.Signature() != 0x5452415020494645 {
		return bootsectorstatusNotFATInvalidBS
	}
	pteLBA := hdr.PartitionEntryLBA()
	entrySize := hdr.SizeOfPartitionEntry()
	numEntries := hdr.NumberOfPartitionEntries()
	if entrySize == 0 || numEntries == 0 {
		return bootsectorstatusNotFATInvalidBS
	}
	entriesPerSector := uint32(fsys.ssize) / entrySize
	if entriesPerSector == 0 {
		return bootsectorstatusNotFATInvalidBS
	}

	selected := uint32(0)
	if part > 0 {
		selected = uint32(part - 1)
	}
	result := bootsectorstatusNotFATInvalidBS
	for i := uint32(0); i < numEntries; i++ {
		if part > 0 && i != selected {
			continue
		}
		sector := lba(uint32(pteLBA) + i/entriesPerSector)
		fr = fsys.moveWindow(sector)
		if fr != frOK {
			return bootsectorstatusDiskError
		}
		off := (i % entriesPerSector) * entrySize
		pe, err := gpt.ToPartitionEntry(fsys.win[off:])
		if err != nil {
			continue
		}
		typeGUID := pe.PartitionTypeGUID()
		if typeGUID == ([16]byte{}) || !isFATPartitionType(typeGUID) {
			continue
		}
		result = fsys.probeBootSector(lba(pe.FirstLBA()))
		if part == 0 && result >= bootsectorstatusNotFATValidBS {
			continue // Keep scanning for the first partition that probes as FAT.
		}
		break
	}
	return result
}

// probeBootSector loads sect and classifies it: a FAT or exFAT volume boot
// record, a valid non-FAT boot sector, or neither.
func (fsys *FS) probeBootSector(sect lba) bootsectorstatus {
	fsys.trace("fs:probeBootSector", slog.Uint64("sect", uint64(sect)))
	fsys.invalidateWindow()
	fr := fsys.moveWindow(sect)
	if fr != frOK {
		return bootsectorstatusDiskError
	}
	bs := bootSectorView{data: fsys.win[:]}
	bsValid := bs.BootSignature() == 0xaa55

	if bsValid && fsys.winEqual(bsJmpBoot, "\xEB\x76\x90EXFAT   ") {
		return bootsectorstatusExFAT
	}
	b := fsys.win[bsJmpBoot]
	if b != 0xEB && b != 0xE9 && b != 0xE8 {
		if bsValid {
			return bootsectorstatusNotFATValidBS
		}
		return bootsectorstatusNotFATInvalidBS
	}
	if bsValid && fsys.winEqual(bsFilSysType32, "FAT32   ") {
		return bootsectorstatusFAT
	}
	// FAT12/16 volumes carry "FAT" in the 16-bit filesystem type field.
	if bsValid && fsys.winEqual(bsFilSysType, "FAT") {
		return bootsectorstatusFAT
	}
	return bootsectorstatusNotFATInvalidBS
}

// moveWindow loads sector into the volume window, flushing the previous
// sector first if it carries unwritten changes. This is the only read path
// for FAT and directory metadata.
func (fsys *FS) moveWindow(sector lba) (fr fileResult) {
	if sector == fsys.winSect {
		return frOK
	}
	fr = fsys.syncWindow()
	if fr != frOK {
		return fr
	}
	dr := fsys.diskRead(fsys.win[:], sector, 1)
	if dr != drOK {
		fsys.logerror("moveWindow", slog.Int("dret", int(dr)))
		sector = badLBA // The window no longer matches any sector.
		fr = frDiskErr
	}
	fsys.winSect = sector
	return fr
}

// syncWindow writes back the window if dirty and mirrors FAT-area sectors
// to the second FAT copy.
func (fsys *FS) syncWindow() (fr fileResult) {
	if !fsys.winDirty {
		return frOK
	}
	ret := fsys.diskWrite(fsys.win[:], fsys.winSect, 1)
	if ret != drOK {
		fsys.logerror("syncWindow", slog.Int("dret", int(ret)))
		return frDiskErr
	}
	if fsys.nFATs == 2 && fsys.winSect-fsys.fatbase < lba(fsys.fatSize) {
		// Mirror to the second FAT copy. An error here is deliberately not
		// surfaced: the primary copy is authoritative.
		fsys.diskWrite(fsys.win[:], fsys.winSect+lba(fsys.fatSize), 1)
	}
	fsys.winDirty = false
	return frOK
}

// syncFS flushes the window, rewrites the FSINFO sector when its cached
// hints have changed since the last flush, and fences the whole batch with
// the device's own sync when it offers one.
func (fsys *FS) syncFS() fileResult {
	fsys.trace("fs:syncFS")
	fr := fsys.syncWindow()
	if fr == frOK && fsys.fstype == fstypeFAT32 && fsys.fsiFlags == 1 {
		fsys.clearWindow()
		fsi := fsinfoView{data: fsys.win[:]}
		fsi.SetSignatures()
		fsi.SetFreeClusterCount(fsys.freeClust)
		fsi.SetLastAllocatedCluster(fsys.lastClust)
		fsys.winSect = fsys.volbase + 1
		fsys.diskWrite(fsys.win[:], fsys.winSect, 1)
		fsys.fsiFlags = 0
	}
	if fr == frOK {
		if s, ok := fsys.device.(interface{ Sync() error }); ok {
			if err := s.Sync(); err != nil {
				fsys.logerror("syncFS:device", slog.String("err", err.Error()))
				fr = frDiskErr
			}
		}
	}
	return fr
}

func (fsys *FS) invalidateWindow() {
	fsys.winDirty = false
	fsys.winSect = badLBA
}

func (fsys *FS) clearWindow() {
	fsys.win = [len(fsys.win)]byte{}
}

// winEqual reports whether the window bytes at off match data exactly.
func (fsys *FS) winEqual(off uint16, data string) bool {
	if int(off)+len(data) > len(fsys.win) {
		return false
	}
	return string(fsys.win[off:int(off)+len(data)]) == data
}

func (fsys *FS) winU32(off uint16) uint32 {
	return binary.LittleEndian.Uint32(fsys.win[off:])
}

func (fsys *FS) winU16(off uint16) uint16 {
	return binary.LittleEndian.Uint16(fsys.win[off:])
}

func (fsys *FS) diskWrite(buf []byte, sector lba, numsectors int) diskresult {
	if fsys.perm&ModeWrite == 0 {
		return drWriteProtected
	}
	fsys.trace("fs:diskWrite", slog.Uint64("start", uint64(sector)), slog.Int("numsectors", numsectors))
	if fsys.blk.off(int64(len(buf))) != 0 || fsys.blk.idx(int64(len(buf))) != int64(numsectors) {
		fsys.logerror("diskWrite:unaligned")
		return drParError
	}
	_, err := fsys.device.WriteBlocks(buf, int64(sector))
	if err != nil {
		fsys.logerror("diskWrite", slog.String("err", err.Error()))
		return drError
	}
	return drOK
}

func (fsys *FS) diskRead(dst []byte, sector lba, numsectors int) diskresult {
	fsys.trace("fs:diskRead", slog.Uint64("start", uint64(sector)), slog.Int("numsectors", numsectors))
	if fsys.blk.off(int64(len(dst))) != 0 || fsys.blk.idx(int64(len(dst))) != int64(numsectors) {
		fsys.logerror("diskRead:unaligned")
		return drParError
	}
	_, err := fsys.device.ReadBlocks(dst, int64(sector))
	if err != nil {
		fsys.logerror("diskRead", slog.String("err", err.Error()))
		return drError
	}
	return drOK
}

func (fsys *FS) diskErase(startSector lba, numSectors int) diskresult {
	fsys.trace("fs:diskErase", slog.Uint64("start", uint64(startSector)), slog.Int("numsectors", numSectors))
	err := fsys.device.EraseBlocks(int64(startSector), int64(numSectors))
	if err != nil {
		fsys.logerror("diskErase", slog.String("err", err.Error()))
		return drError
	}
	return drOK
}

// timeStamp packs the current wall-clock time into the on-disk format:
// modified date in the high word, modified time in the low word.
func (fsys *FS) timeStamp() uint32 {
	if fsys.clock == nil {
		return 0
	}
	dt := newDatetime(fsys.clock())
	return uint32(dt.date)<<16 | uint32(dt.time)
}

// SetClock installs the wall-clock source used to stamp creation and
// modification times on directory entries. A zero clock writes zero stamps.
func (fsys *FS) SetClock(now func() time.Time) {
	fsys.mu.Lock()
	fsys.clock = now
	fsys.mu.Unlock()
}

// loadStartCluster reads the start cluster out of a directory entry.
func (fsys *FS) loadStartCluster(bdir []byte) (cl uint32) {
	cl = uint32(binary.LittleEndian.Uint16(bdir[dirFstClusLOOff:]))
	if fsys.fstype == fstypeFAT32 {
		cl |= uint32(binary.LittleEndian.Uint16(bdir[dirFstClusHIOff:])) << 16
	}
	return cl
}

// storeStartCluster writes the start cluster into a directory entry.
func (fsys *FS) storeStartCluster(bdir []byte, cl uint32) {
	binary.LittleEndian.PutUint16(bdir[dirFstClusLOOff:], uint16(cl))
	if fsys.fstype == fstypeFAT32 {
		binary.LittleEndian.PutUint16(bdir[dirFstClusHIOff:], uint16(cl>>16))
	}
}

// Sector size divide and modulus.

func (fsys *FS) divSS(n uint32) uint32 { return n / uint32(fsys.ssize) }
func (fsys *FS) modSS(n uint32) uint32 { return n % uint32(fsys.ssize) }

// clusterToSector returns the first sector of a cluster, or 0 if the
// cluster number is out of range.
func (fsys *FS) clusterToSector(clst uint32) lba {
	clst -= 2
	if clst >= fsys.nFATEntries-2 {
		return 0
	}
	return fsys.database + lba(fsys.csize)*lba(clst)
}

func (fsys *FS) dbcFirst(c byte) bool {
	if c >= fsys.dbcTbl[0] {
		return c <= fsys.dbcTbl[1] || (c >= fsys.dbcTbl[2] && c <= fsys.dbcTbl[3])
	}
	return false
}

func (fsys *FS) dbcSecond(c byte) bool {
	dbc := &fsys.dbcTbl
	if c >= dbc[4] {
		return c <= dbc[5] || (c >= dbc[6] && c <= dbc[7]) ||
			(c >= dbc[8] && c <= dbc[9])
	}
	return false
}
