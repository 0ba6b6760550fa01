package fat

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/zekeos/zekefs/blockdev"
)

const testSectorSize = 512

// imageParams describes a synthetic superfloppy volume for tests. The
// builder derives the FAT geometry from the cluster count, so boundary
// cases (exactly 4085 clusters, exactly 65526, ...) can be expressed
// directly.
type imageParams struct {
	clusters        uint32
	sectorsPerClust uint16
	rootEntries     uint16 // FAT12/16 static root size; ignored on FAT32.
	label           string
}

func (p imageParams) subtype() fstype {
	switch {
	case p.clusters > clustMaxFAT16:
		return fstypeFAT32
	case p.clusters > clustMaxFAT12:
		return fstypeFAT16
	default:
		return fstypeFAT12
	}
}

// buildImage lays out an empty FAT volume on a fresh in-memory device:
// boot sector, FAT copies with the two reserved entries, FSINFO and a
// zeroed root directory.
func buildImage(t testing.TB, p imageParams) *blockdev.Memory {
	t.Helper()
	if p.sectorsPerClust == 0 {
		p.sectorsPerClust = 1
	}
	if p.rootEntries == 0 {
		p.rootEntries = 512
	}
	if p.label == "" {
		p.label = "ZEKEFSTEST"
	}
	typ := p.subtype()

	const ss = testSectorSize
	nFATs := uint32(2)
	var reserved uint32 = 1
	if typ == fstypeFAT32 {
		reserved = 32
		p.rootEntries = 0
	}
	fatEntries := p.clusters + 2
	var fatBytes uint32
	switch typ {
	case fstypeFAT12:
		fatBytes = fatEntries*3/2 + fatEntries&1
	case fstypeFAT16:
		fatBytes = fatEntries * 2
	default:
		fatBytes = fatEntries * 4
	}
	fatSize := (fatBytes + ss - 1) / ss
	rootSectors := uint32(p.rootEntries) / (ss / sizeDirEntry)
	nonApp := reserved + nFATs*fatSize + rootSectors
	totalSectors := nonApp + p.clusters*uint32(p.sectorsPerClust)

	dev := blockdev.NewMemory(int(totalSectors), ss)
	sector := make([]byte, ss)

	// Boot sector.
	bs := bootSectorView{data: sector}
	bs.SetJumpInstruction()
	bs.SetOEMName("zekefs")
	bs.SetSectorSize(ss)
	bs.SetSectorsPerCluster(p.sectorsPerClust)
	bs.SetReservedSectors(uint16(reserved))
	bs.SetNumberOfFATs(uint8(nFATs))
	bs.SetRootDirEntries(p.rootEntries)
	bs.SetTotalSectors(totalSectors)
	bs.SetSectorsPerFAT(fatSize)
	sector[bpbMedia] = 0xF8
	switch typ {
	case fstypeFAT12:
		bs.SetFilesystemType("FAT12")
		bs.SetVolumeLabel(p.label)
	case fstypeFAT16:
		bs.SetFilesystemType("FAT16")
		bs.SetVolumeLabel(p.label)
	default:
		bs.SetRootCluster(2)
		bs.SetFSInfo(1)
		bs.SetFilesystemType32("FAT32")
	}
	bs.SetBootSignature()
	mustWriteBlock(t, dev, sector, 0)

	// FSINFO for FAT32.
	if typ == fstypeFAT32 {
		clear(sector)
		fsi := fsinfoView{data: sector}
		fsi.SetSignatures()
		fsi.SetFreeClusterCount(p.clusters - 1) // Cluster 2 holds the root.
		fsi.SetLastAllocatedCluster(2)
		mustWriteBlock(t, dev, sector, 1)
	}

	// FAT copies: media descriptor in entry 0, EOC in entry 1, and on
	// FAT32 an EOC for the root directory cluster.
	clear(sector)
	switch typ {
	case fstypeFAT12:
		sector[0] = 0xF8
		sector[1] = 0xFF
		sector[2] = 0xFF
	case fstypeFAT16:
		sector[0], sector[1] = 0xF8, 0xFF
		sector[2], sector[3] = 0xFF, 0xFF
	default:
		le32 := func(off int, v uint32) {
			sector[off] = byte(v)
			sector[off+1] = byte(v >> 8)
			sector[off+2] = byte(v >> 16)
			sector[off+3] = byte(v >> 24)
		}
		le32(0, 0x0FFFFFF8)
		le32(4, 0x0FFFFFFF)
		le32(8, 0x0FFFFFFF) // Root directory cluster.
	}
	for copyi := uint32(0); copyi < nFATs; copyi++ {
		mustWriteBlock(t, dev, sector, int64(reserved+copyi*fatSize))
	}
	return dev
}

func mustWriteBlock(t testing.TB, dev *blockdev.Memory, sector []byte, block int64) {
	t.Helper()
	if _, err := dev.WriteBlocks(sector, block); err != nil {
		t.Fatal(err)
	}
}

func attachLogger(fsys *FS) *slog.Logger {
	if os.Getenv("ZEKEFS_TEST_TRACE") == "" {
		return nil
	}
	fsys.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevelTrace,
	}))
	return fsys.log
}

// initTestFS builds and mounts a read-write volume of the given shape.
func initTestFS(t testing.TB, p imageParams) (*FS, *blockdev.Memory) {
	t.Helper()
	dev := buildImage(t, p)
	fsys := new(FS)
	attachLogger(fsys)
	fsys.SetClock(func() time.Time {
		return time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	})
	if err := fsys.Mount(dev, testSectorSize, ModeRW); err != nil {
		t.Fatalf("mount: %v", err)
	}
	if got := fsys.fstype; got != p.subtype() {
		t.Fatalf("mounted subtype = %d, want %d", got, p.subtype())
	}
	return fsys, dev
}

// Canonical shapes used throughout the tests.
var (
	smallFAT12 = imageParams{clusters: 1000, rootEntries: 128}
	smallFAT16 = imageParams{clusters: 4200}
	smallFAT32 = imageParams{clusters: 66000}
)
