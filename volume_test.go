package fat

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/zekeos/zekefs/blockdev"
)

// TestMountMBRPartition places a FAT16 volume behind an MBR partition
// table and expects the probe to find it at its partition offset.
func TestMountMBRPartition(t *testing.T) {
	const partStart = 2048
	inner := buildImage(t, smallFAT16)
	innerSectors := int(inner.Size() / testSectorSize)

	outer := blockdev.NewMemory(partStart+innerSectors, testSectorSize)
	sector := make([]byte, testSectorSize)

	// MBR: valid signature, no FAT jump byte, one partition entry.
	const (
		mbrTableOff     = 446
		partTypeOff     = 4
		partStartLBAOff = 8
		partSizeOff     = 12
	)
	sector[mbrTableOff+partTypeOff] = 0x06 // FAT16 partition type.
	binary.LittleEndian.PutUint32(sector[mbrTableOff+partStartLBAOff:], partStart)
	binary.LittleEndian.PutUint32(sector[mbrTableOff+partSizeOff:], uint32(innerSectors))
	binary.LittleEndian.PutUint16(sector[bs55AA:], 0xAA55)
	mustWriteBlock(t, outer, sector, 0)

	// Copy the volume into the partition.
	buf := make([]byte, testSectorSize)
	for i := 0; i < innerSectors; i++ {
		if _, err := inner.ReadBlocks(buf, int64(i)); err != nil {
			t.Fatal(err)
		}
		mustWriteBlock(t, outer, buf, int64(partStart+i))
	}

	fsys := new(FS)
	if err := fsys.Mount(outer, testSectorSize, ModeRW); err != nil {
		t.Fatalf("mount: %v", err)
	}
	if fsys.fstype != fstypeFAT16 {
		t.Fatalf("subtype = %d, want FAT16", fsys.fstype)
	}
	if fsys.volbase != partStart {
		t.Fatalf("volume base = %d, want %d", fsys.volbase, partStart)
	}

	writeFile(t, fsys, "/PART.TXT", []byte("partitioned"))
	if !bytes.Equal(readFile(t, fsys, "/PART.TXT"), []byte("partitioned")) {
		t.Fatal("read back through partition offset failed")
	}
}

func TestMountRejectsGarbage(t *testing.T) {
	dev := blockdev.NewMemory(64, testSectorSize)
	fsys := new(FS)
	if err := fsys.Mount(dev, testSectorSize, ModeRead); err == nil {
		t.Fatal("mounted an all-zero device")
	}
}

func TestMountRejectsBadGeometry(t *testing.T) {
	mutations := []struct {
		name string
		mut  func(bs bootSectorView, raw []byte)
	}{
		{"zero reserved sectors", func(bs bootSectorView, raw []byte) { bs.SetReservedSectors(0) }},
		{"three FAT copies", func(bs bootSectorView, raw []byte) { bs.SetNumberOfFATs(3) }},
		{"non power-of-two cluster", func(bs bootSectorView, raw []byte) { bs.SetSectorsPerCluster(3) }},
		{"unaligned root entries", func(bs bootSectorView, raw []byte) { bs.SetRootDirEntries(100) }},
	}
	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			dev := buildImage(t, smallFAT16)
			raw := make([]byte, testSectorSize)
			if _, err := dev.ReadBlocks(raw, 0); err != nil {
				t.Fatal(err)
			}
			tc.mut(bootSectorView{data: raw}, raw)
			mustWriteBlock(t, dev, raw, 0)

			fsys := new(FS)
			if err := fsys.Mount(dev, testSectorSize, ModeRead); err == nil {
				t.Fatal("mounted a volume with corrupt geometry")
			}
		})
	}
}

func TestMountSectorSizeMismatch(t *testing.T) {
	dev := buildImage(t, smallFAT16) // BPB says 512.
	fsys := new(FS)
	if err := fsys.Mount(dev, 1024, ModeRead); err == nil {
		t.Fatal("mounted with a block size disagreeing with the BPB")
	}
}

func TestLockTable(t *testing.T) {
	var fsys FS

	// Readers accumulate, a writer excludes everyone.
	s1, fr := fsys.incLock(5, 64, faRead)
	if fr != frOK {
		t.Fatal(fr)
	}
	s2, fr := fsys.incLock(5, 64, faRead)
	if fr != frOK {
		t.Fatal(fr)
	}
	if s1 != s2 {
		t.Fatalf("readers got distinct slots %d and %d", s1, s2)
	}
	if fr := fsys.checkLock(5, 64, faWrite); fr != frLocked {
		t.Fatalf("writer vs readers: %v", fr)
	}
	fsys.decLock(s1)
	if fr := fsys.checkLock(5, 64, faWrite); fr != frLocked {
		t.Fatal("one reader left, writer must still be refused")
	}
	fsys.decLock(s2)

	w, fr := fsys.incLock(5, 64, faWrite)
	if fr != frOK {
		t.Fatal(fr)
	}
	if fr := fsys.checkLock(5, 64, faRead); fr != frLocked {
		t.Fatal("reader vs writer must be refused")
	}
	fsys.decLock(w)
	if fsys.busy(5, 64) {
		t.Fatal("entry still busy after final release")
	}

	// Saturating the table reports too-many-opens.
	for i := 0; i < fsLockCount; i++ {
		if _, fr := fsys.incLock(uint32(i), 0, faRead); fr != frOK {
			t.Fatalf("fill %d: %v", i, fr)
		}
	}
	if _, fr := fsys.incLock(9999, 0, faRead); fr != frTooManyOpenFiles {
		t.Fatalf("saturated table: %v, want %v", fr, frTooManyOpenFiles)
	}
	fsys.clearVolumeLocks()
	if fsys.busy(0, 0) {
		t.Fatal("locks survive clearVolumeLocks")
	}
}
