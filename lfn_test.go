package fat

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unicode/utf16"
)

// findRootEntry scans the raw root directory for the short name sn
// (11 bytes, space padded) and returns the sector bytes of the directory
// table plus the entry's byte offset within them.
func findRootEntry(t *testing.T, fsys *FS, sn string) (table []byte, off int) {
	t.Helper()
	if len(sn) != 11 {
		t.Fatalf("short name %q is not 11 bytes", sn)
	}
	var dp dir
	dp.obj.fs = fsys
	dp.obj.id = fsys.id
	if fr := dp.setIndex(0); fr != frOK {
		t.Fatalf("setIndex: %v", fr)
	}
	for {
		if fr := fsys.moveWindow(dp.sect); fr != frOK {
			t.Fatalf("moveWindow: %v", fr)
		}
		if dp.dir[0] == 0 {
			t.Fatalf("short name %q not found in root", sn)
		}
		if string(dp.dir[:11]) == sn {
			// Return a copy of the table run from the top of its LFN block.
			return collectEntryBlock(t, fsys, dp.obj.startClust, dp.off), int(dp.off)
		}
		if fr := dp.advance(false); fr != frOK {
			t.Fatalf("advance: %v", fr)
		}
	}
}

// collectEntryBlock copies the directory table from offset 0 through
// sfnOff+32 into one contiguous buffer for inspection.
func collectEntryBlock(t *testing.T, fsys *FS, startClust, sfnOff uint32) []byte {
	t.Helper()
	var dp dir
	dp.obj.fs = fsys
	dp.obj.id = fsys.id
	dp.obj.startClust = startClust
	out := make([]byte, 0, sfnOff+sizeDirEntry)
	if fr := dp.setIndex(0); fr != frOK {
		t.Fatalf("setIndex: %v", fr)
	}
	for {
		if fr := fsys.moveWindow(dp.sect); fr != frOK {
			t.Fatalf("moveWindow: %v", fr)
		}
		out = append(out, dp.dir[:sizeDirEntry]...)
		if dp.off == sfnOff {
			return out
		}
		if fr := dp.advance(false); fr != frOK {
			t.Fatalf("advance: %v", fr)
		}
	}
}

// decodeLFNRun reconstructs the long name from the LFN entries directly
// above the short entry at the end of block.
func decodeLFNRun(t *testing.T, block []byte) (name string, checksums []byte) {
	t.Helper()
	sfnOff := len(block) - sizeDirEntry
	var units []uint16
	n := 0
	for off := sfnOff - sizeDirEntry; off >= 0; off -= sizeDirEntry {
		e := block[off : off+sizeDirEntry]
		if e[ldirAttrOff]&amMASK != amLFN || e[0] == mskDDEM {
			break
		}
		n++
		checksums = append(checksums, e[ldirChksumOff])
	}
	// Entries are ordered bottom-first: ordinal 1 sits closest to the
	// short entry.
	for ord := 1; ord <= n; ord++ {
		e := block[sfnOff-ord*sizeDirEntry:]
		if got := int(e[ldirOrdOff] &^ mskLLEF); got != ord {
			t.Fatalf("LFN ordinal = %d, want %d", got, ord)
		}
		if ord == n && e[ldirOrdOff]&mskLLEF == 0 {
			t.Fatal("topmost LFN entry lacks the last-segment flag")
		}
		for _, so := range lfnOffsets {
			units = append(units, binary.LittleEndian.Uint16(e[so:]))
		}
	}
	for i, u := range units {
		if u == 0 || u == maxu16 {
			units = units[:i]
			break
		}
	}
	return string(utf16.Decode(units)), checksums
}

func TestLFNRoundTrip(t *testing.T) {
	fsys, _ := initTestFS(t, smallFAT16)
	if err := fsys.SetCodePage(437); err != nil {
		t.Fatalf("code page: %v", err)
	}
	const longName = "My Long Name.txt"
	writeFile(t, fsys, "/"+longName, []byte("lfn"))

	// Listing surfaces the long name and the derived short form.
	var dp Dir
	if err := fsys.OpenDir(&dp, "/"); err != nil {
		t.Fatalf("opendir: %v", err)
	}
	var gotName, gotAlt string
	err := dp.ForEachFile(func(fi *FileInfo) error {
		gotName = fi.Name()
		gotAlt = fi.AlternateName()
		return nil
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if gotName != longName {
		t.Fatalf("listed name = %q, want %q", gotName, longName)
	}
	if gotAlt != "MYLONG~1.TXT" {
		t.Fatalf("alternate name = %q, want MYLONG~1.TXT", gotAlt)
	}

	// On disk: the LFN run concatenates back to the original name and
	// every segment checksum matches the short entry.
	block, _ := findRootEntry(t, fsys, "MYLONG~1TXT")
	name, sums := decodeLFNRun(t, block)
	if name != longName {
		t.Fatalf("on-disk LFN decodes to %q, want %q", name, longName)
	}
	want := sfnChecksum(block[len(block)-sizeDirEntry:])
	for i, s := range sums {
		if s != want {
			t.Fatalf("segment %d checksum %#x, want %#x", i, s, want)
		}
	}

	// Case-insensitive lookup resolves the same file.
	if !bytes.Equal(readFile(t, fsys, "/MY LONG NAME.TXT"), []byte("lfn")) {
		t.Fatal("case-insensitive lookup failed")
	}
}

func TestLFNNumberedCollision(t *testing.T) {
	fsys, _ := initTestFS(t, smallFAT16)
	if err := fsys.SetCodePage(437); err != nil {
		t.Fatal(err)
	}
	writeFile(t, fsys, "/My Long Name A.txt", []byte("a"))
	writeFile(t, fsys, "/My Long Name B.txt", []byte("b"))

	alts := map[string]string{}
	var dp Dir
	if err := fsys.OpenDir(&dp, "/"); err != nil {
		t.Fatal(err)
	}
	err := dp.ForEachFile(func(fi *FileInfo) error {
		alts[fi.Name()] = fi.AlternateName()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if alts["My Long Name A.txt"] != "MYLONG~1.TXT" {
		t.Fatalf("first collision alt = %q", alts["My Long Name A.txt"])
	}
	if alts["My Long Name B.txt"] != "MYLONG~2.TXT" {
		t.Fatalf("second collision alt = %q", alts["My Long Name B.txt"])
	}
	if !bytes.Equal(readFile(t, fsys, "/My Long Name B.txt"), []byte("b")) {
		t.Fatal("collision name resolves to wrong file")
	}
}

func TestLFNManyCollisionsSwitchToHash(t *testing.T) {
	fsys, _ := initTestFS(t, smallFAT16)
	if err := fsys.SetCodePage(437); err != nil {
		t.Fatal(err)
	}
	// Seven names sharing one 8.3 prefix: the sixth and later get a hash
	// tail instead of ~6, ~7.
	names := []string{}
	for c := byte('A'); c <= 'G'; c++ {
		name := "Collision Name " + string(c) + ".txt"
		names = append(names, name)
		writeFile(t, fsys, "/"+name, []byte{c})
	}
	seen := map[string]bool{}
	var dp Dir
	if err := fsys.OpenDir(&dp, "/"); err != nil {
		t.Fatal(err)
	}
	err := dp.ForEachFile(func(fi *FileInfo) error {
		alt := fi.AlternateName()
		if seen[alt] {
			t.Fatalf("duplicate short name %q", alt)
		}
		if alt == "COLLIS~6.TXT" || alt == "COLLIS~7.TXT" {
			t.Fatalf("numeric tail %q past the fifth collision", alt)
		}
		seen[alt] = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range names {
		if _, err := fsys.Stat("/" + name); err != nil {
			t.Fatalf("stat %q: %v", name, err)
		}
	}
}

// TestLFNSupplementaryPlane round-trips a name containing a rune beyond
// the basic multilingual plane, which occupies a surrogate pair of code
// units in the on-disk LFN entries.
func TestLFNSupplementaryPlane(t *testing.T) {
	fsys, _ := initTestFS(t, smallFAT16)
	if err := fsys.SetCodePage(437); err != nil {
		t.Fatal(err)
	}
	const name = "emoji 😀.txt"
	writeFile(t, fsys, "/"+name, []byte("grin"))

	var dp Dir
	if err := fsys.OpenDir(&dp, "/"); err != nil {
		t.Fatal(err)
	}
	var got string
	if err := dp.ForEachFile(func(fi *FileInfo) error { got = fi.Name(); return nil }); err != nil {
		t.Fatal(err)
	}
	if got != name {
		t.Fatalf("listed name = %q, want %q", got, name)
	}
	if !bytes.Equal(readFile(t, fsys, "/"+name), []byte("grin")) {
		t.Fatal("lookup by supplementary-plane name failed")
	}
}

func TestNTCaseFlagsAvoidLFN(t *testing.T) {
	fsys, _ := initTestFS(t, smallFAT16)
	// A pure lower-case 8.3 name needs no LFN entries: the case survives
	// in the NT flags of the short entry alone.
	writeFile(t, fsys, "/lower.txt", []byte("l"))

	block, _ := findRootEntry(t, fsys, "LOWER   TXT")
	sfn := block[len(block)-sizeDirEntry:]
	if sfn[dirNTresOff]&(nsBODY|nsEXT) != nsBODY|nsEXT {
		t.Fatalf("NT flags = %#x", sfn[dirNTresOff])
	}
	if len(block) >= 2*sizeDirEntry {
		above := block[len(block)-2*sizeDirEntry:]
		if above[ldirAttrOff]&amMASK == amLFN && above[0] != mskDDEM {
			t.Fatal("LFN entries written for a plain lower-case 8.3 name")
		}
	}

	var dp Dir
	if err := fsys.OpenDir(&dp, "/"); err != nil {
		t.Fatal(err)
	}
	var got string
	if err := dp.ForEachFile(func(fi *FileInfo) error { got = fi.Name(); return nil }); err != nil {
		t.Fatal(err)
	}
	if got != "lower.txt" {
		t.Fatalf("listed name = %q, want lower.txt", got)
	}
}

func TestRemoveDeletesLFNRun(t *testing.T) {
	fsys, _ := initTestFS(t, smallFAT16)
	if err := fsys.SetCodePage(437); err != nil {
		t.Fatal(err)
	}
	const longName = "Delete Me Entirely.dat"
	writeFile(t, fsys, "/"+longName, []byte("x"))

	_, off := findRootEntry(t, fsys, "DELETE~1DAT")

	if err := fsys.Remove("/" + longName); err != nil {
		t.Fatalf("remove: %v", err)
	}

	// Every entry of the block, LFN segments included, is now marked
	// deleted.
	var dp dir
	dp.obj.fs = fsys
	dp.obj.id = fsys.id
	if fr := dp.setIndex(0); fr != frOK {
		t.Fatal(fr)
	}
	for i := 0; i <= off/sizeDirEntry; i++ {
		if fr := fsys.moveWindow(dp.sect); fr != frOK {
			t.Fatal(fr)
		}
		e := dp.dir[:sizeDirEntry]
		if e[ldirAttrOff]&amMASK == amLFN && e[0] != mskDDEM {
			t.Fatalf("live LFN entry left behind at slot %d", i)
		}
		if string(e[:11]) == "DELETE~1DAT" && e[0] != mskDDEM {
			t.Fatal("short entry not marked deleted")
		}
		if fr := dp.advance(false); fr != frOK && fr != frNoFile {
			t.Fatal(fr)
		}
	}
}

func TestInvalidNames(t *testing.T) {
	fsys, _ := initTestFS(t, smallFAT16)
	for _, bad := range []string{"/a*b.txt", "/que?.txt", "/pipe|.txt", "/   "} {
		var fp File
		err := fsys.OpenFile(&fp, bad, ModeWrite|ModeCreateNew)
		if err == nil {
			fp.Close()
			t.Fatalf("creating %q succeeded", bad)
		}
	}
}

func TestUnsafeSFNCharactersReplaced(t *testing.T) {
	fsys, _ := initTestFS(t, smallFAT16)
	if err := fsys.SetCodePage(437); err != nil {
		t.Fatal(err)
	}
	// '+' is legal in a long name but not in a short one; the short form
	// substitutes '_' and keeps an LFN run for fidelity.
	writeFile(t, fsys, "/a+b.txt", []byte("+"))
	var dp Dir
	if err := fsys.OpenDir(&dp, "/"); err != nil {
		t.Fatal(err)
	}
	var name, alt string
	if err := dp.ForEachFile(func(fi *FileInfo) error { name, alt = fi.Name(), fi.AlternateName(); return nil }); err != nil {
		t.Fatal(err)
	}
	if name != "a+b.txt" {
		t.Fatalf("name = %q", name)
	}
	if alt == "" || alt[1] != '_' {
		t.Fatalf("alternate = %q, want '_' substitution at the '+'", alt)
	}
}

func TestSFNChecksum(t *testing.T) {
	// Reference value computed with the canonical rotate-right sum.
	sum := sfnChecksum([]byte("MYLONG~1TXT"))
	var want byte
	for _, c := range []byte("MYLONG~1TXT") {
		want = want>>1 + want<<7 + c
	}
	if sum != want {
		t.Fatalf("checksum = %#x, want %#x", sum, want)
	}
}

func TestCodePageExtendedUpperCase(t *testing.T) {
	fsys, _ := initTestFS(t, smallFAT16)
	if err := fsys.SetCodePage(437); err != nil {
		t.Fatal(err)
	}
	// é (U+00E9) is 0x82 in CP437, which the CP437 upper-case table maps
	// to a plain E (0x45). The short name holds the OEM upper-case byte
	// while the LFN preserves the original spelling.
	writeFile(t, fsys, "/café.txt", []byte("c"))
	var dp Dir
	if err := fsys.OpenDir(&dp, "/"); err != nil {
		t.Fatal(err)
	}
	var name string
	if err := dp.ForEachFile(func(fi *FileInfo) error { name = fi.Name(); return nil }); err != nil {
		t.Fatal(err)
	}
	if name != "café.txt" {
		t.Fatalf("name = %q, want café.txt", name)
	}
	if err := fsys.SetCodePage(999); err == nil {
		t.Fatal("unsupported code page accepted")
	}
}
