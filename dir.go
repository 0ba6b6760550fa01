package fat

import (
	"bytes"
	"encoding/binary"
	"log/slog"

	"github.com/zekeos/zekefs/internal/utf16x"
)

// setIndex positions the iterator on entry byte offset ofs, following the
// cluster chain when the table is dynamic.
func (dp *dir) setIndex(ofs uint32) fileResult {
	fsys := dp.obj.fs
	fsys.trace("dir:setIndex", slog.Uint64("ofs", uint64(ofs)))
	if ofs >= maxDIR {
		return frIntErr
	}
	dp.off = ofs
	clst := dp.obj.startClust
	if clst == 0 && fsys.fstype == fstypeFAT32 {
		clst = uint32(fsys.dirbase) // The FAT32 root is an ordinary chain.
	}

	if clst == 0 {
		// Static FAT12/16 root directory: a contiguous sector run.
		if ofs/sizeDirEntry >= uint32(fsys.nRootEntries) {
			return frIntErr
		}
		dp.sect = fsys.dirbase
	} else {
		csz := uint32(fsys.csize) * uint32(fsys.ssize)
		for ofs >= csz {
			clst = fsys.getFAT(clst)
			if clst == maxu32 {
				return frDiskErr
			} else if clst < 2 || clst >= fsys.nFATEntries {
				return frIntErr
			}
			ofs -= csz
		}
		dp.sect = fsys.clusterToSector(clst)
	}

	dp.clust = clst
	if dp.sect == 0 {
		return frIntErr
	}
	dp.sect += lba(fsys.divSS(ofs))
	dp.dir = fsys.win[fsys.modSS(ofs):]
	return frOK
}

// advance moves to the next entry, crossing sector and cluster boundaries.
// At end of table it reports frNoFile, unless stretch is set, in which case
// a fresh zeroed cluster is appended and iteration continues into it.
func (dp *dir) advance(stretch bool) fileResult {
	fsys := dp.obj.fs
	ofs := dp.off + sizeDirEntry
	if ofs >= maxDIR {
		dp.sect = 0
	}
	if dp.sect == 0 {
		return frNoFile
	}
	modOfs := fsys.modSS(ofs)
	if modOfs == 0 {
		// Crossed into the next sector.
		dp.sect++
		if dp.clust == 0 {
			// Static root table.
			if ofs/sizeDirEntry >= uint32(fsys.nRootEntries) {
				dp.sect = 0
				return frNoFile
			}
		} else if fsys.divSS(ofs)&uint32(fsys.csize-1) == 0 {
			// Crossed into the next cluster.
			clst := fsys.getFAT(dp.clust)
			if clst <= 1 {
				return frIntErr
			} else if clst == maxu32 {
				return frDiskErr
			} else if clst >= fsys.nFATEntries {
				if !stretch {
					dp.sect = 0
					return frNoFile
				}
				clst = fsys.createChain(dp.clust)
				switch clst {
				case 0:
					return frDenied
				case 1:
					return frIntErr
				case maxu32:
					return frDiskErr
				}
				if fsys.zeroCluster(clst) != frOK {
					return frDiskErr
				}
			}
			dp.clust = clst
			dp.sect = fsys.clusterToSector(clst)
		}
	}

	dp.off = ofs
	dp.dir = fsys.win[modOfs:]
	return frOK
}

// find rewinds the table and scans for the name prepared in dp.fn and the
// LFN buffer. Deleted entries reset any partially accumulated long name;
// a checksum or ordinal mismatch does the same.
func (dp *dir) find() fileResult {
	fsys := dp.obj.fs
	fsys.trace("dir:find")
	fr := dp.setIndex(0)
	if fr != frOK {
		return fr
	}
	var ord, sum byte = 0xff, 0xff
	dp.lfnOff = maxu32
	for fr == frOK {
		fr = fsys.moveWindow(dp.sect)
		if fr != frOK {
			break
		}
		c := dp.dir[dirNameOff]
		if c == 0 {
			fr = frNoFile // End of table.
			break
		}
		attr := dp.dir[dirAttrOff] & amMASK
		dp.obj.attr = attr
		if c == mskDDEM || (attr&amVOL != 0 && attr != amLFN) {
			ord = 0xff
			dp.lfnOff = maxu32
		} else if attr == amLFN {
			if dp.fn[nsFLAG]&nsNOLFN == 0 {
				if c&mskLLEF != 0 {
					// Topmost segment: latch the checksum and ordinal.
					sum = dp.dir[ldirChksumOff]
					c &^= mskLLEF
					ord = c
					dp.lfnOff = dp.off
				}
				if c == ord && sum == dp.dir[ldirChksumOff] && fsys.matchLFN(dp.dir) {
					ord--
				} else {
					ord = 0xff
				}
			}
		} else {
			if ord == 0 && sum == sfnChecksum(dp.dir) {
				break // All LFN segments matched and tie to this entry.
			}
			if dp.fn[nsFLAG]&nsLOSS == 0 && bytes.Equal(dp.dir[:11], dp.fn[:11]) {
				break // Exact short-name match.
			}
			ord = 0xff
			dp.lfnOff = maxu32
		}
		fr = dp.advance(false)
	}
	return fr
}

// read returns the next live entry. wantVolumeLabel selects whether
// volume-label entries are surfaced or filtered out.
func (dp *dir) read(wantVolumeLabel bool) (fr fileResult) {
	fsys := dp.obj.fs
	var ord, sum byte
	for dp.sect != 0 {
		fr = fsys.moveWindow(dp.sect)
		if fr != frOK {
			break
		}
		b := dp.dir[dirNameOff]
		if b == 0 {
			fr = frNoFile
			break
		}
		attr := dp.dir[dirAttrOff] & amMASK
		dp.obj.attr = attr
		if b == mskDDEM || b == '.' || (attr&^amARC == amVOL) != wantVolumeLabel {
			ord = 0xff
		} else if attr == amLFN {
			if b&mskLLEF != 0 {
				sum = dp.dir[ldirChksumOff]
				b &^= mskLLEF
				ord = b
				dp.lfnOff = dp.off
			}
			if b == ord && sum == dp.dir[ldirChksumOff] && fsys.pickLFN(dp.dir) {
				ord--
			} else {
				ord = 0xff
			}
		} else {
			if ord != 0 || sum != sfnChecksum(dp.dir) {
				dp.lfnOff = maxu32 // The LFN run doesn't belong to this entry.
			}
			break
		}
		fr = dp.advance(false)
		if fr != frOK {
			break
		}
	}
	if fr != frOK {
		dp.sect = 0
	}
	return fr
}

// readNext reads one entry's metadata into fno and advances, used by the
// public directory listing API. A nil fno rewinds.
func (dp *dir) readNext(fno *FileInfo) fileResult {
	fsys := dp.obj.fs
	fsys.trace("dir:readNext")
	fr := dp.obj.validate()
	if fr != frOK {
		return fr
	}
	if fno == nil {
		return dp.setIndex(0)
	}
	fr = dp.read(false)
	if fr == frNoFile {
		return frOK // End of directory: fno keeps its invalidated name.
	}
	if fr != frOK {
		return fr
	}
	dp.loadInfo(fno)
	fr = dp.advance(false)
	if fr == frNoFile {
		fr = frOK // Defer end-of-table to the next call.
	}
	return fr
}

// register writes the prepared name (dp.fn and the LFN buffer) into the
// directory as a new entry block: LFN segments bottom-first, then the short
// entry. On a short-name collision a numbered tail is generated, switching
// to a hash tail after five attempts.
func (dp *dir) register() (fr fileResult) {
	const maxCollisions = 100
	fsys := dp.obj.fs
	fsys.trace("dir:register")
	if dp.fn[nsFLAG]&(nsDOT|nsNONAME) != 0 {
		return frInvalidName
	}
	ln := fsys.lfnLen()
	var sn [12]byte
	copy(sn[:], dp.fn[:])
	if sn[nsFLAG]&nsLOSS != 0 {
		// The long name doesn't fit 8.3: find a free numbered short form.
		dp.fn[nsFLAG] = nsNOLFN
		n := uint32(1)
		for ; n < maxCollisions; n++ {
			fsys.numberedName(dp.fn[:], sn[:], fsys.lfnbuf[:], n)
			fr = dp.find()
			if fr != frOK {
				break
			}
		}
		if n == maxCollisions {
			return frDenied
		}
		if fr != frNoFile {
			return fr // Disk error while probing for collisions.
		}
		dp.fn[nsFLAG] = sn[nsFLAG]
	}

	nent := 1
	if sn[nsFLAG]&nsLFN != 0 {
		nent = (ln+12)/13 + 1
	}
	fr = dp.allocEntries(nent)
	nent--
	if fr == frOK && nent != 0 {
		fr = dp.setIndex(dp.off - uint32(nent*sizeDirEntry))
		if fr == frOK {
			sum := sfnChecksum(dp.fn[:])
			for {
				fr = fsys.moveWindow(dp.sect)
				if fr != frOK {
					break
				}
				fsys.putLFN(dp.dir, byte(nent), sum)
				fsys.winDirty = true
				fr = dp.advance(false)
				nent--
				if fr != frOK || nent <= 0 {
					break
				}
			}
		}
	}
	if fr == frOK {
		fr = fsys.moveWindow(dp.sect)
		if fr == frOK {
			dp.clearEntry()
			copy(dp.dir[dirNameOff:], dp.fn[:11])
			dp.dir[dirNTresOff] = dp.fn[nsFLAG] & (nsBODY | nsEXT)
			fsys.winDirty = true
		}
	}
	return fr
}

// allocEntries finds nent contiguous blank entries (deleted or end of
// table), stretching the table when permitted. The iterator is left on the
// last entry of the block.
func (dp *dir) allocEntries(nent int) (fr fileResult) {
	fsys := dp.obj.fs
	fsys.trace("dir:allocEntries", slog.Int("nent", nent))
	fr = dp.setIndex(0)
	n := 0
	for fr == frOK {
		fr = fsys.moveWindow(dp.sect)
		if fr != frOK {
			break
		}
		dname := dp.dir[dirNameOff]
		if dname == mskDDEM || dname == 0 {
			n++
			if n == nent {
				break
			}
		} else {
			n = 0
		}
		fr = dp.advance(true)
	}
	if fr == frNoFile {
		fr = frDenied // Could not stretch: directory is full.
	}
	return fr
}

// removeEntries marks the current entry block deleted: every LFN segment
// from the top of the run through the short entry gets 0xE5 in its first
// byte.
func (dp *dir) removeEntries() (fr fileResult) {
	fsys := dp.obj.fs
	fsys.trace("dir:removeEntries")
	last := dp.off
	if dp.lfnOff != maxu32 {
		fr = dp.setIndex(dp.lfnOff)
		if fr != frOK {
			return fr
		}
	}
	for {
		fr = fsys.moveWindow(dp.sect)
		if fr != frOK {
			return fr
		}
		dp.dir[dirNameOff] = mskDDEM
		fsys.winDirty = true
		if dp.off == last {
			return frOK
		}
		fr = dp.advance(false)
		if fr != frOK {
			return fr
		}
	}
}

// followPath walks the table tree from the volume root to the last segment
// of path, leaving the iterator on the matched entry. A path naming the
// root itself yields the nsNONAME status instead of an entry.
func (dp *dir) followPath(path string) (fr fileResult) {
	fsys := dp.obj.fs
	fsys.trace("dir:followPath", slog.String("path", path))
	path = trimSeparatorPrefix(path)
	dp.obj.startClust = 0 // Resolution always starts at the root.

	if len(path) == 0 || isTermLFN(path[0]) {
		dp.fn[nsFLAG] = nsNONAME
		return dp.setIndex(0)
	}

	for {
		path, fr = dp.parseName(path)
		if fr != frOK {
			break
		}
		fr = dp.find()
		ns := dp.fn[nsFLAG]
		if fr != frOK {
			if fr == frNoFile && ns&nsLAST == 0 {
				fr = frNoPath // An intermediate segment is missing.
			}
			break
		}
		if ns&nsLAST != 0 {
			break // Matched the final segment.
		}
		if dp.obj.attr&amDIR == 0 {
			fr = frNoPath // A file in the middle of the path.
			break
		}
		off := fsys.modSS(dp.off)
		dp.obj.startClust = fsys.loadStartCluster(fsys.win[off:])
	}
	return fr
}

func (dp *dir) clearEntry() {
	for i := 0; i < sizeDirEntry; i++ {
		dp.dir[i] = 0
	}
}

// loadInfo decodes the current entry (and any accumulated long name) into
// fno.
func (dp *dir) loadInfo(fno *FileInfo) {
	fsys := dp.obj.fs

	fno.name[0] = 0
	if dp.sect == 0 {
		return
	}
	var si, di int
	var wc uint16
	if dp.lfnOff != maxu32 {
		// A validated long name is waiting in the volume LFN buffer.
		n, err := utf16x.ToUTF8(fno.name[:lfnBufSize], fsys.lfnbuf[:fsys.lfnLen()])
		if err != nil {
			n = 0 // Broken sequence or overlong: fall back to the short name.
		}
		fno.name[n] = 0
	}

	si, di = 0, 0
	for si < 11 {
		wc = uint16(dp.dir[si])
		si++
		if wc == ' ' {
			continue
		}
		if wc == mskRDDEM {
			wc = mskDDEM // Restore the substituted leading 0xE5.
		}
		if si == 9 && di < sfnBufSize {
			fno.altname[di] = '.'
			di++
		}
		if fsys.dbcFirst(byte(wc)) && si != 8 && si != 11 && fsys.dbcSecond(dp.dir[si]) {
			wc = wc<<8 | uint16(dp.dir[si])
			si++
		}
		wc = oem2uni(wc, fsys.codepage)
		if wc == 0 {
			di = 0
			break
		}
		nw := putRune(rune(wc), fno.altname[di:sfnBufSize])
		if nw == 0 {
			di = 0
			break
		}
		di += nw
	}
	if fno.name[0] == 0 {
		// No long name: surface the short one, honoring the NT lower-case
		// flags.
		if di == 0 {
			fno.name[di] = '?'
			di++
		} else {
			si, di = 0, 0
			lcf := byte(nsBODY)
			for fno.altname[si] != 0 {
				wc = uint16(fno.altname[si])
				if wc == '.' {
					lcf = nsEXT
				}
				if isUpper(wc) && dp.dir[dirNTresOff]&lcf != 0 {
					wc += 0x20
				}
				fno.name[di] = byte(wc)
				si++
				di++
			}
		}
		fno.name[di] = 0
		if dp.dir[dirNTresOff] == 0 {
			fno.altname[0] = 0 // The two names coincide exactly.
		}
	}
	fno.attr = Attributes(dp.dir[dirAttrOff] & amMASK)
	fno.size = int64(binary.LittleEndian.Uint32(dp.dir[dirFileSizeOff:]))
	fno.time = binary.LittleEndian.Uint16(dp.dir[dirModTimeOff:])
	fno.date = binary.LittleEndian.Uint16(dp.dir[dirModTimeOff+2:])
}
