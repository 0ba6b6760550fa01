package fat

import (
	"encoding/binary"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zekeos/zekefs/internal/utf16x"
)

// lfnOffsets lists the byte positions of the 13 UCS-2 character slots
// inside a 32-byte LFN entry.
var lfnOffsets = [...]byte{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30}

// parseName consumes one path segment, filling the volume LFN buffer with
// the wide name and dp.fn with its canonical 8.3 short form plus the name
// status byte: loss of fidelity, LFN required, last segment, and the NT
// lower-case display flags.
func (dp *dir) parseName(path string) (string, fileResult) {
	var (
		p    = path
		fsys = dp.obj.fs
		lfn  = fsys.lfnbuf[:]
		di   = 0
	)
	fsys.trace("dir:parseName")
	var wc uint16
	for {
		uc, plen := utf8.DecodeRuneInString(p)
		if uc == utf8.RuneError {
			return "", frInvalidName
		}
		p = p[plen:]
		if uc >= 0x10000 {
			// Supplementary-plane rune: stored as its surrogate pair, two
			// code units.
			if di >= lfnBufSize-1 {
				return "", frInvalidName
			}
			di += utf16x.EncodeRune(lfn[di:], uc)
			continue
		}
		wc = uint16(uc)
		if isTermLFN(wc) || isSep(wc) {
			break
		}
		if strings.IndexByte("*:<>|\"?\x7f", byte(wc)) >= 0 {
			return "", frInvalidName
		}
		if di >= lfnBufSize {
			return "", frInvalidName
		}
		lfn[di] = wc
		di++
	}
	var cf byte
	if isTermLFN(wc) {
		cf = nsLAST
	} else {
		p = trimSeparatorPrefix(p)
		if len(p) > 0 && isTermLFN(p[0]) {
			cf = nsLAST
		}
	}
	path = p

	// Strip trailing spaces and dots.
	for di > 0 {
		wc = lfn[di-1]
		if wc != ' ' && wc != '.' {
			break
		}
		di--
	}
	lfn[di] = 0
	if di == 0 {
		return path, frInvalidName
	}
	var si int
	for si = 0; si < di && lfn[si] == ' '; si++ {
	}
	if si > 0 || lfn[si] == '.' {
		cf |= nsLOSS | nsLFN
	}
	for di > 0 && lfn[di-1] != '.' {
		di-- // Locate the last dot; di <= si means no extension.
	}
	for i := 0; i < 11; i++ {
		dp.fn[i] = ' '
	}

	i := 0
	b := byte(0)
	ni := 8
	codepageEnabled := len(fsys.codepage) != 0
	for si < len(lfn) {
		wc = lfn[si]
		si++
		if wc == 0 {
			break
		}
		if wc == ' ' || (wc == '.' && si != di) {
			cf |= nsLOSS | nsLFN // Embedded spaces and dots are dropped.
			continue
		}
		if i >= ni || si == di {
			if ni == 11 {
				cf |= nsLOSS | nsLFN // Extension overflow.
				break
			}
			if si != di {
				cf |= nsLOSS | nsLFN // Body overflow.
			}
			if si > di {
				break
			}
			si = di
			i = 8
			ni = 11
			b <<= 2
			continue
		}

		if wc >= 0x80 && codepageEnabled {
			// Extended character: translate through the code page and
			// upper-case in the OEM domain.
			cf |= nsLFN
			wc = uni2oem(rune(wc), fsys.codepage)
			if wc&0x80 != 0 && int(wc&0x7f) < len(fsys.upperExt) {
				wc = uint16(fsys.upperExt[wc&0x7f])
			}
		}
		if wc >= 0x100 {
			// Double-byte character.
			if i >= ni-1 {
				cf |= nsLOSS | nsLFN
				i = ni
				continue
			}
			dp.fn[i] = byte(wc >> 8)
			i++
		} else {
			if wc == 0 || strings.IndexByte("+,;=[]", byte(wc)) >= 0 {
				wc = '_' // Characters outside the short-name safe set.
				cf |= nsLOSS | nsLFN
			} else {
				b |= b2i[uint8](isUpper(wc)) << 1
				if isLower(wc) {
					b |= 1
					wc -= 0x20
				}
			}
		}
		dp.fn[i] = byte(wc)
		i++
	}
	if dp.fn[0] == mskDDEM {
		dp.fn[0] = mskRDDEM // 0xE5 marks deletion; store its substitute.
	}
	if ni == 8 {
		b <<= 2
	}
	if b&0x0c == 0x0c || b&0x03 == 0x03 {
		cf |= nsLFN // Mixed case in body or extension needs a real LFN.
	}
	if cf&nsLFN == 0 {
		// Pure lower-case body/extension can be recorded in the NT flags
		// instead of LFN entries.
		if b&1 != 0 {
			cf |= nsEXT
		}
		if b&4 != 0 {
			cf |= nsBODY
		}
	}
	dp.fn[nsFLAG] = cf
	return path, frOK
}

// pickLFN copies one LFN entry's 13 characters into the volume LFN buffer
// at the slot its ordinal dictates. Returns false when the entry is not a
// plausible LFN segment.
func (fsys *FS) pickLFN(dir []byte) bool {
	if binary.LittleEndian.Uint16(dir[ldirFstClusLO_Off:]) != 0 {
		return false
	}
	i := 13 * int((dir[ldirOrdOff]&^mskLLEF)-1)
	var wc uint16
	var s int
	for wc = 1; s < 13; s++ {
		uc := binary.LittleEndian.Uint16(dir[lfnOffsets[s]:])
		if wc != 0 {
			if i >= lfnBufSize+1 {
				return false
			}
			fsys.lfnbuf[i] = uc
			wc = uc
			i++
		} else if uc != maxu16 {
			return false // Slots past the terminator must be 0xFFFF filler.
		}
	}
	if dir[ldirOrdOff]&mskLLEF != 0 && wc != 0 {
		if i >= lfnBufSize+1 {
			return false
		}
		fsys.lfnbuf[i] = 0
	}
	return true
}

// matchLFN compares one LFN entry's characters against the sought name in
// the volume LFN buffer, case-insensitively.
func (fsys *FS) matchLFN(dir []byte) bool {
	lfn := fsys.lfnbuf[:]
	if binary.LittleEndian.Uint16(dir[ldirFstClusLO_Off:]) != 0 {
		return false
	}
	i := int(dir[ldirOrdOff]&0x3F-1) * 13

	var wc uint16 = 1
	for s := 0; s < 13; s++ {
		uc := binary.LittleEndian.Uint16(dir[lfnOffsets[s]:])
		if wc != 0 {
			if i >= lfnBufSize+1 ||
				unicode.ToUpper(rune(uc)) != unicode.ToUpper(rune(lfn[i])) {
				return false
			}
			i++
			wc = uc
		} else if uc != maxu16 {
			return false
		}
	}
	if dir[ldirOrdOff]&mskLLEF != 0 && wc != 0 && lfn[i] != 0 {
		return false // Entry ended but the sought name continues.
	}
	return true
}

// putLFN fills dir with LFN segment ord of the name in the volume LFN
// buffer, flagging the topmost segment.
func (fsys *FS) putLFN(dir []byte, ord, sum byte) {
	fsys.trace("fs:putLFN", slog.Uint64("ord", uint64(ord)))
	lfn := &fsys.lfnbuf
	dir[ldirChksumOff] = sum
	dir[ldirAttrOff] = amLFN
	dir[ldirTypeOff] = 0
	binary.LittleEndian.PutUint16(dir[ldirFstClusLO_Off:], 0)
	i := uint32(ord-1) * 13
	var wc uint16
	var s uint32
	for s < 13 {
		if wc != maxu16 {
			wc = lfn[i]
			i++
		}
		binary.LittleEndian.PutUint16(dir[lfnOffsets[s]:], wc)
		if wc == 0 {
			wc = maxu16 // Pad the remaining slots with filler.
		}
		s++
	}
	if wc == maxu16 || lfn[i] == 0 {
		ord |= mskLLEF
	}
	dir[ldirOrdOff] = ord
}

// numberedName derives a collision-avoidance short name from src into dst:
// a "~N" tail for the first five attempts, then a tail built from a 16-bit
// CRC of the long name so pathological directories don't scan linearly.
func (fsys *FS) numberedName(dst, src []byte, lfn []uint16, seq uint32) {
	fsys.trace("fs:numberedName", slog.Uint64("seq", uint64(seq)))
	copy(dst[:11], src)
	if seq > 5 {
		sreg := seq
		for li := 0; li < len(lfn) && lfn[li] != 0; li++ {
			wc := lfn[li]
			for i := 0; i < 16; i++ {
				sreg = sreg<<1 + uint32(wc&1)
				wc >>= 1
				if sreg&0x10000 != 0 {
					sreg ^= 0x11021
				}
			}
		}
		seq = sreg & 0xFFFF
	}

	// Render the tail as "~" plus hexadecimal digits.
	var ns [8]byte
	i := 7
	for {
		c := byte(seq%16 + '0')
		seq /= 16
		if c > '9' {
			c += 7
		}
		ns[i] = c
		i--
		if i == 0 || seq == 0 {
			break
		}
	}
	ns[i] = '~'

	// Find where the tail goes, not splitting a double-byte character.
	j := 0
	for ; j < i && dst[j] != ' '; j++ {
		if fsys.dbcFirst(dst[j]) {
			if j == i-1 {
				break
			}
			j++
		}
	}
	for {
		if i < 8 {
			dst[j] = ns[i]
			i++
		} else {
			dst[j] = ' '
		}
		j++
		if j >= 8 {
			break
		}
	}
}

// lfnLen returns the character count of the name in the volume LFN buffer.
func (fsys *FS) lfnLen() (ln int) {
	for ; ln < len(fsys.lfnbuf) && fsys.lfnbuf[ln] != 0; ln++ {
	}
	return ln
}

// sfnChecksum computes the rotate-right checksum over an 11-byte short name
// that every LFN segment carries to tie it to its short entry.
func sfnChecksum(sfn []byte) (sum byte) {
	for i := 0; i < 11; i++ {
		sum = sum>>1 + sum<<7 + sfn[i]
	}
	return sum
}

// putRune encodes r into buf, returning 0 when it does not fit.
func putRune(r rune, buf []byte) int {
	if utf8.RuneLen(r) > len(buf) {
		return 0
	}
	return utf8.EncodeRune(buf, r)
}
