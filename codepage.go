package fat

import (
	"encoding/binary"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// charmapByCodepage maps an MS-DOS/OEM code page number to the x/text
// charmap implementing it. The OEM-to-Unicode tables the name codec needs
// are derived from these at first use instead of shipping the raw blobs.
var charmapByCodepage = map[uint16]*charmap.Charmap{
	437: charmap.CodePage437,
	850: charmap.CodePage850,
	852: charmap.CodePage852,
	855: charmap.CodePage855,
	858: charmap.CodePage858,
	860: charmap.CodePage860,
	862: charmap.CodePage862,
	863: charmap.CodePage863,
	865: charmap.CodePage865,
	866: charmap.CodePage866,
}

var (
	cpTableMu    sync.Mutex
	cpTableCache = make(map[uint16][]byte)
)

// oem2uniTable returns the 256-byte little-endian table mapping the
// extended OEM bytes 0x80-0xFF of the given code page to their Unicode
// code points, or nil if the page isn't supported. ASCII needs no table.
func oem2uniTable(code uint16) []byte {
	cpTableMu.Lock()
	defer cpTableMu.Unlock()
	if tbl, ok := cpTableCache[code]; ok {
		return tbl
	}
	cm, ok := charmapByCodepage[code]
	if !ok {
		return nil
	}
	dec := cm.NewDecoder()
	tbl := make([]byte, 256)
	for b := 0x80; b <= 0xFF; b++ {
		out, err := dec.Bytes([]byte{byte(b)})
		var r rune
		if err != nil || len(out) == 0 {
			r = 0
		} else {
			r, _ = utf8.DecodeRune(out)
		}
		binary.LittleEndian.PutUint16(tbl[(b-0x80)*2:], uint16(r))
	}
	cpTableCache[code] = tbl
	return tbl
}
