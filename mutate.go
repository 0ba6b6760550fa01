package fat

import (
	"encoding/binary"
	"log/slog"
)

// Mkdir creates a new, empty directory at path: one cluster is allocated
// and zeroed, the "." and ".." entries are written, and the name is
// registered in the parent.
func (fsys *FS) Mkdir(path string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	fsys.trace("fs:Mkdir", slog.String("path", path))
	if fsys.perm&ModeWrite == 0 {
		return frDenied
	}
	var dj dir
	dj.obj.fs = fsys
	res := dj.followPath(path + "\x00")
	if res == frOK {
		return frExist
	}
	if res != frNoFile {
		return res
	}
	parentClust := dj.obj.startClust
	res = dj.register()
	if res != frOK {
		return res
	}

	cl := fsys.createChain(0)
	if cl < 2 {
		return frDenied
	}
	if fr := fsys.zeroCluster(cl); fr != frOK {
		return fr
	}

	tm := fsys.timeStamp()
	if fr := fsys.initDotEntries(cl, parentClust, tm); fr != frOK {
		return fr
	}

	res = fsys.moveWindow(dj.sect)
	if res != frOK {
		return res
	}
	binary.LittleEndian.PutUint32(dj.dir[dirCrtTimeOff:], tm)
	binary.LittleEndian.PutUint32(dj.dir[dirModTimeOff:], tm)
	dj.dir[dirAttrOff] = amDIR
	fsys.storeStartCluster(dj.dir, cl)
	binary.LittleEndian.PutUint32(dj.dir[dirFileSizeOff:], 0)
	fsys.winDirty = true
	if fr := fsys.syncFS(); fr != frOK {
		return fr
	}
	return nil
}

// initDotEntries writes the "." and ".." entries into the first sector of a
// fresh directory cluster. ".." carries the parent's start cluster, which
// is zero when the parent is the volume root.
func (fsys *FS) initDotEntries(clst, parentClust uint32, tm uint32) fileResult {
	fr := fsys.moveWindow(fsys.clusterToSector(clst))
	if fr != frOK {
		return fr
	}
	e := fsys.win[:]
	for i := 0; i < 11; i++ {
		e[i] = ' '
		e[sizeDirEntry+i] = ' '
	}
	e[0] = '.'
	e[dirAttrOff] = amDIR
	binary.LittleEndian.PutUint32(e[dirModTimeOff:], tm)
	fsys.storeStartCluster(e, clst)
	e = e[sizeDirEntry:]
	e[0], e[1] = '.', '.'
	e[dirAttrOff] = amDIR
	binary.LittleEndian.PutUint32(e[dirModTimeOff:], tm)
	fsys.storeStartCluster(e, parentClust)
	fsys.winDirty = true
	return frOK
}

// Remove deletes the file or empty directory at path. Directory entries —
// the short entry and any LFN run above it — are marked deleted rather than
// erased, and the backing cluster chain is released.
func (fsys *FS) Remove(path string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	fsys.trace("fs:Remove", slog.String("path", path))
	if fsys.perm&ModeWrite == 0 {
		return frDenied
	}
	var dj dir
	dj.obj.fs = fsys
	res := dj.followPath(path + "\x00")
	if res != frOK {
		return res
	}
	if dj.fn[nsFLAG]&nsNONAME != 0 {
		return frInvalidName // The root directory itself cannot be removed.
	}
	if dj.obj.attr&amRDO != 0 {
		return frDenied
	}
	if fsys.busy(dj.obj.startClust, dj.off) {
		return frLocked
	}
	cl := fsys.loadStartCluster(dj.dir)
	if dj.obj.attr&amDIR != 0 && cl != 0 {
		empty, res := fsys.dirIsEmpty(cl)
		if res != frOK {
			return res
		}
		if !empty {
			return frDenied
		}
	}
	res = dj.removeEntries()
	if res != frOK {
		return res
	}
	if cl != 0 {
		res = fsys.removeChain(cl, 0)
		if res != frOK {
			return res
		}
	}
	if fr := fsys.syncFS(); fr != frOK {
		return fr
	}
	return nil
}

// Rename moves the entry at oldPath to newPath, preserving the attribute,
// timestamps, cluster chain and size. Both paths resolve within this
// volume; when a directory changes parents its ".." entry is repointed.
func (fsys *FS) Rename(oldPath, newPath string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	fsys.trace("fs:Rename", slog.String("old", oldPath), slog.String("new", newPath))
	if fsys.perm&ModeWrite == 0 {
		return frDenied
	}
	var src dir
	src.obj.fs = fsys
	res := src.followPath(oldPath + "\x00")
	if res != frOK {
		return res
	}
	if src.fn[nsFLAG]&nsNONAME != 0 {
		return frInvalidName
	}
	if fsys.busy(src.obj.startClust, src.off) {
		return frLocked
	}
	var srcEntry [sizeDirEntry]byte
	copy(srcEntry[:], src.dir[:sizeDirEntry])
	srcLFNOff := src.lfnOff
	srcOff := src.off
	srcStart := src.obj.startClust

	var dst dir
	dst.obj.fs = fsys
	res = dst.followPath(newPath + "\x00")
	if res == frOK {
		return frExist
	}
	if res != frNoFile {
		return res
	}
	res = dst.register()
	if res != frOK {
		return res
	}
	res = fsys.moveWindow(dst.sect)
	if res != frOK {
		return res
	}
	// Carry over times, cluster and size, then the attribute byte. The
	// NT case flags at offset 12 belong to the new name and stay put.
	copy(dst.dir[dirCrtTime10Off:sizeDirEntry], srcEntry[dirCrtTime10Off:sizeDirEntry])
	dst.dir[dirAttrOff] = srcEntry[dirAttrOff]
	fsys.winDirty = true

	if srcEntry[dirAttrOff]&amDIR != 0 && srcStart != dst.obj.startClust {
		// The directory moved to a different parent: repoint its "..".
		movedClust := fsys.loadStartCluster(srcEntry[:])
		sect := fsys.clusterToSector(movedClust)
		if sect == 0 {
			return frIntErr
		}
		res = fsys.moveWindow(sect)
		if res != frOK {
			return res
		}
		dotdot := fsys.win[sizeDirEntry:]
		if dotdot[0] == '.' && dotdot[1] == '.' {
			fsys.storeStartCluster(dotdot, dst.obj.startClust)
			fsys.winDirty = true
		}
	}

	// Reconstruct the source iterator and blank its entries.
	src.obj.startClust = srcStart
	src.lfnOff = srcLFNOff
	if res = src.setIndex(srcOff); res != frOK {
		return res
	}
	if res = fsys.moveWindow(src.sect); res != frOK {
		return res
	}
	res = src.removeEntries()
	if res != frOK {
		return res
	}
	if fr := fsys.syncFS(); fr != frOK {
		return fr
	}
	return nil
}

// Truncate changes fp's size. Growing allocates clusters for the new tail;
// shrinking marks the cluster containing the new end as end-of-chain and
// frees its successors.
func (fp *File) Truncate(size int64) error {
	if fr := fp.obj.validate(); fr != frOK {
		return fr
	}
	fsys := fp.obj.fs
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fp.flag&faWrite == 0 {
		return frDenied
	}
	bcs := int64(fsys.csize) * int64(fsys.ssize)
	switch {
	case size <= 0:
		if fp.obj.startClust != 0 {
			if res := fsys.removeChain(fp.obj.startClust, 0); res != frOK {
				return res
			}
			fp.obj.startClust = 0
		}
		size = 0
	case size > fp.obj.size:
		nclusters := (size + bcs - 1) / bcs
		haveClusters := (fp.obj.size + bcs - 1) / bcs
		clst := fp.obj.startClust
		if clst == 0 {
			haveClusters = 0
		}
		for i := int64(1); i < haveClusters; i++ {
			nc := fsys.getFAT(clst)
			if nc <= 1 {
				return frIntErr
			} else if nc == maxu32 {
				return frDiskErr
			}
			clst = nc
		}
		for i := haveClusters; i < nclusters; i++ {
			clst = fsys.createChain(clst)
			if clst < 2 {
				return frDenied
			}
			if fp.obj.startClust == 0 {
				fp.obj.startClust = clst
			}
		}
	case size < fp.obj.size:
		// Walk to the cluster holding the last kept byte, then cut there.
		keep := (size + bcs - 1) / bcs
		clst := fp.obj.startClust
		for i := int64(1); i < keep; i++ {
			nc := fsys.getFAT(clst)
			if nc <= 1 {
				return frIntErr
			} else if nc == maxu32 {
				return frDiskErr
			}
			clst = nc
		}
		nxt := fsys.getFAT(clst)
		if nxt == 1 {
			return frIntErr
		} else if nxt == maxu32 {
			return frDiskErr
		}
		if nxt >= 2 && nxt < fsys.nFATEntries {
			if res := fsys.removeChain(nxt, clst); res != frOK {
				return res
			}
		}
	}
	fp.obj.size = size
	if fp.ptr > size {
		fp.ptr = size
	}
	fp.flag |= faModified
	fr := fsys.moveWindow(fp.dirSect)
	if fr != frOK {
		return fr
	}
	binary.LittleEndian.PutUint32(fp.dirPtr[dirFileSizeOff:], uint32(size))
	fsys.storeStartCluster(fp.dirPtr, fp.obj.startClust)
	fsys.winDirty = true
	if fr := fsys.syncFS(); fr != frOK {
		return fr
	}
	return nil
}

// Stat resolves path and returns its directory-entry metadata without
// opening a handle or taking a lock-table slot.
func (fsys *FS) Stat(path string) (FileInfo, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	var dj dir
	dj.obj.fs = fsys
	res := dj.followPath(path + "\x00")
	if res != frOK {
		return FileInfo{}, res
	}
	if dj.fn[nsFLAG]&nsNONAME != 0 {
		// The volume root has no directory entry of its own.
		var fno FileInfo
		fno.attr = amDIR
		return fno, nil
	}
	if fr := fsys.moveWindow(dj.sect); fr != frOK {
		return FileInfo{}, fr
	}
	var fno FileInfo
	dj.loadInfo(&fno)
	return fno, nil
}

// dirIsEmpty scans the directory table rooted at clust for any live entry
// beyond the two dot entries.
func (fsys *FS) dirIsEmpty(clust uint32) (bool, fileResult) {
	var dj dir
	dj.obj.fs = fsys
	dj.obj.startClust = clust
	if fr := dj.setIndex(2 * sizeDirEntry); fr != frOK {
		if fr == frNoFile {
			return true, frOK
		}
		return false, fr
	}
	for {
		fr := fsys.moveWindow(dj.sect)
		if fr != frOK {
			return false, fr
		}
		c := dj.dir[dirNameOff]
		if c == 0 {
			return true, frOK
		}
		if c != mskDDEM {
			return false, frOK
		}
		fr = dj.advance(false)
		if fr == frNoFile {
			return true, frOK
		}
		if fr != frOK {
			return false, fr
		}
	}
}

// setReadOnly sets or clears the read-only attribute on path's entry.
func (fsys *FS) setReadOnly(path string, ro bool) fileResult {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fsys.perm&ModeWrite == 0 {
		return frDenied
	}
	var dj dir
	dj.obj.fs = fsys
	res := dj.followPath(path + "\x00")
	if res != frOK {
		return res
	}
	if dj.fn[nsFLAG]&nsNONAME != 0 {
		return frInvalidName
	}
	if fr := fsys.moveWindow(dj.sect); fr != frOK {
		return fr
	}
	if ro {
		dj.dir[dirAttrOff] |= amRDO
	} else {
		dj.dir[dirAttrOff] &^= amRDO
	}
	fsys.winDirty = true
	return fsys.syncFS()
}
