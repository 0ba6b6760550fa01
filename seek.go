package fat

import "log/slog"

// seekTo repositions the file pointer. Read-only handles clip the target to
// the file size; write handles grow the file by allocation when the target
// lies past the end of chain. With a link map attached the containing
// cluster is found by table lookup instead of walking the chain.
func (fp *File) seekTo(ofs int64) fileResult {
	fsys := fp.obj.fs
	fsys.trace("file:seekTo", slog.Int64("ofs", ofs))
	if ofs < 0 {
		ofs = 0
	}
	growing := fp.flag&faWrite != 0 && ofs > fp.obj.size
	if !growing && ofs > fp.obj.size {
		ofs = fp.obj.size
	}

	bcs := int64(fsys.csize) * int64(fsys.ssize)
	clst := fp.obj.startClust

	switch {
	case growing:
		nclusters := (ofs + bcs - 1) / bcs
		haveClusters := (fp.obj.size + bcs - 1) / bcs
		if clst == 0 {
			clst = fsys.createChain(0)
			if clst < 2 {
				return frDenied
			}
			fp.obj.startClust = clst
			haveClusters = 1
		} else {
			// Walk to the current tail before extending.
			for i := int64(1); i < haveClusters; i++ {
				nc := fsys.getFAT(clst)
				if nc <= 1 {
					return frIntErr
				} else if nc == maxu32 {
					return frDiskErr
				}
				clst = nc
			}
		}
		for i := haveClusters; i < nclusters; i++ {
			nc := fsys.createChain(clst)
			if nc < 2 {
				return frDenied
			}
			clst = nc
		}
		fp.obj.size = ofs
		fp.flag |= faModified
	case clst != 0 && ofs > 0 && fp.linkMap != nil:
		clst = fp.linkMapCluster(ofs - 1)
		if clst == 0 {
			return frIntErr
		}
	case clst != 0 && ofs > 0:
		remaining := ofs
		for remaining > bcs {
			clst = fsys.getFAT(clst)
			if clst <= 1 {
				return frIntErr
			} else if clst == maxu32 {
				return frDiskErr
			}
			remaining -= bcs
		}
	}

	if fp.flag&faDirty != 0 {
		if fsys.diskWrite(fp.buf[:], fp.sect, 1) != drOK {
			return frDiskErr
		}
		fp.flag &^= faDirty
	}

	fp.clust = clst
	fp.ptr = ofs
	if ofs > 0 && fsys.modSS(uint32(ofs)) != 0 {
		sc := fsys.clusterToSector(clst)
		if sc == 0 {
			return frIntErr
		}
		fp.sect = sc + lba((ofs%bcs)/int64(fsys.ssize))
		if fsys.diskRead(fp.buf[:], fp.sect, 1) != drOK {
			return frDiskErr
		}
	} else {
		fp.sect = 0
	}
	return frOK
}

// linkMapCluster resolves the cluster containing byte offset ofs through
// the handle's link map. The map is a run-length encoding of the chain:
// (clusterCount, startCluster) pairs terminated by a zero count.
func (fp *File) linkMapCluster(ofs int64) uint32 {
	fsys := fp.obj.fs
	cl := uint32(ofs / int64(fsys.ssize) / int64(fsys.csize))
	tbl := fp.linkMap
	for len(tbl) >= 2 {
		n := tbl[0]
		if n == 0 {
			break
		}
		if cl < n {
			return tbl[1] + cl
		}
		cl -= n
		tbl = tbl[2:]
	}
	return 0
}

// buildLinkMap walks the whole cluster chain once and records it as
// (count, start) fragment pairs so later seeks cost a table scan instead of
// a FAT walk per cluster.
func (fp *File) buildLinkMap() fileResult {
	fsys := fp.obj.fs
	fsys.trace("file:buildLinkMap")
	fp.linkMap = fp.linkMap[:0]
	clst := fp.obj.startClust
	if clst == 0 {
		fp.linkMap = append(fp.linkMap, 0)
		return frOK
	}
	fragStart := clst
	fragLen := uint32(1)
	for {
		nxt := fsys.getFAT(clst)
		if nxt == 1 {
			return frIntErr
		} else if nxt == maxu32 {
			return frDiskErr
		}
		if nxt == clst+1 {
			fragLen++
			clst = nxt
			continue
		}
		fp.linkMap = append(fp.linkMap, fragLen, fragStart)
		if nxt == 0 || nxt >= fsys.nFATEntries {
			break // End of chain.
		}
		fragStart = nxt
		fragLen = 1
		clst = nxt
	}
	fp.linkMap = append(fp.linkMap, 0)
	return frOK
}
