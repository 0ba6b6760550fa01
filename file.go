package fat

import (
	"encoding/binary"
	"log/slog"
)

// open resolves name and populates fp, creating, truncating or registering
// a directory entry depending on mode. A lock-table slot is reserved before
// the handle becomes usable so conflicting openers and unlink-while-open
// are refused.
func (fsys *FS) open(fp *File, name string, mode accessmode) fileResult {
	fsys.trace("fs:open", slog.String("name", name), slog.Uint64("mode", uint64(mode)))
	if fp == nil {
		return frInvalidObject
	} else if fsys.perm == 0 {
		return frDenied
	}
	name += "\x00"
	var dj dir
	fp.obj.fs = fsys
	fp.lockSlot = -1
	dj.obj.fs = fsys
	res := dj.followPath(name)
	if res == frOK && dj.fn[nsFLAG]&nsNONAME != 0 {
		res = frInvalidName // The volume root is not an openable file.
	}
	if mode&(faCreateAlways|faOpenAlways|faCreateNew) != 0 {
		// Creating branch.
		if res != frOK {
			if res == frNoFile {
				res = dj.register()
			}
			mode |= faCreateAlways // Entry is brand new either way.
		} else {
			if dj.obj.attr&(amRDO|amDIR) != 0 {
				res = frDenied // Cannot overwrite a read-only file or a directory.
			} else if mode&faCreateNew != 0 {
				res = frExist
			}
		}
		if res == frOK && mode&faCreateAlways != 0 {
			// Truncate to zero: reset the entry and release the old chain.
			tm := fsys.timeStamp()
			binary.LittleEndian.PutUint32(dj.dir[dirCrtTimeOff:], tm)
			binary.LittleEndian.PutUint32(dj.dir[dirModTimeOff:], tm)
			cl := fsys.loadStartCluster(dj.dir)
			dj.dir[dirAttrOff] = amARC
			fsys.storeStartCluster(dj.dir, 0)
			binary.LittleEndian.PutUint32(dj.dir[dirFileSizeOff:], 0)
			fsys.winDirty = true
			if cl != 0 {
				sc := fsys.winSect
				res = fsys.removeChain(cl, 0)
				if res == frOK {
					res = fsys.moveWindow(sc)
					fsys.lastClust = cl - 1 // Reuse the freed hole next.
				}
			}
		}
	} else {
		// Opening branch.
		if res == frOK {
			if dj.obj.attr&amDIR != 0 {
				res = frNoFile
			} else if mode&faWrite != 0 && dj.obj.attr&amRDO != 0 {
				res = frDenied
			}
		}
	}
	if res != frOK {
		fp.obj.fs = nil
		return res
	}

	lockClust, lockIndex := dj.obj.startClust, dj.off
	slot, fr := fsys.incLock(lockClust, lockIndex, mode)
	if fr != frOK {
		fp.obj.fs = nil
		return fr
	}
	fp.lockClust, fp.lockIndex, fp.lockSlot = lockClust, lockIndex, slot

	if mode&faCreateAlways != 0 {
		mode |= faModified
	}
	fp.dirSect = fsys.winSect
	fp.dirPtr = dj.dir

	fp.obj.startClust = fsys.loadStartCluster(dj.dir)
	fp.obj.size = int64(binary.LittleEndian.Uint32(dj.dir[dirFileSizeOff:]))

	fp.obj.id = fsys.id
	fp.flag = mode
	fp.err = frOK
	fp.linkMap = nil
	fp.sect = 0
	fp.ptr = 0
	fp.clust = 0
	fp.buf = [512]byte{}

	if mode&faSeekEnd != 0 && fp.obj.size > 0 {
		// Append mode: position at end of file, loading the partial tail
		// sector into the handle cache.
		fp.ptr = fp.obj.size
		bcs := int64(fsys.csize) * int64(fsys.ssize)
		clst := fp.obj.startClust
		ofs := fp.obj.size
		for ; res == frOK && ofs > bcs; ofs -= bcs {
			clst = fsys.getFAT(clst)
			if clst <= 1 {
				res = frIntErr
			} else if clst == maxu32 {
				res = frDiskErr
			}
		}
		fp.clust = clst
		if res == frOK && fsys.modSS(uint32(ofs)) != 0 {
			sc := fsys.clusterToSector(clst)
			if sc == 0 {
				res = frIntErr
			} else {
				fp.sect = sc + lba(fsys.divSS(uint32(ofs)))
				if fsys.diskRead(fp.buf[:], fp.sect, 1) != drOK {
					res = frDiskErr
				}
			}
		}
	}
	if res != frOK {
		fsys.decLock(fp.lockSlot)
		fp.lockSlot = -1
		fp.obj.fs = nil
	}
	return res
}

// opendir resolves path to a directory and rewinds dp onto its table.
func (fsys *FS) opendir(dp *dir, path string) (fr fileResult) {
	if dp == nil {
		return frInvalidObject
	}
	path += "\x00"
	dp.obj.fs = fsys

	fr = dp.followPath(path)
	if fr != frOK {
		if fr == frNoFile {
			fr = frNoPath
		}
		dp.obj.fs = nil
		return fr
	}

	if dp.fn[nsFLAG]&nsNONAME == 0 {
		if dp.obj.attr&amDIR != 0 {
			dp.obj.startClust = fsys.loadStartCluster(dp.dir)
		} else {
			fr = frNoPath // Resolved to a file, not a directory.
		}
	}
	if fr == frOK {
		dp.obj.id = fsys.id
		fr = dp.setIndex(0)
	}
	if fr == frNoFile {
		fr = frNoPath
	}
	if fr != frOK {
		dp.obj.fs = nil
	}
	return fr
}

// read copies up to len(buff) bytes at the file pointer into buff, bounded
// by the file size. Runs of whole sectors bypass the handle cache and read
// straight into buff; partial sectors go through it.
func (fp *File) read(buff []byte) (br int, res fileResult) {
	fsys := fp.obj.fs
	fsys.trace("file:read", slog.Int("len", len(buff)))
	if fp.flag&faRead == 0 || fsys.perm&ModeRead == 0 {
		return 0, frDenied
	}
	remain := fp.obj.size - fp.ptr
	btr := len(buff)
	if int64(btr) > remain {
		btr = int(remain)
	}
	rbuff := buff
	var csect, clst uint32
	var rcnt int
	ss := int64(fsys.ssize)
	cs := int64(fsys.csize)

	for {
		btr -= rcnt
		br += rcnt
		rbuff = rbuff[rcnt:]
		fp.ptr += int64(rcnt)
		if btr <= 0 {
			break
		}
		if fp.ptr%ss == 0 {
			csect = uint32((fp.ptr / ss) & (cs - 1)) // Sector index within the cluster.
			if csect == 0 {
				if fp.ptr == 0 {
					clst = fp.obj.startClust
				} else if fp.linkMap != nil {
					clst = fp.linkMapCluster(fp.ptr)
				} else {
					clst = fsys.getFAT(fp.clust)
				}
				if clst < 2 {
					return br, fp.abort(frIntErr)
				} else if clst == maxu32 {
					return br, fp.abort(frDiskErr)
				}
				fp.clust = clst
			}
			sect := fsys.clusterToSector(fp.clust)
			if sect == 0 {
				return br, fp.abort(frIntErr)
			}
			sect += lba(csect)
			cc := btr / int(ss)
			if cc > 0 {
				// Whole sectors remain: read them contiguously into the
				// caller's buffer, clipped at the cluster boundary.
				if csect+uint32(cc) > uint32(cs) {
					cc = int(cs) - int(csect)
				}
				if fsys.diskRead(buff[br:br+cc*int(ss)], sect, cc) != drOK {
					return br, fp.abort(frDiskErr)
				}
				if fp.flag&faDirty != 0 && fp.sect-sect < lba(cc) {
					// The handle cache holds newer bytes for one of the
					// sectors just read; overlay them.
					off := (fp.sect - sect) * lba(ss)
					copy(rbuff[off:], fp.buf[:])
				}
				rcnt = int(ss) * cc
				continue
			}
			if fp.flag&faDirty != 0 {
				if fsys.diskWrite(fp.buf[:], fp.sect, 1) != drOK {
					return br, fp.abort(frDiskErr)
				}
				fp.flag &^= faDirty
			}
			if fsys.diskRead(fp.buf[:], sect, 1) != drOK {
				return br, fp.abort(frDiskErr)
			}
			fp.sect = sect
		}
		modptr := int(fp.ptr % ss)
		rcnt = int(ss) - modptr
		if rcnt > btr {
			rcnt = btr
		}
		copy(rbuff[:rcnt], fp.buf[modptr:])
	}
	return br, frOK
}

// write copies buff at the file pointer, allocating clusters as boundaries
// are crossed. On an exhausted volume it stops with a short count rather
// than an error; the caller observes bw < len(buff).
func (fp *File) write(buff []byte) (bw int, fr fileResult) {
	fr = fp.obj.validate()
	if fr != frOK {
		return 0, fr
	} else if fp.err != frOK {
		return 0, fp.err
	} else if fp.flag&faWrite == 0 {
		return 0, frWriteProtected
	}
	fsys := fp.obj.fs
	if fsys.perm&ModeWrite == 0 {
		return 0, frWriteProtected
	}
	btw := len(buff)
	if fp.ptr+int64(btw) > int64(maxu32) {
		// File size is a 32-bit field on disk.
		btw = int(int64(maxu32) - fp.ptr)
	}

	wbuff := buff
	var wcnt int
	var clst uint32
outerLoop:
	for {
		btw -= wcnt
		bw += wcnt
		wbuff = wbuff[wcnt:]
		fp.ptr += int64(wcnt)
		if fp.obj.size < fp.ptr {
			fp.obj.size = fp.ptr
		}
		if btw <= 0 {
			break
		}

		if fsys.modSS(uint32(fp.ptr)) == 0 {
			csect := uint32(fp.ptr/int64(fsys.ssize)) & uint32(fsys.csize-1)
			if csect == 0 {
				if fp.ptr == 0 {
					clst = fp.obj.startClust
					if clst == 0 {
						clst = fsys.createChain(0)
					}
				} else {
					clst = fsys.createChain(fp.clust)
				}
				switch clst {
				case 0:
					break outerLoop // Volume full: report the short count.
				case 1:
					return bw, fp.abort(frIntErr)
				case maxu32:
					return bw, fp.abort(frDiskErr)
				}
				fp.clust = clst
				if fp.obj.startClust == 0 {
					fp.obj.startClust = clst // First allocation of this file.
				}
			}
			if fp.flag&faDirty != 0 {
				if fsys.diskWrite(fp.buf[:], fp.sect, 1) != drOK {
					return bw, fp.abort(frDiskErr)
				}
				fp.flag &^= faDirty
			}
			sect := fsys.clusterToSector(fp.clust)
			if sect == 0 {
				return bw, fp.abort(frIntErr)
			}
			sect += lba(csect)
			cc := fsys.divSS(uint32(btw))
			if cc > 0 {
				// Whole sectors: write contiguously from the caller's
				// buffer, clipped at the cluster boundary.
				if csect+cc > uint32(fsys.csize) {
					cc = uint32(fsys.csize) - csect
				}
				if fsys.diskWrite(wbuff[:cc*uint32(fsys.ssize)], sect, int(cc)) != drOK {
					return bw, fp.abort(frDiskErr)
				}
				if off := fp.sect - sect; off < lba(cc) {
					// The handle cache fell inside the written range;
					// refresh it from the new data.
					copy(fp.buf[:], wbuff[off*lba(fsys.ssize):(off+1)*lba(fsys.ssize)])
					fp.flag &^= faDirty
				}
				wcnt = int(cc) * int(fsys.ssize)
				continue
			}
			if fp.sect != sect && fp.ptr < fp.obj.size &&
				fsys.diskRead(fp.buf[:], sect, 1) != drOK {
				return bw, fp.abort(frDiskErr)
			}
			fp.sect = sect
		}
		modss := int(fsys.modSS(uint32(fp.ptr)))
		wcnt = int(fsys.ssize) - modss
		if wcnt > btw {
			wcnt = btw
		}
		copy(fp.buf[modss:], wbuff[:wcnt])
		fp.flag |= faDirty
	}
	fp.flag |= faModified
	return bw, fr
}

// syncFile flushes the handle's cached sector and rewrites its directory
// entry: size, start cluster, modified time and the archive bit.
func (fsys *FS) syncFile(fp *File) (fr fileResult) {
	fsys.trace("fs:syncFile")
	if fp.flag&faModified == 0 {
		return frOK
	}
	if fp.flag&faDirty != 0 {
		if fsys.diskWrite(fp.buf[:], fp.sect, 1) != drOK {
			return frDiskErr
		}
		fp.flag &^= faDirty
	}

	tm := fsys.timeStamp()
	fr = fsys.moveWindow(fp.dirSect)
	if fr != frOK {
		return fr
	}
	dir := fp.dirPtr
	dir[dirAttrOff] |= amARC
	fsys.storeStartCluster(dir, fp.obj.startClust)
	binary.LittleEndian.PutUint32(dir[dirFileSizeOff:], uint32(fp.obj.size))
	binary.LittleEndian.PutUint32(dir[dirModTimeOff:], tm)
	binary.LittleEndian.PutUint16(dir[dirLstAccDateOff:], 0)
	fsys.winDirty = true
	fr = fsys.syncFS()
	fp.flag &^= faModified
	return fr
}

// close flushes the handle and releases its lock-table slot. A sync failure
// still surfaces, but the handle is invalidated regardless: a handle that
// failed its closing flush must not remain usable.
func (fp *File) close() fileResult {
	fsys := fp.obj.fs
	fsys.trace("file:close")
	fr := fp.obj.validate()
	if fr != frOK {
		return fr
	}
	var syncErr fileResult
	if fsys.perm&ModeWrite != 0 {
		syncErr = fsys.syncFile(fp)
	}
	fsys.decLock(fp.lockSlot)
	fp.lockSlot = -1
	fp.obj.fs = nil
	fp.linkMap = nil
	return syncErr
}
