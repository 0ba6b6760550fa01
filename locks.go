package fat

// lockEntry is one slot of a volume's open-file lock table: the owning
// directory cluster, the entry offset within it, and a counter where 0
// means free, 1..0xFF counts readers, and the writer bit stands alone for
// a single writer.
type lockEntry struct {
	clust   uint32
	index   uint32
	counter uint32
}

const (
	lockCounterWriter = 0x100
	lockCounterMask   = 0xFF
)

// findLock returns the index of the lock table slot for (clust,index), or
// -1 if none is currently held.
func (fsys *FS) findLock(clust, index uint32) int {
	for i := range fsys.locks {
		if fsys.locks[i].counter != 0 && fsys.locks[i].clust == clust && fsys.locks[i].index == index {
			return i
		}
	}
	return -1
}

// checkLock reports whether opening (clust,index) with the given access
// mode would conflict with an existing opener: at most one writer, and no
// new opener of any kind while a writer holds the entry. It does not
// mutate the table; incLock performs the actual reservation.
func (fsys *FS) checkLock(clust, index uint32, mode accessmode) fileResult {
	i := fsys.findLock(clust, index)
	if i < 0 {
		return frOK
	}
	if fsys.locks[i].counter >= lockCounterWriter {
		return frLocked // a writer already holds this entry.
	}
	if mode&faWrite != 0 {
		return frLocked // readers present, can't add a writer.
	}
	return frOK
}

// incLock reserves a slot for (clust,index), bumping an existing reader
// count or installing a writer, allocating a fresh table slot if none
// existed yet. Returns the slot index for later decLock, or frTooManyOpens
// when the table is saturated.
func (fsys *FS) incLock(clust, index uint32, mode accessmode) (int, fileResult) {
	if fr := fsys.checkLock(clust, index, mode); fr != frOK {
		return -1, fr
	}
	i := fsys.findLock(clust, index)
	if i >= 0 {
		if mode&faWrite != 0 {
			fsys.locks[i].counter = lockCounterWriter
		} else {
			fsys.locks[i].counter++
		}
		return i, frOK
	}
	for j := range fsys.locks {
		if fsys.locks[j].counter == 0 {
			fsys.locks[j] = lockEntry{clust: clust, index: index}
			if mode&faWrite != 0 {
				fsys.locks[j].counter = lockCounterWriter
			} else {
				fsys.locks[j].counter = 1
			}
			return j, frOK
		}
	}
	return -1, frTooManyOpenFiles
}

// decLock releases one reference previously taken by incLock, freeing the
// slot once its counter reaches zero.
func (fsys *FS) decLock(slot int) {
	if slot < 0 || slot >= len(fsys.locks) {
		return
	}
	e := &fsys.locks[slot]
	if e.counter >= lockCounterWriter {
		e.counter = 0
	} else if e.counter > 0 {
		e.counter--
	}
	if e.counter == 0 {
		*e = lockEntry{}
	}
}

// clearVolumeLocks resets every slot, used on unmount/remount so a stale
// handle from a previous mount can never appear to hold a lock on the new
// volume occupying the same FS value.
func (fsys *FS) clearVolumeLocks() {
	fsys.locks = [fsLockCount]lockEntry{}
}

// busy reports whether any lock is currently held on (clust,index),
// regardless of mode. Remove uses it to refuse unlinking an open file.
func (fsys *FS) busy(clust, index uint32) bool {
	return fsys.findLock(clust, index) >= 0
}
