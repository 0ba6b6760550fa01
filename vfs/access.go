package vfs

// Access checks whether a principal (euid, egid) has the requested access
// to a file described by stat, mirroring fs.c's chkperm: owner bits apply
// when euid matches, group bits when egid matches, and the "other" bits
// always apply as a floor. Traversing a directory additionally requires the
// execute bit regardless of whether AccessExec was explicitly requested,
// exactly as chkperm special-cases S_ISDIR. euid 0 bypasses all checks.
func Access(stat Stat, euid, egid uint32, want AccessMode) error {
	if euid == 0 {
		return nil
	}
	if want&AccessRead != 0 && !hasBit(stat, euid, egid, ModeIRUSR, ModeIRGRP, ModeIROTH) {
		return EPERM
	}
	if want&AccessWrite != 0 && !hasBit(stat, euid, egid, ModeIWUSR, ModeIWGRP, ModeIWOTH) {
		return EPERM
	}
	needExec := want&AccessExec != 0 || stat.Type == NodeDir
	if needExec && !hasBit(stat, euid, egid, ModeIXUSR, ModeIXGRP, ModeIXOTH) {
		return EPERM
	}
	return nil
}

func hasBit(stat Stat, euid, egid uint32, userBit, groupBit, otherBit Mode) bool {
	var req Mode
	if stat.UID == euid {
		req |= userBit
	}
	if stat.GID == egid {
		req |= groupBit
	}
	req |= otherBit
	return req&stat.Mode != 0
}
