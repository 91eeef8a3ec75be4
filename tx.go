package testfs

// TxStart opens a transaction bracket of the given kind. Grounded on
// original_source/testfs.c's testfs_tx_start: there is no undo log, so
// TxStart's only job is to record that a mutating operation is underway and
// reject a nested start (spec §5 keeps this a non-reentrant bracket).
func (sb *Superblock) TxStart(kind txKind) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.tx != TxNone {
		return ErrBusy
	}
	sb.tx = kind
	return nil
}

// TxCommit closes the transaction bracket opened by TxStart. Freemap and
// data-block writes within the bracket have already gone through to the OS
// as they happened (bitmap.go, inode.go), and inode records reach disk only
// when the caller syncs them; there is no redo/undo journal to replay,
// but commit still owes the caller a flush to the backing storage before it
// returns, since a volume mounted without O_SYNC only has the OS page cache
// behind it until something calls fsync (spec §5, §7).
func (sb *Superblock) TxCommit(kind txKind) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.tx == TxNone {
		return ErrNotRunning
	}
	if sb.tx != kind {
		return ErrInvalid
	}
	if err := sb.bd.Sync(); err != nil {
		return err
	}
	sb.tx = TxNone
	return nil
}
