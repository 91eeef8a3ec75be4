package testfs

import "strings"

// MountFlags are bit flags accepted by Mount. Adapted from squashfs's
// SquashFlags bitflag type (flags.go); the values themselves come from
// original_source/testfs.c's "-c/--corrupt" command-line option, which
// testfs_init_super_block accepted but the retrieved source never acted
// on (left as a hook for an external fault-injection harness). Here
// FlagCorrupt flips the lowest bit of the loaded superblock's modification
// time in memory right after mount. CheckFS compares only the freemaps, so
// it does not report this change, and Close overwrites the modification
// time when it writes the superblock.
type MountFlags uint8

const (
	FlagCorrupt MountFlags = 1 << iota
	FlagReadOnly
)

func (f MountFlags) String() string {
	var opt []string
	if f&FlagCorrupt != 0 {
		opt = append(opt, "CORRUPT")
	}
	if f&FlagReadOnly != 0 {
		opt = append(opt, "READONLY")
	}
	return strings.Join(opt, "|")
}

func (f MountFlags) Has(what MountFlags) bool {
	return f&what == what
}

// WithFlags applies MountFlags as a mount Option.
func WithFlags(f MountFlags) Option {
	return func(sb *Superblock) error {
		if f.Has(FlagCorrupt) {
			sb.d.ModificationTime ^= 1
		}
		sb.flags = f
		return nil
	}
}
