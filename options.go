package testfs

// Option configures a Superblock at Mount time. Adapted from squashfs's
// functional-option pattern (options.go): testfs has no inode offset
// concept, so the options here instead cover the things Mount needs to
// vary for tests (an injected Clock) versus real use (a logger).
type Option func(sb *Superblock) error

// WithClock overrides the real-time clock used for inode timestamps,
// letting tests assert ordering without depending on wall-clock timing.
func WithClock(c Clock) Option {
	return func(sb *Superblock) error {
		sb.clock = c
		return nil
	}
}

// WithLoggerOption attaches a structured logger at mount time.
func WithLoggerOption(l *logger) Option {
	return func(sb *Superblock) error {
		sb.log = l
		return nil
	}
}

func (sb *Superblock) applyOptions(opts ...Option) error {
	for _, o := range opts {
		if err := o(sb); err != nil {
			return err
		}
	}
	return nil
}
