package testfs

import "github.com/sirupsen/logrus"

// logger is the structured logger threaded through a mounted Superblock.
// Grounded on the ambient-stack convention observed across the pack
// (gcsfuse-family repos configure a package-level structured logger rather
// than bare log.Printf, which squashfs itself uses); testfs adopts logrus
// in that spirit instead of bare log.
type logger = logrus.Entry

// NewLogger builds a structured logger with full timestamps, tagged with
// the volume path being operated on.
func NewLogger(volume string) *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l.WithField("volume", volume)
}

// WithLogger attaches a logger to an already-mounted superblock.
func (sb *Superblock) WithLogger(l *logrus.Entry) *Superblock {
	sb.log = l
	return sb
}
