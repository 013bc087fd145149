package compile

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Domain prefix for fingerprint hashing. The version suffix enables future
// algorithm migration without colliding with old fingerprints.
const fingerprintDomain = "anvil/fingerprint/v1"

// Fingerprint uniquely identifies a compilation for deduplication.
//
// Two concurrent requests with equal fingerprints are interchangeable and
// must share one execution. The fingerprint is a hex digest, so it is
// directly usable as a map key and safe to log.
type Fingerprint string

// FingerprintInputs is everything that determines a compilation's identity:
// the project, its sources, its classpath, and its options.
//
// Classpath and option order are significant and hash in order. Sources are
// order-insensitive and are sorted before hashing.
type FingerprintInputs struct {
	Project   Project
	Sources   []string
	Classpath []string
	Options   []string
}

// NewFingerprint derives the fingerprint for the given inputs.
//
// Every string is NFC-normalized before hashing so that byte-different but
// canonically-equal paths (decomposed vs. precomposed Unicode) produce the
// same fingerprint. Each field group is length-prefixed to prevent boundary
// ambiguity between groups.
func NewFingerprint(in FingerprintInputs) Fingerprint {
	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	h.Write([]byte{0x00})

	writeString := func(s string) {
		b := []byte(norm.NFC.String(s))
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
		h.Write(lenBuf[:])
		h.Write(b)
	}
	writeGroup := func(ss []string) {
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(ss)))
		h.Write(lenBuf[:])
		for _, s := range ss {
			writeString(s)
		}
	}

	writeString(in.Project.ID())

	sources := make([]string, len(in.Sources))
	copy(sources, in.Sources)
	sort.Strings(sources)

	writeGroup(sources)
	writeGroup(in.Classpath)
	writeGroup(in.Options)

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func (f Fingerprint) String() string {
	return string(f)
}

// Short returns a truncated digest for log lines.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}
