// Package profile implements the content-addressed Profile Registry (spec
// §4.C): duplicate-safe insertion keyed by a hash of the source bytes, plus
// a fingerprint keyed by the canonical on-wire frame sequence so that two
// uploads differing only in metadata (title, notes) still compare equal.
package profile

import (
	"crypto/sha1" //nolint:gosec // content-addressing digest, not a security boundary
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/nerrad567/pyde1-core/internal/domain"
)

// ShotDescHeader, ShotFrame, ShotExtFrame and ShotTail mirror the frame
// families spec §4.C names (ShotDescHeader, ShotFrame[0..N-1],
// ShotExtFrame[0..M-1], ShotTail). The exact bit-level encoding of a real
// DE1 profile's frames is outside the core's scope (spec §1 non-goals);
// what matters here is that two profiles with identical frame content
// produce identical Fingerprints regardless of their metadata, which this
// canonical encoding guarantees.
type ShotDescHeader struct {
	HeaderVersion uint8
	NumberFrames  uint8
	NumberExtFrames uint8
	StepsInFrame  uint8
}

type ShotFrame struct {
	Index       uint8
	FlagsRaw    uint8
	TargetRaw   uint16
	TimeRaw     uint16
	TriggerRaw  uint16
}

type ShotExtFrame struct {
	Index     uint8
	MaxVolume uint16
}

type ShotTail struct {
	TailVersion uint8
}

// Frames is the decoded machine program a Profile's Source compiles to.
// Insert computes the Fingerprint from this, independent of Source's
// surrounding metadata.
type Frames struct {
	Header   ShotDescHeader
	Steps    []ShotFrame
	ExtSteps []ShotExtFrame
	Tail     ShotTail
}

// canonicalBytes lays out Header, then Steps by ascending Index, then
// ExtSteps by ascending Index (included as produced, not synthesised if
// absent -- the Open Question in spec §9(b) resolved in favour of this
// policy), then Tail.
func (f Frames) canonicalBytes() []byte {
	buf := make([]byte, 0, 4+len(f.Steps)*7+len(f.ExtSteps)*3+1)
	buf = append(buf, f.Header.HeaderVersion, f.Header.NumberFrames, f.Header.NumberExtFrames, f.Header.StepsInFrame)

	steps := append([]ShotFrame(nil), f.Steps...)
	sortFrames(steps)
	for _, s := range steps {
		var tmp [7]byte
		tmp[0] = s.Index
		tmp[1] = s.FlagsRaw
		binary.BigEndian.PutUint16(tmp[2:4], s.TargetRaw)
		binary.BigEndian.PutUint16(tmp[4:6], s.TimeRaw)
		tmp[6] = byte(s.TriggerRaw)
		buf = append(buf, tmp[:]...)
	}

	ext := append([]ShotExtFrame(nil), f.ExtSteps...)
	sortExtFrames(ext)
	for _, e := range ext {
		var tmp [3]byte
		tmp[0] = e.Index
		binary.BigEndian.PutUint16(tmp[1:3], e.MaxVolume)
		buf = append(buf, tmp[:]...)
	}

	buf = append(buf, f.Tail.TailVersion)
	return buf
}

func sortFrames(s []ShotFrame) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Index < s[j-1].Index; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func sortExtFrames(s []ShotExtFrame) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Index < s[j-1].Index; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// IDFor hashes source bytes for content-addressing: bit-identical sources
// share an ID (spec §3 "Profile" invariant).
func IDFor(source []byte) string {
	sum := sha1.Sum(source) //nolint:gosec // content digest, collision resistance to the degree sha1 provides is sufficient here
	return hex.EncodeToString(sum[:])
}

// FingerprintFor hashes the canonical frame encoding: profiles compiling to
// identical machine instructions share a Fingerprint even with different
// metadata (spec §3 "Profile" invariant, spec §8 scenario 1).
func FingerprintFor(frames Frames) string {
	sum := sha1.Sum(frames.canonicalBytes()) //nolint:gosec // content digest
	return hex.EncodeToString(sum[:])
}

// Decoder parses raw uploaded profile source bytes into Frames. The real
// DE1 profile formats (JSON v2, legacy tab-delimited) are parsed by an
// adapter the caller supplies; Registry.Insert only needs the result.
type Decoder interface {
	Decode(source []byte, format string) (Frames, error)
}

// ErrNotFound is returned by Get when no profile with the given id exists.
type ErrNotFound struct{ ID string }

func (e ErrNotFound) Error() string { return fmt.Sprintf("profile: %q not found", e.ID) }

// buildProfile assembles a domain.Profile record from uploaded bytes, used
// by both Registry.Insert and tests constructing fixtures directly.
func buildProfile(source []byte, format string, frames Frames, meta Metadata, now time.Time) domain.Profile {
	return domain.Profile{
		ID:           IDFor(source),
		Fingerprint:  FingerprintFor(frames),
		Source:       source,
		SourceFormat: format,
		Title:        meta.Title,
		Author:       meta.Author,
		Notes:        meta.Notes,
		Beverage:     meta.Beverage,
		DateAdded:    now,
		TargetWeight: meta.TargetWeight,
		TargetVolume: meta.TargetVolume,
		TankTemperature: meta.TankTemperature,
	}
}

// Metadata is the optional, fingerprint-excluded metadata a caller may
// attach on insert (spec §4.C: "Title/notes and operational-but-external
// params ... excluded from fingerprint").
type Metadata struct {
	Title           string
	Author          string
	Notes           string
	Beverage        string
	TargetWeight    *float64
	TargetVolume    *float64
	TankTemperature *float64
}
