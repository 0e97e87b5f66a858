// Package recipe defines the cache's addressing unit: a source path paired
// with a fully specified output target.
package recipe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Format identifies the target container/codec produced by a Transcoder.
type Format string

const (
	FormatMP3 Format = "mp3"
	FormatMP4 Format = "mp4"
)

// TargetRecipe fully specifies the output target. Two recipes that are
// equal must always produce byte-identical output for the same source
// (spec §3); every tunable that changes the output bytes belongs here.
type TargetRecipe struct {
	Format         Format
	BitrateKbps    int  // 0 = encoder default / VBR
	VBR            bool
	ReplayGain     bool
	SampleRateCap  int // 0 = no cap
	EncoderQuality int // 0 = encoder default
	// AutoCopy: when true and the source is already compatible with
	// Format, the factory selects a passthrough transcoder instead of
	// re-encoding (SPEC_FULL §6).
	AutoCopy bool
}

// Ext returns the file extension (without dot) that virtual names carry
// for this recipe's format.
func (r TargetRecipe) Ext() string {
	return string(r.Format)
}

// TrailingTagLen returns the fixed-size trailing tag length this format's
// transcoders splice at the end of the artifact (spec §4.4 "tail-read
// shortcut"), or 0 when the format carries no fixed trailing tag.
func (r TargetRecipe) TrailingTagLen() int {
	switch r.Format {
	case FormatMP3:
		return 128 // ID3v1
	default:
		return 0
	}
}

// String renders a stable, unambiguous encoding of the recipe. Used both
// for logging and as an input to CacheKey's hash so that two requests with
// differing recipes never collide.
func (r TargetRecipe) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "fmt=%s;br=%d;vbr=%t;gain=%t;srcap=%d;q=%d;copy=%t",
		r.Format, r.BitrateKbps, r.VBR, r.ReplayGain, r.SampleRateCap, r.EncoderQuality, r.AutoCopy)
	return b.String()
}

// CacheKey addresses one cache entry: a source path plus a target recipe.
// Equal keys must always produce byte-identical results (spec §3); distinct
// keys must never share a CacheEntry.
type CacheKey struct {
	SourcePath string
	Recipe     TargetRecipe
}

// String renders a stable representation suitable for map keys and log lines.
func (k CacheKey) String() string {
	return k.SourcePath + "|" + k.Recipe.String()
}

// Hash returns a fixed-length hex digest of the key, used to derive
// filesystem-safe on-disk artifact names (internal/cachepath).
func (k CacheKey) Hash() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}
