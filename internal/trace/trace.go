// Package trace assigns every request a short correlation ID and a stable
// color so that all log lines belonging to one request can be picked out of
// interleaved output at a glance.
package trace

import (
	"context"
	"encoding/hex"
	"math/rand"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

// IDLength is the number of characters in a request ID. Five hex characters
// are short enough to scan and unique enough for one process lifetime;
// collisions are acceptable.
const IDLength = 5

const fallbackAlphabet = "0123456789abcdef"

// Info is the per-request correlation data. It is created once per inbound
// request, attached to the request context and never mutated afterwards.
type Info struct {
	ID      string
	Started time.Time
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying info.
func NewContext(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, ctxKey{}, info)
}

// FromContext extracts the correlation info attached by NewContext.
func FromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(ctxKey{}).(Info)
	return info, ok
}

// NewID generates a short random request identifier. Generation never
// fails: if the system entropy source is unavailable it falls back to a
// non-cryptographic pseudo-random string of the same length.
func NewID() string {
	u, err := uuid.NewRandom()
	if err != nil {
		b := make([]byte, IDLength)
		for i := range b {
			b[i] = fallbackAlphabet[rand.Intn(len(fallbackAlphabet))]
		}
		return string(b)
	}
	return hex.EncodeToString(u[:])[:IDLength]
}

// palette holds 32 ANSI colors: two full cycles of the six standard and six
// bright colors, then a partial third cycle. Both variants read fine on
// light and dark backgrounds.
var palette = [32]*color.Color{
	color.New(color.FgRed),
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgBlue),
	color.New(color.FgMagenta),
	color.New(color.FgCyan),
	color.New(color.FgHiRed),
	color.New(color.FgHiGreen),
	color.New(color.FgHiYellow),
	color.New(color.FgHiBlue),
	color.New(color.FgHiMagenta),
	color.New(color.FgHiCyan),
	color.New(color.FgRed),
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgBlue),
	color.New(color.FgMagenta),
	color.New(color.FgCyan),
	color.New(color.FgHiRed),
	color.New(color.FgHiGreen),
	color.New(color.FgHiYellow),
	color.New(color.FgHiBlue),
	color.New(color.FgHiMagenta),
	color.New(color.FgHiCyan),
	color.New(color.FgRed),
	color.New(color.FgGreen),
	color.New(color.FgYellow),
	color.New(color.FgBlue),
	color.New(color.FgMagenta),
	color.New(color.FgCyan),
	color.New(color.FgHiRed),
	color.New(color.FgHiGreen),
}

// colorIndex folds the identifier's runes into a 32-bit accumulator with
// wrapping arithmetic and reduces it modulo the palette size. The result is
// identical for the same input across restarts.
func colorIndex(id string) uint32 {
	var acc uint32
	for _, r := range id {
		acc = acc*31 + uint32(r)
	}
	return acc % uint32(len(palette))
}

// ColorFor deterministically maps a request ID to one of the 32 palette
// colors.
func ColorFor(id string) *color.Color {
	return palette[colorIndex(id)]
}

// ColoredID formats an ID as "[id]" in its assigned color. When stdout is
// not a terminal fatih/color suppresses the escape codes and the plain text
// remains.
func ColoredID(id string) string {
	return ColorFor(id).Sprintf("[%s]", id)
}
