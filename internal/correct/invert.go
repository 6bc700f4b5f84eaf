package correct

import "github.com/MeKo-Tech/negafix/internal/pixbuf"

// Invert maps every sample s to 255-s. Applying it twice yields the original buffer.
func Invert(b pixbuf.Buffer) pixbuf.Buffer {
	return b.Map(func(_ int, v uint8) uint8 { return 255 - v })
}
