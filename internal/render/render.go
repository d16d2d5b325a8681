package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	cardWidth  = 600
	cardHeight = 315
	margin     = 32
	lineHeight = 18
	maxLines   = 6
)

var (
	background = color.RGBA{R: 0x1f, G: 0x29, B: 0x37, A: 0xff}
	accent     = color.RGBA{R: 0xf5, G: 0x9e, B: 0x0b, A: 0xff}
	foreground = color.RGBA{R: 0xf9, G: 0xfa, B: 0xfb, A: 0xff}
)

// Card draws the locked-message preview: the title, a lock banner and the
// unlock price. It never includes the message body.
type Card struct{}

func (Card) Render(title, price string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, cardWidth, cardHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, 0, cardWidth, 6), &image.Uniform{C: accent}, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Src: image.NewUniform(foreground), Face: basicfont.Face7x13}

	y := margin + lineHeight
	for _, line := range wrap(title, (cardWidth-2*margin)/7, maxLines) {
		d.Dot = fixed.P(margin, y)
		d.DrawString(line)
		y += lineHeight
	}

	d.Src = image.NewUniform(accent)
	d.Dot = fixed.P(margin, cardHeight-margin-lineHeight)
	d.DrawString("LOCKED MESSAGE")
	d.Dot = fixed.P(margin, cardHeight-margin)
	d.DrawString("Unlock for " + price)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// wrap breaks s into lines of at most width runes. Overflowing text is cut
// and marked with an ellipsis on the last line.
func wrap(s string, width, limit int) []string {
	var lines []string
	var cur []rune
	flush := func() {
		lines = append(lines, string(cur))
		cur = cur[:0]
	}

	for _, word := range strings.Fields(s) {
		w := []rune(word)
		for len(w) > width {
			if len(cur) > 0 {
				flush()
			}
			lines = append(lines, string(w[:width]))
			w = w[width:]
		}
		if len(cur) > 0 && len(cur)+1+len(w) > width {
			flush()
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, w...)
	}
	if len(cur) > 0 {
		flush()
	}

	if len(lines) > limit {
		lines = lines[:limit]
		last := []rune(lines[limit-1])
		if len(last) > width-3 {
			last = last[:width-3]
		}
		lines[limit-1] = string(last) + "..."
	}
	return lines
}
