package styles

import (
	"fmt"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Palette is the small set of tonal variants derived from one configured
// accent color. Pure derivation, no state.
type Palette struct {
	Accent      string `json:"accent"`
	AccentHover string `json:"accentHover"`
	AccentSoft  string `json:"accentSoft"`
	AccentGlow  string `json:"accentGlow"`
	OnAccent    string `json:"onAccent"`
}

const defaultAccent = "#6c5ce7"

// Resolve derives the palette from a hex accent color. An unparseable color
// falls back to the default accent so the widget always has a usable theme.
func Resolve(accent string) Palette {
	c, err := colorful.Hex(accent)
	if err != nil {
		c, _ = colorful.Hex(defaultAccent)
		accent = defaultAccent
	}

	h, s, l := c.Hsl()

	hover := colorful.Hsl(h, s, clamp01(l-0.08))
	soft := colorful.Hsl(h, clamp01(s-0.25), clamp01(l+0.30))
	glow := colorful.Hsl(h, s, clamp01(l+0.42))

	return Palette{
		Accent:      c.Hex(),
		AccentHover: hover.Clamped().Hex(),
		AccentSoft:  soft.Clamped().Hex(),
		AccentGlow:  glow.Clamped().Hex(),
		OnAccent:    contrastText(c),
	}
}

// contrastText picks black or white text for legibility on the accent.
func contrastText(c colorful.Color) string {
	// Relative luminance, sRGB coefficients.
	lum := 0.2126*c.R + 0.7152*c.G + 0.0722*c.B
	if lum > 0.55 {
		return "#000000"
	}
	return "#ffffff"
}

// CSSVars renders the palette as CSS custom properties for the host page.
func (p Palette) CSSVars() string {
	return fmt.Sprintf("--accent:%s;--accent-hover:%s;--accent-soft:%s;--accent-glow:%s;--on-accent:%s;",
		p.Accent, p.AccentHover, p.AccentSoft, p.AccentGlow, p.OnAccent)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
