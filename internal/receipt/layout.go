package receipt

// Thermal heads print at 203 DPI; these are the printable dot widths the
// raster path targets for each paper class.
const (
	PaperWidth58 = 58
	PaperWidth80 = 80
)

var paperDots = map[int]int{
	PaperWidth58: 288,
	PaperWidth80: 384,
}

// Horizontal margin, in dots, per printer model. Some heads clip the first
// columns and need a wider left/right gutter.
var modelMargins = map[string]int{
	"generic":  8,
	"epson":    4,
	"elgin":    12,
	"bematech": 16,
}

// DotsForWidth returns the raster width for a paper class, defaulting to 80mm.
func DotsForWidth(paperWidth int) int {
	if dots, ok := paperDots[paperWidth]; ok {
		return dots
	}
	return paperDots[PaperWidth80]
}

func MarginForModel(model string) int {
	if m, ok := modelMargins[model]; ok {
		return m
	}
	return modelMargins["generic"]
}

// ContentWidth is the printable width in dots once the model's margins are
// taken off both sides. Documents are laid out at this width; the agent adds
// the margins back when it builds the raster.
func ContentWidth(paperWidth int, model string) int {
	return DotsForWidth(paperWidth) - 2*MarginForModel(model)
}

func ValidPaperWidth(w int) bool {
	_, ok := paperDots[w]
	return ok
}

func ValidModel(model string) bool {
	_, ok := modelMargins[model]
	return ok
}
