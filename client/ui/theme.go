package ui

import (
	"github.com/gdamore/tcell/v2"

	"tourchat/client/channel"
)

// Colors - Midnight Commander style
var (
	ColorBg        = tcell.NewRGBColor(0, 0, 128)     // Dark blue background
	ColorFg        = tcell.NewRGBColor(192, 192, 192) // Light gray text
	ColorBorder    = tcell.NewRGBColor(0, 255, 255)   // Cyan borders
	ColorTitle     = tcell.NewRGBColor(255, 255, 255) // White titles
	ColorHighlight = tcell.NewRGBColor(0, 255, 255)   // Cyan highlight
	ColorField     = tcell.NewRGBColor(0, 0, 64)      // Input field background
	ColorBar       = tcell.NewRGBColor(0, 128, 128)   // Status bar and buttons
)

// Color tags for dynamic text
const (
	tagOwn     = "[yellow]"
	tagOther   = "[aqua]"
	tagMuted   = "[gray]"
	tagError   = "[red]"
	tagReset   = "[-]"
	tagAttach  = "[green]"
	tagEdited  = "[gray]"
	tagDeleted = "[darkgray]"
)

var statusStyles = map[channel.State]struct {
	tag   string
	label string
}{
	channel.Connecting: {"[yellow]", "◌ connecting"},
	channel.Open:       {"[green]", "● connected"},
	channel.Closed:     {"[gray]", "○ closed"},
	channel.Error:      {"[red]", "✗ error"},
}
