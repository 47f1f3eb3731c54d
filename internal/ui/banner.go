package ui

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASCII ART BANNER - Cyberpunk Theme
// ══════════════════════════════════════════════════════════════════════════════

var bannerArt = [][2]string{
	{"██╗  ██╗██████╗ ███╗   ██╗", "██████╗ ███████╗██╗      █████╗ ██╗   ██╗"},
	{"██║  ██║██╔══██╗████╗  ██║", "██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝"},
	{"███████║██████╔╝██╔██╗ ██║", "██████╔╝█████╗  ██║     ███████║ ╚████╔╝ "},
	{"██╔══██║██╔═══╝ ██║╚██╗██║", "██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝  "},
	{"██║  ██║██║     ██║ ╚████║", "██║  ██║███████╗███████╗██║  ██║   ██║   "},
	{"╚═╝  ╚═╝╚═╝     ╚═╝  ╚═══╝", "╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝   "},
}

// PrintBanner displays the ASCII art startup banner with cyberpunk styling.
func PrintBanner(version string) {
	cyan := color.New(color.FgCyan, color.Bold)
	magenta := color.New(color.FgMagenta, color.Bold)
	hiCyan := color.New(color.FgHiCyan)
	hiMagenta := color.New(color.FgHiMagenta)
	yellow := color.New(color.FgYellow, color.Bold)
	white := color.New(color.FgWhite)
	dim := color.New(color.FgHiBlack)

	line(func(w io.Writer) {
		fmt.Fprintln(w)
		cyan.Fprintln(w, "╔══════════════════════════════════════════════════════════════════════╗")

		for _, row := range bannerArt {
			cyan.Fprint(w, "║  ")
			hiCyan.Fprint(w, row[0])
			dim.Fprint(w, "  ")
			magenta.Fprint(w, row[1])
			cyan.Fprintln(w, " ║")
		}

		cyan.Fprintln(w, "╠══════════════════════════════════════════════════════════════════════╣")

		cyan.Fprint(w, "║  ")
		yellow.Fprint(w, "🔥 CLAUDE WEB RELAY")
		dim.Fprint(w, "  │  ")
		hiMagenta.Fprint(w, "OPENAI COMPATIBLE")
		dim.Fprint(w, "  │  ")
		white.Fprintf(w, "%-22s", version)
		cyan.Fprintln(w, "║")

		cyan.Fprintln(w, "╚══════════════════════════════════════════════════════════════════════╝")
		fmt.Fprintln(w)
	})
}
