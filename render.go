package main

import (
	"embed"
	"io"
	"math"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/charmbracelet/lipgloss"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("console").
	Funcs(sprig.TxtFuncMap()).
	Funcs(template.FuncMap{
		"label":  label,
		"swatch": swatch,
		"wave":   sparkline,
	}).
	ParseFS(templateFS, "templates/*.tmpl"))

func render(w io.Writer, name string, data any) error {
	return templates.ExecuteTemplate(w, name, data)
}

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
	waveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
)

// swatch shows a session color, given as 6 hex digits.
func swatch(color string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("#" + color)).Render("●") + " " + color
}

const blocks = "▁▂▃▄▅▆▇█"

// sparkline draws a waveform in width characters, one block per averaged
// group of samples.
func sparkline(wave []float64, width int) string {
	if len(wave) == 0 || width <= 0 {
		return ""
	}
	levels := []rune(blocks)
	width = min(width, len(wave))
	var sb strings.Builder
	for i := 0; i < width; i++ {
		lo, hi := i*len(wave)/width, (i+1)*len(wave)/width
		var sum float64
		for _, v := range wave[lo:hi] {
			sum += v
		}
		avg := sum / float64(hi-lo)
		level := int(math.Round((avg + 1) / 2 * float64(len(levels)-1)))
		level = max(0, min(len(levels)-1, level))
		sb.WriteRune(levels[level])
	}
	return waveStyle.Render(sb.String())
}

func label(s string) string {
	return labelStyle.Render(s)
}
