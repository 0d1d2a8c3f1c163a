package cli

import (
	"fmt"
	"strings"

	"spxopt/internal/models"
)

const (
	chartWidth  = 60
	chartHeight = 12
)

// renderPayoffChart draws the sampled P&L curve as text, with the zero line
// dashed.
func renderPayoffChart(points []models.PayoffPoint) []string {
	if len(points) < 2 {
		return []string{"  Insufficient data for payoff chart"}
	}

	minPnL, maxPnL := points[0].PnL, points[0].PnL
	for _, p := range points {
		if p.PnL < minPnL {
			minPnL = p.PnL
		}
		if p.PnL > maxPnL {
			maxPnL = p.PnL
		}
	}
	if minPnL > 0 {
		minPnL = 0
	}
	if maxPnL < 0 {
		maxPnL = 0
	}
	padding := (maxPnL - minPnL) * 0.05
	if padding == 0 {
		padding = 1
	}
	minPnL -= padding
	maxPnL += padding

	width := chartWidth
	if len(points) < width {
		width = len(points)
	}

	chart := make([][]rune, chartHeight)
	for i := range chart {
		chart[i] = []rune(strings.Repeat(" ", width))
	}
	row := func(v float64) int {
		y := int((v - minPnL) / (maxPnL - minPnL) * float64(chartHeight-1))
		return chartHeight - 1 - y
	}

	zero := row(0)
	for x := 0; x < width; x++ {
		chart[zero][x] = '-'
	}
	for i, p := range points {
		x := i * width / len(points)
		y := row(p.PnL)
		if y >= 0 && y < chartHeight && x >= 0 && x < width {
			chart[y][x] = '*'
		}
	}

	lines := make([]string, 0, chartHeight+2)
	for i := 0; i < chartHeight; i++ {
		label := strings.Repeat(" ", 9)
		switch i {
		case 0:
			label = fmt.Sprintf("%9.2f", maxPnL)
		case zero:
			label = fmt.Sprintf("%9.2f", 0.0)
		case chartHeight - 1:
			label = fmt.Sprintf("%9.2f", minPnL)
		}
		lines = append(lines, fmt.Sprintf("  %s |%s", label, string(chart[i])))
	}
	lines = append(lines, fmt.Sprintf("  %s +%s", strings.Repeat(" ", 9), strings.Repeat("-", width)))

	lo := fmt.Sprintf("%.0f", points[0].Underlying)
	hi := fmt.Sprintf("%.0f", points[len(points)-1].Underlying)
	gap := width - len(lo) - len(hi)
	if gap < 1 {
		gap = 1
	}
	lines = append(lines, fmt.Sprintf("  %s  %s%s%s", strings.Repeat(" ", 9), lo, strings.Repeat(" ", gap), hi))
	return lines
}
