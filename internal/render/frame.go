// Package render draws the activity graph onto a raster surface and drives
// the frame loop that keeps the latest frame available to viewers.
package render

import (
	"fmt"
	"hash/fnv"
	"image/color"
	"math"
	"time"

	"github.com/lazypower/heatmap/internal/graph"
)

const gridSpacing = 40

var (
	colorBackground = color.RGBA{8, 10, 15, 255}
	colorGrid       = color.RGBA{30, 35, 45, 255}
	colorText       = color.RGBA{220, 225, 235, 255}
	colorSelected   = color.RGBA{255, 255, 255, 255}

	colorToken = color.RGBA{0, 191, 255, 255}
	colorValue = color.RGBA{255, 176, 0, 255}

	categoryColors = map[graph.Category]color.RGBA{
		graph.CategoryMint:     {0, 230, 118, 255},
		graph.CategoryTransfer: {0, 191, 255, 255},
		graph.CategoryRedeem:   {255, 82, 82, 255},
		graph.CategoryMessage:  {218, 112, 214, 255},
		graph.CategoryOther:    {160, 170, 185, 255},
	}
)

// CategoryColor returns the fill color for a category.
func CategoryColor(c graph.Category) color.RGBA {
	if col, ok := categoryColors[c]; ok {
		return col
	}
	return categoryColors[graph.CategoryOther]
}

// Options tune what a frame shows.
type Options struct {
	ConnectionTTL           time.Duration
	HighIntensityThreshold  float64
	LabelMagnitudeThreshold float64
}

// DefaultOptions matches the engine defaults.
func DefaultOptions() Options {
	return Options{
		ConnectionTTL:           30 * time.Second,
		HighIntensityThreshold:  80,
		LabelMagnitudeThreshold: 100,
	}
}

// Frame is everything one draw needs.
type Frame struct {
	Snapshot graph.Snapshot
	Now      time.Time
	Selected string
	Paused   bool
}

// Draw renders f onto s in layer order: background, grid, connections,
// nodes, pulses and the overlay.
func Draw(s Surface, f Frame, opts Options) {
	w, h := s.Size()
	s.Clear(colorBackground)
	drawGrid(s, w, h)

	nodes := make(map[string]graph.Node, len(f.Snapshot.Nodes))
	for _, n := range f.Snapshot.Nodes {
		nodes[n.ID] = n
	}

	// Store order is oldest first, so newer connections paint on top.
	for _, c := range f.Snapshot.Connections {
		from, ok1 := nodes[c.FromID]
		to, ok2 := nodes[c.ToID]
		if !ok1 || !ok2 {
			continue
		}
		alpha := c.Opacity(f.Now, opts.ConnectionTTL)
		if alpha <= 0 {
			continue
		}
		col := colorToken
		if c.Kind == graph.KindValue {
			col = colorValue
		}
		s.Line(from.X, from.Y, to.X, to.Y, math.Max(c.Weight, 1), col, alpha*0.6)
	}

	for _, n := range f.Snapshot.Nodes {
		drawNode(s, n, n.ID == f.Selected, opts)
	}

	for _, n := range f.Snapshot.Nodes {
		if n.Intensity > opts.HighIntensityThreshold {
			drawPulse(s, n, f.Now, opts)
		}
	}

	drawOverlay(s, f)
}

func drawGrid(s Surface, w, h int) {
	for x := gridSpacing; x < w; x += gridSpacing {
		s.Line(float64(x), 0, float64(x), float64(h-1), 1, colorGrid, 0.5)
	}
	for y := gridSpacing; y < h; y += gridSpacing {
		s.Line(0, float64(y), float64(w-1), float64(y), 1, colorGrid, 0.5)
	}
}

// NodeRadius grows with the log of magnitude so a whale does not swallow the
// surface.
func NodeRadius(magnitude float64) float64 {
	return math.Min(3+math.Log1p(math.Max(magnitude, 0))*2.2, 18)
}

func drawNode(s Surface, n graph.Node, selected bool, opts Options) {
	col := CategoryColor(n.Category)
	r := NodeRadius(n.Magnitude)
	alpha := n.Intensity / graph.MaxIntensity

	// Soft glow.
	s.FillCircle(n.X, n.Y, r*2.2, col, alpha*0.08)
	s.FillCircle(n.X, n.Y, r*1.5, col, alpha*0.18)
	s.FillCircle(n.X, n.Y, r, col, alpha)

	if selected {
		s.StrokeCircle(n.X, n.Y, r+4, 1.5, colorSelected, 0.9)
	}
	if n.Magnitude > opts.LabelMagnitudeThreshold {
		s.Text(n.X+r+3, n.Y+4, FormatMagnitude(n.Magnitude), colorText, math.Max(alpha, 0.4))
	}
}

func drawPulse(s Surface, n graph.Node, now time.Time, opts Options) {
	span := graph.MaxIntensity - opts.HighIntensityThreshold
	if span <= 0 {
		return
	}
	strength := (n.Intensity - opts.HighIntensityThreshold) / span
	// Per-node phase offset keeps simultaneous arrivals from pulsing in lockstep.
	phase := float64(idHash(n.ID)%1000) / 1000 * 2 * math.Pi
	t := float64(now.UnixNano()) / float64(time.Second)
	osc := math.Sin(t*2*math.Pi*1.2 + phase)

	r := NodeRadius(n.Magnitude)
	ring := r + 6 + 4*osc
	s.StrokeCircle(n.X, n.Y, ring, 2, CategoryColor(n.Category), strength*(0.45+0.25*osc))
}

func drawOverlay(s Surface, f Frame) {
	st := graph.ComputeStats(f.Snapshot)
	line := fmt.Sprintf("nodes %d  links %d  active %d  peak %.0f", st.NodeCount, st.ConnectionCount, st.ActiveNodes, st.PeakActivity)
	s.Text(8, 16, line, colorText, 0.85)
	if f.Paused {
		w, _ := s.Size()
		s.Text(float64(w-60), 16, "PAUSED", colorValue, 1)
	}
}

// FormatMagnitude renders a magnitude compactly: 950, 1.2k, 3.4M.
func FormatMagnitude(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fk", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}

func idHash(id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	return h.Sum32()
}
