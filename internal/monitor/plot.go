package monitor

import (
	"fmt"
	"image/color"
	"io"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/omnilaser/internal/fusion"
)

// ScanPlot builds a top-down plot of scan in metres.
func ScanPlot(scan *fusion.Scan) (*plot.Plot, error) {
	pts := make(plotter.XYs, scan.Len())
	for i := range pts {
		b := scan.At(i)
		pts[i].X, pts[i].Y = binXY(b.Angle, b.DistanceMM)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Fused scan %d", scan.Seq())
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	sc.GlyphStyle.Color = color.RGBA{R: 31, G: 158, B: 137, A: 255}
	sc.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(sc)

	origin, err := plotter.NewScatter(plotter.XYs{{X: 0, Y: 0}})
	if err != nil {
		return nil, err
	}
	origin.GlyphStyle.Color = color.RGBA{R: 220, G: 50, B: 47, A: 255}
	origin.GlyphStyle.Radius = vg.Points(3)
	p.Add(origin)
	return p, nil
}

// WriteScanPNG renders scan as a 6x6 inch PNG.
func WriteScanPNG(w io.Writer, scan *fusion.Scan) error {
	p, err := ScanPlot(scan)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveScanPNG writes scan to path.
func SaveScanPNG(scan *fusion.Scan, path string) error {
	p, err := ScanPlot(scan)
	if err != nil {
		return err
	}
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save scan plot: %w", err)
	}
	return nil
}

func (ws *WebServer) handleScanPNG(w http.ResponseWriter, r *http.Request) {
	if !ws.requireMethod(w, r, http.MethodGet) {
		return
	}
	scan := ws.loop.LatestScan()
	if scan == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no scan fused yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := WriteScanPNG(w, scan); err != nil {
		ws.logf("scan png: %v", err)
	}
}
