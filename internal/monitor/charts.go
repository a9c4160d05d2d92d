package monitor

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleScanChart renders the latest scan as an XY scatter in the robot
// frame, metres. Bins sitting exactly at the fallback distance are drawn
// in a separate series.
func (ws *WebServer) handleScanChart(w http.ResponseWriter, r *http.Request) {
	if !ws.requireMethod(w, r, http.MethodGet) {
		return
	}
	scan := ws.loop.LatestScan()
	if scan == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no scan fused yet")
		return
	}
	fallback := ws.loop.ScanInfo().FallbackMM

	var hits, fills []opts.ScatterData
	maxAbs := 0.0
	for _, b := range scan.Bins() {
		x, y := binXY(b.Angle, b.DistanceMM)
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(x), math.Abs(y)))
		point := opts.ScatterData{Value: []interface{}{x, y}}
		if b.DistanceMM == fallback {
			fills = append(fills, point)
		} else {
			hits = append(hits, point)
		}
	}
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Omni laser", Theme: "dark", Width: "800px", Height: "800px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Fused scan", Subtitle: fmt.Sprintf("seq=%d bins=%d", scan.Seq(), scan.Len())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("range", hits, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	scatter.AddSeries("fallback", fills, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTickChart renders recent tick durations against the period.
func (ws *WebServer) handleTickChart(w http.ResponseWriter, r *http.Request) {
	if !ws.requireMethod(w, r, http.MethodGet) {
		return
	}
	if ws.stats == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no tick stats available")
		return
	}
	recent := ws.stats.Recent()
	x := make([]string, len(recent))
	y := make([]opts.LineData, len(recent))
	for i, p := range recent {
		x[i] = fmt.Sprintf("%d", p.Seq)
		y[i] = opts.LineData{Value: float64(p.Duration.Microseconds()) / 1000}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Tick duration", Subtitle: fmt.Sprintf("last %d ticks", len(recent))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	line.SetXAxis(x).AddSeries("duration", y)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// binXY places a bin in the robot frame: angle is measured from +y
// towards +x.
func binXY(angle float64, mm int32) (x, y float64) {
	d := float64(mm) / 1000
	s, c := math.Sincos(angle)
	return d * s, d * c
}
