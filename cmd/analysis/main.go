//go:build analysis

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/MikuraDev/Mikura/internal/clientlib"
	"github.com/MikuraDev/Mikura/internal/fhe"
	"github.com/MikuraDev/Mikura/internal/token"
	"github.com/MikuraDev/Mikura/internal/vault"
)

type summaryStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
}

// ------------------------------ stats utilities ------------------------------

func computeStats(x []float64) summaryStats {
	n := len(x)
	if n == 0 {
		return summaryStats{}
	}
	cp := append([]float64(nil), x...)
	sort.Float64s(cp)
	var m float64
	for _, v := range x {
		m += v
	}
	m /= float64(n)
	var m2 float64
	for _, v := range x {
		d := v - m
		m2 += d * d
	}
	std := 0.0
	if n > 1 {
		std = math.Sqrt(m2 / float64(n-1))
	}
	return summaryStats{
		Count:  n,
		Mean:   m,
		Std:    std,
		Min:    cp[0],
		Q1:     quantileSorted(cp, 0.25),
		Median: quantileSorted(cp, 0.5),
		Q3:     quantileSorted(cp, 0.75),
		Max:    cp[n-1],
	}
}

func quantileSorted(sorted []float64, p float64) float64 {
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := p * float64(len(sorted)-1)
	l := int(math.Floor(pos))
	r := int(math.Ceil(pos))
	if l == r {
		return sorted[l]
	}
	w := pos - float64(l)
	return sorted[l]*(1-w) + sorted[r]*w
}

func computeHistogram(values []float64, nbins int) (edges []float64, counts []int) {
	if len(values) == 0 {
		return []float64{0, 1}, []int{0}
	}
	cp := append([]float64(nil), values...)
	sort.Float64s(cp)
	minv, maxv := cp[0], cp[len(cp)-1]
	if nbins < 1 {
		nbins = 1
	}
	width := (maxv - minv) / float64(nbins)
	if width <= 0 {
		width = 1
	}
	edges = make([]float64, nbins+1)
	for i := 0; i <= nbins; i++ {
		edges[i] = minv + float64(i)*width
	}
	counts = make([]int, nbins)
	for _, v := range values {
		idx := int(math.Floor((v - minv) / width))
		if idx < 0 {
			idx = 0
		}
		if idx >= nbins {
			idx = nbins - 1
		}
		counts[idx]++
	}
	return
}

// ------------------------- plotting: go-echarts HTML -------------------------

func toBarItems(vals []int) []opts.BarData {
	out := make([]opts.BarData, len(vals))
	for i, v := range vals {
		out[i] = opts.BarData{Value: v}
	}
	return out
}

func newHistogramChart(title string, values []float64) *charts.Bar {
	stats := computeStats(values)
	nbins := 20
	if len(values) < nbins {
		nbins = len(values)
	}
	edges, counts := computeHistogram(values, nbins)
	xLabels := make([]string, len(counts))
	for i := range counts {
		center := 0.5 * (edges[i] + edges[i+1])
		xLabels[i] = fmt.Sprintf("%.2f", center)
	}
	bar := charts.NewBar()
	subtitle := fmt.Sprintf("n=%d, mean=%.3fms, std=%.3fms, median=%.3fms",
		stats.Count, stats.Mean, stats.Std, stats.Median)
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "600px"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(xLabels).
		AddSeries("count", toBarItems(counts)).
		SetSeriesOptions(charts.WithLabelOpts(opts.Label{Show: opts.Bool(false)}))
	return bar
}

// ------------------------------ JSON and I/O ------------------------------

func saveJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// ------------------------------- main routine -------------------------------

// 对金库流水线做延迟测量：外部输入的构造（加密和签名）、
// 四种变迁（验证、密文域收敛、划转）、披露重加密和密封。
// 结果输出为统计 JSON 和直方图 HTML。
func main() {
	runs := flag.Int("runs", 20, "number of measured rounds")
	amount := flag.Uint64("amount", 10000, "stake amount per round")
	outDir := flag.String("out", "Measure_Reports", "output directory for reports")
	flag.Parse()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("mkdir: %v", err)
	}

	// 搭建一套进程内的引擎、代币账本和金库
	setupStart := time.Now()
	eng := fhe.NewEngine()
	tok, err := token.New(eng)
	if err != nil {
		log.Fatalf("token: %v", err)
	}
	led, err := vault.NewLedger(eng, tok)
	if err != nil {
		log.Fatalf("vault: %v", err)
	}
	acct, err := clientlib.NewAccount("analysis")
	if err != nil {
		log.Fatalf("account: %v", err)
	}
	eng.RegisterPrincipal(acct.Identifier, acct.CKKSPublicKey(), acct.ECDSAPublicKey())
	tok.SetOperator(acct.Identifier, led.ID(), time.Now().Add(time.Hour).Unix())
	if _, err := tok.Mint(acct.Identifier, *amount*uint64(*runs)); err != nil {
		log.Fatalf("mint: %v", err)
	}
	log.Printf("[analysis] setup done in %v", time.Since(setupStart))

	series := map[string][]float64{}
	record := func(name string, d time.Duration) {
		series[name] = append(series[name], float64(d.Microseconds())/1000.0)
	}

	makeInput := func(v uint64) *fhe.ExternalCiphertext {
		start := time.Now()
		ext, err := acct.MakeExternalInput(v, eng.PublicKey())
		if err != nil {
			log.Fatalf("external input: %v", err)
		}
		record("extinput", time.Since(start))
		return ext
	}

	for i := 0; i < *runs; i++ {
		log.Printf("[analysis] round %d/%d", i+1, *runs)

		ext := makeInput(*amount)
		start := time.Now()
		if _, _, err := led.Stake(acct.Identifier, ext); err != nil {
			log.Fatalf("stake: %v", err)
		}
		record("stake", time.Since(start))

		ext = makeInput(*amount / 2)
		start = time.Now()
		if _, _, err := led.Borrow(acct.Identifier, ext); err != nil {
			log.Fatalf("borrow: %v", err)
		}
		record("borrow", time.Since(start))

		ext = makeInput(*amount / 4)
		start = time.Now()
		if _, _, err := led.Repay(acct.Identifier, ext); err != nil {
			log.Fatalf("repay: %v", err)
		}
		record("repay", time.Since(start))

		ext = makeInput(*amount / 4)
		start = time.Now()
		if _, _, err := led.Withdraw(acct.Identifier, ext); err != nil {
			log.Fatalf("withdraw: %v", err)
		}
		record("withdraw", time.Since(start))

		staked := led.StakedBalance(acct.Identifier)
		start = time.Now()
		if _, err := eng.Reveal(staked, acct.Identifier); err != nil {
			log.Fatalf("reveal: %v", err)
		}
		record("reveal", time.Since(start))

		start = time.Now()
		if _, err := eng.Seal(staked); err != nil {
			log.Fatalf("seal: %v", err)
		}
		record("seal", time.Since(start))
	}

	// 统计与出图
	outStats := map[string]summaryStats{}
	for name, vals := range series {
		outStats[name] = computeStats(vals)
	}

	ts := time.Now().Format("20060102_150405")
	jsonPath := filepath.Join(*outDir, fmt.Sprintf("latency_stats_%s.json", ts))
	if err := saveJSON(jsonPath, outStats); err != nil {
		log.Printf("warn: save stats: %v", err)
	}

	page := components.NewPage()
	for _, name := range []string{"extinput", "stake", "borrow", "repay", "withdraw", "reveal", "seal"} {
		if vals := series[name]; len(vals) > 0 {
			page.AddCharts(newHistogramChart(name+" latency (ms)", vals))
		}
	}

	htmlPath := filepath.Join(*outDir, fmt.Sprintf("latency_histograms_%s.html", ts))
	f, err := os.Create(htmlPath)
	if err != nil {
		log.Fatalf("create html: %v", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		log.Fatalf("render html: %v", err)
	}
	fmt.Println("Histogram page:", htmlPath)
	fmt.Println("Stats JSON:", jsonPath)
}
