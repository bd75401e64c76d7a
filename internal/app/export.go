package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"finmonitor/internal/history"
)

// Export renders one stored price series as CSV and/or PNG.
func (a *App) Export(opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store := history.NewStore(a.Config.History.MaxLength, a.Logger)
	store.Load(a.Config.History.SnapshotPath)

	series := store.Series(opts.Asset)
	if len(series) == 0 {
		a.Logger.Info().Str("asset", opts.Asset).Msg("该资产暂无历史数据")
		return nil
	}

	downsampled := downsampleEntries(series, opts.MaxPoints)
	a.Logger.Info().
		Str("asset", opts.Asset).
		Int("total", len(series)).
		Int("exported", len(downsampled)).
		Msg("导出历史数据")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, opts.Asset, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeSeriesPNG(opts.PNGPath, opts.Asset, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func downsampleEntries(series []history.Entry, max int) []history.Entry {
	if max <= 0 || len(series) <= max {
		return series
	}

	result := make([]history.Entry, 0, max)
	step := float64(len(series)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(series) {
			idx = len(series) - 1
		}
		result = append(result, series[idx])
	}
	return result
}

func writeSeriesCSV(path, asset string, series []history.Entry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	valueColumn := "price"
	if asset != history.AssetGold && asset != history.AssetSilver {
		valueColumn = "estimated_value"
	}
	if err := writer.Write([]string{"timestamp", valueColumn, "change_percent"}); err != nil {
		return err
	}

	for _, entry := range series {
		record := []string{
			entry.Timestamp.Format(time.RFC3339),
			fmt.Sprintf("%.4f", entry.Value),
			fmt.Sprintf("%.2f", entry.ChangePercent),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writeSeriesPNG(path, asset string, series []history.Entry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(series))
	values := make([]float64, len(series))
	changes := make([]float64, len(series))
	for i, entry := range series {
		x[i] = entry.Timestamp
		values[i] = entry.Value
		changes[i] = entry.ChangePercent
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	yName := "Price (CNY/g)"
	if asset != history.AssetGold && asset != history.AssetSilver {
		yName = "Estimated NAV"
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           yName,
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Change (%)",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    asset,
				XValues: x,
				YValues: values,
			},
			chart.TimeSeries{
				Name:    "Change %",
				XValues: x,
				YValues: changes,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
