package evaluation

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SavePlot 클래스별 precision/recall 곡선을 PNG 파일로 저장
func SavePlot(result *Result, file string) error {
	p := plot.New()
	p.Title.Text = "Precision-Recall"
	p.X.Label.Text = "Recall"
	p.Y.Label.Text = "Precision"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1

	for _, cr := range result.Classes {
		points := make(plotter.XYs, len(cr.Recall))
		for i := range cr.Recall {
			points[i].X = cr.Recall[i]
			points[i].Y = cr.Precision[i]
		}

		line, err := plotter.NewLine(points)
		if err != nil {
			return err
		}

		p.Add(line)
		p.Legend.Add(fmt.Sprintf("%s (AP %.3f)", cr.Class, cr.AP), line)
	}

	return p.Save(6*vg.Inch, 4*vg.Inch, file)
}
