package evaluation

import (
	"math"
	"path"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/toby4548/faster-R-CNN/detapp/dataset"
	"github.com/toby4548/faster-R-CNN/detapp/detection"
)

func TestIoU(t *testing.T) {
	a := dataset.Box{X: 0, Y: 0, W: 10, H: 10}

	require.Equal(t, 1.0, IoU(a, a))
	require.Equal(t, 0.0, IoU(a, dataset.Box{X: 20, Y: 20, W: 10, H: 10}))

	// 인접하지만 겹치지 않는 box
	require.Equal(t, 0.0, IoU(a, dataset.Box{X: 10, Y: 0, W: 10, H: 10}))

	// 절반이 겹치는 box: 교집합 50, 합집합 150
	b := dataset.Box{X: 5, Y: 0, W: 10, H: 10}
	require.InDelta(t, 1.0/3.0, IoU(a, b), 1e-9)
}

func testGroundTruth() *dataset.GroundTruth {
	return &dataset.GroundTruth{
		Rows: []dataset.Row{
			{
				Image: "images/001.jpg",
				Boxes: map[string][]dataset.Box{
					"vehicle": {
						{X: 0, Y: 0, W: 10, H: 10},
						{X: 20, Y: 20, W: 10, H: 10},
					},
				},
			},
			{
				Image: "images/002.jpg",
				Boxes: map[string][]dataset.Box{
					"vehicle": {{X: 5, Y: 5, W: 10, H: 10}},
				},
			},
		},
	}
}

func testResults() []detection.ImageObjects {
	return []detection.ImageObjects{
		{
			Image: "images/001.jpg",
			Objects: []detection.Object{
				{Box: dataset.Box{X: 0, Y: 0, W: 10, H: 10}, Score: 0.9, Label: "vehicle"},
				{Box: dataset.Box{X: 50, Y: 50, W: 10, H: 10}, Score: 0.8, Label: "vehicle"},
			},
		},
		{
			Image: "images/002.jpg",
			Objects: []detection.Object{
				{Box: dataset.Box{X: 5, Y: 5, W: 10, H: 10}, Score: 0.7, Label: "vehicle"},
			},
		},
	}
}

func TestEvaluate(t *testing.T) {
	result, err := Evaluate(testResults(), testGroundTruth(), 0.5)
	require.NoError(t, err)

	require.Equal(t, 2, result.NumImages)
	require.Len(t, result.Classes, 1)

	cr := result.Classes[0]
	require.Equal(t, "vehicle", cr.Class)

	// 검출 순서: TP(0.9), FP(0.8), TP(0.7)
	require.Equal(t, []float64{1, 0.5, 2.0 / 3.0}, cr.Precision)
	require.Equal(t, []float64{1.0 / 3.0, 1.0 / 3.0, 2.0 / 3.0}, cr.Recall)

	// AP = 1/3 * 1 + 1/3 * 2/3 = 5/9
	require.InDelta(t, 5.0/9.0, cr.AP, 1e-9)
	require.InDelta(t, 5.0/9.0, result.MeanAP, 1e-9)
}

func TestEvaluateMeanAP(t *testing.T) {
	gt := testGroundTruth()
	gt.Rows[1].Boxes["stopSign"] = []dataset.Box{{X: 40, Y: 40, W: 8, H: 8}}

	results := testResults()
	results[1].Objects = append(results[1].Objects, detection.Object{
		Box:   dataset.Box{X: 40, Y: 40, W: 8, H: 8},
		Score: 0.95,
		Label: "stopSign",
	})

	result, err := Evaluate(results, gt, 0.5)
	require.NoError(t, err)
	require.Len(t, result.Classes, 2)

	// 클래스는 정렬된 순서로 보고된다
	require.Equal(t, "stopSign", result.Classes[0].Class)
	require.Equal(t, 1.0, result.Classes[0].AP)

	require.InDelta(t, (1.0+5.0/9.0)/2, result.MeanAP, 1e-9)
}

func TestEvaluateGreedyMatching(t *testing.T) {
	// 같은 ground truth box에 두 검출이 매칭되는 경우,
	// 높은 score의 검출만 TP가 된다
	gt := &dataset.GroundTruth{
		Rows: []dataset.Row{
			{
				Image: "images/001.jpg",
				Boxes: map[string][]dataset.Box{
					"vehicle": {{X: 0, Y: 0, W: 10, H: 10}},
				},
			},
		},
	}

	results := []detection.ImageObjects{
		{
			Image: "images/001.jpg",
			Objects: []detection.Object{
				{Box: dataset.Box{X: 0, Y: 0, W: 10, H: 10}, Score: 0.9, Label: "vehicle"},
				{Box: dataset.Box{X: 1, Y: 1, W: 10, H: 10}, Score: 0.8, Label: "vehicle"},
			},
		},
	}

	result, err := Evaluate(results, gt, 0.5)
	require.NoError(t, err)

	cr := result.Classes[0]
	require.Equal(t, []float64{1, 0.5}, cr.Precision)
	require.Equal(t, []float64{1, 1}, cr.Recall)
	require.Equal(t, 1.0, cr.AP)
}

func TestEvaluateErrors(t *testing.T) {
	gt := testGroundTruth()

	_, err := Evaluate(testResults()[:1], gt, 0.5)
	require.Error(t, err)

	_, err = Evaluate(testResults(), gt, 0)
	require.Error(t, err)

	_, err = Evaluate(testResults(), gt, 1.5)
	require.Error(t, err)

	empty := &dataset.GroundTruth{Rows: []dataset.Row{{Image: "images/001.jpg"}}}
	_, err = Evaluate([]detection.ImageObjects{{Image: "images/001.jpg"}}, empty, 0.5)
	require.Error(t, err)
}

func TestAveragePrecisionEnvelope(t *testing.T) {
	// precision이 다시 올라가는 경우 envelope가 적용된다
	precision := []float64{1, 0.5, 2.0 / 3.0}
	recall := []float64{0.25, 0.25, 0.5}

	ap := averagePrecision(precision, recall)
	require.InDelta(t, 0.25*1+0.25*(2.0/3.0), ap, 1e-9)

	require.Equal(t, 0.0, averagePrecision(nil, nil))
}

func TestSavePlot(t *testing.T) {
	result, err := Evaluate(testResults(), testGroundTruth(), 0.5)
	require.NoError(t, err)

	file := path.Join(t.TempDir(), "pr.png")
	require.NoError(t, SavePlot(result, file))
}

func TestIoUNotNaN(t *testing.T) {
	a := dataset.Box{X: 0, Y: 0, W: 10, H: 10}
	b := dataset.Box{X: 0, Y: 0, W: 10, H: 10}
	require.False(t, math.IsNaN(IoU(a, b)))
}
