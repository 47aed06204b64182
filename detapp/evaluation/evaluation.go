package evaluation

import (
	"fmt"
	"math"
	"sort"

	"github.com/toby4548/faster-R-CNN/detapp/dataset"
	"github.com/toby4548/faster-R-CNN/detapp/detection"
)

// IoU 두 box의 intersection-over-union 반환
func IoU(a, b dataset.Box) float64 {
	x1 := math.Max(a.X, b.X)
	y1 := math.Max(a.Y, b.Y)
	x2 := math.Min(a.X+a.W, b.X+b.W)
	y2 := math.Min(a.Y+a.H, b.Y+b.H)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	interArea := (x2 - x1) * (y2 - y1)
	unionArea := a.W*a.H + b.W*b.H - interArea

	return interArea / unionArea
}

// ClassResult 단일 클래스의 평가 결과
type ClassResult struct {
	Class     string    `json:"class"`
	AP        float64   `json:"ap"`
	Precision []float64 `json:"precision"`
	Recall    []float64 `json:"recall"`
}

// Result 전체 평가 결과
type Result struct {
	MeanAP    float64       `json:"meanAP"`
	Classes   []ClassResult `json:"classes"`
	NumImages int           `json:"numImages"`
}

// 매칭을 위해 이미지 인덱스를 가지는 검출 결과
type scoredObject struct {
	imageIdx int
	box      dataset.Box
	score    float32
}

// Evaluate 검출 결과 테이블을 ground truth 테이블과 비교하여
// 클래스별 average precision과 precision/recall 곡선을 계산
//
// 검출 결과는 score 내림차순으로 ground truth box와 greedy하게
// 매칭되며, 각 ground truth box는 한 번만 매칭된다. IoU가 임계값
// 이상인 매칭은 true positive, 나머지는 false positive가 된다.
func Evaluate(results []detection.ImageObjects, gt *dataset.GroundTruth, iouTh float64) (*Result, error) {
	if len(results) != len(gt.Rows) {
		return nil, fmt.Errorf(
			"Mismatched result rows: %d results for %d images",
			len(results), len(gt.Rows),
		)
	}
	if iouTh <= 0 || iouTh > 1 {
		return nil, fmt.Errorf("Invalid IoU threshold: %g", iouTh)
	}

	classes := gt.Classes()
	if len(classes) == 0 {
		return nil, fmt.Errorf("Ground truth has no classes")
	}

	result := &Result{NumImages: len(gt.Rows)}

	apSum := 0.0
	for _, class := range classes {
		cr := evaluateClass(results, gt, class, iouTh)
		apSum += cr.AP
		result.Classes = append(result.Classes, cr)
	}
	result.MeanAP = apSum / float64(len(classes))

	return result, nil
}

func evaluateClass(results []detection.ImageObjects, gt *dataset.GroundTruth, class string, iouTh float64) ClassResult {
	// 이미지별 ground truth box와 매칭 여부
	gtBoxes := make([][]dataset.Box, len(gt.Rows))
	matched := make([][]bool, len(gt.Rows))
	nrPositive := 0
	for i, row := range gt.Rows {
		gtBoxes[i] = row.Boxes[class]
		matched[i] = make([]bool, len(gtBoxes[i]))
		nrPositive += len(gtBoxes[i])
	}

	var detections []scoredObject
	for i, r := range results {
		for _, object := range r.Objects {
			if object.Label != class {
				continue
			}
			detections = append(detections, scoredObject{
				imageIdx: i,
				box:      object.Box,
				score:    object.Score,
			})
		}
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].score > detections[j].score
	})

	cr := ClassResult{Class: class}

	tp := 0
	fp := 0
	for _, det := range detections {
		bestIoU := 0.0
		bestIdx := -1
		for j, box := range gtBoxes[det.imageIdx] {
			if matched[det.imageIdx][j] {
				continue
			}
			if iou := IoU(det.box, box); iou > bestIoU {
				bestIoU = iou
				bestIdx = j
			}
		}

		if bestIdx >= 0 && bestIoU >= iouTh {
			matched[det.imageIdx][bestIdx] = true
			tp++
		} else {
			fp++
		}

		cr.Precision = append(cr.Precision, float64(tp)/float64(tp+fp))
		if nrPositive > 0 {
			cr.Recall = append(cr.Recall, float64(tp)/float64(nrPositive))
		} else {
			cr.Recall = append(cr.Recall, 0)
		}
	}

	cr.AP = averagePrecision(cr.Precision, cr.Recall)

	return cr
}

// averagePrecision precision/recall 곡선 아래 면적 계산
//
// precision 곡선을 단조 감소하도록 보정한 뒤 recall 증가 구간마다
// 면적을 더한다.
func averagePrecision(precision, recall []float64) float64 {
	if len(precision) == 0 {
		return 0
	}

	envelope := make([]float64, len(precision))
	maxP := 0.0
	for i := len(precision) - 1; i >= 0; i-- {
		if precision[i] > maxP {
			maxP = precision[i]
		}
		envelope[i] = maxP
	}

	ap := 0.0
	prevRecall := 0.0
	for i := range envelope {
		if recall[i] > prevRecall {
			ap += (recall[i] - prevRecall) * envelope[i]
			prevRecall = recall[i]
		}
	}

	return ap
}
