package detection

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/toby4548/faster-R-CNN/detapp/dataset"
)

func TestToPixelBox(t *testing.T) {
	// 정규화 좌표 [ymin xmin ymax xmax] → 픽셀 좌표 [x y w h]
	box := toPixelBox([]float32{0.25, 0.5, 0.75, 1.0}, 200, 100)

	require.Equal(t, dataset.Box{X: 100, Y: 25, W: 100, H: 50}, box)

	full := toPixelBox([]float32{0, 0, 1, 1}, 640, 480)
	require.Equal(t, dataset.Box{X: 0, Y: 0, W: 640, H: 480}, full)
}

func TestCollectObjects(t *testing.T) {
	boxes := [][]float32{
		{0, 0, 0.5, 0.5},
		{0.5, 0.5, 1, 1},
		{0, 0.5, 0.5, 1},
	}
	scores := []float32{0.4, 0.9, 0.2}
	classes := []float32{1, 2, 1}
	labels := []string{"vehicle", "stopSign"}

	objects, err := collectObjects(boxes, scores, classes, 3, labels, 100, 100, 0.3)
	require.NoError(t, err)
	require.Len(t, objects, 2)

	// score 내림차순으로 정렬된다
	require.True(t, sort.SliceIsSorted(objects, func(i, j int) bool {
		return objects[i].Score > objects[j].Score
	}))

	require.Equal(t, "stopSign", objects[0].Label)
	require.Equal(t, float32(0.9), objects[0].Score)
	require.Equal(t, dataset.Box{X: 50, Y: 50, W: 50, H: 50}, objects[0].Box)

	require.Equal(t, "vehicle", objects[1].Label)
}

func TestCollectObjectsOriginalPixelSpace(t *testing.T) {
	// 정규화 좌표는 모델 입력 크기(예: 32x32)가 아닌 원본 이미지 크기로
	// 변환해야 ground truth box와 비교할 수 있다
	boxes := [][]float32{{0.25, 0.25, 0.75, 0.75}}
	scores := []float32{0.9}
	classes := []float32{1}
	labels := []string{"vehicle"}

	objects, err := collectObjects(boxes, scores, classes, 1, labels, 640, 480, 0.5)
	require.NoError(t, err)
	require.Len(t, objects, 1)

	// 640x480 원본 기준의 픽셀 box
	require.Equal(t, dataset.Box{X: 160, Y: 120, W: 320, H: 240}, objects[0].Box)

	// 모델 입력 크기로 변환하면 전혀 다른 공간의 box가 된다
	resized := toPixelBox(boxes[0], 32, 32)
	require.Equal(t, dataset.Box{X: 8, Y: 8, W: 16, H: 16}, resized)
	require.NotEqual(t, resized, objects[0].Box)
}

func TestCollectObjectsUnknownClass(t *testing.T) {
	boxes := [][]float32{
		{0, 0, 1, 1},
		{0, 0, 1, 1},
	}
	scores := []float32{0.9, 0.8}
	classes := []float32{3, 0}
	labels := []string{"vehicle", "stopSign"}

	// 라벨 범위를 벗어나는 class는 제외된다
	objects, err := collectObjects(boxes, scores, classes, 2, labels, 100, 100, 0.5)
	require.NoError(t, err)
	require.Empty(t, objects)
}

func TestCollectObjectsMismatchedCount(t *testing.T) {
	boxes := [][]float32{{0, 0, 1, 1}}
	scores := []float32{0.9}
	classes := []float32{1}

	_, err := collectObjects(boxes, scores, classes, 2, []string{"vehicle"}, 100, 100, 0.5)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Mismatched detection outputs")
}
