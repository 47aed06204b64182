package api

import (
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/toby4548/faster-R-CNN/detapp/dataset"
)

func testContext(query string) *gin.Context {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/?"+query, nil)

	return c
}

func testGroundTruth(n int) *dataset.GroundTruth {
	gt := &dataset.GroundTruth{}
	for i := 0; i < n; i++ {
		gt.Rows = append(gt.Rows, dataset.Row{
			Image: fmt.Sprintf("%03d.jpg", i),
			Boxes: map[string][]dataset.Box{
				"vehicle": {{X: 10, Y: 10, W: 20, H: 16}},
			},
		})
	}

	return gt
}

func TestApplySeed(t *testing.T) {
	// 같은 seed를 받은 학습과 평가는 같은 분할을 보게 된다
	trainSide := testGroundTruth(10)
	evalSide := testGroundTruth(10)

	applySeed(testContext("seed=42"), trainSide)
	applySeed(testContext("seed=42"), evalSide)
	require.Equal(t, trainSide.Rows, evalSide.Rows)

	train1, _, err := trainSide.Split(0.6)
	require.NoError(t, err)
	train2, _, err := evalSide.Split(0.6)
	require.NoError(t, err)
	require.Equal(t, train1.Rows, train2.Rows)
}

func TestApplySeedAbsent(t *testing.T) {
	gt := testGroundTruth(10)
	org := testGroundTruth(10)

	// seed가 없거나 숫자가 아니면 순서는 유지된다
	applySeed(testContext(""), gt)
	require.Equal(t, org.Rows, gt.Rows)

	applySeed(testContext("seed=abc"), gt)
	require.Equal(t, org.Rows, gt.Rows)
}

func TestImageFormat(t *testing.T) {
	require.Equal(t, "jpg", imageFormat("cars.jpg"))
	require.Equal(t, "jpeg", imageFormat("IMG_001.JPEG"))
	// 마지막 확장자를 사용한다
	require.Equal(t, "png", imageFormat("stop.sign.png"))
	// 확장자가 없어도 panic 없이 빈 포맷을 반환한다
	require.Equal(t, "", imageFormat("image"))
}

func TestSplitFraction(t *testing.T) {
	require.Equal(t, 0.8, splitFraction(testContext("fraction=0.8")))
	require.Equal(t, 0.6, splitFraction(testContext("")))
	require.Equal(t, 0.6, splitFraction(testContext("fraction=abc")))
}

func TestScoreThreshold(t *testing.T) {
	require.Equal(t, float32(0.7), scoreThreshold(testContext("score=0.7")))
	require.Equal(t, float32(0.5), scoreThreshold(testContext("")))
}
