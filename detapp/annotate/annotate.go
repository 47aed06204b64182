//go:build gocv
// +build gocv

package annotate

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"gocv.io/x/gocv"

	"github.com/toby4548/faster-R-CNN/detapp/detection"
)

// Highlight 검출된 객체 위에 box와 라벨을 그려 새 이미지를 반환
func Highlight(imageData []byte, objects []detection.Object) ([]byte, error) {
	mat, err := gocv.IMDecode(imageData, gocv.IMReadColor)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, errors.New("empty image")
	}

	yellow := color.RGBA{R: 255, G: 255, A: 255}
	for _, object := range objects {
		rect := image.Rect(
			int(object.Box.X),
			int(object.Box.Y),
			int(object.Box.X+object.Box.W),
			int(object.Box.Y+object.Box.H),
		)
		gocv.Rectangle(&mat, rect, yellow, 2)

		caption := fmt.Sprintf("%s: %.2f", object.Label, object.Score)
		origin := image.Pt(rect.Min.X, rect.Min.Y-4)
		gocv.PutText(&mat, caption, origin, gocv.FontHersheySimplex, 0.5, yellow, 1)
	}

	img, err := mat.ToImage()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
