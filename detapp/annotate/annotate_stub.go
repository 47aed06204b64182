//go:build !gocv
// +build !gocv

package annotate

import (
	"errors"

	"github.com/toby4548/faster-R-CNN/detapp/detection"
)

// Highlight gocv tag 없이 빌드된 경우 에러 반환
func Highlight(imageData []byte, objects []detection.Object) ([]byte, error) {
	_ = imageData
	_ = objects
	return nil, errors.New("gocv build tag is not enabled")
}
