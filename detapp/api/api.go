package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/toby4548/faster-R-CNN/detapp/annotate"
	"github.com/toby4548/faster-R-CNN/detapp/constants"
	"github.com/toby4548/faster-R-CNN/detapp/dataset"
	"github.com/toby4548/faster-R-CNN/detapp/detection"
	"github.com/toby4548/faster-R-CNN/detapp/evaluation"
)

// APIs api 핸들러
type APIs struct {
	D *detection.Detection
	M *dataset.Manager
}

// ListDetectors 검출 모델 목록 반환
func (a *APIs) ListDetectors(c *gin.Context) {
	detectors := a.D.GetDetectors()
	c.JSON(http.StatusOK, gin.H{
		"detectors": detectors,
	})
}

// ShowDetector 검출 모델 정보 반환
func (a *APIs) ShowDetector(c *gin.Context) {
	detector := c.Param("detector")
	_, verbose := c.GetQuery("verbose")

	if info := a.D.GetDetector(detector, verbose); info != nil {
		c.JSON(http.StatusOK, info)
	} else {
		Error(c, http.StatusBadRequest, fmt.Errorf("Cannot find detector info: %s", detector))
	}
}

// CreateDetector 데이터셋의 training 분할로 검출 모델 학습 시작
func (a *APIs) CreateDetector(c *gin.Context) {
	detector := c.Param("detector")
	if detector == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty detector name"))
		return
	}

	name := c.Query("dataset")
	if name == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty `dataset`"))
		return
	}

	desc := c.Query("desc")
	_, trial := c.GetQuery("trial")
	epochs := c.Query("epochs")
	nrEpochs, err := strconv.Atoi(epochs)
	if err != nil {
		nrEpochs = constants.StageEpochs
	}

	gt, err := dataset.Load(dataset.AnnotationsFile(name))
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}

	if err := a.M.ResolveImages(name, gt); err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}

	// 평가와 같은 seed를 사용해야 training/test 분할이 일치한다
	applySeed(c, gt)

	fraction := splitFraction(c)
	train, _, err := gt.Split(fraction)
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}

	imagePath := path.Join(constants.ImagesPath, name)
	if res, err := a.D.CreateDetector(detector, desc, train, imagePath, nrEpochs, trial); err != nil {
		Error(c, http.StatusInternalServerError, err)
	} else {
		c.JSON(http.StatusOK, res)
	}
}

// OperateRequest 학습 완료 후 trainer가 보내는 등록 요청
type OperateRequest struct {
	ModelPath string `json:"modelPath" binding:"required"`
}

// OperateDetector 생성 된 검출 모델 로드
func (a *APIs) OperateDetector(c *gin.Context) {
	detector := c.Param("detector")
	if detector == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty detector name"))
		return
	}

	var req OperateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}

	if err := a.D.OperateDetector(detector, req.ModelPath); err != nil {
		Error(c, http.StatusInternalServerError, err)
	} else {
		c.String(http.StatusOK, "OK")
	}
}

// DeleteDetector 검출 모델 삭제
func (a *APIs) DeleteDetector(c *gin.Context) {
	detector := c.Param("detector")
	if detector == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty detector name"))
		return
	}

	if err := a.D.DeleteDetector(detector); err != nil {
		Error(c, http.StatusInternalServerError, err)
	} else {
		c.String(http.StatusOK, "OK")
	}
}

// DetectDefault 기본 검출 모델을 이용한 검출
func (a *APIs) DetectDefault(c *gin.Context) {
	a.detect(c, constants.DefaultDetectorName)
}

// DetectWithDetector 검출 모델을 이용한 검출
func (a *APIs) DetectWithDetector(c *gin.Context) {
	detector := c.Param("detector")
	a.detect(c, detector)
}

func (a *APIs) detect(c *gin.Context, detector string) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	var image bytes.Buffer
	n, err := io.Copy(&image, file)
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}

	format := imageFormat(header.Filename)
	scoreTh := scoreThreshold(c)

	t0 := time.Now()
	objects, err := a.D.Detect(detector, image.String(), format, scoreTh)
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}
	elapsed := time.Since(t0)

	if _, ok := c.GetQuery("annotate"); ok {
		highlighted, err := annotate.Highlight(image.Bytes(), objects)
		if err != nil {
			Error(c, http.StatusInternalServerError, err)
			return
		}

		c.Data(http.StatusOK, "image/jpeg", highlighted)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"file":        header.Filename,
		"format":      format,
		"bytes":       n,
		"detections":  objects,
		"elapsed(ms)": elapsed.Milliseconds(),
	})
}

// EvaluateDetector 데이터셋의 test 분할로 검출 모델 평가
//
// 데이터셋을 training/test로 분할하고, test 분할의 모든 이미지에
// 검출을 수행한 뒤 클래스별 average precision을 계산한다.
func (a *APIs) EvaluateDetector(c *gin.Context) {
	detector := c.Param("detector")
	name := c.Query("dataset")
	if name == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty `dataset`"))
		return
	}

	gt, err := dataset.Load(dataset.AnnotationsFile(name))
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}

	if err := a.M.ResolveImages(name, gt); err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}

	applySeed(c, gt)

	fraction := splitFraction(c)
	train, test, err := gt.Split(fraction)
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}

	iouTh := constants.DefaultIoUThreshold
	if iou := c.Query("iou"); iou != "" {
		if v, err := strconv.ParseFloat(iou, 64); err == nil {
			iouTh = v
		}
	}

	t0 := time.Now()
	results, err := a.D.DetectAll(detector, test, scoreThreshold(c))
	if err != nil {
		Error(c, http.StatusInternalServerError, err)
		return
	}

	result, err := evaluation.Evaluate(results, test, iouTh)
	if err != nil {
		Error(c, http.StatusInternalServerError, err)
		return
	}
	elapsed := time.Since(t0)

	response := gin.H{
		"detector":    detector,
		"dataset":     name,
		"trainImages": len(train.Rows),
		"testImages":  len(test.Rows),
		"result":      result,
		"elapsed(ms)": elapsed.Milliseconds(),
	}

	if _, ok := c.GetQuery("plot"); ok {
		plotFile := path.Join(constants.PlotsPath,
			fmt.Sprintf("%s-%s.png", detector, uuid.New().String()[:8]))
		if err := evaluation.SavePlot(result, plotFile); err != nil {
			Error(c, http.StatusInternalServerError, err)
			return
		}
		response["plot"] = plotFile
	}

	c.JSON(http.StatusOK, response)
}

// UploadImages 데이터셋 이미지와 annotation 업로드
func (a *APIs) UploadImages(c *gin.Context) {
	name := c.Query("dataset")
	if name == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty `dataset`"))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}
	images := form.File["images[]"]
	_, verbose := c.GetQuery("verbose")

	var gt *dataset.GroundTruth
	if files := form.File["annotations"]; len(files) > 0 {
		if gt, err = a.M.SaveAnnotations(name, files[0], c.SaveUploadedFile); err != nil {
			Error(c, http.StatusBadRequest, err)
			return
		}
	}

	if result, err := a.M.SaveImages(name, gt, images, c.SaveUploadedFile, verbose); err != nil {
		Error(c, http.StatusBadRequest, err)
	} else {
		c.JSON(http.StatusOK, result)
	}
}

// DeleteImages 데이터셋 이미지 삭제
func (a *APIs) DeleteImages(c *gin.Context) {
	name := c.Query("dataset")
	fileName := c.Query("filename")
	orgFileName := c.Query("orgfilename")
	_, verbose := c.GetQuery("verbose")

	if result, err := a.M.DeleteImages(name, fileName, orgFileName, verbose); err != nil {
		Error(c, http.StatusInternalServerError, err)
	} else {
		c.JSON(http.StatusOK, result)
	}
}

// ListImages 데이터셋 이미지 목록 반환
func (a *APIs) ListImages(c *gin.Context) {
	name := c.Query("dataset")

	if result, err := a.M.ListImages(name); err != nil {
		Error(c, http.StatusBadRequest, err)
	} else {
		c.JSON(http.StatusOK, result)
	}
}

// applySeed `seed` query가 주어지면 테이블 행 순서를 섞음
//
// training과 평가가 같은 seed를 받으면 같은 분할을 보게 된다.
func applySeed(c *gin.Context, gt *dataset.GroundTruth) {
	if seed := c.Query("seed"); seed != "" {
		if s, err := strconv.ParseInt(seed, 10, 64); err == nil {
			gt.Shuffle(s)
		}
	}
}

// imageFormat 파일명의 확장자로부터 이미지 포맷 반환
func imageFormat(filename string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
}

func splitFraction(c *gin.Context) float64 {
	if fraction := c.Query("fraction"); fraction != "" {
		if f, err := strconv.ParseFloat(fraction, 64); err == nil {
			return f
		}
	}

	return constants.DefaultSplitFraction
}

func scoreThreshold(c *gin.Context) float32 {
	if score := c.Query("score"); score != "" {
		if s, err := strconv.ParseFloat(score, 32); err == nil {
			return float32(s)
		}
	}

	return constants.DefaultScoreThreshold
}

// HTTPError api 에러 메시지
type HTTPError struct {
	Error string `json:"error"`
}

// Error api 에러를 담은 json 응답 생성
func Error(c *gin.Context, status int, err error) {
	c.JSON(status, HTTPError{
		Error: err.Error(),
	})
}
