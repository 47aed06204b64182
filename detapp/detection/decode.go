package detection

import (
	"fmt"
	"sort"

	tf "github.com/tensorflow/tensorflow/tensorflow/go"
	"github.com/tensorflow/tensorflow/tensorflow/go/op"
	"github.com/toby4548/faster-R-CNN/detapp/dataset"
)

// 이미지 타입의 디코더
//
// dims는 크기 조정 전의 원본 이미지 크기 [height width channels]로,
// 정규화 box 좌표를 원본 픽셀 좌표로 변환할 때 사용한다.
type imageDecode struct {
	graph   *tf.Graph
	session *tf.Session
	input   tf.Output
	output  tf.Output
	dims    tf.Output
}

func (m *dModel) getImageDecoder(format string) (imageDecode, error) {
	var (
		decoder imageDecode
		decode  tf.Output
		session *tf.Session
		graph   *tf.Graph
		ok      bool
		err     error
	)

	// 생성 된 디코더는 공용으로 사용되기 때문에,
	// 최초 생성시 lock을 잡도록 하고 이 후 사용할땐 lock 없이 접근
	decoder, ok = m.imageDecoder[format]
	if ok {
		return decoder, nil
	}

	m.idMutex.Lock()
	defer m.idMutex.Unlock()

	decoder, ok = m.imageDecoder[format]
	if ok {
		return decoder, nil
	}

	scope := op.NewScope()
	input := op.Placeholder(scope, tf.String)

	if format == "jpg" || format == "jpeg" {
		decode = op.DecodeJpeg(scope, input, op.DecodeJpegChannels(3))
	} else if format == "png" {
		decode = op.DecodePng(scope, input, op.DecodePngChannels(3))
	} else {
		return decoder, fmt.Errorf("Unsupported image format: %s", format)
	}

	// 검출 graph의 입력은 [1, height, width, 3] 형태의 uint8 배치
	output := op.ExpandDims(scope, decode, op.Const(scope.SubScope("batch"), int32(0)))

	// 크기 조정과 무관하게 원본 이미지 크기를 함께 가져옴
	dims := op.Shape(scope.SubScope("dims"), decode)

	// 고정 입력 크기를 가지는 모델은 크기 조정 후 uint8로 되돌림
	if len(m.inputShape) >= 2 {
		resized := op.ResizeBilinear(scope,
			op.Cast(scope, output, tf.Float),
			op.Const(scope.SubScope("resize"), m.inputShape[:2]))
		output = op.Cast(scope.SubScope("uint8"), resized, tf.Uint8)
	}

	if graph, err = scope.Finalize(); err != nil {
		return decoder, err
	}

	if session, err = tf.NewSession(graph, nil); err != nil {
		return decoder, err
	}

	decoder = imageDecode{
		graph:   graph,
		input:   input,
		output:  output,
		dims:    dims,
		session: session,
	}
	m.imageDecoder[format] = decoder

	return decoder, nil
}

// decodeInputImage 이미지 데이터를 입력 tensor로 변환하고
// 원본 이미지의 height, width를 함께 반환
func (m *dModel) decodeInputImage(image, format string) (*tf.Tensor, int, int, error) {
	var (
		decoder     imageDecode
		imageTensor *tf.Tensor
		decoded     []*tf.Tensor
		err         error
	)

	if decoder, err = m.getImageDecoder(format); err != nil {
		return nil, 0, 0, err
	}

	if imageTensor, err = tf.NewTensor(image); err != nil {
		return nil, 0, 0, err
	}

	if decoded, err = decoder.session.Run(
		map[tf.Output]*tf.Tensor{
			decoder.input: imageTensor,
		},
		[]tf.Output{
			decoder.output,
			decoder.dims,
		},
		nil,
	); err != nil {
		return nil, 0, 0, err
	}

	dims := decoded[1].Value().([]int32)
	if len(dims) != 3 {
		return nil, 0, 0, fmt.Errorf("Unexpected image dims: %v", dims)
	}

	return decoded[0], int(dims[0]), int(dims[1]), nil
}

func (m *dModel) detect(image, format string, scoreTh float32) ([]Object, error) {
	var (
		inputImage *tf.Tensor
		results    []*tf.Tensor
		imgH, imgW int
		err        error
	)

	// box 좌표는 모델 입력 크기가 아닌 원본 이미지 기준으로 변환해야
	// ground truth box와 같은 픽셀 공간을 가진다
	if inputImage, imgH, imgW, err = m.decodeInputImage(image, format); err != nil {
		return nil, err
	}

	graph := m.tfModel.Graph
	if results, err = m.tfModel.Session.Run(
		map[tf.Output]*tf.Tensor{
			graph.Operation(m.cfg.InputOperationName).Output(0): inputImage,
		},
		[]tf.Output{
			graph.Operation(m.cfg.BoxesOperationName).Output(0),
			graph.Operation(m.cfg.ScoresOperationName).Output(0),
			graph.Operation(m.cfg.ClassesOperationName).Output(0),
			graph.Operation(m.cfg.CountOperationName).Output(0),
		},
		nil,
	); err != nil {
		return nil, err
	}

	boxes := results[0].Value().([][][]float32)[0]
	scores := results[1].Value().([][]float32)[0]
	classes := results[2].Value().([][]float32)[0]
	count := int(results[3].Value().([]float32)[0])

	return collectObjects(boxes, scores, classes, count, m.labels, imgW, imgH, scoreTh)
}

// toPixelBox 정규화된 [ymin xmin ymax xmax] box를 픽셀 좌표 [x y w h]로 변환
func toPixelBox(norm []float32, imgW, imgH int) dataset.Box {
	ymin := float64(norm[0]) * float64(imgH)
	xmin := float64(norm[1]) * float64(imgW)
	ymax := float64(norm[2]) * float64(imgH)
	xmax := float64(norm[3]) * float64(imgW)

	return dataset.Box{
		X: xmin,
		Y: ymin,
		W: xmax - xmin,
		H: ymax - ymin,
	}
}

// collectObjects 검출 graph의 출력을 Object 목록으로 변환
//
// class 값은 labels 파일의 1-base 인덱스이다. score가 임계값보다 낮거나
// 알 수 없는 class를 가지는 검출 결과는 제외한다.
func collectObjects(boxes [][]float32, scores, classes []float32, count int, labels []string, imgW, imgH int, scoreTh float32) ([]Object, error) {
	if count > len(boxes) || count > len(scores) || count > len(classes) {
		return nil, fmt.Errorf(
			"Mismatched detection outputs: count=%d, boxes=%d, scores=%d, classes=%d",
			count, len(boxes), len(scores), len(classes),
		)
	}

	var objects []Object
	for i := 0; i < count; i++ {
		if scores[i] < scoreTh {
			continue
		}

		idx := int(classes[i]) - 1
		if idx < 0 || idx >= len(labels) {
			continue
		}

		if len(boxes[i]) != 4 {
			return nil, fmt.Errorf("Invalid box at %d: %v", i, boxes[i])
		}

		objects = append(objects, Object{
			Box:   toPixelBox(boxes[i], imgW, imgH),
			Score: scores[i],
			Label: labels[idx],
		})
	}
	sort.Sort(sortByScore(objects))

	return objects, nil
}
