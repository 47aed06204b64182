package training

import (
	"fmt"
	"path"
)

// Options 단일 training stage의 hyperparameter
type Options struct {
	Stage            string  `json:"stage" yaml:"stage"`
	Optimizer        string  `json:"optimizer" yaml:"optimizer"`
	MaxEpochs        int     `json:"maxEpochs" yaml:"maxEpochs"`
	InitialLearnRate float64 `json:"initialLearnRate" yaml:"initialLearnRate"`
	MiniBatchSize    int     `json:"miniBatchSize" yaml:"miniBatchSize"`
	CheckpointPath   string  `json:"checkpointPath" yaml:"checkpointPath"`
}

// Validate stage 옵션을 검증
func (o Options) Validate() error {
	if o.Stage == "" {
		return fmt.Errorf("Empty stage name")
	}
	if o.Optimizer != "sgdm" {
		return fmt.Errorf("Unsupported optimizer: %s", o.Optimizer)
	}
	if o.MaxEpochs <= 0 {
		return fmt.Errorf("Invalid epochs for stage %s: %d", o.Stage, o.MaxEpochs)
	}
	if o.InitialLearnRate <= 0 {
		return fmt.Errorf("Invalid learn rate for stage %s: %g", o.Stage, o.InitialLearnRate)
	}
	if o.MiniBatchSize <= 0 {
		return fmt.Errorf("Invalid mini-batch size for stage %s: %d", o.Stage, o.MiniBatchSize)
	}

	return nil
}

// Stages 4단계 교대 학습의 stage별 옵션 생성
//
// stage 1-2는 RPN과 detection network를 각각 처음부터 학습하고,
// stage 3-4는 공유 convolution을 고정한 채 낮은 learning rate로
// 두 network를 다시 미세조정한다.
func Stages(checkpointPath string, epochs int) []Options {
	stages := []struct {
		name string
		rate float64
	}{
		{"rpn", 1e-5},
		{"detector", 1e-5},
		{"rpn-finetune", 1e-6},
		{"detector-finetune", 1e-6},
	}

	var options []Options
	for _, stage := range stages {
		options = append(options, Options{
			Stage:            stage.name,
			Optimizer:        "sgdm",
			MaxEpochs:        epochs,
			InitialLearnRate: stage.rate,
			MiniBatchSize:    1,
			CheckpointPath:   path.Join(checkpointPath, stage.name),
		})
	}

	return options
}

// OverlapRange 학습 샘플 라벨링에 사용하는 IoU 구간 [Lo, Hi]
type OverlapRange struct {
	Lo float64 `json:"lo" yaml:"lo"`
	Hi float64 `json:"hi" yaml:"hi"`
}

// Validate 구간 값을 검증
func (r OverlapRange) Validate() error {
	if r.Lo < 0 || r.Hi > 1 || r.Lo >= r.Hi {
		return fmt.Errorf("Invalid overlap range [%g, %g]", r.Lo, r.Hi)
	}

	return nil
}

// Overlaps positive/negative 구간 쌍
type Overlaps struct {
	Positive OverlapRange `json:"positive" yaml:"positive"`
	Negative OverlapRange `json:"negative" yaml:"negative"`
}

// Validate 두 구간이 유효하고 서로 겹치지 않는지 검증
func (o Overlaps) Validate() error {
	if err := o.Positive.Validate(); err != nil {
		return err
	}
	if err := o.Negative.Validate(); err != nil {
		return err
	}

	if o.Negative.Hi > o.Positive.Lo {
		return fmt.Errorf(
			"Overlapping ranges: negative [%g, %g], positive [%g, %g]",
			o.Negative.Lo, o.Negative.Hi, o.Positive.Lo, o.Positive.Hi,
		)
	}

	return nil
}

// DefaultOverlaps 기본 라벨링 구간 반환
func DefaultOverlaps() Overlaps {
	return Overlaps{
		Positive: OverlapRange{Lo: 0.6, Hi: 1},
		Negative: OverlapRange{Lo: 0, Hi: 0.3},
	}
}

// StageResult trainer가 기록하는 stage별 학습 결과
type StageResult struct {
	Stage     string    `json:"stage" yaml:"stage"`
	Epochs    int       `json:"epochs" yaml:"epochs"`
	TrainLoss []float32 `json:"trainLoss" yaml:"trainLoss"`
}

// Result 전체 학습 결과
type Result struct {
	Stages []StageResult `json:"stages" yaml:"stages"`
}
