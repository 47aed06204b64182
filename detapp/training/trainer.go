package training

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/toby4548/faster-R-CNN/detapp/dataset"
	"github.com/toby4548/faster-R-CNN/detapp/layers"
)

// TrainRequest 외부 trainer에 전달하는 학습 요청
type TrainRequest struct {
	// Ground truth table for training
	GroundTruth *dataset.GroundTruth `json:"groundTruth"`
	ImagePath   string               `json:"imagePath"`

	// Network and stage-wise hyperparameters
	Layers   layers.Stack `json:"layers"`
	Stages   []Options    `json:"stages"`
	Overlaps Overlaps     `json:"overlaps"`

	// Model meta information
	ModelPath   string `json:"modelPath"`
	ConfigFile  string `json:"configFile"`
	Description string `json:"desc"`

	Trial bool `json:"trial"`
}

// Validate 학습 요청을 검증
func (req TrainRequest) Validate() error {
	if req.GroundTruth == nil || len(req.GroundTruth.Rows) == 0 {
		return fmt.Errorf("Empty ground truth")
	}
	if req.ModelPath == "" {
		return fmt.Errorf("Empty model path")
	}

	if err := req.Layers.Validate(); err != nil {
		return err
	}

	if len(req.Stages) != 4 {
		return fmt.Errorf("Expected 4 training stages, got %d", len(req.Stages))
	}
	for _, stage := range req.Stages {
		if err := stage.Validate(); err != nil {
			return err
		}
	}

	return req.Overlaps.Validate()
}

// Trainer 외부 trainer host로 학습을 위임
type Trainer struct {
	Host string
}

// Train 학습 요청을 trainer host에 전달하고 응답을 반환
//
// trainer는 학습을 완료한 뒤 모델을 ModelPath에 기록하고
// detapp의 PUT /detectors/:detector를 호출하여 모델을 등록한다.
func (t *Trainer) Train(detector string, req TrainRequest) (map[string]interface{}, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	j, _ := json.Marshal(req)
	data := bytes.NewBuffer(j)

	url := fmt.Sprintf("http://%s/detectors/%s", t.Host, detector)
	res, err := http.Post(url, "application/json", data)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Trainer returned status %d", res.StatusCode)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, err
	}

	return response, nil
}
