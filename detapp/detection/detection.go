package detection

import (
	"bufio"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	tf "github.com/tensorflow/tensorflow/tensorflow/go"
	"github.com/toby4548/faster-R-CNN/detapp/constants"
	"github.com/toby4548/faster-R-CNN/detapp/dataset"
	"github.com/toby4548/faster-R-CNN/detapp/layers"
	"github.com/toby4548/faster-R-CNN/detapp/training"
	"gopkg.in/yaml.v2"
)

// Config 검출 모델 생성 설정정보
type Config struct {
	UserModelPath string
	TrainHost     string
}

// Detection 검출 모델 관리
type Detection struct {
	models        map[string]*dModel
	rwMutex       sync.RWMutex
	modelsPath    string
	userModelPath string

	trainer *training.Trainer
}

type modelConfig struct {
	Name                 string          `yaml:"name"`
	Tags                 []string        `yaml:"tags"`
	InputShape           []int32         `yaml:"inputShape"`
	InputOperationName   string          `yaml:"inputOperationName"`
	BoxesOperationName   string          `yaml:"boxesOperationName"`
	ScoresOperationName  string          `yaml:"scoresOperationName"`
	ClassesOperationName string          `yaml:"classesOperationName"`
	CountOperationName   string          `yaml:"countOperationName"`
	LabelsFile           string          `yaml:"labelsFile"`
	Layers               layers.Stack    `yaml:"layers"`
	TrainingResult       training.Result `yaml:"trainingResult"`
	Description          string          `yaml:"description"`
}

func (d *Detection) loadModels() error {
	dirs, _ := ioutil.ReadDir(d.modelsPath)

	for _, dir := range dirs {
		modelPath := path.Join(d.modelsPath, dir.Name())

		m := getNewModel("", modelPath)
		if err := loadModel(m); err != nil {
			log.Printf("Fail to load model(%s): %s", modelPath, err)
			d.delModelUncond(m)
		} else {
			if err := d.addModel(m); err != nil {
				log.Print(err)
			}
		}
	}

	if d.userModelPath != "" {
		m := getNewModel("", d.userModelPath)
		if err := loadModel(m); err != nil {
			log.Printf("Fail to load user model(%s): %s", d.userModelPath, err)
		} else {
			if err := d.addModel(m); err != nil {
				log.Print(err)
			}
		}
	}

	return nil
}

func (d *Detection) addModel(newM *dModel) error {
	if newM.name == "" {
		return errors.New("Empty detector name")
	}

	for model, m := range d.models {
		if model == newM.name || m.name == newM.name {
			return fmt.Errorf("Duplicated detector: %s", newM.name)
		} else if m.modelPath == newM.modelPath {
			return fmt.Errorf("Duplicated model path: %s", newM.modelPath)
		}
	}

	d.models[newM.name] = newM
	return nil
}

func (d *Detection) delModel(model string) error {
	m, ok := d.models[model]
	if !ok {
		return fmt.Errorf("No such detector: %s", model)
	}

	if m.refCount > 0 {
		return fmt.Errorf("Currently in use: %s (%d)", m.name, m.refCount)
	}

	m.close()
	if err := os.RemoveAll(m.modelPath); err != nil {
		return err
	}

	delete(d.models, m.name)

	return nil
}

func (d *Detection) delModelUncond(delM *dModel) {
	delM.close()
	if err := os.RemoveAll(delM.modelPath); err != nil {
		log.Print(err)
	}

	delete(d.models, delM.name)
}

func (d *Detection) getModel(model string) *dModel {
	if m, ok := d.models[model]; ok {
		atomic.AddInt32(&m.refCount, 1)
		return m
	}

	return nil
}

func (d *Detection) putModel(m *dModel) {
	atomic.AddInt32(&m.refCount, -1)
}

// CreateDetector 새로운 검출 모델의 학습을 외부 trainer에 위임
//
// 학습이 끝나면 trainer가 PUT /detectors/:detector를 호출하여
// 완성된 모델을 로드시킨다.
func (d *Detection) CreateDetector(newDetector, desc string, gt *dataset.GroundTruth, imagePath string, epochs int, trial bool) (map[string]interface{}, error) {
	modelDir := fmt.Sprintf("%s-%s", newDetector, uuid.New().String()[:8])
	modelPath := path.Join(d.modelsPath, modelDir)

	m := getNewModel(newDetector, modelPath)
	d.rwMutex.Lock()
	// 새로운 모델 생성 및 로드 전 슬롯 선점
	if err := d.addModel(m); err != nil {
		d.rwMutex.Unlock()
		return nil, err
	}
	d.getModel(newDetector)
	d.rwMutex.Unlock()
	defer d.putModel(m)

	numClasses := len(gt.Classes())
	if numClasses == 0 {
		d.rwMutex.Lock()
		d.delModelUncond(m)
		d.rwMutex.Unlock()
		return nil, errors.New("Ground truth has no classes")
	}

	req := training.TrainRequest{
		GroundTruth: gt,
		ImagePath:   imagePath,
		Layers:      layers.VehicleNet(numClasses),
		Stages:      training.Stages(path.Join(modelPath, "checkpoints"), epochs),
		Overlaps:    training.DefaultOverlaps(),
		ModelPath:   modelPath,
		ConfigFile:  path.Join(modelPath, "config.yaml"),
		Description: desc,
		Trial:       trial,
	}

	response, err := d.trainer.Train(newDetector, req)
	if err != nil {
		d.rwMutex.Lock()
		d.delModelUncond(m)
		d.rwMutex.Unlock()
		return nil, err
	}

	atomic.StoreInt32(&m.status, modelStatusBuild)

	return response, nil
}

// OperateDetector 생성 된 검출 모델 로드
func (d *Detection) OperateDetector(detector, modelPath string) error {
	d.rwMutex.RLock()
	m := d.getModel(detector)
	d.rwMutex.RUnlock()

	if m == nil {
		if err := os.RemoveAll(modelPath); err != nil {
			log.Print(err)
		}
		return fmt.Errorf("No such detector for register: %s", detector)
	}
	defer d.putModel(m)

	if m.modelPath != modelPath {
		d.rwMutex.Lock()
		d.delModelUncond(m)
		d.rwMutex.Unlock()
		return fmt.Errorf("Invalid model path: %s", detector)
	}

	if err := loadModel(m); err != nil {
		d.rwMutex.Lock()
		d.delModelUncond(m)
		d.rwMutex.Unlock()
		return err
	}

	return nil
}

// DeleteDetector 검출 모델 삭제
func (d *Detection) DeleteDetector(detector string) error {
	d.rwMutex.Lock()
	defer d.rwMutex.Unlock()

	return d.delModel(detector)
}

// GetDetectors 검출 모델 목록 반환
func (d *Detection) GetDetectors() []string {
	d.rwMutex.RLock()
	defer d.rwMutex.RUnlock()

	var detectors []string
	for detector := range d.models {
		detectors = append(detectors, detector)
	}

	return detectors
}

// GetDetector 검출 모델 정보 반환
func (d *Detection) GetDetector(detector string, verbose bool) map[string]interface{} {
	d.rwMutex.RLock()
	m := d.getModel(detector)
	d.rwMutex.RUnlock()

	if m == nil {
		return nil
	}
	defer d.putModel(m)

	var status string
	switch atomic.LoadInt32(&m.status) {
	case modelStatusReady:
		status = "ready"
	case modelStatusBuild:
		status = "build"
	case modelStatusRun:
		status = "run"
	default:
		status = "unknown"
	}

	info := map[string]interface{}{
		"detector":       m.name,
		"refCount":       m.refCount,
		"inputShape":     m.inputShape,
		"numberOfLables": m.nrLables,
		"layers":         m.cfg.Layers.String(),
		"inputOperator":  m.cfg.InputOperationName,
		"description":    m.cfg.Description,
		"status":         status,
	}

	if verbose {
		labels := make([]string, len(m.labels))
		copy(labels, m.labels)
		info["lables"] = labels

		var stages []map[string]interface{}
		for _, stage := range m.cfg.TrainingResult.Stages {
			stages = append(stages, map[string]interface{}{
				"stage":     stage.Stage,
				"epochs":    stage.Epochs,
				"trainLoss": stage.TrainLoss,
			})
		}
		info["trainingResult"] = stages
	}

	return info
}

// Detect 단일 이미지에 대한 객체 검출
func (d *Detection) Detect(detector, image, format string, scoreTh float32) ([]Object, error) {
	d.rwMutex.RLock()
	m := d.getModel(detector)
	d.rwMutex.RUnlock()

	if m == nil {
		return nil, fmt.Errorf("No such detector: %s", detector)
	}
	defer d.putModel(m)

	if atomic.LoadInt32(&m.status) != modelStatusRun {
		return nil, fmt.Errorf("Not ready yet")
	}

	return m.detect(image, format, scoreTh)
}

// ImageObjects 단일 이미지의 검출 결과
type ImageObjects struct {
	Image   string   `json:"image"`
	Objects []Object `json:"objects"`
}

// DetectAll ground truth 테이블의 모든 이미지에 대한 객체 검출
//
// 반환되는 결과 테이블의 행은 입력 테이블의 행과 같은 순서를 가진다.
func (d *Detection) DetectAll(detector string, gt *dataset.GroundTruth, scoreTh float32) ([]ImageObjects, error) {
	results := make([]ImageObjects, 0, len(gt.Rows))
	for _, row := range gt.Rows {
		raw, err := ioutil.ReadFile(row.Image)
		if err != nil {
			return nil, fmt.Errorf("Fail to read image: %s: %s", row.Image, err)
		}

		ext := strings.ToLower(strings.TrimPrefix(path.Ext(row.Image), "."))
		objects, err := d.Detect(detector, string(raw), ext, scoreTh)
		if err != nil {
			return nil, fmt.Errorf("Fail to detect: %s: %s", row.Image, err)
		}

		results = append(results, ImageObjects{
			Image:   row.Image,
			Objects: objects,
		})
	}

	return results, nil
}

// Destroy 모든 검출 모델의 session 해제
func (d *Detection) Destroy() {
	d.rwMutex.Lock()
	defer d.rwMutex.Unlock()

	for _, m := range d.models {
		m.close()
	}
	d.models = make(map[string]*dModel)
}

const (
	modelStatusReady = iota
	modelStatusBuild
	modelStatusRun
)

// Object 검출된 객체
type Object struct {
	Box   dataset.Box `json:"box"`
	Score float32     `json:"score"`
	Label string      `json:"label"`
}

type sortByScore []Object

func (s sortByScore) Len() int {
	return len(s)
}

func (s sortByScore) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sortByScore) Less(i, j int) bool {
	return s[i].Score > s[j].Score
}

// Model 검출 모델
type dModel struct {
	name      string
	modelPath string
	cfg       modelConfig
	status    int32
	refCount  int32

	tfModel    *tf.SavedModel
	inputShape []int32

	imageDecoder map[string]imageDecode
	idMutex      sync.Mutex

	nrLables int
	labels   []string
}

func getNewModel(model, modelPath string) *dModel {
	return &dModel{
		name:      model,
		modelPath: modelPath,
		status:    modelStatusReady,
	}
}

func (m *dModel) close() {
	for format, decoder := range m.imageDecoder {
		if decoder.session != nil {
			decoder.session.Close()
		}
		delete(m.imageDecoder, format)
	}

	if m.tfModel != nil && m.tfModel.Session != nil {
		m.tfModel.Session.Close()
		m.tfModel = nil
	}
}

func loadModel(m *dModel) error {
	var (
		cfgBytes []byte
		cfg      modelConfig
		tfModel  *tf.SavedModel
		labelsFp *os.File
		labels   []string
		err      error
	)

	// config 로드
	cfgFile := path.Join(m.modelPath, "config.yaml")
	if cfgBytes, err = ioutil.ReadFile(cfgFile); err != nil {
		return err
	}

	if err := yaml.Unmarshal(cfgBytes, &cfg); err != nil {
		return err
	}

	if m.name != "" && m.name != cfg.Name {
		return fmt.Errorf("Not matched detector name[%s] in configuration[%s]", m.name, cfg.Name)
	}

	// model 로드
	if tfModel, err = tf.LoadSavedModel(m.modelPath, cfg.Tags, nil); err != nil {
		return err
	}

	// labels 로드
	labelsFile := path.Join(m.modelPath, cfg.LabelsFile)
	if labelsFp, err = os.Open(labelsFile); err != nil {
		return err
	}
	defer labelsFp.Close()

	scanner := bufio.NewScanner(labelsFp)
	for scanner.Scan() {
		labels = append(labels, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	m.cfg = cfg
	m.name = cfg.Name
	m.tfModel = tfModel
	m.inputShape = cfg.InputShape
	m.imageDecoder = make(map[string]imageDecode)
	m.nrLables = len(labels)
	m.labels = labels
	// Setting status should always be last
	atomic.StoreInt32(&m.status, modelStatusRun)

	return nil
}

// New 검출 모델 관리자 생성
func New(c Config) (d *Detection, err error) {
	d = &Detection{
		models:        make(map[string]*dModel),
		modelsPath:    constants.ModelsPath,
		userModelPath: c.UserModelPath,
		trainer:       &training.Trainer{Host: c.TrainHost},
	}
	err = d.loadModels()

	return
}
