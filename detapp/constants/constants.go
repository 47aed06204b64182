package constants

const (
	DefaultDetectorName string = "vehicle"

	ModelsPath string = "/det/models"
	ImagesPath string = "/det/images"
	PlotsPath  string = "/det/plots"

	// 각 training stage의 기본 epoch 수
	StageEpochs int = 10

	DefaultScoreThreshold float32 = 0.5
	DefaultIoUThreshold   float64 = 0.5
	DefaultSplitFraction  float64 = 0.6

	AnnotationsFileName string = "annotations.yaml"
)
