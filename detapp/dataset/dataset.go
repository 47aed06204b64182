package dataset

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"
	"math/rand"
	"path"
	"sort"

	"gopkg.in/yaml.v2"
)

// Box 이미지 픽셀 좌표의 bounding box [x y w h]
type Box struct {
	X float64
	Y float64
	W float64
	H float64
}

// UnmarshalYAML [x, y, w, h] 형태의 리스트를 Box로 변환
func (b *Box) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var values []float64
	if err := unmarshal(&values); err != nil {
		return err
	}

	if len(values) != 4 {
		return fmt.Errorf("Invalid box: expected 4 values, got %d", len(values))
	}

	b.X = values[0]
	b.Y = values[1]
	b.W = values[2]
	b.H = values[3]

	return nil
}

// MarshalYAML Box를 [x, y, w, h] 리스트로 변환
func (b Box) MarshalYAML() (interface{}, error) {
	return []float64{b.X, b.Y, b.W, b.H}, nil
}

// MarshalJSON trainer 요청에 동일한 리스트 형태를 사용
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([]float64{b.X, b.Y, b.W, b.H})
}

// UnmarshalJSON [x, y, w, h] 형태의 리스트를 Box로 변환
func (b *Box) UnmarshalJSON(data []byte) error {
	var values []float64
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}

	if len(values) != 4 {
		return fmt.Errorf("Invalid box: expected 4 values, got %d", len(values))
	}

	b.X = values[0]
	b.Y = values[1]
	b.W = values[2]
	b.H = values[3]

	return nil
}

// Row ground truth 테이블의 단일 행: 이미지 경로와 클래스별 box 목록
type Row struct {
	Image string           `yaml:"image" json:"image"`
	Boxes map[string][]Box `yaml:"boxes" json:"boxes"`
}

// GroundTruth 이미지 경로와 bounding box annotation을 담는 테이블
type GroundTruth struct {
	Rows []Row `yaml:"rows" json:"rows"`
}

// Load YAML annotation 파일로부터 ground truth 테이블을 읽음
func Load(file string) (*GroundTruth, error) {
	raw, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("Fail to read annotations: %s: %s", file, err)
	}

	gt := &GroundTruth{}
	if err := yaml.Unmarshal(raw, gt); err != nil {
		return nil, fmt.Errorf("Fail to parse annotations: %s: %s", file, err)
	}

	if err := gt.Validate(); err != nil {
		return nil, err
	}

	return gt, nil
}

// Validate 테이블의 모든 행을 검증
func (gt *GroundTruth) Validate() error {
	for i, row := range gt.Rows {
		if row.Image == "" {
			return fmt.Errorf("Empty image path in row %d", i)
		}

		for class, boxes := range row.Boxes {
			if class == "" {
				return fmt.Errorf("Empty class name in row %d (%s)", i, row.Image)
			}

			for _, box := range boxes {
				if box.W <= 0 || box.H <= 0 {
					return fmt.Errorf(
						"Invalid box size %gx%g for %s in row %d (%s)",
						box.W, box.H, class, i, row.Image,
					)
				}
			}
		}
	}

	return nil
}

// Classes 테이블에 등장하는 클래스 이름을 정렬하여 반환
func (gt *GroundTruth) Classes() []string {
	seen := make(map[string]bool)
	for _, row := range gt.Rows {
		for class := range row.Boxes {
			seen[class] = true
		}
	}

	var classes []string
	for class := range seen {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	return classes
}

// NumBoxes 특정 클래스의 전체 box 개수 반환
func (gt *GroundTruth) NumBoxes(class string) int {
	count := 0
	for _, row := range gt.Rows {
		count += len(row.Boxes[class])
	}

	return count
}

// ResolveImages 각 행의 이미지 경로를 실제 저장 경로로 교체
//
// 업로드된 이미지는 충돌을 피하기 위해 uuid가 붙은 이름으로 저장되므로,
// annotation의 원본 파일명을 저장 경로 매핑으로 변환해야 이미지 파일을
// 읽을 수 있다. 매핑에 없는 이미지는 에러를 반환한다.
func (gt *GroundTruth) ResolveImages(paths map[string]string) error {
	for i, row := range gt.Rows {
		p, ok := paths[path.Base(row.Image)]
		if !ok {
			return fmt.Errorf("No stored image for %s", row.Image)
		}
		gt.Rows[i].Image = p
	}

	return nil
}

// Shuffle 주어진 seed로 행 순서를 섞음
func (gt *GroundTruth) Shuffle(seed int64) {
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(gt.Rows), func(i, j int) {
		gt.Rows[i], gt.Rows[j] = gt.Rows[j], gt.Rows[i]
	})
}

// Split 테이블을 training/test 테이블로 분할
//
// training 테이블은 앞에서부터 floor(fraction * N)개의 행을 가지고,
// test 테이블이 남은 모든 행을 가진다. 두 테이블은 원본을 겹침과
// 누락 없이 나눈다.
func (gt *GroundTruth) Split(fraction float64) (*GroundTruth, *GroundTruth, error) {
	if fraction < 0 || fraction > 1 {
		return nil, nil, fmt.Errorf("Invalid split fraction: %g", fraction)
	}

	idx := int(math.Floor(fraction * float64(len(gt.Rows))))

	train := &GroundTruth{Rows: gt.Rows[:idx]}
	test := &GroundTruth{Rows: gt.Rows[idx:]}

	return train, test, nil
}
