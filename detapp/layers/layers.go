package layers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Layer 네트워크 layer 기술자
type Layer interface {
	Kind() string
}

// Input 입력 이미지 크기
type Input struct {
	Height   int
	Width    int
	Channels int
}

// Conv convolution layer
type Conv struct {
	Filters int
	Size    int
	Stride  int
	Pad     int
}

// ReLU activation layer
type ReLU struct{}

// MaxPool pooling layer
type MaxPool struct {
	Size   int
	Stride int
}

// FullyConnected fully-connected layer
type FullyConnected struct {
	Outputs int
}

// Softmax classification 출력 layer
type Softmax struct{}

func (l Input) Kind() string          { return "input" }
func (l Conv) Kind() string           { return "conv" }
func (l ReLU) Kind() string           { return "relu" }
func (l MaxPool) Kind() string        { return "maxpool" }
func (l FullyConnected) Kind() string { return "fc" }
func (l Softmax) Kind() string        { return "softmax" }

// Stack 순서를 가지는 layer 목록
type Stack []Layer

// layer 직렬화 형태. kind 필드로 layer 타입을 구분한다.
type layerSpec struct {
	Kind     string `yaml:"kind" json:"kind"`
	Height   int    `yaml:"height,omitempty" json:"height,omitempty"`
	Width    int    `yaml:"width,omitempty" json:"width,omitempty"`
	Channels int    `yaml:"channels,omitempty" json:"channels,omitempty"`
	Filters  int    `yaml:"filters,omitempty" json:"filters,omitempty"`
	Size     int    `yaml:"size,omitempty" json:"size,omitempty"`
	Stride   int    `yaml:"stride,omitempty" json:"stride,omitempty"`
	Pad      int    `yaml:"pad,omitempty" json:"pad,omitempty"`
	Outputs  int    `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

func toSpec(l Layer) layerSpec {
	spec := layerSpec{Kind: l.Kind()}

	switch v := l.(type) {
	case Input:
		spec.Height = v.Height
		spec.Width = v.Width
		spec.Channels = v.Channels
	case Conv:
		spec.Filters = v.Filters
		spec.Size = v.Size
		spec.Stride = v.Stride
		spec.Pad = v.Pad
	case MaxPool:
		spec.Size = v.Size
		spec.Stride = v.Stride
	case FullyConnected:
		spec.Outputs = v.Outputs
	}

	return spec
}

func fromSpec(spec layerSpec) (Layer, error) {
	switch spec.Kind {
	case "input":
		return Input{Height: spec.Height, Width: spec.Width, Channels: spec.Channels}, nil
	case "conv":
		return Conv{Filters: spec.Filters, Size: spec.Size, Stride: spec.Stride, Pad: spec.Pad}, nil
	case "relu":
		return ReLU{}, nil
	case "maxpool":
		return MaxPool{Size: spec.Size, Stride: spec.Stride}, nil
	case "fc":
		return FullyConnected{Outputs: spec.Outputs}, nil
	case "softmax":
		return Softmax{}, nil
	}

	return nil, fmt.Errorf("Unknown layer kind: %s", spec.Kind)
}

func (s Stack) specs() []layerSpec {
	specs := make([]layerSpec, len(s))
	for i, l := range s {
		specs[i] = toSpec(l)
	}

	return specs
}

func stackFromSpecs(specs []layerSpec) (Stack, error) {
	stack := make(Stack, len(specs))
	for i, spec := range specs {
		l, err := fromSpec(spec)
		if err != nil {
			return nil, err
		}
		stack[i] = l
	}

	return stack, nil
}

// MarshalYAML Stack을 kind 필드를 가진 목록으로 변환
func (s Stack) MarshalYAML() (interface{}, error) {
	return s.specs(), nil
}

// UnmarshalYAML kind 필드를 가진 목록을 Stack으로 변환
func (s *Stack) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var specs []layerSpec
	if err := unmarshal(&specs); err != nil {
		return err
	}

	stack, err := stackFromSpecs(specs)
	if err != nil {
		return err
	}

	*s = stack
	return nil
}

// MarshalJSON trainer 요청에 동일한 직렬화 형태를 사용
func (s Stack) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.specs())
}

// UnmarshalJSON kind 필드를 가진 목록을 Stack으로 변환
func (s *Stack) UnmarshalJSON(data []byte) error {
	var specs []layerSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return err
	}

	stack, err := stackFromSpecs(specs)
	if err != nil {
		return err
	}

	*s = stack
	return nil
}

// Validate layer 순서와 값을 검증
func (s Stack) Validate() error {
	if len(s) < 3 {
		return fmt.Errorf("Stack too short: %d layers", len(s))
	}

	if _, ok := s[0].(Input); !ok {
		return fmt.Errorf("First layer must be input, got %s", s[0].Kind())
	}
	if _, ok := s[len(s)-1].(Softmax); !ok {
		return fmt.Errorf("Last layer must be softmax, got %s", s[len(s)-1].Kind())
	}

	for i, l := range s {
		switch v := l.(type) {
		case Input:
			if i != 0 {
				return fmt.Errorf("Input layer at position %d", i)
			}
			if v.Height <= 0 || v.Width <= 0 || v.Channels <= 0 {
				return fmt.Errorf("Invalid input shape %dx%dx%d", v.Height, v.Width, v.Channels)
			}
		case Conv:
			if v.Filters <= 0 || v.Size <= 0 {
				return fmt.Errorf("Invalid conv layer at position %d", i)
			}
		case MaxPool:
			if v.Size <= 0 {
				return fmt.Errorf("Invalid maxpool layer at position %d", i)
			}
		case FullyConnected:
			if v.Outputs <= 0 {
				return fmt.Errorf("Invalid fc layer at position %d", i)
			}
		}
	}

	return nil
}

// String layer 요약 문자열 반환
func (s Stack) String() string {
	kinds := make([]string, len(s))
	for i, l := range s {
		kinds[i] = l.Kind()
	}

	return strings.Join(kinds, " > ")
}

// VehicleNet 소규모 검출 backbone의 기본 layer stack 생성
//
// 마지막 fc는 background 클래스를 포함하여 numClasses+1개의 출력을 가진다.
func VehicleNet(numClasses int) Stack {
	return Stack{
		Input{Height: 32, Width: 32, Channels: 3},
		Conv{Filters: 32, Size: 3, Stride: 1, Pad: 1},
		ReLU{},
		MaxPool{Size: 3, Stride: 2},
		Conv{Filters: 32, Size: 3, Stride: 1, Pad: 1},
		ReLU{},
		FullyConnected{Outputs: 64},
		ReLU{},
		FullyConnected{Outputs: numClasses + 1},
		Softmax{},
	}
}
