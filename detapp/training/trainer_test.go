package training

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/toby4548/faster-R-CNN/detapp/dataset"
	"github.com/toby4548/faster-R-CNN/detapp/layers"
)

func testRequest() TrainRequest {
	return TrainRequest{
		GroundTruth: &dataset.GroundTruth{
			Rows: []dataset.Row{
				{
					Image: "images/001.jpg",
					Boxes: map[string][]dataset.Box{
						"vehicle": {{X: 10, Y: 10, W: 20, H: 16}},
					},
				},
			},
		},
		ImagePath:  "/det/images/vehicles",
		Layers:     layers.VehicleNet(1),
		Stages:     Stages("/det/models/vehicle/checkpoints", 10),
		Overlaps:   DefaultOverlaps(),
		ModelPath:  "/det/models/vehicle-12345678",
		ConfigFile: "/det/models/vehicle-12345678/config.yaml",
	}
}

func TestTrain(t *testing.T) {
	var gotPath string
	var gotReq TrainRequest
	var decodeErr error

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		decodeErr = json.NewDecoder(r.Body).Decode(&gotReq)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"modelPath": "/det/models/vehicle-12345678"}`))
	}))
	defer server.Close()

	trainer := &Trainer{Host: strings.TrimPrefix(server.URL, "http://")}

	response, err := trainer.Train("vehicle", testRequest())
	require.NoError(t, err)

	require.NoError(t, decodeErr)
	require.Equal(t, "/detectors/vehicle", gotPath)
	require.Equal(t, "/det/models/vehicle-12345678", response["modelPath"])

	// 요청이 stage 옵션과 layer stack을 그대로 전달하는지 확인
	require.Len(t, gotReq.Stages, 4)
	require.Equal(t, "rpn", gotReq.Stages[0].Stage)
	require.NoError(t, gotReq.Layers.Validate())
	require.Len(t, gotReq.GroundTruth.Rows, 1)
	require.Equal(t, OverlapRange{Lo: 0.6, Hi: 1}, gotReq.Overlaps.Positive)
}

func TestTrainBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	trainer := &Trainer{Host: strings.TrimPrefix(server.URL, "http://")}

	_, err := trainer.Train("vehicle", testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 500")
}

func TestTrainRequestValidate(t *testing.T) {
	require.NoError(t, testRequest().Validate())

	req := testRequest()
	req.GroundTruth = nil
	require.Error(t, req.Validate())

	req = testRequest()
	req.ModelPath = ""
	require.Error(t, req.Validate())

	req = testRequest()
	req.Stages = req.Stages[:3]
	require.Error(t, req.Validate())

	req = testRequest()
	req.Layers = req.Layers[1:]
	require.Error(t, req.Validate())
}
