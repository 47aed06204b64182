package dataset

import (
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/toby4548/faster-R-CNN/detapp/constants"
	"github.com/toby4548/faster-R-CNN/detapp/dataset/db"
)

const (
	tableName  string = "image_tab"
	driverName string = "mysql"
)

// Manager 데이터셋 이미지와 annotation을 관리
type Manager struct {
	Conn *db.DBconn
}

type saveFunc func(*multipart.FileHeader, string) error

func saveImage(file *multipart.FileHeader, dst string) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)

	return err
}

// AnnotationsFile 데이터셋의 annotation 파일 경로 반환
func AnnotationsFile(name string) string {
	return path.Join(constants.ImagesPath, name, constants.AnnotationsFileName)
}

// SaveImages 데이터셋 이미지 저장
//
// annotation 테이블에 등장하는 이미지는 box 개수를 함께 기록한다.
func (dm *Manager) SaveImages(name string, gt *GroundTruth, images []*multipart.FileHeader, f saveFunc, verbose bool) (interface{}, error) {
	fileDir := path.Join(constants.ImagesPath, name)
	if err := os.MkdirAll(fileDir, os.ModePerm); err != nil {
		return nil, err
	}

	if f == nil {
		f = saveImage
	}

	// 이미지별 box 개수 집계
	boxCounts := make(map[string]int)
	if gt != nil {
		for _, row := range gt.Rows {
			for _, boxes := range row.Boxes {
				boxCounts[path.Base(row.Image)] += len(boxes)
			}
		}
	}

	var (
		total      int64
		successful int64
		failed     int64
		items      []db.Item
		errors     []map[string]interface{}
	)
	for _, image := range images {
		total++

		orgFileName := image.Filename
		fileName := fmt.Sprintf("%s-%s", uuid.New().String()[:8], orgFileName)
		fileFormat := strings.ToLower(strings.TrimPrefix(path.Ext(orgFileName), "."))
		filePath := path.Join(fileDir, fileName)

		item := db.Item{
			Dataset:     name,
			OrgFilename: orgFileName,
			Filename:    fileName,
			FileFormat:  fileFormat,
			FilePath:    filePath,
			NumBoxes:    boxCounts[orgFileName],
			CreateAt:    time.Now(),
		}

		if err := dm.Conn.Insert(item); err != nil {
			if verbose {
				errors = append(errors, map[string]interface{}{
					"orgfilename": orgFileName,
					"filename":    fileName,
					"error":       err.Error(),
				})
			}

			failed++
			continue
		}

		if err := f(image, filePath); err != nil {
			if verbose {
				errors = append(errors, map[string]interface{}{
					"orgfilename": orgFileName,
					"filename":    fileName,
					"error":       err.Error(),
				})
			}

			if _, err := dm.Conn.Delete(item); err != nil {
				log.Print(err)
			}

			failed++
			continue
		}

		if verbose {
			items = append(items, item)
		}
		successful++
	}

	infos := map[string]int64{
		"total":      total,
		"successful": successful,
		"failed":     failed,
	}

	result := make(map[string]interface{})
	result["infos"] = infos

	if verbose {
		result["images"] = items
		result["errors"] = errors
	}

	return result, nil
}

// SaveAnnotations annotation YAML 파일을 데이터셋 디렉토리에 저장
//
// 저장 전 테이블을 파싱하여 내용을 검증한다. 테이블의 이미지 경로는
// 원본 파일명을 유지하며, 사용 시점에 ResolveImages로 실제 저장 경로로
// 변환한다.
func (dm *Manager) SaveAnnotations(name string, file *multipart.FileHeader, f saveFunc) (*GroundTruth, error) {
	fileDir := path.Join(constants.ImagesPath, name)
	if err := os.MkdirAll(fileDir, os.ModePerm); err != nil {
		return nil, err
	}

	if f == nil {
		f = saveImage
	}

	dst := AnnotationsFile(name)
	if err := f(file, dst); err != nil {
		return nil, err
	}

	gt, err := Load(dst)
	if err != nil {
		if err := os.Remove(dst); err != nil {
			log.Print(err)
		}
		return nil, err
	}

	return gt, nil
}

// ImagePaths 데이터셋의 원본 파일명 → 저장 경로 매핑 반환
func (dm *Manager) ImagePaths(name string) (map[string]string, error) {
	_, items, err := dm.Conn.Get(db.Item{Dataset: name})
	if err != nil {
		return nil, err
	}

	paths := make(map[string]string)
	for _, item := range items.([]db.Item) {
		paths[item.OrgFilename] = item.FilePath
	}

	return paths, nil
}

// ResolveImages annotation 테이블의 이미지 경로를 저장된 파일 경로로 교체
func (dm *Manager) ResolveImages(name string, gt *GroundTruth) error {
	paths, err := dm.ImagePaths(name)
	if err != nil {
		return err
	}

	return gt.ResolveImages(paths)
}

// DeleteImages 데이터셋 이미지 삭제
func (dm *Manager) DeleteImages(name, fileName, orgFileName string, verbose bool) (interface{}, error) {
	param := db.Item{
		Dataset:     name,
		Filename:    fileName,
		OrgFilename: orgFileName,
	}

	getInfos, items, err := dm.Conn.Get(param)
	if err != nil {
		return nil, err
	}

	getInfosMap := getInfos.(map[string]int64)
	if getInfosMap["total"] != getInfosMap["successful"] {
		return nil, fmt.Errorf(
			"Fail to read images %d of %d",
			getInfosMap["failed"],
			getInfosMap["total"],
		)
	}

	errors := make([]map[string]interface{}, 0)
	// 빈 디렉토리를 삭제하기 위해, 데이터셋 이름 목록을 저장
	dsMap := make(map[string]int)
	for _, item := range items.([]db.Item) {
		if err := os.Remove(item.FilePath); err != nil {
			if verbose {
				errors = append(errors, map[string]interface{}{
					"orgfilename": item.OrgFilename,
					"filename":    item.Filename,
					"error":       err.Error(),
				})
			}
		} else {
			dsMap[item.Dataset]++
		}
	}

	deleted, err := dm.Conn.Delete(param)
	if err != nil {
		return nil, err
	}

	for dataset := range dsMap {
		datasetDir := path.Join(constants.ImagesPath, dataset)
		// 남은 이미지가 없으면 annotation 파일과 디렉토리를 정리
		if remain, _, err := dm.Conn.Get(db.Item{Dataset: dataset}); err == nil {
			if remain.(map[string]int64)["total"] == 0 {
				os.Remove(path.Join(datasetDir, constants.AnnotationsFileName))
			}
		}
		// "directory not empty" 에러는 무시
		os.Remove(datasetDir)
	}

	infos := map[string]interface{}{
		"total":      getInfosMap["total"],
		"successful": deleted,
		"failed":     getInfosMap["total"] - deleted,
	}

	result := make(map[string]interface{})
	result["infos"] = infos

	if verbose {
		result["images"] = items
		result["errors"] = errors
	}

	return result, nil
}

// ListImages 데이터셋 이미지 목록 반환
func (dm *Manager) ListImages(name string) (interface{}, error) {
	param := db.Item{
		Dataset: name,
	}

	infos, items, err := dm.Conn.Get(param)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"infos":  infos,
		"images": items,
	}

	return result, nil
}

// Destroy Dataset manager 해제
func (dm *Manager) Destroy() {
	if err := dm.Conn.Destroy(); err != nil {
		log.Printf("DB %s close failed: %s", dm.Conn.TableName, err)
	} else {
		log.Printf("DB %s successfully closed", dm.Conn.TableName)
	}
}

// NewManager 새로운 Dataset manager 생성
func NewManager(connInfo string) (*Manager, error) {
	conn, err := db.New(db.Config{
		DriverName: driverName,
		ConnInfo:   connInfo,
		TableName:  tableName,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("DB %s successfully initialized", tableName)

	dm := &Manager{
		Conn: conn,
	}

	return dm, nil
}
