package db

import (
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Config DBconn config
type Config struct {
	DriverName string
	ConnInfo   string

	TableName string
}

// DBconn db 연결정보
type DBconn struct {
	DriverName string
	ConnInfo   string

	TableName string

	db *sql.DB
}

// Item 데이터셋 이미지 항목
type Item struct {
	Dataset     string
	OrgFilename string
	Filename    string
	FileFormat  string
	FilePath    string
	NumBoxes    int
	CreateAt    time.Time
}

func (conn *DBconn) createTable() error {
	if _, err := conn.db.Exec(fmt.Sprintf(`CREATE TABLE %s (
		dataset CHAR(20) NOT NULL,
		orgfilename CHAR(40) NOT NULL,
		filename CHAR(40) NOT NULL,
		format CHAR(10) NOT NULL,
		path VARCHAR(80) NOT NULL,
		boxes INT NOT NULL,
		createAt DATETIME NOT NULL);`, conn.TableName)); err != nil {
		return err
	}

	return nil
}

func (conn *DBconn) existsTable() bool {
	if _, err := conn.db.Query(fmt.Sprintf("SELECT * FROM %s;", conn.TableName)); err != nil {
		return false
	}

	return true
}

func (conn *DBconn) initTable() error {
	if !conn.existsTable() {
		log.Printf("Create DB table: %s", conn.TableName)
		return conn.createTable()
	}

	return nil
}

func whereClause(param Item) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)

	if param.Dataset != "" {
		conds = append(conds, "dataset = ?")
		args = append(args, param.Dataset)
	}
	if param.OrgFilename != "" {
		conds = append(conds, "orgfilename = ?")
		args = append(args, param.OrgFilename)
	}
	if param.Filename != "" {
		conds = append(conds, "filename = ?")
		args = append(args, param.Filename)
	}

	if len(conds) == 0 {
		return "", args
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

// Insert entry 삽입
func (conn *DBconn) Insert(item Item) error {
	createAt := item.CreateAt.Format("2006-01-02 15:04:05")

	_, err := conn.db.Exec(fmt.Sprintf(`INSERT INTO %s (
		dataset,
		orgfilename,
		filename,
		format,
		path,
		boxes,
		createAt) value (?, ?, ?, ?, ?, ?, ?);`, conn.TableName),
		item.Dataset, item.OrgFilename, item.Filename,
		item.FileFormat, item.FilePath, item.NumBoxes, createAt,
	)

	return err
}

// Get 조건에 맞는 entry 목록 반환
func (conn *DBconn) Get(param Item) (interface{}, interface{}, error) {
	where, args := whereClause(param)

	rows, err := conn.db.Query(fmt.Sprintf(`SELECT
		dataset,
		orgfilename,
		filename,
		format,
		path,
		boxes,
		createAt FROM %s%s;`, conn.TableName, where), args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		total      int64
		successful int64
		failed     int64
		items      []Item
	)
	for rows.Next() {
		total++

		var item Item
		if err := rows.Scan(
			&item.Dataset,
			&item.OrgFilename,
			&item.Filename,
			&item.FileFormat,
			&item.FilePath,
			&item.NumBoxes,
			&item.CreateAt,
		); err != nil {
			failed++
			continue
		}

		items = append(items, item)
		successful++
	}

	infos := map[string]int64{
		"total":      total,
		"successful": successful,
		"failed":     failed,
	}

	return infos, items, nil
}

// Delete 조건에 맞는 entry 삭제 후 삭제된 개수 반환
func (conn *DBconn) Delete(param Item) (int64, error) {
	where, args := whereClause(param)

	result, err := conn.db.Exec(
		fmt.Sprintf("DELETE FROM %s%s;", conn.TableName, where), args...)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// Destroy db connection 해제
func (conn *DBconn) Destroy() error {
	return conn.db.Close()
}

// New 새로운 db connection 생성
func New(cfg Config) (*DBconn, error) {
	db, err := sql.Open(cfg.DriverName, cfg.ConnInfo)
	if err != nil {
		return nil, err
	}

	conn := &DBconn{
		DriverName: cfg.DriverName,
		ConnInfo:   cfg.ConnInfo,
		TableName:  cfg.TableName,
		db:         db,
	}

	if err := conn.initTable(); err != nil {
		db.Close()
		return nil, err
	}

	return conn, nil
}
