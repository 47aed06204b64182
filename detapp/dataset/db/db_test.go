package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"testing"
	"time"
)

func TestDB(t *testing.T) {
	connInfo := os.Getenv("DET_DB_TEST")
	if connInfo == "" {
		t.Skip("DET_DB_TEST is not set")
	}

	driverName := "mysql"
	tableName := "test_tab1"

	conn, err := New(Config{
		DriverName: driverName,
		ConnInfo:   connInfo,
		TableName:  tableName,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Destroy()
	log.Print(fmt.Sprintf("Init %s table", tableName))

	item := Item{
		Dataset:     "vehicles",
		OrgFilename: "001.jpg",
		Filename:    "abcd1234-001.jpg",
		FileFormat:  "jpg",
		FilePath:    "/det/images/vehicles/abcd1234-001.jpg",
		NumBoxes:    2,
		CreateAt:    time.Now(),
	}

	if err := conn.Insert(item); err != nil {
		t.Fatal(err)
	}

	infos, items, err := conn.Get(Item{Dataset: "vehicles"})
	if err != nil {
		t.Fatal(err)
	}

	infosMap := infos.(map[string]int64)
	if infosMap["total"] != 1 {
		t.Fatalf("expected 1 item, got %d", infosMap["total"])
	}

	got := items.([]Item)[0]
	if got.Filename != item.Filename || got.NumBoxes != item.NumBoxes {
		t.Fatalf("unexpected item: %+v", got)
	}

	deleted, err := conn.Delete(Item{Dataset: "vehicles"})
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	db, err := sql.Open(driverName, connInfo)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(fmt.Sprintf("DROP TABLE %s;", tableName)); err != nil {
		log.Fatal(err)
	}
}
