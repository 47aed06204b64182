package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config detapp 실행 설정정보
type Config struct {
	TrainHost string
	ConnInfo  string
	Addr      string
}

// Load .env 파일과 환경변수로부터 설정을 읽음
func Load() (*Config, error) {
	// .env 파일이 없는 경우 에러는 무시
	_ = godotenv.Load()

	cfg := &Config{
		TrainHost: getEnv("TRAIN_HOST", "trainapp:18090"),
		ConnInfo:  getEnv("DB_CONN_INFO", "user1:password1@tcp(db:3306)/det_image_db?parseTime=true"),
		Addr:      getEnv("LISTEN_ADDR", ":18080"),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}
