package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toby4548/faster-R-CNN/detapp/api"
	"github.com/toby4548/faster-R-CNN/detapp/config"
	"github.com/toby4548/faster-R-CNN/detapp/dataset"
	"github.com/toby4548/faster-R-CNN/detapp/detection"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	userModelPath := flag.String("usermodel", "", "Path for user detection model")
	trainHost := flag.String("trainhost", cfg.TrainHost, "Detector training host")
	flag.Parse()

	d, err := detection.New(detection.Config{
		UserModelPath: *userModelPath,
		TrainHost:     *trainHost,
	})
	if err != nil {
		log.Fatal(err)
	}

	m, err := dataset.NewManager(cfg.ConnInfo)
	if err != nil {
		log.Fatal(err)
	}

	r := gin.Default()
	r.MaxMultipartMemory = 8 << 20

	a := api.APIs{
		D: d,
		M: m,
	}

	detectGroup := r.Group("/detect")
	{
		detectGroup.POST("", a.DetectDefault)
		detectGroup.POST(":detector", a.DetectWithDetector)
	}

	detectorsGroup := r.Group("/detectors")
	{
		detectorsGroup.GET("", a.ListDetectors)
		detectorsGroup.GET(":detector", a.ShowDetector)
		detectorsGroup.POST(":detector", a.CreateDetector)
		detectorsGroup.PUT(":detector", a.OperateDetector)
		detectorsGroup.DELETE(":detector", a.DeleteDetector)
	}

	datasetsGroup := r.Group("/datasets")
	{
		datasetsGroup.GET("", a.ListImages)
		datasetsGroup.POST("", a.UploadImages)
		datasetsGroup.DELETE("", a.DeleteImages)
	}

	evaluateGroup := r.Group("/evaluate")
	{
		evaluateGroup.POST(":detector", a.EvaluateDetector)
	}

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Print(err)
	}

	d.Destroy()
	m.Destroy()
}
