package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/example/evmscan/internal/api"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	port := os.Getenv("API_PORT")
	if port == "" {
		port = "8080"
	}
	dataDir := os.Getenv("API_DATA_DIR")
	if dataDir == "" {
		dataDir = "data/jobs"
	}

	srv := api.NewServer(dataDir)
	logrus.Infof("API server listening on :%s", port)
	if err := srv.Run(port); err != nil {
		logrus.Fatalf("server stopped with error: %v", err)
	}
}
