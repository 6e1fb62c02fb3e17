package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

// InitLogrus initializes logrus
func InitLogrus() {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		TimestampFormat: time.DateTime,
	})
	if Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func init() {
	InitLogrus()
}
