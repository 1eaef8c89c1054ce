package logging

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotatingFile returns a size-rotated log file writer for path.
func RotatingFile(path string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
	}
}
