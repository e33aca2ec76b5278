package uploader

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

const logPrefix = "upload"

// Log appends human-readable upload outcomes to a daily log file and mirrors
// them to the console log.
type Log struct {
	dir string
}

func NewLog(dir string) *Log {
	return &Log{dir: dir}
}

func (l *Log) path() string {
	date := time.Now().UTC().Format("2006-01-02")
	return filepath.Join(l.dir, fmt.Sprintf("%s-%s.log", logPrefix, date))
}

func (l *Log) append(line string) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		log.Printf("[upload] log dir: %v", err)
		return
	}
	f, err := os.OpenFile(l.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("[upload] open log: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		log.Printf("[upload] write log: %v", err)
	}
}

// Step records a worker lifecycle event.
func (l *Log) Step(stage, message string) {
	line := fmt.Sprintf("[UPLOAD][%s] %s", stage, message)
	log.Println(line)
	l.append(line)
}

// Result records one upload attempt outcome in the pipe-delimited format:
// timestamp | filename | N회 | RESULT | error.
func (l *Log) Result(filename string, attempt int, result string, errMsg string) {
	timestamp := time.Now().UTC().Format(time.RFC3339)
	line := fmt.Sprintf("%s | %s | %d회 | %s", timestamp, filename, attempt, result)
	if errMsg != "" {
		line += " | " + errMsg
	}
	log.Println(line)
	l.append(line)
}
