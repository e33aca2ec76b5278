package uploader

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Filename  string `json:"filename"`
	Attempt   int    `json:"attempt"`
	Result    string `json:"result"`
	Error     string `json:"error,omitempty"`
}

type LogStatus struct {
	SuccessCount int `json:"successCount"`
	FailedCount  int `json:"failedCount"`
	TotalCount   int `json:"totalCount"`
}

var (
	resultRe   = regexp.MustCompile(`(SUCCESS|FAILED|LIMIT_REACHED)`)
	attemptRe  = regexp.MustCompile(`(\d+)`)
	kvFileRe   = regexp.MustCompile(`filename=(.*?)\s+attempt=`)
	kvAttRe    = regexp.MustCompile(`attempt=(\d+)`)
	kvResultRe = regexp.MustCompile(`result=(SUCCESS|FAILED|LIMIT_REACHED)`)
	kvErrorRe  = regexp.MustCompile(`\s+error=(.*)$`)
)

// ParseLogLine accepts both historical line formats: the pipe-delimited
// "timestamp | filename | N회 | RESULT | error" form and the key=value form
// "timestamp ... filename=X attempt=N result=R error=...".
func ParseLogLine(line string) (LogEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return LogEntry{}, false
	}
	timestamp := fields[0]

	if strings.Contains(line, "|") {
		parts := strings.Split(line, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) < 4 {
			return LogEntry{}, false
		}
		filename := parts[1]
		attemptMatch := attemptRe.FindString(parts[2])
		resultMatch := resultRe.FindString(parts[3])
		if filename == "" || attemptMatch == "" || resultMatch == "" {
			return LogEntry{}, false
		}
		attempt, _ := strconv.Atoi(attemptMatch)
		errMsg := ""
		if len(parts) > 4 {
			errMsg = strings.TrimSpace(strings.Join(parts[4:], " | "))
		}
		return LogEntry{
			Timestamp: timestamp,
			Filename:  filename,
			Attempt:   attempt,
			Result:    resultMatch,
			Error:     errMsg,
		}, true
	}

	if strings.Contains(line, "result=") {
		fileMatch := kvFileRe.FindStringSubmatch(line)
		attemptMatch := kvAttRe.FindStringSubmatch(line)
		resultMatch := kvResultRe.FindStringSubmatch(line)
		if fileMatch == nil || attemptMatch == nil || resultMatch == nil {
			return LogEntry{}, false
		}
		attempt, _ := strconv.Atoi(attemptMatch[1])
		errMsg := ""
		if errorMatch := kvErrorRe.FindStringSubmatch(line); errorMatch != nil {
			errMsg = errorMatch[1]
		}
		return LogEntry{
			Timestamp: timestamp,
			Filename:  strings.TrimSpace(fileMatch[1]),
			Attempt:   attempt,
			Result:    resultMatch[1],
			Error:     errMsg,
		}, true
	}

	return LogEntry{}, false
}

// ReadRecent parses the newest upload log file and returns up to limit
// entries, most recent first.
func ReadRecent(logDir string, limit int) ([]LogEntry, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []LogEntry{}, nil
		}
		return nil, err
	}

	latest := ""
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, logPrefix+"-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		// Daily log names sort chronologically.
		if name > latest {
			latest = name
		}
	}
	if latest == "" {
		return []LogEntry{}, nil
	}

	content, err := os.ReadFile(filepath.Join(logDir, latest))
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")

	parsed := make([]LogEntry, 0, limit)
	for _, line := range lines {
		if line == "" {
			continue
		}
		if entry, ok := ParseLogLine(line); ok {
			parsed = append(parsed, entry)
		}
	}
	if len(parsed) > limit {
		parsed = parsed[len(parsed)-limit:]
	}
	// Newest first.
	for i, j := 0, len(parsed)-1; i < j; i, j = i+1, j-1 {
		parsed[i], parsed[j] = parsed[j], parsed[i]
	}
	return parsed, nil
}

// ReadStatus aggregates the most recent log entries into dashboard counts.
func ReadStatus(logDir string, limit int) (LogStatus, error) {
	entries, err := ReadRecent(logDir, limit)
	if err != nil {
		return LogStatus{}, err
	}
	status := LogStatus{TotalCount: len(entries)}
	for _, e := range entries {
		switch e.Result {
		case "SUCCESS":
			status.SuccessCount++
		case "FAILED":
			status.FailedCount++
		}
	}
	return status, nil
}
