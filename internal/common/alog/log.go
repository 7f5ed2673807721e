// internal/common/alog/log.go
// logrus setup shared by every binary and package

package alog

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

func init() {
	log.SetReportCaller(true)
	log.SetFormatter(&log.JSONFormatter{CallerPrettyfier: caller})
	log.SetOutput(os.Stdout)
}

// Configure sets the global level and formatter. format is "json" or "text".
func Configure(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	log.SetReportCaller(true)

	switch format {
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, CallerPrettyfier: caller})
	default:
		log.SetFormatter(&log.JSONFormatter{CallerPrettyfier: caller})
	}
	return nil
}

// Logger returns an entry on the standard logger. Entries are safe to keep:
// the file and function of each line are resolved when it is written.
func Logger() *log.Entry {
	return log.NewEntry(log.StandardLogger())
}

// caller trims the reported frame to "pkg/file.go:line" and the bare
// function name
func caller(f *runtime.Frame) (function string, file string) {
	filename := f.File
	if index := strings.LastIndex(filename, "/"); index > 0 {
		if index2 := strings.LastIndex(filename[0:index], "/"); index2 >= 0 {
			filename = filename[index2+1:]
		}
	}
	filename += ":" + strconv.Itoa(f.Line)

	fn := f.Function[strings.LastIndex(f.Function, ".")+1:]
	return fn, filename
}
