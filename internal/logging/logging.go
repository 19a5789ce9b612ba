package logging

import (
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	chmw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const repoMarker = "github.com/TiredShaman/assessmatefinal/"

var (
	logger    = logrus.New()
	hooksOnce sync.Once
)

// CtxKey is a typed key for storing values in context without collisions across packages.
type CtxKey string

// Standard context keys used by logging hooks.
const (
	ContextRequestID CtxKey = "request_id"
	ContextUserID    CtxKey = "user_id"
	ContextLang      CtxKey = "lang"
)

// contextHook copies request scoped values from the entry context into its fields.
type contextHook struct{}

func (contextHook) Levels() []logrus.Level { return logrus.AllLevels }

func (contextHook) Fire(e *logrus.Entry) error {
	if e.Context == nil {
		return nil
	}
	if _, exists := e.Data["request_id"]; !exists {
		if rid := chmw.GetReqID(e.Context); rid != "" {
			e.Data["request_id"] = rid
		}
	}
	if s, ok := e.Context.Value(ContextUserID).(string); ok && s != "" {
		if _, exists := e.Data["user_id"]; !exists {
			e.Data["user_id"] = s
		}
	}
	return nil
}

// moduleHook tags entries with the package they were logged from, e.g. "internal/oauth".
// An explicitly set module is kept.
type moduleHook struct{}

func (moduleHook) Levels() []logrus.Level { return logrus.AllLevels }

func (moduleHook) Fire(e *logrus.Entry) error {
	if _, exists := e.Data["module"]; exists {
		return nil
	}
	if m := computeModule(); m != "" {
		e.Data["module"] = m
	}
	return nil
}

// computeModule walks the call stack up to the first frame that belongs to this
// repository and is not logrus or this package.
func computeModule() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if fn := frame.Function; fn != "" &&
			(strings.Contains(fn, "github.com/sirupsen/logrus") || strings.Contains(fn, repoMarker+"internal/logging")) {
			if !more {
				break
			}
			continue
		}
		if m := moduleFromPath(frame.File); m != "" {
			return m
		}
		if !more {
			break
		}
	}
	return ""
}

// moduleFromPath maps ".../assessmatefinal/internal/oauth/oidc.go" to "internal/oauth".
func moduleFromPath(file string) string {
	i := strings.Index(file, repoMarker)
	if i < 0 {
		return ""
	}
	parts := strings.Split(file[i+len(repoMarker):], "/")
	if len(parts) < 2 {
		return ""
	}
	switch parts[0] {
	case "internal", "cmd":
		return parts[0] + "/" + parts[1]
	case "vendor":
		return ""
	}
	return parts[0]
}

var canonicalFieldOrder = []string{
	"time",
	"module",
	"level",
	"handler",
	"method",
	"path",
	"route",
	"status",
	"size",
	// auth
	"provider",
	"outcome",
	"target",
	"role",
	// gorm
	"rows",
	"sql",
	"slow",
	"threshold_ms",
	"user_id",
	"request_id",
	"duration_ms",
}

var fieldPriority = func() map[string]int {
	m := make(map[string]int, len(canonicalFieldOrder))
	for i, k := range canonicalFieldOrder {
		m[k] = i
	}
	return m
}()

// sortKeysCanonical puts known keys in canonical order, then the rest alphabetically with "error" last.
func sortKeysCanonical(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		pi, iok := fieldPriority[keys[i]]
		pj, jok := fieldPriority[keys[j]]
		switch {
		case iok && jok:
			return pi < pj
		case iok:
			return true
		case jok:
			return false
		}
		il, jl := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if il == "error" || jl == "error" {
			return jl == "error" && il != "error"
		}
		return il < jl
	})
}

// Init configures the global logger. Debug enables debug level, jsonFormat selects
// the JSON formatter instead of text with full timestamps.
func Init(debug bool, jsonFormat bool) {
	level := logrus.InfoLevel
	if debug {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)
	logger.SetOutput(os.Stdout)
	hooksOnce.Do(func() {
		logger.AddHook(moduleHook{})
		logger.AddHook(contextHook{})
	})

	if jsonFormat {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, SortingFunc: sortKeysCanonical})
	}
}

// SetOutput redirects the global logger, mostly for tests.
func SetOutput(w io.Writer) { logger.SetOutput(w) }

// L returns the configured global logger.
func L() *logrus.Logger { return logger }
