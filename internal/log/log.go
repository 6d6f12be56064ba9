// Package applog is the engine's structured logger: local stdout
// lines gated by level toggles, optionally shipped to a Loki push
// endpoint. Every log line carries an instance ID so output from
// multiple supervised proxies can be told apart.
package applog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Metrics struct {
		LokiURL string `yaml:"loki_url"`
	} `yaml:"metrics"`
	Logging struct {
		InfoEnabled  *bool `yaml:"info_enabled"`
		DebugEnabled *bool `yaml:"debug_enabled"`
		ErrorEnabled *bool `yaml:"error_enabled"`
	} `yaml:"logging"`
}

var (
	initOnce sync.Once

	lokiURL    string
	lokiClient = &http.Client{Timeout: 200 * time.Millisecond}

	infoEnabled  = true
	debugEnabled = false
	errorEnabled = true
)

func initFromConfig() {
	initOnce.Do(func() {
		for _, candidate := range []string{"configs/config.yaml", "configs/config.yml"} {
			raw, err := os.ReadFile(candidate)
			if err != nil {
				continue
			}
			var cfg fileConfig
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				continue
			}
			if cfg.Metrics.LokiURL != "" {
				lokiURL = normalizeLokiURL(cfg.Metrics.LokiURL)
			}
			if cfg.Logging.InfoEnabled != nil {
				infoEnabled = *cfg.Logging.InfoEnabled
			}
			if cfg.Logging.DebugEnabled != nil {
				debugEnabled = *cfg.Logging.DebugEnabled
			}
			if cfg.Logging.ErrorEnabled != nil {
				errorEnabled = *cfg.Logging.ErrorEnabled
			}
			break
		}
	})
}

func normalizeLokiURL(base string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base + "/loki/api/v1/push"
}

// Level names used both for the local toggle gate and the Loki label.
const (
	LevelInfo  = "info"
	LevelDebug = "debug"
	LevelWarn  = "warn"
	LevelError = "error"
)

func levelEnabled(level string) bool {
	switch level {
	case LevelDebug:
		return debugEnabled
	case LevelError:
		return errorEnabled
	default:
		return infoEnabled
	}
}

// Emit writes a local log line (when the level is enabled) and
// fire-and-forget pushes the same line to Loki if configured.
func Emit(level, instanceID string, line string) {
	initFromConfig()
	if levelEnabled(level) {
		log.Printf("[%s] %s %s", level, instanceID, line)
	}
	pushLoki(level, instanceID, line)
}

func pushLoki(level, instanceID, line string) {
	if lokiURL == "" {
		return
	}
	payload := map[string]interface{}{
		"streams": []map[string]interface{}{
			{
				"stream": map[string]string{
					"level":    level,
					"instance": instanceID,
					"app":      "capture-proxy",
				},
				"values": [][2]string{
					{strconv.FormatInt(time.Now().UnixNano(), 10), line},
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	go func() {
		resp, err := lokiClient.Post(lokiURL, "application/json", bytes.NewReader(body))
		if err != nil {
			return
		}
		_ = resp.Body.Close()
	}()
}

// Infof, Debugf, Warnf, Errorf are the call-site-friendly wrappers
// used throughout the pipeline and supervisor.
func Infof(instanceID, format string, args ...interface{}) {
	Emit(LevelInfo, instanceID, fmt.Sprintf(format, args...))
}

func Debugf(instanceID, format string, args ...interface{}) {
	Emit(LevelDebug, instanceID, fmt.Sprintf(format, args...))
}

func Warnf(instanceID, format string, args ...interface{}) {
	Emit(LevelWarn, instanceID, fmt.Sprintf(format, args...))
}

func Errorf(instanceID, format string, args ...interface{}) {
	Emit(LevelError, instanceID, fmt.Sprintf(format, args...))
}
