// Package applog is the proxy's logging surface: a local line on the
// standard logger (stderr unless redirected) plus a
// best-effort push to Loki, gated per level. It mirrors the logging shape
// used elsewhere in this codebase's lineage, trimmed to the handful of
// events a one-shot forward-proxy exchange actually produces.
package applog

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	lokiURL    string
	lokiOnce   sync.Once
	lokiClient = &http.Client{Timeout: 200 * time.Millisecond}

	infoEnabled  = true
	debugEnabled = false
	errorEnabled = true
)

// initLoki lazily reads configs/config.yaml (or .yml) for a Loki push URL
// and logging-level toggles. Absent a config file, logging stays local-only.
func initLoki() {
	lokiURL = ""

	cfgFile := ""
	for _, c := range []string{"configs/config.yaml", "configs/config.yml"} {
		if _, err := os.Stat(c); err == nil {
			cfgFile = c
			break
		}
	}
	if cfgFile != "" {
		var cfg struct {
			Logging *struct {
				LokiURL      string `yaml:"loki_url"`
				InfoEnabled  *bool  `yaml:"info_enabled"`
				DebugEnabled *bool  `yaml:"debug_enabled"`
				ErrorEnabled *bool  `yaml:"error_enabled"`
			} `yaml:"logging"`
		}
		if b, err := os.ReadFile(cfgFile); err == nil {
			if err := yaml.Unmarshal(b, &cfg); err == nil && cfg.Logging != nil {
				if strings.TrimSpace(cfg.Logging.LokiURL) != "" {
					lokiURL = strings.TrimSpace(cfg.Logging.LokiURL)
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
			}
		}
	}

	if lokiURL != "" && !strings.Contains(lokiURL, "/loki/api/v1/push") {
		lokiURL = strings.TrimRight(lokiURL, "/") + "/loki/api/v1/push"
	}
}

func levelEnabled(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return debugEnabled
	case "error":
		return errorEnabled
	default:
		return infoEnabled
	}
}

func logEnabled() bool {
	if flag.Lookup("test.v") != nil || flag.Lookup("test.run") != nil {
		return false
	}
	return true
}

// Emit prints line locally (if enabled) and pushes it to Loki with a
// "level" label. app identifies the subsystem (e.g. "acceptor", "worker").
func Emit(level, app string, labels map[string]string, line string) {
	lvl := strings.ToLower(level)
	if logEnabled() && levelEnabled(lvl) {
		log.Print(line)
	}
	pushLoki(lvl, app, labels, line)
}

func pushLoki(level, app string, labels map[string]string, line string) {
	lokiOnce.Do(initLoki)
	if lokiURL == "" || !levelEnabled(level) {
		return
	}

	lbls := map[string]string{"app": app, "level": level}
	for k, v := range labels {
		if strings.TrimSpace(k) == "" {
			continue
		}
		lbls[k] = v
	}

	ts := strconv.FormatInt(time.Now().UnixNano(), 10)
	payload := struct {
		Streams []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"streams"`
	}{
		Streams: []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		}{
			{Stream: lbls, Values: [][2]string{{ts, line}}},
		},
	}

	b, _ := json.Marshal(payload)
	req, err := http.NewRequest("POST", lokiURL, bytes.NewReader(b))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	_, _ = lokiClient.Do(req) // fire-and-forget
}

// MustHostname returns the current hostname or "unknown" on error.
func MustHostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

// LogAccept records a newly accepted connection.
func LogAccept(remoteAddr string) {
	Emit("info", "acceptor", map[string]string{"remote": remoteAddr},
		fmt.Sprintf("ACCEPT remote=%s host=%s", remoteAddr, MustHostname()))
}

// LogRequest records a parsed, well-formed request before the cache lookup.
func LogRequest(remoteAddr, method, uri string) {
	Emit("info", "worker", map[string]string{"remote": remoteAddr, "method": method, "url": uri},
		fmt.Sprintf("REQ remote=%s method=%s url=%s", remoteAddr, method, uri))
}

// LogCacheHit records a request served entirely from cache.
func LogCacheHit(remoteAddr, uri string, bytesWritten int) {
	Emit("info", "worker", map[string]string{"remote": remoteAddr, "url": uri, "cache": "HIT"},
		fmt.Sprintf("RESP remote=%s url=%s cache=HIT bytes=%d", remoteAddr, uri, bytesWritten))
}

// LogCacheMiss records a request that required an origin fetch, and whether
// the response was inserted into the cache afterward.
func LogCacheMiss(remoteAddr, uri string, bytesWritten int, cached bool) {
	Emit("info", "worker", map[string]string{"remote": remoteAddr, "url": uri, "cache": "MISS"},
		fmt.Sprintf("RESP remote=%s url=%s cache=MISS bytes=%d stored=%t", remoteAddr, uri, bytesWritten, cached))
}

// LogClientError records a request rejected before it reached the origin
// (parse failure, unsupported method, unsupported scheme or version).
func LogClientError(remoteAddr string, status int, reason string) {
	Emit("error", "worker", map[string]string{"remote": remoteAddr, "status": strconv.Itoa(status)},
		fmt.Sprintf("ERROR remote=%s status=%d reason=%s", remoteAddr, status, reason))
}

// LogOriginError records a failure reaching or reading from the origin
// server. The client already has whatever bytes were forwarded before the
// failure, if any.
func LogOriginError(remoteAddr, uri string, err error) {
	Emit("error", "worker", map[string]string{"remote": remoteAddr, "url": uri},
		fmt.Sprintf("ERROR remote=%s url=%s origin_err=%v", remoteAddr, uri, err))
}

// LogFatal records a startup failure (listen or cache init) immediately
// before the process exits.
func LogFatal(component string, err error) {
	Emit("error", component, nil, fmt.Sprintf("FATAL component=%s err=%v", component, err))
}
