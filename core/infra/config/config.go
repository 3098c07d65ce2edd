package config

import "os"

const (
	defaultConfigPath  = "config/shuyuan.yaml"
	defaultDataDir     = "data"
	defaultUploadDir   = "uploads"
	defaultHTTPAddr    = ":8080"
	defaultMetricsAddr = ":9092"
	envConfigPath      = "SHUYUAN_CONFIG"
	envDataDir         = "SHUYUAN_DATA_DIR"
	envUploadDir       = "SHUYUAN_UPLOAD_DIR"
	envHTTPAddr        = "SHUYUAN_HTTP_ADDR"
	envMetricsAddr     = "SHUYUAN_METRICS_ADDR"
)

// Process holds process-level settings that never change at runtime:
// listen addresses and filesystem locations. Behavioral settings live in
// the hot-reloadable Snapshot.
type Process struct {
	ConfigPath  string
	DataDir     string
	UploadDir   string
	HTTPAddr    string
	MetricsAddr string
}

// LoadProcess returns process settings from environment variables with
// sane defaults.
func LoadProcess() *Process {
	cfgPath := os.Getenv(envConfigPath)
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}
	dataDir := os.Getenv(envDataDir)
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	uploadDir := os.Getenv(envUploadDir)
	if uploadDir == "" {
		uploadDir = defaultUploadDir
	}
	httpAddr := os.Getenv(envHTTPAddr)
	if httpAddr == "" {
		httpAddr = defaultHTTPAddr
	}
	metricsAddr := os.Getenv(envMetricsAddr)
	if metricsAddr == "" {
		metricsAddr = defaultMetricsAddr
	}
	return &Process{
		ConfigPath:  cfgPath,
		DataDir:     dataDir,
		UploadDir:   uploadDir,
		HTTPAddr:    httpAddr,
		MetricsAddr: metricsAddr,
	}
}
