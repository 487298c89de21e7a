// Package config loads the YAML file that drives a manifest run. Every
// section has a default, so an empty file (or no file) is a valid
// predictive run over ./artifacts.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/blob"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/codehash"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/log"
	"github.com/PayRpc/PayRox-Go-Beyond-Production-sub000/plan"
)

// Environment variables read by ApplyEnv.
const (
	EnvRPCURL         = "RPC_URL"
	EnvDeployedFacets = "DEPLOYED_FACETS"
	EnvReferencePath  = "REFERENCE_PATH"
)

// File is the full run configuration.
type File struct {
	Mode          string               `yaml:"mode"`
	ChainID       uint64               `yaml:"chainId"`
	Epoch         uint64               `yaml:"epoch"`
	ArtifactsDir  string               `yaml:"artifactsDir"`
	OutputDir     string               `yaml:"outputDir"`
	ReferencePath string               `yaml:"referencePath"`
	TimelockDelay time.Duration        `yaml:"timelockDelay"`
	Build         codehash.BuildConfig `yaml:"build"`

	Predictive PredictiveConfig `yaml:"predictive"`
	Observed   ObservedConfig   `yaml:"observed"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Sink       blob.Config      `yaml:"sink"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// PredictiveConfig controls CREATE2 facet address prediction.
type PredictiveConfig struct {
	Factory        string            `yaml:"factory"`
	SaltPrefix     string            `yaml:"saltPrefix"`
	FacetAddresses map[string]string `yaml:"facetAddresses"`
}

// ObservedConfig points an observed run at a live chain.
type ObservedConfig struct {
	RPCURL         string            `yaml:"rpcUrl"`
	DeployedFacets map[string]string `yaml:"deployedFacets"`
	Concurrency    int               `yaml:"concurrency"`
	Timeout        time.Duration     `yaml:"timeout"`
}

// LedgerConfig locates the run ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig controls the end-of-run metrics textfile.
type MetricsConfig struct {
	Textfile  string `yaml:"textfile"`
	Namespace string `yaml:"namespace"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a File with the production defaults.
func Default() *File {
	return &File{
		Mode:          string(codehash.Predictive),
		ChainID:       1,
		Epoch:         1,
		ArtifactsDir:  "./artifacts",
		OutputDir:     "./split-output",
		TimelockDelay: plan.DefaultTimelockDelay,
		Build:         codehash.DefaultBuildConfig(),
		Predictive: PredictiveConfig{
			SaltPrefix: "payrox.facet.",
		},
		Observed: ObservedConfig{
			Concurrency: codehash.DefaultConcurrency,
			Timeout:     30 * time.Second,
		},
		Sink: blob.Config{Driver: blob.DriverFilesystem},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults. Unknown keys are
// rejected.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*File, error) {
	f := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if f.Build.LibraryAddresses == nil {
		f.Build.LibraryAddresses = map[string]string{}
	}
	return f, nil
}

// ApplyEnv overrides fields from the environment. DEPLOYED_FACETS is a JSON
// object of facet name to address and replaces the configured map.
func (f *File) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvRPCURL); v != "" {
		f.Observed.RPCURL = v
	}
	if v := getenv(EnvReferencePath); v != "" {
		f.ReferencePath = v
	}
	if v := getenv(EnvDeployedFacets); v != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return fmt.Errorf("config: %s is not a JSON object: %w", EnvDeployedFacets, err)
		}
		f.Observed.DeployedFacets = m
	}
	return nil
}

var (
	logLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	logFormats = map[string]bool{"text": true, "json": true}
)

// Validate checks the configuration and returns the first problem found.
func (f *File) Validate() error {
	mode, err := codehash.ParseMode(f.Mode)
	if err != nil {
		return fmt.Errorf("config: invalid mode %q", f.Mode)
	}
	if f.ChainID == 0 {
		return fmt.Errorf("config: chainId must be > 0")
	}
	if f.OutputDir == "" && (f.Sink.Driver == "" || f.Sink.Driver == blob.DriverFilesystem) && f.Sink.Root == "" {
		return fmt.Errorf("config: outputDir must be set")
	}
	if f.TimelockDelay <= 0 {
		return fmt.Errorf("config: timelockDelay must be > 0, got %s", f.TimelockDelay)
	}
	if err := f.Build.Validate(); err != nil {
		return err
	}
	switch mode {
	case codehash.Predictive:
		if f.ArtifactsDir == "" {
			return fmt.Errorf("config: artifactsDir must be set in predictive mode")
		}
		if f.Predictive.Factory != "" && !common.IsHexAddress(f.Predictive.Factory) {
			return fmt.Errorf("config: invalid factory address %q", f.Predictive.Factory)
		}
		if err := checkAddresses("facetAddresses", f.Predictive.FacetAddresses); err != nil {
			return err
		}
	case codehash.Observed:
		if f.Observed.RPCURL == "" {
			return fmt.Errorf("config: rpcUrl must be set in observed mode")
		}
		if len(f.Observed.DeployedFacets) == 0 {
			return fmt.Errorf("config: deployedFacets must not be empty in observed mode")
		}
		if err := checkAddresses("deployedFacets", f.Observed.DeployedFacets); err != nil {
			return err
		}
		if f.Observed.Concurrency < 0 {
			return fmt.Errorf("config: concurrency must be >= 0, got %d", f.Observed.Concurrency)
		}
		if f.Observed.Timeout < 0 {
			return fmt.Errorf("config: timeout must be >= 0, got %s", f.Observed.Timeout)
		}
	}
	switch f.Sink.Driver {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if f.Sink.Bucket == "" {
			return fmt.Errorf("config: sink bucket must be set for the s3 driver")
		}
	default:
		return fmt.Errorf("config: unknown sink driver %q", f.Sink.Driver)
	}
	if !logLevels[strings.ToLower(f.Log.Level)] {
		return fmt.Errorf("config: unknown log level %q", f.Log.Level)
	}
	if !logFormats[strings.ToLower(f.Log.Format)] {
		return fmt.Errorf("config: unknown log format %q", f.Log.Format)
	}
	return nil
}

func checkAddresses(field string, m map[string]string) error {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !common.IsHexAddress(m[name]) {
			return fmt.Errorf("config: %s.%s has invalid address %q", field, name, m[name])
		}
	}
	return nil
}

// CodehashMode returns the parsed mode. Call Validate first.
func (f *File) CodehashMode() codehash.Mode {
	m, _ := codehash.ParseMode(f.Mode)
	return m
}

// DeployedAddresses parses the observed-mode facet map.
func (f *File) DeployedAddresses() (map[string]common.Address, error) {
	return parseAddresses("deployedFacets", f.Observed.DeployedFacets)
}

// AddressPlan returns the predictive-mode address settings.
func (f *File) AddressPlan() (codehash.AddressPlan, error) {
	p := codehash.AddressPlan{SaltPrefix: f.Predictive.SaltPrefix}
	if f.Predictive.Factory != "" {
		if !common.IsHexAddress(f.Predictive.Factory) {
			return p, fmt.Errorf("config: invalid factory address %q", f.Predictive.Factory)
		}
		p.Factory = common.HexToAddress(f.Predictive.Factory)
	}
	overrides, err := parseAddresses("facetAddresses", f.Predictive.FacetAddresses)
	if err != nil {
		return p, err
	}
	p.Overrides = overrides
	return p, nil
}

func parseAddresses(field string, m map[string]string) (map[string]common.Address, error) {
	if err := checkAddresses(field, m); err != nil {
		return nil, err
	}
	out := make(map[string]common.Address, len(m))
	for name, addr := range m {
		out[name] = common.HexToAddress(addr)
	}
	return out, nil
}

// SinkConfig returns the artifact sink settings. A filesystem sink without
// its own root writes to OutputDir.
func (f *File) SinkConfig() blob.Config {
	c := f.Sink
	if (c.Driver == "" || c.Driver == blob.DriverFilesystem) && c.Root == "" {
		c.Root = f.OutputDir
	}
	return c
}

// NewLogger builds the logger described by the log section, writing to w.
func (f *File) NewLogger(w io.Writer) *log.Logger {
	level := log.ParseLevel(f.Log.Level)
	if strings.EqualFold(f.Log.Format, "json") {
		return log.NewWithHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return log.NewText(w, level)
}
