package capability

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"gpurelay/internal/model"
	"gpurelay/pkg/config"
	"gpurelay/pkg/interfaces"
	"gpurelay/pkg/logger"
)

// DefaultModels advertised by a GPU host when none are configured
var DefaultModels = []string{"meta-llama/Llama-2-7b-chat-hf", "mistralai/Mistral-7B-v0.1"}

const queryTimeout = 10 * time.Second

// Placeholder is reported when discovery fails: the worker still registers but matches no jobs
func Placeholder() (model.Capabilities, []string) {
	return model.Capabilities{"gpu_model": "N/A", "vram": 0.0}, []string{}
}

// New creates the discoverer selected by configuration
func New(cfg config.CapabilityConfig) (interfaces.CapabilityDiscoverer, error) {
	switch cfg.Source {
	case "static", "":
		return NewStatic(cfg), nil
	case "nvidia-smi":
		return NewNvidiaSMI(cfg.SupportedModels), nil
	default:
		return nil, fmt.Errorf("unsupported capability source: %s", cfg.Source)
	}
}

// Static reports capabilities taken from configuration
type Static struct {
	gpuModel string
	vram     float64
	models   []string
}

// NewStatic creates a static discoverer
func NewStatic(cfg config.CapabilityConfig) *Static {
	return &Static{
		gpuModel: cfg.GPUModel,
		vram:     cfg.VRAMGB,
		models:   append([]string(nil), cfg.SupportedModels...),
	}
}

// Discover returns the configured capabilities
func (s *Static) Discover(ctx context.Context) (model.Capabilities, []string) {
	gpuModel := s.gpuModel
	if gpuModel == "" {
		gpuModel = "N/A"
	}
	models := append([]string{}, s.models...)
	return model.Capabilities{"gpu_model": gpuModel, "vram": s.vram}, models
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// NvidiaSMI queries the first GPU through nvidia-smi
type NvidiaSMI struct {
	models []string
	run    commandRunner
}

// NewNvidiaSMI creates a discoverer advertising models when a GPU is found
func NewNvidiaSMI(models []string) *NvidiaSMI {
	if len(models) == 0 {
		models = DefaultModels
	}
	return &NvidiaSMI{
		models: append([]string(nil), models...),
		run:    runCommand,
	}
}

// Discover reports the GPU name and memory (GB), or the placeholder when the query fails
func (n *NvidiaSMI) Discover(ctx context.Context) (model.Capabilities, []string) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	out, err := n.run(queryCtx, "nvidia-smi", "--query-gpu=name,memory.total", "--format=csv,noheader,nounits")
	if err != nil {
		logger.WarnCtx(ctx, "gpu discovery failed, registering with placeholder capabilities: %v", err)
		return Placeholder()
	}

	gpuModel, vram, err := parseQuery(string(out))
	if err != nil {
		logger.WarnCtx(ctx, "gpu discovery output not understood, registering with placeholder capabilities: %v", err)
		return Placeholder()
	}

	return model.Capabilities{"gpu_model": gpuModel, "vram": vram}, append([]string{}, n.models...)
}

// parseQuery reads the first line of "name, memory.total(MiB)"
func parseQuery(out string) (string, float64, error) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	if line == "" {
		return "", 0, fmt.Errorf("no gpu reported")
	}
	fields := strings.Split(line, ",")
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("unexpected nvidia-smi output: %q", line)
	}
	mib, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid memory value: %w", err)
	}
	vram := math.Round(mib/1024*100) / 100
	return strings.TrimSpace(fields[0]), vram, nil
}
