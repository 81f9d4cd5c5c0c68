package resources

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
)

// NanoCPUs is the number of Docker nanocpu units in one core.
const NanoCPUs = 1_000_000_000

// Limits is a parsed container resource cap. Zero fields are unlimited.
type Limits struct {
	NanoCPUs int64
	Memory   int64
}

// Parse converts the textual cpus and memory quantities of a backend into
// engine units. Empty strings leave the corresponding limit unset.
func Parse(cpus, memory string) (Limits, error) {
	var limits Limits
	nano, err := ParseCPU(cpus)
	if err != nil {
		return Limits{}, err
	}
	limits.NanoCPUs = nano
	bytes, err := ParseMemory(memory)
	if err != nil {
		return Limits{}, err
	}
	limits.Memory = bytes
	return limits, nil
}

// ParseCPU converts a CPU quantity such as "0.5" or "500m" into nanocpus.
func ParseCPU(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	number, scale := trimmed, 1.0
	if strings.HasSuffix(trimmed, "m") || strings.HasSuffix(trimmed, "M") {
		number = strings.TrimSpace(trimmed[:len(trimmed)-1])
		scale = 1000.0
	}
	if number == "" {
		return 0, fmt.Errorf("invalid cpu quantity %q", value)
	}
	parsed, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cpu quantity %q: %w", value, err)
	}
	cores := parsed / scale
	if cores <= 0 || math.IsNaN(cores) || math.IsInf(cores, 0) {
		return 0, fmt.Errorf("invalid cpu quantity %q: must be positive", value)
	}
	nano := math.Round(cores * NanoCPUs)
	if nano > math.MaxInt64 {
		return 0, fmt.Errorf("invalid cpu quantity %q: exceeds supported range", value)
	}
	return int64(math.Max(nano, 1)), nil
}

// ParseMemory converts a memory quantity such as "512Mi" or "1g" into bytes.
func ParseMemory(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	// go-units expects "MiB"; accept the shorter "Mi" form as well.
	lower := strings.ToLower(trimmed)
	for _, suffix := range []string{"ki", "mi", "gi", "ti", "pi", "ei"} {
		if strings.HasSuffix(lower, suffix) {
			trimmed += "B"
			break
		}
	}
	bytes, err := units.RAMInBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid memory quantity %q: %w", value, err)
	}
	if bytes <= 0 {
		return 0, fmt.Errorf("invalid memory quantity %q: must be positive", value)
	}
	return bytes, nil
}
