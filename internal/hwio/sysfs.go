package hwio

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/legionctl/internal/errors"
)

const (
	powerSupplyRoot = "/sys/class/power_supply"
	meminfoPath     = "/proc/meminfo"

	microWattsPerWatt = 1_000_000
)

// PlatformTelemetry reads battery, AC and memory state from the OS.
type PlatformTelemetry interface {
	BatteryPercent() (int, error)
	OnAC() (bool, error)
	DischargeRateW() (float64, error)
	MemoryUsedPercent() (float64, error)
}

// sysfsTelemetry is the Linux implementation backed by sysfs and procfs.
type sysfsTelemetry struct {
	batteryDir string
	acDir      string
}

// NewPlatformTelemetry probes sysfs for the battery and AC adapter nodes.
func NewPlatformTelemetry() (PlatformTelemetry, error) {
	errFactory := errors.New()

	entries, err := os.ReadDir(powerSupplyRoot)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrResourceNotFound, err)
	}

	t := &sysfsTelemetry{}
	for _, entry := range entries {
		dir := filepath.Join(powerSupplyRoot, entry.Name())
		kind, err := readSysfsString(filepath.Join(dir, "type"))
		if err != nil {
			continue
		}
		switch kind {
		case "Battery":
			if t.batteryDir == "" {
				t.batteryDir = dir
			}
		case "Mains":
			if t.acDir == "" {
				t.acDir = dir
			}
		}
	}

	if t.batteryDir == "" {
		return nil, errFactory.WithMessage(errors.ErrResourceNotFound, "no battery power supply found")
	}

	return t, nil
}

func (t *sysfsTelemetry) BatteryPercent() (int, error) {
	return readSysfsInt(filepath.Join(t.batteryDir, "capacity"))
}

func (t *sysfsTelemetry) OnAC() (bool, error) {
	if t.acDir == "" {
		status, err := readSysfsString(filepath.Join(t.batteryDir, "status"))
		if err != nil {
			return false, err
		}
		return status != "Discharging", nil
	}

	online, err := readSysfsInt(filepath.Join(t.acDir, "online"))
	if err != nil {
		return false, err
	}

	return online == 1, nil
}

func (t *sysfsTelemetry) DischargeRateW() (float64, error) {
	status, err := readSysfsString(filepath.Join(t.batteryDir, "status"))
	if err != nil {
		return 0, err
	}
	if status != "Discharging" {
		return 0, nil
	}

	power, err := readSysfsInt(filepath.Join(t.batteryDir, "power_now"))
	if err != nil {
		return 0, err
	}

	return float64(power) / microWattsPerWatt, nil
}

func (t *sysfsTelemetry) MemoryUsedPercent() (float64, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(meminfoPath)
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrResourceNotFound, err)
	}

	var total, available float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = value
		case "MemAvailable:":
			available = value
		}
	}

	if total <= 0 {
		return 0, errFactory.WithMessage(errors.ErrInternal, "MemTotal missing from meminfo")
	}

	return (total - available) / total * 100, nil
}

func readSysfsString(path string) (string, error) {
	errFactory := errors.New()
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errFactory.Wrap(errors.ErrResourceNotFound, err)
	}

	return strings.TrimSpace(string(data)), nil
}

func readSysfsInt(path string) (int, error) {
	errFactory := errors.New()
	raw, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrInternal, err)
	}

	return value, nil
}
