package system

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

var audioExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".aac", ".flac"}

// InitResourceLimits raises the open file limit. The browser surface and
// the frame sink keep many descriptors open at once.
func InitResourceLimits(logger zerolog.Logger) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logger.Warn().Err(err).Msg("Не удалось получить лимит файлов")
		return
	}

	rLimit.Cur = 2048
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		logger.Warn().Err(err).Msg("Не удалось установить лимит файлов")
		return
	}
	logger.Debug().Uint64("nofile", uint64(rLimit.Cur)).Msg("File limit raised")
}

// FindLatestAudio returns the most recently modified audio file in dir
func FindLatestAudio(dir string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() || !IsAudio(f.Name()) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("no audio files in %s", dir)
	}
	return latestFile, nil
}

// IsAudio reports whether name has a known audio extension
func IsAudio(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range audioExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// GetAudioDuration asks ffprobe for the container duration in seconds
func GetAudioDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return ParseDuration(string(out))
}

// ParseDuration parses ffprobe's bare duration output
func ParseDuration(out string) (float64, error) {
	d, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", strings.TrimSpace(out))
	}
	if d <= 0 {
		return 0, fmt.Errorf("non-positive duration %f", d)
	}
	return d, nil
}

// GetBestH264Encoder picks a hardware encoder when ffmpeg has one
func GetBestH264Encoder(ctx context.Context) string {
	// Приоритеты:
	// 1. MacOS (VideoToolbox)
	// 2. NVIDIA (NVENC)
	// 3. Software (libx264)
	out, err := exec.CommandContext(ctx, "ffmpeg", "-hide_banner", "-encoders").CombinedOutput()
	if err != nil {
		return "libx264"
	}
	return pickEncoder(string(out))
}

func pickEncoder(list string) string {
	for _, name := range []string{"h264_videotoolbox", "h264_nvenc"} {
		if strings.Contains(list, name) {
			return name
		}
	}
	return "libx264"
}

// HasBinary reports whether name is on PATH
func HasBinary(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// ResourceReport is a snapshot of host and process usage
type ResourceReport struct {
	CPUs        int
	CPUPercent  float64
	MemTotalMB  uint64
	MemUsedPct  float64
	ProcessRSS  uint64
	NumThreads  int32
	CollectedAt time.Time
}

// CollectResources samples host and process state. Fields that cannot be
// read on this platform stay zero.
func CollectResources(ctx context.Context) ResourceReport {
	r := ResourceReport{CollectedAt: time.Now()}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		r.CPUs = n
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		r.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		r.MemTotalMB = vm.Total / 1024 / 1024
		r.MemUsedPct = vm.UsedPercent
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			r.ProcessRSS = mi.RSS
		}
		if n, err := p.NumThreadsWithContext(ctx); err == nil {
			r.NumThreads = n
		}
	}
	return r
}

func (r ResourceReport) String() string {
	return fmt.Sprintf("CPUs: %d (%.1f%%) | Mem: %d MB (%.1f%% used) | RSS: %d MB | Threads: %d",
		r.CPUs, r.CPUPercent, r.MemTotalMB, r.MemUsedPct, r.ProcessRSS/1024/1024, r.NumThreads)
}
