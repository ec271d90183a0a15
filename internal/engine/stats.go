package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ivlev/timeline2video/internal/system"
)

type perfReport struct {
	Timeline string
	Frames   int
	Mounts   int
	Total    time.Duration
	Render   time.Duration
	Mux      time.Duration
}

// report prints the performance report and appends a line to benchmark.log
func (p *VideoProject) report(ctx context.Context, r perfReport) {
	fps := float64(r.Frames) / r.Render.Seconds()
	res := system.CollectResources(ctx)

	fmt.Printf(
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Total Time: %.2fs\n"+
			"Rendering: %.2fs (%d frames, %d mounts)\n"+
			"Muxing: %.2fs\n"+
			"Effective FPS: %.2f\n"+
			"Host: %s\n"+
			"----------------------------\n",
		p.Config.BuildVersion, r.Total.Seconds(), r.Render.Seconds(), r.Frames, r.Mounts, r.Mux.Seconds(), fps, res,
	)

	// Логирование в файл
	logEntry := fmt.Sprintf("[%s] Build: %s | Timeline: %s | Frames: %d | Total: %.2fs | Render: %.2fs | Mux: %.2fs | FPS: %.2f | RSS: %dMB\n",
		time.Now().Format("2006-01-02 15:04:05"),
		p.Config.BuildVersion,
		filepath.Base(r.Timeline),
		r.Frames,
		r.Total.Seconds(),
		r.Render.Seconds(),
		r.Mux.Seconds(),
		fps,
		res.ProcessRSS/1024/1024,
	)

	f, err := os.OpenFile("benchmark.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		p.Logger.Warn().Err(err).Msg("Не удалось записать benchmark.log")
		return
	}
	defer f.Close()
	f.WriteString(logEntry)
}
