package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"voxrt/internal/config"
	"voxrt/internal/game"
	"voxrt/internal/gpu"
	"voxrt/internal/logging"

	_ "github.com/gogpu/wgpu/hal/noop"
	"github.com/xlab/closer"
)

func main() {
	defer closer.Close()

	backend := flag.String("backend", config.GetBackend(), "GPU backend: noop, vulkan, metal, dx12, gl")
	radius := flag.Int("radius", config.GetChunkRadius(), "chunks loaded around the origin column")
	frames := flag.Int("frames", 8, "frames to render")
	fps := flag.Int("fps", 0, "frame cap, 0 for unlimited")
	seed := flag.Int64("seed", config.GetNoise().Seed, "terrain seed")
	workers := flag.Int("workers", config.GetWorkers(), "voxel generation workers")
	scratch := flag.Uint64("scratch", config.GetBudgets().ScratchSize, "acceleration structure scratch size in bytes")
	script := flag.String("script", "", "scripted steps, e.g. look@1:0:-20,destroy@2,create@4")
	snapshot := flag.String("snapshot", "", "write a BMP of the last frame to this path")
	width := flag.Int("width", 320, "snapshot width")
	height := flag.Int("height", 180, "snapshot height")
	timeout := flag.Duration("timeout", time.Minute, "give up after this long")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	log := logging.Logger()

	config.SetBackend(*backend)
	config.SetChunkRadius(*radius)
	config.SetFPSLimit(*fps)
	config.SetSeed(*seed)
	config.SetWorkers(*workers)
	config.SetBudgets(config.BuildBudgets{ScratchSize: *scratch})
	config.SetResolution(*width, *height)

	steps, err := game.ParseScript(*script)
	if err != nil {
		closer.Fatalln(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	closer.Bind(cancel)

	dev, err := gpu.Open(config.GetBackend())
	if err != nil {
		closer.Fatalln(err)
	}

	session, err := game.NewSession(ctx, dev)
	if err != nil {
		dev.Close()
		closer.Fatalln(err)
	}
	closer.Bind(func() {
		// the context may already be done; teardown gets its own
		cleanupCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if session.Renderer != nil {
			if err := session.Cleanup(cleanupCtx); err != nil {
				log.Error("session cleanup", "err", err)
			}
		}
		dev.Close()
	})

	start := time.Now()
	if err := game.NewApp(session, steps).Run(ctx, *frames); err != nil {
		closer.Fatalln(err)
	}
	st := session.Accel.Stats()
	log.Info("done",
		"frames", session.Renderer.Frames(),
		"took", time.Since(start),
		"chunks", session.Pipeline.Store().Len(),
		"builds", st.Builds,
		"rebuilds", st.Rebuilds,
		"maxScratch", st.MaxScratch)

	if *snapshot != "" {
		w, h := config.GetResolution()
		f, err := os.Create(*snapshot)
		if err != nil {
			closer.Fatalln(err)
		}
		if err := session.Renderer.Snapshot(f, session.Camera, w, h); err != nil {
			f.Close()
			closer.Fatalln(err)
		}
		if err := f.Close(); err != nil {
			closer.Fatalln(err)
		}
		log.Info("snapshot written", "path", *snapshot, "width", w, "height", h)
	}
}
