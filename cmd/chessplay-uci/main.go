package main

import (
	"flag"
	"log"
	"os"
	"runtime/pprof"

	"github.com/hailam/chessplay/internal/engine"
	"github.com/hailam/chessplay/internal/storage"
	"github.com/hailam/chessplay/internal/tablebase"
	"github.com/hailam/chessplay/internal/uci"
)

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to file")

func main() {
	flag.Parse()

	profilePath := *cpuprofile
	if profilePath == "" {
		profilePath = os.Getenv("CPUPROFILE")
	}
	if profilePath != "" {
		f, err := os.Create(profilePath)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
		log.Printf("CPU profiling enabled, writing to %s", profilePath)
	}

	store, err := storage.NewStorage()
	if err != nil {
		log.Printf("warning: persistent storage unavailable: %v", err)
		store = nil
	}

	settings := storage.DefaultEngineSettings()
	if store != nil {
		defer store.Close()
		if loaded, err := store.LoadSettings(); err == nil {
			settings = loaded
		}
	}

	eng := engine.NewEngine(settings.HashMB)
	eng.SetThreads(maxInt(settings.Threads, 1))
	eng.SetSyzygyProbeDepth(settings.SyzygyProbeDepth)

	if settings.SyzygyPath != "" {
		eng.SetTablebase(tablebase.NewSyzygyProber(settings.SyzygyPath))
	}
	if settings.OwnBook && settings.BookFile != "" {
		if err := eng.LoadBook(settings.BookFile); err != nil {
			log.Printf("warning: failed to load book %s: %v", settings.BookFile, err)
		}
	}

	protocol := uci.New(eng)
	if store != nil {
		protocol.SetStorage(store, settings)
	}
	protocol.Run()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
