// InfraGlow turns infrastructure sensor values into LED strip
// visualizations on a WLED device. Values arrive from Home Assistant,
// the local audio input, or plain HTTP pushes; renderers map them to
// pixel frames or native device effects.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lautenbacher.net/infraglow/config"
	"lautenbacher.net/infraglow/coordinator"
	"lautenbacher.net/infraglow/device"
	"lautenbacher.net/infraglow/logging"
	"lautenbacher.net/infraglow/sim"
	"lautenbacher.net/infraglow/source"
)

// Set via -ldflags at build time.
var version = "development"

func main() {
	cfile := flag.String("config", "config.yml", "path to the configuration file")
	simMode := flag.Bool("sim", false, "render to a terminal preview instead of the device")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("infraglow", version)
		return
	}

	conf, err := config.ReadConfig(*cfile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	if err := logging.Init(logging.Options{
		Level:    conf.Logging.Level,
		Format:   conf.Logging.Format,
		File:     conf.Logging.File,
		Buffered: *simMode,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer logging.Close()

	ossignal := make(chan os.Signal, 2)
	signal.Notify(ossignal, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	slog.Info("Starting InfraGlow", "version", version, "config", *cfile, "sim", *simMode)
	for run(*cfile, *simMode, ossignal) {
		slog.Info("Restarting with updated configuration")
	}
	slog.Info("InfraGlow stopped")
}

// run executes one lifecycle of the service: build everything from the
// config file, serve until a signal arrives, tear down. It returns true
// when the service should be rebuilt (SIGHUP or a config file change).
func run(cfile string, simMode bool, ossignal chan os.Signal) bool {
	conf, err := config.ReadConfig(cfile)
	if err != nil {
		slog.Error("Cannot read configuration, keeping the previous process alive is pointless", "error", err)
		return false
	}

	push := source.NewPushSource()
	sources := []source.Source{push}
	if conf.HomeAssistant.Enabled {
		sources = append(sources, source.NewHassSource(conf.HomeAssistant.URL, conf.HomeAssistant.Token))
	}
	src := source.NewMux(sources...)
	defer src.Close()

	var audio *source.AudioSource
	if conf.Audio.Enabled {
		audio, err = source.NewAudioSource(push, source.AudioOptions{
			SampleRate:      conf.Audio.SampleRate,
			FramesPerBuffer: conf.Audio.FramesPerBuffer,
			UpdatePeriod:    conf.Audio.UpdatePeriod.Std(),
			MinDB:           conf.Audio.MinDB,
			MaxDB:           conf.Audio.MaxDB,
		})
		if err != nil {
			slog.Warn("Audio source unavailable", "error", err)
		} else {
			defer audio.Close()
		}
	}

	var sink device.Sink
	var preview *sim.Preview
	if simMode {
		preview = sim.NewPreview(conf.WLED.TotalLeds, ossignal)
		sink = preview
		go func() {
			if err := preview.Run(); err != nil {
				slog.Error("Error running preview", "error", err)
				ossignal <- os.Interrupt
			}
		}()
		defer preview.Stop()
	} else {
		sink = device.NewWLED(conf.WLED.Host, conf.WLED.Port)
	}
	defer sink.Close()

	coord := coordinator.New(sink, src, coordinator.Options{
		FrameRate: conf.Render.FrameRate,
		TotalLeds: conf.WLED.TotalLeds,
		NightDim:  conf.NightDim,
	})
	if err := coord.Setup(conf.Visualizations); err != nil {
		slog.Error("Failed to start coordinator", "error", err)
		return false
	}
	defer coord.Shutdown()

	if preview != nil {
		entities := make([]string, 0, len(conf.Visualizations))
		for _, s := range conf.Visualizations {
			entities = append(entities, s.EntityID)
		}
		if unsub, err := src.Subscribe(entities, preview.RecordValue); err == nil {
			defer unsub()
		}
	}

	server := startWebServer(conf.Web.Listen, cfile, coord, push)
	defer stopWebServer(server)

	stopWatch, err := config.Watch(cfile, func() { ossignal <- syscall.SIGHUP })
	if err != nil {
		slog.Warn("Config file watching disabled", "error", err)
	} else {
		defer stopWatch()
	}

	sig := <-ossignal
	slog.Info("Received signal", "signal", sig)
	return sig == syscall.SIGHUP
}

func startWebServer(listen, cfile string, coord *coordinator.Coordinator, push *source.PushSource) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config", config.ConfigHandler(cfile))
	mux.HandleFunc("/api/slots", coord.SlotsHandler())
	mux.HandleFunc("/api/slots/update", coord.UpdateHandler())
	mux.HandleFunc("/api/value", push.InjectHandler())

	server := &http.Server{Addr: listen, Handler: mux}
	go func() {
		slog.Info("Web API listening", "addr", listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Web server failed", "error", err)
		}
	}()
	return server
}

func stopWebServer(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("Web server shutdown incomplete", "error", err)
	}
}
