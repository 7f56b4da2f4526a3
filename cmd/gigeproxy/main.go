package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.jpl.nasa.gov/bdube/gigeproxy/generichttp/camera"
	"github.jpl.nasa.gov/bdube/gigeproxy/gige"
	"github.jpl.nasa.gov/bdube/gigeproxy/imgrec"
	"github.jpl.nasa.gov/bdube/gigeproxy/proxy"
	"github.jpl.nasa.gov/bdube/gigeproxy/server"
	"github.jpl.nasa.gov/bdube/gigeproxy/server/middleware/locker"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "gigeproxy.yml"
	k              = koanf.New(".")
	log            = logrus.New()
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`
}

// parameters are raw camera values; negative means leave the camera's value
type parameters struct {
	Exposure   int64 `yaml:"Exposure"`
	Gain       int64 `yaml:"Gain"`
	BlackLevel int64 `yaml:"BlackLevel"`
}

type sim struct {
	Width  int64 `yaml:"Width"`
	Height int64 `yaml:"Height"`
}

type config struct {
	Addr           string        `yaml:"Addr"`
	Root           string        `yaml:"Root"`
	Driver         string        `yaml:"Driver"`
	DeviceClass    string        `yaml:"DeviceClass"`
	PixelFormat    string        `yaml:"PixelFormat"`
	FrameTimeout   time.Duration `yaml:"FrameTimeout"`
	AcquireTimeout time.Duration `yaml:"AcquireTimeout"`
	OpenRetry      time.Duration `yaml:"OpenRetry"`
	Parameters     parameters    `yaml:"Parameters"`
	RingBuffers    int           `yaml:"RingBuffers"`
	MaxRingBuffers int           `yaml:"MaxRingBuffers"`
	StreamFPS      float64       `yaml:"StreamFPS"`
	Recorder       recorder      `yaml:"Recorder"`
	Sim            sim           `yaml:"Sim"`
}

func defaults() config {
	d := proxy.DefaultConfig()
	return config{
		Addr:           ":8000",
		Root:           "/",
		Driver:         "sim",
		DeviceClass:    string(d.DeviceClass),
		PixelFormat:    d.PixelFormat,
		FrameTimeout:   d.FrameTimeout,
		AcquireTimeout: d.AcquireTimeout,
		OpenRetry:      5 * time.Second,
		Parameters:     parameters{Exposure: d.InitialExposure, Gain: -1, BlackLevel: -1},
		RingBuffers:    8,
		MaxRingBuffers: 64,
		StreamFPS:      10,
		Recorder:       recorder{},
		Sim:            sim{Width: 640, Height: 480},
	}
}

func setupconfig() {
	k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `gigeproxy exposes control of GigE and FireWire machine vision cameras over HTTP
This enables a server-client architecture,
and the clients can leverage the excellent HTTP
libraries for any programming language,
instead of linking the vendor SDK.

Usage:
	gigeproxy <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `gigeproxy is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.
The command mkconf generates the configuration file with the default values.
There is no need to do this unless you want to start from the prepopulated defaults when making
a config file.

Driver names the SDK binding to use.  "sim" is a simulated camera of size Sim.Width x Sim.Height
and needs no hardware.

The first camera found on the DeviceClass transport layer (GigE or 1394) is used.  Discovery is
retried for up to OpenRetry, so the server may be started before the camera has booted.

The Parameters block (raw exposure, gain and black level) is applied at startup and again
whenever the configuration file changes.  A negative value leaves the camera's value alone.

Continuous acquisition is started with a POST to /continuous/start and a body of {"int": N},
N being the number of ring buffers.  Frames are read from /continuous/frame, and a live view
is served at /continuous/stream.  /image takes a single picture, and FITS images are also
written to disk when autowrite is enabled.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("gigeproxy version %v\n", Version)
}

// sdkRuntime returns the SDK runtime named by the config
func sdkRuntime(cfg config) (gige.Runtime, error) {
	if cfg.Driver == "sim" {
		return gige.NewMock(gige.MockOptions{SensorWidth: cfg.Sim.Width, SensorHeight: cfg.Sim.Height}), nil
	}
	return gige.Lookup(cfg.Driver)
}

// applyParameters programs the non-negative values of ps
func applyParameters(p *proxy.Proxy, ps parameters) error {
	a, err := p.InfoArray()
	if err != nil {
		return err
	}
	for idx, v := range map[int]int64{
		proxy.IdxExpVal:   ps.Exposure,
		proxy.IdxGainVal:  ps.Gain,
		proxy.IdxBlackVal: ps.BlackLevel,
	} {
		if v >= 0 {
			a[idx] = uint64(v)
		}
	}
	return p.SetInfoArray(a)
}

// watch reloads the config file when it changes and applies its parameters
func watch(p *proxy.Proxy) {
	f := file.Provider(ConfigFileName)
	err := f.Watch(func(event interface{}, err error) {
		if err != nil {
			log.WithError(err).Warn("config watch stopped")
			return
		}
		fresh := koanf.New(".")
		fresh.Load(structs.Provider(defaults(), "koanf"), nil)
		if err := fresh.Load(f, yaml.Parser()); err != nil {
			log.WithError(err).Error("reloading config")
			return
		}
		ps := parameters{}
		if err := fresh.Unmarshal("Parameters", &ps); err != nil {
			log.WithError(err).Error("reloading config")
			return
		}
		if err := applyParameters(p, ps); err != nil {
			log.WithError(err).Error("applying reloaded parameters")
			return
		}
		log.WithField("parameters", fmt.Sprintf("%+v", ps)).Info("config reloaded")
	})
	if err != nil {
		log.WithError(err).Debug("not watching config file")
	}
}

func run() {
	cfg := config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatal(err)
	}
	rt, err := sdkRuntime(cfg)
	if err != nil {
		log.Fatalf("%v, available drivers: %v", err, gige.Drivers())
	}

	spinner, _ := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " opening camera",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if spinner != nil {
		spinner.Start()
	}
	messages := camera.NewMessageLog(256, proxy.LogReporter{Log: log})
	pcfg := proxy.Config{
		DeviceClass:     gige.DeviceClass(cfg.DeviceClass),
		PixelFormat:     cfg.PixelFormat,
		FrameTimeout:    cfg.FrameTimeout,
		AcquireTimeout:  cfg.AcquireTimeout,
		OpenRetry:       cfg.OpenRetry,
		InitialExposure: cfg.Parameters.Exposure,
	}
	p, err := proxy.Open(proxy.NewDriver(rt), pcfg, proxy.WithReporter(messages))
	if spinner != nil {
		if err != nil {
			spinner.StopFail()
		} else {
			spinner.Stop()
		}
	}
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close()
	if err = applyParameters(p, cfg.Parameters); err != nil {
		log.WithError(err).Warn("applying parameters")
	}
	watch(p)

	rec := &imgrec.Recorder{Root: cfg.Recorder.Root, Prefix: cfg.Recorder.Prefix}
	w := camera.NewHTTPCamera(p, rec, camera.Options{
		RingBuffers:    cfg.RingBuffers,
		MaxRingBuffers: cfg.MaxRingBuffers,
		StreamFPS:      cfg.StreamFPS,
		Messages:       messages,
	})
	l := locker.New()
	locker.Inject(w, l)
	mux := server.BuildMux(server.Mount{
		Stem:       cfg.Root,
		HTTPer:     w,
		Middleware: []func(http.Handler) http.Handler{l.Check},
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	done := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		close(done)
	}()
	log.WithField("addr", cfg.Addr+cfg.Root).Info("now listening for requests")
	if err = srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Error(err)
		return
	}
	<-done
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
