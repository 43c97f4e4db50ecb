// Command beamscan drives a beamline scan: it moves motion axes through a
// composed scan, counts the detector at every position, records the run
// to sqlite and keeps a fitted curve on screen while data arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/beamscan/internal/acquire"
	"github.com/banshee-data/beamscan/internal/config"
	"github.com/banshee-data/beamscan/internal/fit"
	"github.com/banshee-data/beamscan/internal/fsutil"
	"github.com/banshee-data/beamscan/internal/instrument"
	"github.com/banshee-data/beamscan/internal/livefit"
	"github.com/banshee-data/beamscan/internal/monitoring"
	"github.com/banshee-data/beamscan/internal/plan"
	"github.com/banshee-data/beamscan/internal/record"
	"github.com/banshee-data/beamscan/internal/render"
	"github.com/banshee-data/beamscan/internal/scan"
	"github.com/banshee-data/beamscan/internal/timeutil"
	"github.com/banshee-data/beamscan/internal/version"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, " ") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

var scanSpecs stringList

var (
	configPath   = flag.String("config", "", "Path to a .json or .toml instrument config (defaults are used when empty)")
	planPath     = flag.String("plan", "", "Path to a JSON scan plan")
	fitName      = flag.String("fit", "", "Fit to track live, e.g. gaussian, linear, poly2 or linear&gaussian")
	title        = flag.String("title", "", "Run title; {axis} placeholders are filled per step")
	frames       = flag.Int("frames", 0, "Frames counted per step (0 uses the plan or config)")
	dbPath       = flag.String("db", "", "Path to the sqlite run database (overrides config)")
	plotPath     = flag.String("plot", "", "Plot output path, .png/.svg for an image or .html for a chart")
	devMode      = flag.Bool("dev", false, "Run against the in-process instrument simulator")
	seed         = flag.Uint64("seed", 1, "Simulator noise seed (dev mode)")
	debugListen  = flag.String("debug-listen", "", "Address for the debug server, e.g. localhost:8081")
	estimateOnly = flag.Bool("estimate", false, "Print the estimated scan duration and exit")
	moveTo       = flag.String("move-to", "", "After a one-axis scan, move the axis to a fitted parameter (center)")
	showVersion  = flag.Bool("version", false, "Print version information and exit")
	verbose      = flag.Bool("v", false, "Log every scan step")
)

func init() {
	flag.Var(&scanSpecs, "scan", `Axis scan "name:grid", e.g. "theta:begin=0,end=2,stride=0.6"; repeat for a product`)
}

// controller is what the scan needs from an instrument, whichever port
// type backs it.
type controller interface {
	Monitor(ctx context.Context) error
	Close() error
	Move(ctx context.Context, axis string, value float64) error
	Axis(name string) scan.Action
	Detector(frames int) scan.Sampler
	Record(ctx context.Context, title string, pos scan.Position, value float64) error
	AttachAdminRoutes(mux *http.ServeMux)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := &config.InstrumentConfig{}
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	monitoring.SetVerbose(*verbose || cfg.GetVerbose())

	p, err := loadPlan(*planPath, scanSpecs)
	if err != nil {
		return err
	}
	s := resolveSettings(p, cfg)
	if *moveTo != "" && *moveTo != "center" {
		return fmt.Errorf("-move-to %q: only center is supported", *moveTo)
	}

	var f fit.Fit
	if s.fit != "" {
		if f, err = fit.Lookup(s.fit); err != nil {
			return err
		}
	}

	dry, err := p.Scan.Build(func(string) scan.Action { return nil })
	if err != nil {
		return err
	}
	est := acquire.Estimate(dry, s.frames, cfg.GetFrameRate(), cfg.GetSettleTime())
	log.Printf("%d steps over %v, estimated %v", dry.Len(), scan.Axes(dry), est.Round(time.Second))
	if *estimateOnly {
		fmt.Println(est.Round(time.Second))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl, err := openController(cfg, *devMode || cfg.GetSimulate(), *seed)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	stopMonitor := startMonitor(ctx, ctrl)
	defer stopMonitor()

	node, err := p.Scan.Build(ctrl.Axis)
	if err != nil {
		return err
	}
	axes := scan.Axes(node)

	store, err := record.Open(s.database)
	if err != nil {
		return fmt.Errorf("failed to open run database: %w", err)
	}
	defer store.Close()

	xLabel := ""
	if len(axes) == 1 {
		xLabel = axes[0]
	}
	renderer, chart, err := rendererFor(cfg.GetRenderer(), s.plot, s.title, xLabel, "counts")
	if err != nil {
		return err
	}

	if addr := s.debugListen; addr != "" {
		mux := http.NewServeMux()
		ctrl.AttachAdminRoutes(mux)
		if err := store.AttachAdminRoutes(mux); err != nil {
			return err
		}
		if chart != nil {
			tsweb.Debugger(mux).Handle("live", "Live scan chart", chart)
		}
		server := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("debug server: %v", err)
			}
		}()
		defer server.Close()
		log.Printf("debug server listening on %s", addr)
	}

	rec, err := store.BeginRun(ctx, s.title, axes)
	if err != nil {
		return err
	}
	log.Printf("run %s started: %q", rec.ID(), s.title)

	res, runErr := acquire.Run(ctx, node, ctrl.Detector(s.frames), acquire.Options{
		Title:    s.title,
		Recorder: recorders{rec, ctrl},
		Fit:      f,
		Renderer: renderer,
		Settle:   cfg.GetSettleTime(),
	})

	// the run is closed out even when the scan was interrupted
	finishCtx := context.WithoutCancel(ctx)
	if err := rec.Finish(finishCtx, runErr); err != nil {
		log.Printf("failed to finish run %s: %v", rec.ID(), err)
	}

	logPath := acquire.LogFileName(cfg.GetLogDir(), timeutil.RealClock{})
	if err := acquire.WriteLog(fsutil.OSFileSystem{}, logPath, axes, res.Samples); err != nil {
		log.Printf("failed to write scan log: %v", err)
	} else {
		log.Printf("wrote %d steps to %s", len(res.Samples), logPath)
	}

	if len(res.Samples) > 0 {
		if err := renderer.Show(); err != nil {
			log.Printf("failed to show plot: %v", err)
		}
	}

	if res.Description != nil {
		fmt.Print(formatDescription(res.Description, ""))
	}
	log.Printf("scan took %v", res.Elapsed.Round(time.Millisecond))

	if runErr != nil {
		return fmt.Errorf("scan stopped after %d of %d steps: %w", len(res.Samples), node.Len(), runErr)
	}

	if *moveTo == "center" {
		center, ok := res.Description.Center()
		if !ok || res.Axis == "" {
			return errors.New("-move-to center: no fitted center available")
		}
		log.Printf("moving %s to fitted center %g", res.Axis, center)
		if err := ctrl.Move(finishCtx, res.Axis, center); err != nil {
			return err
		}
	}
	return nil
}

type monitorer interface {
	Monitor(ctx context.Context) error
}

// startMonitor runs m.Monitor in the background. The returned func cancels
// it and blocks until Monitor has returned.
func startMonitor(parent context.Context, m monitorer) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := m.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("controller monitor stopped: %v", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// settings are the effective run parameters after flags, plan and config
// are merged, in that order of precedence.
type settings struct {
	title       string
	fit         string
	frames      int
	database    string
	plot        string
	debugListen string
}

func resolveSettings(p *plan.Plan, cfg *config.InstrumentConfig) settings {
	s := settings{
		title:       firstNonEmpty(*title, p.Title, "scan"),
		fit:         firstNonEmpty(*fitName, p.Fit),
		frames:      cfg.GetFrames(),
		database:    firstNonEmpty(*dbPath, cfg.GetDatabase()),
		plot:        firstNonEmpty(*plotPath, cfg.GetPlotOutput()),
		debugListen: firstNonEmpty(*debugListen, cfg.GetDebugListen()),
	}
	if p.Frames != nil {
		s.frames = *p.Frames
	}
	if *frames > 0 {
		s.frames = *frames
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// loadPlan reads a plan file, or builds one from -scan flags.
func loadPlan(path string, specs []string) (*plan.Plan, error) {
	switch {
	case path != "" && len(specs) > 0:
		return nil, errors.New("use either -plan or -scan, not both")
	case path != "":
		return plan.Load(path)
	case len(specs) > 0:
		n, err := plan.FromFlags(specs)
		if err != nil {
			return nil, err
		}
		return &plan.Plan{Scan: n}, nil
	}
	return nil, errors.New("one of -plan or -scan is required")
}

func openController(cfg *config.InstrumentConfig, simulate bool, seed uint64) (controller, error) {
	if simulate {
		log.Printf("using simulated instrument (seed %d)", seed)
		c := instrument.NewController(cfg.Simulator(seed))
		c.Timeout = cfg.GetCommandTimeout()
		return c, nil
	}
	port := cfg.GetPort()
	if port == "" {
		return nil, errors.New("no serial port configured; set port in the config or use -dev")
	}
	c, err := instrument.Open(port, cfg.GetSerial())
	if err != nil {
		return nil, fmt.Errorf("failed to open instrument: %w", err)
	}
	c.Timeout = cfg.GetCommandTimeout()
	log.Printf("opened instrument on %s", port)
	return c, nil
}

// rendererFor builds the live renderer for kind. The returned chart, when
// non-nil, is also served on the debug server.
func rendererFor(kind, path, title, xLabel, yLabel string) (livefit.Renderer, *render.ChartRenderer, error) {
	ext := strings.ToLower(filepath.Ext(path))
	base := strings.TrimSuffix(path, filepath.Ext(path))

	switch kind {
	case config.RendererAuto:
		r := render.New(path, title, xLabel, yLabel)
		chart, _ := r.(*render.ChartRenderer)
		return r, chart, nil
	case config.RendererImage:
		if ext == ".html" {
			return nil, nil, fmt.Errorf("renderer image cannot write %q", path)
		}
		return render.New(path, title, xLabel, yLabel), nil, nil
	case config.RendererHTML:
		chart := render.NewChartRenderer(title, xLabel, yLabel)
		if path != "" {
			chart.ShowPath = base + ".html"
		}
		return chart, chart, nil
	case config.RendererBoth:
		img := render.NewPlotRenderer(title, xLabel, yLabel)
		chart := render.NewChartRenderer(title, xLabel, yLabel)
		if path != "" {
			img.ShowPath = path
			if ext == ".html" {
				img.ShowPath = base + ".png"
			}
			chart.ShowPath = base + ".html"
		}
		return render.Tee{img, chart}, chart, nil
	}
	return nil, nil, fmt.Errorf("unknown renderer %q", kind)
}

// recorders fans one step out to several recorders, stopping at the
// first failure.
type recorders []scan.Recorder

func (rs recorders) Record(ctx context.Context, title string, pos scan.Position, value float64) error {
	for _, r := range rs {
		if err := r.Record(ctx, title, pos, value); err != nil {
			return err
		}
	}
	return nil
}

// formatDescription prints fitted parameters one per line, nesting
// combined fits under their titles.
func formatDescription(d fit.Description, indent string) string {
	var b strings.Builder
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		switch v := d[k].(type) {
		case fit.Description:
			fmt.Fprintf(&b, "%s%s:\n%s", indent, k, formatDescription(v, indent+"  "))
		case float64:
			fmt.Fprintf(&b, "%s%s = %.6g\n", indent, k, v)
		default:
			fmt.Fprintf(&b, "%s%s = %v\n", indent, k, v)
		}
	}
	return b.String()
}
