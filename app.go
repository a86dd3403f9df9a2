package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/kwv/tapmesh/mesh"
	"github.com/kwv/tapmesh/points"
	"github.com/kwv/tapmesh/survey"
)

// defaultRecordsDir holds scan records when the config names none.
const defaultRecordsDir = "scans"

// App encapsulates the application state and dependencies
type App struct {
	Config     *survey.Config
	Session    *survey.Session
	MQTTClient *survey.MQTTClient
	Publisher  *survey.Publisher
	Archive    *survey.Archive

	out io.Writer

	// CLI Flags (effectively dependencies)
	ConfigFile string
	MeshFile   string
	HttpPort   int
	MqttMode   bool
	HttpMode   bool
}

// NewApp creates a new App writing command output to out.
func NewApp(out io.Writer) *App {
	return &App{out: out, ConfigFile: "config.yaml", HttpPort: 8080}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.MeshFile = opts.MeshFile
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist.
func (a *App) loadConfig() error {
	cfg, err := survey.LoadConfig(a.ConfigFile)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("No config at %s, using defaults", a.ConfigFile)
		cfg, err = survey.DefaultConfig(), nil
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.Config = cfg
	return nil
}

// loadMesh builds a throwaway session from the --mesh file for the one-shot
// projection commands.
func (a *App) loadMesh() error {
	if a.MeshFile == "" {
		return errors.New("--mesh is required")
	}
	if err := a.loadConfig(); err != nil {
		return err
	}
	a.Session = survey.NewSession(a.Config, points.NewMemoryStore())
	return a.importMesh(a.MeshFile)
}

func (a *App) importMesh(path string) error {
	defs, err := mesh.LoadMeshFile(path)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return fmt.Errorf("no cells found in %s", path)
	}
	if _, err := a.Session.ImportMesh(defs); err != nil {
		return fmt.Errorf("importing %s: %w", path, err)
	}
	return nil
}

// RunImport adds the cells of a GeoJSON mesh to the configured point store.
func (a *App) RunImport(path string) error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	store, closeStore, err := survey.OpenStore(a.Config.Store)
	if err != nil {
		return err
	}
	a.Session = survey.NewSession(a.Config, store)

	err = a.importMesh(path)
	if err == nil {
		pts, _ := a.Session.Points()
		fmt.Fprintf(a.out, "Imported %d cell(s) from %s, store holds %d point(s)\n",
			len(a.Session.Cells()), path, len(pts))
	}
	return errors.Join(err, closeStore())
}

// RunProject prints the reference-frame position of a map position.
func (a *App) RunProject(x, y float64) error {
	if err := a.loadMesh(); err != nil {
		return err
	}
	v, exact, ok := a.Session.Project(mesh.Point{X: x, Y: y})
	if !ok {
		return fmt.Errorf("(%.2f, %.2f) cannot be projected: the mesh has no anchored cells", x, y)
	}
	via := "cell"
	if !exact {
		via = "ground plane"
	}
	fmt.Fprintf(a.out, "(%.2f, %.2f) -> (%.3f, %.3f, %.3f) via %s\n", x, y, v.X, v.Y, v.Z, via)
	return nil
}

// RunFill prints the survey fill points of the mesh as a GeoJSON
// FeatureCollection in map pixels, each carrying its position in meters.
func (a *App) RunFill() error {
	if err := a.loadMesh(); err != nil {
		return err
	}
	scale := a.Config.Survey.Scale()
	fc := geojson.NewFeatureCollection()
	for _, p := range a.Session.Fill() {
		f := geojson.NewFeature(orb.Point{p.X, p.Y})
		m := scale.ToMeters(p)
		f.Properties["xM"] = m.X
		f.Properties["yM"] = m.Y
		fc.Append(f)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding fill points: %w", err)
	}
	log.Printf("[MESH] %d fill point(s) at %.2fm spacing", len(fc.Features), a.Config.Survey.FillSpacingMeters)
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

// HandleResult archives a finished scan and its running aggregates, and
// publishes it when MQTT is up.
func (a *App) HandleResult(res *survey.Result) error {
	var errs []error
	if a.Archive != nil {
		errs = append(errs, a.Archive.HandleResult(res))
		errs = append(errs, a.Archive.SaveAggregates(a.Session.Aggregates()))
	}
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.HandleResult(res))
	}
	return errors.Join(errs...)
}

// setupService opens the store, restores aggregates and builds the session.
// The returned function flushes everything back to disk.
func (a *App) setupService() (func() error, error) {
	if err := a.loadConfig(); err != nil {
		return nil, err
	}
	store, closeStore, err := survey.OpenStore(a.Config.Store)
	if err != nil {
		return nil, err
	}

	dir := a.Config.RecordsDir
	if dir == "" {
		dir = defaultRecordsDir
	}
	a.Archive = survey.NewArchive(dir)
	a.Session = survey.NewSession(a.Config, store, survey.WithSink(a))
	log.Printf("Survey session %s, records in %s", a.Session.ID, dir)

	if a.MeshFile != "" {
		if err := a.importMesh(a.MeshFile); err != nil {
			return nil, errors.Join(err, closeStore())
		}
	}

	aggs, err := a.Archive.LoadAggregates()
	if err != nil {
		log.Printf("Warning: failed to load aggregates: %v", err)
	} else if len(aggs) > 0 {
		if err := a.Session.RestoreAggregates(aggs); err != nil {
			log.Printf("Warning: discarding saved aggregates: %v", err)
		} else {
			log.Printf("Restored %d running aggregate(s)", len(aggs))
		}
	}

	return func() error {
		return errors.Join(a.Archive.SaveAggregates(a.Session.Aggregates()), closeStore())
	}, nil
}

// RunService runs the survey until interrupted, taking samples from MQTT
// and/or HTTP.
func (a *App) RunService() error {
	log.Println("Starting tapmesh service...")
	flush, err := a.setupService()
	if err != nil {
		return err
	}

	if !a.MqttMode && !a.HttpMode {
		log.Println("Neither --mqtt nor --http given, enabling HTTP")
		a.HttpMode = true
	}

	if a.MqttMode {
		client, err := survey.InitMQTT(a.Config.MQTT, func(s survey.Sample) { a.Session.Ingest(s) })
		if err != nil {
			return errors.Join(fmt.Errorf("failed to initialize MQTT: %w", err), flush())
		}
		if client != nil {
			a.attachMQTT(client)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if a.HttpMode {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.HttpPort),
			Handler:           newHTTPServer(a.Session, a.MQTTClient),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] server error: %v", err)
				stop()
			}
		}()
	}

	runErr := a.Session.Run(ctx)
	log.Println("Shutting down...")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] shutdown: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	return errors.Join(runErr, flush())
}

// attachMQTT shares the sample connection with the scan publisher.
func (a *App) attachMQTT(client *survey.MQTTClient) {
	a.MQTTClient = client
	a.Publisher = survey.NewPublisher(client.Client(), a.Config.MQTT.PublishPrefix)
}
