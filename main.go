package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line.
type AppOptions struct {
	ConfigFile string
	ImportFile string
	MeshFile   string
	Project    string
	Fill       bool
	HttpPort   int
	MqttMode   bool
	HttpMode   bool
}

// Application is what run drives; *App in production, a mock in tests.
type Application interface {
	ApplyOptions(opts AppOptions)
	RunImport(path string) error
	RunProject(x, y float64) error
	RunFill() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, app Application) error {
	fs := flag.NewFlagSet("tapmesh", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.ImportFile, "import", "", "Import mesh cells from a GeoJSON file into the point store and exit")
	fs.StringVar(&opts.MeshFile, "mesh", "", "GeoJSON mesh to load before --project or --fill")
	fs.StringVar(&opts.Project, "project", "", "Project a map position X,Y (pixels) through the mesh and exit")
	fs.BoolVar(&opts.Fill, "fill", false, "Print survey fill points for the mesh as GeoJSON and exit")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Ingest samples and publish scans over MQTT")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable the HTTP API")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "tapmesh version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.ImportFile != "":
		return app.RunImport(opts.ImportFile)
	case opts.Project != "":
		x, y, err := parseXY(opts.Project)
		if err != nil {
			return err
		}
		return app.RunProject(x, y)
	case opts.Fill:
		return app.RunFill()
	}

	fmt.Fprintln(out, "tapmesh service starting...")
	return app.RunService()
}

// parseXY reads "X,Y".
func parseXY(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid position %q: want X,Y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid position %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid position %q: %w", s, err)
	}
	return x, y, nil
}
