// Command-line interface to the tile server.
// Provides serve, plan, prewarm, ingest, token and about commands.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/tiled/codec"
	"github.com/janelia-flyem/tiled/pyramid"
	"github.com/janelia-flyem/tiled/server"
	"github.com/janelia-flyem/tiled/tiled"
	"github.com/janelia-flyem/tiled/transform"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")

	// Number of logical CPUs to use.
	useCPU = flag.Int("numcpu", 0, "")
)

const helpMessage = `
tiled serves image regions and tiles from JPEG 2000 masters resolved by identifier

Usage: tiled [options] <command>

      -cpuprofile =string   Write CPU profile to this file.
      -numcpu     =number   Number of logical CPUs to use.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	about
	help
	serve   <config.toml>
	plan    <width> <height>
	prewarm <config.toml> <identifier> [concurrency=N]
	ingest  <config.toml> [concurrency=N]
	token   <config.toml> <user>
`

var usage = func() {
	fmt.Print(helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}

	if *runVerbose {
		tiled.Verbose = true
		tiled.SetLogMode(tiled.DebugMode)
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if *useCPU != 0 {
		runtime.GOMAXPROCS(*useCPU)
	}

	// Capture ctrl+c and other interrupts.  Then handle graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := tiled.Command(flag.Args())
	if err := DoCommand(ctx, command); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		pprof.StopCPUProfile()
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, cmd tiled.Command) error {
	if len(cmd) == 0 {
		return fmt.Errorf("Blank command!")
	}

	switch cmd.Name() {
	case "serve":
		return DoServe(ctx, cmd)
	case "plan":
		return DoPlan(cmd)
	case "prewarm":
		return DoPrewarm(ctx, cmd)
	case "ingest":
		return DoIngest(ctx, cmd)
	case "token":
		return DoToken(cmd)
	case "about":
		fmt.Printf("tiled %s\n", server.Version)
		for _, e := range codec.Engines() {
			fmt.Printf("  codec %-8s %s: %s\n", e.Name, e.Version, e.Description)
		}
		fmt.Printf("  transforms: %s\n", strings.Join(transform.Names(), ", "))
	default:
		return fmt.Errorf("unknown command %q, try 'tiled help'", cmd.Name())
	}
	return nil
}

func loadConfig(cmd tiled.Command, rest ...*string) (*server.Config, error) {
	var filename string
	cmd.CommandArgs(append([]*string{&filename}, rest...)...)
	if filename == "" {
		return nil, fmt.Errorf("%s command must be followed by the path to the TOML configuration", cmd.Name())
	}
	config, err := server.LoadConfig(filename)
	if err != nil {
		return nil, err
	}
	config.Logging.SetLogger()
	return config, nil
}

// DoServe builds the tile service from a configuration and serves it until
// interrupted.
func DoServe(ctx context.Context, cmd tiled.Command) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer tiled.Shutdown()
	comp, err := config.Build()
	if err != nil {
		return err
	}
	defer comp.Close()
	s, err := server.New(config, comp.Service)
	if err != nil {
		return err
	}
	if comp.Ingester != nil {
		s.SetIngester(comp.Ingester)
		if config.Ingest.Unattended {
			s.StartIngest()
		}
	}
	return s.Serve(ctx)
}

// DoIngest converts every source image under the configured directory into the
// master store and reports the outcome.
func DoIngest(ctx context.Context, cmd tiled.Command) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer tiled.Shutdown()
	if config.Ingest.SourceDir == "" {
		return fmt.Errorf("ingest needs [ingest] source_dir in %s", config.Location())
	}
	if s, found := cmd.Setting("concurrency"); found {
		if config.Ingest.Concurrency, err = strconv.Atoi(s); err != nil {
			return fmt.Errorf("bad concurrency %q: %v", s, err)
		}
	}
	comp, err := config.Build()
	if err != nil {
		return err
	}
	defer comp.Close()
	st, err := comp.Ingester.Run(ctx)
	fmt.Printf("Finished: %d ingested (%s), %d skipped, %d failed of %d found; %s available on the disk\n",
		st.Ingested, humanize.Bytes(st.Bytes), st.Skipped, st.Failed, st.Found, humanize.Bytes(st.Available))
	return err
}

// DoPlan prints the pyramid queries for an image of the given dimensions.
func DoPlan(cmd tiled.Command) error {
	var wStr, hStr string
	cmd.CommandArgs(&wStr, &hStr)
	width, err := strconv.Atoi(wStr)
	if err != nil {
		return fmt.Errorf("plan needs an integer width, got %q", wStr)
	}
	height, err := strconv.Atoi(hStr)
	if err != nil {
		return fmt.Errorf("plan needs an integer height, got %q", hStr)
	}
	return pyramid.Each(width, height, func(q pyramid.Query) error {
		_, err := fmt.Println(q)
		return err
	})
}

// DoPrewarm renders and stores every tile of an image's pyramid.
func DoPrewarm(ctx context.Context, cmd tiled.Command) error {
	var id string
	config, err := loadConfig(cmd, &id)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("prewarm command needs an image identifier")
	}
	concurrency := runtime.GOMAXPROCS(0)
	if s, found := cmd.Setting("concurrency"); found {
		if concurrency, err = strconv.Atoi(s); err != nil {
			return fmt.Errorf("bad concurrency %q: %v", s, err)
		}
	}
	defer tiled.Shutdown()
	comp, err := config.Build()
	if err != nil {
		return err
	}
	defer comp.Close()
	stats, err := comp.Service.Prewarm(ctx, id, concurrency)
	if err != nil {
		return err
	}
	fmt.Printf("%d queries: %d generated, %d committed, %d already available, %d failed\n",
		stats.Queries, stats.Generated, stats.Committed, stats.Hits, stats.Failed)
	return nil
}

// DoToken prints a bearer token for a user.
func DoToken(cmd tiled.Command) error {
	var user string
	config, err := loadConfig(cmd, &user)
	if err != nil {
		return err
	}
	if user == "" {
		return fmt.Errorf("token command needs a user name")
	}
	token, err := config.GenerateJWT(user)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
