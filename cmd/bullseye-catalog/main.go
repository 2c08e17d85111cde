// Command bullseye-catalog inspects the imaging run catalog.
//
//	bullseye-catalog [-db path] list [-limit n]
//	bullseye-catalog [-db path] [-listen addr] serve
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/bullseye/internal/catalog"
	"github.com/banshee-data/bullseye/internal/monitoring"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	monitoring.SetLogger(log.New(stderr, "", log.LstdFlags).Printf)

	fs := flag.NewFlagSet("bullseye-catalog", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dbPath := fs.String("db", "bullseye.db", "catalog database path")
	listen := fs.String("listen", "localhost:8090", "listen address for serve")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cmd := "serve"
	rest := fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	db, err := catalog.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "bullseye-catalog: %v\n", err)
		return 1
	}
	defer db.Close()

	switch cmd {
	case "list":
		err = list(db, rest, stdout, stderr)
	case "serve":
		err = serve(ctx, db, *listen)
	default:
		err = fmt.Errorf("unknown command %q (want list or serve)", cmd)
	}
	if err != nil {
		fmt.Fprintf(stderr, "bullseye-catalog: %v\n", err)
		return 1
	}
	return 0
}

func list(db *catalog.DB, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	limit := fs.Int("limit", 20, "maximum runs to show (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	runs, err := catalog.NewRunStore(db).List(*limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCREATED\tINPUT\tPOL\tSIZE\tFACETS\tGRIDDED\tFLAGGED\tDEGENERATE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dx%d\t%d\t%d\t%d\t%v\n",
			r.ID, time.Unix(0, r.CreatedAt).UTC().Format(time.RFC3339), r.Input, r.Pol,
			r.NpixL, r.NpixM, r.FacetCount, r.Gridded, r.Flagged, r.Degenerate)
	}
	return tw.Flush()
}

// newMux builds the HTTP routes: run listing and previews under /runs and
// the debug index with the SQL console under /debug/.
func newMux(db *catalog.DB) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	catalog.NewHandler(catalog.NewRunStore(db)).Register(mux)
	if err := db.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}
	return mux, nil
}

func serve(ctx context.Context, db *catalog.DB, addr string) error {
	mux, err := newMux(db)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("serving catalog %s on http://%s/runs", db.Path(), addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errc
}
