package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cyqddx/shuyuan/core/artifact"
	"github.com/cyqddx/shuyuan/core/gateway"
	"github.com/cyqddx/shuyuan/core/infra/config"
	"github.com/cyqddx/shuyuan/core/infra/logging"
	"github.com/cyqddx/shuyuan/core/infra/metadata"
	"github.com/cyqddx/shuyuan/core/infra/metrics"
	"github.com/cyqddx/shuyuan/core/infra/ratelimit"
	"github.com/cyqddx/shuyuan/core/infra/storage"
	"github.com/cyqddx/shuyuan/core/lifecycle"
)

func main() {
	log.Println("shuyuan starting...")

	proc := config.LoadProcess()
	snap, err := config.Load(proc.ConfigPath)
	if err != nil {
		log.Fatalf("load config %s: %v", proc.ConfigPath, err)
	}
	coord := config.NewCoordinator(snap)

	m := metrics.NewProm("shuyuan")
	go serveMetrics(proc.MetricsAddr)

	watcher := config.NewWatcher(proc.ConfigPath, coord)
	watcher.SetMetrics(m)
	if err := watcher.Start(); err != nil {
		log.Fatalf("watch config: %v", err)
	}
	defer watcher.Stop()
	go announceConfigChanges(coord, coord.Subscribe(), snap.RemoteStorage.Enabled)

	if err := os.MkdirAll(proc.DataDir, 0o750); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	meta, err := metadata.Open(filepath.Join(proc.DataDir, "shuyuan.db"))
	if err != nil {
		log.Fatalf("open metadata store: %v", err)
	}
	defer meta.Close()

	local, err := storage.NewLocal(proc.UploadDir)
	if err != nil {
		log.Fatalf("open local storage: %v", err)
	}
	remote, err := buildRemote(snap)
	if err != nil {
		log.Fatalf("connect remote storage: %v", err)
	}
	dual := storage.NewDual(local, remote)

	limiter, err := buildLimiter(snap)
	if err != nil {
		log.Fatalf("connect rate limit store: %v", err)
	}
	defer limiter.Close()

	svc := artifact.NewService(meta, dual, coord, m)

	reaper := lifecycle.NewReaper(meta, dual, m, lifecycle.DefaultReapInterval)
	reaper.Start()
	defer reaper.Stop()
	reconciler := lifecycle.NewReconciler(meta, dual, m, lifecycle.DefaultReconcileInterval, lifecycle.DefaultReconcileGrace)
	reconciler.Start()
	defer reconciler.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := gateway.New(svc, coord, limiter, metrics.NewGatewayProm("shuyuan"))
	if err := gw.Start(ctx, proc.HTTPAddr); err != nil {
		log.Fatalf("gateway error: %v", err)
	}
	logging.Info("main", "shutdown complete")
}

// announceConfigChanges logs the effective knobs whenever a new
// snapshot lands. The channel only signals wake-up; the coordinator is
// consulted for the latest version so missed notifications cannot leave
// a stale report. Changes to the remote storage toggle get a warning:
// the remote client is selected at startup, so the flip waits for a
// restart.
func announceConfigChanges(coord *config.Coordinator, changes <-chan *config.Snapshot, bootRemote bool) {
	for range changes {
		snap := coord.Current()
		logging.Info("main", "config change applied",
			"version", snap.Version,
			"max_file_size", snap.MaxFileSize,
			"rate_limit", snap.RateLimit.Rule)
		if snap.RemoteStorage.Enabled != bootRemote {
			logging.Warn("main", "remote storage toggle takes effect after restart",
				"running_with_remote", bootRemote)
		}
	}
}

// buildRemote selects the remote mirror once at startup from the
// initial snapshot. Flipping remote storage on requires a restart; the
// snapshot flag only governs whether records expect a remote copy.
func buildRemote(snap *config.Snapshot) (storage.Backend, error) {
	if !snap.RemoteStorage.Enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return storage.NewS3(ctx, storage.S3Options{
		Endpoint:  snap.RemoteStorage.Endpoint,
		Region:    snap.RemoteStorage.Region,
		Bucket:    snap.RemoteStorage.Bucket,
		AccessKey: snap.RemoteStorage.AccessKey,
		SecretKey: snap.RemoteStorage.SecretKey,
	})
}

// buildLimiter picks the shared Redis counter when one is configured,
// the in-process counter otherwise.
func buildLimiter(snap *config.Snapshot) (ratelimit.Limiter, error) {
	if snap.RateLimit.RedisURL == "" {
		return ratelimit.NewMemory(), nil
	}
	return ratelimit.NewRedis(snap.RateLimit.RedisURL)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Printf("metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("metrics server error: %v", err)
	}
}
