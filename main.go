package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pairchat/pairchat/auth"
	"github.com/pairchat/pairchat/store"
	"github.com/pairchat/pairchat/ws"
)

var (
	flagAddr    = flag.String("addr", "127.0.0.1:8000", "server address, ip:port")
	flagPidFile = flag.String("pid-file", "pairchat.pid", "pid file")

	flagDbDriver   = flag.String("db-driver", "sqlite", "record store driver: sqlite or mysql")
	flagSqlitePath = flag.String("sqlite-path", "data/pairchat.db", "sqlite database path")
	flagMysqlDsn   = flag.String("mysql-dsn",
		"root:@tcp(127.0.0.1:3306)/pairchat?multiStatements=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		"mysql server dsn, requires multiStatements for schema init")

	flagSessionQuota = flag.Uint("session-quota", 5, "per user session quota, allowed value in [1, 10]")
	flagEventRate    = flag.Float64("event-rate", 20, "client events per second per connection")
	flagEventBurst   = flag.Uint("event-burst", 40, "client event burst per connection")
	flagAuthToken    = flag.String("auth-token", "", "shared connect token, empty admits everyone")

	flagPprofDir       = flag.String("pprof-dir", "pprof", "dir to save pprof data files")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")
)

func main() {
	// .env overlays the flag defaults in dev deployments.
	_ = godotenv.Load()
	applyEnvDefaults()

	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func applyEnvDefaults() {
	for env, name := range map[string]string{
		"PAIRCHAT_ADDR":      "addr",
		"PAIRCHAT_DB_DRIVER": "db-driver",
		"SQLITE_PATH":        "sqlite-path",
		"MYSQL_DSN":          "mysql-dsn",
		"PAIRCHAT_TOKEN":     "auth-token",
	} {
		if v := os.Getenv(env); v != "" {
			_ = flag.Set(name, v)
		}
	}
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	pid := os.Getpid()

	if err := savePid(*flagPidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	pprofDir := filepath.Join(*flagPprofDir, strconv.Itoa(pid))
	if err := os.MkdirAll(pprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", pprofDir, err)
	}
	defer func() {
		_ = os.RemoveAll(pprofDir)
	}()

	openCtx, openCancel := context.WithTimeout(context.Background(), 10*time.Second)
	var st store.Store
	var err error
	switch *flagDbDriver {
	case "sqlite":
		st, err = store.NewSQLiteStore(openCtx, *flagSqlitePath)
	case "mysql":
		st, err = store.NewMySQLStore(openCtx, *flagMysqlDsn)
	}
	openCancel()
	if err != nil {
		return errorf("open %s store error: %v", *flagDbDriver, err)
	}

	glog.Info("pairchat server is starting")

	hub := ws.NewHub(&auth.MockClient{Token: *flagAuthToken}, st, &ws.Conf{
		SessionQuota: int(*flagSessionQuota),
		EventRate:    *flagEventRate,
		EventBurst:   int(*flagEventBurst),
	})

	mux := http.NewServeMux()
	if !*flagDisableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	lis, err := net.Listen("tcp", *flagAddr)
	if err != nil {
		return errorf("listen %s error: %v", *flagAddr, err)
	}

	httpServer := &http.Server{Handler: mux}
	go func() {
		glog.Infof("http server is listening %v", *flagAddr)
		if err := httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			glog.Errorf("error serve http mux server: %v", err)
		}
	}()

	stopNotifyChan := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx, stopNotifyChan)

	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler; `CTRL+c` or `kill %d` to graceful stop", pid, pid, pid)

	var stopping bool

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)

	var prof *Profiler

	for sig := range sigCh {
		switch sig {
		case syscall.SIGUSR1:
			dumpGoroutines(pprofDir)
		case syscall.SIGUSR2:
			if prof == nil {
				prof = StartProfiler(pprofDir)
			} else {
				prof.Stop()
				prof = nil
			}
		case syscall.SIGTERM, syscall.SIGINT:
			if stopping {
				glog.Infof("pairchat server is already in stop")
				continue
			}
			stopping = true
			glog.Infof("received signal `%s`, stopping", sig.String())
			go func() {
				if prof != nil {
					prof.Stop()
				}
				cancel()
				<-stopNotifyChan
				close(stopNotifyChan)
				httpServer.Shutdown(context.Background())
				_ = st.Close()
				signal.Stop(sigCh)
				close(sigCh)
			}()
		}
	}

	glog.Info("pairchat server exited")
	return 0
}

func validateFlags() int {
	if *flagAddr == "" {
		return errorf("--addr is required")
	}
	if err := validateAddr(*flagAddr); err != nil {
		return errorf("--addr: %v", err)
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}
	if *flagPprofDir == "" {
		return errorf("--pprof-dir is required")
	}

	switch *flagDbDriver {
	case "sqlite":
		if *flagSqlitePath == "" {
			return errorf("--sqlite-path is required")
		}
	case "mysql":
		if *flagMysqlDsn == "" {
			return errorf("--mysql-dsn is required")
		}
	default:
		return errorf("--db-driver MUST be sqlite or mysql")
	}

	if *flagSessionQuota == 0 {
		return errorf("--session-quota is required positive integer")
	} else if *flagSessionQuota > 10 {
		return errorf("--session-quota MUST in range [1, 10]")
	}

	if *flagEventRate <= 0 || *flagEventBurst == 0 {
		return errorf("--event-rate and --event-burst MUST be positive")
	}

	return 0
}

func validateAddr(s string) error {
	ips, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	if ip := net.ParseIP(ips); ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", ips)
	}
	return nil
}

func errorf(format string, args ...interface{}) int {
	glog.Errorf(format, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		content, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(string(content))
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(oldPid)
			if err != nil {
				return err
			}
			defer proc.Release()

			if err := proc.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("pid file: exists with pid: %d, the process is running", oldPid)
			}
			glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pid file: stat error: %v", err)
	}

	if err := os.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("pid file: write error: %v", err)
	}
	glog.Infof("pid file: write pid done")
	return nil
}
