package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/wirecutter/app/queue"
	"github.com/umputun/wirecutter/app/store"
	"github.com/umputun/wirecutter/app/users"
	"github.com/umputun/wirecutter/app/web"
)

var opts struct {
	Listen    string  `short:"l" long:"listen" env:"WIRECUTTER_LISTEN" default:":8080" description:"web server listen address"`
	Driver    string  `long:"driver" env:"WIRECUTTER_DRIVER" default:"sqlite" description:"database driver, sqlite or pgx"`
	JobsDB    string  `long:"jobs-db" env:"WIRECUTTER_JOBS_DB" default:"wirecutter.db" description:"jobs database, file for sqlite or dsn for postgres"`
	UsersDB   string  `long:"users-db" env:"WIRECUTTER_USERS_DB" default:"wirecutter-users.db" description:"users database, file for sqlite or dsn for postgres"`
	PoolSize  int     `long:"pool-size" env:"WIRECUTTER_POOL_SIZE" default:"32" description:"max connections per database"`
	Auth      bool    `long:"auth" env:"WIRECUTTER_AUTH" description:"require basic auth for mutating requests"`
	UsersFile string  `long:"users-file" env:"WIRECUTTER_USERS_FILE" description:"yaml file with users to register on startup"`
	WriteRate float64 `long:"write-rate" env:"WIRECUTTER_WRITE_RATE" default:"10" description:"max mutating requests per second per client, 0 disables"`
	Dbg       bool    `long:"dbg" env:"WIRECUTTER_DEBUG" description:"debug mode"`

	Connect struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"5" description:"how many times to try the initial connection"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial duration"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"2" description:"backoff factor"`
		Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
	} `group:"connect" namespace:"connect" env-namespace:"WIRECUTTER_CONNECT"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"file" env:"FILE" default:"wirecutter.log" description:"log file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in megabytes"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of old log files to retain"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max days to retain old log files, 0 keeps all"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated log files"`
	} `group:"log" namespace:"log" env-namespace:"WIRECUTTER_LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("wirecutter %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogger(setupLogs(), opts.Dbg)

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	jobsGW, err := openGateway(ctx, "jobs", opts.JobsDB, queue.Schema)
	if err != nil {
		return err
	}
	defer jobsGW.Close()

	usersGW, err := openGateway(ctx, "users", opts.UsersDB, users.Schema)
	if err != nil {
		return err
	}
	defer usersGW.Close()

	userStore := users.New(usersGW)
	if opts.UsersFile != "" {
		regs, err := users.LoadFile(opts.UsersFile)
		if err != nil {
			return err
		}
		added, err := userStore.Bootstrap(ctx, regs)
		if err != nil {
			return err
		}
		log.Printf("[INFO] %d of %d users registered from %s", added, len(regs), opts.UsersFile)
	}

	cfg := web.Config{
		Queue:          queue.New(jobsGW),
		Health:         func(ctx context.Context) error { return store.Check(ctx, jobsGW, usersGW) },
		Version:        revision,
		WriteRateLimit: opts.WriteRate,
	}
	if opts.Auth {
		cfg.Auth = userStore
	}
	srv, err := web.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}
	return srv.Run(ctx, opts.Listen)
}

// openGateway connects to one logical database with startup retries and applies its schema
func openGateway(ctx context.Context, name, dsn string, schema store.Schema) (*store.Gateway, error) {
	rptr := repeater.New(&strategy.Backoff{Repeats: opts.Connect.Attempts, Duration: opts.Connect.Duration,
		Factor: opts.Connect.Factor, Jitter: opts.Connect.Jitter})

	gw, err := store.Open(ctx, store.Params{Name: name, Driver: opts.Driver, DSN: dsn, PoolSize: opts.PoolSize, Connect: rptr})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", name, err)
	}
	if err := gw.Migrate(ctx, schema); err != nil {
		_ = gw.Close()
		return nil, fmt.Errorf("failed to migrate %s database: %w", name, err)
	}
	return gw, nil
}

// setupLogs returns the log destination, a rotating file if enabled
func setupLogs() io.Writer {
	if !opts.Log.Enabled {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   opts.Log.Filename,
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAge,
		Compress:   opts.Log.EnabledCompress,
	}
}

func setupLogger(out io.Writer, dbg bool) {
	if dbg {
		log.Setup(log.Out(out), log.Err(out), log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile)
		return
	}
	log.Setup(log.Out(out), log.Err(out), log.Msec)
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] signal %s received, shutting down", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
