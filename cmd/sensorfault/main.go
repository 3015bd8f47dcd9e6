package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/lox/sensorfault/internal/alias"
	"github.com/lox/sensorfault/internal/api"
	"github.com/lox/sensorfault/internal/auth"
	"github.com/lox/sensorfault/internal/ingest"
	"github.com/lox/sensorfault/internal/models"
	"github.com/lox/sensorfault/internal/modelreg"
	"github.com/lox/sensorfault/internal/router"
	"github.com/lox/sensorfault/internal/schema"
	"github.com/lox/sensorfault/internal/store"
)

type CLI struct {
	DB        string  `help:"Path to SQLite database." default:"data/sensorfault.db" env:"SENSORFAULT_DB"`
	ModelsDir string  `help:"Directory holding <family>_pipeline.tflite models or a manifest.yaml." default:"models" env:"SENSORFAULT_MODELS_DIR"`
	Manifest  string  `help:"Explicit model manifest; overrides --models-dir." env:"SENSORFAULT_MANIFEST"`
	Cutoff    float64 `help:"Fuzzy column match threshold in [0,1]; 0 accepts any fuzzy candidate." default:"0.78" env:"SENSORFAULT_CUTOFF"`
	Workers   int     `help:"Rows routed concurrently; 1 keeps rows on one goroutine." default:"1" env:"SENSORFAULT_WORKERS"`
	Threads   int     `help:"TFLite interpreter threads per model." default:"1" env:"SENSORFAULT_TFLITE_THREADS"`
	Timezone  string  `help:"Timezone for activity timestamps." default:"UTC" env:"SENSORFAULT_TZ"`

	FTPAddr     string `name:"ftp-addr" help:"Gateway FTP drop box host:port." env:"SENSORFAULT_FTP_ADDR"`
	FTPUser     string `name:"ftp-user" help:"FTP username (anonymous when empty)." env:"SENSORFAULT_FTP_USER"`
	FTPPassword string `name:"ftp-password" help:"FTP password." env:"SENSORFAULT_FTP_PASSWORD"`

	Serve    ServeCmd    `cmd:"" help:"Run the HTTP server."`
	Predict  PredictCmd  `cmd:"" help:"Route a CSV file through the models and write the annotated table."`
	Useradd  UseraddCmd  `cmd:"" help:"Create an account."`
	Activity ActivityCmd `cmd:"" help:"List recent prediction runs."`
}

type ServeCmd struct {
	Port          string        `help:"HTTP server port." default:"8080" env:"PORT"`
	SessionSecret string        `help:"Key used to sign session cookies." env:"SENSORFAULT_SESSION_SECRET"`
	AdminPassword string        `help:"Password for the seeded admin account." env:"SENSORFAULT_ADMIN_PASSWORD"`
	Watch         []string      `help:"FTP paths to poll and route." env:"SENSORFAULT_WATCH"`
	WatchInterval time.Duration `help:"Poll interval for --watch paths." default:"5m" env:"SENSORFAULT_WATCH_INTERVAL"`
	WatchOwner    string        `help:"Account the polled runs are recorded under." default:"ftp" env:"SENSORFAULT_WATCH_OWNER"`
}

type PredictCmd struct {
	In      string `help:"Local CSV to read." xor:"source" type:"existingfile"`
	FTPPath string `name:"ftp-path" help:"CSV path on the FTP drop box." xor:"source"`
	Out     string `help:"Where to write the annotated CSV; stdout when empty."`
	Mode    string `help:"Sensor family to force, or auto to detect per row." default:"auto"`
}

type UseraddCmd struct {
	Username string `arg:"" help:"Login name."`
	Name     string `help:"Display name."`
	Password string `help:"Account password." env:"SENSORFAULT_NEW_PASSWORD" required:""`
	Admin    bool   `help:"Grant the admin role."`
}

type ActivityCmd struct {
	User  string `help:"Only show runs by this user."`
	Limit int    `help:"Number of runs to show." default:"5"`
	CSV   bool   `name:"csv" help:"Write the runs as a CSV report instead of a table."`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("warning: load .env: %v", err)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("sensorfault"),
		kong.Description("Sensor family detection and fault prediction."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

func (c *CLI) openStore() (*store.Store, func(), error) {
	if dir := filepath.Dir(c.DB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", c.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("warning: could not load %s timezone, using UTC: %v", c.Timezone, err)
		loc = time.UTC
	}

	st := store.New(db, loc)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

func (c *CLI) loadModels() (*modelreg.Registry, error) {
	if c.Manifest != "" {
		m, err := modelreg.ReadManifest(c.Manifest)
		if err != nil {
			return nil, err
		}
		return modelreg.Load(m, filepath.Dir(c.Manifest)), nil
	}
	return modelreg.LoadDir(c.ModelsDir, c.Threads)
}

func (c *CLI) newRouter(reg router.Registry) *router.Router {
	cutoff := c.Cutoff
	if cutoff < 0 || cutoff > 1 {
		log.Printf("warning: cutoff %.2f outside [0,1], using %.2f", cutoff, alias.DefaultCutoff)
		cutoff = alias.DefaultCutoff
	}
	return router.New(reg, router.Options{Cutoff: &cutoff, Workers: c.Workers})
}

func (c *CLI) ftpSource() *ingest.FTPSource {
	return ingest.NewFTPSource(c.FTPAddr, c.FTPUser, c.FTPPassword)
}

func (cmd *ServeCmd) Run(cli *CLI) error {
	st, closeDB, err := cli.openStore()
	if err != nil {
		return err
	}
	defer closeDB()
	log.Println("database migrated")

	if err := auth.NewService(st).EnsureAdmin(cmd.AdminPassword); err != nil {
		return err
	}

	reg, err := cli.loadModels()
	if err != nil {
		return err
	}
	defer reg.Close()
	log.Printf("models loaded for %v", reg.Families())

	rt := cli.newRouter(reg)
	server := api.NewServer(st, rt, reg, api.Config{
		Port:          cmd.Port,
		SessionSecret: cmd.SessionSecret,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(cmd.Watch) > 0 {
		if cli.FTPAddr == "" {
			return errors.New("--watch needs --ftp-addr")
		}
		scheduler := ingest.NewScheduler(cli.ftpSource(), rt, st, cmd.Watch, cmd.WatchOwner)
		scheduler.SetInterval(cmd.WatchInterval)
		go scheduler.Run(ctx)
	}

	return server.Run(ctx)
}

func (cmd *PredictCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var table *models.Table
	var err error
	switch {
	case cmd.In != "":
		table, err = ingest.LoadFile(cmd.In)
	case cmd.FTPPath != "":
		if cli.FTPAddr == "" {
			return errors.New("--ftp-path needs --ftp-addr")
		}
		table, err = cli.ftpSource().Fetch(ctx, cmd.FTPPath)
	default:
		return errors.New("one of --in or --ftp-path is required")
	}
	if err != nil {
		return err
	}

	reg, err := cli.loadModels()
	if err != nil {
		return err
	}
	defer reg.Close()
	rt := cli.newRouter(reg)

	var records []models.AnnotatedRecord
	if cmd.Mode == "" || cmd.Mode == api.ModeAuto {
		records = rt.Route(ctx, table)
	} else {
		family, err := schema.ParseFamily(cmd.Mode)
		if err != nil {
			return err
		}
		if records, err = rt.RouteAs(ctx, table, family); err != nil {
			return err
		}
	}

	out := router.ToTable(table.Columns, records)
	if cmd.Out == "" {
		return ingest.WriteCSV(os.Stdout, out)
	}
	if err := ingest.WriteFile(cmd.Out, out); err != nil {
		return err
	}
	log.Printf("wrote %d rows to %s", out.Len(), cmd.Out)
	return nil
}

func (cmd *UseraddCmd) Run(cli *CLI) error {
	st, closeDB, err := cli.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	role := models.RoleUser
	if cmd.Admin {
		role = models.RoleAdmin
	}
	u, err := auth.NewService(st).Create(cmd.Username, cmd.Name, cmd.Password, role)
	if err != nil {
		return err
	}
	log.Printf("created %s (%s)", u.Username, u.Role)
	return nil
}

func (cmd *ActivityCmd) Run(cli *CLI) error {
	st, closeDB, err := cli.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	var runs []models.Activity
	if cmd.User != "" {
		runs, err = st.ActivityForUser(cmd.User, cmd.Limit)
	} else {
		runs, err = st.LatestActivity(cmd.Limit)
	}
	if err != nil {
		return err
	}
	if cmd.CSV {
		return ingest.WriteCSV(os.Stdout, models.ActivityReport(runs))
	}

	sum, err := st.SummarizeActivity(time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("%d runs by %d users, %d today\n\n", sum.Total, sum.Users, sum.Today)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWHEN\tUSER\tMODE\tFILE\tROWS")
	for _, a := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			a.ID, a.CreatedAt.Format(models.ActivityTimeFormat), a.Username, a.SensorType, a.InputName, a.RowCount)
	}
	return w.Flush()
}
