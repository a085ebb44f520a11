package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"steeple.org/internal/migrate"
	"steeple.org/internal/obs"
	"steeple.org/ops/migrations"
)

func main() {
	log := obs.Logger()
	var (
		dsn            = pflag.String("dsn", os.Getenv("STEEPLE_DATABASE_DSN"), "PostgreSQL DSN")
		migrationsPath = pflag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
		seedsPath      = pflag.String("seeds", "ops/migrations/seeds", "Path to SQL seeds")
		embedded       = pflag.Bool("embedded", false, "Use the migrations compiled into the binary")
		timeout        = pflag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [flags] up|down|seed|status")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via --dsn or STEEPLE_DATABASE_DSN")
	}
	if pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer db.Close()

	var opts []migrate.Option
	if *embedded {
		var fsys fs.FS = migrations.FS
		opts = append(opts, migrate.WithFS(fsys))
		*migrationsPath, *seedsPath = migrations.SQLDir, migrations.SeedsDir
	} else {
		opts = append(opts, migrate.WithFS(os.DirFS("/")))
		*migrationsPath, *seedsPath = rootRelative(*migrationsPath), rootRelative(*seedsPath)
	}
	mgr := migrate.NewManager(db, *migrationsPath, *seedsPath, opts...)

	cmd := pflag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		printAll(applied)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println(name)
		}
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		printAll(applied)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		printAll(history)
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.WithError(err).Fatalf("migrate %s", cmd)
	}
}

// rootRelative turns a flag path into a path inside os.DirFS("/").
func rootRelative(p string) string {
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return strings.TrimPrefix(filepath.ToSlash(abs), "/")
}

func printAll(items []string) {
	for _, item := range items {
		fmt.Println(item)
	}
}
