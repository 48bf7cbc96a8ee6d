package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/terrainforge/internal/auth"
	"github.com/annel0/terrainforge/internal/command"
	"github.com/annel0/terrainforge/internal/config"
	"github.com/annel0/terrainforge/internal/export"
	"github.com/annel0/terrainforge/internal/logging"
	"github.com/annel0/terrainforge/internal/noise"
	"github.com/annel0/terrainforge/internal/storage"
	"github.com/annel0/terrainforge/internal/terrain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	inputs     command.Inputs
	basis      string
	legacySeed bool
	workers    int
	format     string
	output     string
	quiet      bool

	token    bool
	subject  string
	tokenTTL time.Duration
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	def := command.InputsFromConfig(cfg.Terrain)

	fs := flag.NewFlagSet("terrain-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	o := &options{}
	fs.Float64Var(&o.inputs.TerrainSize, "size", def.TerrainSize, "размер ландшафта, мм")
	fs.Float64Var(&o.inputs.HeightScale, "height", def.HeightScale, "масштаб высоты, мм")
	fs.IntVar(&o.inputs.DetailLevel, "detail", def.DetailLevel, "уровень детализации 1–6 (сетка 2^d+1)")
	fs.IntVar(&o.inputs.Roughness, "roughness", def.Roughness, "шероховатость 1–10 (число октав)")
	fs.Int64Var(&o.inputs.Seed, "seed", def.Seed, "сид 0–10000")
	fs.StringVar(&o.basis, "basis", cfg.Terrain.NoiseBasis, "базис шума: value | perlin")
	fs.BoolVar(&o.legacySeed, "legacy-seed", cfg.Terrain.LegacySeed, "сид не влияет на рельеф")
	fs.IntVar(&o.workers, "workers", cfg.Terrain.Workers, "число параллельных строк")
	fs.StringVar(&o.format, "format", "obj", "формат файла: obj | png | tiff | csv")
	fs.StringVar(&o.output, "o", "", "путь к файлу (по умолчанию terrain.<format>)")
	fs.BoolVar(&o.quiet, "quiet", false, "не печатать прогресс")
	fs.BoolVar(&o.token, "token", false, "выпустить админский JWT вместо генерации")
	fs.StringVar(&o.subject, "subject", "admin", "subject для -token")
	fs.DurationVar(&o.tokenTTL, "ttl", 24*time.Hour, "срок действия токена для -token")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	logging.SetDefaultLogger(logging.NewConsoleLogger("terrain-cli", stderr, logging.ParseLevel(os.Getenv("TERRAIN_LOG_LEVEL"))))

	o, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}

	if o.token {
		return issueToken(o, stdout, stderr)
	}
	if err := generate(ctx, o, stdout, stderr); err != nil {
		if errors.Is(err, terrain.ErrCancelled) {
			fmt.Fprintln(stderr, "\n⛔ Генерация отменена")
			return 130
		}
		fmt.Fprintf(stderr, "❌ %v\n", err)
		return 1
	}
	return 0
}

func issueToken(o *options, stdout, stderr io.Writer) int {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(stderr, "❌ %v\n", err)
		return 1
	}
	tm, err := auth.NewTokenManager(cfg.Auth.GetJWTSecret())
	if err != nil {
		fmt.Fprintf(stderr, "❌ %v (задайте TERRAIN_JWT_SECRET)\n", err)
		return 1
	}
	token, err := tm.Generate(o.subject, true, o.tokenTTL)
	if err != nil {
		fmt.Fprintf(stderr, "❌ %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func generate(ctx context.Context, o *options, stdout, stderr io.Writer) error {
	format, err := export.ParseFormat(o.format)
	if err != nil {
		return err
	}
	basis, err := noise.ParseBasisKind(o.basis)
	if err != nil {
		return err
	}
	output := o.output
	if output == "" {
		output = "terrain" + format.Extension()
	}

	gen, err := command.NewGenerator(command.Deps{Store: storage.NewMemoryStore()}, command.Settings{
		Source:     "terrain-cli",
		Basis:      basis,
		LegacySeed: o.legacySeed,
		Workers:    o.workers,
	})
	if err != nil {
		return err
	}

	session := gen.NewSession()
	if !o.quiet {
		session.OnProgress(func(row, total int) {
			fmt.Fprintf(stderr, "\rГенерация ландшафта: строка %d/%d", row+1, total)
		})
		session.OnComplete(func(*command.Result) { fmt.Fprintln(stderr) })
	}

	res, err := session.Execute(ctx, o.inputs)
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("ошибка создания файла: %w", err)
	}
	if err := export.Write(f, res.Record.Map, format); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("ошибка записи файла: %w", err)
	}

	fmt.Fprintln(stdout, res.Summary)
	fmt.Fprintf(stdout, "Файл: %s\n", output)
	return nil
}
