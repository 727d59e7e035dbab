package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinel-guard/internal/analytics"
	"sentinel-guard/internal/audit"
	"sentinel-guard/internal/bot"
	"sentinel-guard/internal/config"
	"sentinel-guard/internal/cooldown"
	"sentinel-guard/internal/detection"
	"sentinel-guard/internal/dispatch"
	"sentinel-guard/internal/guildconfig"
	"sentinel-guard/internal/ops"
	"sentinel-guard/internal/playbook"
	"sentinel-guard/internal/storage"
	"sentinel-guard/internal/tracker"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const cooldownCapacity = 10000

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "sentinel",
		Usage:   "chat moderation bot: bot, spam and raid detection",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the YAML process config",
				EnvVars: []string{"CONFIG_PATH"},
			},
		},
		Commands: []*cli.Command{
			runCmd,
			configCmd,
			whitelistCmd,
		},
	}
	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "connect to the gateway and start moderating",
	Action: func(cctx *cli.Context) error {
		cfg, err := config.Load(cctx.String("config"))
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger, err := config.BuildLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer func() {
			_ = logger.Sync()
		}()

		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	configs, err := guildconfig.NewStore(cfg.GuildConfigs.Dir, cfg.GuildConfigs.Template, logger.Named("guildconfig"))
	if err != nil {
		return err
	}

	var (
		store       *storage.Store
		auditSink   audit.Sink
		infractions dispatch.Infractions
		reporter    *analytics.Service
		pinger      ops.Pinger
	)
	if cfg.Postgres.DSN != "" {
		store, err = storage.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		auditSink, infractions, pinger = store, store, store
		reporter = analytics.New(store)
	} else {
		logger.Warn("postgres not configured, audit log and infractions are kept in process logs only")
	}

	var cooldowns cooldown.Store
	if cfg.Redis.URL != "" {
		redisStore, err := cooldown.NewRedisStore(ctx, cfg.Redis.URL, cfg.Dispatch.Cooldown())
		if err != nil {
			return err
		}
		defer redisStore.Close()
		cooldowns = redisStore
	} else {
		cooldowns = cooldown.NewMemStore(cooldownCapacity, cfg.Dispatch.Cooldown())
	}

	rates, err := tracker.NewRateTracker(cfg.Tracker.MaxUsers)
	if err != nil {
		return err
	}

	auditLogger := audit.NewLogger(auditSink, logger.Named("audit"))
	playbookEngine := playbook.New(playbook.Config{LockdownMinutes: cfg.Playbook.LockdownMinutes}, configs, auditLogger)
	engine := detection.NewEngine(configs, rates, tracker.NewRaidTracker(), logger.Named("detection"))

	session, err := bot.NewSession(cfg.DiscordToken)
	if err != nil {
		return err
	}
	dispatcher := dispatch.New(dispatch.Config{
		QuarantineRole:       cfg.Dispatch.QuarantineRole,
		DeleteMessageDays:    cfg.Dispatch.DeleteMessageDays,
		ActionTimeout:        cfg.Dispatch.Timeout(),
		RatePerSecond:        cfg.Dispatch.RatePerSecond,
		Burst:                cfg.Dispatch.Burst,
		InfractionForgiveAge: cfg.Dispatch.InfractionForgiveAge(),
		VerificationAttempts: cfg.Verification.MaxAttempts,
	}, bot.NewExecutor(session, logger.Named("executor")), configs, cooldowns, auditLogger, playbookEngine, infractions, logger.Named("dispatch"))

	botSvc := bot.New(session, bot.Deps{
		Configs:    configs,
		Engine:     engine,
		Dispatcher: dispatcher,
		Playbook:   playbookEngine,
		Audit:      auditLogger,
		Analytics:  reporter,
	}, logger.Named("bot"))
	if err := botSvc.Start(); err != nil {
		return err
	}
	defer botSvc.Close()
	logger.Info("bot started", zap.String("version", versioninfo.Short()))

	group, ctx := errgroup.WithContext(ctx)
	if cfg.Ops.Enabled {
		deps := ops.Deps{Configs: configs, Lockdowns: playbookEngine, Pinger: pinger}
		if store != nil {
			deps.Reporter = reporter
			deps.Infractions = store
		}
		server := ops.NewServer(deps, logger.Named("ops"))
		group.Go(func() error {
			return server.Start(ctx, cfg.Ops.Addr)
		})
	}
	if store != nil {
		group.Go(func() error {
			retentionLoop(ctx, store, cfg.RetentionDays, logger)
			return nil
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown requested")
		return nil
	})
	return group.Wait()
}

func retentionLoop(ctx context.Context, store *storage.Store, days int, logger *zap.Logger) {
	if days <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		removed, err := store.CleanupAuditLogs(ctx, days)
		if err != nil {
			logger.Warn("audit retention cleanup failed", zap.Error(err))
		} else if removed > 0 {
			logger.Info("audit retention cleanup", zap.Int64("removed", removed))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

var guildFlag = &cli.StringFlag{
	Name:     "guild",
	Usage:    "guild ID",
	Required: true,
}

var configCmd = &cli.Command{
	Name:  "config",
	Usage: "inspect or change a guild's moderation config",
	Subcommands: []*cli.Command{
		{
			Name:  "show",
			Usage: "print the merged guild config, or one dotted setting",
			Flags: []cli.Flag{
				guildFlag,
				&cli.StringFlag{Name: "path", Usage: "dotted setting path"},
			},
			Action: func(cctx *cli.Context) error {
				configs, err := openGuildConfigs(cctx)
				if err != nil {
					return err
				}
				guildID := cctx.String("guild")
				if !guildconfig.ValidGuildID(guildID) {
					return fmt.Errorf("invalid guild id %q", guildID)
				}
				var out any = configs.Tree(guildID)
				if path := cctx.String("path"); path != "" {
					value, ok := configs.Setting(guildID, path)
					if !ok {
						return fmt.Errorf("setting %q not found", path)
					}
					out = value
				}
				enc := json.NewEncoder(cctx.App.Writer)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			},
		},
		{
			Name:      "set",
			Usage:     "change one dotted setting; VALUE is JSON or a plain string",
			ArgsUsage: "PATH VALUE",
			Flags:     []cli.Flag{guildFlag},
			Action: func(cctx *cli.Context) error {
				if cctx.Args().Len() != 2 {
					return cli.Exit("expected PATH VALUE", 2)
				}
				configs, err := openGuildConfigs(cctx)
				if err != nil {
					return err
				}
				path := cctx.Args().Get(0)
				if !configs.UpdateSetting(cctx.String("guild"), path, guildconfig.ParseValue(cctx.Args().Get(1))) {
					return fmt.Errorf("could not update %q (unknown guild, bad path or wrong value type)", path)
				}
				fmt.Fprintf(cctx.App.Writer, "%s updated\n", path)
				return nil
			},
		},
	},
}

var whitelistCmd = &cli.Command{
	Name:  "whitelist",
	Usage: "manage trusted members of a guild",
	Subcommands: []*cli.Command{
		whitelistAction("add", (*guildconfig.Store).AddWhitelistUser),
		whitelistAction("remove", (*guildconfig.Store).RemoveWhitelistUser),
	},
}

func whitelistAction(name string, apply func(*guildconfig.Store, string, string) bool) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     name + " a user ID",
		ArgsUsage: "USER",
		Flags:     []cli.Flag{guildFlag},
		Action: func(cctx *cli.Context) error {
			if cctx.Args().Len() != 1 {
				return cli.Exit("expected USER", 2)
			}
			configs, err := openGuildConfigs(cctx)
			if err != nil {
				return err
			}
			if !apply(configs, cctx.String("guild"), cctx.Args().First()) {
				return errors.New("whitelist update failed")
			}
			fmt.Fprintf(cctx.App.Writer, "whitelist %s %s\n", name, cctx.Args().First())
			return nil
		},
	}
}

func openGuildConfigs(cctx *cli.Context) (*guildconfig.Store, error) {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return nil, err
	}
	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return guildconfig.NewStore(cfg.GuildConfigs.Dir, cfg.GuildConfigs.Template, logger)
}
