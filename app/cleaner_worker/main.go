package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/playmesh/arena-matchmaker/domain/tickets"
)

type Config struct {
	RedisAddress        string        `mapstructure:"REDIS_ADDRESS"`
	RedisPassword       string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB             int           `mapstructure:"REDIS_DB"`
	RedisTicketsSetName string        `mapstructure:"REDIS_TICKETS_SET_NAME"`
	RedisCountPerScan   int64         `mapstructure:"REDIS_COUNT_PER_ITERATION"`
	TicketMaxAge        time.Duration `mapstructure:"TICKET_MAX_AGE"`
	SweepInterval       time.Duration `mapstructure:"WORKER_SWEEP_INTERVAL"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("app")
	viper.SetConfigType("env")

	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := LoadConfig("./app/cleaner_worker")
	if err != nil {
		log.Fatal().Err(err).Msg("cleaner: failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:            cfg.RedisAddress,
		DB:              cfg.RedisDB,
		Password:        cfg.RedisPassword,
		MaxRetries:      3,
		ConnMaxIdleTime: 3 * time.Minute,
	})

	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Fatal().Err(err).Msg("cleaner: redis unreachable")
	}

	repo := tickets.NewRepository(redisClient, tickets.RepositoryConfig{
		TicketsRedisSetName: cfg.RedisTicketsSetName,
		TicketMaxAge:        cfg.TicketMaxAge,
		CountPerIteration:   cfg.RedisCountPerScan,
	})

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal().Err(err).Msg("cleaner: failed to create scheduler")
	}

	sweep := func(ctx context.Context) {
		removed, err := repo.CleanupExpiredTickets(ctx)
		if err != nil {
			log.Error().Err(err).Msg("cleaner: sweep failed")
			return
		}
		if removed > 0 {
			log.Info().Int("removed", removed).Msg("cleaner: expired tickets removed")
		}
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(cfg.SweepInterval),
		gocron.NewTask(sweep, ctx),
	); err != nil {
		log.Fatal().Err(err).Msg("cleaner: failed to schedule sweep job")
	}

	scheduler.Start()
	log.Info().Dur("interval", cfg.SweepInterval).Msg("cleaner: started")

	<-ctx.Done()
	if err := scheduler.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("cleaner: scheduler shutdown incomplete")
	}
}
