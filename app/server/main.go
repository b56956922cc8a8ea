package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/viper"

	"github.com/playmesh/arena-matchmaker/app/server/handlers"
	"github.com/playmesh/arena-matchmaker/domain/entities"
	"github.com/playmesh/arena-matchmaker/domain/health"
	"github.com/playmesh/arena-matchmaker/domain/heartbeat"
	"github.com/playmesh/arena-matchmaker/domain/lobby"
	"github.com/playmesh/arena-matchmaker/domain/matchmaking"
	"github.com/playmesh/arena-matchmaker/domain/queue"
	"github.com/playmesh/arena-matchmaker/domain/registry"
	"github.com/playmesh/arena-matchmaker/domain/tickets"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	RedisAddress        string        `mapstructure:"REDIS_ADDRESS"`
	RedisPassword       string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB             int           `mapstructure:"REDIS_DB"`
	RedisTicketsSetName string        `mapstructure:"REDIS_TICKETS_SET_NAME"`
	RedisCountPerScan   int64         `mapstructure:"REDIS_COUNT_PER_ITERATION"`
	KafkaAddress        string        `mapstructure:"KAFKA_ADDRESS"`
	KafkaTopic          string        `mapstructure:"KAFKA_TOPIC"`
	TicketMaxAge        time.Duration `mapstructure:"TICKET_MAX_AGE"`
	PairingInterval     time.Duration `mapstructure:"PAIRING_INTERVAL"`
	HeartbeatInterval   time.Duration `mapstructure:"HEARTBEAT_PING_INTERVAL"`
	HeartbeatThreshold  int           `mapstructure:"HEARTBEAT_MISSED_THRESHOLD"`
	StaleSweepInterval  time.Duration `mapstructure:"HEARTBEAT_SWEEP_INTERVAL"`
	HealthProbeTimeout  time.Duration `mapstructure:"HEALTH_PROBE_TIMEOUT"`
	NotifyAttempts      int           `mapstructure:"NOTIFY_ATTEMPTS"`
	NotifyRetryDelay    time.Duration `mapstructure:"NOTIFY_RETRY_DELAY"`
	MaxConnections      int           `mapstructure:"MAX_CONNECTIONS"`
	MaxPerSession       int           `mapstructure:"MAX_PER_SESSION"`
	SessionExpiration   time.Duration `mapstructure:"SESSION_EXPIRATION"`
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

// registryPinger adapts the connection registry to the heartbeat monitor's
// send contract.
type registryPinger struct {
	reg *registry.Registry
}

func (p registryPinger) SendPing(userID string, timestamp int64) error {
	ok := p.reg.SendToUser(userID, entities.HeartbeatPingPayload{
		Type:      entities.MessageType_HeartbeatPing,
		Timestamp: timestamp,
	})
	if !ok {
		return errors.New("heartbeat ping not delivered")
	}
	return nil
}

// recoverQueue reloads still-waiting tickets from the repository after a
// restart so queued players are not silently lost. Oldest first, so FIFO
// order survives the round trip.
func recoverQueue(ctx context.Context, repo *tickets.Repository, queueManager *queue.Manager) error {
	active, err := repo.GetActiveTickets(ctx)
	if err != nil {
		return err
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].QueuedAt < active[j].QueuedAt
	})

	recovered := 0
	for _, ticket := range active {
		added, err := queueManager.Add(ctx, ticket)
		if err != nil {
			return err
		}
		if added {
			recovered++
		}
	}

	if recovered > 0 {
		log.Info().Int("tickets", recovered).Msg("server: queue recovered from repository")
	}
	return nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := LoadConfig("./app/server")
	if err != nil {
		log.Fatal().Err(err).Msg("server: failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:            cfg.RedisAddress,
		DB:              cfg.RedisDB,
		Password:        cfg.RedisPassword,
		MaxRetries:      3,
		ConnMaxIdleTime: 2 * time.Minute,
	})

	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Fatal().Err(err).Msg("server: redis unreachable")
	}

	kafkaConn, err := kafka.DialLeader(ctx, "tcp", cfg.KafkaAddress, cfg.KafkaTopic, 0)
	if err != nil {
		log.Fatal().Err(err).Str("address", cfg.KafkaAddress).Msg("server: failed to dial kafka leader")
	}
	defer kafkaConn.Close()

	clock := clockwork.NewRealClock()

	reg := registry.NewRegistry(registry.Config{
		MaxTotalConnections: cfg.MaxConnections,
		MaxPerGroup:         cfg.MaxPerSession,
	})

	monitor := heartbeat.NewMonitor(registryPinger{reg: reg}, clock, heartbeat.MonitorConfig{
		PingInterval:    cfg.HeartbeatInterval,
		MissedThreshold: cfg.HeartbeatThreshold,
		SweepInterval:   cfg.StaleSweepInterval,
	})

	repo := tickets.NewRepository(redisClient, tickets.RepositoryConfig{
		TicketsRedisSetName: cfg.RedisTicketsSetName,
		TicketMaxAge:        cfg.TicketMaxAge,
		CountPerIteration:   cfg.RedisCountPerScan,
	})

	queueManager := queue.NewManager(repo, monitor, clock)

	checker := health.NewRegistryChecker(reg, clock, health.CheckerConfig{
		ProbeTimeout: cfg.HealthProbeTimeout,
	})

	lobbyService := lobby.NewRedisService(redisClient, lobby.RedisServiceConfig{
		SessionExpiration: cfg.SessionExpiration,
	})

	creator := matchmaking.NewMatchCreator(checker, lobbyService, reg, repo, queueManager, monitor, clock, matchmaking.MatchCreatorConfig{
		NotifyAttempts:   cfg.NotifyAttempts,
		NotifyRetryDelay: cfg.NotifyRetryDelay,
	})

	events := matchmaking.NewKafkaEventPublisher(kafkaConn, matchmaking.KafkaEventPublisherConfig{})
	pairing := matchmaking.NewPairPlayersUseCase(queueManager, creator, events)

	if err := recoverQueue(ctx, repo, queueManager); err != nil {
		log.Fatal().Err(err).Msg("server: queue recovery failed")
	}

	monitor.Start(ctx)

	staleWorker := matchmaking.NewStaleWorker(queueManager, repo, monitor.Stale())
	go staleWorker.Run(ctx)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal().Err(err).Msg("server: failed to create scheduler")
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(cfg.PairingInterval),
		gocron.NewTask(pairing.PairPlayers, ctx),
	); err != nil {
		log.Fatal().Err(err).Msg("server: failed to schedule pairing job")
	}
	scheduler.Start()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: handlers.NewServer(queueManager, repo, monitor, checker, reg, clock),
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server: listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server: http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("server: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server: http shutdown incomplete")
	}
	if err := scheduler.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("server: scheduler shutdown incomplete")
	}
}
