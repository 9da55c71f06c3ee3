// Package main is the entry point for the trivia game bot.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"trivia-game-bot/internal/bot"
	"trivia-game-bot/internal/config"
	"trivia-game-bot/internal/dispatch"
	"trivia-game-bot/internal/game"
	"trivia-game-bot/internal/pkg/db"
	"trivia-game-bot/internal/pkg/lock"
	"trivia-game-bot/internal/repository"
	"trivia-game-bot/internal/timer"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer rdb.Close()

	sessionRepo := repository.NewSessionRepository(dbPool.Pool)
	playerRepo := repository.NewPlayerRepository(dbPool.Pool)
	difficultyRepo := repository.NewDifficultyRepository(dbPool.Pool)
	quizRepo := repository.NewQuizRepository(dbPool.Pool)
	turnQueue := repository.NewTurnQueueStore(rdb)

	if err := difficultyRepo.Seed(ctx, cfg.Difficulties); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed difficulties")
	}

	telegramBot, err := bot.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}

	timers := timer.NewRegistry()

	// One lock instance covers both event delivery and timer firings, so all
	// orchestrator work for a chat is mutually exclusive.
	chatLocks := lock.NewChatLock()

	orchestrator := game.New(
		sessionRepo,
		playerRepo,
		difficultyRepo,
		quizRepo,
		turnQueue,
		timers,
		telegramBot,
		chatLocks,
		game.Config{
			PrepTimeout:            time.Duration(cfg.Game.PrepTimeoutSeconds) * time.Second,
			DefaultResponseTime:    cfg.Game.ResponseTimeSeconds,
			DefaultSessionDuration: cfg.Game.SessionDurationSeconds,
			ThemeSampleSize:        cfg.Game.ThemeSampleSize,
		},
	)

	dispatcher := dispatch.New(telegramBot, orchestrator, chatLocks, dispatch.Config{
		Workers:     cfg.Dispatcher.Workers,
		QueueSize:   cfg.Dispatcher.QueueSize,
		StopTimeout: cfg.Dispatcher.StopTimeout,
	})
	dispatcher.Start(ctx)

	go telegramBot.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	telegramBot.Stop()
	dispatcher.Stop()
	timers.Shutdown()
	log.Info().Msg("Bot stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: players and their per-session statuses
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS players (
			id BIGSERIAL PRIMARY KEY,
			chat_user_id BIGINT NOT NULL UNIQUE,
			first_name VARCHAR(255) NOT NULL,
			last_name VARCHAR(255) NOT NULL DEFAULT '',
			games_count INT NOT NULL DEFAULT 0,
			wins_count INT NOT NULL DEFAULT 0,
			loses_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: players table created")

	// Migration 2: difficulties
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS difficulties (
			id BIGSERIAL PRIMARY KEY,
			title VARCHAR(100) NOT NULL UNIQUE,
			right_answers_to_win INT NOT NULL,
			wrong_answers_to_lose INT NOT NULL
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: difficulties table created")

	// Migration 3: sessions
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL,
			started_by BIGINT NOT NULL,
			status VARCHAR(20) NOT NULL,
			move_number INT NOT NULL DEFAULT 0,
			response_time INT NOT NULL,
			session_duration INT NOT NULL,
			answering_user_id BIGINT,
			question_asked BOOLEAN NOT NULL DEFAULT FALSE,
			start_message_id INT,
			winner_id BIGINT REFERENCES players(id),
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_chat_status ON sessions(chat_id, status);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: sessions table created")

	// Migration 4: per-session player statuses
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS player_statuses (
			id BIGSERIAL PRIMARY KEY,
			player_id BIGINT NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			session_id BIGINT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			difficulty_id BIGINT NOT NULL REFERENCES difficulties(id),
			right_answers INT NOT NULL DEFAULT 0,
			wrong_answers INT NOT NULL DEFAULT 0,
			is_won BOOLEAN NOT NULL DEFAULT FALSE,
			is_lost BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (player_id, session_id)
		);
		CREATE INDEX IF NOT EXISTS idx_player_statuses_session ON player_statuses(session_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: player_statuses table created")

	// Migration 5: quiz content
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS themes (
			id BIGSERIAL PRIMARY KEY,
			title VARCHAR(255) NOT NULL UNIQUE
		);
		CREATE TABLE IF NOT EXISTS questions (
			id BIGSERIAL PRIMARY KEY,
			theme_id BIGINT NOT NULL REFERENCES themes(id) ON DELETE CASCADE,
			difficulty_id BIGINT NOT NULL REFERENCES difficulties(id),
			title TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_questions_theme_difficulty ON questions(theme_id, difficulty_id);
		CREATE TABLE IF NOT EXISTS answers (
			id BIGSERIAL PRIMARY KEY,
			question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			is_correct BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_answers_question ON answers(question_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 5: quiz content tables created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
