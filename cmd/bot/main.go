package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"haggle-lab/domain"
	"haggle-lab/domain/event"
	"haggle-lab/internal"
	"haggle-lab/observability"
	"haggle-lab/projection"
	"haggle-lab/repositories"
	"haggle-lab/runtime"
	"haggle-lab/runtime/workers"
	"haggle-lab/services"
	"haggle-lab/sink"
	"haggle-lab/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the lifecycle, and centralizes
// error reporting so every defer (database cleanup included) executes
// before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Databases (BadgerDB + Bluge index)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		log.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	// 3. Repositories & Services
	monitoring := observability.NewMonitoringManager(log)
	participants := repositories.NewParticipantRepository(db, log)
	transcripts := repositories.NewTranscriptRepository(db, log, config.LimitTranscript)
	messages := repositories.NewMessageRepository(db, log, nil)
	dedup := repositories.NewDedupRepository(db, log, config.DedupRetention)

	deliverer := transport.NewConsole(os.Stdout)
	messenger := services.NewMessenger(deliverer, messages, monitoring, log)
	matchmaker := services.NewMatchmaker(participants, log)
	relay := services.NewRelay(participants, transcripts, messenger, log)
	funnel := services.NewFunnel(participants, transcripts, messenger, log)
	notifier := services.NewNotifier(participants, messenger, log)

	events := make(chan event.DomainEvent, config.BufferSize)
	dispatcher := services.NewDispatcher(
		participants, transcripts, messages, dedup,
		matchmaker, relay, funnel, notifier, messenger,
		monitoring, events, log,
	)

	// 4. Supervision & Orchestration
	sup := workers.NewSupervisor(log, config.RestartInterval)
	orchestrator := runtime.NewOrchestrator(
		log, sup, dispatcher, deliverer, monitoring, events,
		config.NumberOfWorkers, config.BufferSize, config.HeartbeatInterval,
	)
	timeline := projection.NewTimeline(50)
	orchestrator.Add(sink.NewSearchSink(blugeWriter, log), sink.NewAuditSink(log), timeline)

	if config.DebugPort > 0 {
		internal.StartDebugServer(db, config.DebugPort, func() map[string]any {
			stats := monitoring.Snapshot()
			merged := timeline.Stats()
			merged["events_handled"] = stats.EventsHandled
			merged["pairings_made"] = stats.PairingsMade
			merged["sessions_ended"] = stats.SessionsEnded
			merged["delivery_failures"] = stats.DeliveryFailures
			merged["uptime"] = stats.Uptime
			return merged
		})
		log.Info("Debug inspector listening", "port", config.DebugPort)
	}

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator failed to start: %w", err)
	}

	// 6. Console front door: "participant_id<TAB>text" per line. The real
	// webhook transport lives outside this repository.
	log.Info("Reading inbound messages from stdin", "format", "participant_id<TAB>text")
	go readStdin(orchestrator)

	<-ctx.Done()
	log.Info("Shutting down gracefully...")
	// Give in-flight handlers a moment to drain.
	time.Sleep(200 * time.Millisecond)
	return nil
}

func readStdin(orchestrator *runtime.Orchestrator) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		participantID, text, ok := strings.Cut(line, "\t")
		if !ok || participantID == "" {
			continue
		}
		orchestrator.Submit(domain.InboundMessage{
			MessageID:     uuid.NewString(),
			ParticipantID: participantID,
			DisplayName:   participantID,
			Text:          text,
			At:            time.Now().UTC(),
		})
	}
}
