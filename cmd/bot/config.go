package main

import "time"

type Config struct {
	BufferSize        int           `env:"BUFFER_SIZE,default=64" validate:"min=1"`
	NumberOfWorkers   int           `env:"NUMBER_OF_WORKERS,default=4" validate:"min=1"`
	DedupRetention    time.Duration `env:"DEDUP_RETENTION,default=24h" validate:"min=1m"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"min=10ms"`
	LimitTranscript   *int          `env:"LIMIT_TRANSCRIPT"`
	DebugPort         int           `env:"DEBUG_PORT"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true" validate:"required"`
	BlugeFilepath     string        `env:"BLUGE_FILEPATH,required=true" validate:"required"`
	LogLevel          string        `env:"LOG_LEVEL,default=info"`
}
