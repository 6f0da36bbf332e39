// Package autosave periodically persists dirty room buffers. It never
// touches hub state directly: each tick schedules the flush onto the
// hub's event loop.
package autosave

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Loop is the scheduling surface the hub exposes.
type Loop interface {
	Enqueue(fn func())
	FlushRooms()
}

type Config struct {
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second}
}

type Service struct {
	loop   Loop
	config Config
	stop   chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func New(loop Loop, config Config, logger *zerolog.Logger) *Service {
	return &Service{
		loop:   loop,
		config: config,
		stop:   make(chan struct{}),
		logger: logger.With().Str("component", "autosave").Logger(),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info().Dur("interval", s.config.Interval).Msg("autosave started")
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.logger.Info().Msg("autosave stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.loop.Enqueue(s.loop.FlushRooms)
		}
	}
}
