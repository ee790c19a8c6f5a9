// Package pion implements the media engine ports on pion/webrtc. One worker
// is one webrtc.API bound to its own UDP port slice; routers, transports,
// producers and consumers are bookkeeping around peer connections and
// forwarded RTP tracks.
package pion

import (
	"context"
	"fmt"

	"roomcast/internal/core/ports"
	"roomcast/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Engine creates workers backed by pion APIs.
type Engine struct {
	logger *zap.SugaredLogger
}

func NewEngine(logger *zap.SugaredLogger) *Engine {
	return &Engine{logger: logger}
}

func (e *Engine) CreateWorker(ctx context.Context, cfg ports.WorkerConfig) (ports.Worker, error) {
	settingEngine := webrtc.SettingEngine{}
	if cfg.RtcMinPort > 0 && cfg.RtcMaxPort > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.RtcMinPort, cfg.RtcMaxPort); err != nil {
			return nil, fmt.Errorf("set port range %d-%d: %w", cfg.RtcMinPort, cfg.RtcMaxPort, err)
		}
	}
	if cfg.AnnouncedIP != "" && cfg.AnnouncedIP != cfg.ListenIP {
		settingEngine.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	return &Worker{
		id:     utils.GenerateID("worker"),
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		died:   make(chan error, 1),
		logger: e.logger,
	}, nil
}

// Worker is an in-process engine unit. It has no external process that can
// crash, so Died never fires; the channel exists to satisfy the lifecycle
// contract shared with out-of-process engines.
type Worker struct {
	id     string
	api    *webrtc.API
	died   chan error
	logger *zap.SugaredLogger
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) CreateRouter(ctx context.Context, codecs []ports.MediaCodec) (ports.Router, error) {
	return newRouter(w.api, codecs, w.logger), nil
}

func (w *Worker) Died() <-chan error { return w.died }

func (w *Worker) Close() error { return nil }
