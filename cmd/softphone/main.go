package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrtc/internal/core/domain"
	"connectrtc/internal/core/ports"
	"connectrtc/internal/core/session"
	httphandlers "connectrtc/internal/handlers/http"
	"connectrtc/internal/infrastructure/media"
	"connectrtc/internal/infrastructure/middleware"
	"connectrtc/internal/infrastructure/monitoring"
	"connectrtc/internal/infrastructure/repositories"
	signaling "connectrtc/internal/infrastructure/signal"
	webrtcinfra "connectrtc/internal/infrastructure/webrtc"
	"connectrtc/pkg/config"
	"connectrtc/pkg/logger"
	"connectrtc/pkg/retry"
	"connectrtc/pkg/tracing"
	"connectrtc/pkg/utils"
	"connectrtc/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to the YAML configuration")
	callID := pflag.String("call-id", "", "call id to dial (generated when empty)")
	endpoint := pflag.String("endpoint", "", "signaling endpoint, overrides the configuration")
	token := pflag.String("token", "", "signaling auth token, overrides the configuration")
	video := pflag.Bool("video", false, "send a video track as well")
	duration := pflag.Duration("duration", 0, "hang up after this long in Talking (0 waits for a signal)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}
	if *endpoint != "" {
		cfg.Signaling.Endpoint = *endpoint
	}
	if *token != "" {
		cfg.Signaling.AuthToken = *token
	}
	if *video {
		cfg.Media.VideoEnabled = true
	}
	if *callID == "" {
		*callID = utils.GenerateCallID()
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 2
	}
	if err := validation.ValidateCallID(*callID); err != nil {
		fmt.Fprintf(os.Stderr, "invalid --call-id: %v\n", err)
		return 2
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("using default configuration", "path", *configPath, "error", err)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Errorw("error shutting down tracer provider", "error", err)
		}
	}()

	// Initialize repository factory
	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	defer repoFactory.Close()
	reports := repoFactory.CreateReportRepository()

	// Initialize monitoring
	collector := monitoring.NewPrometheusCollector(nil)
	health := monitoring.NewHealthChecker()
	health.AddRepositoryCheck(reports, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 2*time.Second)
	}

	var webrtcCfg webrtcinfra.Config
	webrtcCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	webrtcCfg.PortRange.Max = cfg.WebRTC.PortRange.Max
	peers, err := webrtcinfra.NewFactory(webrtcCfg, zapLogger)
	if err != nil {
		log.Fatalw("failed to create peer connection factory", "error", err)
	}

	sigCfg := signaling.DefaultConfig()
	sigCfg.PingInterval = cfg.Signaling.PingInterval
	sigCfg.PongTimeout = 2 * cfg.Signaling.PingInterval
	sigCfg.Retry = retry.DefaultConfig()

	audioSink := media.NewDrainSink("remote_audio", zapLogger)
	videoSink := media.NewDrainSink("remote_video", zapLogger)

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	talking := make(chan struct{}, 1)
	callbacks := session.Callbacks{
		OnSessionConnected: func(s *session.Session) {
			log.Infow("call connected", "call_id", s.CallID())
			talking <- struct{}{}
		},
		OnRemoteStreamAdded: func(s *session.Session, track ports.RemoteTrack) {
			log.Infow("remote track added", "call_id", s.CallID(), "kind", track.Kind().String())
		},
		OnSessionFailed: func(s *session.Session, reason domain.FailureReason) {
			log.Warnw("call failed", "call_id", s.CallID(), "reason", reason.String())
		},
		OnSessionDestroyed: func(s *session.Session, report domain.SessionReport) {
			collector.RecordSessionReport(&report)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := reports.Save(ctx, &report); err != nil {
				log.Errorw("failed to save session report", "call_id", report.CallID, "error", err)
			}
			log.Infow("session destroyed",
				"call_id", report.CallID,
				"final_state", string(report.FinalState),
				"failure_reason", report.FailureReason.String(),
				"talking", utils.FormatMillis(report.TalkingTimeMillis),
				"remote_audio_packets", audioSink.Packets(),
			)
		},
	}

	sess := session.New(session.Config{
		CallID:                  domain.CallID(*callID),
		SignalingEndpoint:       cfg.Signaling.Endpoint,
		AuthToken:               cfg.Signaling.AuthToken,
		ICEServers:              iceServers,
		ICETimeout:              cfg.ICE.Timeout,
		GumTimeout:              cfg.Media.AcquireTimeout,
		SignalingConnectTimeout: cfg.Signaling.ConnectTimeout,
		EnableAudio:             cfg.Media.AudioEnabled,
		EnableVideo:             cfg.Media.VideoEnabled,
		RemoteAudioSink:         audioSink,
		RemoteVideoSink:         videoSink,
		ForceAudioCodec:         cfg.Media.ForceAudioCodec,
		EnableOpusDTX:           cfg.Media.EnableOpusDTX,
	}, session.Dependencies{
		Media:     media.NewSyntheticAcquirer(zapLogger),
		Peers:     peers,
		Signaling: signaling.NewFactory(sigCfg, zapLogger),
	}, session.WithLogger(zapLogger), session.WithCallbacks(callbacks))

	var srv *http.Server
	if cfg.Admin.Enabled {
		srv = startAdmin(cfg, sess, reports, collector, health, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector.RecordSessionStarted()
	if err := sess.Connect(ctx); err != nil {
		log.Errorw("failed to start call", "error", err)
		return 1
	}
	log.Infow("dialing",
		"call_id", *callID,
		"endpoint", cfg.Signaling.Endpoint,
		"token", utils.MaskSensitive(cfg.Signaling.AuthToken, 4),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var hangupAfter <-chan time.Time
wait:
	for {
		select {
		case <-sess.Done():
			break wait
		case <-talking:
			if *duration > 0 {
				hangupAfter = time.After(*duration)
			}
		case <-hangupAfter:
			log.Infow("call duration reached, hanging up", "duration", duration.String())
			sess.Hangup()
		case sig := <-sigChan:
			log.Infow("Received shutdown signal", "signal", sig)
			sess.Hangup()
		}
	}

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error during server shutdown", "error", err)
		}
	}

	report := sess.Report()
	log.Infow("softphone stopped", "final_state", string(report.FinalState))
	if report.Failed() {
		return 1
	}
	return 0
}

func startAdmin(
	cfg *config.Config,
	sess *session.Session,
	reports ports.ReportRepository,
	collector *monitoring.PrometheusCollector,
	health *monitoring.HealthChecker,
	log *zap.SugaredLogger,
) *http.Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLogMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewCallHandler(sess, reports).SetupRoutes(router,
		middleware.AdminAuthMiddleware(cfg.Admin.JWTSecret),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"state":     sess.State(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(collector.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Admin.Address,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("Starting admin server on %s", cfg.Admin.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("admin server failed", "error", err)
		}
	}()
	return srv
}
