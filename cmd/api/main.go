package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/careline/bookingbot/internal/config"
	appointmentHandler "github.com/careline/bookingbot/internal/handler/appointment"
	chatHandler "github.com/careline/bookingbot/internal/handler/chat"
	doctorHandler "github.com/careline/bookingbot/internal/handler/doctor"
	healthHandler "github.com/careline/bookingbot/internal/handler/health"
	"github.com/careline/bookingbot/internal/email"
	"github.com/careline/bookingbot/internal/nlu"
	"github.com/careline/bookingbot/internal/repository/postgres"
	"github.com/careline/bookingbot/internal/router"
	"github.com/careline/bookingbot/internal/service/allocator"
	"github.com/careline/bookingbot/internal/service/booking"
	"github.com/careline/bookingbot/internal/service/dialog"
	doctorService "github.com/careline/bookingbot/internal/service/doctor"
	"github.com/careline/bookingbot/internal/service/orchestrator"
	patientService "github.com/careline/bookingbot/internal/service/patient"
	"github.com/careline/bookingbot/internal/service/scheduling"
	"github.com/careline/bookingbot/internal/session"
	"github.com/careline/bookingbot/pkg/logger"
	"github.com/careline/bookingbot/pkg/metrics"
	"github.com/careline/bookingbot/pkg/validator"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	l := logger.NewLogger(nil)

	if err := validator.RegisterCustom(); err != nil {
		l.Fatal(err, "failed to register request validators")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		l.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	// Session store: redis when configured, in-memory otherwise.
	var sessions session.Store
	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sessions = session.NewRedisStore(redisClient, cfg.Session.TTL(), cfg.Session.HistoryCap)
	} else {
		l.Warn("no redis configured, using in-memory session store")
		sessions = session.NewMemoryStore(cfg.Session.HistoryCap)
	}

	doctorRepo := postgres.NewDoctorRepository(db)
	slotRepo := postgres.NewSlotRepository(db)
	appointmentRepo := postgres.NewAppointmentRepository(db)
	patientRepo := postgres.NewPatientRepository(db)

	m := metrics.NewMetrics("bookingbot")

	alloc := allocator.NewService(slotRepo, cfg.Scheduling, l)
	schedValidator := scheduling.NewValidator(doctorRepo, appointmentRepo, alloc, cfg.Scheduling, l)
	doctors := doctorService.NewService(doctorRepo, l)
	patients := patientService.NewService(patientRepo, l)

	var emailSvc email.Service
	if cfg.SMTP.Host != "" {
		emailSvc = email.NewSMTPService(cfg.SMTP, cfg.Secrets.SMTPPassword)
	}
	bookingSvc := booking.NewService(appointmentRepo, patientRepo, alloc, schedValidator, emailSvc, m, l)

	rules := nlu.NewRuleRecognizer()
	var recognizer nlu.Recognizer
	if cfg.Secrets.OpenAIKey != "" {
		recognizer = nlu.NewOpenAIRecognizer(cfg.Secrets.OpenAIKey, cfg.NLU.Model, cfg.NLU.Temperature)
	} else {
		l.Warn("no OpenAI key configured, running rule-based NLU only")
	}

	machine := dialog.NewMachine(doctors, l)
	orch := orchestrator.NewService(orchestrator.Deps{
		Sessions:    sessions,
		Recognizer:  recognizer,
		Fallback:    rules,
		Machine:     machine,
		Doctors:     doctors,
		Patients:    patients,
		Booking:     bookingSvc,
		Allocator:   alloc,
		Scheduling:  cfg.Scheduling,
		HistorySent: cfg.Session.HistorySent,
		Metrics:     m,
		Logger:      l,
	})

	r := router.NewRouter(
		router.Config{RateLimit: 50, RateBurst: 100},
		l,
		chatHandler.NewHandler(orch),
		appointmentHandler.NewHandler(bookingSvc),
		doctorHandler.NewHandler(doctors, alloc),
		healthHandler.NewHandler(db, redisClient),
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		l.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal(err, "failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	l.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		l.Fatal(err, "server forced to shutdown")
	}

	l.Info("server exited properly")
}
