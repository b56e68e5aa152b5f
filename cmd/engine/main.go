package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"

	"spoorzoeker/config"
	"spoorzoeker/pkg/builder"
	"spoorzoeker/pkg/cache"
	"spoorzoeker/pkg/geo"
	"spoorzoeker/pkg/logger"
	"spoorzoeker/pkg/mapservice"
	"spoorzoeker/pkg/server/rest"
	"spoorzoeker/pkg/server/rest/service"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

var (
	configPath = flag.String("config", "config.yaml", "path to the yaml config file")
	listenAddr = flag.String("listenaddr", "", "server listen address, overrides config")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *listenAddr != "" {
		cfg.HTTP.ListenAddr = *listenAddr
	}

	slogger, err := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	if err != nil {
		log.Fatal(err)
	}

	var db *badger.DB
	if !cfg.Cache.Disabled {
		db, err = badger.Open(badger.DefaultOptions(cfg.Cache.Dir).WithLogger(nil))
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close()
	}
	graphCache := cache.New(db, cfg.Cache.Disabled, cfg.Cache.MaxAge, slogger)

	var source mapservice.Source
	if cfg.Feed.File != "" {
		source = mapservice.NewFileSource(cfg.Feed.File, slogger)
	} else {
		source = mapservice.NewFeatureServerClient(cfg.Feed.URL, http.DefaultClient, slogger)
	}

	weightMode := geo.WeightPlanar
	if cfg.Routing.WeightMode == "haversine" {
		weightMode = geo.WeightHaversine
	}
	graphBuilder := builder.New(builder.Options{
		SnapToleranceM:   cfg.Routing.SnapToleranceM,
		ReversalAngleDeg: cfg.Routing.ReversalAngleDeg,
		WeightMode:       weightMode,
	}, slogger)

	routingSvc := service.NewRoutingService(source, graphCache, graphBuilder, service.Options{
		BufferToleranceM: cfg.Routing.BufferToleranceM,
		WeightMode:       weightMode,
		DefaultSpeedKmh:  cfg.Routing.DefaultSpeedKmh,
	}, slogger)

	stats, err := routingSvc.RefreshGraph(context.Background(), false)
	if err != nil {
		log.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	m := rest.NewMetrics(reg)

	r := chi.NewRouter()

	r.Use(middleware.Logger)

	r.Use(rest.PromHTTPMiddleware(m))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	rest.NavigationRouter(r, routingSvc)

	fmt.Printf("\ntrack graph ready: %d segments, %d nodes, %d edges (%d switches)",
		stats.Segments, stats.Nodes, stats.Edges, stats.Switches)
	fmt.Printf("\nserver started at %s\n", cfg.HTTP.ListenAddr)

	srv := &http.Server{
		Addr:         cfg.HTTP.ListenAddr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	log.Fatal(srv.ListenAndServe())
}
