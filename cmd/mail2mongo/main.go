package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/inn0kenty/mail2mongo/internal/admission"
	"github.com/inn0kenty/mail2mongo/internal/api"
	"github.com/inn0kenty/mail2mongo/internal/config"
	"github.com/inn0kenty/mail2mongo/internal/intake"
	"github.com/inn0kenty/mail2mongo/internal/metrics"
	"github.com/inn0kenty/mail2mongo/internal/registry"
	"github.com/inn0kenty/mail2mongo/internal/sink"
	"github.com/inn0kenty/mail2mongo/internal/storage/mongodb"
)

type domainList []string

func (d *domainList) String() string {
	return strings.Join(*d, ",")
}

func (d *domainList) Set(value string) error {
	*d = append(*d, value)
	return nil
}

func main() {
	cfg := config.Default()

	var domains domainList
	flag.Var(&domains, "domain", "Accept mail for this domain (this option can be given more than once)")
	flag.StringVar(&cfg.SMTPListen, "smtp", cfg.SMTPListen, "SMTP listen address")
	flag.StringVar(&cfg.APIListen, "api", cfg.APIListen, "HTTP API listen address")
	flag.StringVar(&cfg.Hostname, "hostname", cfg.Hostname, "Hostname advertised to senders and the mail proxy")
	flag.StringVar(&cfg.MongoURI, "mongo", cfg.MongoURI, "Mongo URI")
	flag.StringVar(&cfg.Database, "db", cfg.Database, "Mongo database name")
	flag.StringVar(&cfg.Collection, "collection", cfg.Collection, "Mongo collection name")
	flag.DurationVar(&cfg.RetryBase, "retry-base", cfg.RetryBase, "Base interval between store retry attempts")
	flag.Parse()
	cfg.Domains = domains

	rawlog := log.New(color.Output, "", 0)
	green := color.New(color.FgGreen).SprintfFunc()
	log := log.New(rawlog.Writer(), fmt.Sprintf("[ %s ] ", green("mail2mongo")), 0)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clientOpts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetConnectTimeout(3 * time.Second).
		SetServerSelectionTimeout(3 * time.Second)
	client, err := mongo.Connect(clientOpts)
	if err != nil {
		log.Fatalf("Failed to connect to Mongo: %v", err)
	}

	store, err := mongodb.New(ctx, client, cfg.Database, cfg.Collection)
	if err != nil {
		log.Fatalf("Failed to set up storage: %v", err)
	}
	log.Printf("Using Mongo collection %q in database %q", cfg.Collection, cfg.Database)
	log.Println("Accepting mail for:", strings.Join(cfg.Domains, ", "))

	m := metrics.New(prometheus.DefaultRegisterer)
	gate := admission.NewAllowList(cfg.Domains)
	reg := registry.New(log, m)
	snk := sink.New(store, log, cfg.RetryBase, m)

	backend := intake.NewBackend(ctx, log, gate, snk, reg, m)
	smtpServer := intake.NewServer(cfg, backend)

	_, smtpPort, err := net.SplitHostPort(cfg.SMTPListen)
	if err != nil {
		log.Fatalf("Invalid SMTP listen address %q: %v", cfg.SMTPListen, err)
	}

	httpServer := &http.Server{
		Addr: cfg.APIListen,
		Handler: (&api.API{
			Log:      log,
			Gate:     gate,
			Registry: reg,
			Hostname: cfg.Hostname,
			SMTPPort: smtpPort,
		}).Routes(),
	}

	wg := &sync.WaitGroup{}
	wg.Add(2)

	go func() {
		defer wg.Done()
		log.Println("Listening for SMTP on:", smtpServer.Addr)
		if err := smtpServer.ListenAndServe(); err != nil {
			select {
			case <-ctx.Done():
			default:
				log.Fatal(err)
			}
		}
	}()

	go func() {
		defer wg.Done()
		log.Println("Listening for HTTP on:", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := smtpServer.Close(); err != nil {
		log.Println("SMTP shutdown:", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Println("HTTP shutdown:", err)
	}
	if n := snk.InFlight(); n > 0 {
		log.Printf("Exiting with %d record(s) not yet stored", n)
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.Println("Storage shutdown:", err)
	}

	wg.Wait()
	os.Exit(0)
}
