package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-user-management/audit"
	"github.com/jrsteele09/go-user-management/auth"
	"github.com/jrsteele09/go-user-management/federation"
	"github.com/jrsteele09/go-user-management/internal/config"
	"github.com/jrsteele09/go-user-management/internal/storage"
	"github.com/jrsteele09/go-user-management/notify"
	"github.com/jrsteele09/go-user-management/reset"
	resetpostgres "github.com/jrsteele09/go-user-management/reset/postgresrepo"
	resetfake "github.com/jrsteele09/go-user-management/reset/repofake"
	"github.com/jrsteele09/go-user-management/server"
	"github.com/jrsteele09/go-user-management/token"
	"github.com/jrsteele09/go-user-management/totp"
	"github.com/jrsteele09/go-user-management/users"
	userspostgres "github.com/jrsteele09/go-user-management/users/postgresrepo"
	usersfake "github.com/jrsteele09/go-user-management/users/repofake"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	srv, err := buildServer(c)
	if err != nil {
		return fmt.Errorf("buildServer: %w", err)
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: srv}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

func buildServer(c config.Config) (*server.Server, error) {
	var (
		userRepo  users.UserRepo
		resetRepo reset.Repo
	)
	if dsn := c.GetDatabaseDSN(); dsn != "" {
		db, err := storage.Open(context.Background(), dsn)
		if err != nil {
			return nil, err
		}
		userRepo = userspostgres.New(db)
		resetRepo = resetpostgres.New(db)
	} else {
		log.Printf("DATABASE_DSN not set, using in-memory repositories\n")
		userRepo = usersfake.NewFakeUserRepo()
		resetRepo = resetfake.NewFakeResetRepo()
	}

	roleRepo := users.NewStaticRoleRepo(users.RoleUser, users.RoleAdmin)
	codec := token.NewCodec(c.GetJWTSecret(), c.GetJWTExpiry())
	revocations := token.NewInMemoryRevocationRegistry()
	totpEngine := totp.NewEngine(c.GetTotpIssuer())
	recorder := audit.NewZerologRecorder()

	var notifier notify.Notifier = notify.LogNotifier{}
	if c.GetSmtpAccount() != "" {
		notifier = notify.NewSMTPNotifier(c.GetSmtpHost(), c.GetSmtpPort(), c.GetSmtpAccount(), c.GetSmtpPassword())
	}

	authService, err := auth.NewService(
		auth.Repos{Users: userRepo, Roles: roleRepo},
		codec, totpEngine, revocations,
		auth.WithRecorder(recorder),
	)
	if err != nil {
		return nil, err
	}

	resetStore, err := reset.NewStore(userRepo, resetRepo, notifier, c.GetFrontendURL(),
		reset.WithTokenTTL(c.GetResetTokenExpiry()),
		reset.WithRecorder(recorder))
	if err != nil {
		return nil, err
	}

	merger, err := federation.NewMerger(userRepo, roleRepo, codec,
		federation.WithRecorder(recorder))
	if err != nil {
		return nil, err
	}

	return server.New(c, authService, resetStore, merger, codec, revocations,
		server.WithRecorder(recorder))
}

func listenAndServe(server *http.Server) error {
	log.Printf("Server listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
