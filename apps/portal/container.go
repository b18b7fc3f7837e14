package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/eduanalytics/apps/api/echo"
	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/portal"
	logsvc "github.com/trezcool/eduanalytics/services/logger"
	mongodb "github.com/trezcool/eduanalytics/storage/mongo"
)

// newConfig serves the portal on its own address.
func newConfig() *core.Config {
	conf := core.NewConfig()
	conf.Server.Host = conf.Server.PortalHost
	return conf
}

func newLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "PORTAL : ", log.LstdFlags), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newMongoClient(conf *core.Config, logger core.Logger) *mongo.Client {
	// every attempt may wait for server selection, then for the retry delay
	attempts := time.Duration(conf.Mongo.ConnectRetries + 1)
	ctx, cancel := context.WithTimeout(context.Background(), attempts*(conf.Mongo.ConnectTimeout+conf.Mongo.RetryDelay))
	defer cancel()

	client, err := mongodb.Connect(ctx, conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("connecting to mongo: %v", err), err)
	}
	return client
}

func newMongoDatabase(conf *core.Config, client *mongo.Client, logger core.Logger) *mongo.Database {
	db := client.Database(conf.Mongo.Database)

	ctx, cancel := context.WithTimeout(context.Background(), conf.Mongo.OperationTimeout)
	defer cancel()
	if err := mongodb.EnsureIndexes(ctx, db); err != nil {
		logger.Fatal(fmt.Sprintf("setting up mongo: %v", err), err)
	}
	return db
}

func newPortalRepository(conf *core.Config, db *mongo.Database) portal.Repository {
	return mongodb.NewPortalRepository(db, conf.Mongo.OperationTimeout)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newShutdownChannel() chan os.Signal {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	return shutdown
}

func newDeps(logger core.Logger, translator ut.Translator, portalSvc *portal.Service) *echoapi.Deps {
	return &echoapi.Deps{Logger: logger, Translator: translator, PortalSvc: portalSvc}
}

func newContainer() *dig.Container {
	c := dig.New()

	must(c.Provide(newConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newMongoClient))
	must(c.Provide(newMongoDatabase))
	must(c.Provide(newPortalRepository))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))
	must(c.Provide(portal.NewService))
	must(c.Provide(newShutdownChannel))
	must(c.Provide(newDeps))
	must(c.Provide(echoapi.NewServer))

	return c
}

func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
