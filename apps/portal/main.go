package main

import (
	"context"
	"fmt"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/mongo"

	echoapi "github.com/trezcool/eduanalytics/apps/api/echo"
	"github.com/trezcool/eduanalytics/core"
	"github.com/trezcool/eduanalytics/core/portal"
)

func main() {
	c := newContainer()

	must(c.Invoke(func(
		conf *core.Config,
		logger core.Logger,
		client *mongo.Client,
		validate *validator.Validate,
		translator ut.Translator,
		server *echoapi.Server,
	) {
		logger.Info(fmt.Sprintf("Portal initializing : version %q", conf.Build))

		core.InitValidators(validate, translator)
		portal.InitValidators(validate, translator)

		defer func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Error("Failed to disconnect from mongo", err)
			}
		}()
		defer logger.Info("Portal stopped")

		go func() {
			server.Start()
		}()

		select {
		case err := <-server.Errors():
			logger.Fatal(fmt.Sprintf("server error: %v", err), err)

		case sig := <-server.ShutdownSignal():
			logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

			ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

				if err = server.Close(); err != nil {
					logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
				}
			}
		}
	}))
}
