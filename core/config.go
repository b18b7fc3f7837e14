package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host               string
		PortalHost         string
		DebugHost          string
		ReadTimeout        time.Duration
		WriteTimeout       time.Duration
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
		UploadMaxSize      string
		CORSOrigins        []string
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		PingAttempts  int
	}

	MongoConfig struct {
		URI              string
		Database         string
		ConnectTimeout   time.Duration
		ConnectRetries   int
		RetryDelay       time.Duration
		MaxPoolSize      uint64
		OperationTimeout time.Duration
	}

	Config struct {
		AppName          string
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		SecretKey        string
		RollbarToken     string
		SendgridApiKey   string
		FrontendBaseURL  string
		DefaultFromEmail string
		WorkDir          string

		Server   ServerConfig
		Database DatabaseConfig
		Mongo    MongoConfig
	}
)

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, strconv.Itoa(dbc.Port))
}

// DefaultFromAddress parses the configured sender address, falling back to AppName <noreply@localhost>.
func (c *Config) DefaultFromAddress() mail.Address {
	addr, err := mail.ParseAddress(c.DefaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: "noreply@localhost"}
	}
	if addr.Name == "" {
		addr.Name = c.AppName
	}
	return *addr
}

func NewConfig() *Config {
	conf := viper.New()
	conf.SetTypeByDefaultValue(true)

	// defaults
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("appName", "EduAnalytics")
	conf.SetDefault("build", "develop")
	conf.SetDefault("secretKey", "dz&uoxh2(h!x)#*c2-poq5-wer)enb$+57=(#yg4h^$cegm2emy")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("sendgridApiKey", "")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")
	conf.SetDefault("defaultFromEmail", "EduAnalytics <noreply@localhost>")

	conf.SetDefault("server.host", "0.0.0.0:8000")
	conf.SetDefault("server.portalHost", "0.0.0.0:8001")
	conf.SetDefault("server.debugHost", "0.0.0.0:4000")
	conf.SetDefault("server.readTimeout", 5*time.Second)
	conf.SetDefault("server.writeTimeout", 30*time.Second)
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
	conf.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("server.uploadMaxSize", "10M")
	conf.SetDefault("server.corsOrigins", []string{"*"})

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", 5432)
	conf.SetDefault("database.name", "eduanalytics")
	conf.SetDefault("database.user", "eduanalytics")
	conf.SetDefault("database.password", "eduanalytics")
	conf.SetDefault("database.adminUser", "postgres")
	conf.SetDefault("database.adminPassword", "postgres")
	conf.SetDefault("database.disableTLS", true)
	conf.SetDefault("database.pingAttempts", 30)

	conf.SetDefault("mongo.uri", "mongodb://localhost:27017")
	conf.SetDefault("mongo.database", "assignment_portal")
	conf.SetDefault("mongo.connectTimeout", 10*time.Second)
	conf.SetDefault("mongo.connectRetries", 3)
	conf.SetDefault("mongo.retryDelay", 2*time.Second)
	conf.SetDefault("mongo.maxPoolSize", 50)
	conf.SetDefault("mongo.operationTimeout", 5*time.Second)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	workDir := Getwd()
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		AppName:          conf.GetString("appName"),
		Env:              env,
		Build:            conf.GetString("build"),
		Debug:            conf.GetBool("debug"),
		TestMode:         conf.GetBool("testMode"),
		SecretKey:        conf.GetString("secretKey"),
		RollbarToken:     conf.GetString("rollbarToken"),
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		FrontendBaseURL:  conf.GetString("frontendBaseURL"),
		DefaultFromEmail: conf.GetString("defaultFromEmail"),
		WorkDir:          workDir,
		Server: ServerConfig{
			Host:               conf.GetString("server.host"),
			PortalHost:         conf.GetString("server.portalHost"),
			DebugHost:          conf.GetString("server.debugHost"),
			ReadTimeout:        conf.GetDuration("server.readTimeout"),
			WriteTimeout:       conf.GetDuration("server.writeTimeout"),
			ShutdownTimeout:    conf.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: conf.GetDuration("server.jwtExpirationDelta"),
			UploadMaxSize:      conf.GetString("server.uploadMaxSize"),
			CORSOrigins:        conf.GetStringSlice("server.corsOrigins"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetInt("database.port"),
			Name:          conf.GetString("database.name"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
			PingAttempts:  conf.GetInt("database.pingAttempts"),
		},
		Mongo: MongoConfig{
			URI:              conf.GetString("mongo.uri"),
			Database:         conf.GetString("mongo.database"),
			ConnectTimeout:   conf.GetDuration("mongo.connectTimeout"),
			ConnectRetries:   conf.GetInt("mongo.connectRetries"),
			RetryDelay:       conf.GetDuration("mongo.retryDelay"),
			MaxPoolSize:      uint64(conf.GetInt("mongo.maxPoolSize")),
			OperationTimeout: conf.GetDuration("mongo.operationTimeout"),
		},
	}
}

// NewTestConfig returns a Config suitable for tests, without reading the environment.
func NewTestConfig() *Config {
	return &Config{
		AppName:          "EduAnalytics",
		Env:              "TEST",
		Build:            "test",
		TestMode:         true,
		SecretKey:        "test-secret-key",
		DefaultFromEmail: "EduAnalytics <noreply@localhost>",
		FrontendBaseURL:  "http://localhost:3000",
		Server: ServerConfig{
			JWTExpirationDelta: time.Hour,
			ShutdownTimeout:    time.Second,
			UploadMaxSize:      "1M",
			CORSOrigins:        []string{"*"},
		},
		Mongo: MongoConfig{
			OperationTimeout: time.Second,
		},
	}
}
