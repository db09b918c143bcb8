// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package cmd

import (
	"crypto/tls"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/multi"
	"github.com/apex/log/handlers/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	redis "gopkg.in/redis.v5"

	"github.com/fieldlink/device-gateway/backend"
	amqpbackend "github.com/fieldlink/device-gateway/backend/amqp"
	mqttbackend "github.com/fieldlink/device-gateway/backend/mqtt"
	"github.com/fieldlink/device-gateway/gateway"
	"github.com/fieldlink/device-gateway/registry"
	"github.com/fieldlink/device-gateway/server"
	"github.com/fieldlink/device-gateway/status"
	"github.com/fieldlink/device-gateway/transport"
)

// GatewayCmd is the main command that is executed when running device-gateway
var GatewayCmd = &cobra.Command{
	Use:   "device-gateway",
	Short: "The FieldLink device gateway",
	Long:  `device-gateway bridges the device link transport and the backend messaging fabric`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var logHandlers []log.Handler

		logHandlers = append(logHandlers, text.New(os.Stdout))

		if logFileLocation := config.GetString("log-file"); logFileLocation != "" {
			absLogFileLocation, err := filepath.Abs(logFileLocation)
			if err != nil {
				panic(err)
			}
			logFile, err = os.OpenFile(absLogFileLocation, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
			if err != nil {
				panic(err)
			}
			if err == nil {
				logHandlers = append(logHandlers, json.New(logFile))
			}
		}

		ctx = &log.Logger{
			Level:   log.DebugLevel,
			Handler: multi.New(logHandlers...),
		}
	},
	Run: runGateway,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			time.Sleep(100 * time.Millisecond)
			logFile.Close()
		}
	},
}

// brokerRegexp matches user:pass@host:port broker addresses
var brokerRegexp = regexp.MustCompile(`^(?:([0-9a-z_-]+)(?::([0-9A-Za-z-!"#$%&'()*+,.:;<=>?@[\]^_{|}~]+))?@)?([0-9a-z.-]+:[0-9]+)$`)

func runGateway(cmd *cobra.Command, args []string) {
	// Set up the registry
	var reg registry.Interface
	if config.GetBool("redis") {
		ctx.Info("Initializing Redis registry")
		reg = registry.NewRedis(redis.NewClient(&redis.Options{
			Addr:     config.GetString("redis-address"),
			Password: config.GetString("redis-password"),
			DB:       config.GetInt("redis-db"),
		}), config.GetString("redis-prefix"))
	} else {
		ctx.Warn("Initializing empty in-memory registry; no device will be authorized")
		reg = registry.NewMemory()
	}

	// Set up the backend fabric
	var fabric backend.Connection
	if amqpBroker := config.GetString("amqp"); amqpBroker != "disable" {
		parts := brokerRegexp.FindStringSubmatch(amqpBroker)
		if parts == nil {
			ctx.WithField("Address", amqpBroker).Fatal("Invalid AMQP broker address")
		}
		ctx.WithField("Username", parts[1]).WithField("Address", parts[3]).Info("Initializing AMQP backend")
		amqp, err := amqpbackend.New(amqpbackend.Config{
			Address:          parts[3],
			Username:         parts[1],
			Password:         parts[2],
			ExchangeName:     config.GetString("amqp-exchange"),
			IncludeAssertion: config.GetBool("include-assertion"),
		}, ctx)
		if err != nil {
			ctx.WithError(err).Fatal("Could not initialize AMQP backend")
		}
		fabric = amqp
	} else if mqttBroker := config.GetString("mqtt"); mqttBroker != "disable" {
		parts := brokerRegexp.FindStringSubmatch(mqttBroker)
		if parts == nil {
			ctx.WithField("Address", mqttBroker).Fatal("Invalid MQTT broker address")
		}
		ctx.WithField("Username", parts[1]).WithField("Address", parts[3]).Info("Initializing MQTT backend")
		mqtt, err := mqttbackend.New(mqttbackend.Config{
			Brokers:          []string{"tcp://" + parts[3]},
			Username:         parts[1],
			Password:         parts[2],
			IncludeAssertion: config.GetBool("include-assertion"),
		}, ctx)
		if err != nil {
			ctx.WithError(err).Fatal("Could not initialize MQTT backend")
		}
		fabric = mqtt
	} else {
		ctx.Fatal("No backend fabric configured; set --amqp or --mqtt")
	}

	if err := fabric.Connect(); err != nil {
		ctx.WithError(err).Fatal("Could not connect to backend fabric")
	}
	defer fabric.Disconnect()

	// Set up the gateway
	g := gateway.New(gateway.Config{
		AuthenticationRequired: config.GetBool("auth-required"),
		MaxSessionWindow:       uint32(config.GetInt("session-window")),
		LinkCredit:             config.GetInt("link-credit"),
		CommandCheckInterval:   config.GetDuration("command-check-interval"),
		RequestTimeout:         config.GetDuration("request-timeout"),
	}, reg, gateway.Backends{
		Senders:   fabric.NewSender,
		Commands:  fabric,
		Responses: fabric,
		Notifier:  fabric,
	}, ctx)
	defer g.Close()

	// Set up the device-facing server
	codec, err := transport.GetCodec(config.GetString("codec"))
	if err != nil {
		ctx.WithError(err).Fatal("Could not find wire codec")
	}

	serverConfig := server.Config{
		Secure: server.ListenerConfig{
			Enabled: config.GetBool("secure"),
			Address: config.GetString("secure-address"),
		},
		Insecure: server.ListenerConfig{
			Enabled: config.GetBool("insecure"),
			Address: config.GetString("insecure-address"),
		},
		ContainerID:           gateway.ContainerName,
		MaxFrameSize:          uint32(config.GetInt("max-frame-size")),
		RequireAuthentication: config.GetBool("auth-required"),
	}
	if serverConfig.Secure.Enabled {
		cert, err := tls.LoadX509KeyPair(config.GetString("tls-cert"), config.GetString("tls-key"))
		if err != nil {
			ctx.WithError(err).Fatal("Could not load TLS certificate")
		}
		serverConfig.TLS = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	s := server.New(serverConfig, codec, g.HandleConnection, ctx)
	if err := s.Start(); err != nil {
		ctx.WithError(err).Fatal("Could not start server")
	}
	defer s.Stop()

	// Set up the status server
	if statusAddress := config.GetString("status-address"); statusAddress != "disable" {
		statusServer := status.New(statusAddress, nil, ctx)
		if err := statusServer.Start(); err != nil {
			ctx.WithError(err).Fatal("Could not start status server")
		}
		defer statusServer.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	ctx.WithField("signal", <-sigChan).Info("signal received")
}

func init() {
	GatewayCmd.Flags().String("log-file", "", "Location of the log file")

	GatewayCmd.Flags().String("codec", "amqp", "Wire codec to run on accepted connections")
	GatewayCmd.Flags().Bool("auth-required", true, "Reject connections without an authenticated identity")

	GatewayCmd.Flags().Bool("secure", false, "Enable the TLS listener")
	GatewayCmd.Flags().String("secure-address", ":5671", "TLS listen address")
	GatewayCmd.Flags().String("tls-cert", "", "Location of the TLS certificate")
	GatewayCmd.Flags().String("tls-key", "", "Location of the TLS key")
	GatewayCmd.Flags().Bool("insecure", true, "Enable the plain listener")
	GatewayCmd.Flags().String("insecure-address", ":5672", "Plain listen address")

	GatewayCmd.Flags().Int("max-frame-size", int(server.DefaultMaxFrameSize), "Maximum frame size in bytes")
	GatewayCmd.Flags().Int("session-window", int(gateway.DefaultMaxSessionWindow), "Session incoming window in bytes")
	GatewayCmd.Flags().Int("link-credit", gateway.DefaultLinkCredit, "Credit granted to uploading links")
	GatewayCmd.Flags().Duration("command-check-interval", gateway.DefaultCommandCheckInterval, "Liveness check interval of command subscriptions")
	GatewayCmd.Flags().Duration("request-timeout", gateway.DefaultRequestTimeout, "Timeout of registry lookups and backend forwards")

	GatewayCmd.Flags().String("amqp", "guest:guest@localhost:5672", "AMQP backend broker as user:pass@host:port (disable with \"disable\")")
	GatewayCmd.Flags().String("amqp-exchange", "", "AMQP exchange to publish to")
	GatewayCmd.Flags().String("mqtt", "disable", "MQTT backend broker as user:pass@host:port (disable with \"disable\")")
	GatewayCmd.Flags().Bool("include-assertion", false, "Attach registration assertions to downstream messages")

	GatewayCmd.Flags().Bool("redis", true, "Use the Redis registry")
	GatewayCmd.Flags().String("redis-address", "localhost:6379", "Redis host and port")
	GatewayCmd.Flags().String("redis-password", "", "Redis password")
	GatewayCmd.Flags().Int("redis-db", 0, "Redis database")
	GatewayCmd.Flags().String("redis-prefix", "", "Redis key prefix")

	GatewayCmd.Flags().String("status-address", "localhost:10700", "Address of the health and metrics server (disable with \"disable\")")

	viper.BindPFlags(GatewayCmd.Flags())
}
