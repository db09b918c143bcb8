// Copyright © 2026 The FieldLink Authors
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

var connectedDevices = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "amqp",
		Name:      "connected_devices",
		Help:      "Number of connected devices.",
	},
)

var connectionsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "amqp",
		Name:      "connections_total",
		Help:      "Total number of connection attempts.",
	}, []string{"result"},
)

var messagesCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "amqp",
		Name:      "messages_processed_total",
		Help:      "Total number of uploaded messages processed.",
	}, []string{"endpoint", "outcome"},
)

var commandsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "amqp",
		Name:      "commands_total",
		Help:      "Total number of commands delivered to devices.",
	}, []string{"outcome"},
)

func init() {
	prometheus.MustRegister(connectedDevices)
	prometheus.MustRegister(connectionsCounter)
	prometheus.MustRegister(messagesCounter)
	prometheus.MustRegister(commandsCounter)
}
