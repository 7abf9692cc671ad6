// Package ingress contains the producer stages,
// which write raw bytes into the shared ring buffer.
package ingress

import (
	"github.com/FerroO2000/bytering/connector"
	"github.com/FerroO2000/bytering/internal/config"
)

type conn = connector.Connector

type cfg = config.Config
