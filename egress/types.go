// Package egress contains the consumer stage, which reads raw bytes
// from the shared ring buffer, and the sinks the bytes are delivered to.
package egress

import (
	"github.com/FerroO2000/bytering/connector"
	"github.com/FerroO2000/bytering/internal/config"
)

type conn = connector.Connector

type cfg = config.Config
