package api

import (
	"os"
	"strings"
)

const (
	BridgeEnvPrefix = "PROFILE_BRIDGE_"
)

func ReadBridgeVariable(name string) string {
	if strings.HasPrefix(name, BridgeEnvPrefix) {
		return os.Getenv(name)
	}
	return ""
}
