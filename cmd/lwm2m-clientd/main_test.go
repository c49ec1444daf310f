package main

import (
	"testing"

	"github.com/connectivityfoundry/lwm2m-runtime/common"
	"github.com/connectivityfoundry/lwm2m-runtime/config"
	"github.com/stretchr/testify/assert"
)

func TestToCommonLogLevel(t *testing.T) {
	cases := []struct {
		in   config.LogLevel
		want common.LogLevel
	}{
		{config.LogDebug, common.LogLevelDebug},
		{config.LogInfo, common.LogLevelInfo},
		{config.LogWarning, common.LogLevelWarn},
		{config.LogError, common.LogLevelError},
		{config.LogNone, common.LogLevelError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, toCommonLogLevel(c.in))
	}
}

func TestEndpointAddrDefaultsToTCP(t *testing.T) {
	network, address := endpointAddr("")
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "127.0.0.1:12345", address)
}

func TestEndpointAddrUnixPrefix(t *testing.T) {
	network, address := endpointAddr("unix:///var/run/lwm2m/daemon.sock")
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/var/run/lwm2m/daemon.sock", address)
}

func TestEndpointAddrTCPPrefixStripped(t *testing.T) {
	network, address := endpointAddr("tcp://0.0.0.0:9000")
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "0.0.0.0:9000", address)
}

func TestEndpointAddrBareTCPAddress(t *testing.T) {
	network, address := endpointAddr("192.168.1.5:12345")
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "192.168.1.5:12345", address)
}
