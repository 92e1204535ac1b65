package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
devices:
  - id: overlay-http
    kind: HTTP_SEND
    resendTime: 500
    makeReadyDoesReset: true
    makeReadyCommands:
      - type: POST
        url: http://overlay.local/api/reset
  - id: playout-a
    kind: VIDEO_SERVER
    gatewayUrl: http://gateway.local:8080
    ISAUrl: http://isa.local:2096
    zoneId: "1000"
    serverId: "1100"

mappings:
  L1:
    device: HTTP_SEND
    deviceId: overlay-http
  P1:
    device: VIDEO_SERVER
    deviceId: playout-a
    options:
      channel: 1
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)

	require.Len(t, m.Devices, 2)
	assert.Equal(t, "overlay-http", m.Devices[0].ID)
	assert.Equal(t, 500, m.Devices[0].ResendTimeMs)
	assert.True(t, m.Devices[0].MakeReadyDoesReset)
	require.Len(t, m.Devices[0].MakeReadyCommands, 1)
	assert.Equal(t, "POST", m.Devices[0].MakeReadyCommands[0]["type"])

	assert.Equal(t, "http://gateway.local:8080", m.Devices[1].GatewayURL)
	assert.Equal(t, "1000", m.Devices[1].ZoneID)

	require.Contains(t, m.Mappings, "P1")
	assert.Equal(t, "playout-a", m.Mappings["P1"].DeviceID)
	assert.EqualValues(t, 1, m.Mappings["P1"].Options["channel"])
}

func TestParseManifestRejectsDuplicateDeviceID(t *testing.T) {
	_, err := ParseManifest([]byte(`
devices:
  - id: d1
    kind: HTTP_SEND
  - id: d1
    kind: HTTP_SEND
`))
	assert.ErrorContains(t, err, "duplicate device id")
}

func TestParseManifestRejectsUnknownMappingTarget(t *testing.T) {
	_, err := ParseManifest([]byte(`
devices:
  - id: d1
    kind: HTTP_SEND
mappings:
  L1:
    device: HTTP_SEND
    deviceId: no-such-device
`))
	assert.ErrorContains(t, err, "unknown device")
}

func TestParseManifestRequiresKind(t *testing.T) {
	_, err := ParseManifest([]byte(`
devices:
  - id: d1
`))
	assert.ErrorContains(t, err, "no kind")
}
