package quirks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zigbee-quirks/internal/cluster"
	"zigbee-quirks/internal/transport"
	"zigbee-quirks/internal/zcl/clusters"
)

func TestLookupBySignature(t *testing.T) {
	te := newTestEnv(t)

	q := te.quirks.Lookup("_TZ3218_ofguu6mz", "TS0501B", ts0501bAnnounce().Endpoints)
	require.NotNil(t, q)
	assert.Equal(t, "GIRIER TS0501B dimmer", q.Name)

	v1 := te.quirks.Lookup("PTVO", "ZBMINI", ptvoAnnounce(false).Endpoints)
	v2 := te.quirks.Lookup("PTVO", "ZBMINI", ptvoAnnounce(true).Endpoints)
	require.NotNil(t, v1)
	require.NotNil(t, v2)
	assert.Equal(t, "PTVO ZBMINI light v1", v1.Name)
	assert.Equal(t, "PTVO ZBMINI light v2", v2.Name)

	// Same model, different endpoint layout.
	eps := ts0501bAnnounce().Endpoints[:1]
	assert.Nil(t, te.quirks.Lookup("_TZ3218_ofguu6mz", "TS0501B", eps))
	assert.Nil(t, te.quirks.Lookup("_TZ3218_other", "TS0501B", ts0501bAnnounce().Endpoints))

	// No signature: manufacturer and model are enough.
	assert.NotNil(t, te.quirks.Lookup("SONOFF", "ZBMicro", nil))
	assert.Equal(t, 4, te.quirks.Len())
}

func TestSignatureIgnoresClusterOrder(t *testing.T) {
	sig := Signature{1: {ProfileID: ProfileHA, DeviceType: DeviceDimmable, In: []uint16{6, 8}, Out: []uint16{0x19}}}
	assert.True(t, sig.Matches([]transport.SimpleDescriptor{
		{Endpoint: 1, ProfileID: ProfileHA, DeviceType: DeviceDimmable, InClusters: []uint16{8, 6}, OutClusters: []uint16{0x19}},
	}))
	assert.False(t, sig.Matches([]transport.SimpleDescriptor{
		{Endpoint: 1, ProfileID: ProfileHA, DeviceType: DeviceDimmable, InClusters: []uint16{8, 6, 3}, OutClusters: []uint16{0x19}},
	}))
}

func TestTS0501BReplacement(t *testing.T) {
	te := newTestEnv(t)
	dev, err := te.quirks.Bind(te.Env, ts0501bAnnounce())
	require.NoError(t, err)
	assert.Equal(t, "GIRIER TS0501B dimmer", dev.Quirk)

	ep, ok := dev.Endpoint(1)
	require.True(t, ok)
	var ids []uint16
	for _, c := range ep.InClusters() {
		ids = append(ids, c.ID())
	}
	assert.Equal(t, []uint16{0x0000, 0x0004, 0x0005, 0x0006, 0x0008}, ids)

	level, err := ep.Cluster(clusters.LevelControl.ID)
	require.NoError(t, err)
	_, wrapped := level.(*cluster.Adapter)
	assert.True(t, wrapped, "level control is intercepted")
	assert.Equal(t, []uint16{0x000A, 0x0019}, ep.OutClusters())
}

func TestPTVOTemperatureBridge(t *testing.T) {
	for _, v2 := range []bool{false, true} {
		te := newTestEnv(t)
		dev, err := te.quirks.Bind(te.Env, ptvoAnnounce(v2))
		require.NoError(t, err)

		ep3, ok := dev.Endpoint(3)
		require.True(t, ok)
		assert.Equal(t, DeviceTempSensor, ep3.DeviceType)
		ep2, _ := dev.Endpoint(2)
		assert.Equal(t, DeviceOnOffLight, ep2.DeviceType)

		analog, err := ep3.Cluster(clusters.AnalogInput.ID)
		require.NoError(t, err)
		temp, err := ep3.Cluster(clusters.DeviceTemperature.ID)
		require.NoError(t, err)

		analog.HandleReport(cluster.Report{AttrID: clusters.AttrPresentValue, Value: float32(23)})

		raw, _ := analog.Attributes().Get(clusters.AttrPresentValue)
		assert.Equal(t, float32(23), raw)
		got, ok := temp.Attributes().Get(clusters.AttrCurrentTemperature)
		require.True(t, ok)
		assert.Equal(t, int16(2300), got)

		// The local cluster never talks to the radio.
		recs, err := temp.ReadAttributes(context.Background(), []uint16{clusters.AttrCurrentTemperature}, 0)
		require.NoError(t, err)
		assert.Equal(t, int16(2300), recs[0].Value)
		assert.Empty(t, te.tr.Reads())
	}
}

func TestSonoffManufacturerOverrideAndSwitch(t *testing.T) {
	te := newTestEnv(t)
	dev, err := te.quirks.Bind(te.Env, transport.DeviceAnnounceEvent{
		IEEE:         testIEEE,
		Manufacturer: "SONOFF",
		Model:        "ZBMicro",
		Endpoints: []transport.SimpleDescriptor{
			{Endpoint: 1, ProfileID: ProfileHA, DeviceType: 0x0100, InClusters: []uint16{0x0000, 0x0006, 0xFC11}},
		},
	})
	require.NoError(t, err)

	sw, ok := dev.Switch("turbo_mode")
	require.True(t, ok)
	assert.Equal(t, int64(20), sw.On)
	assert.Equal(t, int64(9), sw.Off)

	c, err := dev.Cluster(1, 0xFC11)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1286), c.Def().ManufacturerCode)

	_, err = c.WriteAttributes(context.Background(), map[uint16]any{sw.Attr: sw.On}, 0)
	require.NoError(t, err)
	writes := te.tr.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, uint16(0x1286), writes[0].Manufacturer)
}

func TestBindWithoutQuirk(t *testing.T) {
	te := newTestEnv(t)
	dev, err := te.quirks.Bind(te.Env, transport.DeviceAnnounceEvent{
		IEEE:         testIEEE,
		Manufacturer: "IKEA of Sweden",
		Model:        "TRADFRI bulb",
		Endpoints: []transport.SimpleDescriptor{
			{Endpoint: 1, ProfileID: ProfileHA, DeviceType: DeviceDimmable, InClusters: []uint16{0x0006, 0x0008, 0xFC7C}},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, dev.Quirk)
	c, err := dev.Cluster(1, 0xFC7C)
	require.NoError(t, err)
	assert.Equal(t, "0xFC7C", c.Def().Name)
	_, wrapped := c.(*cluster.Adapter)
	assert.False(t, wrapped)
}
