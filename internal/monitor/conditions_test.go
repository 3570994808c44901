package monitor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSysfsBattery(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	root := "/sys/class/power_supply"

	level, err := NewSysfsBattery(fs, root).BatteryLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, level, "no power-supply class")

	require.NoError(t, afero.WriteFile(fs, root+"/AC/type", []byte("Mains\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, root+"/AC/capacity", []byte("1\n"), 0o644))
	level, err = NewSysfsBattery(fs, root).BatteryLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, level, "mains supply ignored")

	require.NoError(t, afero.WriteFile(fs, root+"/BAT0/type", []byte("Battery\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, root+"/BAT0/capacity", []byte("42\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, root+"/BAT1/capacity", []byte("12\n"), 0o644))
	level, err = NewSysfsBattery(fs, root).BatteryLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, level)
}

func TestHostReachability(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	ctx := context.Background()
	assert.True(t, NewHostReachability("http://"+ln.Addr().String()+"/list.m3u", time.Second).NetworkAvailable(ctx))
	assert.False(t, NewHostReachability("http://127.0.0.1:1/list.m3u", time.Second).NetworkAvailable(ctx))
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "example.com:443", hostPort("https://example.com/a.m3u"))
	assert.Equal(t, "example.com:80", hostPort("http://example.com/a.m3u"))
	assert.Equal(t, "example.com:8080", hostPort("http://example.com:8080/a.m3u"))
}

func TestCombine(t *testing.T) {
	c := Combine(Static{Battery: 30}, Static{Online: true})
	level, err := c.BatteryLevel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, level)
	assert.True(t, c.NetworkAvailable(context.Background()))
}
