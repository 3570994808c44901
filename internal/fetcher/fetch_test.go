package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const playlist = "#EXTM3U\n#EXTINF:-1 group-title=\"News\",BBC News\nhttp://example.com/bbc.m3u8\n"

func TestFetchPlaylistOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "*/*", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(playlist))
	}))
	defer srv.Close()

	body, err := NewClient(Options{}).FetchPlaylist(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, playlist, body)
}

func TestFetchPlaylistDecodesBodies(t *testing.T) {
	var gz, br bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write([]byte(playlist))
	require.NoError(t, zw.Close())
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write([]byte(playlist))
	require.NoError(t, bw.Close())

	for enc, payload := range map[string][]byte{"gzip": gz.Bytes(), "br": br.Bytes()} {
		t.Run(enc, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", enc)
				_, _ = w.Write(payload)
			}))
			defer srv.Close()

			body, err := NewClient(Options{}).FetchPlaylist(context.Background(), srv.URL)
			require.NoError(t, err)
			assert.Equal(t, playlist, body)
		})
	}
}

func TestFetchPlaylistStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(Options{}).FetchPlaylist(context.Background(), srv.URL)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindStatus, fe.Kind)
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.Equal(t, "HTTP 500", fe.Error())
	assert.False(t, fe.Network())
}

func TestFetchPlaylistDNSError(t *testing.T) {
	rt := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}
		},
	}
	_, err := NewClient(Options{Transport: rt}).FetchPlaylist(context.Background(), "http://nowhere.invalid/list.m3u")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindDNS, fe.Kind)
	assert.True(t, fe.Network())
}

func TestFetchPlaylistHeaderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewClient(Options{ReadTimeout: 50 * time.Millisecond}).FetchPlaylist(context.Background(), srv.URL)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindTimeout, fe.Kind)
}

func TestFetchPlaylistIdleBodyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := NewClient(Options{ReadTimeout: 50 * time.Millisecond}).FetchPlaylist(context.Background(), srv.URL)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindTimeout, fe.Kind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetchPlaylistCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := NewClient(Options{}).FetchPlaylist(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFetchChannels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(playlist))
	}))
	defer srv.Close()

	channels, stats, err := NewClient(Options{}).FetchChannels(context.Background(), srv.URL, ParseOptions{Strict: true})
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "BBC News", channels[0].Name)
	assert.Equal(t, 1, stats.Channels)
}
