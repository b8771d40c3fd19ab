package admin

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/murmur/pkg/log"
	"github.com/andydunstall/murmur/pkg/testutil"
	"github.com/andydunstall/murmur/server/status"
)

type fakeStatus struct {
	value string
}

func (s *fakeStatus) Register(group *gin.RouterGroup) {
	group.GET("/foo", s.fooRoute)
}

func (s *fakeStatus) fooRoute(c *gin.Context) {
	value := s.value
	if value == "" {
		value = "foo"
	}
	if c.Query("forward") != "" {
		value += "?forward"
	}
	c.String(http.StatusOK, value)
}

var _ status.Handler = &fakeStatus{}

type fakeResolver struct {
	localID string
	addrs   map[string]string
}

func (r *fakeResolver) LocalID() string {
	return r.localID
}

func (r *fakeResolver) AdminAddr(memberID string) (string, bool) {
	addr, ok := r.addrs[memberID]
	return addr, ok
}

var _ AddrResolver = &fakeResolver{}

func TestServer_AdminRoutes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(
		nil,
		prometheus.NewRegistry(),
		nil,
		log.NewNopLogger(),
	)
	go func() {
		require.NoError(t, s.Serve(ln))
	}()
	defer s.Shutdown(context.TODO())

	t.Run("health", func(t *testing.T) {
		url := fmt.Sprintf("http://%s/health", ln.Addr().String())
		resp, err := http.Get(url)
		assert.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("metrics", func(t *testing.T) {
		url := fmt.Sprintf("http://%s/metrics", ln.Addr().String())
		resp, err := http.Get(url)
		assert.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("not found", func(t *testing.T) {
		url := fmt.Sprintf("http://%s/foo", ln.Addr().String())
		resp, err := http.Get(url)
		assert.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServer_StatusRoutes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(
		nil,
		prometheus.NewRegistry(),
		nil,
		log.NewNopLogger(),
	)
	s.AddStatus("/mystatus", &fakeStatus{})

	go func() {
		require.NoError(t, s.Serve(ln))
	}()
	defer s.Shutdown(context.TODO())

	t.Run("status ok", func(t *testing.T) {
		url := fmt.Sprintf("http://%s/status/mystatus/foo", ln.Addr().String())
		resp, err := http.Get(url)
		assert.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		buf := new(bytes.Buffer)
		//nolint
		buf.ReadFrom(resp.Body)
		assert.Equal(t, []byte("foo"), buf.Bytes())
	})

	t.Run("not found", func(t *testing.T) {
		url := fmt.Sprintf("http://%s/status/notfound", ln.Addr().String())
		resp, err := http.Get(url)
		assert.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServer_Forward(t *testing.T) {
	remoteLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	remote := NewServer(nil, nil, nil, log.NewNopLogger())
	remote.AddStatus("/mystatus", &fakeStatus{value: "remote"})
	go func() {
		require.NoError(t, remote.Serve(remoteLn))
	}()
	defer remote.Shutdown(context.TODO())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(
		&fakeResolver{
			localID: "local",
			addrs: map[string]string{
				"remote": remoteLn.Addr().String(),
			},
		},
		prometheus.NewRegistry(),
		nil,
		log.NewNopLogger(),
	)
	s.AddStatus("/mystatus", &fakeStatus{value: "local"})
	go func() {
		require.NoError(t, s.Serve(ln))
	}()
	defer s.Shutdown(context.TODO())

	tests := []struct {
		Name           string
		Forward        string
		ExpectedStatus int
		ExpectedBody   string
	}{
		{
			Name:           "no forward",
			ExpectedStatus: http.StatusOK,
			ExpectedBody:   "local",
		},
		{
			Name:           "forward local",
			Forward:        "local",
			ExpectedStatus: http.StatusOK,
			ExpectedBody:   "local?forward",
		},
		{
			Name:           "forward remote",
			Forward:        "remote",
			ExpectedStatus: http.StatusOK,
			// The forward query is removed before forwarding.
			ExpectedBody: "remote",
		},
		{
			Name:           "forward unknown",
			Forward:        "unknown",
			ExpectedStatus: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			url := fmt.Sprintf("http://%s/status/mystatus/foo", ln.Addr().String())
			if tt.Forward != "" {
				url += "?forward=" + tt.Forward
			}
			resp, err := http.Get(url)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.ExpectedStatus, resp.StatusCode)

			if tt.ExpectedBody != "" {
				buf := new(bytes.Buffer)
				//nolint
				buf.ReadFrom(resp.Body)
				assert.Equal(t, tt.ExpectedBody, buf.String())
			}
		})
	}
}

func TestServer_TLS(t *testing.T) {
	rootCAPool, cert, err := testutil.LocalTLSServerCert()
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	tlsConfig := &tls.Config{}
	tlsConfig.Certificates = []tls.Certificate{cert}

	s := NewServer(
		nil,
		prometheus.NewRegistry(),
		tlsConfig,
		log.NewNopLogger(),
	)
	go func() {
		require.NoError(t, s.Serve(ln))
	}()
	defer s.Shutdown(context.TODO())

	t.Run("https ok", func(t *testing.T) {
		tlsConfig = &tls.Config{
			RootCAs: rootCAPool,
		}
		transport := &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		client := &http.Client{
			Transport: transport,
		}

		req, _ := http.NewRequest(
			http.MethodGet,
			fmt.Sprintf("https://%s/health", ln.Addr().String()),
			nil,
		)
		resp, err := client.Do(req)
		assert.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("https bad ca", func(t *testing.T) {
		url := fmt.Sprintf("https://%s/health", ln.Addr().String())
		_, err := http.Get(url)
		assert.ErrorContains(t, err, "certificate signed by unknown authority")
	})

	t.Run("http", func(t *testing.T) {
		url := fmt.Sprintf("http://%s/health", ln.Addr().String())
		resp, err := http.Get(url)
		assert.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
