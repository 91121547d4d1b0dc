package commcell

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRawTransport starts a server with one catch-all handler and returns a
// transport pointed at it. Unlike newTestServer there are no default routes;
// transport tests control every response.
func newRawTransport(t *testing.T, handler http.HandlerFunc) *transport {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL)
	require.NoError(t, cfg.Validate())
	return newTransport(cfg, nil, nil)
}

func TestSetTokenPrefix(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{name: "bare token gets prefix", token: "abc123", want: "QSDK abc123"},
		{name: "QSDK token unchanged", token: "QSDK abc123", want: "QSDK abc123"},
		{name: "SAML token unchanged", token: "SAML assertion", want: "SAML assertion"},
		{name: "Bearer token unchanged", token: "Bearer jwt", want: "Bearer jwt"},
		{name: "empty token stays empty", token: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &transport{}
			tr.setToken(tt.token)
			assert.Equal(t, tt.want, tr.authToken())
		})
	}
}

func TestLoginSendsEncodedCredentials(t *testing.T) {
	var got loginRequest

	tr := newRawTransport(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, testBasePath+svcLogin, r.URL.Path)
		got = loginRequest{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(t, w, map[string]interface{}{"token": "tok42"})
	})

	require.NoError(t, tr.login(context.Background()))

	assert.Equal(t, "admin", got.Username)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("secret")), got.Password)
	assert.NotEmpty(t, got.DeviceID)
	assert.Equal(t, "QSDK tok42", tr.authToken())
}

func TestLoginWithoutTokenInReply(t *testing.T) {
	tr := newRawTransport(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{"userName": "admin"})
	})

	err := tr.login(context.Background())
	require.Error(t, err)

	var sdkErr *SDKError
	require.ErrorAs(t, err, &sdkErr)
	assert.Contains(t, sdkErr.Message, "no token received")
}

func TestDoReauthenticatesOn401(t *testing.T) {
	var logins, dataCalls int32

	tr := newRawTransport(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case testBasePath + svcLogin:
			n := atomic.AddInt32(&logins, 1)
			writeJSON(t, w, map[string]interface{}{"token": "tok" + string(rune('0'+n))})
		case testBasePath + "Thing":
			if atomic.AddInt32(&dataCalls, 1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeJSON(t, w, map[string]interface{}{"value": 7})
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	require.NoError(t, tr.login(context.Background()))

	var reply struct {
		Value int `json:"value"`
	}
	err := tr.do(context.Background(), "Test.Thing", http.MethodGet, "Thing", nil, &reply)
	require.NoError(t, err)

	assert.Equal(t, 7, reply.Value)
	assert.Equal(t, int32(2), atomic.LoadInt32(&logins))
	assert.Equal(t, int32(2), atomic.LoadInt32(&dataCalls))
}

func TestDoNoReplayWithoutCredentials(t *testing.T) {
	var logins int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == testBasePath+svcLogin {
			atomic.AddInt32(&logins, 1)
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL)
	cfg.Auth.Username = ""
	cfg.Auth.Password = ""
	cfg.Auth.Token = "pretoken"

	tr := newTransport(cfg, nil, nil)
	tr.setToken(cfg.Auth.Token)

	err := tr.do(context.Background(), "Test.Thing", http.MethodGet, "Thing", nil, nil)
	require.Error(t, err)

	var sdkErr *SDKError
	require.ErrorAs(t, err, &sdkErr)
	assert.True(t, sdkErr.IsAuthError())
	assert.Equal(t, int32(0), atomic.LoadInt32(&logins))
}

func TestDoTranslatesVendorErrorInsideOK(t *testing.T) {
	tr := newRawTransport(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"errorCode":    587,
			"errorMessage": "entity already exists",
		})
	})

	err := tr.do(context.Background(), "Test.Create", http.MethodPost, "Thing", nil, nil)
	require.Error(t, err)

	var sdkErr *SDKError
	require.ErrorAs(t, err, &sdkErr)
	assert.Equal(t, 587, sdkErr.Code)
	assert.Equal(t, "entity already exists", sdkErr.Message)
	assert.Equal(t, http.StatusOK, sdkErr.HTTPStatus)
}

func TestDoHTTPErrorPrefersVendorBody(t *testing.T) {
	tr := newRawTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(t, w, map[string]interface{}{
			"errorCode":   5,
			"errorString": "no such entity",
		})
	})

	err := tr.do(context.Background(), "Test.Get", http.MethodGet, "Thing/12", nil, nil)
	require.Error(t, err)

	var sdkErr *SDKError
	require.ErrorAs(t, err, &sdkErr)
	assert.True(t, sdkErr.IsNotFound())
	assert.Equal(t, 5, sdkErr.Code)
	assert.Equal(t, "no such entity", sdkErr.Message)
}

func TestDoEmptyBodyWithTarget(t *testing.T) {
	tr := newRawTransport(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var reply map[string]interface{}
	err := tr.do(context.Background(), "Test.Get", http.MethodGet, "Thing", nil, &reply)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response received")
}

func TestDoMalformedBodyWithTarget(t *testing.T) {
	tr := newRawTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	})

	var reply map[string]interface{}
	err := tr.do(context.Background(), "Test.Get", http.MethodGet, "Thing", nil, &reply)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal response")
}

func TestDoSendsStandardHeaders(t *testing.T) {
	tr := newRawTransport(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, contentTypeJSON, r.Header.Get(headerAccept))
		assert.NotEmpty(t, r.Header.Get(headerRequestID))
		assert.Equal(t, "QSDK tok", r.Header.Get(headerAuthtoken))
		writeJSON(t, w, map[string]interface{}{})
	})
	tr.setToken("tok")

	require.NoError(t, tr.do(context.Background(), "Test.Get", http.MethodGet, "Thing", nil, nil))
}

func TestCloseRejectsNewRequests(t *testing.T) {
	tr := newRawTransport(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{})
	})

	require.NoError(t, tr.close(context.Background()))

	err := tr.do(context.Background(), "Test.Get", http.MethodGet, "Thing", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client is closed")

	err = tr.close(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client already closed")
}
