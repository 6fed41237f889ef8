package uiserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"chargesim/backend/services/station-simulator/internal/repository"
	"chargesim/backend/services/station-simulator/internal/station"
)

type fakeChargingStation struct {
	hashID  string
	started bool
	failOn  error
}

func (f *fakeChargingStation) HashID() string { return f.hashID }

func (f *fakeChargingStation) Info() station.Info {
	return station.Info{
		StationID: "station-" + f.hashID,
		HashID:    f.hashID,
		ATG:       station.ATGInfo{Started: f.started},
	}
}

func (f *fakeChargingStation) StartATG() error {
	if f.failOn != nil {
		return f.failOn
	}
	f.started = true
	return nil
}

func (f *fakeChargingStation) StopATG() error {
	if f.failOn != nil {
		return f.failOn
	}
	f.started = false
	return nil
}

type fakeLister struct {
	stationID string
	limit     int
	records   []repository.TransactionRecord
}

func (f *fakeLister) ListByStation(_ context.Context, stationID string, limit int) ([]repository.TransactionRecord, error) {
	f.stationID = stationID
	f.limit = limit
	return f.records, nil
}

func newRegistry(stations ...*fakeChargingStation) Registry {
	return RegistryFunc(func() []ChargingStation {
		out := make([]ChargingStation, 0, len(stations))
		for _, s := range stations {
			out = append(out, s)
		}
		return out
	})
}

func request(t *testing.T, p *Processor, procedure string, payload interface{}) (string, Response) {
	t.Helper()
	id := uuid.NewString()
	raw, err := json.Marshal([]interface{}{id, procedure, payload})
	require.NoError(t, err)

	out, err := p.Process(context.Background(), "peer", raw)
	require.NoError(t, err)

	var frame []json.RawMessage
	require.NoError(t, json.Unmarshal(out, &frame))
	require.Len(t, frame, 2)
	var gotID string
	require.NoError(t, json.Unmarshal(frame[0], &gotID))
	var resp Response
	require.NoError(t, json.Unmarshal(frame[1], &resp))
	assert.Equal(t, id, gotID)
	return gotID, resp
}

func TestProcessorListChargingStations(t *testing.T) {
	p := NewProcessor(newRegistry(&fakeChargingStation{hashID: "a"}, &fakeChargingStation{hashID: "b"}), nil, zap.NewNop())

	_, resp := request(t, p, ProcedureListChargingStations, map[string]interface{}{})
	assert.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, resp.ChargingStations, 2)
	assert.Equal(t, "a", resp.ChargingStations[0].HashID)
}

func TestProcessorATGCommands(t *testing.T) {
	a := &fakeChargingStation{hashID: "a"}
	b := &fakeChargingStation{hashID: "b"}
	broken := &fakeChargingStation{hashID: "c", failOn: errors.New("not running")}
	p := NewProcessor(newRegistry(a, b, broken), nil, zap.NewNop())

	_, resp := request(t, p, ProcedureStartATG, broadcastRequest{HashIDs: []string{"a"}})
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, []string{"a"}, resp.HashIDsSucceeded)
	assert.True(t, a.started)
	assert.False(t, b.started)

	_, resp = request(t, p, ProcedureStartATG, nil)
	assert.Equal(t, StatusFailure, resp.Status)
	assert.Equal(t, []string{"a", "b"}, resp.HashIDsSucceeded)
	assert.Equal(t, []string{"c"}, resp.HashIDsFailed)
	assert.Equal(t, "not running", resp.Errors["c"])

	_, resp = request(t, p, ProcedureStopATG, broadcastRequest{HashIDs: []string{"b", "missing"}})
	assert.Equal(t, StatusFailure, resp.Status)
	assert.Equal(t, []string{"b"}, resp.HashIDsSucceeded)
	assert.Equal(t, []string{"missing"}, resp.HashIDsFailed)
	assert.False(t, b.started)
}

func TestProcessorListTransactions(t *testing.T) {
	started := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	lister := &fakeLister{records: []repository.TransactionRecord{{
		TransactionID: 3,
		ConnectorID:   1,
		MeterStart:    10,
		MeterStop:     sql.NullInt64{Int64: 20, Valid: true},
		StartedAt:     started,
	}}}
	p := NewProcessor(newRegistry(&fakeChargingStation{hashID: "a"}), lister, zap.NewNop())

	_, resp := request(t, p, ProcedureListTransactions, transactionsRequest{HashID: "a"})
	assert.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, "2024-02-03T04:05:06Z", resp.Transactions[0].StartedAt)
	require.NotNil(t, resp.Transactions[0].MeterStop)
	assert.Equal(t, int64(20), *resp.Transactions[0].MeterStop)
	assert.Equal(t, "station-a", lister.stationID)
	assert.Equal(t, defaultTransactionsLimit, lister.limit)

	_, resp = request(t, p, ProcedureListTransactions, transactionsRequest{HashID: "zzz"})
	assert.Equal(t, StatusFailure, resp.Status)

	disabled := NewProcessor(newRegistry(), nil, zap.NewNop())
	_, resp = request(t, disabled, ProcedureListTransactions, transactionsRequest{HashID: "a"})
	assert.Equal(t, StatusFailure, resp.Status)
}

func TestProcessorRejectsMalformedRequests(t *testing.T) {
	p := NewProcessor(newRegistry(), nil, zap.NewNop())

	_, resp := request(t, p, "doSomethingElse", nil)
	assert.Equal(t, StatusFailure, resp.Status)

	for _, raw := range []string{`{}`, `["only","two"]`, `["not-a-uuid","listChargingStations",{}]`, `[1,"listChargingStations",{}]`} {
		_, err := p.Process(context.Background(), "peer", []byte(raw))
		assert.Error(t, err, raw)
	}
}

func TestNewAuthorizer(t *testing.T) {
	authorize, err := NewAuthorizer(AuthConfig{})
	require.NoError(t, err)
	assert.Nil(t, authorize)

	_, err = NewAuthorizer(AuthConfig{Type: AuthBasic})
	assert.Error(t, err)
	_, err = NewAuthorizer(AuthConfig{Type: AuthBearer})
	assert.Error(t, err)
	_, err = NewAuthorizer(AuthConfig{Type: "kerberos"})
	assert.Error(t, err)
}

func TestBasicAuthorizer(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	for name, password := range map[string]string{"plain": "s3cret", "bcrypt": string(hash)} {
		t.Run(name, func(t *testing.T) {
			authorize, err := NewAuthorizer(AuthConfig{Type: AuthBasic, Username: "admin", Password: password})
			require.NoError(t, err)

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			assert.ErrorIs(t, authorize(r), errMissingCredentials)

			r.SetBasicAuth("admin", "wrong")
			assert.ErrorIs(t, authorize(r), errInvalidCredentials)

			r.SetBasicAuth("admin", "s3cret")
			assert.NoError(t, authorize(r))
		})
	}
}

func TestBearerAuthorizer(t *testing.T) {
	authorize, err := NewAuthorizer(AuthConfig{Type: AuthBearer, Secret: "key"})
	require.NoError(t, err)

	sign := func(secret string, expires time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(expires),
		})
		s, err := token.SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.ErrorIs(t, authorize(r), errMissingCredentials)

	r.Header.Set("Authorization", "Bearer "+sign("key", time.Now().Add(time.Hour)))
	assert.NoError(t, authorize(r))

	r.Header.Set("Authorization", "Bearer "+sign("other", time.Now().Add(time.Hour)))
	assert.ErrorIs(t, authorize(r), errInvalidCredentials)

	r.Header.Set("Authorization", "Bearer "+sign("key", time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, authorize(r), errInvalidCredentials)

	r.Header.Set("Authorization", "Token abc")
	assert.ErrorIs(t, authorize(r), errInvalidCredentials)
}

func TestServerEndpoints(t *testing.T) {
	a := &fakeChargingStation{hashID: "a"}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("chargesim_measure_total 0\n"))
	})
	srv, err := NewServer(Config{Auth: AuthConfig{Type: AuthBasic, Username: "admin", Password: "pw"}},
		NewProcessor(newRegistry(a), nil, zap.NewNop()), metrics, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts := httptest.NewServer(srv.Handler(ctx))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/health", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}

	_, resp, err = dialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	req := &http.Request{Header: header}
	req.SetBasicAuth("admin", "pw")
	conn, _, err := dialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, Subprotocol, conn.Subprotocol())

	id := uuid.NewString()
	require.NoError(t, conn.WriteJSON([]interface{}{id, ProcedureStartATG, map[string]interface{}{"hashIds": []string{"a"}}}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame []json.RawMessage
	require.NoError(t, conn.ReadJSON(&frame))
	require.Len(t, frame, 2)
	var got Response
	require.NoError(t, json.Unmarshal(frame[1], &got))
	assert.Equal(t, StatusSuccess, got.Status)
	assert.True(t, a.started)
	assert.Eventually(t, func() bool { return srv.Connections() == 1 }, time.Second, 10*time.Millisecond)
}
