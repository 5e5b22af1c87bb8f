package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-orchestrator/config"
)

func terminalConfig(t *testing.T, srv *httptest.Server) *config.TerminalConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &config.TerminalConfig{Host: host, Port: port, Timeout: time.Second}
}

func deadTerminalConfig() *config.TerminalConfig {
	return &config.TerminalConfig{Host: "127.0.0.1", Port: 1, Timeout: 200 * time.Millisecond}
}

// fakeTerminal serves the terminal wire contract for tests.
type fakeTerminal struct {
	approve   bool
	declineAs string
	pixPolls  atomic.Int32
	// pixOutcome is returned once pixPollsUntil polls have happened; before
	// that the charge reports pending.
	pixOutcome    string
	pixPollsUntil int32
	lastKey       atomic.Value
}

func (f *fakeTerminal) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		f.lastKey.Store(r.Header.Get("X-Automation-Key"))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/transaction", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if f.approve {
			json.NewEncoder(w).Encode(map[string]any{
				"success": true, "resultCode": "00", "resultMessage": "approved",
				"transactionId": "txn-1", "authorizationCode": "auth-1", "nsu": "nsu-1",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": false, "resultCode": f.declineAs, "resultMessage": "insufficient funds",
		})
	})
	mux.HandleFunc("/pix/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"qrCode": "00020126pix-payload", "pixKey": "store@example.com",
		})
	})
	mux.HandleFunc("/pix/status/", func(w http.ResponseWriter, r *http.Request) {
		n := f.pixPolls.Add(1)
		status := PixPending
		if n >= f.pixPollsUntil {
			status = f.pixOutcome
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": status, "transactionId": "pix-txn-1",
		})
	})
	mux.HandleFunc("/pix/cancel/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func newArbitrator(backends []Backend, pix PixBackend) *Arbitrator {
	return NewArbitrator(backends, pix, 20*time.Millisecond, 500*time.Millisecond)
}

func TestBestAvailableMethodPriority(t *testing.T) {
	a := newArbitrator(nil, nil)

	cases := []struct {
		name     string
		statuses []MethodStatus
		want     Method
		wantErr  error
	}{
		{
			name: "local wins over everything",
			statuses: []MethodStatus{
				{Method: MethodTerminalLocal, Available: true},
				{Method: MethodTerminalRemote, Available: true},
				{Method: MethodUSBPinpad, Available: true},
			},
			want: MethodTerminalLocal,
		},
		{
			name: "remote when local is down",
			statuses: []MethodStatus{
				{Method: MethodTerminalLocal, Available: false},
				{Method: MethodTerminalRemote, Available: true},
				{Method: MethodUSBPinpad, Available: true},
			},
			want: MethodTerminalRemote,
		},
		{
			name: "pinpad as last resort",
			statuses: []MethodStatus{
				{Method: MethodTerminalLocal, Available: false},
				{Method: MethodTerminalRemote, Available: false},
				{Method: MethodUSBPinpad, Available: true},
			},
			want: MethodUSBPinpad,
		},
		{
			name: "push-qr is never selected implicitly",
			statuses: []MethodStatus{
				{Method: MethodPushQR, Available: true},
			},
			wantErr: ErrNoMethodAvailable,
		},
		{
			name:     "nothing available",
			statuses: []MethodStatus{{Method: MethodTerminalLocal, Available: false}},
			wantErr:  ErrNoMethodAvailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.BestAvailableMethod(tc.statuses)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTestAllMethodsReportsEachBackend(t *testing.T) {
	up := (&fakeTerminal{approve: true}).server()
	defer up.Close()

	backends := []Backend{
		NewTerminalBackend(MethodTerminalLocal, terminalConfig(t, up)),
		NewTerminalBackend(MethodTerminalRemote, deadTerminalConfig()),
		NewPinpadBackend(&SimulatedBridge{Present: true}),
	}
	a := newArbitrator(backends, nil)

	statuses := a.TestAllMethods(context.Background())
	require.Len(t, statuses, 3)

	byMethod := make(map[Method]MethodStatus)
	for _, st := range statuses {
		byMethod[st.Method] = st
	}
	assert.True(t, byMethod[MethodTerminalLocal].Available)
	assert.False(t, byMethod[MethodTerminalRemote].Available)
	assert.NotEmpty(t, byMethod[MethodTerminalRemote].Error)
	assert.True(t, byMethod[MethodUSBPinpad].Available)
}

func TestProcessPaymentRejectsNonPositiveAmount(t *testing.T) {
	a := newArbitrator(nil, nil)
	_, err := a.ProcessPayment(context.Background(), Request{AmountCents: 0, Type: TypeCredit}, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestProcessPaymentCardApproved(t *testing.T) {
	term := &fakeTerminal{approve: true}
	srv := term.server()
	defer srv.Close()

	cfg := terminalConfig(t, srv)
	cfg.AutomationKey = "secret"
	a := newArbitrator([]Backend{NewTerminalBackend(MethodTerminalLocal, cfg)}, nil)

	result, err := a.ProcessPayment(context.Background(), Request{
		AmountCents: 1500, Type: TypeCredit, OrderID: "order-1",
	}, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, MethodTerminalLocal, result.Method)
	assert.Equal(t, "txn-1", result.TransactionID)
	assert.Equal(t, "auth-1", result.AuthorizationCode)
	assert.Equal(t, "secret", term.lastKey.Load())
}

func TestProcessPaymentDeclinePassthrough(t *testing.T) {
	srv := (&fakeTerminal{approve: false, declineAs: "51"}).server()
	defer srv.Close()

	a := newArbitrator([]Backend{NewTerminalBackend(MethodTerminalLocal, terminalConfig(t, srv))}, nil)

	_, err := a.ProcessPayment(context.Background(), Request{
		AmountCents: 1500, Type: TypeDebit, OrderID: "order-1",
	}, "")
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "51", denied.Code)
	assert.Equal(t, "insufficient funds", denied.Message)
}

func TestProcessPaymentFallsBackWhenPreferredDown(t *testing.T) {
	remote := (&fakeTerminal{approve: true}).server()
	defer remote.Close()

	backends := []Backend{
		NewTerminalBackend(MethodTerminalLocal, deadTerminalConfig()),
		NewTerminalBackend(MethodTerminalRemote, terminalConfig(t, remote)),
	}
	a := newArbitrator(backends, nil)

	result, err := a.ProcessPayment(context.Background(), Request{
		AmountCents: 500, Type: TypeCredit, OrderID: "order-2",
	}, MethodTerminalLocal)
	require.NoError(t, err)
	assert.Equal(t, MethodTerminalRemote, result.Method)
}

func TestProcessPaymentNoMethodAvailable(t *testing.T) {
	backends := []Backend{
		NewTerminalBackend(MethodTerminalLocal, deadTerminalConfig()),
		NewPinpadBackend(&SimulatedBridge{Present: false}),
	}
	a := newArbitrator(backends, nil)

	_, err := a.ProcessPayment(context.Background(), Request{
		AmountCents: 500, Type: TypeCredit, OrderID: "order-3",
	}, "")
	assert.ErrorIs(t, err, ErrNoMethodAvailable)
}

func TestPixGenerateAndConfirm(t *testing.T) {
	term := &fakeTerminal{pixOutcome: PixPaid, pixPollsUntil: 3}
	srv := term.server()
	defer srv.Close()

	cfg := terminalConfig(t, srv)
	pix := NewPixClient(cfg, &config.PixConfig{ExpirySeconds: 300})
	a := newArbitrator(nil, pix)

	result, err := a.ProcessPayment(context.Background(), Request{
		AmountCents: 2000, Type: TypePix, OrderID: "order-pix",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, MethodPushQR, result.Method)
	require.NotNil(t, result.Pix)
	assert.Equal(t, "00020126pix-payload", result.Pix.QRCode)
	assert.Equal(t, 300, result.Pix.ExpiresIn)

	confirmed, err := a.AwaitConfirmation(context.Background(), "order-pix")
	require.NoError(t, err)
	assert.True(t, confirmed.Success)
	assert.Equal(t, "pix-txn-1", confirmed.TransactionID)
	assert.GreaterOrEqual(t, term.pixPolls.Load(), int32(3))
}

func TestPixConfirmationOutcomes(t *testing.T) {
	cases := []struct {
		outcome string
		wantErr error
	}{
		{PixExpired, ErrPaymentExpired},
		{PixCancelled, ErrPaymentCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.outcome, func(t *testing.T) {
			srv := (&fakeTerminal{pixOutcome: tc.outcome, pixPollsUntil: 1}).server()
			defer srv.Close()

			pix := NewPixClient(terminalConfig(t, srv), &config.PixConfig{ExpirySeconds: 300})
			a := newArbitrator(nil, pix)

			_, err := a.AwaitConfirmation(context.Background(), "order-x")
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestPixConfirmationWindowTimeout(t *testing.T) {
	// Charge never settles; the window must close the loop.
	srv := (&fakeTerminal{pixOutcome: PixPending, pixPollsUntil: 1}).server()
	defer srv.Close()

	pix := NewPixClient(terminalConfig(t, srv), &config.PixConfig{ExpirySeconds: 300})
	a := NewArbitrator(nil, pix, 20*time.Millisecond, 100*time.Millisecond)

	start := time.Now()
	_, err := a.AwaitConfirmation(context.Background(), "order-x")
	assert.ErrorIs(t, err, ErrPaymentTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPixConfirmationCallerCancel(t *testing.T) {
	srv := (&fakeTerminal{pixOutcome: PixPending, pixPollsUntil: 1}).server()
	defer srv.Close()

	pix := NewPixClient(terminalConfig(t, srv), &config.PixConfig{ExpirySeconds: 300})
	a := NewArbitrator(nil, pix, 50*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := a.AwaitConfirmation(ctx, "order-x")
		done <- err
	}()

	time.Sleep(80 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("confirmation loop did not stop on cancel")
	}
}

func TestPixCancelCharge(t *testing.T) {
	srv := (&fakeTerminal{}).server()
	defer srv.Close()

	pix := NewPixClient(terminalConfig(t, srv), &config.PixConfig{ExpirySeconds: 300})
	a := newArbitrator(nil, pix)
	require.NoError(t, a.CancelCharge(context.Background(), "order-x"))
}

func TestSimulatedPinpadCharge(t *testing.T) {
	a := newArbitrator([]Backend{NewPinpadBackend(&SimulatedBridge{Present: true})}, nil)

	result, err := a.ProcessPayment(context.Background(), Request{
		AmountCents: 700, Type: TypeDebit, OrderID: fmt.Sprintf("order-%d", time.Now().Unix()),
	}, MethodUSBPinpad)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, MethodUSBPinpad, result.Method)
	assert.NotEmpty(t, result.TransactionID)
}
