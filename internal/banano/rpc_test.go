package banano

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	t        *testing.T
	requests []map[string]string
	reply    func(action string, req map[string]string) (int, string)
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	require.NoError(n.t, json.NewDecoder(r.Body).Decode(&req))
	n.requests = append(n.requests, req)
	status, body := n.reply(req["action"], req)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func newTestClient(t *testing.T, reply func(string, map[string]string) (int, string)) (*Client, *fakeNode) {
	node := &fakeNode{t: t, reply: reply}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "WALLET", WithTimeout(time.Second), WithSendTimeout(time.Second)), node
}

func TestAccountHistory(t *testing.T) {
	client, node := newTestClient(t, func(action string, _ map[string]string) (int, string) {
		return http.StatusOK, `{"account":"ban_x","history":[
			{"type":"receive","account":"ban_a","amount":"100","local_timestamp":"1700000000","hash":"B2"},
			{"type":"receive","account":"ban_b","amount":"5","local_timestamp":"1600000000","hash":"B1"}]}`
	})
	history, err := client.AccountHistory(context.Background(), "ban_x")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "ban_a", history[0].Account)
	require.Equal(t, time.Unix(1600000000, 0), history[1].Time())
	require.Equal(t, "account_history", node.requests[0]["action"])
	require.Equal(t, "-1", node.requests[0]["count"])
}

func TestAccountHistoryEmptyString(t *testing.T) {
	client, _ := newTestClient(t, func(string, map[string]string) (int, string) {
		return http.StatusOK, `{"account":"ban_x","history":""}`
	})
	history, err := client.AccountHistory(context.Background(), "ban_x")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestAccountBalance(t *testing.T) {
	client, _ := newTestClient(t, func(string, map[string]string) (int, string) {
		return http.StatusOK, `{"balance":"300000000000000000000000000000","receivable":"7"}`
	})
	balance, pending, err := client.AccountBalance(context.Background(), "ban_x")
	require.NoError(t, err)
	require.Equal(t, "3", FromRaw(balance).String())
	require.Equal(t, uint256.NewInt(7), pending)
}

func TestSendPassesWalletAndRaw(t *testing.T) {
	client, node := newTestClient(t, func(string, map[string]string) (int, string) {
		return http.StatusOK, `{"block":"ABCDEF"}`
	})
	hash, err := client.Send(context.Background(), "ban_src", "ban_dst", uint256.NewInt(42))
	require.NoError(t, err)
	require.Equal(t, "ABCDEF", hash)

	req := node.requests[0]
	require.Equal(t, "send", req["action"])
	require.Equal(t, "WALLET", req["wallet"])
	require.Equal(t, "ban_src", req["source"])
	require.Equal(t, "ban_dst", req["destination"])
	require.Equal(t, "42", req["amount"])
}

func TestSendNodeRejection(t *testing.T) {
	client, _ := newTestClient(t, func(string, map[string]string) (int, string) {
		return http.StatusOK, `{"error":"Insufficient balance"}`
	})
	_, err := client.Send(context.Background(), "ban_src", "ban_dst", uint256.NewInt(1))
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, "send", rpcErr.Action)
	require.Equal(t, "Insufficient balance", rpcErr.Message)
}

func TestSendTransportFailureIsNotRPCError(t *testing.T) {
	client, _ := newTestClient(t, func(string, map[string]string) (int, string) {
		return http.StatusBadGateway, `bad gateway`
	})
	_, err := client.Send(context.Background(), "ban_src", "ban_dst", uint256.NewInt(1))
	require.Error(t, err)
	var rpcErr *RPCError
	require.False(t, errors.As(err, &rpcErr))
}

func TestSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "WALLET", WithSendTimeout(50*time.Millisecond))
	_, err := client.Send(context.Background(), "ban_src", "ban_dst", uint256.NewInt(1))
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPendingAndReceive(t *testing.T) {
	client, node := newTestClient(t, func(action string, _ map[string]string) (int, string) {
		if action == "pending" {
			return http.StatusOK, `{"blocks":["H1","H2"]}`
		}
		return http.StatusOK, `{"block":"R1"}`
	})
	blocks, err := client.Pending(context.Background(), "ban_faucet", 50)
	require.NoError(t, err)
	require.Equal(t, []string{"H1", "H2"}, blocks)
	require.Equal(t, "50", node.requests[0]["count"])

	hash, err := client.Receive(context.Background(), "ban_faucet", "H1")
	require.NoError(t, err)
	require.Equal(t, "R1", hash)
	require.Equal(t, "H1", node.requests[1]["block"])
}

func TestPendingEmpty(t *testing.T) {
	client, _ := newTestClient(t, func(string, map[string]string) (int, string) {
		return http.StatusOK, `{"blocks":""}`
	})
	blocks, err := client.Pending(context.Background(), "ban_faucet", 10)
	require.NoError(t, err)
	require.Empty(t, blocks)
}
