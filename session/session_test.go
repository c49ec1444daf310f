package session

import (
	"net"
	"testing"
	"time"

	"github.com/connectivityfoundry/lwm2m-runtime/daemon"
	"github.com/connectivityfoundry/lwm2m-runtime/ipc"
	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/objectdef"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	Value int `json:"value"`
}

func TestConnectAssignsSessionID(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	s := New(RoleClient, "pipe://test", nil)
	require.NoError(t, s.Connect(ipc.NewStreamTransport(a)))
	assert.True(t, s.Connected())
	assert.NotEmpty(t, s.SessionID())
}

func TestConnectTwiceIsInvalid(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	s := New(RoleClient, "pipe://test", nil)
	require.NoError(t, s.Connect(ipc.NewStreamTransport(a)))
	err := s.Connect(ipc.NewStreamTransport(b))
	require.Error(t, err)
	assert.Equal(t, lwm2merr.SessionInvalid, lwm2merr.KindOf(err))
}

func TestPerformRequiresConnection(t *testing.T) {
	s := New(RoleClient, "pipe://test", nil)
	req, err := ipc.NewRequest("read", nil)
	require.NoError(t, err)

	_, err = s.Perform(req, time.Second)
	require.Error(t, err)
	assert.Equal(t, lwm2merr.SessionNotConnected, lwm2merr.KindOf(err))
}

func TestPerformRoundTripTracksInFlight(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	s := New(RoleClient, "pipe://test", nil)
	require.NoError(t, s.Connect(ipc.NewStreamTransport(a)))
	serverTransport := ipc.NewStreamTransport(b)

	done := make(chan struct{})
	go func() {
		defer close(done)
		req, err := serverTransport.Recv()
		require.NoError(t, err)
		resp, err := ipc.NewResponse(req.ID, "read", reply{Value: 5})
		require.NoError(t, err)
		require.NoError(t, serverTransport.Send(resp))
	}()

	req, err := ipc.NewRequest("read", nil)
	require.NoError(t, err)

	resp, err := s.Perform(req, time.Second)
	require.NoError(t, err)
	var r reply
	require.NoError(t, resp.Decode(&r))
	assert.Equal(t, 5, r.Value)
	assert.Empty(t, s.InFlight())
	<-done
}

func TestDisconnectIsIdempotentAndInvalidatesPerform(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	s := New(RoleClient, "pipe://test", nil)
	require.NoError(t, s.Connect(ipc.NewStreamTransport(a)))
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())

	req, err := ipc.NewRequest("read", nil)
	require.NoError(t, err)
	_, err = s.Perform(req, time.Second)
	require.Error(t, err)
	assert.Equal(t, lwm2merr.SessionNotConnected, lwm2merr.KindOf(err))
}

func TestDefineRegistersOnPeerAndMirrorsLocally(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	s := New(RoleClient, "pipe://test", nil)
	require.NoError(t, s.Connect(ipc.NewStreamTransport(a)))
	serverTransport := ipc.NewStreamTransport(b)

	def := objectdef.ObjectDefinition{
		ID:           1000,
		Name:         "Heater",
		MaxInstances: 8,
		Resources: map[path.ID]objectdef.ResourceDefinition{
			104: {ID: 104, Name: "Temperature", Kind: value.KindFloat, MaxInstances: 1, Operations: objectdef.OpRead},
		},
	}

	peerRegistry := objectdef.New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		req, err := serverTransport.Recv()
		require.NoError(t, err)
		var wireOp daemon.WireOperation
		require.NoError(t, req.Decode(&wireOp))
		op, err := wireOp.ToOperation()
		require.NoError(t, err)
		handler := daemon.NewHandler(nil, peerRegistry)
		result, err := handler.Handle(op)
		require.NoError(t, err)
		resp, err := ipc.NewResponse(req.ID, "define", daemon.EncodeResponse(result))
		require.NoError(t, err)
		require.NoError(t, serverTransport.Send(resp))
	}()

	require.NoError(t, s.Define(def, time.Second))
	<-done

	got, err := s.Defs.LookupObject(1000)
	require.NoError(t, err)
	assert.Equal(t, "Heater", got.Name)

	peerDef, err := peerRegistry.LookupObject(1000)
	require.NoError(t, err)
	assert.Equal(t, "Heater", peerDef.Name)
}

func TestProcessDeliversNotifyToOnNotify(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	s := New(RoleClient, "pipe://test", nil)
	var gotKind string
	s.OnNotify = func(e ipc.Envelope) { gotKind = e.Kind }
	require.NoError(t, s.Connect(ipc.NewStreamTransport(a)))

	serverTransport := ipc.NewStreamTransport(b)
	notify, err := ipc.NewNotify("observe_notify", reply{Value: 9})
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, serverTransport.Send(notify))
	}()

	require.NoError(t, s.Process(time.Second))
	<-done
	assert.Equal(t, "observe_notify", gotKind)
}
