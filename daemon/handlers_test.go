package daemon

import (
	"testing"

	"github.com/connectivityfoundry/lwm2m-runtime/objectdef"
	"github.com/connectivityfoundry/lwm2m-runtime/objectstore"
	"github.com/connectivityfoundry/lwm2m-runtime/optree"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHeaterHandler(t *testing.T) (*Handler, path.ID) {
	t.Helper()
	reg := objectdef.New()
	require.NoError(t, reg.Define(objectdef.ObjectDefinition{
		ID:           1000,
		Name:         "Heater",
		MinInstances: 0,
		MaxInstances: 8,
		Resources: map[path.ID]objectdef.ResourceDefinition{
			101: {ID: 101, Name: "Manufacturer", Kind: value.KindString, MinInstances: 1, MaxInstances: 1, HasDefault: true, Default: value.String("Acme"), Operations: objectdef.OpRead},
			104: {ID: 104, Name: "Temperature", Kind: value.KindFloat, MinInstances: 1, MaxInstances: 1, HasDefault: true, Default: value.Float(0.0), Operations: objectdef.OpRead | objectdef.OpWrite},
			106: {ID: 106, Name: "Reset", Kind: value.KindOpaque, MaxInstances: 1, Operations: objectdef.OpExecute},
		},
	}))
	store := objectstore.New(reg)
	id, err := store.CreateInstance(1000, path.InvalidID, nil)
	require.NoError(t, err)
	return NewHandler(store, reg), id
}

func TestHandleReadExpandsInstanceDepth(t *testing.T) {
	h, id := newHeaterHandler(t)
	b := optree.NewBuilder(optree.OpRead)
	require.NoError(t, b.Add(path.ObjectInstance(1000, id)))
	op, err := b.Build()
	require.NoError(t, err)

	resp, err := h.Handle(op)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, path.Resource(1000, id, 101), resp.Results[0].Path)
	assert.Equal(t, path.Resource(1000, id, 104), resp.Results[1].Path)
	assert.True(t, resp.Results[0].HasValue)
}

func TestHandleWriteThenRead(t *testing.T) {
	h, id := newHeaterHandler(t)
	p := path.Resource(1000, id, 104)

	wb := optree.NewBuilder(optree.OpWrite)
	require.NoError(t, wb.AddValue(p, value.Float(21.5)))
	wop, err := wb.Build()
	require.NoError(t, err)
	wresp, err := h.Handle(wop)
	require.NoError(t, err)
	require.Nil(t, wresp.Results[0].Err)

	rb := optree.NewBuilder(optree.OpRead)
	require.NoError(t, rb.Add(p))
	rop, err := rb.Build()
	require.NoError(t, err)
	rresp, err := h.Handle(rop)
	require.NoError(t, err)
	f, err := rresp.Results[0].Value.AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 21.5, f)
}

func TestHandleExecuteInvokesRegisteredExecutor(t *testing.T) {
	h, id := newHeaterHandler(t)
	p := path.Resource(1000, id, 106)

	var called string
	h.RegisterExecutor(p, func(args string) error {
		called = args
		return nil
	})

	b := optree.NewBuilder(optree.OpExecute)
	require.NoError(t, b.AddExecute(p, "reboot"))
	op, err := b.Build()
	require.NoError(t, err)

	resp, err := h.Handle(op)
	require.NoError(t, err)
	require.Nil(t, resp.Results[0].Err)
	assert.Equal(t, "reboot", called)
}

func TestHandleExecuteUnregisteredIsUnsupported(t *testing.T) {
	h, id := newHeaterHandler(t)
	p := path.Resource(1000, id, 106)

	b := optree.NewBuilder(optree.OpExecute)
	require.NoError(t, b.AddExecute(p, ""))
	op, err := b.Build()
	require.NoError(t, err)

	resp, err := h.Handle(op)
	require.NoError(t, err)
	require.NotNil(t, resp.Results[0].Err)
}

func TestHandleDeleteMandatoryResourceResetsToDefault(t *testing.T) {
	h, id := newHeaterHandler(t)
	p := path.Resource(1000, id, 104)
	require.NoError(t, h.store.Set(p, value.Float(99.9), objectstore.Replace))

	b := optree.NewBuilder(optree.OpDelete)
	require.NoError(t, b.Add(p))
	op, err := b.Build()
	require.NoError(t, err)

	resp, err := h.Handle(op)
	require.NoError(t, err)
	require.Nil(t, resp.Results[0].Err)

	v, err := h.store.Get(p)
	require.NoError(t, err)
	f, err := v.AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 0.0, f)
}

func TestHandleCreateAssignsInstanceAndInitialValues(t *testing.T) {
	h, _ := newHeaterHandler(t)

	b := optree.NewBuilder(optree.OpCreate)
	require.NoError(t, b.Add(path.Object(1000)))
	require.NoError(t, b.SetCreateInitial(map[path.ID]value.Value{
		101: value.String("Globex"),
	}))
	op, err := b.Build()
	require.NoError(t, err)

	resp, err := h.Handle(op)
	require.NoError(t, err)
	require.Nil(t, resp.Results[0].Err)
	assert.EqualValues(t, 1, resp.CreatedInstance)

	v, err := h.store.Get(path.Resource(1000, resp.CreatedInstance, 101))
	require.NoError(t, err)
	s, err := v.AsString()
	require.NoError(t, err)
	assert.Equal(t, "Globex", s)
}

func TestHandleDiscoverInstanceListsResources(t *testing.T) {
	h, id := newHeaterHandler(t)

	b := optree.NewBuilder(optree.OpDiscover)
	require.NoError(t, b.Add(path.ObjectInstance(1000, id)))
	op, err := b.Build()
	require.NoError(t, err)

	resp, err := h.Handle(op)
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, path.Resource(1000, id, 101), resp.Results[0].Path)
	assert.Equal(t, path.Resource(1000, id, 104), resp.Results[1].Path)
	assert.Equal(t, path.Resource(1000, id, 106), resp.Results[2].Path)
}

func TestHandleWriteAttributesAppliesAndRecords(t *testing.T) {
	h, id := newHeaterHandler(t)
	p := path.Resource(1000, id, 104)
	pmin := 5
	gt := 25.0

	b := optree.NewBuilder(optree.OpWriteAttributes)
	require.NoError(t, b.AddAttributes(p, optree.Attributes{PMin: &pmin, GT: &gt}))
	op, err := b.Build()
	require.NoError(t, err)

	resp, err := h.Handle(op)
	require.NoError(t, err)
	require.Nil(t, resp.Results[0].Err)

	got, ok := h.attributes[p]
	require.True(t, ok)
	assert.Equal(t, 5, *got.PMin)
	assert.Equal(t, 25.0, *got.GT)
}

func TestHandleWriteAttributesWithoutAttrsIsInvalid(t *testing.T) {
	h, id := newHeaterHandler(t)
	p := path.Resource(1000, id, 104)

	b := optree.NewBuilder(optree.OpWriteAttributes)
	require.NoError(t, b.Add(p))
	op, err := b.Build()
	require.NoError(t, err)

	resp, err := h.Handle(op)
	require.NoError(t, err)
	require.NotNil(t, resp.Results[0].Err)
}

func TestHandleObserveThenWriteDeliversNotify(t *testing.T) {
	h, id := newHeaterHandler(t)
	p := path.Resource(1000, id, 104)

	var notified path.Path
	var notifiedValue value.Value
	h.SetNotifier(func(p path.Path, v value.Value) {
		notified = p
		notifiedValue = v
	})

	ob := optree.NewBuilder(optree.OpObserve)
	require.NoError(t, ob.Add(p))
	obOp, err := ob.Build()
	require.NoError(t, err)
	obResp, err := h.Handle(obOp)
	require.NoError(t, err)
	require.True(t, obResp.Results[0].HasValue)

	wb := optree.NewBuilder(optree.OpWrite)
	require.NoError(t, wb.AddValue(p, value.Float(33.0)))
	wOp, err := wb.Build()
	require.NoError(t, err)
	_, err = h.Handle(wOp)
	require.NoError(t, err)

	assert.Equal(t, p, notified)
	f, err := notifiedValue.AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 33.0, f)
}

func TestHandleCancelObserveWithoutActiveObservationIsInvalid(t *testing.T) {
	h, id := newHeaterHandler(t)
	p := path.Resource(1000, id, 104)

	cb := optree.NewBuilder(optree.OpCancelObserve)
	require.NoError(t, cb.Add(p))
	cOp, err := cb.Build()
	require.NoError(t, err)

	resp, err := h.Handle(cOp)
	require.NoError(t, err)
	require.NotNil(t, resp.Results[0].Err)
}

func TestHandleObserveThenCancelStopsNotify(t *testing.T) {
	h, id := newHeaterHandler(t)
	p := path.Resource(1000, id, 104)

	calls := 0
	h.SetNotifier(func(path.Path, value.Value) { calls++ })

	ob := optree.NewBuilder(optree.OpObserve)
	require.NoError(t, ob.Add(p))
	obOp, err := ob.Build()
	require.NoError(t, err)
	_, err = h.Handle(obOp)
	require.NoError(t, err)

	cb := optree.NewBuilder(optree.OpCancelObserve)
	require.NoError(t, cb.Add(p))
	cOp, err := cb.Build()
	require.NoError(t, err)
	cResp, err := h.Handle(cOp)
	require.NoError(t, err)
	require.Nil(t, cResp.Results[0].Err)

	wb := optree.NewBuilder(optree.OpWrite)
	require.NoError(t, wb.AddValue(p, value.Float(40.0)))
	wOp, err := wb.Build()
	require.NoError(t, err)
	_, err = h.Handle(wOp)
	require.NoError(t, err)

	assert.Equal(t, 0, calls)
}

func TestHandleDefineRegistersIntoRegistry(t *testing.T) {
	h, _ := newHeaterHandler(t)

	b := optree.NewBuilder(optree.OpDefine)
	require.NoError(t, b.AddDefine(objectdef.ObjectDefinition{
		ID: 2000, Name: "Light", MaxInstances: 1,
		Resources: map[path.ID]objectdef.ResourceDefinition{
			0: {ID: 0, Name: "Dimmer", Kind: value.KindInteger, MaxInstances: 1, Operations: objectdef.OpRead | objectdef.OpWrite},
		},
	}))
	op, err := b.Build()
	require.NoError(t, err)

	resp, err := h.Handle(op)
	require.NoError(t, err)
	require.Nil(t, resp.Results[0].Err)

	def, err := h.registry.LookupObject(2000)
	require.NoError(t, err)
	assert.Equal(t, "Light", def.Name)
}

func TestHandleDefineConflictingReportsError(t *testing.T) {
	h, _ := newHeaterHandler(t)

	b := optree.NewBuilder(optree.OpDefine)
	changed := objectdef.ObjectDefinition{ID: 1000, Name: "NotAHeater", MaxInstances: 8}
	require.NoError(t, b.AddDefine(changed))
	op, err := b.Build()
	require.NoError(t, err)

	resp, err := h.Handle(op)
	require.NoError(t, err)
	require.NotNil(t, resp.Results[0].Err)
}

func TestHandleExecuteNotifiesExecuteSubscription(t *testing.T) {
	h, id := newHeaterHandler(t)
	p := path.Resource(1000, id, 106)
	h.RegisterExecutor(p, func(args string) error { return nil })

	var gotPath path.Path
	var gotArgs string
	_, err := h.engine.SubscribeExecute(p, func(p path.Path, args string) {
		gotPath = p
		gotArgs = args
	})
	require.NoError(t, err)

	b := optree.NewBuilder(optree.OpExecute)
	require.NoError(t, b.AddExecute(p, "reboot"))
	op, err := b.Build()
	require.NoError(t, err)

	resp, err := h.Handle(op)
	require.NoError(t, err)
	require.Nil(t, resp.Results[0].Err)
	assert.Equal(t, p, gotPath)
	assert.Equal(t, "reboot", gotArgs)
}

func TestHandleExecuteFailureDoesNotNotify(t *testing.T) {
	h, id := newHeaterHandler(t)
	p := path.Resource(1000, id, 106)
	h.RegisterExecutor(p, func(args string) error { return assert.AnError })

	calls := 0
	_, err := h.engine.SubscribeExecute(p, func(path.Path, string) { calls++ })
	require.NoError(t, err)

	b := optree.NewBuilder(optree.OpExecute)
	require.NoError(t, b.AddExecute(p, "reboot"))
	op, err := b.Build()
	require.NoError(t, err)

	resp, err := h.Handle(op)
	require.NoError(t, err)
	require.NotNil(t, resp.Results[0].Err)
	assert.Equal(t, 0, calls)
}

func TestHandleDiscoverIncludesWriteAttributes(t *testing.T) {
	h, id := newHeaterHandler(t)
	p := path.Resource(1000, id, 104)
	pmin := 5
	gt := 25.0

	wb := optree.NewBuilder(optree.OpWriteAttributes)
	require.NoError(t, wb.AddAttributes(p, optree.Attributes{PMin: &pmin, GT: &gt}))
	wop, err := wb.Build()
	require.NoError(t, err)
	_, err = h.Handle(wop)
	require.NoError(t, err)

	b := optree.NewBuilder(optree.OpDiscover)
	require.NoError(t, b.Add(path.ObjectInstance(1000, id)))
	op, err := b.Build()
	require.NoError(t, err)

	resp, err := h.Handle(op)
	require.NoError(t, err)

	var found bool
	for _, r := range resp.Results {
		if r.Path != p {
			continue
		}
		found = true
		require.True(t, r.HasAttrs)
		assert.Equal(t, 5, *r.Attrs.PMin)
		assert.Equal(t, 25.0, *r.Attrs.GT)
	}
	assert.True(t, found, "discover result for %s not found", p)

	manufacturer := path.Resource(1000, id, 101)
	for _, r := range resp.Results {
		if r.Path == manufacturer {
			assert.False(t, r.HasAttrs)
		}
	}
}

func TestHandleReadLeafCountLimitEnforced(t *testing.T) {
	h, id := newHeaterHandler(t)

	b := optree.NewBuilder(optree.OpRead)
	require.NoError(t, b.Add(path.Resource(1000, id, 101)))
	require.NoError(t, b.Add(path.Resource(1000, id, 104)))
	op, err := b.Build()
	require.NoError(t, err)

	_, err = h.Handle(op)
	require.Error(t, err)
}
