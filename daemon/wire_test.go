package daemon

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/objectdef"
	"github.com/connectivityfoundry/lwm2m-runtime/optree"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireOperationReadRoundTrip(t *testing.T) {
	w := WireOperation{Kind: "read", Targets: []WireTarget{{Path: "/1000/0/104"}}}
	op, err := w.ToOperation()
	require.NoError(t, err)
	assert.Equal(t, optree.OpRead, op.Kind)
	assert.Equal(t, "/1000/0/104", op.Targets[0].Path.String())
}

func TestWireOperationWriteCarriesValue(t *testing.T) {
	v := value.Float(21.5)
	w := WireOperation{Kind: "write", Targets: []WireTarget{{Path: "/1000/0/104", Value: &v, HasValue: true}}}
	op, err := w.ToOperation()
	require.NoError(t, err)
	got, err := op.Targets[0].Value.AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 21.5, got)
}

func TestWireOperationWriteAttributesCarriesAttrs(t *testing.T) {
	pmin := 10
	gt := 30.0
	w := WireOperation{Kind: "write_attributes", Targets: []WireTarget{{Path: "/1000/0/104", Attrs: &optree.Attributes{PMin: &pmin, GT: &gt}}}}
	op, err := w.ToOperation()
	require.NoError(t, err)
	require.True(t, op.Targets[0].HasAttrs)
	assert.Equal(t, 10, *op.Targets[0].Attrs.PMin)
	assert.Equal(t, 30.0, *op.Targets[0].Attrs.GT)
}

func TestWireOperationDefineCarriesObjectDefinition(t *testing.T) {
	def := objectdef.ObjectDefinition{ID: 1000, Name: "Heater", MaxInstances: 8}
	w := WireOperation{Kind: "define", Targets: []WireTarget{{Def: &def}}}
	op, err := w.ToOperation()
	require.NoError(t, err)
	assert.Equal(t, optree.OpDefine, op.Kind)
	require.NotNil(t, op.Targets[0].Def)
	assert.Equal(t, "Heater", op.Targets[0].Def.Name)
}

func TestWireOperationDefineJSONRoundTrip(t *testing.T) {
	def := objectdef.ObjectDefinition{ID: 1000, Name: "Heater", MaxInstances: 8, Resources: map[path.ID]objectdef.ResourceDefinition{
		104: {ID: 104, Name: "Temperature", Kind: value.KindFloat, MaxInstances: 1, Operations: objectdef.OpRead},
	}}
	w := WireOperation{Kind: "define", Targets: []WireTarget{{Def: &def}}}

	data, err := json.Marshal(w)
	require.NoError(t, err)

	var decoded WireOperation
	require.NoError(t, json.Unmarshal(data, &decoded))
	op, err := decoded.ToOperation()
	require.NoError(t, err)
	require.NotNil(t, op.Targets[0].Def)
	assert.Equal(t, "Heater", op.Targets[0].Def.Name)
	assert.Len(t, op.Targets[0].Def.Resources, 1)
}

func TestWireOperationDefineWithoutDefIsInvalid(t *testing.T) {
	w := WireOperation{Kind: "define", Targets: []WireTarget{{Path: "/1000"}}}
	_, err := w.ToOperation()
	require.Error(t, err)
	assert.Equal(t, lwm2merr.OperationInvalid, lwm2merr.KindOf(err))
}

func TestEncodeResponseCarriesDiscoverAttributes(t *testing.T) {
	p, err := path.Parse("/1000/0/104")
	require.NoError(t, err)
	pmin := 5

	resp := &Response{
		Kind: optree.OpDiscover,
		Results: []PathResult{
			{Path: p, Attrs: optree.Attributes{PMin: &pmin}, HasAttrs: true},
		},
	}
	wr := EncodeResponse(resp)
	require.NotNil(t, wr.Results[0].Attrs)
	assert.Equal(t, 5, *wr.Results[0].Attrs.PMin)
}

func TestWireOperationUnknownKindIsInvalid(t *testing.T) {
	w := WireOperation{Kind: "bogus", Targets: []WireTarget{{Path: "/1000/0/104"}}}
	_, err := w.ToOperation()
	require.Error(t, err)
}

func TestWireOperationJSONRoundTrip(t *testing.T) {
	v := value.String("Acme")
	w := WireOperation{Kind: "write", Targets: []WireTarget{{Path: "/1000/0/101", Value: &v, HasValue: true}}}

	data, err := json.Marshal(w)
	require.NoError(t, err)

	var decoded WireOperation
	require.NoError(t, json.Unmarshal(data, &decoded))
	op, err := decoded.ToOperation()
	require.NoError(t, err)
	s, err := op.Targets[0].Value.AsString()
	require.NoError(t, err)
	assert.Equal(t, "Acme", s)
}

func TestEncodeResponseCarriesCreatedInstance(t *testing.T) {
	p, err := path.Parse("/1000/3")
	require.NoError(t, err)

	resp := &Response{
		Kind:            optree.OpCreate,
		CreatedInstance: 3,
		Results:         []PathResult{{Path: p}},
	}
	wr := EncodeResponse(resp)
	require.NotNil(t, wr.CreatedInstance)
	assert.Equal(t, uint16(3), *wr.CreatedInstance)
	assert.Equal(t, "create", wr.Kind)
	assert.Equal(t, "/1000/3", wr.Results[0].Path)
}

func TestEncodeResponseRendersError(t *testing.T) {
	p, err := path.Parse("/1000/0/999")
	require.NoError(t, err)

	resp := &Response{
		Kind: optree.OpRead,
		Results: []PathResult{
			{Path: p, Err: lwm2merr.New("daemon.handleRead", lwm2merr.PathNotFound, errors.New("no such resource"))},
		},
	}
	wr := EncodeResponse(resp)
	assert.NotEmpty(t, wr.Results[0].Err)
}
