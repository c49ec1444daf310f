package objectstore

import (
	"testing"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/objectdef"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHeaterStore(t *testing.T) (*Store, *objectdef.Registry) {
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
			105: {ID: 105, Name: "History", Kind: value.KindInteger, MinInstances: 0, MaxInstances: 16, Operations: objectdef.OpRead | objectdef.OpWrite},
		},
	}))
	return New(reg), reg
}

func TestCreateInstanceDefaults(t *testing.T) {
	store, _ := newHeaterStore(t)
	id, err := store.CreateInstance(1000, path.InvalidID, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, id)

	v, err := store.Get(path.Resource(1000, 0, 101))
	require.NoError(t, err)
	s, err := v.AsString()
	require.NoError(t, err)
	assert.Equal(t, "Acme", s)

	temp, err := store.Get(path.Resource(1000, 0, 104))
	require.NoError(t, err)
	f, err := temp.AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 0.0, f)
}

func TestWriteReadInteger(t *testing.T) {
	store, _ := newHeaterStore(t)
	id, err := store.CreateInstance(1000, path.InvalidID, nil)
	require.NoError(t, err)

	p := path.Resource(1000, id, 104)
	require.NoError(t, store.Set(p, value.Float(21.5), Replace))

	v, err := store.Get(p)
	require.NoError(t, err)
	f, err := v.AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 21.5, f)
}

func TestArrayReplaceVsUpdate(t *testing.T) {
	store, _ := newHeaterStore(t)
	id, err := store.CreateInstance(1000, path.InvalidID, nil)
	require.NoError(t, err)

	p := path.Resource(1000, id, 105)
	initial, err := value.Array(map[path.ID]value.Value{0: value.Integer(1), 1: value.Integer(2)})
	require.NoError(t, err)
	require.NoError(t, store.Set(p, initial, Replace))

	update, err := value.Array(map[path.ID]value.Value{1: value.Integer(20), 2: value.Integer(3)})
	require.NoError(t, err)
	require.NoError(t, store.Set(p, update, Update))

	got, err := store.Get(p)
	require.NoError(t, err)
	arr, err := got.AsArray()
	require.NoError(t, err)
	assert.Len(t, arr, 3) // 0 survives from the Replace, 1 overwritten, 2 added

	v0, _ := arr[0].AsInteger()
	assert.EqualValues(t, 1, v0)
	v1, _ := arr[1].AsInteger()
	assert.EqualValues(t, 20, v1)
	v2, _ := arr[2].AsInteger()
	assert.EqualValues(t, 3, v2)

	replaceAgain, err := value.Array(map[path.ID]value.Value{5: value.Integer(99)})
	require.NoError(t, err)
	require.NoError(t, store.Set(p, replaceAgain, Replace))
	got2, err := store.Get(p)
	require.NoError(t, err)
	arr2, err := got2.AsArray()
	require.NoError(t, err)
	assert.Len(t, arr2, 1)
}

func TestDeleteInstanceMandatoryLastFails(t *testing.T) {
	reg := objectdef.New()
	require.NoError(t, reg.Define(objectdef.ObjectDefinition{ID: 3, Name: "Device", MinInstances: 1, MaxInstances: 1, Resources: map[path.ID]objectdef.ResourceDefinition{
		0: {ID: 0, Name: "Name", Kind: value.KindString, MaxInstances: 1, HasDefault: true, Default: value.String("d"), Operations: objectdef.OpRead},
	}}))
	store := New(reg)
	id, err := store.CreateInstance(3, path.InvalidID, nil)
	require.NoError(t, err)

	err = store.DeleteInstance(path.ObjectInstance(3, id))
	require.Error(t, err)
	assert.Equal(t, lwm2merr.CannotDelete, lwm2merr.KindOf(err))
}

func TestDeleteMandatoryResourceResetsToDefault(t *testing.T) {
	store, _ := newHeaterStore(t)
	id, err := store.CreateInstance(1000, path.InvalidID, nil)
	require.NoError(t, err)

	p := path.Resource(1000, id, 104)
	require.NoError(t, store.Set(p, value.Float(99.0), Replace))
	require.NoError(t, store.DeleteResourceInstance(p))

	v, err := store.Get(p)
	require.NoError(t, err)
	f, err := v.AsFloat()
	require.NoError(t, err)
	assert.Equal(t, 0.0, f, "mandatory resource delete resets to registered default")
}

func TestGetUnknownPathNotFound(t *testing.T) {
	store, _ := newHeaterStore(t)
	_, err := store.Get(path.Resource(1000, 0, 104))
	require.Error(t, err)
	assert.Equal(t, lwm2merr.PathNotFound, lwm2merr.KindOf(err))
}

func TestCreateSingleInstanceObjectRejectsSecond(t *testing.T) {
	reg := objectdef.New()
	require.NoError(t, reg.Define(objectdef.ObjectDefinition{ID: 300, Name: "Single", MaxInstances: 1, Resources: map[path.ID]objectdef.ResourceDefinition{
		2: {ID: 2, Name: "Reading", Kind: value.KindInteger, MaxInstances: 1, HasDefault: true, Default: value.Integer(0), Operations: objectdef.OpRead},
	}}))
	store := New(reg)
	_, err := store.CreateInstance(300, path.InvalidID, nil)
	require.NoError(t, err)
	_, err = store.CreateInstance(300, path.InvalidID, nil)
	require.Error(t, err)
	assert.Equal(t, lwm2merr.CannotCreate, lwm2merr.KindOf(err))
}

func TestCreateInstanceRejectsBeyondMaxInstances(t *testing.T) {
	reg := objectdef.New()
	require.NoError(t, reg.Define(objectdef.ObjectDefinition{ID: 400, Name: "Capped", MaxInstances: 2, Resources: map[path.ID]objectdef.ResourceDefinition{
		0: {ID: 0, Name: "Reading", Kind: value.KindInteger, MaxInstances: 1, HasDefault: true, Default: value.Integer(0), Operations: objectdef.OpRead},
	}}))
	store := New(reg)
	_, err := store.CreateInstance(400, path.InvalidID, nil)
	require.NoError(t, err)
	_, err = store.CreateInstance(400, path.InvalidID, nil)
	require.NoError(t, err)
	_, err = store.CreateInstance(400, path.InvalidID, nil)
	require.Error(t, err)
	assert.Equal(t, lwm2merr.CannotCreate, lwm2merr.KindOf(err))
}

func TestCreateInstanceRejectsMandatoryArrayBelowMinInstances(t *testing.T) {
	reg := objectdef.New()
	require.NoError(t, reg.Define(objectdef.ObjectDefinition{ID: 401, Name: "NeedsReadings", MaxInstances: 1, Resources: map[path.ID]objectdef.ResourceDefinition{
		0: {ID: 0, Name: "Readings", Kind: value.KindInteger, MinInstances: 2, MaxInstances: 4, Operations: objectdef.OpRead | objectdef.OpWrite},
	}}))
	store := New(reg)

	_, err := store.CreateInstance(401, path.InvalidID, nil)
	require.Error(t, err)
	assert.Equal(t, lwm2merr.DefinitionInvalid, lwm2merr.KindOf(err))

	arr, err := value.Array(map[path.ID]value.Value{0: value.Integer(1), 1: value.Integer(2)})
	require.NoError(t, err)
	_, err = store.CreateInstance(401, path.InvalidID, map[path.ID]value.Value{0: arr})
	require.NoError(t, err)
}

func TestArrayWriteRejectsBeyondMaxInstances(t *testing.T) {
	store, _ := newHeaterStore(t)
	id, err := store.CreateInstance(1000, path.InvalidID, nil)
	require.NoError(t, err)

	p := path.Resource(1000, id, 105)
	elems := make(map[path.ID]value.Value, 17)
	for i := path.ID(0); i < 17; i++ {
		elems[i] = value.Integer(int64(i))
	}
	tooMany, err := value.Array(elems)
	require.NoError(t, err)

	err = store.Set(p, tooMany, Replace)
	require.Error(t, err)
	assert.Equal(t, lwm2merr.CannotCreate, lwm2merr.KindOf(err))
}

func TestDefineRejectsInvalidCardinality(t *testing.T) {
	reg := objectdef.New()
	err := reg.Define(objectdef.ObjectDefinition{ID: 500, Name: "Bad", MinInstances: 3, MaxInstances: 1})
	require.Error(t, err)
	assert.Equal(t, lwm2merr.DefinitionInvalid, lwm2merr.KindOf(err))

	err = reg.Define(objectdef.ObjectDefinition{ID: 501, Name: "NoMax", MaxInstances: 0})
	require.Error(t, err)
	assert.Equal(t, lwm2merr.DefinitionInvalid, lwm2merr.KindOf(err))
}
