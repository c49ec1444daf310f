// Package objectstore implements the Object Store (component C4): the
// live, four-level Object/Instance/Resource/ResourceInstance tree held by
// a client, and the analogous per-client registry a server keeps.
package objectstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/objectdef"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	"github.com/connectivityfoundry/lwm2m-runtime/value"
)

// WriteMode distinguishes a Replace write (the target's prior content is
// discarded first) from an Update write (existing content not named by
// the new value survives), matching §4.4's Array semantics.
type WriteMode int

const (
	Replace WriteMode = iota
	Update
)

// resourceState holds one resource's live value(s) within an instance.
type resourceState struct {
	def      objectdef.ResourceDefinition
	scalar   value.Value
	isScalar bool
	multi    map[path.ID]value.Value
}

// instanceState holds one object instance's live resources.
type instanceState struct {
	id        path.ID
	resources map[path.ID]*resourceState
}

// objectState holds every live instance of one object.
type objectState struct {
	def       objectdef.ObjectDefinition
	instances map[path.ID]*instanceState
}

// Store is the live object tree for a single client. All reads and writes
// go through a single RWMutex; spec.md §4.4 requires non-transactional
// leaf-by-leaf application but never concurrent corruption.
type Store struct {
	mu       sync.RWMutex
	registry *objectdef.Registry
	objects  map[path.ID]*objectState
}

// New creates an empty Store backed by registry for schema lookups.
func New(registry *objectdef.Registry) *Store {
	return &Store{registry: registry, objects: make(map[path.ID]*objectState)}
}

func newResourceState(def objectdef.ResourceDefinition) *resourceState {
	rs := &resourceState{def: def}
	if def.Multiple() {
		rs.multi = make(map[path.ID]value.Value)
	} else {
		rs.isScalar = true
		if def.HasDefault {
			rs.scalar = def.Default
		}
	}
	return rs
}

// CreateInstance creates a new Object Instance of objectID. If instanceID
// is path.InvalidID the store assigns the lowest unused ID. Resources not
// present in initial are populated from their registered defaults, or left
// absent if optional and defaultless. Returns the assigned instance ID.
func (s *Store) CreateInstance(objectID, instanceID path.ID, initial map[path.ID]value.Value) (path.ID, error) {
	const op = "objectstore.CreateInstance"
	s.mu.Lock()
	defer s.mu.Unlock()

	def, err := s.registry.LookupObject(objectID)
	if err != nil {
		return path.InvalidID, err
	}

	obj, ok := s.objects[objectID]
	if !ok {
		obj = &objectState{def: def, instances: make(map[path.ID]*instanceState)}
		s.objects[objectID] = obj
	}

	if uint16(len(obj.instances)) >= def.MaxInstances {
		return path.InvalidID, lwm2merr.New(op, lwm2merr.CannotCreate, fmt.Errorf("object %d: max_instances %d already reached", objectID, def.MaxInstances))
	}

	if instanceID == path.InvalidID {
		instanceID = obj.nextFreeInstanceID()
	} else if _, exists := obj.instances[instanceID]; exists {
		return path.InvalidID, lwm2merr.New(op, lwm2merr.CannotCreate, fmt.Errorf("instance %d/%d already exists", objectID, instanceID))
	}

	inst := &instanceState{id: instanceID, resources: make(map[path.ID]*resourceState)}
	for _, resID := range sortedResourceIDs(def) {
		resDef := def.Resources[resID]
		inst.resources[resID] = newResourceState(resDef)
	}

	for resID, v := range initial {
		resDef, ok := def.Resource(resID)
		if !ok {
			return path.InvalidID, lwm2merr.New(op, lwm2merr.NotDefined, fmt.Errorf("resource %d not defined on object %d", resID, objectID))
		}
		if err := assignResource(inst.resources[resID], resDef, v, Replace); err != nil {
			return path.InvalidID, err
		}
	}

	for resID, resDef := range def.Resources {
		if !resDef.Mandatory() {
			continue
		}
		rs := inst.resources[resID]
		if rs.isScalar {
			if !resDef.HasDefault {
				if _, supplied := initial[resID]; !supplied {
					return path.InvalidID, lwm2merr.New(op, lwm2merr.DefinitionInvalid, fmt.Errorf("mandatory resource %d has no value and no default", resID))
				}
			}
			continue
		}
		if uint16(len(rs.multi)) < resDef.MinInstances {
			return path.InvalidID, lwm2merr.New(op, lwm2merr.DefinitionInvalid, fmt.Errorf("mandatory resource %d requires at least %d instances, got %d", resID, resDef.MinInstances, len(rs.multi)))
		}
	}

	obj.instances[instanceID] = inst
	return instanceID, nil
}

func (o *objectState) nextFreeInstanceID() path.ID {
	var id path.ID
	for {
		if _, exists := o.instances[id]; !exists {
			return id
		}
		id++
	}
}

// DeleteInstance removes an Object Instance. Deleting the last instance of
// a Mandatory object is rejected with CannotDelete (§4.4).
func (s *Store) DeleteInstance(p path.Path) error {
	const op = "objectstore.DeleteInstance"
	if !p.IsValidFor(path.DepthObjectInstance) {
		return lwm2merr.New(op, lwm2merr.OperationInvalid, fmt.Errorf("path %s does not address an instance", p))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[p.ObjectID()]
	if !ok {
		return lwm2merr.New(op, lwm2merr.PathNotFound, fmt.Errorf("object %d has no instances", p.ObjectID()))
	}
	if _, ok := obj.instances[p.InstanceID()]; !ok {
		return lwm2merr.New(op, lwm2merr.PathNotFound, fmt.Errorf("instance %s not found", p))
	}
	if uint16(len(obj.instances)-1) < obj.def.MinInstances {
		return lwm2merr.New(op, lwm2merr.CannotDelete, fmt.Errorf("object %d: deleting instance %s would drop below min_instances %d", p.ObjectID(), p, obj.def.MinInstances))
	}
	delete(obj.instances, p.InstanceID())
	return nil
}

// Get reads the value at p, which must address a Resource or
// ResourceInstance. Reading an unset optional resource returns PathNotFound.
func (s *Store) Get(p path.Path) (value.Value, error) {
	const op = "objectstore.Get"
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, err := s.lookupResource(op, p)
	if err != nil {
		return value.Value{}, err
	}

	switch p.Depth() {
	case path.DepthResource:
		if rs.isScalar {
			return rs.scalar, nil
		}
		arr, err := value.Array(rs.multi)
		if err != nil {
			return value.Value{}, lwm2merr.New(op, lwm2merr.Internal, err)
		}
		return arr, nil
	case path.DepthResourceInstance:
		if rs.isScalar {
			return value.Value{}, lwm2merr.New(op, lwm2merr.PathInvalid, fmt.Errorf("resource %s is not multi-instance", p))
		}
		v, ok := rs.multi[p.ResourceInstanceID()]
		if !ok {
			return value.Value{}, lwm2merr.New(op, lwm2merr.PathNotFound, fmt.Errorf("resource instance %s not set", p))
		}
		return v, nil
	default:
		return value.Value{}, lwm2merr.New(op, lwm2merr.OperationInvalid, fmt.Errorf("path %s is not resource-depth", p))
	}
}

// Set writes v at p (Resource or ResourceInstance depth). mode governs
// Array writes: Replace discards prior instances first, Update merges.
func (s *Store) Set(p path.Path, v value.Value, mode WriteMode) error {
	const op = "objectstore.Set"
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.lookupResource(op, p)
	if err != nil {
		return err
	}
	if !rs.def.Operations.Has(objectdef.OpWrite) {
		return lwm2merr.New(op, lwm2merr.CannotCreate, fmt.Errorf("resource %s is not writable", p))
	}

	switch p.Depth() {
	case path.DepthResource:
		return assignResource(rs, rs.def, v, mode)
	case path.DepthResourceInstance:
		if rs.isScalar {
			return lwm2merr.New(op, lwm2merr.PathInvalid, fmt.Errorf("resource %s is not multi-instance", p))
		}
		if v.Kind() != rs.def.Kind {
			return lwm2merr.New(op, lwm2merr.TypeMismatch, fmt.Errorf("resource instance %s wants %s, got %s", p, rs.def.Kind, v.Kind()))
		}
		if _, exists := rs.multi[p.ResourceInstanceID()]; !exists && uint16(len(rs.multi)) >= rs.def.MaxInstances {
			return lwm2merr.New(op, lwm2merr.CannotCreate, fmt.Errorf("resource %s: max_instances %d already reached", p, rs.def.MaxInstances))
		}
		rs.multi[p.ResourceInstanceID()] = v
		return nil
	default:
		return lwm2merr.New(op, lwm2merr.OperationInvalid, fmt.Errorf("path %s is not resource-depth", p))
	}
}

// DeleteResourceInstance removes one element of a multi-instance resource,
// or — when p addresses a whole mandatory resource — resets it to its
// registered default rather than leaving it empty (§9 Open Question:
// Delete of a mandatory resource resets to default).
func (s *Store) DeleteResourceInstance(p path.Path) error {
	const op = "objectstore.DeleteResourceInstance"
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, err := s.lookupResource(op, p)
	if err != nil {
		return err
	}

	switch p.Depth() {
	case path.DepthResourceInstance:
		if rs.isScalar {
			return lwm2merr.New(op, lwm2merr.PathInvalid, fmt.Errorf("resource %s is not multi-instance", p))
		}
		if _, ok := rs.multi[p.ResourceInstanceID()]; !ok {
			return lwm2merr.New(op, lwm2merr.PathNotFound, fmt.Errorf("resource instance %s not set", p))
		}
		if rs.def.Mandatory() && uint16(len(rs.multi)-1) < rs.def.MinInstances {
			return lwm2merr.New(op, lwm2merr.CannotDelete, fmt.Errorf("resource %s: deleting instance would drop below min_instances %d", p, rs.def.MinInstances))
		}
		delete(rs.multi, p.ResourceInstanceID())
		return nil
	case path.DepthResource:
		if rs.def.Mandatory() {
			if rs.isScalar {
				if rs.def.HasDefault {
					rs.scalar = rs.def.Default
				} else {
					rs.scalar = value.Value{}
				}
			} else {
				rs.multi = make(map[path.ID]value.Value)
			}
			return nil
		}
		return lwm2merr.New(op, lwm2merr.CannotDelete, fmt.Errorf("resource %s cannot be deleted: not multi-instance", p))
	default:
		return lwm2merr.New(op, lwm2merr.OperationInvalid, fmt.Errorf("path %s is not resource-depth", p))
	}
}

// InstanceExists reports whether p (Object Instance depth) is live.
func (s *Store) InstanceExists(p path.Path) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[p.ObjectID()]
	if !ok {
		return false
	}
	_, ok = obj.instances[p.InstanceID()]
	return ok
}

// InstanceIDs returns the live instance IDs of objectID in ascending
// numeric order.
func (s *Store) InstanceIDs(objectID path.ID) []path.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[objectID]
	if !ok {
		return nil
	}
	ids := make([]path.ID, 0, len(obj.instances))
	for id := range obj.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ResourceIDs returns the resource IDs present on p (Object Instance
// depth) in ascending numeric order.
func (s *Store) ResourceIDs(p path.Path) ([]path.ID, error) {
	const op = "objectstore.ResourceIDs"
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[p.ObjectID()]
	if !ok {
		return nil, lwm2merr.New(op, lwm2merr.PathNotFound, fmt.Errorf("object %d has no instances", p.ObjectID()))
	}
	inst, ok := obj.instances[p.InstanceID()]
	if !ok {
		return nil, lwm2merr.New(op, lwm2merr.PathNotFound, fmt.Errorf("instance %s not found", p))
	}
	ids := make([]path.ID, 0, len(inst.resources))
	for id := range inst.resources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) lookupResource(op string, p path.Path) (*resourceState, error) {
	if p.Depth() != path.DepthResource && p.Depth() != path.DepthResourceInstance {
		return nil, lwm2merr.New(op, lwm2merr.OperationInvalid, fmt.Errorf("path %s is not resource-depth", p))
	}
	obj, ok := s.objects[p.ObjectID()]
	if !ok {
		return nil, lwm2merr.New(op, lwm2merr.PathNotFound, fmt.Errorf("object %d has no instances", p.ObjectID()))
	}
	inst, ok := obj.instances[p.InstanceID()]
	if !ok {
		return nil, lwm2merr.New(op, lwm2merr.PathNotFound, fmt.Errorf("instance %d/%d not found", p.ObjectID(), p.InstanceID()))
	}
	rs, ok := inst.resources[p.ResourceID()]
	if !ok {
		return nil, lwm2merr.New(op, lwm2merr.PathNotFound, fmt.Errorf("resource %s not found", p))
	}
	return rs, nil
}

func assignResource(rs *resourceState, def objectdef.ResourceDefinition, v value.Value, mode WriteMode) error {
	const op = "objectstore.assignResource"
	if def.Multiple() {
		arr, err := v.AsArray()
		if err != nil {
			return err
		}
		for _, elem := range arr {
			if elem.Kind() != def.Kind {
				return lwm2merr.New(op, lwm2merr.TypeMismatch, fmt.Errorf("element wants %s, got %s", def.Kind, elem.Kind()))
			}
		}
		merged := make(map[path.ID]value.Value, len(rs.multi)+len(arr))
		if mode == Update {
			for id, elem := range rs.multi {
				merged[id] = elem
			}
		}
		for id, elem := range arr {
			merged[id] = elem
		}
		if uint16(len(merged)) > def.MaxInstances {
			return lwm2merr.New(op, lwm2merr.CannotCreate, fmt.Errorf("resource %d: max_instances %d exceeded by write of %d elements", def.ID, def.MaxInstances, len(merged)))
		}
		rs.multi = merged
		return nil
	}
	if v.Kind() != def.Kind {
		return lwm2merr.New(op, lwm2merr.TypeMismatch, fmt.Errorf("resource wants %s, got %s", def.Kind, v.Kind()))
	}
	rs.scalar = v
	return nil
}

func sortedResourceIDs(def objectdef.ObjectDefinition) []path.ID {
	ids := make([]path.ID, 0, len(def.Resources))
	for id := range def.Resources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
