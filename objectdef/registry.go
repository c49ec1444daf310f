package objectdef

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/connectivityfoundry/lwm2m-runtime/lwm2merr"
	"github.com/connectivityfoundry/lwm2m-runtime/path"
	bolt "go.etcd.io/bbolt"
)

var definitionsBucket = []byte("object_definitions")

// Registry is the Definition Registry: a map of ObjectID to
// ObjectDefinition guarded by a RWMutex, following the same shape as the
// application's service registry. When opened with a database path it
// persists every Define to bbolt so a restarted daemon recovers its
// catalogue without the application re-declaring every object.
type Registry struct {
	mu      sync.RWMutex
	objects map[path.ID]ObjectDefinition
	db      *bolt.DB
}

// New creates an in-memory Registry with no persistence.
func New() *Registry {
	return &Registry{objects: make(map[path.ID]ObjectDefinition)}
}

// Open creates a Registry backed by a bbolt database at dbPath, loading any
// previously persisted definitions.
func Open(dbPath string) (*Registry, error) {
	const op = "objectdef.Open"
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, lwm2merr.New(op, lwm2merr.Internal, fmt.Errorf("open bbolt db: %w", err))
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(definitionsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, lwm2merr.New(op, lwm2merr.Internal, fmt.Errorf("create bucket: %w", err))
	}

	r := &Registry{objects: make(map[path.ID]ObjectDefinition), db: db}
	if err := r.loadAll(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the underlying database, if any.
func (r *Registry) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Registry) loadAll() error {
	const op = "objectdef.loadAll"
	return r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(definitionsBucket)
		return b.ForEach(func(k, v []byte) error {
			var def ObjectDefinition
			if err := json.Unmarshal(v, &def); err != nil {
				return lwm2merr.New(op, lwm2merr.Internal, fmt.Errorf("decode persisted definition %s: %w", k, err))
			}
			r.objects[def.ID] = def
			return nil
		})
	})
}

func (r *Registry) persist(def ObjectDefinition) error {
	const op = "objectdef.persist"
	if r.db == nil {
		return nil
	}
	encoded, err := json.Marshal(def)
	if err != nil {
		return lwm2merr.New(op, lwm2merr.Internal, fmt.Errorf("encode definition: %w", err))
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(definitionsBucket)
		return b.Put([]byte(fmt.Sprintf("%d", def.ID)), encoded)
	})
}

// Define registers def. A second Define of the same ObjectID succeeds
// silently if def is identical to the existing definition (§4.3), and
// fails with AlreadyDefined otherwise.
func (r *Registry) Define(def ObjectDefinition) error {
	const op = "objectdef.Define"
	if err := validateCardinality(op, def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.objects[def.ID]; ok {
		if equalDefinition(existing, def) {
			return nil
		}
		return lwm2merr.New(op, lwm2merr.AlreadyDefined, fmt.Errorf("object %d already defined with different schema", def.ID))
	}

	r.objects[def.ID] = def
	if err := r.persist(def); err != nil {
		delete(r.objects, def.ID)
		return err
	}
	return nil
}

// LookupObject returns the definition for objectID, or NotDefined.
func (r *Registry) LookupObject(objectID path.ID) (ObjectDefinition, error) {
	const op = "objectdef.LookupObject"
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.objects[objectID]
	if !ok {
		return ObjectDefinition{}, lwm2merr.New(op, lwm2merr.NotDefined, fmt.Errorf("object %d not defined", objectID))
	}
	return def, nil
}

// LookupResource returns the resource definition at objectID/resourceID.
func (r *Registry) LookupResource(objectID, resourceID path.ID) (ResourceDefinition, error) {
	const op = "objectdef.LookupResource"
	obj, err := r.LookupObject(objectID)
	if err != nil {
		return ResourceDefinition{}, err
	}
	res, ok := obj.Resource(resourceID)
	if !ok {
		return ResourceDefinition{}, lwm2merr.New(op, lwm2merr.NotDefined, fmt.Errorf("resource %d not defined on object %d", resourceID, objectID))
	}
	return res, nil
}

// IterObjects returns every defined ObjectID in ascending numeric order.
func (r *Registry) IterObjects() []path.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]path.ID, 0, len(r.objects))
	for id := range r.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IterResources returns every ResourceID defined on objectID in ascending
// numeric order, or NotDefined if the object itself is undefined.
func (r *Registry) IterResources(objectID path.ID) ([]path.ID, error) {
	obj, err := r.LookupObject(objectID)
	if err != nil {
		return nil, err
	}
	ids := make([]path.ID, 0, len(obj.Resources))
	for id := range obj.Resources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
