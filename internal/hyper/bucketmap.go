package hyper

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// keyIndex maps each key of one bucket to its objects, kept sorted by Name.
type keyIndex map[Key][]Object

// Snapshot is a detached deep copy of a BucketMap's contents.
type Snapshot map[Bucket]map[Key][]Object

// BucketMap is the in-memory index Bucket -> Key -> []Object for one watched
// root. Reads take a shared lock; every mutation holds the exclusive lock for
// its whole duration, so a Change is never partially visible.
//
// Every bucket always holds an entry for its RootKey.
type BucketMap struct {
	mu      sync.RWMutex
	root    string
	buckets map[Bucket]keyIndex
}

// NewBucketMap creates an empty index for root.
func NewBucketMap(root string) *BucketMap {
	return &BucketMap{
		root:    root,
		buckets: make(map[Bucket]keyIndex),
	}
}

// Root returns the canonical watched root path.
func (m *BucketMap) Root() string { return m.root }

// NewBucket inserts b if absent. It returns false if b already existed.
func (m *BucketMap) NewBucket(b Bucket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newBucket(b)
}

// NewKey inserts k under b, creating b if needed. It returns false if the key
// already existed.
func (m *BucketMap) NewKey(b Bucket, k Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newKey(b, k)
}

// NewObject inserts obj under (b, k), creating both if needed. If an object
// with the same Name exists it is returned unchanged together with false.
func (m *BucketMap) NewObject(b Bucket, k Key, obj Object) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newObject(b, k, obj)
}

// SetNameBucket moves everything under from to to.
func (m *BucketMap) SetNameBucket(from, to Bucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setNameBucket(from, to)
}

// SetKey moves key from, and every key nested below it, to to within b.
func (m *BucketMap) SetKey(b Bucket, from, to Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setKey(b, from, to)
}

// SetNameObject renames the object from to to within (b, k). If fileName is
// not empty the physical name is updated as well.
func (m *BucketMap) SetNameObject(b Bucket, k Key, from, to, fileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setNameObject(b, k, from, to, fileName)
}

// RemoveObject deletes the object name from (b, k) and returns it.
func (m *BucketMap) RemoveObject(b Bucket, k Key, name string) (Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeObject(b, k, name)
}

// RemoveKey deletes k and every key nested below it, returning what was removed.
func (m *BucketMap) RemoveKey(b Bucket, k Key) (map[Key][]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeKey(b, k)
}

// RemoveBucket deletes b with all of its keys and objects, returning them.
func (m *BucketMap) RemoveBucket(b Bucket) (map[Key][]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeBucket(b)
}

// Change applies one Change atomically with respect to readers.
func (m *BucketMap) Change(c Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch c.Kind {
	case ChangeNewBucket:
		m.newBucket(c.Bucket)
		return nil
	case ChangeNewKey:
		m.newKey(c.Bucket, c.Key)
		return nil
	case ChangeNewObject:
		if _, created := m.newObject(c.Bucket, c.Key, c.Object); !created {
			return fmt.Errorf("new object %q in %s %q: %w", c.Object.Name, c.Bucket, c.Key, ErrDuplicateName)
		}
		return nil
	case ChangeNameBucket:
		return m.setNameBucket(c.Bucket, c.ToBucket)
	case ChangeNameKey:
		return m.setKey(c.Bucket, c.Key, c.ToKey)
	case ChangeNameObject:
		return m.setNameObject(c.Bucket, c.Key, c.Name, c.ToName, c.ToFileName)
	case ChangeDeleteBucket:
		_, err := m.removeBucket(c.Bucket)
		return err
	case ChangeDeleteKey:
		_, err := m.removeKey(c.Bucket, c.Key)
		return err
	case ChangeDeleteObject:
		_, err := m.removeObject(c.Bucket, c.Key, c.Name)
		return err
	default:
		return fmt.Errorf("unknown change kind %d", c.Kind)
	}
}

// Read side

// Buckets returns all buckets in order.
func (m *BucketMap) Buckets() []Bucket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Bucket, 0, len(m.buckets))
	for b := range m.buckets {
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}

// Keys returns the keys of b in order, or nil if b is unknown.
func (m *BucketMap) Keys(b Bucket) []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys, ok := m.buckets[b]
	if !ok {
		return nil
	}
	out := make([]Key, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Objects returns a copy of the objects under (b, k) ordered by Name.
func (m *BucketMap) Objects(b Bucket, k Key) []Object {
	m.mu.RLock()
	defer m.mu.RUnlock()
	objs := m.buckets[b][k]
	out := make([]Object, len(objs))
	for i, o := range objs {
		out[i] = o.clone()
	}
	return out
}

// Object looks up an object by logical name.
func (m *BucketMap) Object(b Bucket, k Key, name string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	objs := m.buckets[b][k]
	if i, ok := findByName(objs, name); ok {
		return objs[i].clone(), true
	}
	return Object{}, false
}

// ObjectByFileName looks up an object by physical file name.
func (m *BucketMap) ObjectByFileName(b Bucket, k Key, fileName string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.buckets[b][k] {
		if o.FileName == fileName {
			return o.clone(), true
		}
	}
	return Object{}, false
}

// HasBucket reports whether b is indexed.
func (m *BucketMap) HasBucket(b Bucket) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.buckets[b]
	return ok
}

// HasKey reports whether (b, k) is indexed.
func (m *BucketMap) HasKey(b Bucket, k Key) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.buckets[b][k]
	return ok
}

// Len returns the number of buckets, keys and objects.
func (m *BucketMap) Len() (buckets, keys, objects int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ki := range m.buckets {
		keys += len(ki)
		for _, objs := range ki {
			objects += len(objs)
		}
	}
	return len(m.buckets), keys, objects
}

// Snapshot returns a deep copy of the index.
func (m *BucketMap) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(Snapshot, len(m.buckets))
	for b, ki := range m.buckets {
		snap[b] = copyKeys(ki)
	}
	return snap
}

// Reset drops every entry.
func (m *BucketMap) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets = make(map[Bucket]keyIndex)
}

// Unlocked mutation helpers. Callers hold m.mu.

func (m *BucketMap) newBucket(b Bucket) bool {
	if _, ok := m.buckets[b]; ok {
		return false
	}
	m.buckets[b] = keyIndex{RootKey: nil}
	return true
}

func (m *BucketMap) newKey(b Bucket, k Key) bool {
	m.newBucket(b)
	keys := m.buckets[b]
	if _, ok := keys[k]; ok {
		return false
	}
	keys[k] = nil
	return true
}

func (m *BucketMap) newObject(b Bucket, k Key, obj Object) (Object, bool) {
	m.newKey(b, k)
	keys := m.buckets[b]
	objs := keys[k]
	i, found := findByName(objs, obj.Name)
	if found {
		return objs[i].clone(), false
	}
	obj = obj.clone()
	keys[k] = slices.Insert(objs, i, obj)
	return obj, true
}

func (m *BucketMap) setNameBucket(from, to Bucket) error {
	keys, ok := m.buckets[from]
	if !ok {
		return fmt.Errorf("rename bucket %s: %w", from, ErrNotFound)
	}
	if from == to {
		return nil
	}
	if _, exists := m.buckets[to]; exists {
		return fmt.Errorf("rename bucket %s to %s: %w", from, to, ErrDuplicateName)
	}
	delete(m.buckets, from)
	m.buckets[to] = keys
	return nil
}

func (m *BucketMap) setKey(b Bucket, from, to Key) error {
	if from.IsRoot() || to.IsRoot() {
		return fmt.Errorf("rename key %q to %q: %w", from, to, ErrInvalidPath)
	}
	keys, ok := m.buckets[b]
	if !ok {
		return fmt.Errorf("rename key in %s: bucket %w", b, ErrNotFound)
	}
	if _, ok := keys[from]; !ok {
		return fmt.Errorf("rename key %s %q: %w", b, from, ErrNotFound)
	}
	if from == to {
		return nil
	}
	if to.IsWithin(from) {
		return fmt.Errorf("rename key %q into itself %q: %w", from, to, ErrInvalidPath)
	}

	moved := make(map[Key]Key)
	for k := range keys {
		if nk, ok := k.Rebase(from, to); ok {
			if _, exists := keys[nk]; exists {
				return fmt.Errorf("rename key %s %q to %q: %w", b, k, nk, ErrDuplicateName)
			}
			moved[k] = nk
		}
	}
	for k, nk := range moved {
		objs := keys[k]
		delete(keys, k)
		keys[nk] = objs
	}
	return nil
}

func (m *BucketMap) setNameObject(b Bucket, k Key, from, to, fileName string) error {
	objs, ok := m.buckets[b][k]
	if !ok {
		return fmt.Errorf("rename object in %s %q: key %w", b, k, ErrNotFound)
	}
	i, found := findByName(objs, from)
	if !found {
		return fmt.Errorf("rename object %s %q %q: %w", b, k, from, ErrNotFound)
	}
	if to != from {
		if _, taken := findByName(objs, to); taken {
			return fmt.Errorf("rename object %s %q %q to %q: %w", b, k, from, to, ErrDuplicateName)
		}
	}

	obj := objs[i]
	obj.Name = to
	if fileName != "" {
		obj.FileName = fileName
	}
	objs = slices.Delete(objs, i, i+1)
	j, _ := findByName(objs, to)
	m.buckets[b][k] = slices.Insert(objs, j, obj)
	return nil
}

func (m *BucketMap) removeObject(b Bucket, k Key, name string) (Object, error) {
	objs, ok := m.buckets[b][k]
	if !ok {
		return Object{}, fmt.Errorf("remove object in %s %q: key %w", b, k, ErrNotFound)
	}
	i, found := findByName(objs, name)
	if !found {
		return Object{}, fmt.Errorf("remove object %s %q %q: %w", b, k, name, ErrNotFound)
	}
	obj := objs[i]
	m.buckets[b][k] = slices.Delete(objs, i, i+1)
	return obj, nil
}

func (m *BucketMap) removeKey(b Bucket, k Key) (map[Key][]Object, error) {
	if k.IsRoot() {
		return nil, fmt.Errorf("remove root key of %s: %w", b, ErrInvalidPath)
	}
	keys, ok := m.buckets[b]
	if !ok {
		return nil, fmt.Errorf("remove key in %s: bucket %w", b, ErrNotFound)
	}
	if _, ok := keys[k]; !ok {
		return nil, fmt.Errorf("remove key %s %q: %w", b, k, ErrNotFound)
	}
	removed := make(map[Key][]Object)
	for key, objs := range keys {
		if key.IsWithin(k) {
			removed[key] = objs
			delete(keys, key)
		}
	}
	return removed, nil
}

func (m *BucketMap) removeBucket(b Bucket) (map[Key][]Object, error) {
	keys, ok := m.buckets[b]
	if !ok {
		return nil, fmt.Errorf("remove bucket %s: %w", b, ErrNotFound)
	}
	delete(m.buckets, b)
	return keys, nil
}

// findByName binary-searches objs (sorted by Name) for name. When absent the
// index is the insertion point.
func findByName(objs []Object, name string) (int, bool) {
	return slices.BinarySearchFunc(objs, name, func(o Object, n string) int {
		return cmp.Compare(o.Name, n)
	})
}

func copyKeys(ki keyIndex) map[Key][]Object {
	out := make(map[Key][]Object, len(ki))
	for k, objs := range ki {
		cp := make([]Object, len(objs))
		for i, o := range objs {
			cp[i] = o.clone()
		}
		out[k] = cp
	}
	return out
}
