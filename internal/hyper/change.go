package hyper

import "fmt"

// ChangeKind selects which fields of a Change are meaningful.
type ChangeKind uint8

const (
	ChangeNewBucket ChangeKind = iota + 1
	ChangeNewKey
	ChangeNewObject
	ChangeNameBucket
	ChangeNameKey
	ChangeNameObject
	ChangeDeleteBucket
	ChangeDeleteKey
	ChangeDeleteObject
)

var changeKindNames = map[ChangeKind]string{
	ChangeNewBucket:    "new_bucket",
	ChangeNewKey:       "new_key",
	ChangeNewObject:    "new_object",
	ChangeNameBucket:   "name_bucket",
	ChangeNameKey:      "name_key",
	ChangeNameObject:   "name_object",
	ChangeDeleteBucket: "delete_bucket",
	ChangeDeleteKey:    "delete_key",
	ChangeDeleteObject: "delete_object",
}

func (k ChangeKind) String() string {
	if s, ok := changeKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("change(%d)", uint8(k))
}

// Change describes one structural mutation of the hierarchy. It is the only
// vocabulary shared by the watcher pipeline, the index and the store writer.
// This uses a tagged union pattern - Kind determines which fields are relevant:
//
//	NewBucket     Bucket
//	NewKey        Bucket, Key
//	NewObject     Bucket, Key, Object
//	NameBucket    Bucket -> ToBucket
//	NameKey       Bucket, Key -> ToKey
//	NameObject    Bucket, Key, Name -> ToName (ToFileName optional)
//	DeleteBucket  Bucket
//	DeleteKey     Bucket, Key
//	DeleteObject  Bucket, Key, Name
type Change struct {
	Kind   ChangeKind
	Bucket Bucket
	Key    Key
	Name   string
	Object Object

	ToBucket   Bucket
	ToKey      Key
	ToName     string
	ToFileName string
}

func NewBucketChange(b Bucket) Change {
	return Change{Kind: ChangeNewBucket, Bucket: b}
}

func NewKeyChange(b Bucket, k Key) Change {
	return Change{Kind: ChangeNewKey, Bucket: b, Key: k}
}

func NewObjectChange(b Bucket, k Key, obj Object) Change {
	return Change{Kind: ChangeNewObject, Bucket: b, Key: k, Name: obj.Name, Object: obj}
}

func NameBucketChange(from, to Bucket) Change {
	return Change{Kind: ChangeNameBucket, Bucket: from, ToBucket: to}
}

func NameKeyChange(b Bucket, from, to Key) Change {
	return Change{Kind: ChangeNameKey, Bucket: b, Key: from, ToKey: to}
}

// NameObjectChange renames an object. fileName is the new physical name, or
// empty if the physical name is unchanged.
func NameObjectChange(b Bucket, k Key, from, to, fileName string) Change {
	return Change{Kind: ChangeNameObject, Bucket: b, Key: k, Name: from, ToName: to, ToFileName: fileName}
}

func DeleteBucketChange(b Bucket) Change {
	return Change{Kind: ChangeDeleteBucket, Bucket: b}
}

func DeleteKeyChange(b Bucket, k Key) Change {
	return Change{Kind: ChangeDeleteKey, Bucket: b, Key: k}
}

func DeleteObjectChange(b Bucket, k Key, name string) Change {
	return Change{Kind: ChangeDeleteObject, Bucket: b, Key: k, Name: name}
}

// String renders the change for logs.
func (c Change) String() string {
	switch c.Kind {
	case ChangeNewBucket, ChangeDeleteBucket:
		return fmt.Sprintf("%s %s", c.Kind, c.Bucket)
	case ChangeNewKey, ChangeDeleteKey:
		return fmt.Sprintf("%s %s %q", c.Kind, c.Bucket, c.Key)
	case ChangeNewObject, ChangeDeleteObject:
		return fmt.Sprintf("%s %s %q %q", c.Kind, c.Bucket, c.Key, c.Name)
	case ChangeNameBucket:
		return fmt.Sprintf("%s %s -> %s", c.Kind, c.Bucket, c.ToBucket)
	case ChangeNameKey:
		return fmt.Sprintf("%s %s %q -> %q", c.Kind, c.Bucket, c.Key, c.ToKey)
	case ChangeNameObject:
		return fmt.Sprintf("%s %s %q %q -> %q", c.Kind, c.Bucket, c.Key, c.Name, c.ToName)
	default:
		return c.Kind.String()
	}
}
