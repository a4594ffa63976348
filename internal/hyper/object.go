package hyper

import "time"

// Timestamp is an optional point in time. A later timestamp supersedes an
// earlier one.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

// At returns a valid Timestamp for t.
func At(t time.Time) Timestamp {
	return Timestamp{Time: t, Valid: true}
}

// Changed reports whether next supersedes t.
func (t Timestamp) Changed(next Timestamp) bool {
	if !next.Valid {
		return false
	}
	return !t.Valid || next.Time.After(t.Time)
}

// Update replaces t with next when next supersedes it.
func (t *Timestamp) Update(next Timestamp) bool {
	if !t.Changed(next) {
		return false
	}
	*t = next
	return true
}

// Object is the metadata record of one stored file. It carries no reference
// to its bucket or key; those always travel alongside it.
type Object struct {
	Name     string // Logical, user-visible name; unique within its key
	FileName string // Physical on-disk name
	Size     int64
	Checksum string // Content digest, hex encoded
	SeenBy   []string
	TakenBy  string
	Created  Timestamp
	Modified Timestamp
	Accessed Timestamp
}

// Touch merges the timestamps of other into o, keeping the latest of each.
// It returns true if anything changed.
func (o *Object) Touch(other Object) bool {
	c := o.Created.Update(other.Created)
	m := o.Modified.Update(other.Modified)
	a := o.Accessed.Update(other.Accessed)
	return c || m || a
}

// clone returns a copy that shares no slices with o.
func (o Object) clone() Object {
	if o.SeenBy != nil {
		o.SeenBy = append([]string(nil), o.SeenBy...)
	}
	return o
}
