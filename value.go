package configstore

// Value is the opaque structured configuration payload: a tree of
// null/bool/number/string/list/map, represented the way bson.Marshal and
// bson.Unmarshal produce/consume it (maps become bson.M, lists become
// bson.A) so it can be hashed, compared and handed straight to whichever
// adapter.Adapter is wired in.
type Value = any

// IsNull reports whether v is configstore's notion of "absent":
// either the Go nil interface or an explicit bson/json null decoded as nil.
func IsNull(v Value) bool {
	return v == nil
}
