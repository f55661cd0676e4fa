package config

// ConfigBackend persists non-secret keys. Lookup returns values as decoded
// from JSON (string, float64 or bool) or as previously passed to Set; keys.go
// coerces them to each key's type.
type ConfigBackend interface {
	Lookup(key string) (val any, ok bool)
	Set(key string, val any) error
	Delete(key string) error
}
