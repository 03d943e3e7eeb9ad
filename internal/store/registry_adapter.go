package store

// RegistryBackend adapts a *Store to registry.Backend: the Registry
// depends on that narrow interface rather than on *Store directly, so
// the two packages don't import each other's concrete types. Store's
// ListDevices/ListChannels already return model.Device/model.Channel,
// so no field-by-field conversion is needed here; embedding *Store
// promotes every method registry.Backend requires unchanged.
type RegistryBackend struct {
	*Store
}
